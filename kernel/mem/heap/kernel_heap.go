package heap

import (
	"github.com/tdelabro/kernel-from-scratch/kernel"
	"github.com/tdelabro/kernel-from-scratch/kernel/linker"
)

// KernelHeap is the kernel's own, process-wide heap. It is nil until
// InitKernelHeap runs, which must happen after the linker symbols table
// has been populated by the bootstrap stub.
var KernelHeap *Heap

// InitKernelHeap constructs the kernel heap starting right after the
// kernel image, in supervisor mode. Must be called exactly once, during
// bring-up, before the first call to Allocate/Free.
func InitKernelHeap() {
	start := linker.FirstPageAfterKernel
	if start&uintptr(pageMask) != 0 {
		start = (start &^ uintptr(pageMask)) + uintptr(pageMask) + 1
	}
	KernelHeap = New(start, true)
}

const pageMask = 0xFFF

// Allocate reserves size bytes from the kernel heap.
func Allocate(size uintptr) (uintptr, *kernel.Error) {
	return KernelHeap.Allocate(size)
}

// Free returns ptr, previously obtained from Allocate, to the kernel heap.
func Free(ptr uintptr) {
	KernelHeap.Free(ptr)
}
