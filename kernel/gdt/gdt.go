package gdt

import (
	"unsafe"

	"github.com/tdelabro/kernel-from-scratch/kernel"
	"github.com/tdelabro/kernel-from-scratch/kernel/cpu"
	"github.com/tdelabro/kernel-from-scratch/kernel/mem"
	"github.com/tdelabro/kernel-from-scratch/kernel/mem/pmm"
)

// TableBase is the physical (and, before paging, linear) address the
// table is installed at. It must be reserved in the frame bitmap and
// identity-mapped before paging is enabled.
const TableBase uintptr = 0x800

// TableSpan is the number of bytes from TableBase the descriptor table
// and its trailing TSS occupy; callers identity-map this whole span.
const TableSpan = unsafe.Sizeof(table) + tssSize

const tableLen = 8

// table mirrors the layout original_source/gdt/mod.rs documents:
// 0 null, 1 kernel code, 2 kernel data, 3 kernel stack, 4 user code,
// 5 user data, 6 user stack, 7 the TSS.
var table [tableLen]SegmentDescriptor

var taskState tss

// gdtr is the 48-bit pseudo-descriptor LGDT reads: a 16-bit limit
// (table size in bytes, minus one) followed by the table's 32-bit base.
// The base is stored as two 16-bit halves so the struct has no padding
// between limit and base.
type gdtr struct {
	limit    uint16
	baseLow  uint16
	baseHigh uint16
}

// loadGDTFn/loadTaskRegisterFn are overridden by tests; in the kernel
// build they are cpu.LoadGDT/cpu.LoadTaskRegister, which reload every
// segment register via a far return and an LTR instruction.
var (
	loadGDTFn          = cpu.LoadGDT
	loadTaskRegisterFn = cpu.LoadTaskRegister
)

// reserveFrameFn is overridden by tests; in the kernel build it reserves
// the specific frames backing TableBase in the bitmap singleton, since
// Init always runs before paging is enabled.
var reserveFrameFn = pmm.AllocSpecific

// installFn copies the table and TSS into physical memory at TableBase,
// the TSS immediately following the table. Overridden by tests; in the
// kernel build it is a raw memory copy since TableBase is
// identity-mapped at this point in bring-up.
var installFn = func() {
	dst := (*[tableLen]SegmentDescriptor)(unsafe.Pointer(TableBase))
	*dst = table

	tssDst := (*tss)(unsafe.Pointer(TableBase + unsafe.Sizeof(table)))
	*tssDst = taskState
}

// Init builds the flat GDT and the single TSS this kernel uses, installs
// them at TableBase, and loads the CPU's GDTR and task register. kernelStack
// is the top of the ring-0 stack the CPU switches to on a privilege-level
// change; it becomes the TSS's esp0.
func Init(kernelStack uintptr) *kernel.Error {
	if kernelStack == 0 {
		return errNoKernelStack
	}

	if err := reserveTableFrames(); err != nil {
		return err
	}

	taskState = newTSS(uint32(kernelStack))
	tssAddr := uint32(TableBase) + uint32(unsafe.Sizeof(table))

	table = [tableLen]SegmentDescriptor{
		NewSegmentDescriptor(0, 0, accessNull, flagsByte),
		NewSegmentDescriptor(0, 0xFFFFF, accessKernelCode, flagsPage32),
		NewSegmentDescriptor(0, 0xFFFFF, accessKernelData, flagsPage32),
		NewSegmentDescriptor(0, 0, accessKernelStack, flagsPage32),
		NewSegmentDescriptor(0, 0xFFFFF, accessUserCode, flagsPage32),
		NewSegmentDescriptor(0, 0xFFFFF, accessUserData, flagsPage32),
		NewSegmentDescriptor(0, 0, accessUserStack, flagsPage32),
		NewSegmentDescriptor(tssAddr, tssSize-1, accessTSS, flagsByte),
	}

	installFn()

	reg := gdtr{
		limit:    uint16(tableLen*8 - 1),
		baseLow:  uint16(TableBase & 0xFFFF),
		baseHigh: uint16(TableBase >> 16),
	}
	loadGDTFn(uintptr(unsafe.Pointer(&reg)), SelectorKernelStack, SelectorKernelData, SelectorKernelData, SelectorKernelData, SelectorKernelData)
	loadTaskRegisterFn(SelectorTSS)

	return nil
}

// reserveTableFrames marks every frame TableBase..TableBase+TableSpan
// spans as permanently in use, identity memory for a region the CPU
// reads directly by physical address regardless of paging state.
func reserveTableFrames() *kernel.Error {
	pageSize := uintptr(mem.PageSize)
	first := TableBase &^ (pageSize - 1)
	last := (TableBase + TableSpan - 1) &^ (pageSize - 1)

	for addr := first; addr <= last; addr += pageSize {
		if err := reserveFrameFn(pmm.FrameFromAddress(addr)); err != nil && err != pmm.ErrFrameAlreadyInUse {
			return err
		}
	}
	return nil
}

var errNoKernelStack = &kernel.Error{Module: "gdt", Message: "Init called with a zero kernel stack address"}
