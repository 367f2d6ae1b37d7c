// Package pmm implements the kernel's physical frame allocator: a single
// flat bitmap, one bit per 4KiB frame, covering the entire 32-bit physical
// address space.
package pmm

import (
	"math"

	"github.com/tdelabro/kernel-from-scratch/kernel/mem"
)

// Frame describes a physical memory page index (not a byte address).
type Frame uint32

// InvalidFrame is returned by allocation functions that fail to reserve a
// frame.
const InvalidFrame = Frame(math.MaxUint32)

// IsValid returns true if this is not the sentinel InvalidFrame value.
func (f Frame) IsValid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte of this frame.
func (f Frame) Address() uintptr {
	return uintptr(f) << mem.PageShift
}

// FrameFromAddress returns the frame that contains addr. addr need not be
// page-aligned; the returned frame is the one addr falls inside.
func FrameFromAddress(addr uintptr) Frame {
	return Frame(addr >> mem.PageShift)
}
