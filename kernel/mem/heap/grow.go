package heap

import (
	"github.com/tdelabro/kernel-from-scratch/kernel"
	"github.com/tdelabro/kernel-from-scratch/kernel/mem"
	"github.com/tdelabro/kernel-from-scratch/kernel/mem/pmm"
	"github.com/tdelabro/kernel-from-scratch/kernel/mem/vmm"
)

func defaultMapFn(phys, virt uintptr, flags uint32) *kernel.Error {
	return vmm.Map(phys, virt, vmm.PageTableEntryFlag(flags))
}

func defaultUnmapFn(virt uintptr) *kernel.Error {
	return vmm.Unmap(virt)
}

func defaultPagingEnabledFn() bool {
	return vmm.PagingEnabled()
}

// grow moves brk forward by however many whole pages cover required
// bytes, turns the newly-won range into a free chunk and merges it into
// the free list, and returns the address of the (possibly merged) chunk
// the caller should retry its allocation against.
func (h *Heap) grow(required uintptr) (uintptr, *kernel.Error) {
	oldBrk, err := h.sbrk(required, true)
	if err != nil {
		return 0, err
	}

	nc := h.chunkAt(oldBrk)
	nc.size = h.brk - oldBrk
	h.insertFree(oldBrk)

	// Every other free chunk was already too small, so the first fit is
	// the chunk that now covers oldBrk.
	if addr, ok := h.findBlock(required); ok {
		return addr, nil
	}
	return 0, ErrOutOfMemory
}

// shrink moves brk back by however many whole pages cover amount bytes,
// unmapping (or, before paging, directly freeing) each page as it goes.
func (h *Heap) shrink(amount uintptr) (uintptr, *kernel.Error) {
	return h.sbrk(amount, false)
}

// sbrk advances (growing=true) or retreats (growing=false) brk by
// however many whole pages cover deltaBytes, backing or releasing each
// page's physical frame as it goes. It returns the value brk held
// before the call.
func (h *Heap) sbrk(deltaBytes uintptr, growing bool) (uintptr, *kernel.Error) {
	if !h.brkValid {
		h.brk = h.start
		h.brkValid = true
	}
	oldBrk := h.brk

	pageSize := uintptr(mem.PageSize)
	pages := (deltaBytes + pageSize - 1) / pageSize

	for i := uintptr(0); i < pages; i++ {
		if growing {
			if h.pagingEnabledFn() {
				frame, err := h.frameAllocFn()
				if err != nil {
					return 0, err
				}
				flags := uint32(userFlags)
				if h.supervisor {
					flags = supervisorFlags
				}
				if err := h.mapFn(frame.Address(), h.brk, flags); err != nil {
					return 0, err
				}
			} else {
				if err := h.reserveFrameFn(pmm.FrameFromAddress(h.brk)); err != nil {
					return 0, err
				}
			}
			h.brk += pageSize
			continue
		}

		newBrk := h.brk - pageSize
		if h.pagingEnabledFn() {
			if err := h.unmapFn(newBrk); err != nil {
				return 0, err
			}
		} else {
			if err := h.freeFrameFn(pmm.FrameFromAddress(newBrk)); err != nil {
				return 0, err
			}
		}
		h.brk = newBrk
	}

	return oldBrk, nil
}

// Release shrinks the heap all the way back to its starting address,
// one page at a time. Intended to be called when a non-singleton heap
// (e.g. a per-process user heap) is torn down.
func (h *Heap) Release() {
	h.lock.Acquire()
	defer h.lock.Release()

	for h.brkValid && h.brk > h.start {
		if _, err := h.shrink(uintptr(mem.PageSize)); err != nil {
			return
		}
	}
}
