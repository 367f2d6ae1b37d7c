// Package heap implements a circular doubly-linked free-list allocator
// whose address range grows and shrinks in page-sized steps, backed by
// the physical frame bitmap and the page directory. It is deliberately
// small: first-fit placement, a 3-word chunk header and an
// address-ordered free list that merges with both neighbors on free.
package heap

import (
	"unsafe"

	"github.com/tdelabro/kernel-from-scratch/kernel"
	"github.com/tdelabro/kernel-from-scratch/kernel/mem"
	"github.com/tdelabro/kernel-from-scratch/kernel/mem/pmm"
	ksync "github.com/tdelabro/kernel-from-scratch/kernel/sync"
)

// ErrOutOfMemory is returned when an allocation cannot be satisfied even
// after growing the heap.
var ErrOutOfMemory = &kernel.Error{Module: "heap", Message: "unable to satisfy allocation"}

// supervisorFlags/userFlags are the page-table flags grow() maps new
// pages with, chosen by the heap's supervisor setting.
const (
	supervisorFlags = 0x3 // present | read-write, ring 0 only
	userFlags       = 0x7 // present | read-write | user
)

// mapFn/unmapFn/pagingEnabledFn abstract over kernel/mem/vmm so tests can
// supply a host-backed stand-in; New wires them to vmm by default.
// frameAllocFn/reserveFrameFn/freeFrameFn abstract over kernel/mem/pmm the
// same way.
type (
	mapPageFn       func(phys, virt uintptr, flags uint32) *kernel.Error
	unmapPageFn     func(virt uintptr) *kernel.Error
	pagingEnabledFn func() bool
	allocFrameFn    func() (pmm.Frame, *kernel.Error)
	reserveFrameFn  func(pmm.Frame) *kernel.Error
	releaseFrameFn  func(pmm.Frame) *kernel.Error
)

// Heap is one independently-lockable free-list arena. The zero value is
// not ready to use; construct one with New.
type Heap struct {
	lock ksync.Spinlock

	start      uintptr
	brk        uintptr
	brkValid   bool
	supervisor bool

	freeList    uintptr
	hasFreeList bool

	chunkPtrFn func(uintptr) unsafe.Pointer

	mapFn           mapPageFn
	unmapFn         unmapPageFn
	pagingEnabledFn pagingEnabledFn
	frameAllocFn    allocFrameFn
	reserveFrameFn  reserveFrameFn
	freeFrameFn     releaseFrameFn
}

// New creates a heap that will grow starting at start (page-aligned).
// supervisor selects the page-table flags future growth maps pages with:
// ring-0-only when true, user-accessible when false.
func New(start uintptr, supervisor bool) *Heap {
	return &Heap{
		start:           start,
		supervisor:      supervisor,
		chunkPtrFn:      func(addr uintptr) unsafe.Pointer { return unsafe.Pointer(addr) },
		mapFn:           defaultMapFn,
		unmapFn:         defaultUnmapFn,
		pagingEnabledFn: defaultPagingEnabledFn,
		frameAllocFn:    pmm.AllocFrame,
		reserveFrameFn:  pmm.AllocSpecific,
		freeFrameFn:     pmm.Free,
	}
}

// Allocate reserves at least size bytes and returns the address of the
// first usable byte. It grows the heap by whole pages when no free chunk
// is large enough.
func (h *Heap) Allocate(size uintptr) (uintptr, *kernel.Error) {
	h.lock.Acquire()
	defer h.lock.Release()

	required := size + chunkHeaderSize

	fitAddr, ok := h.findBlock(required)
	if !ok {
		grown, err := h.grow(required)
		if err != nil {
			return 0, err
		}
		fitAddr = grown
	}

	fit := h.chunkAt(fitAddr)
	remainder := fit.size - required

	if remainder > chunkHeaderSize {
		residualAddr := fitAddr + required
		residual := h.chunkAt(residualAddr)
		residual.size = remainder

		if fit.next == fitAddr {
			residual.next = residualAddr
			residual.prev = residualAddr
		} else {
			h.spliceIn(fitAddr, residualAddr)
		}
		fit.size = required
		h.freeList, h.hasFreeList = residualAddr, true
	} else {
		h.removeFromList(fitAddr)
	}

	return h.payloadOf(fitAddr), nil
}

// Free returns the chunk containing ptr (a value previously returned by
// Allocate) to the free list, merging it with any contiguous neighbor,
// and shrinks the heap if the topmost chunk has grown past a full page.
func (h *Heap) Free(ptr uintptr) {
	h.lock.Acquire()
	defer h.lock.Release()

	chunkAddr := h.chunkFromPayload(ptr)
	h.insertFree(chunkAddr)
	h.maybeShrink()
}

// findBlock walks the free list for at most one revolution looking for
// the first chunk whose size is at least required.
func (h *Heap) findBlock(required uintptr) (uintptr, bool) {
	if !h.hasFreeList {
		return 0, false
	}

	start := h.freeList
	cur := start
	for {
		c := h.chunkAt(cur)
		if c.size >= required {
			return cur, true
		}
		cur = c.next
		if cur == start {
			return 0, false
		}
	}
}

// removeFromList unlinks addr from the free list entirely, for the
// no-split allocation path.
func (h *Heap) removeFromList(addr uintptr) {
	c := h.chunkAt(addr)
	if c.next == addr {
		h.hasFreeList = false
		h.freeList = 0
		return
	}

	prev, next := h.chunkAt(c.prev), h.chunkAt(c.next)
	prev.next = c.next
	next.prev = c.prev
	if h.freeList == addr {
		h.freeList = c.next
	}
}

// spliceIn replaces old (still linked into the free list) with a
// freshly-carved residual chunk at the same position, preserving its
// neighbors.
func (h *Heap) spliceIn(old, residual uintptr) {
	o := h.chunkAt(old)
	r := h.chunkAt(residual)
	r.next, r.prev = o.next, o.prev

	h.chunkAt(o.next).prev = residual
	h.chunkAt(o.prev).next = residual

	if h.freeList == old {
		h.freeList = residual
	}
}
