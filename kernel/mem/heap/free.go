package heap

import "github.com/tdelabro/kernel-from-scratch/kernel/mem"

// insertFree links chunkAddr into the free list, merging it with any
// free neighbor whose address range is directly contiguous with it.
func (h *Heap) insertFree(chunkAddr uintptr) {
	c := h.chunkAt(chunkAddr)

	if !h.hasFreeList {
		c.next, c.prev = chunkAddr, chunkAddr
		h.freeList, h.hasFreeList = chunkAddr, true
		return
	}

	start := h.freeList
	startChunk := h.chunkAt(start)

	if startChunk.next == start {
		// Singleton free list.
		switch {
		case start+startChunk.size == chunkAddr:
			startChunk.size += c.size
		case chunkAddr+c.size == start:
			c.next, c.prev = chunkAddr, chunkAddr
			c.size += startChunk.size
			h.freeList = chunkAddr
		default:
			startChunk.next, startChunk.prev = chunkAddr, chunkAddr
			c.next, c.prev = start, start
		}
		return
	}

	// Multi-node list: find the predecessor p such that chunkAddr falls
	// strictly between p and p.next, wrapping around the highest node.
	p := start
	for {
		pChunk := h.chunkAt(p)
		pNext := pChunk.next
		inOrder := p < chunkAddr && chunkAddr < pNext
		wrapsAround := p > pNext && (chunkAddr > p || chunkAddr < pNext)
		if inOrder || wrapsAround {
			break
		}
		p = pNext
	}

	h.spliceAfter(p, chunkAddr)
}

// spliceAfter links chunkAddr in immediately after p, coalescing with
// p.next and/or p when their address ranges are contiguous.
func (h *Heap) spliceAfter(p, chunkAddr uintptr) {
	pChunk := h.chunkAt(p)
	c := h.chunkAt(chunkAddr)
	pNextAddr := pChunk.next
	pNext := h.chunkAt(pNextAddr)

	if chunkAddr+c.size == pNextAddr {
		c.size += pNext.size
		c.next = pNext.next
		h.chunkAt(c.next).prev = chunkAddr
		if h.freeList == pNextAddr {
			h.freeList = chunkAddr
		}
	} else {
		c.next = pNextAddr
		pNext.prev = chunkAddr
	}

	if p+pChunk.size == chunkAddr {
		pChunk.size += c.size
		pChunk.next = c.next
		h.chunkAt(pChunk.next).prev = p
		if h.freeList == chunkAddr {
			h.freeList = p
		}
		return
	}

	c.prev = p
	pChunk.next = chunkAddr
}

// maybeShrink releases the topmost free chunk back to grow(-PAGE) in
// whole-page steps as long as it still spans more than a page.
func (h *Heap) maybeShrink() {
	if !h.hasFreeList || !h.isTopmost(h.freeList) {
		return
	}

	for {
		head := h.chunkAt(h.freeList)
		if head.size <= uintptr(mem.PageSize) || h.freeList+head.size != h.brk {
			return
		}
		if _, err := h.shrink(uintptr(mem.PageSize)); err != nil {
			return
		}
		head.size -= uintptr(mem.PageSize)
	}
}

// isTopmost reports whether addr's free-list successor chain loops back
// to addr without ever passing through a chunk at a higher address,
// i.e. addr is the last (highest) region before the heap's break.
func (h *Heap) isTopmost(addr uintptr) bool {
	cur := addr
	for {
		next := h.chunkAt(cur).next
		if next == addr {
			return true
		}
		if next > addr {
			return false
		}
		cur = next
	}
}
