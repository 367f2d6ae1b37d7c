// Package vmm implements 32-bit two-level paging: a page directory of 1024
// entries, each pointing to a page table of 1024 entries, each pointing to a
// 4KiB frame. Before paging is enabled, the directory and its tables are
// reached through their physical (identity-mapped) addresses; once enabled,
// they are reached through the recursive mapping installed at directory
// entry 1023.
package vmm

import (
	"unsafe"

	"github.com/tdelabro/kernel-from-scratch/kernel"
	"github.com/tdelabro/kernel-from-scratch/kernel/cpu"
	"github.com/tdelabro/kernel-from-scratch/kernel/mem"
	"github.com/tdelabro/kernel-from-scratch/kernel/mem/pmm"
)

const (
	// recursiveDirIndex is the directory entry reserved for the recursive
	// self-mapping trick; virt must stay below its address range.
	recursiveDirIndex = 1023

	// recursiveDirAddr is the linear address the directory is reachable
	// at once the recursive entry has been installed and paging enabled:
	// 0x3FF<<22 | 0x3FF<<12.
	recursiveDirAddr = 0xFFFFF000

	// recursiveTableBase is the linear address of table 0 once paging is
	// enabled; table i sits at recursiveTableBase + i*PageSize.
	recursiveTableBase = 0xFFC00000
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

// ErrInvalidMapping is returned by Unmap when the supplied page has no
// mapping to tear down.
var ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "no mapping exists for this page"}

// errVirtAddrReserved is returned by Map when the caller attempts to map a
// virtual address at or above the reserved recursive-mapping region.
var errVirtAddrReserved = &kernel.Error{Module: "vmm", Message: "virtual address falls in the reserved recursive-mapping region"}

var (
	dirPhysAddr   uintptr
	pagingEnabled bool

	frameAllocator FrameAllocatorFn

	// The following are overridden by tests and inlined by the compiler
	// when building the kernel.
	enablePagingFn  = cpu.EnablePaging
	flushTLBEntryFn = cpu.FlushTLBEntry

	// dirPtrFn/tablePtrFn resolve a directory/table address to a pointer.
	// Tests override these to back the directory and tables with ordinary
	// Go arrays instead of dereferencing real physical/recursive
	// addresses.
	dirPtrFn   = func(addr uintptr) unsafe.Pointer { return unsafe.Pointer(addr) }
	tablePtrFn = func(addr uintptr) unsafe.Pointer { return unsafe.Pointer(addr) }
)

// SetFrameAllocator registers the function Map uses to obtain physical
// frames for new page tables.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}

// directory returns a pointer to the 1024-entry page directory, using
// whichever addressing mode (physical or recursive) is currently active.
func directory() *[1024]pageDirectoryEntry {
	addr := dirPhysAddr
	if pagingEnabled {
		addr = recursiveDirAddr
	}
	return (*[1024]pageDirectoryEntry)(dirPtrFn(addr))
}

// table returns a pointer to the 1024-entry page table installed at
// directory slot dirIndex, using whichever addressing mode is active. phys
// is the table's physical address as read from the directory entry; it is
// only used in the pre-paging (identity-mapped) mode.
func table(dirIndex uint32, phys uintptr) *[1024]pageTableEntry {
	addr := phys
	if pagingEnabled {
		addr = recursiveTableBase + uintptr(dirIndex)<<mem.PageShift
	}
	return (*[1024]pageTableEntry)(tablePtrFn(addr))
}

// Init creates a fresh page directory at dirFrame's physical address: every
// entry is cleared and the recursive self-mapping is installed at entry
// 1023. dirFrame must already be reserved in the bitmap and, since this runs
// before paging is enabled, accessible via its physical address.
func Init(dirFrame pmm.Frame) {
	dirPhysAddr = dirFrame.Address()
	pagingEnabled = false

	dir := directory()
	for i := range dir {
		dir[i] = 0
	}

	dir[recursiveDirIndex].SetFrame(dirFrame)
	dir[recursiveDirIndex].SetFlags(FlagPresent | FlagRW)
}

// SetEntry writes directory slot index with the given frame and flags.
// index must not be the reserved recursive slot.
func SetEntry(index uint32, frame pmm.Frame, flags PageTableEntryFlag) {
	dir := directory()
	dir[index] = 0
	dir[index].SetFrame(frame)
	dir[index].SetFlags(flags)
}

// EnablePaging loads CR3 with the directory's physical address, sets CR0.PG
// and switches every subsequent directory/table access over to the
// recursive addressing mode.
func EnablePaging() {
	enablePagingFn(dirPhysAddr)
	pagingEnabled = true
}

// PagingEnabled reports whether EnablePaging has run.
func PagingEnabled() bool {
	return pagingEnabled
}

// Map establishes a mapping from the page containing virt to the frame
// starting at phys. Both addresses must be 4KiB-aligned and virt must fall
// below the reserved recursive-mapping region (0xFFC00000). If the
// directory entry covering virt is not yet present, a fresh page table is
// allocated from the bitmap and zero-initialized.
func Map(phys, virt uintptr, flags PageTableEntryFlag) *kernel.Error {
	if !mem.IsAligned(phys) || !mem.IsAligned(virt) {
		kernel.Panic(&kernel.Error{Module: "vmm", Message: "Map called with a non-page-aligned address"})
	}
	if virt >= recursiveTableBase {
		return errVirtAddrReserved
	}

	dirIndex := uint32(virt >> 22)
	tblIndex := uint32((virt >> 12) & 0x3FF)

	dir := directory()
	if !dir[dirIndex].HasFlags(FlagPresent) {
		newTableFrame, err := frameAllocator()
		if err != nil {
			return err
		}

		dir[dirIndex] = 0
		dir[dirIndex].SetFrame(newTableFrame)
		dir[dirIndex].SetFlags(FlagPresent | FlagRW)

		tbl := table(dirIndex, newTableFrame.Address())
		for i := range tbl {
			tbl[i] = 0
		}
	}

	tbl := table(dirIndex, dir[dirIndex].Frame().Address())
	if tbl[tblIndex].HasFlags(FlagPresent) {
		kernel.Panic(&kernel.Error{Module: "vmm", Message: "Map called on an already-present page table entry"})
	}

	tbl[tblIndex] = 0
	tbl[tblIndex].SetFrame(pmm.FrameFromAddress(phys))
	tbl[tblIndex].SetFlags(FlagPresent | flags)
	flushTLBEntryFn(virt)

	return nil
}

// Unmap tears down the mapping previously installed at virt, freeing its
// underlying frame back to the bitmap. It does not free the page table
// itself even if it becomes entirely empty.
func Unmap(virt uintptr) *kernel.Error {
	dirIndex := uint32(virt >> 22)
	tblIndex := uint32((virt >> 12) & 0x3FF)

	dir := directory()
	if !dir[dirIndex].HasFlags(FlagPresent) {
		return ErrInvalidMapping
	}

	tbl := table(dirIndex, dir[dirIndex].Frame().Address())
	if !tbl[tblIndex].HasFlags(FlagPresent) {
		return ErrInvalidMapping
	}

	frame := tbl[tblIndex].Frame()
	tbl[tblIndex] = 0

	flushTLBEntryFn(virt)

	if err := pmm.Free(frame); err != nil {
		return err
	}

	return nil
}

// Translate returns the physical address virt currently maps to.
func Translate(virt uintptr) (uintptr, *kernel.Error) {
	dirIndex := uint32(virt >> 22)
	tblIndex := uint32((virt >> 12) & 0x3FF)

	dir := directory()
	if !dir[dirIndex].HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	tbl := table(dirIndex, dir[dirIndex].Frame().Address())
	if !tbl[tblIndex].HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	return tbl[tblIndex].Frame().Address() | (virt & uintptr(mem.PageSize-1)), nil
}
