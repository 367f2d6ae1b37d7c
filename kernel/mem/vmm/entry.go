package vmm

import "github.com/tdelabro/kernel-from-scratch/kernel/mem/pmm"

// PageTableEntryFlag describes one of the low 12 flag bits shared by page
// directory and page table entries.
type PageTableEntryFlag uint32

const (
	// FlagPresent indicates that the entry refers to a present frame.
	FlagPresent PageTableEntryFlag = 1 << 0

	// FlagRW indicates that the mapped region is writable. When absent the
	// region is read-only.
	FlagRW PageTableEntryFlag = 1 << 1

	// FlagUser indicates that the mapped region is accessible from ring 3.
	// When absent the region is only reachable from ring 0.
	FlagUser PageTableEntryFlag = 1 << 2
)

// frameAddrMask isolates the high 20 bits of an entry, i.e. the page-aligned
// physical frame address. flagMask isolates the low 12 flag bits.
const (
	frameAddrMask = 0xFFFFF000
	flagMask      = 0xFFF
)

// pageTableEntry is a single word in a page table: the high 20 bits encode a
// physical frame address, the low 12 bits encode flag bits.
type pageTableEntry uint32

// pageDirectoryEntry is a single word in a page directory: the high 20 bits
// encode the physical frame of a page table, the low 12 bits encode flags.
type pageDirectoryEntry uint32

// SetFlags sets the given flag bits without disturbing the encoded frame.
func (e *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*e = (*e &^ flagMask) | pageTableEntry(flags)
}

// ClearFlags clears the given flag bits without disturbing the encoded frame.
func (e *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*e &^= pageTableEntry(flags)
}

// HasFlags reports whether all of the given flags are set.
func (e pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return uint32(e)&uint32(flags) == uint32(flags)
}

// HasAnyFlag reports whether at least one of the given flags is set.
func (e pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return uint32(e)&uint32(flags) != 0
}

// SetFrame encodes frame's physical address into the entry's high 20 bits.
func (e *pageTableEntry) SetFrame(frame pmm.Frame) {
	*e = pageTableEntry(uint32(frame.Address())&frameAddrMask) | (*e &^ frameAddrMask)
}

// Frame decodes the physical frame encoded in the entry's high 20 bits.
func (e pageTableEntry) Frame() pmm.Frame {
	return pmm.FrameFromAddress(uintptr(uint32(e) & frameAddrMask))
}

// SetFlags sets the given flag bits without disturbing the encoded frame.
func (e *pageDirectoryEntry) SetFlags(flags PageTableEntryFlag) {
	*e = (*e &^ flagMask) | pageDirectoryEntry(flags)
}

// ClearFlags clears the given flag bits without disturbing the encoded frame.
func (e *pageDirectoryEntry) ClearFlags(flags PageTableEntryFlag) {
	*e &^= pageDirectoryEntry(flags)
}

// HasFlags reports whether all of the given flags are set.
func (e pageDirectoryEntry) HasFlags(flags PageTableEntryFlag) bool {
	return uint32(e)&uint32(flags) == uint32(flags)
}

// SetFrame encodes frame's physical address into the entry's high 20 bits.
func (e *pageDirectoryEntry) SetFrame(frame pmm.Frame) {
	*e = pageDirectoryEntry(uint32(frame.Address())&frameAddrMask) | (*e &^ frameAddrMask)
}

// Frame decodes the physical frame of the page table encoded in the entry's
// high 20 bits.
func (e pageDirectoryEntry) Frame() pmm.Frame {
	return pmm.FrameFromAddress(uintptr(uint32(e) & frameAddrMask))
}
