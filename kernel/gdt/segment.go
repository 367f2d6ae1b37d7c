// Package gdt builds and installs the flat Global Descriptor Table this
// kernel runs under: a null descriptor, matching code/data/stack
// descriptors for ring 0 and ring 3, and a Task State Segment descriptor
// used only to hold the ring-0 stack pointer for privilege-level switches.
package gdt

// Selector values, as loaded into a segment register or used as an index
// argument to LoadTaskRegister. The low 2 bits of a selector are the
// requested privilege level; ring-3 selectors below already carry it.
const (
	SelectorKernelCode  = 0x08
	SelectorKernelData  = 0x10
	SelectorKernelStack = 0x18
	SelectorUserCode    = 0x20 | 3
	SelectorUserData    = 0x28 | 3
	SelectorUserStack   = 0x30 | 3
	SelectorTSS         = 0x38
)

// Access byte and flag-nibble values for the descriptors this table
// installs. The flag nibble 0x0D sets granularity (4KiB units), the
// 32-bit default-operand-size bit and the software-available (AVL) bit on
// every non-system descriptor.
const (
	accessNull       = 0x00
	accessKernelCode = 0x9A
	accessKernelData = 0x92
	accessKernelStack = 0x96
	accessUserCode   = 0xFE
	accessUserData   = 0xF2
	accessUserStack  = 0xF6
	accessTSS        = 0xE9

	flagsPage32 = 0x0D
	flagsByte   = 0x00
)

// SegmentDescriptor is a single 8-byte GDT entry, laid out exactly as the
// CPU expects: a 20-bit limit and 32-bit base split across non-contiguous
// fields, an access byte and a 4-bit flags nibble sharing a byte with the
// limit's top bits.
type SegmentDescriptor struct {
	limitLow    uint16
	baseLow     uint16
	baseMid     uint8
	access      uint8
	limitHighFlags uint8
	baseHigh    uint8
}

// NewSegmentDescriptor packs base, limit, access and flags into the format
// the CPU reads GDT/LDT entries in. flags occupies the low nibble of its
// argument (G, D/B, L, AVL from high to low bit).
func NewSegmentDescriptor(base, limit uint32, access, flags uint8) SegmentDescriptor {
	return SegmentDescriptor{
		limitLow:       uint16(limit & 0xFFFF),
		baseLow:        uint16(base & 0xFFFF),
		baseMid:        uint8((base >> 16) & 0xFF),
		access:         access,
		limitHighFlags: uint8((limit>>16)&0x0F) | (flags&0x0F)<<4,
		baseHigh:       uint8((base >> 24) & 0xFF),
	}
}
