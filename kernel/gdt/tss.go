package gdt

// tss is a 32-bit Task State Segment. This kernel never performs a
// hardware task switch; the only fields that matter are ss0/esp0, which
// the CPU loads into SS/ESP whenever an interrupt or call gate raises the
// privilege level from ring 3 to ring 0.
type tss struct {
	linkPrev, linkPrevHigh uint16
	esp0                   uint32
	ss0, ss0High           uint16
	esp1                   uint32
	ss1, ss1High           uint16
	esp2                   uint32
	ss2, ss2High           uint16
	cr3                    uint32
	eip                    uint32
	eflags                 uint32
	eax, ecx, edx, ebx     uint32
	esp, ebp, esi, edi     uint32
	es, esHigh             uint16
	cs, csHigh             uint16
	ss, ssHigh             uint16
	ds, dsHigh             uint16
	fs, fsHigh             uint16
	gs, gsHigh             uint16
	ldtr, ldtrHigh         uint16
	trap, iopbOffset       uint16
}

// newTSS builds a TSS whose ring-0 stack is esp0/ss0 = kernelStack/
// SelectorKernelStack; every other field is left at its CPU-ignored
// default. iopbOffset points past the end of the structure, disabling the
// I/O permission bitmap entirely.
func newTSS(kernelStack uint32) tss {
	return tss{
		esp0:        kernelStack,
		ss0:         SelectorKernelStack,
		iopbOffset:  uint16(tssSize),
	}
}

const tssSize = 104
