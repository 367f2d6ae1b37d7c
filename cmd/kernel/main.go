package main

import "github.com/tdelabro/kernel-from-scratch/kernel/kmain"

// magic and bootInfoPtr are populated by the bootstrap stub before it jumps
// into Go code: magic is the Multiboot2 handoff value the bootloader leaves
// in EAX, bootInfoPtr the physical address of the info block it leaves in
// EBX.
var (
	magic       uint32
	bootInfoPtr uintptr
)

// main is a trampoline for the real kernel entrypoint, kmain.Kmain. It
// exists only to stop the Go compiler from eliding that call: main is the
// single exported symbol the bootstrap stub jumps to, so as far as the
// compiler can tell nothing else in the program is reachable from it.
// Reading the handoff values through package-level variables instead of
// passing literals keeps the call from being inlined away too.
//
// main is not expected to return. If it does, the bootstrap stub halts
// the CPU.
func main() {
	kmain.Kmain(magic, bootInfoPtr)
}
