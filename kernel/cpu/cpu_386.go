// Package cpu exposes the small set of privileged x86 instructions that the
// memory subsystem needs to drive the MMU and the segment/task registers.
// Each function below is declared without a body; its implementation lives
// in the matching .s file and is written in Plan 9 assembly, following the
// same split the rest of this codebase uses for architecture primitives
// that cannot be expressed in portable Go.
package cpu

// Halt stops instruction execution. Used as the terminal action of a kernel
// panic.
func Halt()

// EnablePaging loads CR3 with the physical address of the top-level page
// directory and sets the PG bit in CR0, turning on the MMU. It must only be
// called once, after the directory has been fully populated with the kernel,
// MMIO and boot-info mappings required to keep running without faulting on
// the very next fetched instruction.
func EnablePaging(pdtPhysAddr uintptr)

// FlushTLBEntry invalidates any cached translation for virtAddr.
func FlushTLBEntry(virtAddr uintptr)

// LoadGDT installs the supplied GDTR (base/limit pair already encoded by the
// caller) via LGDT and reloads every segment register: CS is reloaded with a
// far return to selector 0x08, SS/DS/ES/FS/GS take the selectors the caller
// passes in.
func LoadGDT(gdtr uintptr, ss, ds, es, fs, gs uint16)

// LoadTaskRegister loads the task register with the given selector via LTR.
func LoadTaskRegister(selector uint16)
