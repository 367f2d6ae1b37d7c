// Package kmain sequences the kernel's memory-management bring-up: parse
// the bootloader's Multiboot2 info block, build the physical frame bitmap,
// install the GDT/TSS (reserving its own frames in that bitmap), stand up
// the page directory and enable paging, and leave the kernel heap ready to
// grow lazily on first use.
package kmain

import (
	"github.com/tdelabro/kernel-from-scratch/kernel"
	"github.com/tdelabro/kernel-from-scratch/kernel/gdt"
	"github.com/tdelabro/kernel-from-scratch/kernel/hal"
	"github.com/tdelabro/kernel-from-scratch/kernel/hal/multiboot"
	"github.com/tdelabro/kernel-from-scratch/kernel/linker"
	"github.com/tdelabro/kernel-from-scratch/kernel/mem"
	"github.com/tdelabro/kernel-from-scratch/kernel/mem/heap"
	"github.com/tdelabro/kernel-from-scratch/kernel/mem/pmm"
	"github.com/tdelabro/kernel-from-scratch/kernel/mem/vmm"
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
var errDoubleInit = &kernel.Error{Module: "kmain", Message: "Kmain called more than once"}

var initialized bool

// Kmain is the kernel's single Go entrypoint, called by cmd/kernel's
// trampoline main() once the bootstrap stub has set up a stack, populated
// the kernel/linker symbol table, and jumped into Go code. magic and
// bootInfoPtr are exactly what a Multiboot2-compliant bootloader leaves
// in EAX/EBX.
//
// Kmain is not expected to return. If it does, the bootstrap stub halts
// the CPU.
//
//go:noinline
func Kmain(magic uint32, bootInfoPtr uintptr) {
	if initialized {
		kernel.Panic(errDoubleInit)
	}
	initialized = true

	if err := multiboot.Init(magic, bootInfoPtr); err != nil {
		panic(err)
	}

	hal.InitTerminal()
	hal.ActiveTerminal.Clear()

	if err := pmm.Init(); err != nil {
		panic(err)
	}

	if err := gdt.Init(linker.StackHigh); err != nil {
		panic(err)
	}

	dirFrame, err := pmm.AllocFrame()
	if err != nil {
		panic(err)
	}
	vmm.Init(dirFrame)
	vmm.SetFrameAllocator(pmm.AllocFrame)

	if err := identityMapKernelAndBootInfo(bootInfoPtr); err != nil {
		panic(err)
	}
	vmm.EnablePaging()

	heap.InitKernelHeap()

	// Use kernel.Panic instead of panic to prevent the compiler from
	// treating kernel.Panic as dead-code and eliminating it.
	kernel.Panic(errKmainReturned)
}

// identityMapKernelAndBootInfo installs phys==virt mappings for every
// page the kernel image occupies, for the pages holding the GDT and TSS,
// and for the page holding the Multiboot2 info block, so all of them
// remain reachable by the same address once paging is turned on. The
// console framebuffer is not mapped here. Map only wires a page table
// entry to a physical frame; it
// never consults the bitmap about the target frame, so each frame is
// reserved explicitly first to keep it from being handed out again later.
func identityMapKernelAndBootInfo(bootInfoPtr uintptr) *kernel.Error {
	pageSize := uintptr(mem.PageSize)
	start := linker.KernelStart &^ (pageSize - 1)

	for addr := start; addr < linker.KernelEnd; addr += pageSize {
		if err := identityMapPage(addr); err != nil {
			return err
		}
	}

	gdtStart, gdtEnd := gdt.TableBase&^(pageSize-1), gdt.TableBase+gdt.TableSpan
	for addr := gdtStart; addr < gdtEnd; addr += pageSize {
		if err := identityMapPage(addr); err != nil {
			return err
		}
	}

	bootInfoPage := bootInfoPtr &^ (pageSize - 1)
	if bootInfoPage >= start && bootInfoPage < linker.KernelEnd {
		return nil
	}
	if bootInfoPage >= gdtStart && bootInfoPage < gdtEnd {
		return nil
	}
	return identityMapPage(bootInfoPage)
}

func identityMapPage(addr uintptr) *kernel.Error {
	if err := pmm.AllocSpecific(pmm.FrameFromAddress(addr)); err != nil && err != pmm.ErrFrameAlreadyInUse {
		return err
	}
	return vmm.Map(addr, addr, vmm.FlagRW)
}
