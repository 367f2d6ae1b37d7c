package hal

import (
	"github.com/tdelabro/kernel-from-scratch/kernel/driver/tty"
	"github.com/tdelabro/kernel-from-scratch/kernel/driver/video/console"
	"github.com/tdelabro/kernel-from-scratch/kernel/hal/multiboot"
)

// Fallback EGA text-mode geometry and physical address, used when the
// bootloader did not supply a framebuffer info tag.
const (
	defaultEgaWidth    = 80
	defaultEgaHeight   = 25
	defaultEgaPhysAddr = 0xb8000
)

var (
	egaConsole = &console.Ega{}

	// ActiveTerminal points to the currently active terminal.
	ActiveTerminal = &tty.Vt{}
)

// InitTerminal provides a basic terminal to allow the kernel to emit some output
// till everything is properly setup
func InitTerminal() {
	width, height, physAddr := uint16(defaultEgaWidth), uint16(defaultEgaHeight), uintptr(defaultEgaPhysAddr)
	if fbInfo, ok := multiboot.FramebufferInfo(); ok {
		width, height, physAddr = uint16(fbInfo.Width), uint16(fbInfo.Height), uintptr(fbInfo.PhysAddr)
	}

	egaConsole.Init(width, height, physAddr)
	ActiveTerminal.AttachTo(egaConsole)
}
