// Package hal wires the boot console to the hardware described by the boot
// loader.
package hal

import (
	"github.com/Nanoteck137/nano-os/kernel/driver/tty"
	"github.com/Nanoteck137/nano-os/kernel/driver/video/console"
	"github.com/Nanoteck137/nano-os/multiboot"
)

// AttachTerminal initializes cons using the framebuffer set up by the boot
// loader and attaches vt to it. If the boot loader did not set up an EGA
// text-mode framebuffer, the legacy 80x25 text buffer is used instead.
func AttachTerminal(vt *tty.Vt, cons *console.Ega) {
	var (
		width, height uint16 = console.LegacyWidth, console.LegacyHeight
		fbAddr               = console.LegacyFbAddr
	)

	if fbInfo := multiboot.GetFramebufferInfo(); fbInfo != nil && fbInfo.Type == multiboot.FramebufferTypeEGA {
		width, height = uint16(fbInfo.Width), uint16(fbInfo.Height)
		fbAddr = uintptr(fbInfo.PhysAddr)
	}

	cons.Init(width, height, fbAddr)
	vt.AttachTo(cons)
}
