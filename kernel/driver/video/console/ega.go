package console

import "unsafe"

const (
	// LegacyFbAddr is the physical address of the text-mode framebuffer on
	// PC-compatible machines.
	LegacyFbAddr = uintptr(0xB8000)

	// LegacyWidth and LegacyHeight are the dimensions of the text-mode
	// framebuffer found at LegacyFbAddr.
	LegacyWidth  = 80
	LegacyHeight = 25

	clearChar = byte(' ')
)

// Ega implements an EGA-compatible text console that writes directly to the
// framebuffer memory. Each cell is a 16-bit value with the character in the
// low byte and the color attribute in the high byte.
//
// Ega performs no locking; callers serialize access through the tty that
// owns it.
type Ega struct {
	width  uint16
	height uint16

	fb []uint16
}

// Init sets up the console to use the framebuffer at fbPhysAddr.
func (cons *Ega) Init(width, height uint16, fbPhysAddr uintptr) {
	cons.width = width
	cons.height = height
	cons.fb = unsafe.Slice((*uint16)(unsafe.Pointer(fbPhysAddr)), int(width)*int(height))
}

// Dimensions returns the console width and height in characters.
func (cons *Ega) Dimensions() (uint16, uint16) {
	return cons.width, cons.height
}

// Clear fills the specified rectangular region with blanks drawn using the
// supplied background color. The region is clipped to the console bounds.
func (cons *Ega) Clear(x, y, width, height uint16, bg Attr) {
	if x >= cons.width || y >= cons.height {
		return
	}

	if x+width > cons.width {
		width = cons.width - x
	}
	if y+height > cons.height {
		height = cons.height - y
	}

	blank := uint16(MakeAttr(bg, bg))<<8 | uint16(clearChar)
	for row := y; row < y+height; row++ {
		rowStart := int(row)*int(cons.width) + int(x)
		for col := rowStart; col < rowStart+int(width); col++ {
			cons.fb[col] = blank
		}
	}
}

// Scroll moves the console contents by the requested number of lines. The
// lines uncovered by the scroll keep their previous contents.
func (cons *Ega) Scroll(dir ScrollDir, lines uint16) {
	if lines == 0 || lines > cons.height {
		return
	}

	offset := int(lines) * int(cons.width)
	switch dir {
	case Up:
		copy(cons.fb, cons.fb[offset:])
	case Down:
		copy(cons.fb[offset:], cons.fb)
	}
}

// Write a char to the specified location.
func (cons *Ega) Write(ch byte, attr Attr, x, y uint16) {
	if x >= cons.width || y >= cons.height {
		return
	}

	cons.fb[int(y)*int(cons.width)+int(x)] = uint16(attr)<<8 | uint16(ch)
}
