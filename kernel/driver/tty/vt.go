// Package tty implements the terminal that renders boot output on a text
// console.
package tty

import (
	"github.com/Nanoteck137/nano-os/kernel/driver/video/console"
	"github.com/Nanoteck137/nano-os/kernel/sync"
)

const (
	defaultFg = console.LightGrey
	defaultBg = console.Black
)

// Vt implements a simple terminal that can process LF and CR characters. The
// terminal uses an EGA console for its output.
//
// All Vt methods serialize access to the terminal state and the attached
// console with a spinlock so that the terminal can be shared with code that
// runs after boot (e.g. interrupt handlers).
type Vt struct {
	lock sync.Spinlock

	// Go interfaces will not work before we can get memory allocation working.
	// Till then we need to use concrete types instead.
	cons *console.Ega

	width  uint16
	height uint16

	curX   uint16
	curY   uint16
	fg, bg console.Attr
}

// AttachTo links the terminal with the specified console device and resets
// the cursor and colors.
func (t *Vt) AttachTo(cons *console.Ega) {
	t.lock.Acquire()
	defer t.lock.Release()

	t.cons = cons
	t.width, t.height = cons.Dimensions()
	t.curX, t.curY = 0, 0
	t.fg, t.bg = defaultFg, defaultBg
}

// Dimensions returns the terminal width and height in characters.
func (t *Vt) Dimensions() (uint16, uint16) {
	t.lock.Acquire()
	defer t.lock.Release()

	return t.width, t.height
}

// SetColor sets the foreground and background colors used for subsequent
// writes and clears.
func (t *Vt) SetColor(fg, bg console.Attr) {
	t.lock.Acquire()
	defer t.lock.Release()

	t.fg, t.bg = fg, bg
}

// Clear fills the terminal with the background color and moves the cursor to
// the top-left corner.
func (t *Vt) Clear() {
	t.lock.Acquire()
	defer t.lock.Release()

	t.cons.Clear(0, 0, t.width, t.height, t.bg)
	t.curX, t.curY = 0, 0
}

// Position returns the current cursor position (x, y).
func (t *Vt) Position() (uint16, uint16) {
	t.lock.Acquire()
	defer t.lock.Release()

	return t.curX, t.curY
}

// SetPosition sets the current cursor position to (x,y), clamped to the
// terminal bounds.
func (t *Vt) SetPosition(x, y uint16) {
	t.lock.Acquire()
	defer t.lock.Release()

	if x >= t.width {
		x = t.width - 1
	}

	if y >= t.height {
		y = t.height - 1
	}

	t.curX, t.curY = x, y
}

// Write implements io.Writer.
func (t *Vt) Write(data []byte) (int, error) {
	t.lock.Acquire()
	defer t.lock.Release()

	attr := console.MakeAttr(t.fg, t.bg)
	for _, b := range data {
		switch b {
		case '\r':
			t.curX = 0
		case '\n':
			t.curX = 0
			t.lf()
		default:
			t.cons.Write(b, attr, t.curX, t.curY)
			if t.curX++; t.curX == t.width {
				t.curX = 0
				t.lf()
			}
		}
	}

	return len(data), nil
}

// lf advances the cursor by one line, scrolling the terminal contents if the
// cursor is already on the last line.
func (t *Vt) lf() {
	if t.curY+1 < t.height {
		t.curY++
		return
	}

	t.cons.Scroll(console.Up, 1)
	t.cons.Clear(0, t.height-1, t.width, 1, t.bg)
}
