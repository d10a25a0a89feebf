// Package console implements the EGA-compatible text-mode console used for
// boot output.
package console

// Attr defines a color attribute.
type Attr uint16

// The set of colors supported by text-mode consoles.
const (
	Black Attr = iota
	Blue
	Green
	Cyan
	Red
	Magenta
	Brown
	LightGrey
	Grey
	LightBlue
	LightGreen
	LightCyan
	LightRed
	LightMagenta
	LightBrown
	White
)

// MakeAttr combines a foreground and background color into a single
// character attribute.
func MakeAttr(fg, bg Attr) Attr {
	return (bg&0xF)<<4 | (fg & 0xF)
}

// ScrollDir defines a scroll direction.
type ScrollDir uint8

// The supported list of scroll directions for the console Scroll() calls.
const (
	Up ScrollDir = iota
	Down
)
