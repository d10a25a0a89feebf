// Package kfmt provides allocation-free formatted output for code that runs
// before the kernel has a memory allocator, together with the kernel panic
// handler.
package kfmt

import (
	"io"
	"unsafe"
)

// numBufSize defines the size of the scratch buffer used for formatting
// numbers. It fits a 64-bit value in base 8 plus a sign and padding.
const numBufSize = 32

var (
	errMissingArg   = []byte("%!(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")
	hexPrefix       = []byte("0x")
	digits          = []byte("0123456789abcdef")

	// numBuf and oneByte are shared scratch buffers. Formatting into
	// stack-allocated buffers would make them escape to the heap when
	// passed to an io.Writer.
	numBuf  [numBufSize]byte
	oneByte [1]byte

	// earlyBuffer captures Printf output emitted before an output sink
	// is attached.
	earlyBuffer ringBuffer

	// outputSink receives the output of Printf and Panic. While nil,
	// output is stored in earlyBuffer.
	outputSink io.Writer
)

// SetOutputSink redirects the output of Printf to w and flushes any output
// that was buffered while no sink was attached.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyBuffer)
	}
}

// OutputSink returns the writer that currently receives Printf output.
func OutputSink() io.Writer {
	return outputSink
}

// Printf formats according to a format specifier and writes to the active
// output sink. See Fprintf for the supported verbs.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf formats according to a format specifier and writes to w. If w is
// nil, the output is buffered until an output sink is attached. Fprintf
// never allocates memory and supports the following subset of the fmt verbs:
//
//	%s  string or []byte
//	%d  base 10 integer
//	%x  base 16 integer, lower-case
//	%o  base 8 integer
//	%t  bool
//	%%  a literal percent sign
//
// An optional '#' flag prefixes base 16 values with 0x and base 8 values with
// 0. An optional decimal width left-pads strings and base 10 values with
// spaces and base 8/16 values with zeroes.
//
// Only the built-in integer types are recognized; named integer types must be
// converted by the caller as the itables may not be initialized yet.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex, litStart int
		fmtLen             = len(format)
	)

	for i := 0; i < fmtLen; i++ {
		if format[i] != '%' {
			continue
		}

		writeString(w, format[litStart:i])

		var (
			width int
			alt   bool
		)
	parseFlags:
		for i++; i < fmtLen; i++ {
			switch ch := format[i]; {
			case ch == '#':
				alt = true
			case ch >= '0' && ch <= '9':
				width = width*10 + int(ch-'0')
			default:
				break parseFlags
			}
		}

		if i == fmtLen {
			write(w, errNoVerb)
			litStart = fmtLen
			break
		}
		litStart = i + 1

		verb := format[i]
		switch verb {
		case '%':
			writeByte(w, '%')
			continue
		case 's', 'd', 'x', 'o', 't':
		default:
			write(w, errNoVerb)
			continue
		}

		if argIndex >= len(args) {
			write(w, errMissingArg)
			continue
		}

		arg := args[argIndex]
		argIndex++
		switch verb {
		case 's':
			fmtString(w, arg, width)
		case 'd':
			fmtInt(w, arg, 10, width, alt)
		case 'x':
			fmtInt(w, arg, 16, width, alt)
		case 'o':
			fmtInt(w, arg, 8, width, alt)
		case 't':
			fmtBool(w, arg)
		}
	}

	writeString(w, format[litStart:])

	for ; argIndex < len(args); argIndex++ {
		write(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		write(w, errWrongArgType)
	case b:
		write(w, trueValue)
	default:
		write(w, falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		writeRepeat(w, ' ', width-len(s))
		writeString(w, s)
	case []byte:
		writeRepeat(w, ' ', width-len(s))
		write(w, s)
	default:
		write(w, errWrongArgType)
	}
}

// fmtInt writes v in the requested base. Base 10 values are padded with
// spaces; base 8 and 16 values are padded with zeroes.
func fmtInt(w io.Writer, v interface{}, base uint64, width int, alt bool) {
	mag, neg, ok := toMagnitude(v)
	if !ok {
		write(w, errWrongArgType)
		return
	}

	if width >= numBufSize {
		width = numBufSize - 1
	}

	pos := numBufSize
	for {
		pos--
		numBuf[pos] = digits[mag%base]
		if mag /= base; mag == 0 {
			break
		}
	}

	if base == 10 {
		if neg {
			pos--
			numBuf[pos] = '-'
		}
		for numBufSize-pos < width {
			pos--
			numBuf[pos] = ' '
		}
		write(w, numBuf[pos:])
		return
	}

	for numBufSize-pos < width {
		pos--
		numBuf[pos] = '0'
	}

	if neg {
		writeByte(w, '-')
	}

	if alt {
		if base == 16 {
			write(w, hexPrefix)
		} else {
			writeByte(w, '0')
		}
	}

	write(w, numBuf[pos:])
}

// toMagnitude returns the absolute value of a built-in integer and whether
// it was negative.
func toMagnitude(v interface{}) (uint64, bool, bool) {
	var sval int64

	switch t := v.(type) {
	case uint8:
		return uint64(t), false, true
	case uint16:
		return uint64(t), false, true
	case uint32:
		return uint64(t), false, true
	case uint64:
		return t, false, true
	case uint:
		return uint64(t), false, true
	case uintptr:
		return uint64(t), false, true
	case int8:
		sval = int64(t)
	case int16:
		sval = int64(t)
	case int32:
		sval = int64(t)
	case int64:
		sval = t
	case int:
		sval = int64(t)
	default:
		return 0, false, false
	}

	if sval < 0 {
		// Negating math.MinInt64 overflows back to itself; its uint64
		// conversion is still the correct magnitude.
		return uint64(-sval), true, true
	}
	return uint64(sval), false, true
}

func writeRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

// writeString writes s one byte at a time; converting s to a byte slice would
// trigger an allocation.
func writeString(w io.Writer, s string) {
	for i := 0; i < len(s); i++ {
		writeByte(w, s[i])
	}
}

func writeByte(w io.Writer, ch byte) {
	oneByte[0] = ch
	write(w, oneByte[:])
}

// write hides p from the compiler's escape analysis. As w is an unknown
// io.Writer the compiler would otherwise flag p as escaping and turn every
// call to Fprintf into a heap allocation.
func write(w io.Writer, p []byte) {
	realWrite(w, noEscape(unsafe.Pointer(&p)))
}

func realWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w == nil {
		earlyBuffer.Write(p)
		return
	}
	w.Write(p)
}

// noEscape hides a pointer from escape analysis (see runtime/stubs.go).
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
