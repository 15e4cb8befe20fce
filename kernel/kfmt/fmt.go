// Package kfmt provides the diagnostic output facilities used by the memory
// management code. Output is produced without allocating memory so it can be
// used while frame pools are still being set up.
package kfmt

import (
	"io"
	"unsafe"
)

// numBufSize defines the buffer size for formatting numbers.
const numBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numBuf [numBufSize]byte

	// oneByte is a shared buffer for passing single characters to doWrite.
	oneByte = []byte(" ")

	// earlyPrintBuffer stores Printf output until an output sink is
	// attached via SetOutputSink.
	earlyPrintBuffer ringBuffer

	// outputSink receives the output of Printf. While nil, output is
	// captured by earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink redirects the output of Printf to w and flushes any output
// accumulated in the early print buffer to it. Passing a nil writer makes
// Printf buffer its output again.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf writes a formatted message to the active output sink. It supports
// the following subset of the fmt verbs:
//
//	%s the bytes of a string or byte slice
//	%d base 10 integer
//	%o base 8 integer
//	%x base 16 integer, lower-case a-f
//	%t "true" or "false"
//
// An optional decimal width may precede the verb. Strings and base 10
// integers are left-padded with spaces; base 8 and base 16 integers are
// left-padded with zeroes.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes its output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		padLen   int
		fmtLen   = len(format)
	)

	for i := 0; i < fmtLen; i++ {
		if format[i] != '%' {
			writeByte(w, format[i])
			continue
		}

		padLen = 0
		for i++; ; i++ {
			if i >= fmtLen {
				doWrite(w, errNoVerb)
				break
			}

			ch := format[i]
			if ch >= '0' && ch <= '9' {
				padLen = padLen*10 + int(ch-'0')
				continue
			}

			if ch == '%' {
				writeByte(w, '%')
				break
			}

			if !isVerb(ch) {
				doWrite(w, errNoVerb)
				break
			}

			if argIndex >= len(args) {
				doWrite(w, errMissingArg)
				break
			}

			switch ch {
			case 'd':
				fmtInt(w, args[argIndex], 10, padLen)
			case 'o':
				fmtInt(w, args[argIndex], 8, padLen)
			case 'x':
				fmtInt(w, args[argIndex], 16, padLen)
			case 's':
				fmtString(w, args[argIndex], padLen)
			case 't':
				fmtBool(w, args[argIndex])
			}
			argIndex++
			break
		}
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

func isVerb(ch byte) bool {
	return ch == 'd' || ch == 'o' || ch == 'x' || ch == 's' || ch == 't'
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

// fmtString writes a string or []byte value left-padded to padLen.
func fmtString(w io.Writer, v interface{}, padLen int) {
	switch s := v.(type) {
	case string:
		fmtRepeat(w, ' ', padLen-len(s))
		// converting s to a []byte would allocate
		for i := 0; i < len(s); i++ {
			writeByte(w, s[i])
		}
	case []byte:
		fmtRepeat(w, ' ', padLen-len(s))
		doWrite(w, s)
	default:
		doWrite(w, errWrongArgType)
	}
}

func fmtRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

// fmtInt writes v in the requested base, left-padded to padLen. Only the
// built-in integer types are supported; named types such as mm.Frame must be
// converted by the caller.
func fmtInt(w io.Writer, v interface{}, base uint64, padLen int) {
	var (
		uval     uint64
		negative bool
		padCh    byte = '0'
	)

	if base == 10 {
		padCh = ' '
	}

	switch n := v.(type) {
	case uint8:
		uval = uint64(n)
	case uint16:
		uval = uint64(n)
	case uint32:
		uval = uint64(n)
	case uint64:
		uval = n
	case uint:
		uval = uint64(n)
	case uintptr:
		uval = uint64(n)
	case int8:
		uval, negative = abs(int64(n))
	case int16:
		uval, negative = abs(int64(n))
	case int32:
		uval, negative = abs(int64(n))
	case int64:
		uval, negative = abs(n)
	case int:
		uval, negative = abs(int64(n))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if padLen >= numBufSize {
		padLen = numBufSize - 1
	}

	// Digits are emitted right to left starting at the end of numBuf.
	pos := numBufSize
	for {
		digit := byte(uval % base)
		if digit < 10 {
			digit += '0'
		} else {
			digit += 'a' - 10
		}
		pos--
		numBuf[pos] = digit

		if uval /= base; uval == 0 {
			break
		}
	}

	if negative && padCh == ' ' {
		pos--
		numBuf[pos] = '-'
	}

	for numBufSize-pos < padLen && pos > 1 {
		pos--
		numBuf[pos] = padCh
	}

	if negative && padCh == '0' {
		pos--
		numBuf[pos] = '-'
	}

	doWrite(w, numBuf[pos:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func writeByte(w io.Writer, b byte) {
	oneByte[0] = b
	doWrite(w, oneByte)
}

// doWrite hides p from the compiler's escape analysis. Without it, passing p
// to an io.Writer that is unknown at compile time flags p as escaping, and
// every Printf call would allocate.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis; it mirrors the helper of
// the same name in runtime/stubs.go.
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
