// Package lexer implements the byte-level CSV state machine the block
// store is built on: stream values and rows from any file offset,
// tolerating the padding and malformed variants the block layout and
// real-world CSV producers introduce.
package lexer

import (
	"bufio"
	"io"
	"os"
)

type state int

const (
	stateRowStart state = iota
	statePrePadding
	stateInQuoted
	stateFirstQuoteOrEndQuoted
	stateEndPadding
	stateComma
	stateInUnquoted
	stateNonValueCR
)

const (
	byteCR = 0x0D
	byteLF = 0x0A
	byteSP = 0x20
	byteQT = 0x22
	byteCM = 0x2C
)

// minReadSize is the smallest chunk the lexer reads at a time; absolute
// file offsets are tracked independently of chunk boundaries.
const minReadSize = 4096

// RowSink is invoked once per completed row. Returning false stops the
// lex early — the spec's "sink demand" stop condition. It is a
// capability object rather than a mutating closure so lex invocations
// never share state outside of what's passed in.
type RowSink interface {
	Row(values [][]byte, endOffset int64) bool
}

// RowSinkFunc adapts a plain function to RowSink.
type RowSinkFunc func(values [][]byte, endOffset int64) bool

// Row implements RowSink.
func (f RowSinkFunc) Row(values [][]byte, endOffset int64) bool { return f(values, endOffset) }

// Options configures a single Lex invocation.
type Options struct {
	// StartOffset is the absolute byte offset to seek to before lexing.
	StartOffset int64
	// RowLimit caps the number of rows emitted; <= 0 means unlimited.
	RowLimit int
	// OnValue, if set, is called once per completed value as soon as its
	// terminator is recognized.
	OnValue func([]byte)
	// OnRow, if set, is called once per completed row instead of
	// collecting rows into the returned slice (callback vs. collector
	// mode).
	OnRow RowSink
	// Warn receives non-fatal recovery diagnostics. Defaults to
	// lexer.Stderr.
	Warn Warner
}

// Lex streams bytes of the file at path starting at opts.StartOffset,
// driving the CSV state machine and invoking opts.OnValue/opts.OnRow as
// rows complete. It returns the absolute offset the scan stopped at and,
// when opts.OnRow is nil, every row collected.
func Lex(path string, opts Options) (finalOffset int64, rows [][][]byte, err error) {
	f, err := os.Open(path)
	if err != nil {
		return opts.StartOffset, nil, err
	}
	defer f.Close()
	return lexFile(f, opts)
}

func lexFile(f *os.File, opts Options) (int64, [][][]byte, error) {
	warn := opts.Warn
	if warn == nil {
		warn = Stderr
	}

	if opts.StartOffset > 0 {
		if _, err := f.Seek(opts.StartOffset, io.SeekStart); err != nil {
			return opts.StartOffset, nil, err
		}
	}

	br := bufio.NewReaderSize(f, minReadSize)

	var (
		collected [][][]byte
		st        = stateRowStart
		field     []byte
		row       [][]byte
		pos       = opts.StartOffset
		rowCount  int
	)

	emitValue := func(v []byte) {
		cp := make([]byte, len(v))
		copy(cp, v)
		row = append(row, cp)
		if opts.OnValue != nil {
			opts.OnValue(cp)
		}
	}

	// finishRow reports whether the caller asked to stop.
	finishRow := func(endOffset int64) bool {
		emitValue(field)
		field = field[:0]

		keepGoing := true
		if opts.OnRow != nil {
			keepGoing = opts.OnRow.Row(row, endOffset)
		} else {
			collected = append(collected, row)
		}
		rowCount++
		row = nil
		st = stateRowStart

		if !keepGoing {
			return false
		}
		if opts.RowLimit > 0 && rowCount >= opts.RowLimit {
			return false
		}
		return true
	}

	buf := make([]byte, minReadSize)
	for {
		n, readErr := br.Read(buf)
		if n == 0 {
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				return pos, collected, readErr
			}
			continue
		}

		for i := 0; i < n; i++ {
			c := buf[i]
			offset := pos // offset of byte c, 0-based
			pos++

			switch st {
			case stateInQuoted:
				if c == byteQT {
					st = stateFirstQuoteOrEndQuoted
				} else {
					field = append(field, c)
				}

			case stateInUnquoted:
				switch c {
				case byteQT:
					warn("found %q in an unquoted value at %d, assuming a quote was meant to open the value", c, offset)
					st = stateFirstQuoteOrEndQuoted
				case byteCM:
					emitValue(field)
					field = field[:0]
					st = stateComma
				case byteSP:
					warn("found %q in an unquoted value at %d, assuming the value should have been quoted", c, offset)
					st = stateFirstQuoteOrEndQuoted
				case byteCR:
					st = stateNonValueCR
				case byteLF:
					warn("expected CRLF at %d, got bare LF; ending row", offset)
					if !finishRow(offset) {
						return pos - 1, collected, nil
					}
				default:
					field = append(field, c)
				}

			case stateRowStart:
				switch c {
				case byteLF:
					warn("expected CRLF at %d, got bare LF; ignoring", offset)
				case byteCR:
					st = stateNonValueCR
				case byteCM:
					emitValue(field)
					field = field[:0]
					st = stateComma
				case byteQT:
					st = stateInQuoted
				case byteSP:
					st = statePrePadding
				default:
					st = stateInUnquoted
					field = append(field, c)
				}

			case statePrePadding:
				switch c {
				case byteSP:
					// stays
				case byteCR:
					st = stateNonValueCR
				case byteQT:
					st = stateInQuoted
				case byteCM:
					warn("found a comma at %d after padding; ending the value", offset)
					emitValue(field)
					field = field[:0]
					st = stateComma
				case byteLF:
					warn("expected CRLF at %d, got bare LF; ending row", offset)
					if !finishRow(offset) {
						return pos - 1, collected, nil
					}
				default:
					st = stateInUnquoted
					field = append(field, c)
				}

			case stateFirstQuoteOrEndQuoted:
				switch c {
				case byteQT:
					field = append(field, byteQT)
					st = stateInQuoted
				case byteSP:
					st = stateEndPadding
				case byteCR:
					st = stateNonValueCR
				case byteLF:
					warn("expected CRLF at %d, got bare LF; ending row", offset)
					if !finishRow(offset) {
						return pos - 1, collected, nil
					}
				case byteCM:
					emitValue(field)
					field = field[:0]
					st = stateComma
				default:
					return pos, collected, malformed(offset, "expected closing quote, comma or space after a quoted value, got %q", c)
				}

			case stateEndPadding:
				switch c {
				case byteSP:
					// stays
				case byteCM:
					emitValue(field)
					field = field[:0]
					st = stateComma
				case byteCR:
					st = stateNonValueCR
				case byteLF:
					warn("expected CRLF at %d, got bare LF; ending row", offset)
					if !finishRow(offset) {
						return pos - 1, collected, nil
					}
				default:
					return pos, collected, malformed(offset, "expected comma, space or newline after quote padding, got %q", c)
				}

			case stateComma:
				switch c {
				case byteLF:
					warn("expected CRLF at %d, got bare LF; ending row", offset)
					if !finishRow(offset) {
						return pos - 1, collected, nil
					}
				case byteCR:
					st = stateNonValueCR
				case byteSP:
					st = statePrePadding
				case byteQT:
					st = stateInQuoted
				case byteCM:
					emitValue(field)
					field = field[:0]
					// stays in COMMA
				default:
					st = stateInUnquoted
					field = append(field, c)
				}

			case stateNonValueCR:
				if c != byteLF {
					return pos, collected, malformed(offset, "expected LF after CR, got %q", c)
				}
				if !finishRow(offset) {
					return pos - 1, collected, nil
				}

			default:
				panic("lexer: unreachable state")
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return pos, collected, readErr
		}
	}

	// EOF: flush a pending row only if it already has at least one
	// terminated field — mirrors the source's `if row:` check, which
	// drops a single unterminated value with no trailing newline.
	if len(row) > 0 {
		emitValue(field)
		endOffset := pos - 1
		if opts.OnRow != nil {
			opts.OnRow.Row(row, endOffset)
		} else {
			collected = append(collected, row)
		}
	}

	return pos - 1, collected, nil
}
