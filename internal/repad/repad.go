// Package repad rewrites a CSV into the block-aligned layout the lookup
// engine's binary search depends on: rows are packed one after another,
// and a row that would cross a block boundary starts exactly at that
// boundary instead, the rest of the previous block filled with spaces.
package repad

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/blockcsv/blockcsv/internal/blockpath"
	"github.com/blockcsv/blockcsv/internal/bloom"
	"github.com/blockcsv/blockcsv/internal/filelock"
	"github.com/blockcsv/blockcsv/internal/headercache"
	"github.com/blockcsv/blockcsv/internal/lexer"
)

// Options configures a Repad call.
type Options struct {
	Source      string
	Destination string
	// BlockSize overrides the size decoded from Destination's filename.
	// Leave zero to decode "<name>.<k>.csv" from Destination.
	BlockSize int64
	// Backup, when true, writes a compressed copy of Source's bytes to
	// Destination+".bak.lz4" before rewriting. Always done when
	// Source == Destination, since that rewrite is otherwise
	// unrecoverable if interrupted.
	Backup bool
	// BloomKeyColumns, if > 0, builds a sidecar bloom filter of the
	// leading N columns of every data row, written to
	// Destination+".bloom". Zero disables it.
	BloomKeyColumns int
	Warn            lexer.Warner
}

// Stats summarizes what Repad did.
type Stats struct {
	RowsWritten   int64
	BlocksWritten int64
	AlreadyPadded bool
	BloomKeyCount int
}

// Repad reads Source with the lexer and writes Destination so that no
// row starts inside one block and runs into the next unless it is longer
// than a block: a row that doesn't fit in the rest of the current block
// starts at offset 0 of the next one, the gap padded with ASCII spaces
// (§4.3: pad the current block, then write the row that didn't fit —
// not the other way around).
func Repad(opts Options) (Stats, error) {
	blockSize := opts.BlockSize
	if blockSize <= 0 {
		d, err := blockpath.Decode(opts.Destination)
		if err != nil {
			return Stats{}, err
		}
		blockSize = d.BlockSize
	}

	warn := opts.Warn
	if warn == nil {
		warn = lexer.Stderr
	}

	if opts.Source == opts.Destination {
		if alreadyPadded(opts.Source, blockSize) {
			return Stats{AlreadyPadded: true}, nil
		}
		opts.Backup = true
	}

	if opts.Backup {
		if err := backupLZ4(opts.Source, opts.Destination+".bak.lz4"); err != nil {
			return Stats{}, fmt.Errorf("repad: backup failed: %w", err)
		}
	}

	tmpPath := opts.Destination + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return Stats{}, fmt.Errorf("repad: open destination: %w", err)
	}
	if err := filelock.Exclusive(out); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return Stats{}, fmt.Errorf("repad: lock destination: %w", err)
	}

	w := &blockWriter{
		f:         bufio.NewWriterSize(out, 256*1024),
		blockSize: blockSize,
	}

	var (
		stats    Stats
		lexErr   error
		bf       *bloom.Filter
		headers  []string
		rowIndex int64
	)

	if opts.BloomKeyColumns > 0 {
		bf = bloom.New(4096, 0.01)
		bf.SetKeyColumns(opts.BloomKeyColumns)
	}

	_, _, lexErr = lexer.Lex(opts.Source, lexer.Options{
		Warn: warn,
		OnRow: lexer.RowSinkFunc(func(values [][]byte, _ int64) bool {
			row := make([]string, len(values))
			for i, v := range values {
				row[i] = string(v)
			}

			if rowIndex == 0 {
				headers = row
			} else if bf != nil {
				n := opts.BloomKeyColumns
				if n > len(row) {
					n = len(row)
				}
				bf.Add(bloom.EncodeKey(row[:n]))
			}
			rowIndex++

			if err := w.writeRow(row); err != nil {
				lexErr = err
				return false
			}
			stats.RowsWritten++
			return true
		}),
	})

	if lexErr == nil {
		lexErr = w.flush()
	}
	stats.BlocksWritten = w.block

	if cerr := filelock.Unlock(out); cerr != nil && lexErr == nil {
		lexErr = cerr
	}
	if cerr := out.Close(); cerr != nil && lexErr == nil {
		lexErr = cerr
	}
	if lexErr != nil {
		os.Remove(tmpPath)
		return Stats{}, lexErr
	}

	if err := os.Rename(tmpPath, opts.Destination); err != nil {
		return Stats{}, fmt.Errorf("repad: rename into place: %w", err)
	}

	_ = headercache.Store(opts.Destination, headers, int64(len(encodeRow(headers)))-1)

	if bf != nil {
		stats.BloomKeyCount = bf.Count()
		if err := bf.Save(opts.Destination + ".bloom"); err != nil {
			warn("failed to write bloom sidecar for %s: %v", opts.Destination, err)
		}
	}

	return stats, nil
}

// blockWriter tracks the current byte offset within the current block
// and applies the pad-then-write rule from §4.3.
type blockWriter struct {
	f         *bufio.Writer
	blockSize int64
	pos       int64 // offset within the current block
	block     int64 // current block index
}

func (w *blockWriter) writeRow(values []string) error {
	encoded := encodeRow(values)
	l := int64(len(encoded))

	if w.pos+l > w.blockSize {
		pad := w.blockSize - w.pos
		if pad > 0 {
			if _, err := w.f.Write(spaces(pad)); err != nil {
				return err
			}
		}
		w.block++
		w.pos = 0
	}

	if _, err := w.f.Write(encoded); err != nil {
		return err
	}
	w.pos += l
	return nil
}

func (w *blockWriter) flush() error {
	return w.f.Flush()
}

// encodeRow renders values in the canonical quoted form: each value
// wrapped in double quotes with internal quotes doubled, comma-joined,
// terminated by CRLF. A trailing comma after the last value (present in
// the original repad()) would decode back as an extra empty field,
// breaking the round-trip property in §8; the comma is a separator, not
// a per-value suffix.
func encodeRow(values []string) []byte {
	out := make([]byte, 0, 16*len(values)+2)
	for i, v := range values {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '"')
		for j := 0; j < len(v); j++ {
			if v[j] == '"' {
				out = append(out, '"', '"')
			} else {
				out = append(out, v[j])
			}
		}
		out = append(out, '"')
	}
	out = append(out, '\r', '\n')
	return out
}

var spaceFill [4096]byte

func init() {
	for i := range spaceFill {
		spaceFill[i] = ' '
	}
}

func spaces(n int64) []byte {
	if n <= int64(len(spaceFill)) {
		return spaceFill[:n]
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = ' '
	}
	return out
}

// alreadyPadded checks whether every block boundary is immediately
// preceded by padding back to a row terminator, the shape the writer
// always leaves behind (fill the rest of the block with spaces, then
// the next row starts exactly at offset 0 of the new block with no
// further lead-in). It reads backward from each boundary directly
// rather than asking the lexer to parse a row starting there: the
// lexer would happily resync to whatever CRLF comes next regardless of
// whether the boundary is a real row start, which is what let the
// previous version of this check accept completely unaligned files.
// The terminator must be a full CRLF, not a bare LF: encodeRow never
// emits one on its own, so a lone '\n' found this way can only be
// literal field content (e.g. a bare LF inside a quoted value) rather
// than a real row boundary. This narrows, but does not eliminate, the
// chance that a quoted value containing a literal CRLF followed by
// space characters is mistaken for padding — alreadyPadded is an
// optimization only, and the loop in Repad is still what actually
// writes the file when this check can't confirm alignment.
func alreadyPadded(path string, blockSize int64) bool {
	stat, err := os.Stat(path)
	if err != nil || stat.Size() < blockSize {
		return false
	}
	fileSize := stat.Size()

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	window := blockSize
	if window > 64*1024 {
		window = 64 * 1024
	}
	buf := make([]byte, window)

	for boff := blockSize; boff < fileSize; boff += blockSize {
		start := boff - window
		if start < 0 {
			start = 0
		}
		n, err := f.ReadAt(buf[:boff-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return false
		}
		chunk := buf[:n]

		i := len(chunk) - 1
		for i >= 0 && chunk[i] == ' ' {
			i--
		}
		if i < 1 {
			// Padding runs the full width of the window, or leaves no
			// room for a two-byte CRLF before it: can't confirm it
			// traces back to a real terminator, so don't claim alignment.
			return false
		}
		if chunk[i] != '\n' || chunk[i-1] != '\r' {
			return false
		}
	}
	return true
}

// backupLZ4 streams src through an lz4 writer into dst, the same
// "compress before a risky rewrite" pattern the indexer's external
// sorter uses for spill chunks.
func backupLZ4(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := lz4.NewWriter(out)

	buf := make([]byte, 256*1024)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := zw.Write(buf[:n]); werr != nil {
				zw.Close()
				return werr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			zw.Close()
			return rerr
		}
	}
	return zw.Close()
}
