// Package lookup implements the block-aligned binary search: given a
// key (the leftmost N columns of a data row), it locates every
// contiguous matching row in O(log N) block reads plus a small linear
// scan, falling back to a full linear scan when the search window is
// small.
package lookup

import (
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/blockcsv/blockcsv/internal/blockpath"
	"github.com/blockcsv/blockcsv/internal/bloom"
	"github.com/blockcsv/blockcsv/internal/filelock"
	"github.com/blockcsv/blockcsv/internal/headercache"
	"github.com/blockcsv/blockcsv/internal/lexer"
)

// Sentinel errors for the failure taxonomy in §7. Wrap with fmt.Errorf
// and %w where more context is useful; callers can still errors.Is
// against these.
var (
	ErrNoHeader    = errors.New("lookup: no header row")
	ErrKeyTooWide  = errors.New("lookup: key longer than number of columns")
	ErrKeyNotFound = errors.New("lookup: key not found")
	ErrKeyNotText  = errors.New("lookup: key element is not valid UTF-8 text")
)

// Options configures a single FindRows call.
type Options struct {
	// Warn receives non-fatal lexer diagnostics. Defaults to lexer.Stderr.
	Warn lexer.Warner
	// DisableBloom disables the bloom-filter fast-reject path when true,
	// even if a sidecar is present. Defaults to enabled.
	DisableBloom bool
	// DisableHeaderCache disables the header sidecar cache when true.
	DisableHeaderCache bool
}

// FindRows locates every contiguous data row whose leading len(key)
// columns equal key, in file order. Each returned row is every column
// of the match, UTF-8 decoded.
func FindRows(path string, key []string, opts Options) ([][]string, error) {
	for _, v := range key {
		if !isValidUTF8(v) {
			return nil, ErrKeyNotText
		}
	}

	warn := opts.Warn
	if warn == nil {
		warn = lexer.Stderr
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if lerr := filelock.Shared(f); lerr != nil {
		f.Close()
		return nil, fmt.Errorf("lookup: lock %s: %w", path, lerr)
	}
	defer func() {
		filelock.Unlock(f)
		f.Close()
	}()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	fileSize := stat.Size()

	headers, headerEnd, err := header(path, opts)
	if err != nil {
		return nil, err
	}
	if len(headers) < len(key) {
		return nil, ErrKeyTooWide
	}

	if !opts.DisableBloom {
		if bf, err := bloom.Load(path + ".bloom"); err == nil {
			// A bloom filter only answers membership for the exact key
			// width it was built over: it hashes the composite key as one
			// opaque string, so a narrower query key (a valid key-prefix
			// lookup, e.g. S5) would false-negative against a filter built
			// on more columns. Only trust it when the widths match.
			if bf.KeyColumns() == len(key) && !bf.MightContain(bloom.EncodeKey(key)) {
				return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, key)
			}
		}
	}

	blockSize, err := blockpath.BlockSize(path)
	if err != nil {
		return nil, err
	}

	// Step 4-5: first data row.
	firstEnd, firstRows, err := lexer.Lex(path, lexer.Options{StartOffset: headerEnd + 1, RowLimit: 1, Warn: warn})
	if err != nil {
		return nil, err
	}
	if len(firstRows) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, key)
	}
	firstRow := decodeRow(firstRows[0])
	if equalPrefix(firstRow, key) {
		return forwardCollect(path, key, firstEnd+1, warn, [][]string{firstRow})
	}

	lastBlock := fileSize / blockSize
	firstBlock := int64(1)

	if lastBlock <= firstBlock {
		return iterateUntilFinding(path, key, headerEnd+1, -1, warn)
	}

	// Step 7: last block's first row.
	lastEnd, lastRows, err := lexer.Lex(path, lexer.Options{StartOffset: lastBlock * blockSize, RowLimit: 1, Warn: warn})
	if err != nil {
		return nil, err
	}
	if len(lastRows) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, key)
	}
	lastBlockRow := decodeRow(lastRows[0])
	switch cmpPrefix(key, lastBlockRow) {
	case 0:
		return forwardCollect(path, key, lastEnd+1, warn, [][]string{lastBlockRow})
	case 1: // key > lastBlockRow
		rows, err := forwardCollect(path, key, lastEnd+1, warn, nil)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, key)
		}
		return rows, nil
	}

	// Step 8: binary search between firstBlock and lastBlock.
	for lastBlock-firstBlock > 1 {
		mid := (firstBlock + lastBlock) / 2

		midEnd, midRows, err := lexer.Lex(path, lexer.Options{StartOffset: mid * blockSize, RowLimit: 1, Warn: warn})
		if err != nil {
			return nil, err
		}
		if len(midRows) == 0 {
			return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, key)
		}
		midRow := decodeRow(midRows[0])

		switch cmpPrefix(key, midRow) {
		case 0:
			return forwardCollect(path, key, midEnd+1, warn, [][]string{midRow})
		case 1:
			firstBlock = mid
		default:
			lastBlock = mid
		}
	}

	// Block 0 holds the header and the first data rows, so a window that
	// still starts at block 1 is scanned from just after the first data
	// row, not from block 1's boundary.
	scanFrom := firstBlock * blockSize
	if firstBlock == 1 {
		scanFrom = firstEnd + 1
	}
	return iterateUntilFinding(path, key, scanFrom, (lastBlock+1)*blockSize, warn)
}

func header(path string, opts Options) (headers []string, headerEnd int64, err error) {
	if !opts.DisableHeaderCache {
		if entry, ok := headercache.Load(path); ok {
			return entry.Headers, entry.HeaderEndOffset, nil
		}
	}

	end, rows, err := lexer.Lex(path, lexer.Options{RowLimit: 1, Warn: lexer.Discard})
	if err != nil {
		return nil, 0, err
	}
	if len(rows) == 0 {
		return nil, 0, ErrNoHeader
	}
	headers = decodeRow(rows[0])

	if !opts.DisableHeaderCache {
		_ = headercache.Store(path, headers, end)
	}
	return headers, end, nil
}

// iterateUntilFinding drives the lexer forward from startOffset,
// collecting contiguous matches. maxOffset < 0 means unbounded.
func iterateUntilFinding(path string, key []string, startOffset, maxOffset int64, warn lexer.Warner) ([][]string, error) {
	rows, err := forwardCollectBounded(path, key, startOffset, maxOffset, warn, nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, key)
	}
	return rows, nil
}

// forwardCollect drives the lexer forward from startOffset with no
// upper bound, see forwardCollectBounded.
func forwardCollect(path string, key []string, startOffset int64, warn lexer.Warner, seed [][]string) ([][]string, error) {
	rows, err := forwardCollectBounded(path, key, startOffset, -1, warn, seed)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, key)
	}
	return rows, nil
}

// forwardCollectBounded implements step 9's forward collection: a row
// matching key's prefix is accepted; the first non-matching row seen
// after at least one match has been collected stops the scan (rows are
// sorted, so matches are always contiguous). A non-match encountered
// before any match does not stop the scan — preserving the source's
// "keep looking" behavior for callers that start mid-run. maxOffset < 0
// means unbounded.
func forwardCollectBounded(path string, key []string, startOffset, maxOffset int64, warn lexer.Warner, seed [][]string) ([][]string, error) {
	rows := append([][]string(nil), seed...)

	_, _, err := lexer.Lex(path, lexer.Options{
		StartOffset: startOffset,
		Warn:        warn,
		OnRow: lexer.RowSinkFunc(func(values [][]byte, endOffset int64) bool {
			if maxOffset >= 0 && endOffset > maxOffset {
				return false
			}
			row := decodeRow(values)
			if equalPrefix(row, key) {
				rows = append(rows, row)
				return true
			}
			return len(rows) == 0
		}),
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func decodeRow(values [][]byte) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func equalPrefix(row, key []string) bool {
	if len(row) < len(key) {
		return false
	}
	for i, k := range key {
		if row[i] != k {
			return false
		}
	}
	return true
}

// cmpPrefix lexicographically compares key against row's leading
// len(key) columns: -1 if key < prefix, 0 if equal, 1 if key > prefix.
func cmpPrefix(key, row []string) int {
	n := len(key)
	if n > len(row) {
		n = len(row)
	}
	for i := 0; i < n; i++ {
		if key[i] < row[i] {
			return -1
		}
		if key[i] > row[i] {
			return 1
		}
	}
	if len(key) > len(row) {
		return 1
	}
	return 0
}

func isValidUTF8(s string) bool {
	return utf8.ValidString(s)
}
