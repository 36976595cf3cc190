// Package bloom provides a small probabilistic set used to fast-reject
// lookup keys that definitely are not present in a block-aligned CSV,
// without searching the file's data rows.
package bloom

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"os"
)

// Filter is a space-efficient probabilistic set over composite keys.
// It only answers membership for keys of the same column width it was
// built with — a bloom filter hashes its input as one opaque string, so
// it cannot distinguish "built over 2 columns, queried with 1" from a
// genuine absence; width is tracked to let callers refuse to ask that
// question.
type Filter struct {
	bits       []byte
	size       int
	hashCount  int
	count      int
	keyColumns int
}

// New creates a filter sized for n expected keys at the given false
// positive rate (e.g. 0.01 for 1%).
func New(n int, fpRate float64) *Filter {
	if n < 1 {
		n = 1
	}
	if fpRate <= 0 {
		fpRate = 0.01
	}

	m := int(-float64(n) * math.Log(fpRate) / (math.Ln2 * math.Ln2))
	if m < 1024 {
		m = 1024
	}
	m = ((m + 7) / 8) * 8

	k := int(float64(m) / float64(n) * math.Ln2)
	if k < 1 {
		k = 1
	}
	if k > 10 {
		k = 10
	}

	return &Filter{
		bits:      make([]byte, m/8),
		size:      m,
		hashCount: k,
	}
}

// keyHashes returns the two independent CRC32 hashes double-hashing
// combines into hashCount probe positions.
func keyHashes(key []byte) (h1, h2 uint32) {
	h1 = crc32.ChecksumIEEE(key)

	var buf [256]byte
	reversed := appendReversed(buf[:0], key)
	reversed = append(reversed, "salt"...)
	h2 = crc32.ChecksumIEEE(reversed)
	return h1, h2
}

func appendReversed(dst, s []byte) []byte {
	start := len(dst)
	dst = append(dst, s...)
	for i, j := start, len(dst)-1; i < j; i, j = i+1, j-1 {
		dst[i], dst[j] = dst[j], dst[i]
	}
	return dst
}

// Add inserts a composite key (see EncodeKey) into the filter.
func (bf *Filter) Add(key []byte) {
	h1, h2 := keyHashes(key)
	for i := 0; i < bf.hashCount; i++ {
		pos := probe(h1, h2, i, bf.size)
		bf.bits[pos/8] |= 1 << uint(pos%8)
	}
	bf.count++
}

// MightContain reports whether key might be present. false is a
// definitive negative; true only means "possibly", at the configured
// false-positive rate.
func (bf *Filter) MightContain(key []byte) bool {
	h1, h2 := keyHashes(key)
	for i := 0; i < bf.hashCount; i++ {
		pos := probe(h1, h2, i, bf.size)
		if bf.bits[pos/8]&(1<<uint(pos%8)) == 0 {
			return false
		}
	}
	return true
}

func probe(h1, h2 uint32, i, size int) int {
	combined := int(h1) + i*int(h2)
	if combined < 0 {
		combined = -combined
	}
	return combined % size
}

// EncodeKey joins an ordered list of text key columns into the byte
// string the filter hashes, with NUL as the separator. The lexer does
// not reject NUL inside a field, so keys whose values contain NUL can
// encode to the same bytes as a different key.
func EncodeKey(columns []string) []byte {
	if len(columns) == 0 {
		return nil
	}
	total := 0
	for _, c := range columns {
		total += len(c) + 1
	}
	out := make([]byte, 0, total)
	for i, c := range columns {
		if i > 0 {
			out = append(out, 0)
		}
		out = append(out, c...)
	}
	return out
}

// Serialize writes the filter to a portable binary form: a 32-byte
// header (size, hashCount, count, keyColumns, all big-endian uint64)
// followed by the bit array.
func (bf *Filter) Serialize() []byte {
	header := make([]byte, 32)
	binary.BigEndian.PutUint64(header[0:8], uint64(bf.size))
	binary.BigEndian.PutUint64(header[8:16], uint64(bf.hashCount))
	binary.BigEndian.PutUint64(header[16:24], uint64(bf.count))
	binary.BigEndian.PutUint64(header[24:32], uint64(bf.keyColumns))
	return append(header, bf.bits...)
}

// Deserialize parses a filter previously produced by Serialize.
func Deserialize(data []byte) (*Filter, error) {
	if len(data) < 32 {
		return nil, fmt.Errorf("bloom: truncated filter (%d bytes)", len(data))
	}

	size := int(binary.BigEndian.Uint64(data[0:8]))
	hashCount := int(binary.BigEndian.Uint64(data[8:16]))
	count := int(binary.BigEndian.Uint64(data[16:24]))
	keyColumns := int(binary.BigEndian.Uint64(data[24:32]))

	// maxBloomBits bounds what a legitimate sidecar could ever claim —
	// far beyond any filter New could produce — so a corrupted header
	// can't push size+7 past the int range and wrap wantBits negative.
	// maxHashCount bounds the same way: New caps it at 10, so anything
	// wildly above that is a corrupted field, not a real filter — left
	// unbounded, it turns every MightContain/Add call into a long or
	// effectively infinite loop over a bogus probe count.
	const (
		maxBloomBits = 1 << 34
		maxHashCount = 64
	)

	if size <= 0 || size > maxBloomBits || hashCount <= 0 || hashCount > maxHashCount {
		return nil, fmt.Errorf("bloom: invalid filter header (size=%d, hashCount=%d)", size, hashCount)
	}

	// The header is trusted to describe the bit array that follows it;
	// a short write (disk full, truncated copy) must fail here rather
	// than let MightContain/Add index past the end of bits later.
	bits := data[32:]
	wantBits := (size + 7) / 8
	if len(bits) < wantBits {
		return nil, fmt.Errorf("bloom: truncated bit array (want %d bytes, got %d)", wantBits, len(bits))
	}

	return &Filter{
		size:       size,
		hashCount:  hashCount,
		count:      count,
		keyColumns: keyColumns,
		bits:       bits[:wantBits],
	}, nil
}

// Load reads and deserializes a filter from path.
func Load(path string) (*Filter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Deserialize(data)
}

// Save serializes the filter to path.
func (bf *Filter) Save(path string) error {
	return os.WriteFile(path, bf.Serialize(), 0o644)
}

// Count returns the number of keys added.
func (bf *Filter) Count() int { return bf.count }

// KeyColumns returns the number of leading columns every key added via
// Add/EncodeKey was built from, or 0 if never set.
func (bf *Filter) KeyColumns() int { return bf.keyColumns }

// SetKeyColumns records the column width this filter is built over.
// Callers must only treat MightContain as authoritative for queries of
// this same width.
func (bf *Filter) SetKeyColumns(n int) { bf.keyColumns = n }
