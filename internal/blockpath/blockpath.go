// Package blockpath decodes the block size encoded in a block-aligned
// CSV's filename: "<name>.<k>.csv" where 2^k is the block size in bytes.
package blockpath

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// BadFilenameError reports a path that does not match "<name>.<k>.csv".
type BadFilenameError struct {
	Path string
	Kind string
}

func (e *BadFilenameError) Error() string {
	return fmt.Sprintf("bad filename %q: %s", e.Path, e.Kind)
}

// Decoded holds the parts extracted from a block-aligned CSV path.
type Decoded struct {
	BlockSize int64  // 2^K
	Name      string // "<name>" component
	KStr      string // the raw "<k>" component, as written in the filename
	K         int    // parsed exponent
	Extension string // always "csv", case preserved from the filename
}

// Decode extracts the block size, base name, exponent string and
// extension from path's final component. It requires exactly three
// dot-separated parts and a case-insensitive "csv" extension.
func Decode(path string) (Decoded, error) {
	slashed := filepath.ToSlash(path)
	if strings.HasSuffix(slashed, "/") || slashed == "" {
		return Decoded{}, &BadFilenameError{Path: path, Kind: "does not name a file"}
	}
	filename := filepath.Base(slashed)
	if filename == "." {
		return Decoded{}, &BadFilenameError{Path: path, Kind: "does not name a file"}
	}

	parts := strings.Split(filename, ".")
	if len(parts) != 3 {
		return Decoded{}, &BadFilenameError{Path: path, Kind: "expected exactly three dot-separated parts, e.g. data.16.csv"}
	}

	name, kStr, ext := parts[0], parts[1], parts[2]
	if !strings.EqualFold(ext, "csv") {
		return Decoded{}, &BadFilenameError{Path: path, Kind: "extension is not csv"}
	}

	k, err := strconv.Atoi(kStr)
	if err != nil || k < 0 || k > 62 {
		// k > 62 would overflow/zero out an int64 block size (1<<63 is
		// negative, 1<<64 and beyond is 0 per the Go shift rules), and no
		// real block size needs to get anywhere near there.
		return Decoded{}, &BadFilenameError{Path: path, Kind: "block size exponent out of range (want 0-62)"}
	}

	return Decoded{
		BlockSize: int64(1) << uint(k),
		Name:      name,
		KStr:      kStr,
		K:         k,
		Extension: ext,
	}, nil
}

// BlockSize is a convenience wrapper returning only 2^k.
func BlockSize(path string) (int64, error) {
	d, err := Decode(path)
	if err != nil {
		return 0, err
	}
	return d.BlockSize, nil
}
