// Package headercache sidecar-caches a block-aligned CSV's header row
// and the byte offset it ends at, so repeated lookups on the same path
// can skip re-lexing the header. Adapted from the indexing teacher's
// metadata-sidecar pattern: a JSON file next to the data file,
// invalidated by a size/mtime/sampled-hash fingerprint.
package headercache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
)

// sampleSize mirrors the indexer's fingerprint sampling: enough to
// detect almost any real edit cheaply, without hashing the whole file.
const sampleSize = 512 * 1024

// Entry is the cached header state for one CSV path.
type Entry struct {
	Size            int64    `json:"size"`
	MtimeUnix       int64    `json:"mtime_unix"`
	Hash            string   `json:"hash"`
	Headers         []string `json:"headers"`
	HeaderEndOffset int64    `json:"header_end_offset"`
}

func sidecarPath(csvPath string) string {
	return csvPath + ".header.json"
}

// Load returns the cached entry for csvPath if its sidecar exists and
// its fingerprint still matches the live file. A missing or stale cache
// is reported via ok == false, never an error: callers fall back to
// re-deriving the header from the CSV itself.
func Load(csvPath string) (entry Entry, ok bool) {
	data, err := os.ReadFile(sidecarPath(csvPath))
	if err != nil {
		return Entry{}, false
	}

	var cached Entry
	if err := json.Unmarshal(data, &cached); err != nil {
		return Entry{}, false
	}

	fp, err := fingerprint(csvPath)
	if err != nil {
		return Entry{}, false
	}

	if cached.Size != fp.size || cached.MtimeUnix != fp.mtime || cached.Hash != fp.hash {
		return Entry{}, false
	}
	return cached, true
}

// Store writes (or overwrites) the sidecar for csvPath. Failures are
// deliberately swallowed by callers: the cache is an optimization, not
// a correctness requirement of find_rows.
func Store(csvPath string, headers []string, headerEndOffset int64) error {
	fp, err := fingerprint(csvPath)
	if err != nil {
		return err
	}

	entry := Entry{
		Size:            fp.size,
		MtimeUnix:       fp.mtime,
		Hash:            fp.hash,
		Headers:         headers,
		HeaderEndOffset: headerEndOffset,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return os.WriteFile(sidecarPath(csvPath), data, 0o644)
}

type fingerprintResult struct {
	size  int64
	mtime int64
	hash  string
}

// fingerprint samples the start, middle and end of the file, the same
// three-sample scheme the teacher's Indexer.calculateFingerprint uses
// to detect edits to multi-gigabyte CSVs without a full read.
func fingerprint(path string) (fingerprintResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return fingerprintResult{}, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fingerprintResult{}, err
	}
	size := stat.Size()

	h := sha1.New()
	buf := make([]byte, sampleSize)

	n, _ := f.ReadAt(buf, 0)
	h.Write(buf[:n])

	if size > sampleSize*3 {
		n, _ = f.ReadAt(buf, size/2-sampleSize/2)
		h.Write(buf[:n])
	}
	if size > sampleSize {
		start := size - sampleSize
		if start < 0 {
			start = 0
		}
		n, _ = f.ReadAt(buf, start)
		h.Write(buf[:n])
	}

	return fingerprintResult{
		size:  size,
		mtime: stat.ModTime().Unix(),
		hash:  hex.EncodeToString(h.Sum(nil)),
	}, nil
}
