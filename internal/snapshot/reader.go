package snapshot

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Source is a zero-copy-when-possible view over a `.snap` file's
// record region: the header has already been parsed and stripped off.
type Source interface {
	// Header returns the parsed, validated header.
	Header() Header
	// RecordAt decodes the record at the given zero-based index.
	RecordAt(idx uint64) (Record, error)
	// Close releases any underlying resources (mmap, file handle).
	Close() error
}

// Open opens path, preferring a memory-mapped Source and falling back
// to a buffered-read Source on platforms or filesystems where mmap is
// unavailable (spec allows the fallback explicitly).
func Open(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}

	h, err := ReadHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	if src, err := openMmap(f, h); err == nil {
		return src, nil
	}
	// mmap unavailable: rewind past the header and fall back to a
	// buffered, read-ahead source that decodes records on demand.
	if _, err := f.Seek(HeaderSize, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return newBufferedSource(f, h), nil
}

// bufferedSource reads records sequentially into an in-memory slab the
// first time it is asked for any record; used whenever mmap is not
// available. It still satisfies random RecordAt access because the
// whole record region is small relative to available memory for any
// snapshot this simulator is expected to replay.
type bufferedSource struct {
	h    Header
	f    *os.File
	data []byte
}

func newBufferedSource(f *os.File, h Header) *bufferedSource {
	return &bufferedSource{h: h, f: f}
}

func (b *bufferedSource) Header() Header { return b.h }

func (b *bufferedSource) load() error {
	if b.data != nil {
		return nil
	}
	br := bufio.NewReaderSize(b.f, 1<<20)
	total := int64(b.h.RecordSize) * int64(b.h.RecordCount)
	buf := make([]byte, total)
	if _, err := io.ReadFull(br, buf); err != nil {
		return fmt.Errorf("snapshot: reading record region: %w", err)
	}
	b.data = buf
	return nil
}

func (b *bufferedSource) RecordAt(idx uint64) (Record, error) {
	if idx >= b.h.RecordCount {
		return Record{}, fmt.Errorf("snapshot: record index %d out of range [0,%d)", idx, b.h.RecordCount)
	}
	if err := b.load(); err != nil {
		return Record{}, err
	}
	start := idx * uint64(b.h.RecordSize)
	end := start + uint64(b.h.RecordSize)
	return DecodeRecord(b.data[start:end], b.h.Depth)
}

func (b *bufferedSource) Close() error { return b.f.Close() }
