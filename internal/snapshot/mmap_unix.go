//go:build linux || darwin

package snapshot

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mmapSource is a zero-copy Source backed by golang.org/x/sys/unix.Mmap.
type mmapSource struct {
	h    Header
	f    *os.File
	data []byte
}

func openMmap(f *os.File, h Header) (Source, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	total := HeaderSize + int64(h.RecordSize)*int64(h.RecordCount)
	if fi.Size() < total {
		return nil, fmt.Errorf("snapshot: file truncated: have %d bytes, want %d", fi.Size(), total)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("snapshot: mmap: %w", err)
	}
	return &mmapSource{h: h, f: f, data: data}, nil
}

func (m *mmapSource) Header() Header { return m.h }

func (m *mmapSource) RecordAt(idx uint64) (Record, error) {
	if idx >= m.h.RecordCount {
		return Record{}, fmt.Errorf("snapshot: record index %d out of range [0,%d)", idx, m.h.RecordCount)
	}
	start := HeaderSize + int64(idx)*int64(m.h.RecordSize)
	end := start + int64(m.h.RecordSize)
	return DecodeRecord(m.data[start:end], m.h.Depth)
}

func (m *mmapSource) Close() error {
	if err := unix.Munmap(m.data); err != nil {
		return err
	}
	return m.f.Close()
}
