package snapshot

import (
	"encoding/binary"
	"io"
)

// WriteHeader writes h to w as the fixed 40-byte preamble.
func WriteHeader(w io.Writer, h Header) error {
	if err := h.Validate(); err != nil {
		return err
	}
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.Depth)
	binary.LittleEndian.PutUint32(buf[8:12], h.RecordSize)
	binary.LittleEndian.PutUint32(buf[12:16], EndianCheck)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.PriceScale))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.QtyScale))
	binary.LittleEndian.PutUint64(buf[32:40], h.RecordCount)
	_, err := w.Write(buf[:])
	return err
}

// Writer emits a `.snap` file: one header, then records in arrival
// order. The header is written by NewWriter with RecordCount 0 and the
// Writer never rewrites it; when the destination is an io.WriteSeeker
// the caller patches the final count in with FinalizeSeeker, otherwise
// the header's RecordCount stays 0.
type Writer struct {
	w          io.Writer
	depth      uint16
	priceScale int64
	qtyScale   int64
	written    uint64
	buf        []byte
}

// NewWriter writes a provisional header (RecordCount left at 0) and
// returns a Writer ready to accept records via Put.
func NewWriter(w io.Writer, depth uint16, priceScale, qtyScale int64) (*Writer, error) {
	h := Header{
		Version:    CurrentVersion,
		Depth:      depth,
		RecordSize: RecordSize(depth),
		PriceScale: priceScale,
		QtyScale:   qtyScale,
	}
	if err := WriteHeader(w, h); err != nil {
		return nil, err
	}
	return &Writer{w: w, depth: depth, priceScale: priceScale, qtyScale: qtyScale}, nil
}

// Put encodes and writes a single record.
func (sw *Writer) Put(rec Record) error {
	sw.buf = sw.buf[:0]
	enc, err := EncodeRecord(sw.buf, rec, sw.depth)
	if err != nil {
		return err
	}
	if _, err := sw.w.Write(enc); err != nil {
		return err
	}
	sw.written++
	return nil
}

// RecordCount returns the number of records written so far.
func (sw *Writer) RecordCount() uint64 { return sw.written }

// FinalizeSeeker rewrites the header's record_count field by seeking
// back to the start. Only usable when the underlying writer is also
// an io.WriteSeeker (e.g. *os.File).
func FinalizeSeeker(ws io.WriteSeeker, count uint64) error {
	if _, err := ws.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], count)
	if _, err := ws.Seek(32, io.SeekStart); err != nil {
		return err
	}
	_, err := ws.Write(buf[:])
	return err
}
