// Package snapshot defines the on-disk `.snap` container format for
// replayed L2 market data: a fixed 40-byte header followed by
// fixed-size depth records.
//
// Wire Layout:
//
// Header (40 bytes, little-endian):
//
//	magic         uint32  0x4C32424F ("L2BO")
//	version       uint16
//	depth         uint16  number of price levels per side
//	record_size   uint32  bytes per record, including timestamps
//	endian_check  uint32  0x01020304, lets a reader detect byte-swap
//	price_scale   int64   price_q units per quote-currency unit
//	qty_scale     int64   qty_q units per base-asset unit
//	record_count  uint64  number of records following the header
//
// Record (fixed size, little-endian):
//
//	ts_event_ms   int64
//	ts_recv_ns    int64
//	bid[depth]    {price_q int64, qty_q int64}
//	ask[depth]    {price_q int64, qty_q int64}
//
// Levels beyond the displayed book use the sentinel prices below; a
// reader must treat a sentinel level as "no quote" rather than a
// crossed or zero-priced order.
package snapshot

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// Magic identifies a file as an L2 book snapshot ("L2BO").
	Magic uint32 = 0x4C32424F

	// EndianCheck is written verbatim so a reader can detect a
	// byte-swapped file without guessing from content.
	EndianCheck uint32 = 0x01020304

	// HeaderSize is the fixed size of the header in bytes.
	HeaderSize = 40

	// CurrentVersion is the version this package reads and writes.
	CurrentVersion uint16 = 1
)

// Sentinel price values marking an empty depth level.
const (
	// AskNullPriceQ marks an empty ask level: the maximum representable
	// price, so an empty ask level never accidentally looks marketable.
	AskNullPriceQ int64 = 1<<63 - 1

	// BidNullPriceQ marks an empty bid level: zero, so an empty bid
	// level never accidentally looks marketable.
	BidNullPriceQ int64 = 0
)

// Header describes the fixed preamble of a `.snap` file.
type Header struct {
	Version     uint16
	Depth       uint16
	RecordSize  uint32
	PriceScale  int64
	QtyScale    int64
	RecordCount uint64
}

// Level is a single quoted price/quantity pair.
type Level struct {
	PriceQ int64
	QtyQ   int64
}

// Record is one timestamped depth snapshot: ts_event_ms, ts_recv_ns,
// and Depth levels per side, best-to-worst.
type Record struct {
	TsEventMs int64
	TsRecvNs  int64
	Bids      []Level
	Asks      []Level
}

// HeaderInvalid reports a structurally malformed or unsupported header.
type HeaderInvalid struct {
	Field string
	Got   uint64
	Want  uint64
}

func (e *HeaderInvalid) Error() string {
	return fmt.Sprintf("snapshot: invalid header field %s: got %d, want %d", e.Field, e.Got, e.Want)
}

// RecordSize returns the expected on-disk size of a single record for
// the given depth: 16 bytes of timestamps plus 16 bytes per level per
// side.
func RecordSize(depth uint16) uint32 {
	return 16 + uint32(depth)*2*16
}

// ReadHeader reads and validates the 40-byte header from r. It does not
// consume anything beyond the header.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("snapshot: reading header: %w", err)
	}

	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != Magic {
		return Header{}, &HeaderInvalid{Field: "magic", Got: uint64(magic), Want: uint64(Magic)}
	}

	h := Header{
		Version:    binary.LittleEndian.Uint16(buf[4:6]),
		Depth:      binary.LittleEndian.Uint16(buf[6:8]),
		RecordSize: binary.LittleEndian.Uint32(buf[8:12]),
	}
	endian := binary.LittleEndian.Uint32(buf[12:16])
	if endian != EndianCheck {
		return Header{}, &HeaderInvalid{Field: "endian_check", Got: uint64(endian), Want: uint64(EndianCheck)}
	}
	h.PriceScale = int64(binary.LittleEndian.Uint64(buf[16:24]))
	h.QtyScale = int64(binary.LittleEndian.Uint64(buf[24:32]))
	h.RecordCount = binary.LittleEndian.Uint64(buf[32:40])

	if err := h.Validate(); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Validate checks internal header consistency beyond the magic/endian
// markers already checked during parsing.
func (h Header) Validate() error {
	if h.Version != CurrentVersion {
		return &HeaderInvalid{Field: "version", Got: uint64(h.Version), Want: uint64(CurrentVersion)}
	}
	if h.Depth == 0 {
		return &HeaderInvalid{Field: "depth", Got: uint64(h.Depth), Want: 1}
	}
	want := RecordSize(h.Depth)
	if h.RecordSize != want {
		return &HeaderInvalid{Field: "record_size", Got: uint64(h.RecordSize), Want: uint64(want)}
	}
	if h.PriceScale <= 0 {
		return &HeaderInvalid{Field: "price_scale", Got: uint64(h.PriceScale), Want: 1}
	}
	if h.QtyScale <= 0 {
		return &HeaderInvalid{Field: "qty_scale", Got: uint64(h.QtyScale), Want: 1}
	}
	return nil
}

// DecodeRecord decodes a single record of the given depth from buf,
// which must be exactly RecordSize(depth) bytes.
func DecodeRecord(buf []byte, depth uint16) (Record, error) {
	want := RecordSize(depth)
	if uint32(len(buf)) != want {
		return Record{}, fmt.Errorf("snapshot: short record: got %d bytes, want %d", len(buf), want)
	}

	rec := Record{
		TsEventMs: int64(binary.LittleEndian.Uint64(buf[0:8])),
		TsRecvNs:  int64(binary.LittleEndian.Uint64(buf[8:16])),
		Bids:      make([]Level, depth),
		Asks:      make([]Level, depth),
	}

	off := 16
	for i := 0; i < int(depth); i++ {
		rec.Bids[i] = Level{
			PriceQ: int64(binary.LittleEndian.Uint64(buf[off : off+8])),
			QtyQ:   int64(binary.LittleEndian.Uint64(buf[off+8 : off+16])),
		}
		off += 16
	}
	for i := 0; i < int(depth); i++ {
		rec.Asks[i] = Level{
			PriceQ: int64(binary.LittleEndian.Uint64(buf[off : off+8])),
			QtyQ:   int64(binary.LittleEndian.Uint64(buf[off+8 : off+16])),
		}
		off += 16
	}
	return rec, nil
}

// EncodeRecord appends the wire encoding of rec to buf and returns the
// extended slice. depth must match the number of levels in rec.
func EncodeRecord(buf []byte, rec Record, depth uint16) ([]byte, error) {
	if len(rec.Bids) != int(depth) || len(rec.Asks) != int(depth) {
		return nil, fmt.Errorf("snapshot: record has %d/%d levels, want %d per side", len(rec.Bids), len(rec.Asks), depth)
	}
	var tmp [8]byte
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		buf = append(buf, tmp[:]...)
	}
	putU64(uint64(rec.TsEventMs))
	putU64(uint64(rec.TsRecvNs))
	for _, l := range rec.Bids {
		putU64(uint64(l.PriceQ))
		putU64(uint64(l.QtyQ))
	}
	for _, l := range rec.Asks {
		putU64(uint64(l.PriceQ))
		putU64(uint64(l.QtyQ))
	}
	return buf, nil
}
