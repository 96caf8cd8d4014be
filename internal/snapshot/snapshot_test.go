package snapshot

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Version:     CurrentVersion,
		Depth:       2,
		RecordSize:  RecordSize(2),
		PriceScale:  100,
		QtyScale:    1000,
		RecordCount: 3,
	}
	var buf bytes.Buffer
	require.NoError(t, WriteHeader(&buf, h))
	require.Equal(t, HeaderSize, buf.Len())

	got, err := ReadHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(make([]byte, HeaderSize))
	_, err := ReadHeader(&buf)
	require.Error(t, err)
	var invalid *HeaderInvalid
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "magic", invalid.Field)
}

func TestHeaderValidateRejectsBadRecordSize(t *testing.T) {
	h := Header{Version: CurrentVersion, Depth: 5, RecordSize: 1, PriceScale: 1, QtyScale: 1}
	err := h.Validate()
	require.Error(t, err)
	var invalid *HeaderInvalid
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "record_size", invalid.Field)
}

// TestRecordRoundTrip exercises property R2: decoding a record then
// re-encoding it yields the identical bytes.
func TestRecordRoundTrip(t *testing.T) {
	const depth = 3
	rec := Record{
		TsEventMs: 1234,
		TsRecvNs:  5678,
		Bids:      []Level{{PriceQ: 100, QtyQ: 10}, {PriceQ: 99, QtyQ: 20}, {PriceQ: BidNullPriceQ, QtyQ: 0}},
		Asks:      []Level{{PriceQ: 101, QtyQ: 5}, {PriceQ: 102, QtyQ: 7}, {PriceQ: AskNullPriceQ, QtyQ: 0}},
	}
	enc, err := EncodeRecord(nil, rec, depth)
	require.NoError(t, err)
	require.Len(t, enc, int(RecordSize(depth)))

	decoded, err := DecodeRecord(enc, depth)
	require.NoError(t, err)
	require.Equal(t, rec, decoded)

	reenc, err := EncodeRecord(nil, decoded, depth)
	require.NoError(t, err)
	require.True(t, bytes.Equal(enc, reenc))
}

func TestDecodeRecordRejectsShortBuffer(t *testing.T) {
	_, err := DecodeRecord(make([]byte, 4), 1)
	require.Error(t, err)
}
