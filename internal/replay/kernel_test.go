package replay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rishav/lob-microstructure-sim/internal/snapshot"
)

func writeFixtureSnap(t *testing.T, records []snapshot.Record) string {
	t.Helper()
	const depth = 1
	path := filepath.Join(t.TempDir(), "fixture.snap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := snapshot.NewWriter(f, depth, 100, 1000)
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, w.Put(rec))
	}
	require.NoError(t, snapshot.FinalizeSeeker(f, w.RecordCount()))
	return path
}

func TestKernelEmptySnapshot(t *testing.T) {
	path := writeFixtureSnap(t, nil)
	k, err := Open(path)
	require.NoError(t, err)
	defer k.Close()

	require.Equal(t, uint64(0), k.Len())
	_, ok, err := k.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKernelDeliversInOrder(t *testing.T) {
	recs := []snapshot.Record{
		{TsEventMs: 10, Bids: []snapshot.Level{{PriceQ: 99, QtyQ: 1}}, Asks: []snapshot.Level{{PriceQ: 101, QtyQ: 1}}},
		{TsEventMs: 20, Bids: []snapshot.Level{{PriceQ: 99, QtyQ: 2}}, Asks: []snapshot.Level{{PriceQ: 101, QtyQ: 2}}},
	}
	path := writeFixtureSnap(t, recs)
	k, err := Open(path)
	require.NoError(t, err)
	defer k.Close()

	for i, want := range recs {
		got, ok, err := k.Next()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want.TsEventMs, got.TsEventMs)
		require.Equal(t, uint64(i+1), k.Cursor())
	}
	_, ok, err := k.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

// TestKernelRejectsNonMonotonicTime exercises property P7: ts_event_ms
// must never decrease across records.
func TestKernelRejectsNonMonotonicTime(t *testing.T) {
	recs := []snapshot.Record{
		{TsEventMs: 20, Bids: []snapshot.Level{{PriceQ: 99, QtyQ: 1}}, Asks: []snapshot.Level{{PriceQ: 101, QtyQ: 1}}},
		{TsEventMs: 10, Bids: []snapshot.Level{{PriceQ: 99, QtyQ: 1}}, Asks: []snapshot.Level{{PriceQ: 101, QtyQ: 1}}},
	}
	path := writeFixtureSnap(t, recs)
	k, err := Open(path)
	require.NoError(t, err)
	defer k.Close()

	_, ok, err := k.Next()
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = k.Next()
	require.False(t, ok)
	require.Error(t, err)
	var back *TimeWentBackwards
	require.ErrorAs(t, err, &back)
}
