// Package replay drives a forward-only, non-restartable walk over a
// `.snap` file's records, handing each one to the matching engine in
// strict arrival order.
package replay

import (
	"errors"
	"fmt"

	"github.com/rishav/lob-microstructure-sim/internal/snapshot"
)

// ErrExhausted names the condition of reading past the last record.
// Next does not return it: once every record has been delivered, Next
// reports ok == false with a nil error. A Kernel never rewinds past
// this point.
var ErrExhausted = errors.New("replay: kernel exhausted")

// Kernel is a lazy, forward-only iterator over a snapshot file's
// records. It owns the underlying Source and must be closed.
type Kernel struct {
	src    snapshot.Source
	cursor uint64
	prevTs int64
	seen   bool
}

// Open opens the snapshot at path and returns a Kernel positioned
// before the first record.
func Open(path string) (*Kernel, error) {
	src, err := snapshot.Open(path)
	if err != nil {
		return nil, err
	}
	return &Kernel{src: src}, nil
}

// Header returns the underlying snapshot header.
func (k *Kernel) Header() snapshot.Header { return k.src.Header() }

// Len returns the total number of records in the snapshot.
func (k *Kernel) Len() uint64 { return k.src.Header().RecordCount }

// Cursor returns the zero-based index of the next record Next() will
// return.
func (k *Kernel) Cursor() uint64 { return k.cursor }

// Next returns the next record in arrival order. ok is false once the
// snapshot is exhausted; callers must stop calling Next after that.
// Next enforces that ts_event_ms is non-decreasing: a snapshot whose
// records move backwards in time is a corrupt input, not a retryable
// condition.
func (k *Kernel) Next() (snapshot.Record, bool, error) {
	if k.cursor >= k.src.Header().RecordCount {
		return snapshot.Record{}, false, nil
	}
	rec, err := k.src.RecordAt(k.cursor)
	if err != nil {
		return snapshot.Record{}, false, fmt.Errorf("replay: decoding record %d: %w", k.cursor, err)
	}
	if k.seen && rec.TsEventMs < k.prevTs {
		return snapshot.Record{}, false, &TimeWentBackwards{
			Index: k.cursor, Prev: k.prevTs, Got: rec.TsEventMs,
		}
	}
	k.seen = true
	k.prevTs = rec.TsEventMs
	k.cursor++
	return rec, true, nil
}

// TimeWentBackwards reports a non-monotonic ts_event_ms sequence.
type TimeWentBackwards struct {
	Index uint64
	Prev  int64
	Got   int64
}

func (e *TimeWentBackwards) Error() string {
	return fmt.Sprintf("replay: ts_event_ms went backwards at record %d: %d -> %d", e.Index, e.Prev, e.Got)
}

// Close releases the underlying snapshot Source.
func (k *Kernel) Close() error { return k.src.Close() }
