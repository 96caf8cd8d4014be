// Package markout tracks per-fill mark-out: how the mid price moved,
// signed by the fill's side, over a fixed set of step-indexed
// horizons. Each fill is pending until the replay has advanced far
// enough past its step to observe all configured horizons, at which
// point it is flushed as one completed row.
//
// Grounded on the teacher's marketdata.L1Quote/TradeReport value
// shapes (adapted here into the per-step mid bookkeeping); the
// pub/sub channel fan-out of marketdata.Publisher is dropped, since
// concurrency inside the engine path is forbidden. Exact pending-entry
// and horizon-completion semantics, and the completed-row field order,
// are taken from
// _examples/original_source/python/microstructure_rl/markout.py.
package markout

import (
	"sort"

	"github.com/rishav/lob-microstructure-sim/internal/matching"
)

// pendingEntry is one fill awaiting horizon completion.
type pendingEntry struct {
	fillIdx   uint64
	tsEventMs int64
	orderID   uint64
	liquidity matching.Liquidity
	side      matching.Side
	sideSign  int64
	qtyQ      int64
	priceQ    int64
	mid0Q     int64
	step0     int64

	observed map[int64]int64 // horizon steps -> mid_q observed at step0+horizon
}

// CompletedRow is one flushed mark-out row; field order matches
// markout.py's completed-row layout exactly (side_sign itself is
// internal bookkeeping only and is never part of the output row).
type CompletedRow struct {
	FillIdx      uint64            `json:"fill_idx"`
	FillTsNs     int64             `json:"fill_ts_ns"`
	OrderID      uint64            `json:"order_id"`
	Liquidity    string            `json:"liq"`
	Side         string            `json:"side"`
	QtyQ         int64             `json:"qty_q"`
	FillPriceQ   int64             `json:"fill_price_q"`
	Mid0Q        int64             `json:"mid0_q"`
	Step0        int64             `json:"step0"`
	MarkoutByH   map[int64]int64   `json:"-"` // flattened into dynamic markout_price_q_h{h} fields by the writer
}

// Tracker accumulates pending mark-out entries and flushes completed
// ones as the replay advances.
type Tracker struct {
	horizons []int64
	pending  []*pendingEntry
	enabled  bool
}

// New constructs a Tracker for the given (ascending, deduplicated)
// set of step horizons. Pass enabled=false to make OnFill/Update no-ops,
// mirroring ScenarioSpec.enable_markout.
func New(horizons []int64, enabled bool) *Tracker {
	h := append([]int64(nil), horizons...)
	sort.Slice(h, func(i, j int) bool { return h[i] < h[j] })
	return &Tracker{horizons: h, enabled: enabled}
}

// OnFill registers a new fill for mark-out tracking, capturing the mid
// price and step at the time of the fill as the baseline.
func (t *Tracker) OnFill(f matching.Fill, mid0Q, step0 int64) {
	if !t.enabled {
		return
	}
	t.pending = append(t.pending, &pendingEntry{
		fillIdx:   f.FillIdx,
		tsEventMs: f.TsEventMs,
		orderID:   f.OrderID,
		liquidity: f.Liquidity,
		side:      f.Side,
		sideSign:  f.Side.SideSign(),
		qtyQ:      f.QtyQ,
		priceQ:    f.PriceQ,
		mid0Q:     mid0Q,
		step0:     step0,
		observed:  make(map[int64]int64, len(t.horizons)),
	})
}

// Update advances all pending entries with the mid price observed at
// the current step, recording an observation for any horizon that the
// current step has just reached or passed.
func (t *Tracker) Update(step, midQ int64) {
	if !t.enabled {
		return
	}
	for _, p := range t.pending {
		for _, h := range t.horizons {
			if _, ok := p.observed[h]; ok {
				continue
			}
			if step >= p.step0+h {
				p.observed[h] = midQ
			}
		}
	}
}

// Completed drains and returns every pending entry that has now
// observed all configured horizons.
func (t *Tracker) Completed() []CompletedRow {
	if !t.enabled || len(t.pending) == 0 {
		return nil
	}
	var rows []CompletedRow
	remaining := t.pending[:0]
	for _, p := range t.pending {
		if len(p.observed) < len(t.horizons) {
			remaining = append(remaining, p)
			continue
		}
		markouts := make(map[int64]int64, len(t.horizons))
		for _, h := range t.horizons {
			markouts[h] = p.sideSign * (p.observed[h] - p.mid0Q)
		}
		rows = append(rows, CompletedRow{
			FillIdx:    p.fillIdx,
			FillTsNs:   p.tsEventMs * 1_000_000,
			OrderID:    p.orderID,
			Liquidity:  p.liquidity.String(),
			Side:       p.side.String(),
			QtyQ:       p.qtyQ,
			FillPriceQ: p.priceQ,
			Mid0Q:      p.mid0Q,
			Step0:      p.step0,
			MarkoutByH: markouts,
		})
	}
	t.pending = remaining
	return rows
}

// Horizons returns the sorted horizon set this tracker was built with.
func (t *Tracker) Horizons() []int64 { return t.horizons }

// CSVHeader returns the markout.csv header row for this tracker's
// horizon set.
func (t *Tracker) CSVHeader() []string {
	hdr := []string{"fill_idx", "fill_ts_ns", "order_id", "liq", "side", "qty_q", "fill_price_q", "mid0_q", "step0"}
	for _, h := range t.horizons {
		hdr = append(hdr, horizonColumn(h))
	}
	return hdr
}

func horizonColumn(h int64) string {
	return "markout_price_q_h" + itoa(h)
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// CSVRow renders row as a CSV record matching CSVHeader's column order.
func (t *Tracker) CSVRow(row CompletedRow) []string {
	rec := []string{
		itoa(int64(row.FillIdx)),
		itoa(row.FillTsNs),
		itoa(int64(row.OrderID)),
		row.Liquidity,
		row.Side,
		itoa(row.QtyQ),
		itoa(row.FillPriceQ),
		itoa(row.Mid0Q),
		itoa(row.Step0),
	}
	for _, h := range t.horizons {
		rec = append(rec, itoa(row.MarkoutByH[h]))
	}
	return rec
}
