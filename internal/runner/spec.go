// Package runner drives one deterministic scenario from a `.snap` file
// to a completed, auditable run directory: it builds the matching
// engine and ledger from a ScenarioSpec, replays every record, checks
// invariants and tracks mark-outs at the configured cadences, and
// emits the run directory spec.md §6 describes.
//
// Grounded on the teacher's cmd/server (Server's config-struct-plus-
// constructor pattern and graceful-shutdown lifecycle, reshaped from a
// long-lived HTTP server into a single deterministic batch run) and
// events.EventLog (append-only, sequence-numbered, replay-by-decoding,
// generalized from gob-encoded records to canonical-JSON JSONL
// streams). Exact field lists, defaults, and the run-id/manifest/
// replay-token construction are taken from
// _examples/original_source/python/microstructure_rl/runner.py and
// spec.py.
package runner

// ScenarioSpec is the pure-JSON, auditable contract a run is built
// from -- the canonical-JSON mirror of spec.py's ScenarioSpec
// dataclass. Field names match the Python original exactly so a
// spec.json produced by either implementation round-trips through the
// other.
type ScenarioSpec struct {
	SnapPath string `json:"snap_path"`

	MaxSteps        int64 `json:"max_steps"`
	WarmupSteps     int64 `json:"warmup_steps"`
	OrderEverySteps int64 `json:"order_every_steps"`
	LogEverySteps   int64 `json:"log_every_steps"`
	CheckEverySteps int64 `json:"check_every_steps"`

	QtyQ  int64 `json:"qty_q"`
	TickQ int64 `json:"tick_q"`

	MaxOrders            int64 `json:"max_orders"`
	MaxEvents            int64 `json:"max_events"`
	AlphaPpm             int64 `json:"alpha_ppm"`
	MakerFeePpm          int64 `json:"maker_fee_ppm"`
	TakerFeePpm          int64 `json:"taker_fee_ppm"`
	OutboundLatencyNs    int64 `json:"outbound_latency_ns"`
	ObservationLatencyNs int64 `json:"observation_latency_ns"`
	StartTsNs            int64 `json:"start_ts_ns"`

	InitialCashQ               int64 `json:"initial_cash_q"`
	InitialPositionQtyQ        int64 `json:"initial_position_qty_q"`
	InitialLockedCashQ         int64 `json:"initial_locked_cash_q"`
	InitialLockedPositionQtyQ  int64 `json:"initial_locked_position_qty_q"`

	CashResidualToleranceQ int64 `json:"cash_residual_tolerance_q"`

	EnableMarkout         bool    `json:"enable_markout"`
	MarkoutHorizonsSteps  []int64 `json:"markout_horizons_steps"`
}

// DefaultSpec returns a ScenarioSpec with every default from spec.py,
// except SnapPath, which the caller must always set.
func DefaultSpec(snapPath string) ScenarioSpec {
	return ScenarioSpec{
		SnapPath:                  snapPath,
		MaxSteps:                  0,
		WarmupSteps:               1000,
		OrderEverySteps:           5000,
		LogEverySteps:             5000,
		CheckEverySteps:           5000,
		QtyQ:                      1,
		TickQ:                     1,
		MaxOrders:                 200_000,
		MaxEvents:                 200_000,
		AlphaPpm:                  0,
		MakerFeePpm:               0,
		TakerFeePpm:               0,
		OutboundLatencyNs:         0,
		ObservationLatencyNs:      0,
		StartTsNs:                 0,
		InitialCashQ:              1_000_000_000_000_000_000,
		InitialPositionQtyQ:       1_000_000_000,
		InitialLockedCashQ:        0,
		InitialLockedPositionQtyQ: 0,
		CashResidualToleranceQ:    1,
		EnableMarkout:             true,
		MarkoutHorizonsSteps:      []int64{100, 1000, 10000},
	}
}
