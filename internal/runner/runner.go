package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/rishav/lob-microstructure-sim/internal/artifact"
	"github.com/rishav/lob-microstructure-sim/internal/invariant"
	"github.com/rishav/lob-microstructure-sim/internal/ledger"
	"github.com/rishav/lob-microstructure-sim/internal/markout"
	"github.com/rishav/lob-microstructure-sim/internal/matching"
	"github.com/rishav/lob-microstructure-sim/internal/replay"
)

// StrictFailure wraps the error RunScenario returns when strict mode
// is on and one or more invariant checks failed, distinguishing it
// from a configuration/setup error (bad flags, unreadable snapshot,
// unwritable run directory) so cmd/simrunner can pick the right exit
// code: 1 for a strict invariant failure, 2 for everything else.
type StrictFailure struct {
	Failures []string
}

func (e *StrictFailure) Error() string {
	return fmt.Sprintf("runner: %d invariant failure(s) in strict mode: %s", len(e.Failures), e.Failures[0])
}

// defaultConservationCheckEverySteps is the fixed cadence the
// conservation check runs at outside of strict mode. Strict mode runs
// it every step instead; see RunScenario.
const defaultConservationCheckEverySteps = 5000

// RunResult is what a completed (or strict-aborted) run reports back
// to its caller.
type RunResult struct {
	RunID       string
	RunDir      string
	StepsRun    int64
	FillsCount  int
	EventsCount int
	Failures    []string
	ExitCode    int
}

// RunScenario drives one complete deterministic run: it replays
// spec.SnapPath from front to back through a fresh matching engine and
// ledger, checks invariants and tracks mark-outs at their configured
// cadences, and writes the full run directory spec.md §6 describes.
// If strict is true and any invariant failure is recorded, RunScenario
// returns a non-nil error after writing every artifact -- the run
// directory is still a complete, inspectable record of the failure.
func RunScenario(spec ScenarioSpec, runRoot string, strict bool, log zerolog.Logger) (RunResult, error) {
	dfp, err := artifact.FingerprintFile(spec.SnapPath)
	if err != nil {
		return RunResult{}, fmt.Errorf("runner: fingerprinting snapshot: %w", err)
	}

	absRunRoot, err := filepath.Abs(runRoot)
	if err != nil {
		return RunResult{}, fmt.Errorf("runner: resolving run root: %w", err)
	}
	gitSHA, gitDirty := gitInfo(absRunRoot)

	runID, err := computeRunID(spec, dfp, gitSHA)
	if err != nil {
		return RunResult{}, fmt.Errorf("runner: computing run id: %w", err)
	}
	timestampUTC := utcStamp()

	paths, err := artifact.MakeRunDir(runRoot, runID, timestampUTC)
	if err != nil {
		return RunResult{}, fmt.Errorf("runner: creating run directory: %w", err)
	}
	log = log.With().Str("run_id", runID).Str("run_dir", paths.RunDir).Logger()
	log.Info().Msg("run directory created")

	if err := artifact.WriteJSON(paths.SpecJSON, spec); err != nil {
		return RunResult{}, err
	}

	exe, _ := os.Executable()
	manifest := manifestFields{
		RunID:        runID,
		TimestampUTC: timestampUTC,
		GitSha:       gitSHA,
		GitDirty:     gitDirty,
		Binary:       exe,
		GoVersion:    runtime.Version(),
		Platform:     runtime.GOOS + "/" + runtime.GOARCH,
		Data:         dfp,
	}
	if err := artifact.WriteJSON(paths.ManifestJSON, manifest); err != nil {
		return RunResult{}, err
	}

	specSHA256, _, err := artifact.FileSHA256(paths.SpecJSON)
	if err != nil {
		return RunResult{}, err
	}
	token := replayToken{RunID: runID, SnapPath: dfp.Path, Data: dfp, SpecSHA256: specSHA256}
	if err := artifact.WriteJSON(paths.ReplayTokenJSON, token); err != nil {
		return RunResult{}, err
	}

	kernel, err := replay.Open(spec.SnapPath)
	if err != nil {
		return RunResult{}, fmt.Errorf("runner: opening snapshot: %w", err)
	}
	defer kernel.Close()

	led, err := ledger.New(spec.InitialCashQ, spec.InitialPositionQtyQ, spec.InitialLockedCashQ, spec.InitialLockedPositionQtyQ)
	if err != nil {
		return RunResult{}, fmt.Errorf("runner: constructing ledger: %w", err)
	}

	engine := matching.NewEngine(matching.SimulatorParams{
		MaxOrders:            int(spec.MaxOrders),
		MaxEvents:            int(spec.MaxEvents),
		AlphaPpm:             spec.AlphaPpm,
		MakerFeePpm:          spec.MakerFeePpm,
		TakerFeePpm:          spec.TakerFeePpm,
		OutboundLatencyNs:    spec.OutboundLatencyNs,
		ObservationLatencyNs: spec.ObservationLatencyNs,
		QtyScale:             spec.QtyQ,
	}, led)

	fillCons := invariant.NewFillConservation(spec.InitialCashQ, spec.InitialPositionQtyQ)
	contractChecker := invariant.NewContractChecker()
	acctResidual := invariant.NewAccountingResidual(spec.InitialCashQ, spec.CashResidualToleranceQ)
	mkTracker := markout.New(spec.MarkoutHorizonsSteps, spec.EnableMarkout)

	fillsW, err := artifact.OpenJSONL(paths.FillsJSONL)
	if err != nil {
		return RunResult{}, err
	}
	defer fillsW.Close()
	eventsW, err := artifact.OpenJSONL(paths.EventsJSONL)
	if err != nil {
		return RunResult{}, err
	}
	defer eventsW.Close()
	auditW, err := artifact.OpenJSONL(paths.AuditJSONL)
	if err != nil {
		return RunResult{}, err
	}
	defer auditW.Close()

	var failures []string
	fail := func(msg string) {
		failures = append(failures, msg)
		log.Warn().Str("failure", msg).Msg("invariant check failed")
	}

	lastFillsEmitted := 0
	lastEventsEmitted := 0
	lastMidQ, haveMid := int64(0), false
	var step int64
	checkpoint := func() {
		var midPtr *int64
		if haveMid {
			m := lastMidQ
			midPtr = &m
		}
		pos := led.PositionQtyQ
		row, msg := acctResidual.CheckAccountingResidual(led, step, midPtr, &pos)
		if msg != "" {
			fail(msg)
		}
		if err := auditW.Append(auditRowOut{AuditRow: row, TsNs: step * 1_000_000}); err != nil {
			fail(fmt.Sprintf("writing audit row: %v", err))
		}
	}

	for {
		if spec.MaxSteps > 0 && step >= spec.MaxSteps {
			break
		}
		rec, ok, err := kernel.Next()
		if err != nil {
			return RunResult{}, fmt.Errorf("runner: replay: %w", err)
		}
		if !ok {
			break
		}

		if err := engine.Step(rec, step); err != nil {
			return RunResult{}, fmt.Errorf("runner: matching: %w", err)
		}
		if mid, ok := engine.MidQ(); ok {
			lastMidQ, haveMid = mid, true
		}

		for _, f := range engine.Fills()[lastFillsEmitted:] {
			fillCons.IngestFill(f)
			acctResidual.ObserveFill(f)
			if haveMid {
				mkTracker.OnFill(f, lastMidQ, step)
			}
			if err := fillsW.Append(fillRow{
				TsNs:          f.TsEventMs * 1_000_000,
				OrderID:       f.OrderID,
				Liquidity:     f.Liquidity.String(),
				Side:          f.Side.String(),
				PriceQ:        f.PriceQ,
				QtyQ:          f.QtyQ,
				NotionalCashQ: f.NotionalCashQ,
				FeeCashQ:      f.FeeCashQ,
			}); err != nil {
				fail(fmt.Sprintf("writing fill row: %v", err))
			}
		}
		lastFillsEmitted = len(engine.Fills())

		for _, ev := range engine.Events()[lastEventsEmitted:] {
			contractChecker.ObserveEvent(ev)
			o, _ := engine.Order(ev.OrderID)
			state := ""
			if o != nil {
				state = o.State.String()
			}
			if err := eventsW.Append(eventRow{
				TsNs:         ev.TsEventMs * 1_000_000,
				OrderID:      ev.OrderID,
				Type:         ev.Type.String(),
				State:        state,
				RejectReason: ev.RejectReason.String(),
			}); err != nil {
				fail(fmt.Sprintf("writing event row: %v", err))
			}
		}
		lastEventsEmitted = len(engine.Events())

		if haveMid {
			mkTracker.Update(step, lastMidQ)
		}

		if step >= spec.WarmupSteps &&
			spec.OrderEverySteps > 0 && step%spec.OrderEverySteps == 0 {
			placeReferenceOrders(engine, spec, strict, fail)
		}

		doConservationCheck := strict || step%defaultConservationCheckEverySteps == 0
		if doConservationCheck {
			totals := invariant.LedgerSnapshot(led)
			if msg := fillCons.Check(totals, spec.CashResidualToleranceQ, 0); msg != "" {
				fail(msg)
			}
		}

		if spec.CheckEverySteps > 0 && step%spec.CheckEverySteps == 0 {
			checkpoint()
		}
		if spec.LogEverySteps > 0 && step%spec.LogEverySteps == 0 {
			log.Info().Int64("step", step).Int("fills", len(engine.Fills())).
				Int("events", len(engine.Events())).Msg("progress")
		}

		step++
	}

	checkpoint()

	if msg := contractChecker.CheckRejectImpliesTerminal(engine.Orders(), strict); msg != "" {
		fail(msg)
	}

	// Mark-out rows that never reached every horizon before EOF are
	// silently dropped, matching the original: markout.csv is only an
	// audit of fills that were actually observed through their full
	// horizon window, not a forced best-effort estimate.
	completedRows := mkTracker.Completed()
	if len(completedRows) > 0 {
		var csvRows [][]string
		for _, row := range completedRows {
			csvRows = append(csvRows, mkTracker.CSVRow(row))
		}
		if err := artifact.WriteCSV(paths.MarkoutCSV, mkTracker.CSVHeader(), csvRows); err != nil {
			fail(fmt.Sprintf("writing markout csv: %v", err))
		}
	}

	acctState := acctResidual.State()
	metrics := metricsSummary{
		RunID:                  runID,
		StepsRun:               step,
		FillsCount:             len(engine.Fills()),
		EventsCount:            len(engine.Events()),
		OrdersCount:            len(engine.Orders()),
		FinalCashQ:             led.CashQ,
		FinalPositionQtyQ:      led.PositionQtyQ,
		FinalLockedCashQ:       led.LockedCashQ,
		FinalLockedPositionQtyQ: led.LockedPositionQtyQ,
		Accounting: accountingSummary{
			MaxCashResidualQ:      acctState.MaxCashResidualQ,
			MaxCashResidualBoundQ: acctState.MaxCashBoundQ,
			OverflowRiskFlag:      acctState.OverflowRiskFlag,
			InferredPriceScale:    nonZeroPtr(acctState.InferredPriceScale),
		},
		MarkoutRowsCompleted: len(completedRows),
		FailuresCount:        len(failures),
	}
	if err := artifact.WriteJSON(paths.MetricsJSON, metrics); err != nil {
		return RunResult{}, err
	}

	fillsW.Close()
	eventsW.Close()
	auditW.Close()

	digests := artifactDigests{}
	digests.Spec, _, _ = artifact.FileSHA256(paths.SpecJSON)
	digests.Manifest, _, _ = artifact.FileSHA256(paths.ManifestJSON)
	digests.Fills, _, _ = artifact.FileSHA256(paths.FillsJSONL)
	digests.Events, _, _ = artifact.FileSHA256(paths.EventsJSONL)
	digests.Audit, _, _ = artifact.FileSHA256(paths.AuditJSONL)
	if len(completedRows) > 0 {
		digests.Markout, _, _ = artifact.FileSHA256(paths.MarkoutCSV)
	}
	token.Digests = &digests
	if err := artifact.WriteJSON(paths.ReplayTokenJSON, token); err != nil {
		return RunResult{}, err
	}

	result := RunResult{
		RunID:       runID,
		RunDir:      paths.RunDir,
		StepsRun:    step,
		FillsCount:  len(engine.Fills()),
		EventsCount: len(engine.Events()),
		Failures:    failures,
	}
	if strict && len(failures) > 0 {
		result.ExitCode = 1
		return result, &StrictFailure{Failures: failures}
	}
	return result, nil
}

func nonZeroPtr(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

// placeReferenceOrders submits a small, deterministic pair of resting
// GTC orders joining the current best bid/ask: the buy at BestBidQ and
// the sell at BestAskQ, with spec.TickQ not used for pricing. This is a
// reference order-flow generator for
// exercising the engine during a run, not a contractual part of the
// artifact schema -- a real caller integrating a trading policy would
// call engine.PlaceLimit directly instead of going through RunScenario's
// built-in generator. Each placement is checked for a CapacityExceeded
// reject so it reaches metrics.failures under strict, same as any
// other invariant violation.
func placeReferenceOrders(engine *matching.Engine, spec ScenarioSpec, strict bool, fail func(string)) {
	bidQ, askQ := engine.BestBidQ, engine.BestAskQ
	if bidQ > 0 {
		reportCapacityExceeded(engine.PlaceLimit(matching.SideBuy, bidQ, spec.QtyQ, matching.TIFGTC), strict, fail)
	}
	if askQ > 0 && askQ < (1<<63-1) {
		reportCapacityExceeded(engine.PlaceLimit(matching.SideSell, askQ, spec.QtyQ, matching.TIFGTC), strict, fail)
	}
}

func reportCapacityExceeded(o *matching.Order, strict bool, fail func(string)) {
	if !strict || o == nil {
		return
	}
	if o.State == matching.OrderStateRejected && o.RejectReason == matching.RejectReasonCapacityExceeded {
		fail("reference order rejected: capacity exceeded")
	}
}

func utcStamp() string {
	return time.Now().UTC().Format("20060102T150405Z")
}

// computeRunID derives the 16-hex-character run identifier: canonical
// JSON of {"spec": <parsed spec>, "data": <fingerprint>, "git_sha":
// <sha or null>}, sha256'd and truncated. Matches runner.py's run-id
// derivation exactly -- this is NOT a simple hash of the spec and
// fingerprint concatenated, but of that nested object.
func computeRunID(spec ScenarioSpec, dfp artifact.DataFingerprint, gitSHA *string) (string, error) {
	specCanon, err := artifact.CanonicalJSON(spec)
	if err != nil {
		return "", err
	}
	var specAny any
	if err := json.Unmarshal(specCanon, &specAny); err != nil {
		return "", fmt.Errorf("runner: re-parsing canonical spec: %w", err)
	}

	material := map[string]any{
		"spec":    specAny,
		"data":    dfp,
		"git_sha": gitSHA,
	}
	canon, err := artifact.CanonicalJSON(material)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])[:16], nil
}

// manifestFields is cmd/simrunner's manifest.json payload. Python's
// original carries core_module_file/platform/python fields identifying
// the interpreter and source module that produced the run; the Go
// equivalents are the executable path, runtime.Version(), and GOOS/GOARCH.
type manifestFields struct {
	RunID        string                  `json:"run_id"`
	TimestampUTC string                  `json:"timestamp_utc"`
	GitSha       *string                 `json:"git_sha"`
	GitDirty     bool                    `json:"git_dirty"`
	Binary       string                  `json:"binary"`
	GoVersion    string                  `json:"go_version"`
	Platform     string                  `json:"platform"`
	Data         artifact.DataFingerprint `json:"data"`
}

// replayToken is replay_token.json's payload, written once before the
// run starts (run_id/snapshot fingerprint/spec digest only) and again
// after the run completes with the full artifactDigests attached --
// matching the original's two-phase write, which lets a crashed run
// still leave behind a token identifying what it was trying to do.
type replayToken struct {
	RunID      string                  `json:"run_id"`
	SnapPath   string                  `json:"snap_path"`
	Data       artifact.DataFingerprint `json:"data"`
	SpecSHA256 string                  `json:"spec_sha256"`
	Digests    *artifactDigests        `json:"digests,omitempty"`
}

type artifactDigests struct {
	Spec     string `json:"spec_sha256"`
	Manifest string `json:"manifest_sha256"`
	Fills    string `json:"fills_sha256"`
	Events   string `json:"events_sha256"`
	Audit    string `json:"audit_sha256"`
	Markout  string `json:"markout_sha256,omitempty"`
}

// fillRow is one fills.jsonl line. Field order (ts, order_id, liq,
// side, price_q, qty_q, notional_cash_q, fee_cash_q) matches runner.py;
// canonical JSON sorts keys regardless, so this governs only readability.
type fillRow struct {
	TsNs          int64  `json:"ts_ns"`
	OrderID       uint64 `json:"order_id"`
	Liquidity     string `json:"liq"`
	Side          string `json:"side"`
	PriceQ        int64  `json:"price_q"`
	QtyQ          int64  `json:"qty_q"`
	NotionalCashQ int64  `json:"notional_cash_q"`
	FeeCashQ      int64  `json:"fee_cash_q"`
}

// eventRow is one events.jsonl line: ts, order_id, type, state,
// reject_reason.
type eventRow struct {
	TsNs         int64  `json:"ts_ns"`
	OrderID      uint64 `json:"order_id"`
	Type         string `json:"type"`
	State        string `json:"state"`
	RejectReason string `json:"reject_reason"`
}

// auditRowOut appends a checkpoint timestamp to invariant.AuditRow,
// mirroring the original's checkpoint() closure, which bolts
// row["ts_ns"] onto the dict returned by check_accounting_residual
// after the fact.
type auditRowOut struct {
	invariant.AuditRow
	TsNs int64 `json:"ts_ns"`
}

type accountingSummary struct {
	MaxCashResidualQ int64 `json:"max_cash_residual_q"`
	// JSON key intentionally differs from the Go field name
	// (MaxCashBoundQ in invariant.AccountingState) to match the
	// original's metrics.json, whose accounting object uses
	// max_cash_residual_bound_q.
	MaxCashResidualBoundQ int64  `json:"max_cash_residual_bound_q"`
	OverflowRiskFlag      bool   `json:"overflow_risk_flag"`
	InferredPriceScale    *int64 `json:"inferred_price_scale"`
}

type metricsSummary struct {
	RunID                   string            `json:"run_id"`
	StepsRun                int64             `json:"steps_run"`
	FillsCount              int               `json:"fills_count"`
	EventsCount             int               `json:"events_count"`
	OrdersCount             int               `json:"orders_count"`
	FinalCashQ              int64             `json:"final_cash_q"`
	FinalPositionQtyQ       int64             `json:"final_position_qty_q"`
	FinalLockedCashQ        int64             `json:"final_locked_cash_q"`
	FinalLockedPositionQtyQ int64             `json:"final_locked_position_qty_q"`
	Accounting              accountingSummary `json:"accounting"`
	MarkoutRowsCompleted    int               `json:"markout_rows_completed"`
	FailuresCount           int               `json:"failures_count"`
}
