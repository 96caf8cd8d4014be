// Package ledger tracks a single participant's cash and position
// balances through a simulation run.
//
// CashQ and PositionQtyQ are TOTAL balances, not free balances.
// LockedCashQ and LockedPositionQtyQ are encumbered sub-balances held
// against resting orders; available balance is always Total - Locked.
// This mirrors the teacher's settlement.Account cash/holdings split,
// reshaped from a multi-account clearing house into one account with
// explicit lock/unlock operations instead of netted settlement.
package ledger

import "fmt"

// Side mirrors matching.Side without importing it, so ledger has no
// dependency on the matching engine's internal order representation.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

// Ledger holds the total and locked cash/position balances for one
// participant account.
type Ledger struct {
	CashQ                 int64
	PositionQtyQ          int64
	LockedCashQ           int64
	LockedPositionQtyQ    int64
}

// New constructs a Ledger with the given initial balances.
func New(cashQ, positionQtyQ, lockedCashQ, lockedPositionQtyQ int64) (*Ledger, error) {
	l := &Ledger{
		CashQ:              cashQ,
		PositionQtyQ:       positionQtyQ,
		LockedCashQ:        lockedCashQ,
		LockedPositionQtyQ: lockedPositionQtyQ,
	}
	if err := l.checkInvariant(); err != nil {
		return nil, err
	}
	return l, nil
}

// InvariantViolated reports a broken 0 <= locked <= total invariant.
type InvariantViolated struct {
	Kind   string
	Total  int64
	Locked int64
}

func (e *InvariantViolated) Error() string {
	return fmt.Sprintf("ledger: invariant violated for %s: locked=%d total=%d (want 0 <= locked <= total)", e.Kind, e.Locked, e.Total)
}

func (l *Ledger) checkInvariant() error {
	if l.LockedCashQ < 0 || l.LockedCashQ > l.CashQ {
		return &InvariantViolated{Kind: "cash", Total: l.CashQ, Locked: l.LockedCashQ}
	}
	if l.LockedPositionQtyQ < 0 || l.LockedPositionQtyQ > l.PositionQtyQ {
		return &InvariantViolated{Kind: "position", Total: l.PositionQtyQ, Locked: l.LockedPositionQtyQ}
	}
	return nil
}

// AvailableCashQ returns the unlocked cash balance.
func (l *Ledger) AvailableCashQ() int64 { return l.CashQ - l.LockedCashQ }

// AvailablePositionQtyQ returns the unlocked position balance.
func (l *Ledger) AvailablePositionQtyQ() int64 { return l.PositionQtyQ - l.LockedPositionQtyQ }

// LockCash encumbers qty of cash against a resting buy order. It fails
// if insufficient cash is available.
func (l *Ledger) LockCash(qty int64) error {
	if qty < 0 {
		return fmt.Errorf("ledger: LockCash: negative qty %d", qty)
	}
	if qty > l.AvailableCashQ() {
		return fmt.Errorf("ledger: LockCash: insufficient cash: available=%d want=%d", l.AvailableCashQ(), qty)
	}
	l.LockedCashQ += qty
	return l.checkInvariant()
}

// UnlockCash releases qty of previously locked cash, e.g. on cancel.
func (l *Ledger) UnlockCash(qty int64) error {
	if qty < 0 {
		return fmt.Errorf("ledger: UnlockCash: negative qty %d", qty)
	}
	if qty > l.LockedCashQ {
		return fmt.Errorf("ledger: UnlockCash: unlocking more than locked: locked=%d want=%d", l.LockedCashQ, qty)
	}
	l.LockedCashQ -= qty
	return l.checkInvariant()
}

// LockPosition encumbers qty of position against a resting sell order.
func (l *Ledger) LockPosition(qty int64) error {
	if qty < 0 {
		return fmt.Errorf("ledger: LockPosition: negative qty %d", qty)
	}
	if qty > l.AvailablePositionQtyQ() {
		return fmt.Errorf("ledger: LockPosition: insufficient position: available=%d want=%d", l.AvailablePositionQtyQ(), qty)
	}
	l.LockedPositionQtyQ += qty
	return l.checkInvariant()
}

// UnlockPosition releases qty of previously locked position.
func (l *Ledger) UnlockPosition(qty int64) error {
	if qty < 0 {
		return fmt.Errorf("ledger: UnlockPosition: negative qty %d", qty)
	}
	if qty > l.LockedPositionQtyQ {
		return fmt.Errorf("ledger: UnlockPosition: unlocking more than locked: locked=%d want=%d", l.LockedPositionQtyQ, qty)
	}
	l.LockedPositionQtyQ -= qty
	return l.checkInvariant()
}

// ApplyFill settles a single fill against this account. side is the
// side of the participant owning this ledger in the fill (not
// necessarily the taker side). notionalQ and feeQ are both
// non-negative; a buy pays notional+fee, a sell receives notional-fee.
// releaseLockedCashQ (for a buy) and releaseLockedPositionQ (for a
// sell) are the share of the lock taken when the originating order
// was entered that this fill settles; they are released here as part
// of settlement. Pass 0 for a balance that was never locked.
func (l *Ledger) ApplyFill(side Side, qtyQ, notionalQ, feeQ, releaseLockedCashQ, releaseLockedPositionQ int64) error {
	if qtyQ < 0 || notionalQ < 0 || feeQ < 0 {
		return fmt.Errorf("ledger: ApplyFill: negative magnitude qty=%d notional=%d fee=%d", qtyQ, notionalQ, feeQ)
	}
	switch side {
	case SideBuy:
		l.CashQ -= notionalQ + feeQ
		l.PositionQtyQ += qtyQ
	case SideSell:
		l.CashQ += notionalQ - feeQ
		l.PositionQtyQ -= qtyQ
	default:
		return fmt.Errorf("ledger: ApplyFill: unknown side %v", side)
	}
	if releaseLockedCashQ > 0 {
		if err := l.UnlockCash(releaseLockedCashQ); err != nil {
			return err
		}
	}
	if releaseLockedPositionQ > 0 {
		if err := l.UnlockPosition(releaseLockedPositionQ); err != nil {
			return err
		}
	}
	return l.checkInvariant()
}
