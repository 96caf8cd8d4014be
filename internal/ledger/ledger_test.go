package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsBrokenInvariant(t *testing.T) {
	_, err := New(100, 0, 150, 0)
	require.Error(t, err)
	var inv *InvariantViolated
	require.ErrorAs(t, err, &inv)
	require.Equal(t, "cash", inv.Kind)
}

func TestLockUnlockCashRoundTrip(t *testing.T) {
	l, err := New(1000, 0, 0, 0)
	require.NoError(t, err)

	require.NoError(t, l.LockCash(400))
	require.Equal(t, int64(600), l.AvailableCashQ())

	require.NoError(t, l.UnlockCash(400))
	require.Equal(t, int64(1000), l.AvailableCashQ())
}

func TestLockCashRejectsInsufficientAvailable(t *testing.T) {
	l, err := New(100, 0, 0, 0)
	require.NoError(t, err)
	require.Error(t, l.LockCash(101))
}

func TestUnlockCashRejectsOverUnlock(t *testing.T) {
	l, err := New(100, 0, 50, 0)
	require.NoError(t, err)
	require.Error(t, l.UnlockCash(51))
}

// TestApplyFillBuySettlesCashAndPosition exercises property P1: the
// 0 <= locked <= total invariant holds after settlement, and a buy
// fill debits notional+fee while crediting position.
func TestApplyFillBuySettlesCashAndPosition(t *testing.T) {
	l, err := New(1000, 0, 1000, 0)
	require.NoError(t, err)

	require.NoError(t, l.ApplyFill(SideBuy, 10, 500, 5, 505, 0))
	require.Equal(t, int64(495), l.CashQ)
	require.Equal(t, int64(10), l.PositionQtyQ)
	require.Equal(t, int64(495), l.LockedCashQ)
}

func TestApplyFillSellSettlesCashAndPosition(t *testing.T) {
	l, err := New(0, 10, 0, 10)
	require.NoError(t, err)

	require.NoError(t, l.ApplyFill(SideSell, 10, 500, 5, 0, 10))
	require.Equal(t, int64(495), l.CashQ)
	require.Equal(t, int64(0), l.PositionQtyQ)
	require.Equal(t, int64(0), l.LockedPositionQtyQ)
}

func TestApplyFillRejectsNegativeMagnitudes(t *testing.T) {
	l, err := New(1000, 0, 0, 0)
	require.NoError(t, err)
	require.Error(t, l.ApplyFill(SideBuy, -1, 0, 0, 0, 0))
}
