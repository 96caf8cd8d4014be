// Package orderbook implements the price-time-priority resting-order
// book: a red-black tree of price levels per side, each level a FIFO
// queue of the participant's own resting orders plus an aggregate
// "phantom" quantity representing the anonymous market depth the
// replayed feed displays at that price.
//
// A new resting order always enters behind the level's current phantom
// quantity (spec's resolution of the queue-position open question): as
// the replayed feed shows that depth being consumed by the rest of the
// market, the phantom quantity is drawn down first, and only once it
// is exhausted does further consumption reach the participant's own
// orders, oldest first.
//
// Grounded on the teacher's orderbook.OrderBook/PriceLevel (FIFO per
// price, cached best bid/ask) with the hand-rolled red-black tree
// (rbtree.go) replaced by github.com/emirpasic/gods/v2/trees/redblacktree;
// the per-level FIFO queue stays a doubly-linked list (pricelevel.go),
// since gods has no ordered multimap suited to O(1) mid-queue
// cancellation.
package orderbook

import (
	"github.com/emirpasic/gods/v2/trees/redblacktree"
	"github.com/emirpasic/gods/v2/utils"
)

// Side identifies which side of the book a resting order sits on.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

// Book is a two-sided price-time-priority order book. Bids are
// ordered best-(highest)-price-first; asks best-(lowest)-price-first.
type Book struct {
	bids  *redblacktree.Tree[int64, *PriceLevel]
	asks  *redblacktree.Tree[int64, *PriceLevel]
	nodes map[uint64]*OrderNode
}

// New constructs an empty two-sided book.
func New() *Book {
	descending := func(a, b int64) int { return utils.Int64Comparator(b, a) }
	return &Book{
		bids:  redblacktree.NewWith[int64, *PriceLevel](descending),
		asks:  redblacktree.NewWith[int64, *PriceLevel](utils.Int64Comparator),
		nodes: make(map[uint64]*OrderNode),
	}
}

func (b *Book) tree(side Side) *redblacktree.Tree[int64, *PriceLevel] {
	if side == SideBuy {
		return b.bids
	}
	return b.asks
}

// BestBid returns the best (highest) bid level, or nil if the bid side
// is empty.
func (b *Book) BestBid() *PriceLevel {
	node := b.bids.Left()
	if node == nil {
		return nil
	}
	return node.Value
}

// BestAsk returns the best (lowest) ask level, or nil if the ask side
// is empty.
func (b *Book) BestAsk() *PriceLevel {
	node := b.asks.Left()
	if node == nil {
		return nil
	}
	return node.Value
}

// LevelAt returns the price level at priceQ on the given side, or nil
// if neither a resting order nor phantom depth exists there.
func (b *Book) LevelAt(side Side, priceQ int64) *PriceLevel {
	lvl, found := b.tree(side).Get(priceQ)
	if !found {
		return nil
	}
	return lvl
}

func (b *Book) levelOrCreate(side Side, priceQ int64) *PriceLevel {
	tree := b.tree(side)
	lvl, found := tree.Get(priceQ)
	if !found {
		lvl = NewPriceLevel(priceQ)
		tree.Put(priceQ, lvl)
	}
	return lvl
}

func (b *Book) dropIfEmpty(side Side, lvl *PriceLevel) {
	if lvl.IsEmpty() {
		b.tree(side).Remove(lvl.PriceQ)
	}
}

// AddOrder inserts a new resting order at priceQ on side, behind
// whatever phantom depth currently rests at that price, and returns
// its queue node for later cancellation/reduction.
func (b *Book) AddOrder(side Side, orderID uint64, priceQ, qtyQ int64) *OrderNode {
	lvl := b.levelOrCreate(side, priceQ)
	n := lvl.Append(orderID, qtyQ)
	b.nodes[orderID] = n
	return n
}

// Cancel removes the resting order with the given ID from the book.
// It is a no-op if the order is not currently resting.
func (b *Book) Cancel(side Side, orderID uint64) bool {
	n, ok := b.nodes[orderID]
	if !ok {
		return false
	}
	lvl := n.level
	lvl.Remove(n)
	delete(b.nodes, orderID)
	b.dropIfEmpty(side, lvl)
	return true
}

// Reduce shrinks a resting order's remaining quantity, e.g. after a
// partial fill, removing it entirely (and its level, if now empty and
// phantom-free) once qtyQ reaches the order's full remaining size.
func (b *Book) Reduce(side Side, orderID uint64, qtyQ int64) {
	n, ok := b.nodes[orderID]
	if !ok {
		return
	}
	lvl := n.level
	if qtyQ >= n.QtyQ {
		lvl.Remove(n)
		delete(b.nodes, orderID)
	} else {
		lvl.reduce(n, qtyQ)
	}
	b.dropIfEmpty(side, lvl)
}

// Get returns the resting-order node for orderID, if it is still
// resting in the book.
func (b *Book) Get(orderID uint64) (*OrderNode, bool) {
	n, ok := b.nodes[orderID]
	return n, ok
}

// PhantomFill is produced when consuming replayed market depth drives
// through the phantom quantity at a level and reaches the
// participant's own resting order(s).
type PhantomFill struct {
	OrderID uint64
	QtyQ    int64
}

// AdjustDisplayed applies deltaQty of observed change in the
// anonymous market depth at priceQ on side, relative to whatever the
// caller last reported for this price (the engine's own per-price
// depth cache, independent of any direct phantom drawdown match() has
// since applied for the participant's own taker fills). A positive
// deltaQty is new depth arriving, which always queues ahead of the
// participant's own resting orders there, matching this simulator's
// pessimistic assumption that true queue position relative to
// anonymous depth is unobservable and should never be assumed better
// than last-in-line. A negative deltaQty is inferred depth consumed
// since the last observation: it is drawn from the level's phantom
// buffer first, and only once that is exhausted -- which can now
// happen, since deltaQty is independent of match()'s own live
// drawdown -- against the participant's own resting orders in FIFO
// order, each producing a PhantomFill.
func (b *Book) AdjustDisplayed(side Side, priceQ, deltaQty int64) []PhantomFill {
	if deltaQty == 0 {
		return nil
	}
	if deltaQty > 0 {
		lvl := b.levelOrCreate(side, priceQ)
		lvl.PhantomQtyQ += deltaQty
		return nil
	}

	lvl := b.LevelAt(side, priceQ)
	if lvl == nil {
		return nil
	}

	consume := -deltaQty
	fromPhantom := consume
	if fromPhantom > lvl.PhantomQtyQ {
		fromPhantom = lvl.PhantomQtyQ
	}
	lvl.PhantomQtyQ -= fromPhantom
	remaining := consume - fromPhantom

	var fills []PhantomFill
	for remaining > 0 {
		n := lvl.Head()
		if n == nil {
			break
		}
		qty := n.QtyQ
		if qty > remaining {
			qty = remaining
		}
		fills = append(fills, PhantomFill{OrderID: n.OrderID, QtyQ: qty})
		if qty >= n.QtyQ {
			lvl.Remove(n)
			delete(b.nodes, n.OrderID)
		} else {
			lvl.reduce(n, qty)
		}
		remaining -= qty
	}
	b.dropIfEmpty(side, lvl)
	return fills
}
