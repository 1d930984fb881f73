// Package engine implements the order matching and pricing core: it pairs
// crossing buy/sell orders on a market's binary outcomes by price-time
// priority, emits trade records, and nudges the market's implied probability
// toward the latest execution price.
//
// The engine is pure in-memory and run-to-completion; it performs no I/O and
// assumes the caller serializes matching passes per market.
package engine

import (
	"container/heap"
	"time"

	"github.com/google/uuid"

	"github.com/foretell/foretell-api/internal/types"
)

// priceDamping is how far the market's implied probability moves toward each
// execution price (5% per trade).
const priceDamping = 0.05

// YesPrice bounds. The probability is clamped away from certainty.
const (
	minYesPrice = 1
	maxYesPrice = 99
)

type heapEntry struct {
	order *types.Order
	seq   int
}

// orderHeap orders open orders by price-time priority. For bids the best
// order is the highest-priced one, for asks the lowest-priced one; MARKET
// orders (nil price) rank ahead of any limit order on their side. Ties break
// by earliest creation time, then by arrival sequence.
type orderHeap struct {
	entries []heapEntry
	bids    bool
}

func (h *orderHeap) Len() int { return len(h.entries) }

func (h *orderHeap) Less(i, j int) bool {
	a, b := h.entries[i], h.entries[j]
	ap, bp := a.order.Price, b.order.Price

	switch {
	case ap == nil && bp != nil:
		return true
	case ap != nil && bp == nil:
		return false
	case ap != nil && bp != nil && *ap != *bp:
		if h.bids {
			return *ap > *bp
		}
		return *ap < *bp
	}

	if !a.order.CreatedAt.Equal(b.order.CreatedAt) {
		return a.order.CreatedAt.Before(b.order.CreatedAt)
	}
	return a.seq < b.seq
}

func (h *orderHeap) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }

func (h *orderHeap) Push(x any) { h.entries = append(h.entries, x.(heapEntry)) }

func (h *orderHeap) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	h.entries = old[:n-1]
	return e
}

func (h *orderHeap) peek() *types.Order { return h.entries[0].order }

// crosses reports whether the best bid and best ask are eligible to trade.
// A MARKET order on either side matches any counterparty price.
func crosses(bid, ask *types.Order) bool {
	return bid.Price == nil || ask.Price == nil || *bid.Price >= *ask.Price
}

// executionPrice favors the resting sell's limit price, then the buy's, then
// the midpoint sentinel when both sides are MARKET orders.
func executionPrice(bid, ask *types.Order) float64 {
	switch {
	case ask.Price != nil:
		return *ask.Price
	case bid.Price != nil:
		return *bid.Price
	default:
		return sentinelPrice
	}
}

// Match runs one matching pass over the open orders of a single market.
//
// Orders are mutated in place (FilledQuantity, Status) and the market's
// YesPrice and Volume are updated sequentially per trade. The returned trades
// are in execution order. Orders belonging to other markets, orders that are
// not open, and cross-outcome pairs never match. A book with no crossing
// prices produces zero trades and leaves everything untouched, so a second
// pass over an already-matched book is a no-op.
func Match(market *types.Market, orders []*types.Order) []*types.Trade {
	var trades []*types.Trade
	for _, outcome := range []string{types.OutcomeYes, types.OutcomeNo} {
		trades = append(trades, matchOutcome(market, orders, outcome)...)
	}
	return trades
}

func matchOutcome(market *types.Market, orders []*types.Order, outcome string) []*types.Trade {
	bids := &orderHeap{bids: true}
	asks := &orderHeap{}

	for i, o := range orders {
		if o.MarketID != market.MarketID || o.Outcome != outcome || !o.IsOpen() {
			continue
		}
		e := heapEntry{order: o, seq: i}
		if o.Side == types.SideBuy {
			bids.entries = append(bids.entries, e)
		} else {
			asks.entries = append(asks.entries, e)
		}
	}
	heap.Init(bids)
	heap.Init(asks)

	var trades []*types.Trade
	for bids.Len() > 0 && asks.Len() > 0 {
		bid, ask := bids.peek(), asks.peek()
		if !crosses(bid, ask) {
			break
		}

		qty := min(bid.Remaining(), ask.Remaining())
		if qty <= 0 {
			// Fully consumed entries are popped below; this only guards a
			// zero-quantity order slipping into the book.
			if bid.Remaining() <= 0 {
				heap.Pop(bids)
			} else {
				heap.Pop(asks)
			}
			continue
		}

		price := executionPrice(bid, ask)
		trades = append(trades, &types.Trade{
			TradeID:    uuid.New().String(),
			MarketID:   market.MarketID,
			BuyerID:    bid.UserID,
			SellerID:   ask.UserID,
			Outcome:    outcome,
			Quantity:   qty,
			Price:      price,
			Fee:        qty * price * types.FeeRate,
			ExecutedAt: time.Now(),
		})

		fill(bid, qty)
		fill(ask, qty)
		applyTrade(market, qty, price)

		if bid.Remaining() <= 0 {
			heap.Pop(bids)
		}
		if ask.Remaining() <= 0 {
			heap.Pop(asks)
		}
	}
	return trades
}

func fill(o *types.Order, qty float64) {
	o.FilledQuantity += qty
	if o.FilledQuantity >= o.Quantity {
		o.FilledQuantity = o.Quantity
		o.Status = types.OrderStatusFilled
	} else {
		o.Status = types.OrderStatusPartiallyFilled
	}
}

// applyTrade folds one execution into the market: volume grows by the traded
// notional and the implied probability moves 5% of the way toward the
// execution price, clamped to [1,99]. Execution prices are fractional, so the
// nudge converts to probability points first.
func applyTrade(market *types.Market, qty, price float64) {
	market.Volume += qty * price
	market.YesPrice = clamp(market.YesPrice+(price*100-market.YesPrice)*priceDamping, minYesPrice, maxYesPrice)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
