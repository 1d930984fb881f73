package engine

import (
	"testing"
	"time"

	"github.com/foretell/foretell-api/internal/types"
)

func TestBuildBookAggregatesLevels(t *testing.T) {
	now := time.Now()
	orders := []*types.Order{
		newOrder("b1", types.SideBuy, types.OutcomeYes, fp(0.6), 10, now),
		newOrder("b2", types.SideBuy, types.OutcomeYes, fp(0.6), 5, now),
		newOrder("b3", types.SideBuy, types.OutcomeYes, fp(0.4), 3, now),
		newOrder("s1", types.SideSell, types.OutcomeYes, fp(0.7), 8, now),
		newOrder("s2", types.SideSell, types.OutcomeYes, fp(0.65), 2, now),
	}
	// Partially filled orders contribute their remaining quantity only.
	orders[0].FilledQuantity = 4
	orders[0].Status = types.OrderStatusPartiallyFilled

	book := BuildBook(orders, "mkt-1")

	if len(book.Bids) != 2 {
		t.Fatalf("expected 2 bid levels, got %d", len(book.Bids))
	}
	if book.Bids[0].Price != 0.6 || book.Bids[1].Price != 0.4 {
		t.Errorf("bids must be sorted descending, got %v", book.Bids)
	}
	if book.Bids[0].Quantity != 11 {
		t.Errorf("expected aggregated remaining 11 at 0.6, got %f", book.Bids[0].Quantity)
	}
	if book.Bids[0].Orders != 2 {
		t.Errorf("expected 2 orders at 0.6, got %d", book.Bids[0].Orders)
	}

	if len(book.Asks) != 2 {
		t.Fatalf("expected 2 ask levels, got %d", len(book.Asks))
	}
	if book.Asks[0].Price != 0.65 || book.Asks[1].Price != 0.7 {
		t.Errorf("asks must be sorted ascending, got %v", book.Asks)
	}
}

func TestBuildBookExcludesClosedAndForeignOrders(t *testing.T) {
	now := time.Now()
	cancelled := newOrder("b1", types.SideBuy, types.OutcomeYes, fp(0.5), 10, now)
	cancelled.Status = types.OrderStatusCancelled
	filled := newOrder("b2", types.SideBuy, types.OutcomeYes, fp(0.5), 10, now)
	filled.FilledQuantity = 10
	filled.Status = types.OrderStatusFilled
	foreign := newOrder("b3", types.SideBuy, types.OutcomeYes, fp(0.5), 10, now)
	foreign.MarketID = "mkt-other"

	book := BuildBook([]*types.Order{cancelled, filled, foreign}, "mkt-1")

	if len(book.Bids) != 0 || len(book.Asks) != 0 {
		t.Errorf("expected empty book, got %d bids, %d asks", len(book.Bids), len(book.Asks))
	}
}

func TestBuildBookMarketOrderSentinel(t *testing.T) {
	now := time.Now()
	orders := []*types.Order{
		newOrder("b1", types.SideBuy, types.OutcomeYes, nil, 4, now),
		newOrder("s1", types.SideSell, types.OutcomeNo, nil, 6, now),
	}

	book := BuildBook(orders, "mkt-1")

	if len(book.Bids) != 1 || book.Bids[0].Price != 0.5 {
		t.Fatalf("market bid must aggregate at the 0.5 sentinel, got %v", book.Bids)
	}
	if len(book.Asks) != 1 || book.Asks[0].Price != 0.5 {
		t.Fatalf("market ask must aggregate at the 0.5 sentinel, got %v", book.Asks)
	}
}

func TestSpread(t *testing.T) {
	tests := []struct {
		name     string
		book     types.OrderBook
		bestBid  float64
		bestAsk  float64
		spread   float64
		spreadPc float64
	}{
		{
			name: "two sided",
			book: types.OrderBook{
				Bids: []types.Level{{Price: 0.4, Quantity: 10}},
				Asks: []types.Level{{Price: 0.6, Quantity: 5}},
			},
			bestBid: 0.4, bestAsk: 0.6, spread: 0.2, spreadPc: 50,
		},
		{
			name:    "empty book uses contract bounds",
			book:    types.OrderBook{},
			bestBid: 0, bestAsk: 1, spread: 1, spreadPc: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Spread(tt.book)
			if !almostEqual(info.BestBid, tt.bestBid) || !almostEqual(info.BestAsk, tt.bestAsk) {
				t.Errorf("expected bid/ask %f/%f, got %f/%f", tt.bestBid, tt.bestAsk, info.BestBid, info.BestAsk)
			}
			if !almostEqual(info.Spread, tt.spread) {
				t.Errorf("expected spread %f, got %f", tt.spread, info.Spread)
			}
			if !almostEqual(info.SpreadPct, tt.spreadPc) {
				t.Errorf("expected spread pct %f, got %f", tt.spreadPc, info.SpreadPct)
			}
		})
	}
}
