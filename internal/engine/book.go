package engine

import (
	"sort"

	"github.com/foretell/foretell-api/internal/types"
)

// sentinelPrice stands in for a MARKET order's undefined price wherever a
// concrete number is needed (book display, both-sides-market executions).
const sentinelPrice = 0.5

// displayPrice returns the price used for book aggregation.
func displayPrice(o *types.Order) float64 {
	if o.Price == nil {
		return sentinelPrice
	}
	return *o.Price
}

// BuildBook projects the given orders into an aggregated order book for one
// market. Only open orders (OPEN or PARTIALLY_FILLED) for that market are
// considered; remaining quantity is summed per distinct price level. The
// projection never mutates order state.
func BuildBook(orders []*types.Order, marketID string) types.OrderBook {
	bidLevels := make(map[float64]*types.Level)
	askLevels := make(map[float64]*types.Level)

	for _, o := range orders {
		if o.MarketID != marketID || !o.IsOpen() {
			continue
		}

		levels := bidLevels
		if o.Side == types.SideSell {
			levels = askLevels
		}

		price := displayPrice(o)
		lvl, ok := levels[price]
		if !ok {
			lvl = &types.Level{Price: price}
			levels[price] = lvl
		}
		lvl.Quantity += o.Remaining()
		lvl.Orders++
	}

	book := types.OrderBook{
		MarketID: marketID,
		Bids:     flatten(bidLevels),
		Asks:     flatten(askLevels),
	}

	// Bids best-first means highest price first; asks the opposite.
	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price > book.Bids[j].Price })
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].Price < book.Asks[j].Price })

	return book
}

func flatten(levels map[float64]*types.Level) []types.Level {
	out := make([]types.Level, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, *lvl)
	}
	return out
}

// Spread summarizes the top of the book. An empty bid side reports a best bid
// of 0, an empty ask side a best ask of 1 (the price bounds of a binary
// contract).
func Spread(book types.OrderBook) types.SpreadInfo {
	info := types.SpreadInfo{BestBid: 0, BestAsk: 1}
	if len(book.Bids) > 0 {
		info.BestBid = book.Bids[0].Price
	}
	if len(book.Asks) > 0 {
		info.BestAsk = book.Asks[0].Price
	}
	info.Spread = info.BestAsk - info.BestBid
	if info.BestBid > 0 {
		info.SpreadPct = info.Spread / info.BestBid * 100
	}
	return info
}
