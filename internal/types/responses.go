package types

// Level is one aggregated price level of the order book: the total remaining
// quantity across all open orders resting at that price.
type Level struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Orders   int     `json:"orders"`
}

// OrderBook is a read-only projection of the open orders for one market.
// Bids are sorted descending by price, asks ascending.
type OrderBook struct {
	MarketID string  `json:"market_id"`
	Bids     []Level `json:"bids"`
	Asks     []Level `json:"asks"`
}

// SpreadInfo summarizes the top of the book.
type SpreadInfo struct {
	BestBid   float64 `json:"best_bid"`
	BestAsk   float64 `json:"best_ask"`
	Spread    float64 `json:"spread"`
	SpreadPct float64 `json:"spread_pct"`
}
