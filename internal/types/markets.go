package types

import (
	"time"

	"gorm.io/gorm"
)

// Order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Binary outcomes every market resolves to.
const (
	OutcomeYes = "YES"
	OutcomeNo  = "NO"
)

// Order types.
const (
	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"
)

// Order statuses. CANCELLED is a terminal override; the other three are
// derivable from FilledQuantity vs Quantity.
const (
	OrderStatusOpen            = "OPEN"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCancelled       = "CANCELLED"
)

// Submission statuses.
const (
	SubmissionStatusPending  = "PENDING"
	SubmissionStatusApproved = "APPROVED"
	SubmissionStatusRejected = "REJECTED"
)

// FeeRate is the flat fee charged on every trade (2% of notional).
const FeeRate = 0.02

// Market is a binary-outcome contract with a continuously updated implied
// probability. YesPrice is expressed in probability points [1,99]; it is
// never allowed to reach the 0/100 boundary. Volume is cumulative notional
// (sum of quantity*price over all trades) and only ever grows.
type Market struct {
	gorm.Model     `json:"-"`
	MarketID       string    `gorm:"uniqueIndex" json:"market_id"`
	Title          string    `json:"title"`
	Slug           string    `json:"slug"`
	Description    string    `json:"description"`
	Category       string    `json:"category"`
	EndDate        time.Time `json:"end_date"`
	YesPrice       float64   `json:"yes_price"`
	Volume         float64   `json:"volume"`
	CreatorID      string    `json:"creator_id"`
	CreatorName    string    `json:"creator_name"`
	Rules          string    `json:"rules"`
	ResolutionType string    `json:"resolution_type"` // chainlink, official_url, exchange_price, custom_api
	ResolutionURL  string    `json:"resolution_url,omitempty"`
	ResolutionFeed string    `json:"resolution_feed,omitempty"`
	Featured       bool      `json:"featured"`
	Seeded         bool      `json:"seeded"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MarketSubmission is a user-proposed market awaiting admin review.
type MarketSubmission struct {
	gorm.Model       `json:"-"`
	SubmissionID     string    `gorm:"uniqueIndex" json:"submission_id"`
	Title            string    `json:"title"`
	Slug             string    `json:"slug"`
	Description      string    `json:"description"`
	Category         string    `json:"category"`
	Rules            string    `json:"rules"`
	ResolutionType   string    `json:"resolution_type"`
	ResolutionURL    string    `json:"resolution_url,omitempty"`
	ResolutionFeed   string    `json:"resolution_feed,omitempty"`
	EndDate          time.Time `json:"end_date"`
	MinLiquidity     float64   `json:"min_liquidity,omitempty"`
	CreatorID        string    `json:"creator_id"`
	CreatorName      string    `json:"creator_name"`
	Status           string    `json:"status"` // PENDING, APPROVED, REJECTED
	RejectionReason  string    `json:"rejection_reason,omitempty"`
	ApprovedMarketID string    `json:"approved_market_id,omitempty"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// Order is a standing instruction to buy or sell a quantity of one binary
// outcome. Price is nil for MARKET orders and fractional [0,1] for LIMIT
// orders. FilledQuantity never exceeds Quantity.
type Order struct {
	gorm.Model     `json:"-"`
	OrderID        string    `gorm:"uniqueIndex" json:"order_id"`
	MarketID       string    `gorm:"index" json:"market_id"`
	UserID         string    `json:"user_id"`
	Side           string    `json:"side"`       // BUY or SELL
	Outcome        string    `json:"outcome"`    // YES or NO
	OrderType      string    `json:"order_type"` // LIMIT or MARKET
	Price          *float64  `json:"price,omitempty"`
	Quantity       float64   `json:"quantity"`
	FilledQuantity float64   `json:"filled_quantity"`
	Status         string    `json:"status"` // OPEN, PARTIALLY_FILLED, FILLED, CANCELLED
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Remaining returns the unmatched portion of the order.
func (o *Order) Remaining() float64 {
	return o.Quantity - o.FilledQuantity
}

// IsOpen reports whether the order can still participate in matching.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusOpen || o.Status == OrderStatusPartiallyFilled
}

// Trade is an immutable record of one match between a buy and a sell order.
// Both sides act on the same outcome. Price is fractional [0,1].
type Trade struct {
	gorm.Model `json:"-"`
	TradeID    string    `gorm:"uniqueIndex" json:"trade_id"`
	MarketID   string    `gorm:"index" json:"market_id"`
	BuyerID    string    `json:"buyer_id"`
	SellerID   string    `json:"seller_id"`
	Outcome    string    `json:"outcome"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Fee        float64   `json:"fee"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Wallet holds a user's simulated balance.
type Wallet struct {
	gorm.Model `json:"-"`
	UserID     string    `gorm:"uniqueIndex" json:"user_id"`
	Address    string    `json:"address,omitempty"`
	Balance    float64   `json:"balance"`
	Network    string    `json:"network"` // ethereum, solana, demo
	Connected  bool      `json:"connected"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
