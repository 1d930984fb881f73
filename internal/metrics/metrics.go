// Package metrics declares the Prometheus instruments for the trading core.
// Exposed on GET /metrics; intended for Grafana dashboards in the demo stack.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OrdersPlaced counts accepted orders by side.
var OrdersPlaced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "foretell",
		Subsystem: "trading",
		Name:      "orders_placed_total",
		Help:      "Total number of orders accepted",
	},
	[]string{"side", "order_type"},
)

// TradesMatched counts trades emitted by matching passes.
var TradesMatched = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "foretell",
		Subsystem: "trading",
		Name:      "trades_matched_total",
		Help:      "Total number of trades produced by the matching engine",
	},
	[]string{"outcome"},
)

// TradedVolume accumulates notional traded across all markets.
var TradedVolume = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "foretell",
		Subsystem: "trading",
		Name:      "traded_volume_total",
		Help:      "Cumulative notional traded (quantity x price)",
	},
)

// MatchingPassDuration observes how long a matching pass takes end to end,
// including persistence.
var MatchingPassDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "foretell",
		Subsystem: "trading",
		Name:      "matching_pass_duration_ms",
		Help:      "Duration of a matching pass in milliseconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250},
	},
)

// SubmissionsReviewed counts admin review decisions.
var SubmissionsReviewed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "foretell",
		Subsystem: "markets",
		Name:      "submissions_reviewed_total",
		Help:      "Total number of market submissions reviewed",
	},
	[]string{"decision"}, // approved, rejected, auto_rejected
)

// RecordOrder records an accepted order.
func RecordOrder(side, orderType string) {
	OrdersPlaced.WithLabelValues(side, orderType).Inc()
}

// RecordTrade records one matched trade and its notional.
func RecordTrade(outcome string, quantity, price float64) {
	TradesMatched.WithLabelValues(outcome).Inc()
	TradedVolume.Add(quantity * price)
}

// RecordReview records a submission review decision.
func RecordReview(decision string) {
	SubmissionsReviewed.WithLabelValues(decision).Inc()
}
