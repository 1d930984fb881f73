package trading

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/foretell/foretell-api/internal/auth"
	"github.com/foretell/foretell-api/internal/engine"
	"github.com/foretell/foretell-api/internal/metrics"
	"github.com/foretell/foretell-api/internal/types"
	"github.com/foretell/foretell-api/internal/ws"
	"github.com/foretell/foretell-api/pkg/response"
)

var (
	ErrUnknownMarket = errors.New("unknown market")
	ErrOrderClosed   = errors.New("order is already filled or cancelled")
)

// Service handles order intake and runs matching passes. Matching passes are
// serialized per market: the engine's nested mutation of fill state is not
// safe under interleaved writes for the same market.
type Service struct {
	db  *Database
	hub *ws.Hub

	mu          sync.Mutex
	marketLocks map[string]*sync.Mutex
}

// NewService creates a new trading service with the given database
// connection. The hub may be nil, in which case no events are broadcast.
func NewService(gormDB *gorm.DB, hub *ws.Hub) *Service {
	return &Service{
		db:          NewDatabase(gormDB),
		hub:         hub,
		marketLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) marketLock(marketID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.marketLocks[marketID]
	if !ok {
		lock = &sync.Mutex{}
		s.marketLocks[marketID] = lock
	}
	return lock
}

// PlaceOrder accepts a new order with idempotency support, persists it, and
// runs a matching pass for its market. The order is assumed validated by the
// caller (handler) apart from the market existence check.
func (s *Service) PlaceOrder(order *types.Order, idempotencyKey string) error {
	// Check for existing idempotency record
	record, err := s.db.GetIdempotencyRecord(idempotencyKey)
	if err == nil && record != nil && record.ResourceID != "" && record.ExpiresAt.After(time.Now()) {
		existing, err := s.db.GetOrder(record.ResourceID)
		if err != nil {
			return err
		}
		if existing == nil {
			return errors.New("order not found")
		}
		*order = *existing
		return nil
	}

	market, err := s.db.GetMarket(order.MarketID)
	if err != nil {
		return err
	}
	if market == nil {
		return ErrUnknownMarket
	}

	order.OrderID = uuid.New().String()
	order.FilledQuantity = 0
	order.Status = types.OrderStatusOpen
	order.CreatedAt = time.Now()
	order.UpdatedAt = time.Now()

	if err := s.db.CreateOrderWithIdempotency(order, idempotencyKey); err != nil {
		return err
	}

	metrics.RecordOrder(order.Side, order.OrderType)

	log.Info().
		Str("order_id", order.OrderID).
		Str("market_id", order.MarketID).
		Str("side", order.Side).
		Str("outcome", order.Outcome).
		Float64("quantity", order.Quantity).
		Msg("order accepted")

	if err := s.MatchMarket(order.MarketID); err != nil {
		return err
	}

	// Re-read so the caller sees any fills from the pass just run.
	updated, err := s.db.GetOrder(order.OrderID)
	if err != nil {
		return err
	}
	if updated != nil {
		*order = *updated
	}
	return nil
}

// MatchMarket runs one matching pass over the market's open orders,
// persisting trades, fill state, and the market's price/volume update
// atomically. A market with no crossing orders is left untouched.
func (s *Service) MatchMarket(marketID string) error {
	lock := s.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	logger := log.With().
		Str("market_id", marketID).
		Str("service", "trading").
		Logger()

	start := time.Now()

	market, err := s.db.GetMarket(marketID)
	if err != nil {
		return err
	}
	if market == nil {
		return ErrUnknownMarket
	}

	orders, err := s.db.GetOpenOrders(marketID)
	if err != nil {
		return err
	}

	// Snapshot fill state so only touched orders get written back.
	before := make(map[string]float64, len(orders))
	for _, o := range orders {
		before[o.OrderID] = o.FilledQuantity
	}

	trades := engine.Match(market, orders)
	if len(trades) == 0 {
		logger.Debug().Int("open_orders", len(orders)).Msg("matching pass produced no trades")
		return nil
	}

	var touched []*types.Order
	for _, o := range orders {
		if o.FilledQuantity != before[o.OrderID] {
			o.UpdatedAt = time.Now()
			touched = append(touched, o)
		}
	}

	if err := s.db.SaveMatchResults(market, touched, trades); err != nil {
		logger.Error().Err(err).Msg("failed to persist matching pass")
		return err
	}

	for _, trade := range trades {
		metrics.RecordTrade(trade.Outcome, trade.Quantity, trade.Price)
	}
	metrics.MatchingPassDuration.Observe(float64(time.Since(start).Microseconds()) / 1000)

	s.publish(market, trades)

	logger.Info().
		Int("trades", len(trades)).
		Int("orders_touched", len(touched)).
		Float64("yes_price", market.YesPrice).
		Float64("volume", market.Volume).
		Msg("matching pass completed")

	return nil
}

func (s *Service) publish(market *types.Market, trades []*types.Trade) {
	if s.hub == nil {
		return
	}

	marketChannel := "market:" + market.MarketID
	for _, trade := range trades {
		event := ws.Event{Type: "trade", Payload: trade}
		s.hub.Publish(ws.ChannelTrades, event)
		s.hub.Publish(marketChannel, event)
	}

	priceEvent := ws.Event{Type: "market_price", Payload: gin.H{
		"market_id": market.MarketID,
		"yes_price": market.YesPrice,
		"volume":    market.Volume,
	}}
	s.hub.Publish(ws.ChannelMarkets, priceEvent)
	s.hub.Publish(marketChannel, priceEvent)
}

// GetOrderByOrderIDAndUserID retrieves an order scoped to its owner.
func (s *Service) GetOrderByOrderIDAndUserID(orderID, userID string) (*types.Order, error) {
	return s.db.GetOrderByOrderIDAndUserID(orderID, userID)
}

// GetOrdersByUser lists a user's orders, newest first.
func (s *Service) GetOrdersByUser(userID string) ([]types.Order, error) {
	return s.db.GetOrdersByUser(userID)
}

// CancelOrder marks an order CANCELLED. Filled and already-cancelled orders
// are terminal and cannot be cancelled.
func (s *Service) CancelOrder(orderID, userID string) (*types.Order, error) {
	lockable, err := s.db.GetOrderByOrderIDAndUserID(orderID, userID)
	if err != nil {
		return nil, err
	}
	if lockable == nil {
		return nil, gorm.ErrRecordNotFound
	}

	lock := s.marketLock(lockable.MarketID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a concurrent pass may have filled it.
	order, err := s.db.GetOrderByOrderIDAndUserID(orderID, userID)
	if err != nil {
		return nil, err
	}
	if order.Status == types.OrderStatusFilled || order.Status == types.OrderStatusCancelled {
		return nil, ErrOrderClosed
	}

	order.Status = types.OrderStatusCancelled
	order.UpdatedAt = time.Now()
	if err := s.db.UpdateOrder(order); err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("market_id", order.MarketID).
		Float64("filled_quantity", order.FilledQuantity).
		Msg("order cancelled")

	return order, nil
}

// GetOrderBook returns the aggregated book projection for a market.
func (s *Service) GetOrderBook(marketID string) (*types.OrderBook, *types.SpreadInfo, error) {
	market, err := s.db.GetMarket(marketID)
	if err != nil {
		return nil, nil, err
	}
	if market == nil {
		return nil, nil, ErrUnknownMarket
	}

	orders, err := s.db.GetOpenOrders(marketID)
	if err != nil {
		return nil, nil, err
	}

	book := engine.BuildBook(orders, marketID)
	spread := engine.Spread(book)
	return &book, &spread, nil
}

// ListTrades returns the market's most recent trades.
func (s *Service) ListTrades(marketID string, limit int) ([]types.Trade, error) {
	return s.db.ListTrades(marketID, limit)
}

// GinHandlers contains HTTP handlers for trading endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for trading endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type placeOrderRequest struct {
	MarketID  string   `json:"market_id" binding:"required"`
	Side      string   `json:"side" binding:"required"`
	Outcome   string   `json:"outcome" binding:"required"`
	OrderType string   `json:"order_type" binding:"required"`
	Price     *float64 `json:"price"`
	Quantity  float64  `json:"quantity" binding:"required"`
}

// validate is the form-layer validation the matching core assumes has
// already happened.
func (r *placeOrderRequest) validate() string {
	if r.Side != types.SideBuy && r.Side != types.SideSell {
		return "side must be BUY or SELL"
	}
	if r.Outcome != types.OutcomeYes && r.Outcome != types.OutcomeNo {
		return "outcome must be YES or NO"
	}
	if r.Quantity <= 0 {
		return "quantity must be positive"
	}
	switch r.OrderType {
	case types.OrderTypeLimit:
		if r.Price == nil {
			return "limit orders require a price"
		}
		if *r.Price <= 0 || *r.Price >= 1 {
			return "price must be between 0 and 1 exclusive"
		}
	case types.OrderTypeMarket:
		if r.Price != nil {
			return "market orders must not carry a price"
		}
	default:
		return "order_type must be LIMIT or MARKET"
	}
	return ""
}

// PlaceOrderHandler handles POST requests to place new orders.
// Requires a valid JWT token and idempotency key in headers.
func (h *GinHandlers) PlaceOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		userID := userIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		var req placeOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if msg := req.validate(); msg != "" {
			response.ValidationFailed(c, msg)
			return
		}

		order := &types.Order{
			MarketID:  req.MarketID,
			UserID:    userID,
			Side:      req.Side,
			Outcome:   req.Outcome,
			OrderType: req.OrderType,
			Price:     req.Price,
			Quantity:  req.Quantity,
		}

		if err := h.service.PlaceOrder(order, idempotencyKey); err != nil {
			if errors.Is(err, ErrUnknownMarket) {
				response.NotFound(c, "Market not found")
				return
			}
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, order)
	}
}

// GetOrderStatusHandler handles GET requests to retrieve order status.
// URL parameter: order_id
func (h *GinHandlers) GetOrderStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := userIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		order, err := h.service.GetOrderByOrderIDAndUserID(orderID, userID)
		if err != nil || order == nil {
			response.NotFound(c, "Order not found")
			return
		}

		response.Success(c, order)
	}
}

// ListOrdersHandler handles GET requests for the caller's orders.
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := userIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		orders, err := h.service.GetOrdersByUser(userID)
		response.Handle(c, orders, err)
	}
}

// CancelOrderHandler handles DELETE requests to cancel open orders.
// URL parameter: order_id
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := userIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		order, err := h.service.CancelOrder(c.Param("order_id"), userID)
		if errors.Is(err, ErrOrderClosed) {
			response.Conflict(c, err.Error())
			return
		}
		response.Handle(c, order, err)
	}
}

// OrderBookHandler handles GET requests for a market's aggregated book.
// URL parameter: market_id
func (h *GinHandlers) OrderBookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		book, spread, err := h.service.GetOrderBook(c.Param("market_id"))
		if errors.Is(err, ErrUnknownMarket) {
			response.NotFound(c, "Market not found")
			return
		}
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, gin.H{"book": book, "spread": spread})
	}
}

// TradesHandler handles GET requests for a market's recent trades.
// URL parameter: market_id; optional query parameter: limit
func (h *GinHandlers) TradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				response.BadRequest(c, "limit must be a positive integer")
				return
			}
			limit = parsed
		}

		trades, err := h.service.ListTrades(c.Param("market_id"), limit)
		response.Handle(c, trades, err)
	}
}

func userIDFromContext(c *gin.Context) string {
	claims, exists := c.Get("claims")
	if !exists {
		return ""
	}
	return auth.GetClientID(claims)
}
