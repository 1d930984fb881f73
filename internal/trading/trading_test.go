package trading

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/foretell/foretell-api/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique shared-cache name so every pooled connection sees the same DB.
	dsn := "file:" + uuid.New().String() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	err = db.AutoMigrate(&types.Market{}, &types.Order{}, &types.Trade{}, &IdempotencyRecord{})
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

func seedMarket(t *testing.T, db *gorm.DB, marketID string) {
	t.Helper()

	market := types.Market{
		MarketID:  marketID,
		Title:     "Test market",
		YesPrice:  50,
		Volume:    0,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(&market).Error; err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}
}

func fp(v float64) *float64 { return &v }

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func placeLimit(t *testing.T, svc *Service, marketID, userID, side string, price, qty float64) *types.Order {
	t.Helper()

	order := &types.Order{
		MarketID:  marketID,
		UserID:    userID,
		Side:      side,
		Outcome:   types.OutcomeYes,
		OrderType: types.OrderTypeLimit,
		Price:     fp(price),
		Quantity:  qty,
	}
	if err := svc.PlaceOrder(order, uuid.New().String()); err != nil {
		t.Fatalf("failed to place order: %v", err)
	}
	return order
}

func TestPlaceOrderMatchesAndPersists(t *testing.T) {
	db := newTestDB(t)
	seedMarket(t, db, "mkt-1")
	svc := NewService(db, nil)

	placeLimit(t, svc, "mkt-1", "alice", types.SideSell, 0.55, 10)
	buy := placeLimit(t, svc, "mkt-1", "bob", types.SideBuy, 0.60, 10)

	if buy.Status != types.OrderStatusFilled {
		t.Errorf("buy order status = %q, want %q", buy.Status, types.OrderStatusFilled)
	}
	if buy.FilledQuantity != 10 {
		t.Errorf("buy filled quantity = %v, want 10", buy.FilledQuantity)
	}

	trades, err := svc.ListTrades("mkt-1", 10)
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades persisted = %d, want 1", len(trades))
	}
	if trades[0].Price != 0.55 {
		t.Errorf("trade price = %v, want 0.55 (resting ask)", trades[0].Price)
	}
	if trades[0].BuyerID != "bob" || trades[0].SellerID != "alice" {
		t.Errorf("trade parties = %s/%s, want bob/alice", trades[0].BuyerID, trades[0].SellerID)
	}

	var market types.Market
	if err := db.Where("market_id = ?", "mkt-1").First(&market).Error; err != nil {
		t.Fatalf("failed to reload market: %v", err)
	}
	if !almostEqual(market.Volume, 5.5) {
		t.Errorf("market volume = %v, want 5.5", market.Volume)
	}
	// 50 + (55-50)*0.05 = 50.25
	if !almostEqual(market.YesPrice, 50.25) {
		t.Errorf("market yes price = %v, want 50.25", market.YesPrice)
	}
}

func TestPlaceOrderIdempotencyReplay(t *testing.T) {
	db := newTestDB(t)
	seedMarket(t, db, "mkt-1")
	svc := NewService(db, nil)

	key := uuid.New().String()
	first := &types.Order{
		MarketID:  "mkt-1",
		UserID:    "alice",
		Side:      types.SideBuy,
		Outcome:   types.OutcomeYes,
		OrderType: types.OrderTypeLimit,
		Price:     fp(0.40),
		Quantity:  5,
	}
	if err := svc.PlaceOrder(first, key); err != nil {
		t.Fatalf("first PlaceOrder: %v", err)
	}

	replay := &types.Order{
		MarketID:  "mkt-1",
		UserID:    "alice",
		Side:      types.SideBuy,
		Outcome:   types.OutcomeYes,
		OrderType: types.OrderTypeLimit,
		Price:     fp(0.40),
		Quantity:  5,
	}
	if err := svc.PlaceOrder(replay, key); err != nil {
		t.Fatalf("replayed PlaceOrder: %v", err)
	}

	if replay.OrderID != first.OrderID {
		t.Errorf("replay created a new order: got %s, want %s", replay.OrderID, first.OrderID)
	}

	var count int64
	db.Model(&types.Order{}).Where("market_id = ?", "mkt-1").Count(&count)
	if count != 1 {
		t.Errorf("orders in database = %d, want 1", count)
	}
}

func TestPlaceOrderUnknownMarket(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)

	order := &types.Order{
		MarketID:  "no-such-market",
		UserID:    "alice",
		Side:      types.SideBuy,
		Outcome:   types.OutcomeYes,
		OrderType: types.OrderTypeLimit,
		Price:     fp(0.50),
		Quantity:  1,
	}
	err := svc.PlaceOrder(order, uuid.New().String())
	if !errors.Is(err, ErrUnknownMarket) {
		t.Errorf("PlaceOrder error = %v, want ErrUnknownMarket", err)
	}
}

func TestCancelOrder(t *testing.T) {
	db := newTestDB(t)
	seedMarket(t, db, "mkt-1")
	svc := NewService(db, nil)

	order := placeLimit(t, svc, "mkt-1", "alice", types.SideBuy, 0.40, 5)

	cancelled, err := svc.CancelOrder(order.OrderID, "alice")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelled.Status != types.OrderStatusCancelled {
		t.Errorf("status = %q, want %q", cancelled.Status, types.OrderStatusCancelled)
	}

	// Cancelling again is a conflict.
	if _, err := svc.CancelOrder(order.OrderID, "alice"); !errors.Is(err, ErrOrderClosed) {
		t.Errorf("second cancel error = %v, want ErrOrderClosed", err)
	}

	// Cancelled orders no longer match.
	sell := placeLimit(t, svc, "mkt-1", "bob", types.SideSell, 0.30, 5)
	if sell.FilledQuantity != 0 {
		t.Errorf("sell matched a cancelled order: filled = %v", sell.FilledQuantity)
	}
}

func TestCancelFilledOrderRejected(t *testing.T) {
	db := newTestDB(t)
	seedMarket(t, db, "mkt-1")
	svc := NewService(db, nil)

	sell := placeLimit(t, svc, "mkt-1", "alice", types.SideSell, 0.50, 5)
	placeLimit(t, svc, "mkt-1", "bob", types.SideBuy, 0.50, 5)

	if _, err := svc.CancelOrder(sell.OrderID, "alice"); !errors.Is(err, ErrOrderClosed) {
		t.Errorf("cancel of filled order error = %v, want ErrOrderClosed", err)
	}
}

func TestCancelOrderScopedToOwner(t *testing.T) {
	db := newTestDB(t)
	seedMarket(t, db, "mkt-1")
	svc := NewService(db, nil)

	order := placeLimit(t, svc, "mkt-1", "alice", types.SideBuy, 0.40, 5)

	if _, err := svc.CancelOrder(order.OrderID, "mallory"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("cross-user cancel error = %v, want record not found", err)
	}
}

func TestGetOrderBook(t *testing.T) {
	db := newTestDB(t)
	seedMarket(t, db, "mkt-1")
	svc := NewService(db, nil)

	placeLimit(t, svc, "mkt-1", "alice", types.SideBuy, 0.40, 10)
	placeLimit(t, svc, "mkt-1", "bob", types.SideBuy, 0.40, 5)
	placeLimit(t, svc, "mkt-1", "carol", types.SideSell, 0.60, 8)

	book, spread, err := svc.GetOrderBook("mkt-1")
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}

	if len(book.Bids) != 1 || len(book.Asks) != 1 {
		t.Fatalf("book levels = %d bids / %d asks, want 1/1", len(book.Bids), len(book.Asks))
	}
	if book.Bids[0].Quantity != 15 || book.Bids[0].Orders != 2 {
		t.Errorf("bid level = %+v, want quantity 15 across 2 orders", book.Bids[0])
	}
	if spread.BestBid != 0.40 || spread.BestAsk != 0.60 {
		t.Errorf("spread = %v/%v, want 0.40/0.60", spread.BestBid, spread.BestAsk)
	}
}

func TestGetOrderBookUnknownMarket(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)

	if _, _, err := svc.GetOrderBook("no-such-market"); !errors.Is(err, ErrUnknownMarket) {
		t.Errorf("GetOrderBook error = %v, want ErrUnknownMarket", err)
	}
}

func TestListTradesLimit(t *testing.T) {
	db := newTestDB(t)
	seedMarket(t, db, "mkt-1")
	svc := NewService(db, nil)

	for i := 0; i < 3; i++ {
		placeLimit(t, svc, "mkt-1", "alice", types.SideSell, 0.50, 1)
		placeLimit(t, svc, "mkt-1", "bob", types.SideBuy, 0.50, 1)
	}

	trades, err := svc.ListTrades("mkt-1", 2)
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Errorf("trades returned = %d, want 2", len(trades))
	}
}

func TestGetOrdersByUser(t *testing.T) {
	db := newTestDB(t)
	seedMarket(t, db, "mkt-1")
	svc := NewService(db, nil)

	placeLimit(t, svc, "mkt-1", "alice", types.SideBuy, 0.30, 1)
	placeLimit(t, svc, "mkt-1", "alice", types.SideBuy, 0.35, 1)
	placeLimit(t, svc, "mkt-1", "bob", types.SideBuy, 0.30, 1)

	orders, err := svc.GetOrdersByUser("alice")
	if err != nil {
		t.Fatalf("GetOrdersByUser: %v", err)
	}
	if len(orders) != 2 {
		t.Errorf("alice's orders = %d, want 2", len(orders))
	}
	for _, o := range orders {
		if o.UserID != "alice" {
			t.Errorf("order %s belongs to %s", o.OrderID, o.UserID)
		}
	}
}
