package trading

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/foretell/foretell-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetMarket(marketID string) (*types.Market, error) {
	var market types.Market
	if err := d.db.Where("market_id = ?", marketID).First(&market).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &market, nil
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderByOrderIDAndUserID(orderID, userID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ? AND user_id = ?", orderID, userID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetOpenOrders returns the orders still eligible for matching on a market:
// OPEN and PARTIALLY_FILLED, oldest first.
func (d *Database) GetOpenOrders(marketID string) ([]*types.Order, error) {
	var orders []*types.Order
	err := d.db.
		Where("market_id = ? AND status IN ?", marketID,
			[]string{types.OrderStatusOpen, types.OrderStatusPartiallyFilled}).
		Order("created_at asc, id asc").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *Database) GetOrdersByUser(userID string) ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.Where("user_id = ?", userID).Order("created_at desc").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *Database) UpdateOrder(order *types.Order) error {
	return d.db.Save(order).Error
}

func (d *Database) ListTrades(marketID string, limit int) ([]types.Trade, error) {
	var trades []types.Trade
	q := d.db.Where("market_id = ?", marketID).Order("executed_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// CreateOrderWithIdempotency creates a new order and idempotency record in a transaction
func (d *Database) CreateOrderWithIdempotency(order *types.Order, idempotencyKey string) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(order).Error; err != nil {
		tx.Rollback()
		return err
	}

	record := IdempotencyRecord{
		IdempotencyKey: idempotencyKey,
		ResourceID:     order.OrderID,
		ResourceType:   "order",
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}

	if err := tx.Create(&record).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// GetIdempotencyRecord retrieves an idempotency record by key
func (d *Database) GetIdempotencyRecord(key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &record, nil
		}
		return nil, err
	}
	return &record, nil
}

// SaveMatchResults persists the outcome of one matching pass atomically:
// the new trades, every touched order's fill state, and the market's updated
// price and volume.
func (d *Database) SaveMatchResults(market *types.Market, orders []*types.Order, trades []*types.Trade) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	for _, trade := range trades {
		if err := tx.Create(trade).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	for _, order := range orders {
		if err := tx.Save(order).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Save(market).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
