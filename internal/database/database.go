package database

import (
	"os"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/foretell/foretell-api/internal/trading"
	"github.com/foretell/foretell-api/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection.
// The sqlite path defaults to foretell.db and can be overridden with
// FORETELL_DB.
func NewDatabase() (*gorm.DB, error) {
	path := os.Getenv("FORETELL_DB")
	if path == "" {
		path = "foretell.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate applies the full schema. Also used by tests against in-memory
// databases.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Market{},
		&types.MarketSubmission{},
		&types.Order{},
		&types.Trade{},
		&types.Wallet{},
		&trading.IdempotencyRecord{},
	)
}
