package wallet

import (
	"testing"

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

	if err := db.AutoMigrate(&types.Wallet{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

func TestGetWalletCreatesDemoWallet(t *testing.T) {
	svc := NewService(newTestDB(t))

	wallet, err := svc.GetWallet("alice")
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if wallet.Balance != DemoBalance {
		t.Errorf("balance = %v, want %v", wallet.Balance, float64(DemoBalance))
	}
	if wallet.Network != "demo" || !wallet.Connected {
		t.Errorf("wallet = %+v, want connected demo wallet", wallet)
	}

	// Second read returns the same wallet, not a fresh one.
	again, err := svc.GetWallet("alice")
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if again.ID != wallet.ID {
		t.Errorf("second GetWallet created a new row: %d vs %d", again.ID, wallet.ID)
	}
}

func TestUpdateWalletPartial(t *testing.T) {
	svc := NewService(newTestDB(t))

	if _, err := svc.GetWallet("alice"); err != nil {
		t.Fatalf("GetWallet: %v", err)
	}

	addr := "0xabc123"
	updated, err := svc.UpdateWallet("alice", UpdateRequest{Address: &addr})
	if err != nil {
		t.Fatalf("UpdateWallet: %v", err)
	}

	if updated.Address != addr {
		t.Errorf("address = %q, want %q", updated.Address, addr)
	}
	// Untouched fields keep their values.
	if updated.Balance != DemoBalance {
		t.Errorf("balance changed on partial update: %v", updated.Balance)
	}
	if updated.Network != "demo" {
		t.Errorf("network changed on partial update: %q", updated.Network)
	}

	balance := 250.0
	connected := false
	updated, err = svc.UpdateWallet("alice", UpdateRequest{Balance: &balance, Connected: &connected})
	if err != nil {
		t.Fatalf("UpdateWallet: %v", err)
	}
	if updated.Balance != 250 || updated.Connected {
		t.Errorf("wallet = %+v, want balance 250 and disconnected", updated)
	}
	if updated.Address != addr {
		t.Errorf("address lost on later update: %q", updated.Address)
	}
}

func TestWalletsAreIsolatedPerUser(t *testing.T) {
	svc := NewService(newTestDB(t))

	balance := 1.0
	if _, err := svc.UpdateWallet("alice", UpdateRequest{Balance: &balance}); err != nil {
		t.Fatalf("UpdateWallet: %v", err)
	}

	bob, err := svc.GetWallet("bob")
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if bob.Balance != DemoBalance {
		t.Errorf("bob's balance = %v, want fresh demo balance", bob.Balance)
	}
}
