// Package wallet manages the simulated balance every demo user trades with.
package wallet

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/foretell/foretell-api/internal/auth"
	"github.com/foretell/foretell-api/internal/types"
	"github.com/foretell/foretell-api/pkg/response"
)

// DemoBalance is the starting balance for every new demo wallet.
const DemoBalance = 10000

type Service struct {
	db *gorm.DB
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: gormDB}
}

// GetWallet returns the user's wallet, creating the demo wallet on first
// access.
func (s *Service) GetWallet(userID string) (*types.Wallet, error) {
	var wallet types.Wallet
	err := s.db.Where("user_id = ?", userID).First(&wallet).Error
	if err == nil {
		return &wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	wallet = types.Wallet{
		UserID:    userID,
		Balance:   DemoBalance,
		Network:   "demo",
		Connected: true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.db.Create(&wallet).Error; err != nil {
		return nil, err
	}

	log.Info().Str("user_id", userID).Float64("balance", wallet.Balance).Msg("demo wallet created")
	return &wallet, nil
}

// UpdateRequest carries a partial wallet update; nil fields are left
// untouched.
type UpdateRequest struct {
	Address   *string  `json:"address"`
	Balance   *float64 `json:"balance"`
	Network   *string  `json:"network"`
	Connected *bool    `json:"connected"`
}

// UpdateWallet applies a partial update to the user's wallet.
func (s *Service) UpdateWallet(userID string, update UpdateRequest) (*types.Wallet, error) {
	wallet, err := s.GetWallet(userID)
	if err != nil {
		return nil, err
	}

	if update.Address != nil {
		wallet.Address = *update.Address
	}
	if update.Balance != nil {
		wallet.Balance = *update.Balance
	}
	if update.Network != nil {
		wallet.Network = *update.Network
	}
	if update.Connected != nil {
		wallet.Connected = *update.Connected
	}
	wallet.UpdatedAt = time.Now()

	if err := s.db.Save(wallet).Error; err != nil {
		return nil, err
	}
	return wallet, nil
}

// GinHandlers contains HTTP handlers for wallet endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetWalletHandler handles GET requests for the caller's wallet.
func (h *GinHandlers) GetWalletHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := userIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		wallet, err := h.service.GetWallet(userID)
		response.Handle(c, wallet, err)
	}
}

// UpdateWalletHandler handles PUT requests applying partial wallet updates.
func (h *GinHandlers) UpdateWalletHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := userIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		var update UpdateRequest
		if err := c.ShouldBindJSON(&update); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if update.Balance != nil && *update.Balance < 0 {
			response.ValidationFailed(c, "balance cannot be negative")
			return
		}

		wallet, err := h.service.UpdateWallet(userID, update)
		response.Handle(c, wallet, err)
	}
}

func userIDFromContext(c *gin.Context) string {
	claims, exists := c.Get("claims")
	if !exists {
		return ""
	}
	return auth.GetClientID(claims)
}
