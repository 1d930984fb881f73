package trading

import (
	"time"

	"gorm.io/gorm"
)

// IdempotencyRecord ties an Idempotency-Key header to the resource it
// created, so retried requests return the original resource instead of
// duplicating it.
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}
