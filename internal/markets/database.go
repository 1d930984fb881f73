package markets

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

func (d *Database) CreateSubmission(submission *types.MarketSubmission) error {
	return d.db.Create(submission).Error
}

func (d *Database) GetSubmission(submissionID string) (*types.MarketSubmission, error) {
	var submission types.MarketSubmission
	if err := d.db.Where("submission_id = ?", submissionID).First(&submission).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &submission, nil
}

func (d *Database) UpdateSubmission(submission *types.MarketSubmission) error {
	return d.db.Save(submission).Error
}

// ListSubmissions returns submissions, optionally filtered by status,
// newest first.
func (d *Database) ListSubmissions(status string) ([]types.MarketSubmission, error) {
	var submissions []types.MarketSubmission
	q := d.db.Order("submitted_at desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

// ListPendingOlderThan returns PENDING submissions submitted before the
// cutoff. Used by the auto-reject reviewer.
func (d *Database) ListPendingOlderThan(cutoff time.Time) ([]types.MarketSubmission, error) {
	var submissions []types.MarketSubmission
	err := d.db.
		Where("status = ? AND submitted_at < ?", types.SubmissionStatusPending, cutoff).
		Find(&submissions).Error
	if err != nil {
		return nil, err
	}
	return submissions, nil
}

// ApproveSubmissionTx creates the market and marks the submission approved in
// one transaction.
func (d *Database) ApproveSubmissionTx(market *types.Market, submission *types.MarketSubmission) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(market).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Save(submission).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
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

// ListMarkets returns all markets, featured first, then newest.
func (d *Database) ListMarkets() ([]types.Market, error) {
	var markets []types.Market
	if err := d.db.Order("featured desc, created_at desc").Find(&markets).Error; err != nil {
		return nil, err
	}
	return markets, nil
}
