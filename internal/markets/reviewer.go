package markets

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/foretell/foretell-api/internal/metrics"
	"github.com/foretell/foretell-api/internal/types"
)

// DefaultReviewDeadline is how long a submission may sit unreviewed before
// it is auto-rejected.
const DefaultReviewDeadline = 10 * time.Minute

// Reviewer auto-rejects submissions whose resolution source was never
// verified within the review deadline.
type Reviewer struct {
	db            *Database
	deadline      time.Duration
	checkInterval time.Duration
}

func NewReviewer(db *Database, deadline time.Duration) *Reviewer {
	if deadline <= 0 {
		deadline = DefaultReviewDeadline
	}
	return &Reviewer{
		db:            db,
		deadline:      deadline,
		checkInterval: 30 * time.Second,
	}
}

// Start begins the review expiry loop. It blocks until the context is
// cancelled.
func (r *Reviewer) Start(ctx context.Context) {
	logger := log.With().Str("component", "submission_reviewer").Logger()
	logger.Info().Dur("deadline", r.deadline).Msg("starting submission reviewer")

	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down submission reviewer")
			return
		case <-ticker.C:
			if err := r.rejectExpired(); err != nil {
				logger.Error().Err(err).Msg("failed to expire pending submissions")
			}
		}
	}
}

func (r *Reviewer) rejectExpired() error {
	logger := log.With().Str("component", "submission_reviewer").Logger()

	expired, err := r.db.ListPendingOlderThan(time.Now().Add(-r.deadline))
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	logger.Info().Int("expired_count", len(expired)).Msg("auto-rejecting expired submissions")

	reason := fmt.Sprintf("No verification of resolution source within %d minutes.",
		int(r.deadline.Minutes()))

	for i := range expired {
		submission := &expired[i]
		submission.Status = types.SubmissionStatusRejected
		submission.RejectionReason = reason
		if err := r.db.UpdateSubmission(submission); err != nil {
			logger.Error().
				Err(err).
				Str("submission_id", submission.SubmissionID).
				Msg("failed to auto-reject submission")
			continue
		}
		metrics.RecordReview("auto_rejected")
		logger.Info().
			Str("submission_id", submission.SubmissionID).
			Time("submitted_at", submission.SubmittedAt).
			Msg("submission auto-rejected")
	}

	return nil
}
