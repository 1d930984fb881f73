package markets

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/foretell/foretell-api/internal/auth"
	"github.com/foretell/foretell-api/internal/metrics"
	"github.com/foretell/foretell-api/internal/types"
	"github.com/foretell/foretell-api/internal/ws"
	"github.com/foretell/foretell-api/pkg/response"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrAlreadyReviewed    = errors.New("submission has already been reviewed")
)

// initialYesPrice is the implied probability every new market starts at.
const initialYesPrice = 50

// Service handles the market catalog and the submission review flow.
type Service struct {
	db  *Database
	hub *ws.Hub
}

// NewService creates a new markets service with the given database
// connection. The hub may be nil, in which case no events are broadcast.
func NewService(gormDB *gorm.DB, hub *ws.Hub) *Service {
	return &Service{
		db:  NewDatabase(gormDB),
		hub: hub,
	}
}

// CreateSubmission records a user-proposed market awaiting review.
func (s *Service) CreateSubmission(submission *types.MarketSubmission) error {
	submission.SubmissionID = uuid.New().String()
	submission.Status = types.SubmissionStatusPending
	submission.SubmittedAt = time.Now()
	if submission.Slug == "" {
		submission.Slug = slugify(submission.Title)
	}

	if err := s.db.CreateSubmission(submission); err != nil {
		return err
	}

	log.Info().
		Str("submission_id", submission.SubmissionID).
		Str("title", submission.Title).
		Str("creator_id", submission.CreatorID).
		Msg("market submission received")

	return nil
}

// ApprovalEdits are the optional admin overrides applied at approval time.
type ApprovalEdits struct {
	Featured bool `json:"featured"`
	Seeded   bool `json:"seeded"`
}

// ApproveSubmission turns a pending submission into a live market. The
// market starts at even odds with no volume; only the matching engine moves
// it from there.
func (s *Service) ApproveSubmission(submissionID string, edits ApprovalEdits) (*types.Market, error) {
	submission, err := s.db.GetSubmission(submissionID)
	if err != nil {
		return nil, err
	}
	if submission == nil {
		return nil, ErrSubmissionNotFound
	}
	if submission.Status != types.SubmissionStatusPending {
		return nil, ErrAlreadyReviewed
	}

	market := &types.Market{
		MarketID:       uuid.New().String(),
		Title:          submission.Title,
		Slug:           submission.Slug,
		Description:    submission.Description,
		Category:       submission.Category,
		EndDate:        submission.EndDate,
		YesPrice:       initialYesPrice,
		Volume:         0,
		CreatorID:      submission.CreatorID,
		CreatorName:    submission.CreatorName,
		Rules:          submission.Rules,
		ResolutionType: submission.ResolutionType,
		ResolutionURL:  submission.ResolutionURL,
		ResolutionFeed: submission.ResolutionFeed,
		Featured:       edits.Featured,
		Seeded:         edits.Seeded,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	submission.Status = types.SubmissionStatusApproved
	submission.ApprovedMarketID = market.MarketID

	if err := s.db.ApproveSubmissionTx(market, submission); err != nil {
		return nil, err
	}

	metrics.RecordReview("approved")
	if s.hub != nil {
		s.hub.Publish(ws.ChannelMarkets, ws.Event{Type: "market_created", Payload: market})
	}

	log.Info().
		Str("submission_id", submissionID).
		Str("market_id", market.MarketID).
		Str("title", market.Title).
		Msg("submission approved, market live")

	return market, nil
}

// RejectSubmission marks a pending submission rejected with a reason.
func (s *Service) RejectSubmission(submissionID, reason string) error {
	submission, err := s.db.GetSubmission(submissionID)
	if err != nil {
		return err
	}
	if submission == nil {
		return ErrSubmissionNotFound
	}
	if submission.Status != types.SubmissionStatusPending {
		return ErrAlreadyReviewed
	}

	submission.Status = types.SubmissionStatusRejected
	submission.RejectionReason = reason
	if err := s.db.UpdateSubmission(submission); err != nil {
		return err
	}

	metrics.RecordReview("rejected")

	log.Info().
		Str("submission_id", submissionID).
		Str("reason", reason).
		Msg("submission rejected")

	return nil
}

// GetMarket retrieves a market by ID.
func (s *Service) GetMarket(marketID string) (*types.Market, error) {
	return s.db.GetMarket(marketID)
}

// ListMarkets lists all live markets.
func (s *Service) ListMarkets() ([]types.Market, error) {
	return s.db.ListMarkets()
}

// ListSubmissions lists submissions, optionally filtered by status.
func (s *Service) ListSubmissions(status string) ([]types.MarketSubmission, error) {
	return s.db.ListSubmissions(status)
}

// GetDB exposes the database layer for the background reviewer.
func (s *Service) GetDB() *Database {
	return s.db
}

func slugify(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '-' || r == '_':
			return '-'
		default:
			return -1
		}
	}, slug)
	return strings.Trim(slug, "-")
}

// GinHandlers contains HTTP handlers for market and submission endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for market endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ListMarketsHandler handles GET requests for the market catalog.
func (h *GinHandlers) ListMarketsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		markets, err := h.service.ListMarkets()
		response.Handle(c, markets, err)
	}
}

// GetMarketHandler handles GET requests for a single market.
// URL parameter: market_id
func (h *GinHandlers) GetMarketHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		market, err := h.service.GetMarket(c.Param("market_id"))
		if err == nil && market == nil {
			response.NotFound(c, "Market not found")
			return
		}
		response.Handle(c, market, err)
	}
}

type createSubmissionRequest struct {
	Title          string    `json:"title" binding:"required"`
	Slug           string    `json:"slug"`
	Description    string    `json:"description"`
	Category       string    `json:"category" binding:"required"`
	Rules          string    `json:"rules"`
	ResolutionType string    `json:"resolution_type" binding:"required"`
	ResolutionURL  string    `json:"resolution_url"`
	ResolutionFeed string    `json:"resolution_feed"`
	EndDate        time.Time `json:"end_date" binding:"required"`
	MinLiquidity   float64   `json:"min_liquidity"`
	CreatorName    string    `json:"creator_name"`
}

// CreateSubmissionHandler handles POST requests proposing new markets.
// Requires a valid JWT token.
func (h *GinHandlers) CreateSubmissionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}
		creatorID := auth.GetClientID(claims)
		if creatorID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		var req createSubmissionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if !req.EndDate.After(time.Now()) {
			response.ValidationFailed(c, "end_date must be in the future")
			return
		}

		submission := &types.MarketSubmission{
			Title:          req.Title,
			Slug:           req.Slug,
			Description:    req.Description,
			Category:       req.Category,
			Rules:          req.Rules,
			ResolutionType: req.ResolutionType,
			ResolutionURL:  req.ResolutionURL,
			ResolutionFeed: req.ResolutionFeed,
			EndDate:        req.EndDate,
			MinLiquidity:   req.MinLiquidity,
			CreatorID:      creatorID,
			CreatorName:    req.CreatorName,
		}

		if err := h.service.CreateSubmission(submission); err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, submission)
	}
}

// ListSubmissionsHandler handles GET requests for the review queue.
// Optional query parameter: status
func (h *GinHandlers) ListSubmissionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		submissions, err := h.service.ListSubmissions(c.Query("status"))
		response.Handle(c, submissions, err)
	}
}

// ApproveSubmissionHandler handles POST requests approving a submission.
// URL parameter: submission_id; optional body with featured/seeded edits.
func (h *GinHandlers) ApproveSubmissionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var edits ApprovalEdits
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&edits); err != nil {
				response.BadRequest(c, err.Error())
				return
			}
		}

		market, err := h.service.ApproveSubmission(c.Param("submission_id"), edits)
		switch {
		case errors.Is(err, ErrSubmissionNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, ErrAlreadyReviewed):
			response.Conflict(c, err.Error())
		default:
			response.Handle(c, market, err)
		}
	}
}

// RejectSubmissionHandler handles POST requests rejecting a submission.
// URL parameter: submission_id; body must carry the reason.
func (h *GinHandlers) RejectSubmissionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Reason string `json:"reason" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		err := h.service.RejectSubmission(c.Param("submission_id"), req.Reason)
		switch {
		case errors.Is(err, ErrSubmissionNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, ErrAlreadyReviewed):
			response.Conflict(c, err.Error())
		case err != nil:
			response.InternalError(c, err.Error())
		default:
			response.Success(c, gin.H{"message": "submission rejected"})
		}
	}
}
