package markets

import (
	"errors"
	"strings"
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

	if err := db.AutoMigrate(&types.Market{}, &types.MarketSubmission{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

func newSubmission(title string) *types.MarketSubmission {
	return &types.MarketSubmission{
		Title:          title,
		Description:    "a test submission",
		Category:       "crypto",
		ResolutionType: "official_url",
		ResolutionURL:  "https://example.com/result",
		EndDate:        time.Now().Add(30 * 24 * time.Hour),
		CreatorID:      "alice",
		CreatorName:    "Alice",
	}
}

func TestCreateSubmission(t *testing.T) {
	svc := NewService(newTestDB(t), nil)

	submission := newSubmission("Will BTC hit $100k by June?")
	if err := svc.CreateSubmission(submission); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	if submission.SubmissionID == "" {
		t.Error("submission ID not assigned")
	}
	if submission.Status != types.SubmissionStatusPending {
		t.Errorf("status = %q, want %q", submission.Status, types.SubmissionStatusPending)
	}
	if submission.Slug != "will-btc-hit-100k-by-june" {
		t.Errorf("slug = %q, want %q", submission.Slug, "will-btc-hit-100k-by-june")
	}
	if submission.SubmittedAt.IsZero() {
		t.Error("submitted_at not set")
	}
}

func TestApproveSubmission(t *testing.T) {
	svc := NewService(newTestDB(t), nil)

	submission := newSubmission("Will it rain tomorrow?")
	if err := svc.CreateSubmission(submission); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	market, err := svc.ApproveSubmission(submission.SubmissionID, ApprovalEdits{Featured: true})
	if err != nil {
		t.Fatalf("ApproveSubmission: %v", err)
	}

	if market.YesPrice != 50 {
		t.Errorf("new market yes price = %v, want 50", market.YesPrice)
	}
	if market.Volume != 0 {
		t.Errorf("new market volume = %v, want 0", market.Volume)
	}
	if !market.Featured {
		t.Error("featured edit not applied")
	}
	if market.Title != submission.Title {
		t.Errorf("market title = %q, want %q", market.Title, submission.Title)
	}

	stored, err := svc.GetMarket(market.MarketID)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if stored == nil {
		t.Fatal("approved market not persisted")
	}

	updated, err := svc.GetDB().GetSubmission(submission.SubmissionID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if updated.Status != types.SubmissionStatusApproved {
		t.Errorf("submission status = %q, want %q", updated.Status, types.SubmissionStatusApproved)
	}
	if updated.ApprovedMarketID != market.MarketID {
		t.Errorf("approved market ID = %q, want %q", updated.ApprovedMarketID, market.MarketID)
	}

	// A reviewed submission cannot be approved twice.
	if _, err := svc.ApproveSubmission(submission.SubmissionID, ApprovalEdits{}); !errors.Is(err, ErrAlreadyReviewed) {
		t.Errorf("second approval error = %v, want ErrAlreadyReviewed", err)
	}
}

func TestApproveSubmissionNotFound(t *testing.T) {
	svc := NewService(newTestDB(t), nil)

	if _, err := svc.ApproveSubmission("no-such-submission", ApprovalEdits{}); !errors.Is(err, ErrSubmissionNotFound) {
		t.Errorf("error = %v, want ErrSubmissionNotFound", err)
	}
}

func TestRejectSubmission(t *testing.T) {
	svc := NewService(newTestDB(t), nil)

	submission := newSubmission("Unverifiable market")
	if err := svc.CreateSubmission(submission); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	if err := svc.RejectSubmission(submission.SubmissionID, "resolution source unverifiable"); err != nil {
		t.Fatalf("RejectSubmission: %v", err)
	}

	updated, err := svc.GetDB().GetSubmission(submission.SubmissionID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if updated.Status != types.SubmissionStatusRejected {
		t.Errorf("status = %q, want %q", updated.Status, types.SubmissionStatusRejected)
	}
	if updated.RejectionReason != "resolution source unverifiable" {
		t.Errorf("rejection reason = %q", updated.RejectionReason)
	}

	// Rejection is terminal.
	if err := svc.RejectSubmission(submission.SubmissionID, "again"); !errors.Is(err, ErrAlreadyReviewed) {
		t.Errorf("second rejection error = %v, want ErrAlreadyReviewed", err)
	}
	if _, err := svc.ApproveSubmission(submission.SubmissionID, ApprovalEdits{}); !errors.Is(err, ErrAlreadyReviewed) {
		t.Errorf("approval after rejection error = %v, want ErrAlreadyReviewed", err)
	}
}

func TestListSubmissionsFilter(t *testing.T) {
	svc := NewService(newTestDB(t), nil)

	a := newSubmission("First")
	b := newSubmission("Second")
	if err := svc.CreateSubmission(a); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	if err := svc.CreateSubmission(b); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	if err := svc.RejectSubmission(b.SubmissionID, "nope"); err != nil {
		t.Fatalf("RejectSubmission: %v", err)
	}

	pending, err := svc.ListSubmissions(types.SubmissionStatusPending)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(pending) != 1 || pending[0].SubmissionID != a.SubmissionID {
		t.Errorf("pending submissions = %d, want just the first one", len(pending))
	}

	all, err := svc.ListSubmissions("")
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all submissions = %d, want 2", len(all))
	}
}

func TestListMarketsFeaturedFirst(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)

	plain := types.Market{MarketID: "mkt-plain", Title: "Plain", YesPrice: 50, CreatedAt: time.Now()}
	featured := types.Market{MarketID: "mkt-featured", Title: "Featured", YesPrice: 50, Featured: true, CreatedAt: time.Now().Add(-time.Hour)}
	if err := db.Create(&plain).Error; err != nil {
		t.Fatalf("seed market: %v", err)
	}
	if err := db.Create(&featured).Error; err != nil {
		t.Fatalf("seed market: %v", err)
	}

	markets, err := svc.ListMarkets()
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("markets = %d, want 2", len(markets))
	}
	if markets[0].MarketID != "mkt-featured" {
		t.Errorf("first market = %s, want the featured one", markets[0].MarketID)
	}
}

func TestReviewerRejectsExpiredSubmissions(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)

	stale := newSubmission("Stale submission")
	if err := svc.CreateSubmission(stale); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	stale.SubmittedAt = time.Now().Add(-time.Hour)
	if err := svc.GetDB().UpdateSubmission(stale); err != nil {
		t.Fatalf("backdate submission: %v", err)
	}

	fresh := newSubmission("Fresh submission")
	if err := svc.CreateSubmission(fresh); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	reviewer := NewReviewer(svc.GetDB(), 10*time.Minute)
	if err := reviewer.rejectExpired(); err != nil {
		t.Fatalf("rejectExpired: %v", err)
	}

	updated, err := svc.GetDB().GetSubmission(stale.SubmissionID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if updated.Status != types.SubmissionStatusRejected {
		t.Errorf("stale submission status = %q, want %q", updated.Status, types.SubmissionStatusRejected)
	}
	if !strings.Contains(updated.RejectionReason, "10 minutes") {
		t.Errorf("rejection reason = %q, want mention of the deadline", updated.RejectionReason)
	}

	untouched, err := svc.GetDB().GetSubmission(fresh.SubmissionID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if untouched.Status != types.SubmissionStatusPending {
		t.Errorf("fresh submission status = %q, want %q", untouched.Status, types.SubmissionStatusPending)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"simple", "Hello World", "hello-world"},
		{"punctuation stripped", "Will BTC hit $100k?", "will-btc-hit-100k"},
		{"mixed separators", "one_two three-four", "one-two-three-four"},
		{"trimmed", "  edges  ", "edges"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := slugify(tt.title); got != tt.want {
				t.Errorf("slugify(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}
