package services

import (
	"context"
	"database/sql"
	"io"
	"sync"
	"testing"
	"time"

	"permit-workflow-api/config"
	"permit-workflow-api/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	config.Log.SetOutput(io.Discard)
}

// setupSQLiteTestDB opens a private in-memory database. A single connection makes concurrent
// transactions queue behind each other, the same serialisation a row lock gives on MySQL.
func setupSQLiteTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func testRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		TxTimeout:   5 * time.Second,
		Isolation:   sql.LevelDefault,
	}
}

type notifierCall struct {
	method       string
	vendorID     int
	submissionID string
	status       string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifierCall
	err   error
}

func (n *recordingNotifier) record(c notifierCall) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, c)
	return n.err
}

func (n *recordingNotifier) NotifyApproverReviewReady(_ context.Context, submissionID string) error {
	return n.record(notifierCall{method: "approver_review_ready", submissionID: submissionID})
}

func (n *recordingNotifier) NotifyVendorReviewOutcome(_ context.Context, vendorID int, submissionID string, verdict models.ReviewStatus) error {
	return n.record(notifierCall{method: "vendor_review_outcome", vendorID: vendorID, submissionID: submissionID, status: string(verdict)})
}

func (n *recordingNotifier) NotifyVendorDecision(_ context.Context, vendorID int, submissionID string, decision models.ApprovalStatus) error {
	return n.record(notifierCall{method: "vendor_decision", vendorID: vendorID, submissionID: submissionID, status: string(decision)})
}

func (n *recordingNotifier) NotifyReviewerFinalized(_ context.Context, submissionID string) error {
	return n.record(notifierCall{method: "reviewer_finalized", submissionID: submissionID})
}

func (n *recordingNotifier) methods() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.calls))
	for _, c := range n.calls {
		out = append(out, c.method)
	}
	return out
}

type countingInvalidator struct {
	mu   sync.Mutex
	keys []string
}

func (c *countingInvalidator) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	return nil
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

type workflowFixture struct {
	db          *gorm.DB
	svc         *PermitWorkflowService
	coordinator *RetryCoordinator
	notifier    *recordingNotifier
	invalidator *countingInvalidator
}

var (
	vendor   = Actor{ID: 10, Name: "Acme Scaffolding", Role: models.RoleVendor}
	other    = Actor{ID: 11, Name: "Other Vendor", Role: models.RoleVendor}
	reviewer = Actor{ID: 20, Name: "Rita Reviewer", Role: models.RoleReviewer}
	approver = Actor{ID: 30, Name: "Andy Approver", Role: models.RoleApprover}
)

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()

	db := setupSQLiteTestDB(t)
	coordinator := NewRetryCoordinator(db, testRetryPolicy())
	coordinator.wait = func(context.Context, time.Duration) error { return nil }

	allocator := NewSequenceAllocator("HSE", "PTW")
	allocator.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	notifier := &recordingNotifier{}
	invalidator := &countingInvalidator{}
	svc := NewPermitWorkflowService(db, coordinator, allocator, NewVerificationCoder("test-secret"), notifier, invalidator)

	return &workflowFixture{
		db:          db,
		svc:         svc,
		coordinator: coordinator,
		notifier:    notifier,
		invalidator: invalidator,
	}
}

// drain waits for post-commit side effects so assertions on the fakes are stable.
func (f *workflowFixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Drain(ctx))
}

func validSubmitInput() SubmitInput {
	return SubmitInput{
		Title:               "Hot work on roof unit 4",
		WorkLocation:        "Building C roof",
		Description:         "Welding of HVAC brackets",
		WorkingHoursStart:   "08:00",
		WorkingHoursEnd:     "17:00",
		ImplementationStart: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		ImplementationEnd:   time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC),
	}
}

func (f *workflowFixture) submit(t *testing.T) *models.Submission {
	t.Helper()
	sub, err := f.svc.Submit(context.Background(), vendor, validSubmitInput())
	require.NoError(t, err)
	return sub
}

func (f *workflowFixture) reviewed(t *testing.T, verdict models.ReviewStatus) *models.Submission {
	t.Helper()
	sub := f.submit(t)
	in := ReviewInput{Verdict: verdict, NoteToApprover: "checked on site"}
	if verdict == models.ReviewNotMeets {
		in.NoteToVendor = "missing gas test certificate"
	}
	out, err := f.svc.Review(context.Background(), reviewer, sub.ID, in)
	require.NoError(t, err)
	return out
}
