package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"permit-workflow-api/config"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RetryPolicy bounds how a unit of allocation work is retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// LockWait caps how long a locking read may block before the store reports a conflict.
	LockWait time.Duration
	// TxTimeout caps a single attempt; exceeding it is a hard failure.
	TxTimeout time.Duration
	Isolation sql.IsolationLevel
}

// DefaultRetryPolicy is 5 attempts, 100ms base, 5s lock wait, 10s per transaction.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		LockWait:    5 * time.Second,
		TxTimeout:   10 * time.Second,
		Isolation:   sql.LevelSerializable,
	}
}

// RetryPolicyFromSettings maps PERMIT_* settings onto a policy.
func RetryPolicyFromSettings(s config.PermitSettings) RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = s.MaxAttempts
	p.BaseDelay = s.BaseDelay
	p.LockWait = s.LockWait
	p.TxTimeout = s.TxTimeout
	return p
}

// AttemptsExhaustedError is returned when every attempt ended in an allocation conflict.
type AttemptsExhaustedError struct {
	Attempts int
	Last     error
}

func (e *AttemptsExhaustedError) Error() string {
	return fmt.Sprintf("allocation still conflicting after %d attempts: %v", e.Attempts, e.Last)
}

func (e *AttemptsExhaustedError) Unwrap() error { return e.Last }

// TxWork is one transactional unit. It must only touch the database through tx.
type TxWork func(tx *gorm.DB) error

// RetryCoordinator runs TxWork in a fresh transaction per attempt and retries allocation
// conflicts with exponential backoff and jitter.
type RetryCoordinator struct {
	db     *gorm.DB
	policy RetryPolicy

	mu   sync.Mutex
	rnd  *rand.Rand
	wait func(ctx context.Context, d time.Duration) error
}

func NewRetryCoordinator(db *gorm.DB, policy RetryPolicy) *RetryCoordinator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &RetryCoordinator{
		db:     db,
		policy: policy,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec
		wait:   sleepContext,
	}
}

// Run executes work until it commits, fails with a non-conflict error, or the attempt budget is
// spent. Non-conflict errors are returned unchanged.
func (r *RetryCoordinator) Run(ctx context.Context, work TxWork) error {
	started := time.Now()
	defer func() { allocationDuration.Observe(time.Since(started).Seconds()) }()

	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		err := r.attempt(ctx, work)
		if err == nil {
			allocationAttempts.WithLabelValues(outcomeCommitted).Inc()
			return nil
		}
		if !IsAllocationConflict(err) {
			allocationAttempts.WithLabelValues(outcomeFailed).Inc()
			return err
		}
		allocationAttempts.WithLabelValues(outcomeConflict).Inc()
		lastErr = err

		if attempt == r.policy.MaxAttempts-1 {
			break
		}

		delay := r.backoff(attempt)
		config.Log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay.String(),
			"error":   err.Error(),
		}).Warn("permit allocation conflict, retrying")

		if err := r.wait(ctx, delay); err != nil {
			return err
		}
	}

	return &AttemptsExhaustedError{Attempts: r.policy.MaxAttempts, Last: lastErr}
}

func (r *RetryCoordinator) attempt(ctx context.Context, work TxWork) error {
	attemptCtx, cancel := context.WithTimeout(ctx, r.policy.TxTimeout)
	defer cancel()

	opts := &sql.TxOptions{Isolation: r.policy.Isolation}
	err := r.db.WithContext(attemptCtx).Transaction(func(tx *gorm.DB) error {
		if err := applyLockWait(tx, r.policy.LockWait); err != nil {
			return err
		}
		return work(tx)
	}, opts)

	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("allocation transaction exceeded %s: %w", r.policy.TxTimeout, context.DeadlineExceeded)
	}
	return err
}

// backoff returns base*2^attempt plus jitter drawn uniformly from [0, base*2^attempt).
func (r *RetryCoordinator) backoff(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	wait := r.policy.BaseDelay * time.Duration(1<<attempt)
	if wait <= 0 {
		return 0
	}

	r.mu.Lock()
	jitter := time.Duration(r.rnd.Int63n(int64(wait)))
	r.mu.Unlock()

	return wait + jitter
}

// applyLockWait bounds lock acquisition for the current transaction. SQLite has no row locks;
// its busy timeout is set on the DSN.
func applyLockWait(tx *gorm.DB, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	switch tx.Dialector.Name() {
	case "mysql":
		secs := int(wait.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		return tx.Exec(fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", secs)).Error
	case "postgres":
		return tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", wait.Milliseconds())).Error
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
