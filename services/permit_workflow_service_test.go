package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"permit-workflow-api/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func approveInput(decision models.ApprovalStatus) ApproveInput {
	in := ApproveInput{Decision: decision, SignerName: "Andy Approver", SignerPosition: "HSE Manager"}
	if decision != models.ApprovalApproved {
		in.Note = "see attached remarks"
	}
	return in
}

func TestSubmitCreatesPendingSubmission(t *testing.T) {
	f := newWorkflowFixture(t)

	sub := f.submit(t)

	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, vendor.ID, sub.VendorID)
	assert.Equal(t, models.ReviewPending, sub.ReviewStatus)
	assert.Equal(t, models.ApprovalPending, sub.ApprovalStatus)
	assert.Nil(t, sub.PermitNumber)

	var history []models.SubmissionStatusHistory
	require.NoError(t, f.db.Where("submission_id = ?", sub.ID).Find(&history).Error)
	require.Len(t, history, 1)
	assert.Equal(t, "submit", history[0].Action)
}

func TestSubmitValidation(t *testing.T) {
	f := newWorkflowFixture(t)

	in := validSubmitInput()
	in.Title = ""
	in.WorkingHoursStart = "8am"
	_, err := f.svc.Submit(context.Background(), vendor, in)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Contains(t, err.Error(), "title is required")

	in = validSubmitInput()
	in.ImplementationEnd = in.ImplementationStart.Add(-24 * time.Hour)
	_, err = f.svc.Submit(context.Background(), vendor, in)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = f.svc.Submit(context.Background(), reviewer, validSubmitInput())
	assert.True(t, errors.Is(err, ErrForbidden))
}

func TestReviewStampsReviewerAndLeavesApprovalUntouched(t *testing.T) {
	f := newWorkflowFixture(t)
	sub := f.submit(t)

	hours := "07:30"
	out, err := f.svc.Review(context.Background(), reviewer, sub.ID, ReviewInput{
		Verdict:           models.ReviewNotMeets,
		NoteToApprover:    "scaffold tag expired",
		NoteToVendor:      "renew scaffold inspection",
		WorkingHoursStart: &hours,
	})
	require.NoError(t, err)
	f.drain(t)

	assert.Equal(t, models.ReviewNotMeets, out.ReviewStatus)
	assert.Equal(t, models.ApprovalPending, out.ApprovalStatus)
	require.NotNil(t, out.ReviewerID)
	assert.Equal(t, reviewer.ID, *out.ReviewerID)
	require.NotNil(t, out.ReviewerName)
	assert.Equal(t, reviewer.Name, *out.ReviewerName)
	assert.NotNil(t, out.ReviewedAt)
	assert.Equal(t, "07:30", out.WorkingHoursStart)
	assert.ElementsMatch(t, []string{"approver_review_ready", "vendor_review_outcome"}, f.notifier.methods())
}

func TestReviewMeetsOnlyNotifiesApprover(t *testing.T) {
	f := newWorkflowFixture(t)
	f.reviewed(t, models.ReviewMeetsRequirements)
	f.drain(t)

	assert.Equal(t, []string{"approver_review_ready"}, f.notifier.methods())
}

func TestReviewCanBeEditedUntilApproved(t *testing.T) {
	f := newWorkflowFixture(t)
	sub := f.reviewed(t, models.ReviewNotMeets)

	out, err := f.svc.Review(context.Background(), reviewer, sub.ID, ReviewInput{Verdict: models.ReviewMeetsRequirements})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewMeetsRequirements, out.ReviewStatus)
	assert.Nil(t, out.ReviewNoteToVendor)

	_, err = f.svc.Approve(context.Background(), approver, sub.ID, approveInput(models.ApprovalRejected))
	require.NoError(t, err)

	_, err = f.svc.Review(context.Background(), reviewer, sub.ID, ReviewInput{Verdict: models.ReviewMeetsRequirements})
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestReviewValidationHappensBeforeAnyWrite(t *testing.T) {
	f := newWorkflowFixture(t)
	sub := f.submit(t)

	cases := map[string]ReviewInput{
		"missing verdict":          {},
		"pending is not a verdict": {Verdict: models.ReviewPending},
		"not meets without note":   {Verdict: models.ReviewNotMeets},
		"bad clock":                {Verdict: models.ReviewMeetsRequirements, WorkingHoursEnd: ptr("25:00")},
		"window reversed": {
			Verdict:           models.ReviewMeetsRequirements,
			ImplementationEnd: ptr(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Review(context.Background(), reviewer, sub.ID, in)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}

	var reloaded models.Submission
	require.NoError(t, f.db.First(&reloaded, "id = ?", sub.ID).Error)
	assert.Equal(t, models.ReviewPending, reloaded.ReviewStatus)
	assert.Nil(t, reloaded.ReviewerID)
}

func TestTransitionsOnMissingSubmission(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()

	_, err := f.svc.Review(ctx, reviewer, "does-not-exist", ReviewInput{Verdict: models.ReviewMeetsRequirements})
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = f.svc.Approve(ctx, approver, "does-not-exist", approveInput(models.ApprovalApproved))
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = f.svc.Resubmit(ctx, vendor, "does-not-exist")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestApproveIssuesPermitNumber(t *testing.T) {
	f := newWorkflowFixture(t)
	sub := f.reviewed(t, models.ReviewMeetsRequirements)

	out, err := f.svc.Approve(context.Background(), approver, sub.ID, approveInput(models.ApprovalApproved))
	require.NoError(t, err)
	f.drain(t)

	assert.Equal(t, models.ApprovalApproved, out.ApprovalStatus)
	require.NotNil(t, out.PermitNumber)
	assert.Equal(t, "1/HSE/2026-PTW", *out.PermitNumber)
	require.NotNil(t, out.PermitSequence)
	assert.EqualValues(t, 1, *out.PermitSequence)
	assert.NotNil(t, out.PermitDate)
	require.NotNil(t, out.VerificationCode)
	assert.Regexp(t, `^[A-Z2-7]{4}-[A-Z2-7]{4}-[A-Z2-7]{4}$`, *out.VerificationCode)
	require.NotNil(t, out.ApproverName)
	assert.Equal(t, "Andy Approver", *out.ApproverName)

	assert.ElementsMatch(t,
		[]string{"approver_review_ready", "vendor_decision", "reviewer_finalized"},
		f.notifier.methods())
	assert.Equal(t, 2, f.invalidator.count()) // submit + approve
}

func TestApproveTwiceKeepsFirstNumber(t *testing.T) {
	f := newWorkflowFixture(t)
	sub := f.reviewed(t, models.ReviewMeetsRequirements)

	first, err := f.svc.Approve(context.Background(), approver, sub.ID, approveInput(models.ApprovalApproved))
	require.NoError(t, err)

	_, err = f.svc.Approve(context.Background(), approver, sub.ID, approveInput(models.ApprovalApproved))
	require.Error(t, err)
	assert.Equal(t, KindInvalidTransition, KindOf(err))

	var reloaded models.Submission
	require.NoError(t, f.db.First(&reloaded, "id = ?", sub.ID).Error)
	assert.Equal(t, *first.PermitNumber, *reloaded.PermitNumber)
	assert.Equal(t, *first.VerificationCode, *reloaded.VerificationCode)
}

func TestApproveOverridesNotMeetsReview(t *testing.T) {
	f := newWorkflowFixture(t)
	first := f.reviewed(t, models.ReviewMeetsRequirements)
	_, err := f.svc.Approve(context.Background(), approver, first.ID, approveInput(models.ApprovalApproved))
	require.NoError(t, err)

	sub := f.reviewed(t, models.ReviewNotMeets)
	out, err := f.svc.Approve(context.Background(), approver, sub.ID, approveInput(models.ApprovalApproved))
	require.NoError(t, err)

	assert.Equal(t, models.ReviewNotMeets, out.ReviewStatus)
	assert.Equal(t, models.ApprovalApproved, out.ApprovalStatus)
	require.NotNil(t, out.PermitNumber)
	assert.Equal(t, "2/HSE/2026-PTW", *out.PermitNumber)
}

func TestRejectLeavesPermitNumberNull(t *testing.T) {
	f := newWorkflowFixture(t)
	sub := f.reviewed(t, models.ReviewMeetsRequirements)

	out, err := f.svc.Approve(context.Background(), approver, sub.ID, approveInput(models.ApprovalRejected))
	require.NoError(t, err)
	f.drain(t)

	assert.Equal(t, models.ApprovalRejected, out.ApprovalStatus)
	assert.Nil(t, out.PermitNumber)
	assert.Nil(t, out.PermitSequence)
	assert.Nil(t, out.VerificationCode)
	require.NotNil(t, out.ApprovalNote)
	assert.Equal(t, "see attached remarks", *out.ApprovalNote)
	assert.NotContains(t, f.notifier.methods(), "reviewer_finalized")
	assert.Contains(t, f.notifier.methods(), "vendor_decision")
}

func TestNeedsRevisionCanStillBeApproved(t *testing.T) {
	f := newWorkflowFixture(t)
	sub := f.reviewed(t, models.ReviewMeetsRequirements)

	out, err := f.svc.Approve(context.Background(), approver, sub.ID, approveInput(models.ApprovalNeedsRevision))
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalNeedsRevision, out.ApprovalStatus)
	assert.Nil(t, out.PermitNumber)

	out, err = f.svc.Approve(context.Background(), approver, sub.ID, approveInput(models.ApprovalApproved))
	require.NoError(t, err)
	require.NotNil(t, out.PermitNumber)
}

func TestApproveValidation(t *testing.T) {
	f := newWorkflowFixture(t)
	sub := f.reviewed(t, models.ReviewMeetsRequirements)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, approver, sub.ID, ApproveInput{Decision: models.ApprovalPending})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = f.svc.Approve(ctx, approver, sub.ID, ApproveInput{Decision: models.ApprovalRejected})
	assert.Equal(t, KindValidation, KindOf(err), "rejection needs a note")

	_, err = f.svc.Approve(ctx, reviewer, sub.ID, approveInput(models.ApprovalApproved))
	assert.Equal(t, KindForbidden, KindOf(err))

	require.NoError(t, f.db.Model(&models.Submission{}).Where("id = ?", sub.ID).
		Update("implementation_start", nil).Error)
	_, err = f.svc.Approve(ctx, approver, sub.ID, approveInput(models.ApprovalApproved))
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestApproveSignerDefaultsToActorName(t *testing.T) {
	f := newWorkflowFixture(t)
	sub := f.reviewed(t, models.ReviewMeetsRequirements)

	out, err := f.svc.Approve(context.Background(), approver, sub.ID, ApproveInput{Decision: models.ApprovalApproved})
	require.NoError(t, err)
	require.NotNil(t, out.ApproverName)
	assert.Equal(t, approver.Name, *out.ApproverName)
}

func TestPreReviewApprovalBlocked(t *testing.T) {
	f := newWorkflowFixture(t)

	for _, status := range models.AllApprovalStatuses {
		t.Run(string(status), func(t *testing.T) {
			sub := f.submit(t)
			require.NoError(t, f.db.Model(&models.Submission{}).Where("id = ?", sub.ID).
				Update("approval_status", status).Error)

			for _, decision := range []models.ApprovalStatus{models.ApprovalApproved, models.ApprovalRejected, models.ApprovalNeedsRevision} {
				_, err := f.svc.Approve(context.Background(), approver, sub.ID, approveInput(decision))
				assert.Equal(t, KindInvalidTransition, KindOf(err), "decision %s", decision)
			}
		})
	}
}

func TestResubmitResetsCleanly(t *testing.T) {
	f := newWorkflowFixture(t)
	sub := f.reviewed(t, models.ReviewNotMeets)
	_, err := f.svc.Approve(context.Background(), approver, sub.ID, approveInput(models.ApprovalRejected))
	require.NoError(t, err)

	out, err := f.svc.Resubmit(context.Background(), vendor, sub.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ReviewPending, out.ReviewStatus)
	assert.Equal(t, models.ApprovalPending, out.ApprovalStatus)
	assert.Nil(t, out.ReviewerID)
	assert.Nil(t, out.ReviewerName)
	assert.Nil(t, out.ReviewedAt)
	assert.Nil(t, out.ReviewNoteToApprover)
	assert.Nil(t, out.ReviewNoteToVendor)
	assert.Nil(t, out.ApprovalNote)
	assert.Nil(t, out.PermitNumber)

	history, err := f.svc.History(context.Background(), vendor, sub.ID)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, "resubmit", history[0].Action)
}

func TestResubmitPreconditions(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()

	notMeets := f.reviewed(t, models.ReviewNotMeets)
	_, err := f.svc.Resubmit(ctx, other, notMeets.ID)
	assert.Equal(t, KindForbidden, KindOf(err))

	_, err = f.svc.Resubmit(ctx, reviewer, notMeets.ID)
	assert.Equal(t, KindForbidden, KindOf(err))

	meets := f.reviewed(t, models.ReviewMeetsRequirements)
	_, err = f.svc.Resubmit(ctx, vendor, meets.ID)
	assert.Equal(t, KindInvalidTransition, KindOf(err))

	_, err = f.svc.Approve(ctx, approver, notMeets.ID, approveInput(models.ApprovalApproved))
	require.NoError(t, err)
	_, err = f.svc.Resubmit(ctx, vendor, notMeets.ID)
	assert.Equal(t, KindInvalidTransition, KindOf(err), "an issued permit is never reset")
}

func TestGetHidesOtherVendorsSubmissions(t *testing.T) {
	f := newWorkflowFixture(t)
	sub := f.submit(t)

	_, err := f.svc.Get(context.Background(), other, sub.ID)
	assert.Equal(t, KindForbidden, KindOf(err))

	got, err := f.svc.Get(context.Background(), reviewer, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
}

func TestConcurrentApprovalsGetDistinctSequences(t *testing.T) {
	f := newWorkflowFixture(t)
	const n = 16

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		verdict := models.ReviewMeetsRequirements
		if i%3 == 0 {
			verdict = models.ReviewNotMeets
		}
		ids = append(ids, f.reviewed(t, verdict).ID)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[string]string, n)
		errs    []error
	)
	start := make(chan struct{})
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			out, err := f.svc.Approve(context.Background(), approver, id, approveInput(models.ApprovalApproved))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers[id] = *out.PermitNumber
		}(id)
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, numbers, n)

	seqs := make([]int64, 0, n)
	seen := make(map[int64]bool, n)
	for _, number := range numbers {
		seq, err := ParsePermitSequence(number)
		require.NoError(t, err)
		assert.False(t, seen[seq], "duplicate sequence %d", seq)
		seen[seq] = true
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, seq := range seqs {
		assert.EqualValues(t, i+1, seq)
	}
}

func TestApproveExhaustedRetriesIsAllocationFailed(t *testing.T) {
	f := newWorkflowFixture(t)
	sub := f.reviewed(t, models.ReviewMeetsRequirements)

	var attempts int
	require.NoError(t, f.db.Callback().Update().Before("gorm:update").Register("test:inject_conflict", func(d *gorm.DB) {
		if d.Statement.Table == "permit_submissions" {
			attempts++
			_ = d.AddError(fmt.Errorf("injected: %w", ErrAllocationConflict))
		}
	}))

	_, err := f.svc.Approve(context.Background(), approver, sub.ID, approveInput(models.ApprovalApproved))
	require.Error(t, err)
	assert.Equal(t, KindAllocationFailed, KindOf(err))
	assert.True(t, errors.Is(err, ErrAllocationConflict))
	assert.Equal(t, testRetryPolicy().MaxAttempts, attempts)

	var reloaded models.Submission
	require.NoError(t, f.db.First(&reloaded, "id = ?", sub.ID).Error)
	assert.Equal(t, models.ApprovalPending, reloaded.ApprovalStatus)
	assert.Nil(t, reloaded.PermitNumber)
}

func TestSideEffectFailuresDoNotFailTransition(t *testing.T) {
	f := newWorkflowFixture(t)
	f.notifier.err = errors.New("smtp down")
	sub := f.reviewed(t, models.ReviewMeetsRequirements)

	out, err := f.svc.Approve(context.Background(), approver, sub.ID, approveInput(models.ApprovalApproved))
	require.NoError(t, err)
	f.drain(t)
	assert.NotNil(t, out.PermitNumber)
}

func ptr[T any](v T) *T { return &v }
