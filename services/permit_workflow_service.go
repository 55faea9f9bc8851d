package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"permit-workflow-api/config"
	"permit-workflow-api/models"
	"permit-workflow-api/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Actor is the authenticated caller of a workflow operation.
type Actor struct {
	ID   int
	Name string
	Role int
}

// SubmitInput is a vendor's new permit request.
type SubmitInput struct {
	Title               string    `json:"title" validate:"required,max=255"`
	WorkLocation        string    `json:"work_location" validate:"required,max=255"`
	Description         string    `json:"description" validate:"required,max=5000"`
	WorkingHoursStart   string    `json:"working_hours_start" validate:"required,hhmm"`
	WorkingHoursEnd     string    `json:"working_hours_end" validate:"required,hhmm"`
	ImplementationStart time.Time `json:"implementation_start" validate:"required"`
	ImplementationEnd   time.Time `json:"implementation_end" validate:"required,gtefield=ImplementationStart"`
}

// ReviewInput is a reviewer's verdict plus the fields a reviewer may correct on the vendor's behalf.
type ReviewInput struct {
	Verdict        models.ReviewStatus `json:"verdict" validate:"required,oneof=MEETS_REQUIREMENTS NOT_MEETS_REQUIREMENTS"`
	NoteToApprover string              `json:"note_to_approver" validate:"max=2000"`
	NoteToVendor   string              `json:"note_to_vendor" validate:"required_if=Verdict NOT_MEETS_REQUIREMENTS,max=2000"`

	WorkingHoursStart   *string    `json:"working_hours_start" validate:"omitempty,hhmm"`
	WorkingHoursEnd     *string    `json:"working_hours_end" validate:"omitempty,hhmm"`
	ImplementationStart *time.Time `json:"implementation_start"`
	ImplementationEnd   *time.Time `json:"implementation_end"`
	Description         *string    `json:"description" validate:"omitempty,max=5000"`
}

// ApproveInput is the approver's final decision and signer details.
type ApproveInput struct {
	Decision       models.ApprovalStatus `json:"decision" validate:"required,oneof=APPROVED REJECTED NEEDS_REVISION"`
	Note           string                `json:"note" validate:"required_unless=Decision APPROVED,max=2000"`
	SignerName     string                `json:"signer_name" validate:"required_if=Decision APPROVED,max=255"`
	SignerPosition string                `json:"signer_position" validate:"max=255"`
}

// PermitWorkflowService owns every status change of a Submission.
type PermitWorkflowService struct {
	db          *gorm.DB
	coordinator *RetryCoordinator
	allocator   *SequenceAllocator
	coder       *VerificationCoder
	notifier    WorkflowNotifier
	invalidator CacheInvalidator
	effects     sideEffects
	now         func() time.Time
}

func NewPermitWorkflowService(db *gorm.DB, coordinator *RetryCoordinator, allocator *SequenceAllocator, coder *VerificationCoder, notifier WorkflowNotifier, invalidator CacheInvalidator) *PermitWorkflowService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if invalidator == nil {
		invalidator = noopInvalidator{}
	}
	return &PermitWorkflowService{
		db:          db,
		coordinator: coordinator,
		allocator:   allocator,
		coder:       coder,
		notifier:    notifier,
		invalidator: invalidator,
		now:         time.Now,
	}
}

// Submit records a new request in PENDING_REVIEW / PENDING_APPROVAL.
func (s *PermitWorkflowService) Submit(ctx context.Context, actor Actor, in SubmitInput) (sub *models.Submission, err error) {
	defer func() { recordTransition("submit", err) }()

	if !hasRole(actor, models.RoleVendor) {
		return nil, forbidden("only vendors can submit permit requests")
	}
	if err := utils.ValidateStruct(in); err != nil {
		return nil, validationFailed(err.Error())
	}

	now := s.now()
	start, end := in.ImplementationStart, in.ImplementationEnd
	sub = &models.Submission{
		VendorID:            actor.ID,
		VendorName:          actor.Name,
		Title:               utils.SanitizeInput(in.Title),
		WorkLocation:        utils.SanitizeInput(in.WorkLocation),
		Description:         utils.SanitizeInput(in.Description),
		WorkingHoursStart:   in.WorkingHoursStart,
		WorkingHoursEnd:     in.WorkingHoursEnd,
		ImplementationStart: &start,
		ImplementationEnd:   &end,
		ReviewStatus:        models.ReviewPending,
		ApprovalStatus:      models.ApprovalPending,
		SubmittedAt:         now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sub).Error; err != nil {
			return err
		}
		return writeHistory(tx, "submit", nil, sub, actor, "", now)
	})
	if err != nil {
		return nil, unexpected("failed to create submission", err)
	}

	s.invalidateApprovalTotals(sub.ID)
	return sub, nil
}

// Get returns a submission; vendors only see their own.
func (s *PermitWorkflowService) Get(ctx context.Context, actor Actor, submissionID string) (*models.Submission, error) {
	sub, err := s.load(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleVendor && sub.VendorID != actor.ID {
		return nil, forbidden("submission belongs to another vendor")
	}
	return sub, nil
}

// History returns the transition log of a submission, newest first.
func (s *PermitWorkflowService) History(ctx context.Context, actor Actor, submissionID string) ([]models.SubmissionStatusHistory, error) {
	if _, err := s.Get(ctx, actor, submissionID); err != nil {
		return nil, err
	}
	var rows []models.SubmissionStatusHistory
	if err := s.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at DESC, history_id DESC").
		Find(&rows).Error; err != nil {
		return nil, unexpected("failed to load status history", err)
	}
	return rows, nil
}

// Review stamps the reviewer's verdict. approval_status is never changed here: the approver
// decides even when the reviewer says the request does not meet requirements.
func (s *PermitWorkflowService) Review(ctx context.Context, actor Actor, submissionID string, in ReviewInput) (out *models.Submission, err error) {
	defer func() { recordTransition("review", err) }()

	if !hasRole(actor, models.RoleReviewer, models.RoleAdmin) {
		return nil, forbidden("reviewer access required")
	}
	if err := utils.ValidateStruct(in); err != nil {
		return nil, validationFailed(err.Error())
	}

	current, err := s.load(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if err := canReview(current); err != nil {
		return nil, err
	}
	if err := validateReviewWindow(current, in); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := lockSubmission(tx, submissionID)
		if err != nil {
			return err
		}
		if err := canReview(sub); err != nil {
			return err
		}
		if err := validateReviewWindow(sub, in); err != nil {
			return err
		}

		now := s.now()
		before := *sub
		updates := map[string]interface{}{
			"review_status":           in.Verdict,
			"reviewer_id":             actor.ID,
			"reviewer_name":           actor.Name,
			"reviewed_at":             now,
			"review_note_to_approver": optionalText(in.NoteToApprover),
			"review_note_to_vendor":   optionalText(in.NoteToVendor),
			"updated_at":              now,
		}
		if in.WorkingHoursStart != nil {
			updates["working_hours_start"] = *in.WorkingHoursStart
		}
		if in.WorkingHoursEnd != nil {
			updates["working_hours_end"] = *in.WorkingHoursEnd
		}
		if in.ImplementationStart != nil {
			updates["implementation_start"] = *in.ImplementationStart
		}
		if in.ImplementationEnd != nil {
			updates["implementation_end"] = *in.ImplementationEnd
		}
		if in.Description != nil {
			updates["description"] = utils.SanitizeInput(*in.Description)
		}

		if err := tx.Model(&models.Submission{}).Where("id = ?", submissionID).Updates(updates).Error; err != nil {
			return err
		}

		after := before
		after.ReviewStatus = in.Verdict
		if err := writeHistory(tx, "review", &before, &after, actor, in.NoteToApprover, now); err != nil {
			return err
		}

		var reloaded models.Submission
		if err := tx.First(&reloaded, "id = ?", submissionID).Error; err != nil {
			return err
		}
		out = &reloaded
		return nil
	})
	if err != nil {
		return nil, asWorkflowError("failed to record review", err)
	}

	fields := logrus.Fields{"submission_id": out.ID, "verdict": out.ReviewStatus}
	config.Log.WithFields(fields).Info("submission reviewed")

	s.effects.dispatch("notify_approver_review_ready", fields, func(ctx context.Context) error {
		return s.notifier.NotifyApproverReviewReady(ctx, out.ID)
	})
	if out.ReviewStatus == models.ReviewNotMeets {
		vendorID, id := out.VendorID, out.ID
		s.effects.dispatch("notify_vendor_review_outcome", fields, func(ctx context.Context) error {
			return s.notifier.NotifyVendorReviewOutcome(ctx, vendorID, id, models.ReviewNotMeets)
		})
	}
	return out, nil
}

// Approve records the approver's decision. APPROVED allocates the permit number, derives the
// verification code and persists every approval field in one transaction under RetryCoordinator.
func (s *PermitWorkflowService) Approve(ctx context.Context, actor Actor, submissionID string, in ApproveInput) (out *models.Submission, err error) {
	defer func() { recordTransition("approve", err) }()

	if !hasRole(actor, models.RoleApprover, models.RoleAdmin) {
		return nil, forbidden("approver access required")
	}
	if strings.TrimSpace(in.SignerName) == "" {
		in.SignerName = actor.Name
	}
	if err := utils.ValidateStruct(in); err != nil {
		return nil, validationFailed(err.Error())
	}

	current, err := s.load(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if err := canApprove(current); err != nil {
		return nil, err
	}
	if in.Decision == models.ApprovalApproved {
		if err := requireImplementationWindow(current); err != nil {
			return nil, err
		}
	}

	work := func(tx *gorm.DB) error {
		sub, err := lockSubmission(tx, submissionID)
		if err != nil {
			return err
		}
		if err := canApprove(sub); err != nil {
			return err
		}

		now := s.now()
		before := *sub
		updates := map[string]interface{}{
			"approval_status":   in.Decision,
			"approver_id":       actor.ID,
			"approver_name":     utils.SanitizeInput(in.SignerName),
			"approver_position": optionalText(in.SignerPosition),
			"approved_at":       now,
			"approval_note":     optionalText(in.Note),
			"updated_at":        now,
		}

		if in.Decision == models.ApprovalApproved {
			if err := requireImplementationWindow(sub); err != nil {
				return err
			}
			number, err := s.allocator.Next(tx)
			if err != nil {
				return err
			}
			code, err := s.coder.Derive(sub.ID, *sub.ImplementationStart, *sub.ImplementationEnd)
			if err != nil {
				return err
			}
			updates["permit_number"] = number.Value
			updates["permit_sequence"] = number.Sequence
			updates["permit_date"] = now
			updates["verification_code"] = code
		}

		res := tx.Model(&models.Submission{}).
			Where("id = ? AND permit_number IS NULL", submissionID).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return invalidTransition("submission was numbered concurrently")
		}

		after := before
		after.ApprovalStatus = in.Decision
		if err := writeHistory(tx, "approve", &before, &after, actor, in.Note, now); err != nil {
			return err
		}

		var reloaded models.Submission
		if err := tx.First(&reloaded, "id = ?", submissionID).Error; err != nil {
			return err
		}
		out = &reloaded
		return nil
	}

	if in.Decision == models.ApprovalApproved {
		err = s.coordinator.Run(ctx, work)
	} else {
		err = s.db.WithContext(ctx).Transaction(work)
	}
	if err != nil {
		return nil, asWorkflowError("failed to record approval decision", err)
	}

	fields := logrus.Fields{"submission_id": out.ID, "decision": out.ApprovalStatus}
	if out.PermitNumber != nil {
		fields["permit_number"] = *out.PermitNumber
	}
	config.Log.WithFields(fields).Info("approval decision recorded")

	vendorID, id, decision := out.VendorID, out.ID, out.ApprovalStatus
	s.effects.dispatch("notify_vendor_decision", fields, func(ctx context.Context) error {
		return s.notifier.NotifyVendorDecision(ctx, vendorID, id, decision)
	})
	if decision == models.ApprovalApproved {
		s.effects.dispatch("notify_reviewer_finalized", fields, func(ctx context.Context) error {
			return s.notifier.NotifyReviewerFinalized(ctx, id)
		})
	}
	s.invalidateApprovalTotals(id)
	return out, nil
}

// Resubmit lets the owning vendor send a NOT_MEETS_REQUIREMENTS submission back to review.
func (s *PermitWorkflowService) Resubmit(ctx context.Context, actor Actor, submissionID string) (out *models.Submission, err error) {
	defer func() { recordTransition("resubmit", err) }()

	current, err := s.load(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleVendor || current.VendorID != actor.ID {
		return nil, forbidden("only the owning vendor can resubmit")
	}
	if err := canResubmit(current); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := lockSubmission(tx, submissionID)
		if err != nil {
			return err
		}
		if err := canResubmit(sub); err != nil {
			return err
		}

		now := s.now()
		before := *sub
		updates := map[string]interface{}{
			"review_status":           models.ReviewPending,
			"approval_status":         models.ApprovalPending,
			"reviewer_id":             nil,
			"reviewer_name":           nil,
			"reviewed_at":             nil,
			"review_note_to_approver": nil,
			"review_note_to_vendor":   nil,
			"approver_id":             nil,
			"approver_name":           nil,
			"approver_position":       nil,
			"approved_at":             nil,
			"approval_note":           nil,
			"submitted_at":            now,
			"updated_at":              now,
		}
		if err := tx.Model(&models.Submission{}).Where("id = ?", submissionID).Updates(updates).Error; err != nil {
			return err
		}

		after := before
		after.ReviewStatus = models.ReviewPending
		after.ApprovalStatus = models.ApprovalPending
		if err := writeHistory(tx, "resubmit", &before, &after, actor, "", now); err != nil {
			return err
		}

		var reloaded models.Submission
		if err := tx.First(&reloaded, "id = ?", submissionID).Error; err != nil {
			return err
		}
		out = &reloaded
		return nil
	})
	if err != nil {
		return nil, asWorkflowError("failed to resubmit", err)
	}

	config.Log.WithField("submission_id", out.ID).Info("submission resubmitted")
	s.invalidateApprovalTotals(out.ID)
	return out, nil
}

// Drain waits for in-flight notifications and cache invalidations.
func (s *PermitWorkflowService) Drain(ctx context.Context) error {
	return s.effects.wait(ctx)
}

func (s *PermitWorkflowService) invalidateApprovalTotals(submissionID string) {
	s.effects.dispatch("invalidate_approval_totals", logrus.Fields{"submission_id": submissionID}, func(ctx context.Context) error {
		return s.invalidator.Invalidate(ctx, ApprovalTotalsCacheKey)
	})
}

func (s *PermitWorkflowService) load(ctx context.Context, submissionID string) (*models.Submission, error) {
	if strings.TrimSpace(submissionID) == "" {
		return nil, validationFailed("submission id is required")
	}
	var sub models.Submission
	if err := s.db.WithContext(ctx).First(&sub, "id = ?", submissionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("submission not found")
		}
		return nil, unexpected("failed to load submission", err)
	}
	return &sub, nil
}

func lockSubmission(tx *gorm.DB, submissionID string) (*models.Submission, error) {
	var sub models.Submission
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sub, "id = ?", submissionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("submission not found")
		}
		return nil, err
	}
	return &sub, nil
}

func writeHistory(tx *gorm.DB, action string, before, after *models.Submission, actor Actor, note string, at time.Time) error {
	history := models.SubmissionStatusHistory{
		SubmissionID:      after.ID,
		Action:            action,
		NewReviewStatus:   after.ReviewStatus,
		NewApprovalStatus: after.ApprovalStatus,
		ChangedBy:         actor.ID,
		Notes:             optionalText(note),
		CreatedAt:         at,
	}
	if before != nil {
		oldReview, oldApproval := before.ReviewStatus, before.ApprovalStatus
		history.OldReviewStatus = &oldReview
		history.OldApprovalStatus = &oldApproval
	}
	if err := tx.Create(&history).Error; err != nil {
		return fmt.Errorf("failed to write status history: %w", err)
	}
	return nil
}

func validateReviewWindow(sub *models.Submission, in ReviewInput) error {
	start, end := sub.ImplementationStart, sub.ImplementationEnd
	if in.ImplementationStart != nil {
		start = in.ImplementationStart
	}
	if in.ImplementationEnd != nil {
		end = in.ImplementationEnd
	}
	if start != nil && end != nil && end.Before(*start) {
		return validationFailed("implementation_end must not be before implementation_start")
	}
	return nil
}

func requireImplementationWindow(sub *models.Submission) error {
	if sub.ImplementationStart == nil || sub.ImplementationEnd == nil {
		return validationFailed("implementation window is required before a permit can be issued")
	}
	return nil
}

// asWorkflowError keeps classified errors and maps everything else onto the taxonomy.
func asWorkflowError(reason string, err error) error {
	var we *WorkflowError
	if errors.As(err, &we) {
		return err
	}
	var exhausted *AttemptsExhaustedError
	if errors.As(err, &exhausted) {
		return &WorkflowError{
			Kind:   KindAllocationFailed,
			Reason: "permit number could not be allocated under contention, please retry",
			Err:    err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return unexpected("transaction timed out", err)
	}
	return unexpected(reason, err)
}

func optionalText(value string) *string {
	trimmed := utils.SanitizeInput(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

type noopNotifier struct{}

func (noopNotifier) NotifyApproverReviewReady(context.Context, string) error { return nil }
func (noopNotifier) NotifyVendorReviewOutcome(context.Context, int, string, models.ReviewStatus) error {
	return nil
}
func (noopNotifier) NotifyVendorDecision(context.Context, int, string, models.ApprovalStatus) error {
	return nil
}
func (noopNotifier) NotifyReviewerFinalized(context.Context, string) error { return nil }

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, string) error { return nil }
