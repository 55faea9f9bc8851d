package services

import (
	"permit-workflow-api/models"
)

// Transition preconditions. Each is checked once before the transaction opens and again under
// the row lock, since another request may have moved the submission in between.

// canReview: a fresh submission, or an earlier review that the approver has not acted on yet.
func canReview(s *models.Submission) error {
	if s.ReviewStatus == models.ReviewPending || s.ApprovalStatus == models.ApprovalPending {
		return nil
	}
	return invalidTransition("submission can no longer be reviewed (review=%s, approval=%s)", s.ReviewStatus, s.ApprovalStatus)
}

// canApprove: reviewed at least once and still undecided or sent back for revision. A
// NOT_MEETS_REQUIREMENTS review does not block approval; the approver has the final say.
func canApprove(s *models.Submission) error {
	if s.ReviewStatus == models.ReviewPending {
		return invalidTransition("submission has not been reviewed yet")
	}
	switch s.ApprovalStatus {
	case models.ApprovalPending, models.ApprovalNeedsRevision:
	default:
		return invalidTransition("submission is already %s", s.ApprovalStatus)
	}
	if s.IsNumbered() {
		return invalidTransition("submission already holds permit %s", *s.PermitNumber)
	}
	return nil
}

// canResubmit: only after a NOT_MEETS_REQUIREMENTS review, and never once a permit is issued.
func canResubmit(s *models.Submission) error {
	if s.ReviewStatus != models.ReviewNotMeets {
		return invalidTransition("only submissions that do not meet requirements can be resubmitted (review=%s)", s.ReviewStatus)
	}
	if s.ApprovalStatus == models.ApprovalApproved || s.IsNumbered() {
		return invalidTransition("approved submissions cannot be resubmitted")
	}
	return nil
}

func hasRole(actor Actor, roles ...int) bool {
	for _, role := range roles {
		if actor.Role == role {
			return true
		}
	}
	return false
}
