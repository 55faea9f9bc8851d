package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReviewStatus is the reviewer's compliance verdict.
type ReviewStatus string

const (
	ReviewPending           ReviewStatus = "PENDING_REVIEW"
	ReviewMeetsRequirements ReviewStatus = "MEETS_REQUIREMENTS"
	ReviewNotMeets          ReviewStatus = "NOT_MEETS_REQUIREMENTS"
)

// ApprovalStatus is the approver's final disposition.
type ApprovalStatus string

const (
	ApprovalPending       ApprovalStatus = "PENDING_APPROVAL"
	ApprovalApproved      ApprovalStatus = "APPROVED"
	ApprovalRejected      ApprovalStatus = "REJECTED"
	ApprovalNeedsRevision ApprovalStatus = "NEEDS_REVISION"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected, ApprovalNeedsRevision:
		return true
	}
	return false
}

// AllApprovalStatuses lists every approval status in display order.
var AllApprovalStatuses = []ApprovalStatus{
	ApprovalPending,
	ApprovalApproved,
	ApprovalRejected,
	ApprovalNeedsRevision,
}

// Submission is a vendor's work-permit request.
type Submission struct {
	ID         string `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	VendorID   int    `gorm:"column:vendor_id;index" json:"vendor_id"`
	VendorName string `gorm:"column:vendor_name" json:"vendor_name"`

	Title               string     `gorm:"column:title" json:"title"`
	WorkLocation        string     `gorm:"column:work_location" json:"work_location"`
	Description         string     `gorm:"column:description;type:text" json:"description"`
	WorkingHoursStart   string     `gorm:"column:working_hours_start;type:varchar(5)" json:"working_hours_start"`
	WorkingHoursEnd     string     `gorm:"column:working_hours_end;type:varchar(5)" json:"working_hours_end"`
	ImplementationStart *time.Time `gorm:"column:implementation_start" json:"implementation_start"`
	ImplementationEnd   *time.Time `gorm:"column:implementation_end" json:"implementation_end"`

	ReviewStatus   ReviewStatus   `gorm:"column:review_status;type:varchar(32);index" json:"review_status"`
	ApprovalStatus ApprovalStatus `gorm:"column:approval_status;type:varchar(32);index" json:"approval_status"`

	PermitNumber     *string    `gorm:"column:permit_number;type:varchar(64);uniqueIndex" json:"permit_number"`
	PermitSequence   *int64     `gorm:"column:permit_sequence;uniqueIndex" json:"permit_sequence,omitempty"`
	PermitDate       *time.Time `gorm:"column:permit_date" json:"permit_date"`
	VerificationCode *string    `gorm:"column:verification_code;type:varchar(32)" json:"verification_code"`

	ReviewerID           *int       `gorm:"column:reviewer_id" json:"reviewer_id"`
	ReviewerName         *string    `gorm:"column:reviewer_name" json:"reviewer_name"`
	ReviewedAt           *time.Time `gorm:"column:reviewed_at" json:"reviewed_at"`
	ReviewNoteToApprover *string    `gorm:"column:review_note_to_approver;type:text" json:"review_note_to_approver"`
	ReviewNoteToVendor   *string    `gorm:"column:review_note_to_vendor;type:text" json:"review_note_to_vendor"`

	ApproverID       *int       `gorm:"column:approver_id" json:"approver_id"`
	ApproverName     *string    `gorm:"column:approver_name" json:"approver_name"`
	ApproverPosition *string    `gorm:"column:approver_position" json:"approver_position"`
	ApprovedAt       *time.Time `gorm:"column:approved_at" json:"approved_at"`
	ApprovalNote     *string    `gorm:"column:approval_note;type:text" json:"approval_note"`

	SubmittedAt time.Time `gorm:"column:submitted_at" json:"submitted_at"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName specifies the table for Submission.
func (Submission) TableName() string {
	return "permit_submissions"
}

// BeforeCreate assigns the opaque id and initial statuses.
func (s *Submission) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.ReviewStatus == "" {
		s.ReviewStatus = ReviewPending
	}
	if s.ApprovalStatus == "" {
		s.ApprovalStatus = ApprovalPending
	}
	return nil
}

// IsNumbered reports whether a permit number has been issued.
func (s *Submission) IsNumbered() bool {
	return s.PermitNumber != nil && *s.PermitNumber != ""
}
