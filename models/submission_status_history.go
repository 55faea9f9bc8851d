package models

import "time"

// SubmissionStatusHistory tracks historical status changes for submissions.
type SubmissionStatusHistory struct {
	HistoryID         int             `gorm:"primaryKey;column:history_id" json:"history_id"`
	SubmissionID      string          `gorm:"column:submission_id;type:varchar(36);index" json:"submission_id"`
	Action            string          `gorm:"column:action;type:varchar(32)" json:"action"`
	OldReviewStatus   *ReviewStatus   `gorm:"column:old_review_status;type:varchar(32)" json:"old_review_status"`
	NewReviewStatus   ReviewStatus    `gorm:"column:new_review_status;type:varchar(32)" json:"new_review_status"`
	OldApprovalStatus *ApprovalStatus `gorm:"column:old_approval_status;type:varchar(32)" json:"old_approval_status"`
	NewApprovalStatus ApprovalStatus  `gorm:"column:new_approval_status;type:varchar(32)" json:"new_approval_status"`
	ChangedBy         int             `gorm:"column:changed_by" json:"changed_by"`
	Notes             *string         `gorm:"column:notes;type:text" json:"notes"`
	CreatedAt         time.Time       `gorm:"column:created_at" json:"created_at"`
}

// TableName specifies the table for SubmissionStatusHistory.
func (SubmissionStatusHistory) TableName() string {
	return "submission_status_history"
}
