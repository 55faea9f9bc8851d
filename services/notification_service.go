package services

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"permit-workflow-api/config"
	"permit-workflow-api/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// WorkflowNotifier is told about transitions after they commit. Implementations are best effort.
type WorkflowNotifier interface {
	NotifyApproverReviewReady(ctx context.Context, submissionID string) error
	NotifyVendorReviewOutcome(ctx context.Context, vendorID int, submissionID string, verdict models.ReviewStatus) error
	NotifyVendorDecision(ctx context.Context, vendorID int, submissionID string, decision models.ApprovalStatus) error
	NotifyReviewerFinalized(ctx context.Context, submissionID string) error
}

// Mailer is satisfied by *config.Mailer.
type Mailer interface {
	SendMail(to []string, subject, html string) error
}

// NotificationService stores in-app notifications and mirrors them by e-mail when a mailer is set.
type NotificationService struct {
	db     *gorm.DB
	mailer Mailer
}

func NewNotificationService(db *gorm.DB, mailer Mailer) *NotificationService {
	return &NotificationService{db: db, mailer: mailer}
}

type notificationMessage struct {
	title   string
	message string
	typ     string
}

func (s *NotificationService) NotifyApproverReviewReady(ctx context.Context, submissionID string) error {
	sub, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return err
	}

	var approvers []models.User
	if err := s.db.WithContext(ctx).
		Where("role_id = ? AND delete_at IS NULL", models.RoleApprover).
		Find(&approvers).Error; err != nil {
		return fmt.Errorf("failed to load approvers: %w", err)
	}

	msg := notificationMessage{
		title:   "Permit request ready for approval",
		message: fmt.Sprintf("Permit request %q from %s has been reviewed (%s) and awaits your decision.", sub.Title, sub.VendorName, sub.ReviewStatus),
		typ:     "info",
	}
	return s.deliver(ctx, approvers, sub.ID, msg)
}

func (s *NotificationService) NotifyVendorReviewOutcome(ctx context.Context, vendorID int, submissionID string, verdict models.ReviewStatus) error {
	sub, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return err
	}

	msg := notificationMessage{
		title:   "Permit request needs changes",
		message: fmt.Sprintf("Your permit request %q does not meet the requirements.", sub.Title),
		typ:     "warning",
	}
	if verdict == models.ReviewMeetsRequirements {
		msg = notificationMessage{
			title:   "Permit request reviewed",
			message: fmt.Sprintf("Your permit request %q meets the requirements and is awaiting approval.", sub.Title),
			typ:     "info",
		}
	}
	if sub.ReviewNoteToVendor != nil && strings.TrimSpace(*sub.ReviewNoteToVendor) != "" {
		msg.message = fmt.Sprintf("%s\nNote: %s", msg.message, strings.TrimSpace(*sub.ReviewNoteToVendor))
	}
	return s.deliverToUser(ctx, vendorID, sub.ID, msg)
}

func (s *NotificationService) NotifyVendorDecision(ctx context.Context, vendorID int, submissionID string, decision models.ApprovalStatus) error {
	sub, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return err
	}

	var msg notificationMessage
	switch decision {
	case models.ApprovalApproved:
		number := ""
		if sub.PermitNumber != nil {
			number = *sub.PermitNumber
		}
		msg = notificationMessage{
			title:   "Permit approved",
			message: fmt.Sprintf("Your permit request %q was approved. Permit number: %s", sub.Title, number),
			typ:     "success",
		}
	case models.ApprovalRejected:
		msg = notificationMessage{
			title:   "Permit rejected",
			message: fmt.Sprintf("Your permit request %q was rejected.", sub.Title),
			typ:     "error",
		}
	case models.ApprovalNeedsRevision:
		msg = notificationMessage{
			title:   "Permit needs revision",
			message: fmt.Sprintf("Your permit request %q needs revision before it can be approved.", sub.Title),
			typ:     "warning",
		}
	default:
		msg = notificationMessage{
			title:   "Permit request updated",
			message: fmt.Sprintf("Your permit request %q was updated.", sub.Title),
			typ:     "info",
		}
	}
	if sub.ApprovalNote != nil && strings.TrimSpace(*sub.ApprovalNote) != "" {
		msg.message = fmt.Sprintf("%s\nNote: %s", msg.message, strings.TrimSpace(*sub.ApprovalNote))
	}
	return s.deliverToUser(ctx, vendorID, sub.ID, msg)
}

func (s *NotificationService) NotifyReviewerFinalized(ctx context.Context, submissionID string) error {
	sub, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	if sub.ReviewerID == nil {
		return nil
	}

	msg := notificationMessage{
		title:   "Reviewed permit finalized",
		message: fmt.Sprintf("Permit request %q that you reviewed has been approved.", sub.Title),
		typ:     "success",
	}
	return s.deliverToUser(ctx, *sub.ReviewerID, sub.ID, msg)
}

func (s *NotificationService) loadSubmission(ctx context.Context, submissionID string) (*models.Submission, error) {
	var sub models.Submission
	if err := s.db.WithContext(ctx).First(&sub, "id = ?", submissionID).Error; err != nil {
		return nil, fmt.Errorf("failed to load submission %s: %w", submissionID, err)
	}
	return &sub, nil
}

func (s *NotificationService) deliverToUser(ctx context.Context, userID int, submissionID string, msg notificationMessage) error {
	if userID == 0 {
		return nil
	}
	var user models.User
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND delete_at IS NULL", userID).
		First(&user).Error; err != nil {
		return fmt.Errorf("failed to load recipient %d: %w", userID, err)
	}
	return s.deliver(ctx, []models.User{user}, submissionID, msg)
}

func (s *NotificationService) deliver(ctx context.Context, recipients []models.User, submissionID string, msg notificationMessage) error {
	if len(recipients) == 0 {
		return nil
	}

	now := time.Now()
	rows := make([]models.Notification, 0, len(recipients))
	emails := make([]string, 0, len(recipients))
	for _, user := range recipients {
		related := submissionID
		rows = append(rows, models.Notification{
			UserID:              user.UserID,
			Title:               msg.title,
			Message:             msg.message,
			Type:                msg.typ,
			RelatedSubmissionID: &related,
			CreateAt:            now,
		})
		if email := strings.TrimSpace(user.Email); email != "" {
			emails = append(emails, email)
		}
	}

	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to create notifications: %w", err)
	}

	if s.mailer == nil || len(emails) == 0 {
		return nil
	}
	if err := s.mailer.SendMail(emails, msg.title, renderNotificationHTML(msg)); err != nil {
		// The in-app notification is already stored; mail is a courtesy copy.
		config.Log.WithFields(logrus.Fields{
			"submission_id": submissionID,
			"recipients":    len(emails),
		}).WithError(err).Warn("notification mail failed")
	}
	return nil
}

func renderNotificationHTML(msg notificationMessage) string {
	body := strings.ReplaceAll(html.EscapeString(msg.message), "\n", "<br>")
	return fmt.Sprintf(`<html><body><h3>%s</h3><p>%s</p></body></html>`, html.EscapeString(msg.title), body)
}
