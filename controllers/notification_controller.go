package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"permit-workflow-api/config"
	"permit-workflow-api/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// NotificationController serves the caller's in-app notification inbox filled by the workflow
// notifier.
type NotificationController struct {
	db *gorm.DB
}

func NewNotificationController(db *gorm.DB) *NotificationController {
	return &NotificationController{db: db}
}

func getCurrentUserID(c *gin.Context) (int, bool) {
	v, ok := c.Get("userID")
	if !ok {
		return 0, false
	}
	id, ok := v.(int)
	return id, ok && id > 0
}

// GetNotifications handles GET /api/v1/notifications
func (nc *NotificationController) GetNotifications(c *gin.Context) {
	uid, ok := getCurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}

	unreadOnly := strings.TrimSpace(c.Query("unreadOnly"))
	limit := 20
	offset := 0
	if v, err := strconv.Atoi(strings.TrimSpace(c.Query("limit"))); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(c.Query("offset"))); err == nil && v >= 0 {
		offset = v
	}

	q := nc.db.WithContext(c.Request.Context()).Model(&models.Notification{}).Where("user_id = ?", uid)
	if unreadOnly == "1" || strings.EqualFold(unreadOnly, "true") {
		q = q.Where("is_read = ?", false)
	}

	var items []models.Notification
	if err := q.Order("create_at DESC, notification_id DESC").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		config.Log.WithError(err).WithField("user_id", uid).Error("failed to list notifications")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to list notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "items": items})
}

// GetNotificationCounter handles GET /api/v1/notifications/counter
func (nc *NotificationController) GetNotificationCounter(c *gin.Context) {
	uid, ok := getCurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}

	var n int64
	if err := nc.db.WithContext(c.Request.Context()).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", uid, false).
		Count(&n).Error; err != nil {
		config.Log.WithError(err).WithField("user_id", uid).Error("failed to count notifications")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to count notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "unread": n})
}

// MarkNotificationRead handles PATCH /api/v1/notifications/:id/read
func (nc *NotificationController) MarkNotificationRead(c *gin.Context) {
	uid, ok := getCurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid id"})
		return
	}

	res := nc.db.WithContext(c.Request.Context()).Model(&models.Notification{}).
		Where("notification_id = ? AND user_id = ?", id, uid).
		Updates(map[string]interface{}{"is_read": true, "update_at": time.Now()})
	if res.Error != nil {
		config.Log.WithError(res.Error).WithField("notification_id", id).Error("failed to mark notification read")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to update notification"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "notification not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// MarkAllNotificationsRead handles PATCH /api/v1/notifications/read-all
func (nc *NotificationController) MarkAllNotificationsRead(c *gin.Context) {
	uid, ok := getCurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}

	res := nc.db.WithContext(c.Request.Context()).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", uid, false).
		Updates(map[string]interface{}{"is_read": true, "update_at": time.Now()})
	if res.Error != nil {
		config.Log.WithError(res.Error).WithField("user_id", uid).Error("failed to mark notifications read")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to update notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "updated": res.RowsAffected})
}
