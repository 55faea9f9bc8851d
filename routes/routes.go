package routes

import (
	"net/http"

	"permit-workflow-api/controllers"
	"permit-workflow-api/middleware"
	"permit-workflow-api/models"
	"permit-workflow-api/monitor"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Dependencies are the handlers and stores the router mounts.
type Dependencies struct {
	DB            *gorm.DB
	JWTSecret     string
	Permits       *controllers.PermitController
	Notifications *controllers.NotificationController

	// LogPath is the file served by the admin log viewer.
	LogPath string
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Health check
		v1.GET("/health", func(c *gin.Context) {
			status, dbStatus := http.StatusOK, "ok"
			if sqlDB, err := deps.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
				status, dbStatus = http.StatusServiceUnavailable, "unreachable"
			}
			c.JSON(status, gin.H{
				"status":   http.StatusText(status),
				"database": dbStatus,
				"message":  "Permit Workflow API is running",
			})
		})

		// Protected routes (require authentication)
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(deps.DB, deps.JWTSecret))
		{
			permits := protected.Group("/permits")
			{
				permits.GET("/stats/approval-totals",
					middleware.RequireRole(models.RoleReviewer, models.RoleApprover, models.RoleAdmin),
					deps.Permits.GetApprovalTotals)

				// Vendors submit and resubmit their own requests
				permits.POST("", middleware.RequireRole(models.RoleVendor), deps.Permits.SubmitPermit)
				permits.POST("/:id/resubmit", middleware.RequireRole(models.RoleVendor), deps.Permits.ResubmitPermit)

				// Vendors only see their own; enforced in the workflow
				permits.GET("/:id", deps.Permits.GetPermit)
				permits.GET("/:id/history", deps.Permits.GetPermitHistory)

				permits.POST("/:id/review", middleware.RequireRole(models.RoleReviewer, models.RoleAdmin), deps.Permits.ReviewPermit)
				permits.POST("/:id/approve", middleware.RequireRole(models.RoleApprover, models.RoleAdmin), deps.Permits.ApprovePermit)
			}

			notifications := protected.Group("/notifications")
			{
				notifications.GET("", deps.Notifications.GetNotifications)
				notifications.GET("/counter", deps.Notifications.GetNotificationCounter)
				notifications.PATCH("/read-all", deps.Notifications.MarkAllNotificationsRead)
				notifications.PATCH("/:id/read", deps.Notifications.MarkNotificationRead)
			}

			admin := protected.Group("/admin")
			admin.Use(middleware.RequireRole(models.RoleAdmin))
			{
				admin.GET("/logs", monitor.LogsHandler(deps.LogPath))
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Endpoint not found"})
	})
}
