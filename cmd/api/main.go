package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"permit-workflow-api/config"
	"permit-workflow-api/controllers"
	"permit-workflow-api/middleware"
	"permit-workflow-api/routes"
	"permit-workflow-api/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		config.Log.Info("No .env file found, using environment variables")
	}

	settings, err := config.LoadSettings()
	if err != nil {
		config.Log.WithError(err).Fatal("Invalid configuration")
	}
	if settings.JWTSecret == "" {
		config.Log.Fatal("JWT_SECRET is required")
	}

	logFile, logWriter := config.InitLogging(settings)
	if logFile != nil {
		defer logFile.Close()
	}

	// Initialize database
	db, err := config.InitDB(settings)
	if err != nil {
		config.Log.WithError(err).Fatal("Failed to initialize database")
	}

	// Approval aggregates live in Redis when configured so every instance sees invalidations
	var cache services.StatsCache = services.NewMemoryStatsCache()
	redisClient, err := config.InitRedis(settings.Redis)
	if err != nil {
		config.Log.WithError(err).Warn("Redis unavailable, falling back to in-process stats cache")
	} else if redisClient != nil {
		defer redisClient.Close()
		cache = services.NewRedisStatsCache(redisClient)
	}

	var mailer services.Mailer
	if m := config.NewMailer(settings.SMTP); m != nil {
		mailer = m
	} else {
		config.Log.Warn("SMTP not configured; notifications are in-app only")
	}

	verificationSecret := settings.Permit.VerificationSecret
	if verificationSecret == "" {
		verificationSecret = settings.JWTSecret
	}

	workflow := services.NewPermitWorkflowService(
		db,
		services.NewRetryCoordinator(db, services.RetryPolicyFromSettings(settings.Permit)),
		services.NewSequenceAllocator(settings.Permit.OrgCode, settings.Permit.NumberSuffix),
		services.NewVerificationCoder(verificationSecret),
		services.NewNotificationService(db, mailer),
		cache,
	)
	stats := services.NewApprovalStatsService(db, cache, settings.Permit.StatsCacheTTL)

	// Set Gin mode
	if settings.GinMode == gin.ReleaseMode || settings.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = logWriter
	gin.DefaultErrorWriter = logWriter

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(settings.AllowedOrigins))

	routes.SetupRoutes(router, routes.Dependencies{
		DB:            db,
		JWTSecret:     settings.JWTSecret,
		Permits:       controllers.NewPermitController(workflow, stats),
		Notifications: controllers.NewNotificationController(db),
		LogPath:       config.LogFilePath(),
	})

	srv := &http.Server{
		Addr:              ":" + settings.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		config.Log.WithField("port", settings.ServerPort).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			config.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	config.Log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		config.Log.WithError(err).Error("HTTP shutdown did not complete")
	}
	if err := workflow.Drain(ctx); err != nil {
		config.Log.WithError(err).Warn("Pending notifications were abandoned")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
