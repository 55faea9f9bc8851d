package config

import (
	"fmt"
	"log"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the configured database and applies pool limits.
func InitDB(settings Settings) (*gorm.DB, error) {
	dialector, err := dialectorFor(settings.Database)
	if err != nil {
		return nil, err
	}

	// In production, suppress SQL logs unless explicitly re-enabled via DEBUG_SQL=true.
	logLevel := logger.Info
	if settings.IsProduction() && !settings.Database.DebugSQL {
		logLevel = logger.Warn
	}

	config := &gorm.Config{
		Logger: logger.New(
			log.New(LogWriter, "\r\n", log.LstdFlags),
			logger.Config{LogLevel: logLevel},
		),
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(settings.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(settings.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(settings.Database.ConnMaxLifetime)

	Log.WithField("driver", settings.Database.Driver).Info("Database connected successfully")
	return db, nil
}

func dialectorFor(s DatabaseSettings) (gorm.Dialector, error) {
	switch strings.ToLower(s.Driver) {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			s.Username,
			s.Password,
			s.Host,
			s.Port,
			s.Database,
		)
		return mysql.Open(dsn), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			s.Host,
			s.Port,
			s.Username,
			s.Password,
			s.Database,
			s.SSLMode,
		)
		return postgres.Open(dsn), nil
	case "sqlite":
		// DB_DATABASE is a file path here; sqlite serialises writers itself.
		return sqlite.Open(s.Database + "?_busy_timeout=5000"), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", s.Driver)
}
