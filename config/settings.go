package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings is the process configuration, read from the environment after .env is loaded.
type Settings struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	GinMode     string `env:"GIN_MODE"`
	ServerPort  string `env:"SERVER_PORT" envDefault:"8080"`
	JWTSecret   string `env:"JWT_SECRET"`

	// Comma separated list of origins allowed by CORS.
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	Database DatabaseSettings
	Redis    RedisSettings  `envPrefix:"REDIS_"`
	SMTP     SMTPSettings   `envPrefix:"SMTP_"`
	Permit   PermitSettings `envPrefix:"PERMIT_"`
}

type DatabaseSettings struct {
	Driver          string        `env:"DB_DRIVER" envDefault:"mysql"`
	Host            string        `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port            string        `env:"DB_PORT" envDefault:"3306"`
	Database        string        `env:"DB_DATABASE" envDefault:"permits"`
	Username        string        `env:"DB_USERNAME"`
	Password        string        `env:"DB_PASSWORD"`
	SSLMode         string        `env:"DB_SSLMODE" envDefault:"disable"`
	DebugSQL        bool          `env:"DEBUG_SQL"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
}

type RedisSettings struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type SMTPSettings struct {
	Host          string `env:"HOST"`
	Port          int    `env:"PORT" envDefault:"587"`
	User          string `env:"USER"`
	Pass          string `env:"PASS"`
	From          string `env:"FROM"` // e.g. "Permit Office <no-reply@your.org>"
	SkipTLSVerify bool   `env:"SKIP_TLS_VERIFY"`
}

// PermitSettings drives numbering and the allocation retry policy.
type PermitSettings struct {
	OrgCode            string        `env:"ORG_CODE" envDefault:"ORG"`
	NumberSuffix       string        `env:"NUMBER_SUFFIX" envDefault:"PTW"`
	VerificationSecret string        `env:"VERIFICATION_SECRET"`
	MaxAttempts        int           `env:"ALLOCATION_MAX_ATTEMPTS" envDefault:"5"`
	BaseDelay          time.Duration `env:"ALLOCATION_BASE_DELAY" envDefault:"100ms"`
	LockWait           time.Duration `env:"ALLOCATION_LOCK_WAIT" envDefault:"5s"`
	TxTimeout          time.Duration `env:"ALLOCATION_TX_TIMEOUT" envDefault:"10s"`
	StatsCacheTTL      time.Duration `env:"STATS_CACHE_TTL" envDefault:"5m"`
}

// LoadSettings parses the process environment.
func LoadSettings() (Settings, error) {
	return parseSettings(env.Options{})
}

func parseSettings(opts env.Options) (Settings, error) {
	var s Settings
	if err := env.ParseWithOptions(&s, opts); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) validate() error {
	switch strings.ToLower(s.Database.Driver) {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", s.Database.Driver)
	}
	if strings.TrimSpace(s.Permit.OrgCode) == "" {
		return fmt.Errorf("PERMIT_ORG_CODE must not be empty")
	}
	if strings.ContainsAny(s.Permit.OrgCode, "/") || strings.ContainsAny(s.Permit.NumberSuffix, "/") {
		return fmt.Errorf("permit org code and suffix must not contain '/'")
	}
	if s.Permit.MaxAttempts < 1 {
		return fmt.Errorf("PERMIT_ALLOCATION_MAX_ATTEMPTS must be at least 1")
	}
	if s.Permit.BaseDelay < 0 || s.Permit.LockWait < 0 || s.Permit.TxTimeout <= 0 {
		return fmt.Errorf("permit allocation timings must be positive")
	}
	return nil
}

// IsProduction reports whether ENVIRONMENT=production.
func (s Settings) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}
