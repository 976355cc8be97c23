package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"WalletCore"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	DBMaxConns     int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	AutoMigrate    bool          `env:"AUTO_MIGRATE" envDefault:"false"`
	RedisURL       string        `env:"REDIS_URL"`
	JWTSecret      string        `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	CORSOrigins    string        `env:"CORS_ORIGINS" envDefault:"*"`

	TransferMaxAttempts    int           `env:"TRANSFER_MAX_ATTEMPTS" envDefault:"5"`
	TransferRetryBaseDelay time.Duration `env:"TRANSFER_RETRY_BASE_DELAY" envDefault:"10ms"`
	TransferRatePerMinute  int           `env:"TRANSFER_RATE_PER_MIN" envDefault:"30"`

	BalanceCacheTTL   time.Duration `env:"BALANCE_CACHE_TTL" envDefault:"24h"`
	HistoryMaxPage    int           `env:"HISTORY_MAX_PAGE" envDefault:"100"`
	OnboardingEnabled bool          `env:"ONBOARDING_ENABLED" envDefault:"false"`
}

// Load reads an optional .env file, then parses configuration from the environment.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config.Load: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if !c.IsDevelopment() && (c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret) {
		return errors.New("JWT_SECRET must be set outside development")
	}
	if !c.IsDevelopment() && c.DatabaseURL == "" {
		return errors.New("DATABASE_URL must be set outside development")
	}
	if c.TransferMaxAttempts < 1 {
		return fmt.Errorf("TRANSFER_MAX_ATTEMPTS must be at least 1, got %d", c.TransferMaxAttempts)
	}
	if c.HistoryMaxPage < 1 {
		return fmt.Errorf("HISTORY_MAX_PAGE must be at least 1, got %d", c.HistoryMaxPage)
	}
	return nil
}

// IsDevelopment reports whether the service runs in a local development setup.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// Origins splits CORS_ORIGINS into the form the cors middleware expects.
func (c Config) Origins() string {
	parts := strings.Split(c.CORSOrigins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, ",")
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
