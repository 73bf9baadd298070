// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs in replay-window math.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator, plus the
//     cross-field rules that depend on the selected idempotency backend.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Build metadata injected at link time, e.g.
//
//	go build -ldflags "-X steward/internal/config.version=v1.2.0"
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid
// debugging. It wraps a stage label and an underlying error.
type ConfigError struct {
	Stage   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig loads and validates the service configuration from the
// environment. A .env file in the working directory is honored but never
// overrides variables already present in the environment.
func LoadConfig() (*Config, error) {
	// Replay-window comparisons assume a single clock domain.
	time.Local = time.UTC

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Stage:   "PARSING",
			Message: "failed to process environment variables",
			Err:     err,
		}
	}

	cfg.Build = BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateConfig applies struct tag validation followed by the
// backend-dependent rules that tags cannot express.
func validateConfig(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return &ConfigError{
			Stage:   "VALIDATION",
			Message: "configuration failed validation",
			Err:     err,
		}
	}

	switch cfg.Webhook.IdempotencyBackend {
	case BackendPostgres:
		if cfg.Database.URL.Unmask() == "" {
			return &ConfigError{
				Stage:   "VALIDATION",
				Message: "DATABASE_URL is required when IDEMPOTENCY_BACKEND=postgres",
			}
		}
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return &ConfigError{
				Stage:   "VALIDATION",
				Message: "REDIS_ADDR is required when IDEMPOTENCY_BACKEND=redis",
			}
		}
	}

	// The memory backend is tolerated without a secret only in local
	// environments; everywhere else an unconfigured secret must surface as
	// a hard startup failure, not a silently unauthenticated endpoint.
	if cfg.Environment != "local" && cfg.Webhook.Secret.Unmask() == "" {
		return &ConfigError{
			Stage:   "VALIDATION",
			Message: "WEBHOOK_SECRET is required outside local environments",
		}
	}

	return nil
}
