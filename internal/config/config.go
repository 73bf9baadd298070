// Package config defines the global configuration structure for the Steward
// payments webhook service. Configuration is loaded once at process
// initialization and is immutable thereafter. It follows 12-Factor App
// principles by strictly separating code from configuration.
//
// Values are resolved from the OS environment, with a dotenv file as a
// development convenience. Any missing required value or invalid format
// causes startup to fail immediately (fail fast).
package config

import (
	"time"

	"steward/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// IdempotencyBackend selects which idempotency store implementation the
// webhook endpoint uses.
type IdempotencyBackend string

const (
	// BackendMemory is a single-instance approximation: correct only when
	// exactly one process serves the endpoint, and forgets everything on
	// restart. Intended for local development and tests.
	BackendMemory IdempotencyBackend = "memory"
	// BackendPostgres is the durable, shared store for production.
	BackendPostgres IdempotencyBackend = "postgres"
	// BackendRedis is the low-latency shared store (SETNX with TTL).
	BackendRedis IdempotencyBackend = "redis"
)

// Config is the top-level configuration struct for the webhook service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"steward-webhooks"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Webhook    WebhookConfig
	Receipts   ReceiptsConfig
	Automation AutomationConfig
	AWS        AWSConfig
	Metrics    MetricsConfig

	// Build Metadata (injected via ldflags, not env)
	Build BuildInfo
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
// Required only when the Postgres idempotency backend (or the delivery
// audit log) is enabled.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// RedisConfig holds connection parameters for the Redis idempotency backend.
type RedisConfig struct {
	Addr     string       `envconfig:"REDIS_ADDR"`
	Password SecretString `envconfig:"REDIS_PASSWORD"`
	DB       int          `envconfig:"REDIS_DB" default:"0"`
}

// WebhookConfig holds the inbound webhook verification policy.
type WebhookConfig struct {
	// Secret is the shared HMAC secret supplied out-of-band by the payment
	// provider. When empty, the endpoint refuses all deliveries with 500
	// rather than silently skipping verification.
	Secret SecretString `envconfig:"WEBHOOK_SECRET"`

	// ReplayWindow is the maximum tolerated |now - X-Timestamp| skew.
	ReplayWindow time.Duration `envconfig:"WEBHOOK_REPLAY_WINDOW" default:"5m"`

	// RequireTimestamp rejects deliveries that omit the X-Timestamp header.
	// The provider's reference behavior tolerates a missing header, so the
	// default preserves compatibility; hardened deployments set this true.
	RequireTimestamp bool `envconfig:"WEBHOOK_REQUIRE_TIMESTAMP" default:"false"`

	// IdempotencyBackend selects the processed-event store implementation.
	IdempotencyBackend IdempotencyBackend `envconfig:"IDEMPOTENCY_BACKEND" default:"memory" validate:"oneof=memory postgres redis"`

	// Retention bounds how long processed webhook IDs are remembered by
	// the durable backends. Eviction only risks reprocessing a very old
	// event, which handlers tolerate.
	Retention time.Duration `envconfig:"IDEMPOTENCY_RETENTION" default:"720h"`
}

// ReceiptsConfig holds the donor tax-receipt email provider settings.
type ReceiptsConfig struct {
	APIKey      SecretString `envconfig:"RECEIPTS_API_KEY"`
	FromAddress string       `envconfig:"RECEIPTS_FROM_ADDRESS" default:"giving@steward.church"`
	FromName    string       `envconfig:"RECEIPTS_FROM_NAME" default:"Steward Giving"`
	// TemplateID is the provider's dynamic template for donation receipts.
	TemplateID string `envconfig:"RECEIPTS_TEMPLATE_ID" default:"donation_receipt"`
}

// AutomationConfig holds the workflow-engine trigger settings.
type AutomationConfig struct {
	// QueueURL is the SQS queue the webhook service publishes triggers to.
	QueueURL string `envconfig:"SQS_AUTOMATION_QUEUE"`
	// EngineURL is consumed by the automation worker, which forwards
	// dequeued triggers to the workflow engine over HTTP.
	EngineURL string `envconfig:"AUTOMATION_ENGINE_URL"`
}

// AWSConfig holds AWS regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// MetricsConfig holds telemetry settings.
type MetricsConfig struct {
	Namespace string `envconfig:"METRIC_NAMESPACE" default:"Steward/Webhooks"`
	Enabled   bool   `envconfig:"METRICS_ENABLED" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}
