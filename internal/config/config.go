// Package config defines the configuration for the veille notification
// services. Configuration is loaded once at process initialization and is
// immutable thereafter, following 12-Factor principles: values come from the
// OS environment, with an optional .env file for local development.
//
// Any missing required value or invalid format surfaces as an error from
// Load so the process can fail fast before touching a single user.
package config

import (
	"log/slog"
	"strings"
	"time"

	"veille/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used for credentials so they never leak through logs or JSON dumps.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"veille-notifier"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Email    EmailConfig
	Digest   DigestConfig
	AWS      AWSConfig
}

// SlogLevel translates the configured log level into a slog.Level,
// defaulting to info for unrecognized values.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ServerConfig holds HTTP trigger-surface settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`

	// TriggerToken guards the internal job/email endpoints. Empty disables
	// the check, which is only acceptable for local development.
	TriggerToken SecretString `envconfig:"TRIGGER_TOKEN"`
}

// DatabaseConfig holds Postgres connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`

	// RunMigrations applies embedded goose migrations on startup. Meant for
	// local and dev; production schemas are migrated out of band.
	RunMigrations bool `envconfig:"DB_RUN_MIGRATIONS" default:"false"`
}

// EmailConfig holds the SendGrid credentials and template identifiers.
// The API key is required: a digest run must never start without it.
type EmailConfig struct {
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY" validate:"required"`

	// BaseURL overrides the SendGrid endpoint in tests.
	BaseURL string `envconfig:"SENDGRID_BASE_URL"`

	FromAddress string `envconfig:"EMAIL_FROM_ADDRESS" default:"contact@veillemedicale.fr" validate:"email"`
	FromName    string `envconfig:"EMAIL_FROM_NAME" default:"Veille Médicale"`

	DigestTemplateID  string `envconfig:"SENDGRID_DIGEST_TEMPLATE" validate:"required"`
	WelcomeTemplateID string `envconfig:"SENDGRID_WELCOME_TEMPLATE" validate:"required"`

	// SiteBaseURL lands in transactional template data as base_url.
	SiteBaseURL string `envconfig:"SITE_BASE_URL" default:"https://veillemedicale.fr" validate:"url"`
}

// DigestConfig tunes the digest run loop.
type DigestConfig struct {
	// UserPageSize is the keyset-pagination page size over user_profiles.
	UserPageSize int `envconfig:"DIGEST_USER_PAGE_SIZE" default:"10" validate:"min=1"`

	// SendBatchSize is the number of personalizations per SendGrid call.
	SendBatchSize int `envconfig:"DIGEST_SEND_BATCH_SIZE" default:"10" validate:"min=1,max=1000"`

	// SelectorConcurrency bounds the per-page fan-out of content selection.
	SelectorConcurrency int `envconfig:"DIGEST_SELECTOR_CONCURRENCY" default:"5" validate:"min=1"`

	// SendConcurrency bounds concurrent batch sends to SendGrid.
	SendConcurrency int `envconfig:"DIGEST_SEND_CONCURRENCY" default:"2" validate:"min=1"`

	// UseRunLock takes a Postgres advisory lock for the duration of a run so
	// overlapping scheduled invocations skip instead of double-sending.
	UseRunLock bool `envconfig:"DIGEST_USE_RUN_LOCK" default:"true"`

	// CronSpec drives the standalone cron-runner deployment mode.
	CronSpec string `envconfig:"DIGEST_CRON_SPEC" default:"0 6 * * *"`
}

// AWSConfig holds AWS resource identifiers for the Lambda deployment mode.
// EmailQueueURL and the region are only required by the workers that use
// them; the loader leaves them optional so the standalone mode needs no AWS.
type AWSConfig struct {
	Region        string `envconfig:"AWS_REGION" default:"eu-west-3"`
	EmailQueueURL string `envconfig:"SQS_EMAIL_QUEUE"`

	// MetricsNamespace is the CloudWatch namespace for run statistics.
	// Empty disables metric publication.
	MetricsNamespace string `envconfig:"CLOUDWATCH_NAMESPACE" default:"Veille/Digest"`

	// EndpointURL points the SDK at LocalStack in local environments.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}
