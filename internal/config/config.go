// Package config defines the process configuration for the StoryMagic billing
// service. Configuration is loaded once at startup and treated as immutable.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value aborts startup.
package config

import (
	"time"

	"storymagic/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types for credential fields.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the section they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"storymagic-billing"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	IsTestMode  bool   `envconfig:"IS_TEST_MODE" default:"false"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Auth          AuthConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP listener settings and the public app URL used to
// build checkout redirect targets.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	AppURL         string        `envconfig:"APP_URL" validate:"required,url"` // e.g., https://storymagic.app (no trailing slash)
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	AutoMigrate       bool          `envconfig:"DB_AUTO_MIGRATE" default:"false"`
}

// AWSConfig holds regional settings for SSM and CloudWatch.
type AWSConfig struct {
	Region      string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"` // LocalStack only
}

// BillingConfig holds Stripe credentials, the plan catalog and webhook
// processing knobs.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	StripeAPIBaseURL    string       `envconfig:"STRIPE_API_BASE_URL" default:"https://api.stripe.com" validate:"url"`

	PriceStarter string `envconfig:"STRIPE_PRICE_STARTER" default:"price_1ROmy3AdgMakcX19ZcW0dm9B" validate:"required"`
	PriceFamily  string `envconfig:"STRIPE_PRICE_FAMILY" default:"price_1ROmz0AdgMakcX19zsnEttn0" validate:"required,nefield=PriceStarter"`

	WebhookTolerance time.Duration `envconfig:"WEBHOOK_TOLERANCE" default:"5m"`
	// OrderingGuard rejects snapshot writes produced by events older than the
	// one already applied. Off means plain last-write-wins.
	OrderingGuard bool `envconfig:"WEBHOOK_ORDERING_GUARD" default:"false"`
}

// AuthConfig holds the credentials used to authenticate callers of the
// direct endpoints.
type AuthConfig struct {
	// JWTSecret verifies HS256 access tokens issued by the auth provider.
	JWTSecret SecretString `envconfig:"AUTH_JWT_SECRET" validate:"required"`
	// JWTAudience is matched against the "aud" claim when non-empty.
	JWTAudience string `envconfig:"AUTH_JWT_AUDIENCE" default:"authenticated"`
	// ServiceRoleKey lets trusted backends act as the system actor.
	ServiceRoleKey SecretString `envconfig:"SERVICE_ROLE_KEY" validate:"required"`
}

// SecurityConfig holds CORS settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"StoryMagic/Billing"`
	EnableMetrics   bool   `envconfig:"METRICS_ENABLED" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)

// IsLocal reports whether the process runs against local infrastructure.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}
