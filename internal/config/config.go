package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth"      validate:"required"`
	Provider  ProviderConfig  `mapstructure:"provider"  validate:"required"`
	Ledger    LedgerConfig    `mapstructure:"ledger"    validate:"required"`
	Reconcile ReconcileConfig `mapstructure:"reconcile" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// AuthConfig contains authentication settings for end-user requests.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret"             validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
}

// ProviderConfig contains settings for the external render provider that
// executes enhancement jobs.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"        validate:"required,url"`
	APIKey         string        `mapstructure:"api_key"         validate:"required"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"required"`
}

// LedgerConfig contains settings for the external credit ledger service.
type LedgerConfig struct {
	BaseURL        string        `mapstructure:"base_url"        validate:"required,url"`
	APIKey         string        `mapstructure:"api_key"         validate:"required"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"required"`
}

// ReconcileConfig contains the reconciliation policy knobs: the two timeout
// forcing functions, the sweep bounds, and the sweep trigger settings.
type ReconcileConfig struct {
	// SubmissionTimeout is how long a task may sit without a provider job ID
	// before it is failed as never started.
	SubmissionTimeout time.Duration `mapstructure:"submission_timeout" validate:"required"`

	// MaxProcessingTimeout is the upper bound on total processing time
	// before a still-running task is failed.
	MaxProcessingTimeout time.Duration `mapstructure:"max_processing_timeout" validate:"required"`

	// SweepFetchLimit caps how many outstanding tasks one sweep touches.
	SweepFetchLimit int `mapstructure:"sweep_fetch_limit" validate:"required,gt=0"`

	// SweepConcurrency caps in-flight provider queries during a sweep.
	SweepConcurrency int `mapstructure:"sweep_concurrency" validate:"required,gt=0"`

	// SweepSecret authorizes calls to the sweep endpoint. Requests are
	// rejected when it is unset.
	SweepSecret string `mapstructure:"sweep_secret"`

	// SweepSchedule is the cron expression for the in-process sweep
	// trigger. Empty disables the internal scheduler (an external
	// scheduler can drive the endpoint instead).
	SweepSchedule string `mapstructure:"sweep_schedule"`
}
