package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional config file and environment
// variables. Environment variables take precedence over values from the
// config file, and both override the built-in defaults.
//
// Environment variables use the ENHANCE_ prefix with underscores for
// nesting, e.g. ENHANCE_DATABASE_URL, ENHANCE_RECONCILE_SWEEP_SECRET.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults mirror the documented design values.
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("auth.token_lifetime_minutes", 60)
	v.SetDefault("provider.request_timeout", "15s")
	v.SetDefault("ledger.request_timeout", "10s")
	v.SetDefault("reconcile.submission_timeout", "10m")
	v.SetDefault("reconcile.max_processing_timeout", "2h")
	v.SetDefault("reconcile.sweep_fetch_limit", 50)
	v.SetDefault("reconcile.sweep_concurrency", 10)
	v.SetDefault("reconcile.sweep_schedule", "* * * * *")

	// Secrets and endpoints have no sensible defaults, but viper only
	// surfaces automatic env vars for keys it already knows about, so
	// register them as empty and let validation catch missing values.
	for _, key := range []string{
		"database.url",
		"auth.jwt_secret",
		"provider.base_url",
		"provider.api_key",
		"ledger.base_url",
		"ledger.api_key",
		"reconcile.sweep_secret",
	} {
		v.SetDefault(key, "")
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/enhance-api")

	v.SetEnvPrefix("ENHANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults may be enough.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
