package extension

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/xraph/billsync"
	"github.com/xraph/billsync/retry"
	"github.com/xraph/billsync/throttle"
)

// EnvPrefix prefixes every environment variable read by LoadEnv.
const EnvPrefix = "BILLSYNC_"

// Config holds the billsync extension configuration.
// Fields can be set programmatically via Option functions, loaded from
// YAML configuration files (under "extensions.billsync" or "billsync" keys)
// or overridden by BILLSYNC_* environment variables.
type Config struct {
	// DisableStart prevents starting the reconciler with the application.
	DisableStart bool `json:"disable_start" mapstructure:"disable_start" yaml:"disable_start" env:"DISABLE_START"`

	// Driver selects the store built over a grove database supplied with
	// WithGroveDB: "postgres", "sqlite" or "mongo".
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver" env:"DRIVER"`

	// PublicKey is the base64 DER-encoded RSA key receipts are verified with.
	PublicKey string `json:"public_key" mapstructure:"public_key" yaml:"public_key" env:"PUBLIC_KEY"`

	// RevalidateSchedule is the cron spec for background re-validation
	// (default: "@every 30m").
	RevalidateSchedule string `json:"revalidate_schedule" mapstructure:"revalidate_schedule" yaml:"revalidate_schedule" env:"REVALIDATE_SCHEDULE"`

	// DisableRevalidate turns the background schedule off.
	DisableRevalidate bool `json:"disable_revalidate" mapstructure:"disable_revalidate" yaml:"disable_revalidate" env:"DISABLE_REVALIDATE"`

	// DeadBand is the minimum age of the last re-validation before a
	// non-forced pass runs again (default: 2h).
	DeadBand time.Duration `json:"dead_band" mapstructure:"dead_band" yaml:"dead_band" env:"DEAD_BAND"`

	// Concurrency bounds the receipts processed in parallel (default: 4).
	Concurrency int `json:"concurrency" mapstructure:"concurrency" yaml:"concurrency" env:"CONCURRENCY"`

	// Retry holds the reconnect and deferred-call tunables.
	Retry retry.Config `json:"retry" mapstructure:"retry" yaml:"retry" envPrefix:"RETRY_"`

	// RedisKeyPrefix namespaces settings keys when WithRedis is used
	// (default: "billsync:").
	RedisKeyPrefix string `json:"redis_key_prefix" mapstructure:"redis_key_prefix" yaml:"redis_key_prefix" env:"REDIS_KEY_PREFIX"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RevalidateSchedule: billsync.DefaultRevalidateSchedule,
		DeadBand:           throttle.DefaultDeadBand,
		Concurrency:        4,
		Retry:              retry.DefaultConfig(),
		RedisKeyPrefix:     "billsync:",
	}
}

// LoadEnv overlays BILLSYNC_* environment variables onto cfg. Unset
// variables leave the corresponding field untouched.
func LoadEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("billsync: parse env: %w", err)
	}
	return nil
}
