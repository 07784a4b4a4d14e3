// Package extension provides the Forge extension adapter for billsync.
//
// It implements the forge.Extension interface to integrate the reconciler
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions,
// via YAML configuration files under "extensions.billsync" or "billsync"
// keys, or via BILLSYNC_* environment variables.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/billsync"
	"github.com/xraph/billsync/remote"
	"github.com/xraph/billsync/settings"
	redissettings "github.com/xraph/billsync/settings/redis"
	"github.com/xraph/billsync/store"
	"github.com/xraph/billsync/store/memory"
	"github.com/xraph/billsync/store/mongo"
	"github.com/xraph/billsync/store/postgres"
	"github.com/xraph/billsync/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "billsync"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Purchase reconciliation engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Supported grove drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the billsync reconciler as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config         Config
	engine         *billsync.Reconciler
	store          store.Store
	groveDB        *grove.DB
	source         remote.Source
	settings       settings.Store
	redis          redis.Cmdable
	reconcilerOpts []billsync.Option
}

// New creates a new billsync Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Reconciler.
// This is nil until Register is called.
func (e *Extension) Engine() *billsync.Reconciler { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// builds the reconciler, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.source == nil {
		return errors.New("billsync: no remote source configured; use WithSource")
	}

	s, err := e.resolveStore()
	if err != nil {
		return err
	}
	e.store = s

	e.engine = billsync.New(e.store, e.source, e.buildReconcilerOpts()...)

	return vessel.Provide(fapp.Container(), func() (*billsync.Reconciler, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("billsync: extension not initialized")
	}

	if !e.config.DisableStart {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil && !errors.Is(err, billsync.ErrNotStarted) {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("billsync: store not initialized")
	}
	if err := e.store.Ping(ctx); err != nil {
		return err
	}
	if e.engine != nil && !e.engine.BillingAvailable() {
		return billsync.ErrBillingUnavailable
	}
	return nil
}

// resolveStore picks the programmatic store, then a grove-backed store for
// the configured driver, then the in-memory store.
func (e *Extension) resolveStore() (store.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	if e.groveDB == nil {
		return memory.New(), nil
	}

	switch e.config.Driver {
	case DriverPostgres:
		return postgres.New(e.groveDB), nil
	case DriverSQLite:
		return sqlite.New(e.groveDB), nil
	case DriverMongo:
		return mongo.New(e.groveDB), nil
	default:
		return nil, fmt.Errorf("billsync: unknown grove driver %q", e.config.Driver)
	}
}

// buildReconcilerOpts constructs billsync.Option values from the resolved config.
func (e *Extension) buildReconcilerOpts() []billsync.Option {
	opts := make([]billsync.Option, 0, len(e.reconcilerOpts)+6)

	opts = append(opts,
		billsync.WithRetryConfig(e.config.Retry),
		billsync.WithDeadBand(e.config.DeadBand),
		billsync.WithConcurrency(e.config.Concurrency),
	)

	if e.config.PublicKey != "" {
		opts = append(opts, billsync.WithPublicKey(e.config.PublicKey))
	}

	schedule := e.config.RevalidateSchedule
	if e.config.DisableRevalidate {
		schedule = ""
	}
	opts = append(opts, billsync.WithRevalidateSchedule(schedule))

	switch {
	case e.settings != nil:
		opts = append(opts, billsync.WithSettingsStore(e.settings))
	case e.redis != nil:
		opts = append(opts, billsync.WithSettingsStore(redissettings.New(e.redis, e.config.RedisKeyPrefix)))
	}

	// Append any pass-through reconciler options.
	opts = append(opts, e.reconcilerOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files, programmatic sources and
// the environment.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("billsync: configuration is required but not found in config files; " +
				"ensure 'extensions.billsync' or 'billsync' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	if err := LoadEnv(&e.config); err != nil {
		return err
	}

	e.Logger().Debug("billsync: configuration loaded",
		forge.F("disable_start", e.config.DisableStart),
		forge.F("driver", e.config.Driver),
		forge.F("revalidate_schedule", e.config.RevalidateSchedule),
		forge.F("disable_revalidate", e.config.DisableRevalidate),
		forge.F("dead_band", e.config.DeadBand),
		forge.F("concurrency", e.config.Concurrency),
		forge.F("retry_max_attempts", e.config.Retry.MaxAttempts),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.billsync" first (namespaced pattern).
	if cm.IsSet("extensions.billsync") {
		if err := cm.Bind("extensions.billsync", &cfg); err == nil {
			e.Logger().Debug("billsync: loaded config from file",
				forge.F("key", "extensions.billsync"),
			)
			return cfg, true
		}
		e.Logger().Warn("billsync: failed to bind extensions.billsync config",
			forge.F("error", "bind failed"),
		)
	}

	// Try top-level "billsync" key.
	if cm.IsSet("billsync") {
		if err := cm.Bind("billsync", &cfg); err == nil {
			e.Logger().Debug("billsync: loaded config from file",
				forge.F("key", "billsync"),
			)
			return cfg, true
		}
		e.Logger().Warn("billsync: failed to bind billsync config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.RevalidateSchedule == "" {
		cfg.RevalidateSchedule = defaults.RevalidateSchedule
	}
	if cfg.DeadBand == 0 {
		cfg.DeadBand = defaults.DeadBand
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = defaults.Retry.BaseDelay
	}
	if cfg.Retry.TaskDelay == 0 {
		cfg.Retry.TaskDelay = defaults.Retry.TaskDelay
	}
	if cfg.RedisKeyPrefix == "" {
		cfg.RedisKeyPrefix = defaults.RedisKeyPrefix
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableStart {
		yamlConfig.DisableStart = true
	}
	if programmaticConfig.DisableRevalidate {
		yamlConfig.DisableRevalidate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.Driver == "" {
		yamlConfig.Driver = programmaticConfig.Driver
	}
	if yamlConfig.PublicKey == "" {
		yamlConfig.PublicKey = programmaticConfig.PublicKey
	}
	if yamlConfig.RevalidateSchedule == "" {
		yamlConfig.RevalidateSchedule = programmaticConfig.RevalidateSchedule
	}
	if yamlConfig.RedisKeyPrefix == "" {
		yamlConfig.RedisKeyPrefix = programmaticConfig.RedisKeyPrefix
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.DeadBand == 0 {
		yamlConfig.DeadBand = programmaticConfig.DeadBand
	}
	if yamlConfig.Concurrency == 0 {
		yamlConfig.Concurrency = programmaticConfig.Concurrency
	}
	if yamlConfig.Retry.MaxAttempts == 0 {
		yamlConfig.Retry.MaxAttempts = programmaticConfig.Retry.MaxAttempts
	}
	if yamlConfig.Retry.BaseDelay == 0 {
		yamlConfig.Retry.BaseDelay = programmaticConfig.Retry.BaseDelay
	}
	if yamlConfig.Retry.TaskDelay == 0 {
		yamlConfig.Retry.TaskDelay = programmaticConfig.Retry.TaskDelay
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
