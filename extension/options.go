package extension

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xraph/grove"

	"github.com/xraph/billsync"
	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/plugin"
	"github.com/xraph/billsync/remote"
	"github.com/xraph/billsync/settings"
	"github.com/xraph/billsync/store"
)

// Option configures the billsync Forge extension.
type Option func(*Extension)

// WithStore sets the store for the reconciler.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB builds the store over db using the configured Driver.
func WithGroveDB(db *grove.DB) Option {
	return func(e *Extension) {
		e.groveDB = db
	}
}

// WithSource sets the billing service the reconciler talks to.
func WithSource(src remote.Source) Option {
	return func(e *Extension) {
		e.source = src
	}
}

// WithSettingsStore keeps throttle state outside the aggregate store.
func WithSettingsStore(s settings.Store) Option {
	return func(e *Extension) {
		e.settings = s
	}
}

// WithRedis keeps throttle state in Redis under Config.RedisKeyPrefix.
func WithRedis(rdb redis.Cmdable) Option {
	return func(e *Extension) {
		e.redis = rdb
	}
}

// WithReconcilerOption passes a billsync.Option through to the reconciler.
func WithReconcilerOption(opt billsync.Option) Option {
	return func(e *Extension) {
		e.reconcilerOpts = append(e.reconcilerOpts, opt)
	}
}

// WithPlugin registers a billsync plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.reconcilerOpts = append(e.reconcilerOpts, billsync.WithPlugin(p))
	}
}

// WithProducts replaces the product table.
func WithProducts(ps []catalog.Product) Option {
	return func(e *Extension) {
		e.reconcilerOpts = append(e.reconcilerOpts, billsync.WithProducts(ps))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableStart prevents starting the reconciler with the application.
func WithDisableStart() Option {
	return func(e *Extension) { e.config.DisableStart = true }
}

// WithDriver selects the grove-backed store implementation.
func WithDriver(driver string) Option {
	return func(e *Extension) { e.config.Driver = driver }
}

// WithPublicKey sets the receipt verification key.
func WithPublicKey(key string) Option {
	return func(e *Extension) { e.config.PublicKey = key }
}

// WithRevalidateSchedule sets the background re-validation cron spec.
func WithRevalidateSchedule(spec string) Option {
	return func(e *Extension) { e.config.RevalidateSchedule = spec }
}

// WithDeadBand sets the re-validation dead-band.
func WithDeadBand(d time.Duration) Option {
	return func(e *Extension) { e.config.DeadBand = d }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}
