package billsync

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/plugin"
	"github.com/xraph/billsync/retry"
	"github.com/xraph/billsync/settings"
	"github.com/xraph/billsync/verify"
)

// Option configures a Reconciler instance.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
		r.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(r *Reconciler) {
		_ = r.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithVerifier sets the receipt signature verifier. It takes precedence
// over WithPublicKey.
func WithVerifier(v verify.Verifier) Option {
	return func(r *Reconciler) {
		r.verifier = v
	}
}

// WithPublicKey verifies receipts against an RSA public key in base64 DER
// or PEM form. An invalid key makes Start fail.
func WithPublicKey(key string) Option {
	return func(r *Reconciler) {
		r.publicKey = key
	}
}

// WithProducts replaces the product table. An invalid table makes Start fail.
func WithProducts(ps []catalog.Product) Option {
	return func(r *Reconciler) {
		products, err := catalog.NewProducts(ps)
		if err != nil {
			r.initErr = err
			return
		}
		r.products = products
	}
}

// WithRetryConfig configures reconnect and remote task retries.
func WithRetryConfig(cfg retry.Config) Option {
	return func(r *Reconciler) {
		r.retryCfg = cfg
	}
}

// WithSleeper replaces the wait used between retries.
func WithSleeper(s retry.Sleeper) Option {
	return func(r *Reconciler) {
		r.sleep = s
	}
}

// WithDeadBand sets the minimum spacing of background re-validation.
func WithDeadBand(d time.Duration) Option {
	return func(r *Reconciler) {
		r.deadBand = d
	}
}

// WithRevalidateSchedule sets the cron spec of background re-validation.
// An empty spec disables the schedule.
func WithRevalidateSchedule(spec string) Option {
	return func(r *Reconciler) {
		r.schedule = spec
	}
}

// WithConcurrency bounds how many receipts of a batch are processed at once.
func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Reconciler) {
		r.tracer = t
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithSettingsStore keeps the throttle timestamp outside the main store,
// for example in Redis shared by several processes.
func WithSettingsStore(s settings.Store) Option {
	return func(r *Reconciler) {
		r.settings = s
	}
}
