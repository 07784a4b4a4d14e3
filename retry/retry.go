// Package retry schedules reconnects to the remote purchase source and
// defers single calls while the source is still connecting.
package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrNotReady reports that the source was still not connected after the
// grace period. It is recoverable: the caller retries on the next trigger.
var ErrNotReady = errors.New("retry: remote source not ready")

// Config holds the retry tunables.
type Config struct {
	// MaxAttempts is the number of automatic reconnects before giving up
	// until Reset (default: 5). The counter starts at 1 and every value up
	// to and including MaxAttempts is used, so exactly MaxAttempts
	// reconnects run. The mobile billing client this replaces stopped one
	// short, at maxRetry-1.
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts" yaml:"max_attempts" env:"MAX_ATTEMPTS"`

	// BaseDelay is multiplied by 2^attempt for reconnect delays (default: 500ms).
	BaseDelay time.Duration `json:"base_delay" mapstructure:"base_delay" yaml:"base_delay" env:"BASE_DELAY"`

	// TaskDelay is the grace period a deferred call waits for a connection
	// (default: 2s).
	TaskDelay time.Duration `json:"task_delay" mapstructure:"task_delay" yaml:"task_delay" env:"TASK_DELAY"`
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		TaskDelay:   2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.TaskDelay <= 0 {
		c.TaskDelay = d.TaskDelay
	}
	return c
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-time Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ──────────────────────────────────────────────────
// Connection retry
// ──────────────────────────────────────────────────

// ConnectionRetry spaces reconnect attempts exponentially. The attempt
// counter starts at 1 and is consumed by each scheduled attempt.
type ConnectionRetry struct {
	mu      sync.Mutex
	cfg     Config
	attempt int
	policy  *backoff.ExponentialBackOff
	sleep   Sleeper
	notify  func(attempt int, delay time.Duration)
}

// NewConnectionRetry returns a ConnectionRetry with a fresh counter.
func NewConnectionRetry(cfg Config, sleep Sleeper) *ConnectionRetry {
	cfg = cfg.withDefaults()
	if sleep == nil {
		sleep = Sleep
	}
	r := &ConnectionRetry{cfg: cfg, sleep: sleep}
	r.resetLocked()
	return r
}

func (r *ConnectionRetry) resetLocked() {
	r.attempt = 1
	r.policy = &backoff.ExponentialBackOff{
		InitialInterval:     2 * r.cfg.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         r.cfg.BaseDelay << uint(r.cfg.MaxAttempts+1),
	}
	r.policy.Reset()
}

// Reset sets the counter back to 1. Call it after every successful connection
// and to re-arm retries after MaxAttempts was reached.
func (r *ConnectionRetry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

// Attempt returns the number the next scheduled attempt would use.
func (r *ConnectionRetry) Attempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

// Exhausted reports whether no further automatic attempt will be scheduled.
func (r *ConnectionRetry) Exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt > r.cfg.MaxAttempts
}

// OnSchedule registers fn to run each time Schedule commits to an attempt,
// before the wait.
func (r *ConnectionRetry) OnSchedule(fn func(attempt int, delay time.Duration)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notify = fn
}

// Next consumes an attempt and returns its delay, base × 2^attempt. ok is
// false once MaxAttempts attempts were consumed since the last Reset.
func (r *ConnectionRetry) Next() (attempt int, delay time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempt > r.cfg.MaxAttempts {
		return r.attempt, 0, false
	}
	attempt = r.attempt
	r.attempt++
	return attempt, r.policy.NextBackOff(), true
}

// Schedule waits for the next delay and runs connect. It returns false
// without waiting when the attempts are exhausted, and ctx.Err() when ctx
// ends during the wait.
func (r *ConnectionRetry) Schedule(ctx context.Context, connect func(context.Context) error) (bool, error) {
	attempt, delay, ok := r.Next()
	if !ok {
		return false, nil
	}
	r.mu.Lock()
	notify := r.notify
	r.mu.Unlock()
	if notify != nil {
		notify(attempt, delay)
	}
	if err := r.sleep(ctx, delay); err != nil {
		return true, err
	}
	return true, connect(ctx)
}

// ──────────────────────────────────────────────────
// Task retry
// ──────────────────────────────────────────────────

// Readiness is the part of a remote source TaskRetry needs.
type Readiness interface {
	IsReady() bool
	Connect(ctx context.Context) error
}

// TaskRetry runs a remote call once, first giving a disconnected source one
// grace period to connect.
type TaskRetry struct {
	delay time.Duration
	sleep Sleeper
}

// NewTaskRetry returns a TaskRetry using cfg.TaskDelay as the grace period.
func NewTaskRetry(cfg Config, sleep Sleeper) *TaskRetry {
	cfg = cfg.withDefaults()
	if sleep == nil {
		sleep = Sleep
	}
	return &TaskRetry{delay: cfg.TaskDelay, sleep: sleep}
}

// Run executes task at most once. When src is not ready it issues Connect,
// waits the grace period and, if src is still not ready, returns ErrNotReady
// without calling task. Task errors are returned unchanged.
func (t *TaskRetry) Run(ctx context.Context, src Readiness, task func(context.Context) error) error {
	if !src.IsReady() {
		_ = src.Connect(ctx) //nolint:errcheck // readiness is re-checked after the grace period
		if err := t.sleep(ctx, t.delay); err != nil {
			return err
		}
		if !src.IsReady() {
			return ErrNotReady
		}
	}
	return task(ctx)
}
