// Package throttle rate-limits optional background work to one run per
// dead-band interval, persisting the last run in a settings store.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/xraph/billsync/settings"
)

// DefaultDeadBand is the minimum interval between background re-validations.
const DefaultDeadBand = 2 * time.Hour

// Key is the settings key holding the last invocation, in unix milliseconds.
const Key = "billsync.throttle.last_invocation"

// IsStale reports whether last+deadBand lies strictly before now.
func IsStale(last, now time.Time, deadBand time.Duration) bool {
	return last.Add(deadBand).Before(now)
}

// Throttle tracks the last invocation of one background task.
type Throttle struct {
	store    settings.Store
	deadBand time.Duration
	now      func() time.Time
}

// New returns a Throttle over store. A non-positive deadBand uses DefaultDeadBand.
func New(store settings.Store, deadBand time.Duration, now func() time.Time) *Throttle {
	if deadBand <= 0 {
		deadBand = DefaultDeadBand
	}
	if now == nil {
		now = time.Now
	}
	return &Throttle{store: store, deadBand: deadBand, now: now}
}

// DeadBand returns the configured interval.
func (t *Throttle) DeadBand() time.Duration { return t.deadBand }

// Last returns the recorded invocation time; ok is false when none was recorded
// or the stored value is unreadable.
func (t *Throttle) Last(ctx context.Context) (last time.Time, ok bool, err error) {
	raw, err := t.store.GetSetting(ctx, Key)
	if errors.Is(err, settings.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("throttle: read last invocation: %w", err)
	}
	ms, perr := strconv.ParseInt(raw, 10, 64)
	if perr != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// Stale reports whether the task may run. A missing record is stale.
func (t *Throttle) Stale(ctx context.Context) (bool, error) {
	last, ok, err := t.Last(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return IsStale(last, t.now(), t.deadBand), nil
}

// Refresh records now as the last invocation.
func (t *Throttle) Refresh(ctx context.Context) error {
	ms := strconv.FormatInt(t.now().UnixMilli(), 10)
	if err := t.store.PutSetting(ctx, Key, ms); err != nil {
		return fmt.Errorf("throttle: write last invocation: %w", err)
	}
	return nil
}
