package retry_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/billsync/retry"
)

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestConnectionRetryDelays(t *testing.T) {
	rec := &recordedSleeps{}
	cfg := retry.Config{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond}
	r := retry.NewConnectionRetry(cfg, rec.sleep)

	var connects int
	connect := func(context.Context) error {
		connects++
		return errors.New("still down")
	}

	for i := 0; i < 5; i++ {
		scheduled, err := r.Schedule(context.Background(), connect)
		if !scheduled {
			t.Fatalf("attempt %d: expected schedule", i+1)
		}
		if err == nil {
			t.Fatalf("attempt %d: expected connect error to surface", i+1)
		}
	}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	if len(rec.delays) != len(want) {
		t.Fatalf("expected %d delays, got %v", len(want), rec.delays)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("attempt %d: expected delay %v, got %v", i+1, want[i], rec.delays[i])
		}
	}
	if connects != 5 {
		t.Errorf("expected 5 connects, got %d", connects)
	}
}

func TestConnectionRetryStopsAtMaxAttempts(t *testing.T) {
	rec := &recordedSleeps{}
	r := retry.NewConnectionRetry(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, rec.sleep)
	noop := func(context.Context) error { return nil }

	for i := 0; i < 3; i++ {
		if ok, _ := r.Schedule(context.Background(), noop); !ok {
			t.Fatalf("attempt %d should have been scheduled", i+1)
		}
	}
	if !r.Exhausted() {
		t.Error("expected retry to be exhausted")
	}

	var fired bool
	ok, err := r.Schedule(context.Background(), func(context.Context) error {
		fired = true
		return nil
	})
	if ok || err != nil || fired {
		t.Errorf("expected no further attempt, got ok=%v err=%v fired=%v", ok, err, fired)
	}
	if len(rec.delays) != 3 {
		t.Errorf("expected no extra wait, got %d waits", len(rec.delays))
	}
}

func TestConnectionRetryReset(t *testing.T) {
	rec := &recordedSleeps{}
	r := retry.NewConnectionRetry(retry.Config{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond}, rec.sleep)
	noop := func(context.Context) error { return nil }

	if r.Attempt() != 1 {
		t.Fatalf("expected counter to start at 1, got %d", r.Attempt())
	}
	_, _ = r.Schedule(context.Background(), noop)
	_, _ = r.Schedule(context.Background(), noop)
	if r.Attempt() != 3 {
		t.Fatalf("expected counter 3 after two attempts, got %d", r.Attempt())
	}

	r.Reset()
	if r.Attempt() != 1 {
		t.Errorf("expected counter 1 after reset, got %d", r.Attempt())
	}
	if ok, _ := r.Schedule(context.Background(), noop); !ok {
		t.Error("expected schedule after reset")
	}
	if got := rec.delays[len(rec.delays)-1]; got != 20*time.Millisecond {
		t.Errorf("expected delay to restart at 20ms, got %v", got)
	}
}

func TestConnectionRetryCanceledWait(t *testing.T) {
	r := retry.NewConnectionRetry(retry.Config{MaxAttempts: 1, BaseDelay: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := r.Schedule(ctx, func(context.Context) error {
		t.Error("connect must not run after cancellation")
		return nil
	})
	if !ok || !errors.Is(err, context.Canceled) {
		t.Errorf("expected scheduled attempt to end with context.Canceled, got ok=%v err=%v", ok, err)
	}
}

func TestConnectionRetryNotifiesBeforeWait(t *testing.T) {
	var order []string
	sleep := func(_ context.Context, d time.Duration) error {
		order = append(order, "wait "+d.String())
		return nil
	}
	r := retry.NewConnectionRetry(retry.Config{MaxAttempts: 2, BaseDelay: time.Second}, sleep)

	var attempts []int
	r.OnSchedule(func(attempt int, delay time.Duration) {
		attempts = append(attempts, attempt)
		order = append(order, "notify "+delay.String())
	})
	connect := func(context.Context) error {
		order = append(order, "connect")
		return nil
	}

	for i := 0; i < 3; i++ {
		_, _ = r.Schedule(context.Background(), connect)
	}

	want := []string{"notify 2s", "wait 2s", "connect", "notify 4s", "wait 4s", "connect"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("step %d: expected %q, got %q", i, want[i], order[i])
		}
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("expected attempts [1 2], got %v", attempts)
	}
}

type fakeSource struct {
	ready      atomic.Bool
	readyAfter bool
	connects   atomic.Int32
}

func (f *fakeSource) IsReady() bool { return f.ready.Load() }

func (f *fakeSource) Connect(context.Context) error {
	f.connects.Add(1)
	if f.readyAfter {
		f.ready.Store(true)
	}
	return nil
}

func TestTaskRetry(t *testing.T) {
	hard := errors.New("item not owned")

	tests := []struct {
		name         string
		ready        bool
		readyAfter   bool
		taskErr      error
		wantErr      error
		wantCalls    int
		wantConnects int32
		wantWaits    int
	}{
		{"ready runs immediately", true, false, nil, nil, 1, 0, 0},
		{"connects then runs", false, true, nil, nil, 1, 1, 1},
		{"still not ready", false, false, nil, retry.ErrNotReady, 0, 1, 1},
		{"hard failure surfaces", true, false, hard, hard, 1, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordedSleeps{}
			src := &fakeSource{readyAfter: tt.readyAfter}
			src.ready.Store(tt.ready)
			tr := retry.NewTaskRetry(retry.Config{TaskDelay: 2 * time.Second}, rec.sleep)

			calls := 0
			err := tr.Run(context.Background(), src, func(context.Context) error {
				calls++
				return tt.taskErr
			})

			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
			if calls != tt.wantCalls {
				t.Errorf("expected %d task calls, got %d", tt.wantCalls, calls)
			}
			if src.connects.Load() != tt.wantConnects {
				t.Errorf("expected %d connects, got %d", tt.wantConnects, src.connects.Load())
			}
			if len(rec.delays) != tt.wantWaits {
				t.Errorf("expected %d waits, got %d", tt.wantWaits, len(rec.delays))
			}
			for _, d := range rec.delays {
				if d != 2*time.Second {
					t.Errorf("expected 2s grace period, got %v", d)
				}
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := retry.DefaultConfig()
	if cfg.MaxAttempts != 5 || cfg.BaseDelay != 500*time.Millisecond || cfg.TaskDelay != 2*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}
