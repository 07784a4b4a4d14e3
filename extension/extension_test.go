package extension

import (
	"testing"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/billsync"
	"github.com/xraph/billsync/store/memory"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RevalidateSchedule != billsync.DefaultRevalidateSchedule {
		t.Errorf("expected schedule %q, got %q", billsync.DefaultRevalidateSchedule, cfg.RevalidateSchedule)
	}
	if cfg.DeadBand != 2*time.Hour {
		t.Errorf("expected dead band 2h, got %v", cfg.DeadBand)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.Retry.MaxAttempts)
	}
}

func TestMergeWithDefaults(t *testing.T) {
	e := &Extension{}
	cfg := e.mergeWithDefaults(Config{Concurrency: 8, Driver: DriverSQLite})

	if cfg.Concurrency != 8 {
		t.Errorf("expected concurrency 8, got %d", cfg.Concurrency)
	}
	if cfg.Driver != DriverSQLite {
		t.Errorf("expected driver sqlite, got %q", cfg.Driver)
	}
	if cfg.DeadBand != DefaultConfig().DeadBand {
		t.Errorf("expected default dead band, got %v", cfg.DeadBand)
	}
	if cfg.Retry.TaskDelay != DefaultConfig().Retry.TaskDelay {
		t.Errorf("expected default task delay, got %v", cfg.Retry.TaskDelay)
	}
	if cfg.RedisKeyPrefix != "billsync:" {
		t.Errorf("expected default redis prefix, got %q", cfg.RedisKeyPrefix)
	}
}

func TestMergeConfigurations(t *testing.T) {
	e := &Extension{}
	yamlCfg := Config{Driver: DriverPostgres, DeadBand: time.Hour}
	progCfg := Config{
		Driver:            DriverMongo,
		DeadBand:          3 * time.Hour,
		Concurrency:       2,
		PublicKey:         "key",
		DisableStart:      true,
		DisableRevalidate: true,
	}

	cfg := e.mergeConfigurations(yamlCfg, progCfg)

	if cfg.Driver != DriverPostgres {
		t.Errorf("expected yaml driver to win, got %q", cfg.Driver)
	}
	if cfg.DeadBand != time.Hour {
		t.Errorf("expected yaml dead band to win, got %v", cfg.DeadBand)
	}
	if cfg.Concurrency != 2 {
		t.Errorf("expected programmatic concurrency to fill gap, got %d", cfg.Concurrency)
	}
	if cfg.PublicKey != "key" {
		t.Errorf("expected programmatic public key to fill gap, got %q", cfg.PublicKey)
	}
	if !cfg.DisableStart || !cfg.DisableRevalidate {
		t.Error("expected programmatic bool flags to carry over")
	}
	if cfg.RevalidateSchedule != billsync.DefaultRevalidateSchedule {
		t.Errorf("expected default schedule, got %q", cfg.RevalidateSchedule)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("BILLSYNC_DRIVER", "sqlite")
	t.Setenv("BILLSYNC_DEAD_BAND", "90m")
	t.Setenv("BILLSYNC_DISABLE_START", "true")
	t.Setenv("BILLSYNC_RETRY_MAX_ATTEMPTS", "7")

	cfg := DefaultConfig()
	cfg.Concurrency = 3
	if err := LoadEnv(&cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Driver != DriverSQLite {
		t.Errorf("expected driver sqlite, got %q", cfg.Driver)
	}
	if cfg.DeadBand != 90*time.Minute {
		t.Errorf("expected dead band 90m, got %v", cfg.DeadBand)
	}
	if !cfg.DisableStart {
		t.Error("expected DisableStart from env")
	}
	if cfg.Retry.MaxAttempts != 7 {
		t.Errorf("expected 7 attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Concurrency != 3 {
		t.Errorf("expected unset env to keep concurrency 3, got %d", cfg.Concurrency)
	}
	if cfg.RevalidateSchedule != billsync.DefaultRevalidateSchedule {
		t.Errorf("expected schedule untouched, got %q", cfg.RevalidateSchedule)
	}
}

func TestLoadEnvInvalidDuration(t *testing.T) {
	t.Setenv("BILLSYNC_DEAD_BAND", "soon")

	cfg := DefaultConfig()
	if err := LoadEnv(&cfg); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestResolveStore(t *testing.T) {
	t.Run("programmatic", func(t *testing.T) {
		s := memory.New()
		e := &Extension{store: s}
		got, err := e.resolveStore()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != s {
			t.Error("expected programmatic store")
		}
	})

	t.Run("memory fallback", func(t *testing.T) {
		e := &Extension{}
		got, err := e.resolveStore()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := got.(*memory.Store); !ok {
			t.Errorf("expected *memory.Store, got %T", got)
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		e := &Extension{groveDB: new(grove.DB), config: Config{Driver: "cassandra"}}
		if _, err := e.resolveStore(); err == nil {
			t.Error("expected error for unknown driver")
		}
	})
}

func TestBuildReconcilerOpts(t *testing.T) {
	base := DefaultConfig()

	e := &Extension{config: base}
	if got := len(e.buildReconcilerOpts()); got != 5 {
		t.Errorf("expected 5 options, got %d", got)
	}

	withKey := base
	withKey.PublicKey = "key"
	e = &Extension{
		config:         withKey,
		settings:       memory.New(),
		reconcilerOpts: []billsync.Option{billsync.WithConcurrency(1)},
	}
	if got := len(e.buildReconcilerOpts()); got != 8 {
		t.Errorf("expected 8 options, got %d", got)
	}
}

func TestNewAppliesOptions(t *testing.T) {
	e := New(
		WithDriver(DriverMongo),
		WithDisableStart(),
		WithPublicKey("key"),
		WithDeadBand(time.Minute),
		WithRevalidateSchedule("@every 1h"),
	)

	if e.config.Driver != DriverMongo {
		t.Errorf("expected driver mongo, got %q", e.config.Driver)
	}
	if !e.config.DisableStart {
		t.Error("expected DisableStart")
	}
	if e.config.PublicKey != "key" {
		t.Errorf("expected public key, got %q", e.config.PublicKey)
	}
	if e.config.DeadBand != time.Minute {
		t.Errorf("expected dead band 1m, got %v", e.config.DeadBand)
	}
	if e.config.RevalidateSchedule != "@every 1h" {
		t.Errorf("expected schedule '@every 1h', got %q", e.config.RevalidateSchedule)
	}
	if e.Engine() != nil {
		t.Error("expected nil engine before Register")
	}
}
