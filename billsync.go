package billsync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/plugin"
	"github.com/xraph/billsync/remote"
	"github.com/xraph/billsync/retry"
	"github.com/xraph/billsync/settings"
	"github.com/xraph/billsync/store"
	"github.com/xraph/billsync/throttle"
	"github.com/xraph/billsync/verify"
	"github.com/xraph/billsync/watch"
)

// DefaultRevalidateSchedule is the cron spec of background re-validation.
const DefaultRevalidateSchedule = "@every 30m"

// Reconciler keeps the local entitlement cache in agreement with the
// purchases reported by a remote billing service.
type Reconciler struct {
	store    store.Store
	source   remote.Source
	plugins  *plugin.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
	settings settings.Store
	now      func() time.Time

	// Verification
	verifier  verify.Verifier
	publicKey string
	products  catalog.Products
	initErr   error

	// Retry and re-validation
	retryCfg  retry.Config
	sleep     retry.Sleeper
	connRetry *retry.ConnectionRetry
	taskRetry *retry.TaskRetry
	throttle  *throttle.Throttle
	deadBand  time.Duration
	schedule  string
	cron      *cron.Cron

	concurrency int

	// Per-kind critical sections for disbursement
	kindLocks map[entitlement.Kind]*sync.Mutex
	revalMu   sync.Mutex

	// Current-value streams
	entitlements map[entitlement.Kind]*watch.Value[entitlement.Entitlement]
	catalogs     map[catalog.SkuType]*watch.Value[[]*catalog.SkuRecord]

	billingAvailable atomic.Bool
	reconnecting     atomic.Bool

	// Background workers
	startMu   sync.Mutex
	started   bool
	stopped   bool
	runCtx    context.Context
	cancelRun context.CancelFunc
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// New creates a new Reconciler over s, fed by src.
func New(s store.Store, src remote.Source, opts ...Option) *Reconciler {
	defaults, _ := catalog.NewProducts(catalog.DefaultProducts()) //nolint:errcheck // default table is valid
	runCtx, cancel := context.WithCancel(context.Background())

	r := &Reconciler{
		store:        s,
		source:       src,
		plugins:      plugin.NewRegistry(),
		logger:       slog.Default(),
		tracer:       otel.Tracer("github.com/xraph/billsync"),
		now:          func() time.Time { return time.Now().UTC() },
		products:     defaults,
		retryCfg:     retry.DefaultConfig(),
		deadBand:     throttle.DefaultDeadBand,
		schedule:     DefaultRevalidateSchedule,
		concurrency:  4,
		kindLocks:    make(map[entitlement.Kind]*sync.Mutex),
		entitlements: make(map[entitlement.Kind]*watch.Value[entitlement.Entitlement]),
		catalogs:     make(map[catalog.SkuType]*watch.Value[[]*catalog.SkuRecord]),
		runCtx:       runCtx,
		cancelRun:    cancel,
		stopChan:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	for _, k := range entitlement.Kinds() {
		r.kindLocks[k] = &sync.Mutex{}
		r.entitlements[k] = watch.New[entitlement.Entitlement]()
	}
	for _, t := range catalog.Types() {
		r.catalogs[t] = watch.New[[]*catalog.SkuRecord]()
	}

	if r.settings == nil {
		r.settings = s
	}
	r.connRetry = retry.NewConnectionRetry(r.retryCfg, r.sleep)
	r.connRetry.OnSchedule(r.reconnectScheduled)
	r.taskRetry = retry.NewTaskRetry(r.retryCfg, r.sleep)
	r.throttle = throttle.New(r.settings, r.deadBand, r.now)
	if r.sleep == nil {
		r.sleep = retry.Sleep
	}
	if r.verifier == nil && r.publicKey != "" {
		v, err := verify.NewRSAVerifier(r.publicKey)
		if err != nil {
			r.initErr = err
		} else {
			r.verifier = v
		}
	}
	r.billingAvailable.Store(true)

	return r
}

// Start migrates the store, starts the event loop and the re-validation
// schedule, and connects to the billing service.
func (r *Reconciler) Start(ctx context.Context) error {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}
	if r.initErr != nil {
		return r.initErr
	}
	if r.verifier == nil {
		r.logger.Warn("no public key configured, every receipt will be rejected")
		r.verifier = verify.RejectAll
	}

	// Migrate database
	if err := r.store.Migrate(ctx); err != nil {
		return err
	}

	// Initialize plugins
	r.plugins.EmitInit(ctx, r)

	r.primeWatches(ctx)

	// Start event loop
	r.wg.Add(1)
	go r.eventLoop()

	if r.schedule != "" {
		r.cron = cron.New()
		if _, err := r.cron.AddFunc(r.schedule, r.scheduledRevalidate); err != nil {
			r.cancelRun()
			close(r.stopChan)
			r.wg.Wait()
			return ValidationError{Field: "revalidate_schedule", Message: err.Error()}
		}
		r.cron.Start()
	}
	r.started = true

	if err := r.StartConnections(ctx); err != nil {
		r.logger.Warn("initial connection failed", "error", err)
	}

	r.logger.Info("billsync started",
		"products", len(r.products),
		"concurrency", r.concurrency,
		"dead_band", r.deadBand,
		"revalidate_schedule", r.schedule,
	)

	return nil
}

// Stop shuts down the Reconciler. In-flight work finishes first.
func (r *Reconciler) Stop() error {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	if !r.started {
		return ErrNotStarted
	}
	if r.stopped {
		return nil
	}
	r.stopped = true

	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
	r.cancelRun()
	close(r.stopChan)
	r.wg.Wait()

	ctx := context.Background()
	r.plugins.EmitShutdown(ctx)

	_ = r.source.Disconnect() //nolint:errcheck // best-effort disconnect on shutdown
	for _, v := range r.entitlements {
		v.Close()
	}
	for _, v := range r.catalogs {
		v.Close()
	}

	return r.store.Close()
}

// Plugins returns the plugin registry.
func (r *Reconciler) Plugins() *plugin.Registry { return r.plugins }

// Products returns the product table.
func (r *Reconciler) Products() catalog.Products { return r.products }

// BillingAvailable reports whether the billing service accepted the last
// connection. It turns false on a billing-unavailable answer.
func (r *Reconciler) BillingAvailable() bool { return r.billingAvailable.Load() }

// ──────────────────────────────────────────────────
// Background workers
// ──────────────────────────────────────────────────

func (r *Reconciler) eventLoop() {
	defer r.wg.Done()

	events := r.source.Events()
	for {
		select {
		case <-r.stopChan:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.HandleEvent(r.runCtx, ev)
		}
	}
}

// HandleEvent dispatches one source notification to its entry point.
func (r *Reconciler) HandleEvent(ctx context.Context, ev remote.Event) {
	var err error
	switch ev.Kind {
	case remote.EventConnected:
		err = r.OnConnectionEvent(ctx, ev.Result)
	case remote.EventDisconnected:
		r.ConnectionLost(ctx, ev.Reason)
	case remote.EventPurchasesUpdated:
		_, err = r.PurchasesChanged(ctx, ev.Result, ev.Receipts)
	case remote.EventConsumed:
		err = r.ConsumeAcknowledged(ctx, ev.Result, ev.Token)
	default:
		r.logger.Warn("unknown source event", "kind", ev.Kind)
	}
	if err != nil {
		r.logger.Debug("source event handled with error", "kind", ev.Kind, "error", err)
	}
}

func (r *Reconciler) scheduledRevalidate() {
	if _, err := r.Revalidate(r.runCtx, false); err != nil {
		r.logger.Warn("scheduled revalidation failed", "error", err)
	}
}

// scheduleReconnect starts one delayed reconnect unless one is pending or
// the attempts are exhausted.
func (r *Reconciler) scheduleReconnect() {
	if r.runCtx.Err() != nil {
		return
	}
	if !r.reconnecting.CompareAndSwap(false, true) {
		return
	}
	if r.connRetry.Exhausted() {
		r.reconnecting.Store(false)
		r.logger.Error("reconnect attempts exhausted", "attempts", r.connRetry.Attempt()-1)
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		var dialed bool
		scheduled, err := r.connRetry.Schedule(r.runCtx, func(ctx context.Context) error {
			dialed = true
			// The outcome arrives as an event that may schedule the next attempt.
			r.reconnecting.Store(false)
			return r.source.Connect(ctx)
		})
		if !dialed {
			r.reconnecting.Store(false)
		}
		switch {
		case !scheduled:
			r.logger.Error("reconnect attempts exhausted", "attempts", r.connRetry.Attempt()-1)
		case dialed && err != nil:
			r.logger.Warn("reconnect failed", "error", err)
		}
	}()
}

func (r *Reconciler) reconnectScheduled(attempt int, delay time.Duration) {
	r.plugins.EmitReconnectScheduled(r.runCtx, attempt, delay)
	r.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}
