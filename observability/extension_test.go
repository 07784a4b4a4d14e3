package observability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/grant"
	"github.com/xraph/billsync/plugin"
	"github.com/xraph/billsync/receipt"
	"github.com/xraph/billsync/remote"
)

type fakeCounter struct {
	mu    sync.Mutex
	value float64
}

func (c *fakeCounter) Inc()          { c.Add(1) }
func (c *fakeCounter) Add(v float64) { c.mu.Lock(); c.value += v; c.mu.Unlock() }

func (c *fakeCounter) get() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

type fakeHistogram struct {
	mu       sync.Mutex
	observed []float64
}

func (h *fakeHistogram) Observe(v float64) {
	h.mu.Lock()
	h.observed = append(h.observed, v)
	h.mu.Unlock()
}

type fakeFactory struct {
	counters   map[string]*fakeCounter
	histograms map[string]*fakeHistogram
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		counters:   make(map[string]*fakeCounter),
		histograms: make(map[string]*fakeHistogram),
	}
}

func (f *fakeFactory) Counter(name string) Counter {
	c := &fakeCounter{}
	f.counters[name] = c
	return c
}

func (f *fakeFactory) Histogram(name string) Histogram {
	h := &fakeHistogram{}
	f.histograms[name] = h
	return h
}

func TestGrantCountersByKind(t *testing.T) {
	f := newFakeFactory()
	m := NewMetricsExtension(f)
	ctx := context.Background()

	_ = m.OnEntitlementGranted(ctx, &grant.Grant{Kind: entitlement.KindOneTime, Delta: 1}, nil)
	_ = m.OnEntitlementGranted(ctx, &grant.Grant{Kind: entitlement.KindConsumable, Delta: 3}, nil)
	_ = m.OnEntitlementGranted(ctx, &grant.Grant{Kind: entitlement.KindConsumable, Delta: 2}, nil)

	if got := f.counters["billsync.grant.one_time"].get(); got != 1 {
		t.Errorf("expected 1 one-time grant, got %v", got)
	}
	if got := f.counters["billsync.grant.consumable"].get(); got != 2 {
		t.Errorf("expected 2 consumable grants, got %v", got)
	}
	if got := f.counters["billsync.grant.consumable.units"].get(); got != 5 {
		t.Errorf("expected 5 consumable units, got %v", got)
	}
	if got := f.counters["billsync.grant.subscription"].get(); got != 0 {
		t.Errorf("expected 0 subscription grants, got %v", got)
	}
}

func TestRemoteErrorCountsTransient(t *testing.T) {
	f := newFakeFactory()
	m := NewMetricsExtension(f)
	ctx := context.Background()

	_ = m.OnRemoteError(ctx, "acknowledge", remote.Result{Code: remote.CodeServiceUnavailable})
	_ = m.OnRemoteError(ctx, "consume", remote.Result{Code: remote.CodeDeveloperError})

	if got := f.counters["billsync.remote.errors"].get(); got != 2 {
		t.Errorf("expected 2 remote errors, got %v", got)
	}
	if got := f.counters["billsync.remote.errors.transient"].get(); got != 1 {
		t.Errorf("expected 1 transient error, got %v", got)
	}
}

func TestReconcileCompleted(t *testing.T) {
	f := newFakeFactory()
	m := NewMetricsExtension(f)

	stats := plugin.ReconcileStats{Received: 4, Granted: 2, Failed: 1}
	_ = m.OnReconcileCompleted(context.Background(), stats, 25*time.Millisecond)

	if got := f.counters["billsync.reconcile.runs"].get(); got != 1 {
		t.Errorf("expected 1 run, got %v", got)
	}
	if got := f.counters["billsync.reconcile.failed"].get(); got != 1 {
		t.Errorf("expected 1 failed, got %v", got)
	}
	batch := f.histograms["billsync.reconcile.batch.size"].observed
	if len(batch) != 1 || batch[0] != 4 {
		t.Errorf("expected batch observation [4], got %v", batch)
	}
	latency := f.histograms["billsync.reconcile.latency_ms"].observed
	if len(latency) != 1 || latency[0] != 25 {
		t.Errorf("expected latency observation [25], got %v", latency)
	}
}

func TestRegisteredThroughRegistry(t *testing.T) {
	f := newFakeFactory()
	m := NewMetricsExtension(f)

	reg := plugin.NewRegistry()
	if err := reg.Register(m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	rec := &receipt.Receipt{Token: "tok-1", SKU: "coin"}
	reg.EmitReceiptPending(ctx, rec)
	reg.EmitPurchaseAcknowledged(ctx, rec)
	reg.EmitPurchaseConsumed(ctx, rec)
	reg.EmitEntitlementRevoked(ctx, entitlement.KindOneTime)
	reg.EmitReconnectScheduled(ctx, 1, 2*time.Second)

	for name, want := range map[string]float64{
		"billsync.receipt.pending":       1,
		"billsync.purchase.acknowledged": 1,
		"billsync.purchase.consumed":     1,
		"billsync.entitlement.revoked":   1,
		"billsync.remote.reconnects":     1,
	} {
		if got := f.counters[name].get(); got != want {
			t.Errorf("%s: expected %v, got %v", name, want, got)
		}
	}
	delay := f.histograms["billsync.remote.reconnect.delay_ms"].observed
	if len(delay) != 1 || delay[0] != 2000 {
		t.Errorf("expected delay observation [2000], got %v", delay)
	}
}
