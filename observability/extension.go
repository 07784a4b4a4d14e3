// Package observability provides a metrics extension for billsync that records
// reconciliation event counts via a pluggable MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/grant"
	"github.com/xraph/billsync/plugin"
	"github.com/xraph/billsync/receipt"
	"github.com/xraph/billsync/remote"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnInit                 = (*MetricsExtension)(nil)
	_ plugin.OnReceiptPending       = (*MetricsExtension)(nil)
	_ plugin.OnReceiptRejected      = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseAcknowledged = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseConsumed     = (*MetricsExtension)(nil)
	_ plugin.OnEntitlementGranted   = (*MetricsExtension)(nil)
	_ plugin.OnEntitlementRevoked   = (*MetricsExtension)(nil)
	_ plugin.OnRemoteError          = (*MetricsExtension)(nil)
	_ plugin.OnReconnectScheduled   = (*MetricsExtension)(nil)
	_ plugin.OnReconcileCompleted   = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records reconciliation metrics.
// Register it as a billsync plugin to track purchase flow.
type MetricsExtension struct {
	factory MetricFactory

	// Receipt metrics
	ReceiptsPending  Counter
	ReceiptsRejected Counter

	// Purchase completion metrics
	PurchasesAcknowledged Counter
	PurchasesConsumed     Counter

	// Entitlement metrics
	GrantsOneTime      Counter
	GrantsSubscription Counter
	GrantsConsumable   Counter
	ConsumableUnits    Counter
	Revocations        Counter

	// Remote metrics
	RemoteErrors        Counter
	RemoteTransient     Counter
	ReconnectsScheduled Counter
	ReconnectDelay      Histogram

	// Reconcile metrics
	ReconcileRuns    Counter
	ReconcileBatch   Histogram
	ReconcileFailed  Counter
	ReconcileLatency Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		ReceiptsPending:  factory.Counter("billsync.receipt.pending"),
		ReceiptsRejected: factory.Counter("billsync.receipt.rejected"),

		PurchasesAcknowledged: factory.Counter("billsync.purchase.acknowledged"),
		PurchasesConsumed:     factory.Counter("billsync.purchase.consumed"),

		GrantsOneTime:      factory.Counter("billsync.grant.one_time"),
		GrantsSubscription: factory.Counter("billsync.grant.subscription"),
		GrantsConsumable:   factory.Counter("billsync.grant.consumable"),
		ConsumableUnits:    factory.Counter("billsync.grant.consumable.units"),
		Revocations:        factory.Counter("billsync.entitlement.revoked"),

		RemoteErrors:        factory.Counter("billsync.remote.errors"),
		RemoteTransient:     factory.Counter("billsync.remote.errors.transient"),
		ReconnectsScheduled: factory.Counter("billsync.remote.reconnects"),
		ReconnectDelay:      factory.Histogram("billsync.remote.reconnect.delay_ms"),

		ReconcileRuns:    factory.Counter("billsync.reconcile.runs"),
		ReconcileBatch:   factory.Histogram("billsync.reconcile.batch.size"),
		ReconcileFailed:  factory.Counter("billsync.reconcile.failed"),
		ReconcileLatency: factory.Histogram("billsync.reconcile.latency_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Receipt hooks
// ──────────────────────────────────────────────────

// OnReceiptPending implements plugin.OnReceiptPending.
func (m *MetricsExtension) OnReceiptPending(_ context.Context, _ *receipt.Receipt) error {
	m.ReceiptsPending.Inc()
	return nil
}

// OnReceiptRejected implements plugin.OnReceiptRejected.
func (m *MetricsExtension) OnReceiptRejected(_ context.Context, _ *receipt.Receipt, _ error) error {
	m.ReceiptsRejected.Inc()
	return nil
}

// OnPurchaseAcknowledged implements plugin.OnPurchaseAcknowledged.
func (m *MetricsExtension) OnPurchaseAcknowledged(_ context.Context, _ *receipt.Receipt) error {
	m.PurchasesAcknowledged.Inc()
	return nil
}

// OnPurchaseConsumed implements plugin.OnPurchaseConsumed.
func (m *MetricsExtension) OnPurchaseConsumed(_ context.Context, _ *receipt.Receipt) error {
	m.PurchasesConsumed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Entitlement hooks
// ──────────────────────────────────────────────────

// OnEntitlementGranted implements plugin.OnEntitlementGranted.
func (m *MetricsExtension) OnEntitlementGranted(_ context.Context, g *grant.Grant, _ entitlement.Entitlement) error {
	switch g.Kind {
	case entitlement.KindOneTime:
		m.GrantsOneTime.Inc()
	case entitlement.KindSubscription:
		m.GrantsSubscription.Inc()
	case entitlement.KindConsumable:
		m.GrantsConsumable.Inc()
		m.ConsumableUnits.Add(float64(g.Delta))
	}
	return nil
}

// OnEntitlementRevoked implements plugin.OnEntitlementRevoked.
func (m *MetricsExtension) OnEntitlementRevoked(_ context.Context, _ entitlement.Kind) error {
	m.Revocations.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Remote hooks
// ──────────────────────────────────────────────────

// OnRemoteError implements plugin.OnRemoteError.
func (m *MetricsExtension) OnRemoteError(_ context.Context, _ string, res remote.Result) error {
	m.RemoteErrors.Inc()
	if res.Code.Transient() {
		m.RemoteTransient.Inc()
	}
	return nil
}

// OnReconnectScheduled implements plugin.OnReconnectScheduled.
func (m *MetricsExtension) OnReconnectScheduled(_ context.Context, _ int, delay time.Duration) error {
	m.ReconnectsScheduled.Inc()
	m.ReconnectDelay.Observe(float64(delay.Milliseconds()))
	return nil
}

// OnReconcileCompleted implements plugin.OnReconcileCompleted.
func (m *MetricsExtension) OnReconcileCompleted(_ context.Context, stats plugin.ReconcileStats, elapsed time.Duration) error {
	m.ReconcileRuns.Inc()
	m.ReconcileBatch.Observe(float64(stats.Received))
	if stats.Failed > 0 {
		m.ReconcileFailed.Add(float64(stats.Failed))
	}
	m.ReconcileLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}
