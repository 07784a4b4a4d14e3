// Package audithook bridges billsync reconciliation events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/grant"
	"github.com/xraph/billsync/plugin"
	"github.com/xraph/billsync/receipt"
	"github.com/xraph/billsync/remote"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnReceiptPending       = (*Extension)(nil)
	_ plugin.OnReceiptRejected      = (*Extension)(nil)
	_ plugin.OnPurchaseAcknowledged = (*Extension)(nil)
	_ plugin.OnPurchaseConsumed     = (*Extension)(nil)
	_ plugin.OnEntitlementGranted   = (*Extension)(nil)
	_ plugin.OnEntitlementRevoked   = (*Extension)(nil)
	_ plugin.OnRemoteError          = (*Extension)(nil)
	_ plugin.OnReconnectScheduled   = (*Extension)(nil)
	_ plugin.OnReconcileCompleted   = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges billsync events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Receipt hooks
// ──────────────────────────────────────────────────

// OnReceiptPending implements plugin.OnReceiptPending.
func (e *Extension) OnReceiptPending(ctx context.Context, r *receipt.Receipt) error {
	return e.record(ctx, ActionReceiptPending, SeverityInfo, OutcomePartial,
		ResourceReceipt, r.Token, CategoryPurchase, nil,
		"sku", r.SKU,
	)
}

// OnReceiptRejected implements plugin.OnReceiptRejected.
func (e *Extension) OnReceiptRejected(ctx context.Context, r *receipt.Receipt, reason error) error {
	return e.record(ctx, ActionReceiptRejected, SeverityWarning, OutcomeFailure,
		ResourceReceipt, r.Token, CategoryPurchase, reason,
		"sku", r.SKU,
		"order_id", r.OrderID,
	)
}

// OnPurchaseAcknowledged implements plugin.OnPurchaseAcknowledged.
func (e *Extension) OnPurchaseAcknowledged(ctx context.Context, r *receipt.Receipt) error {
	return e.record(ctx, ActionPurchaseAcknowledged, SeverityInfo, OutcomeSuccess,
		ResourceReceipt, r.Token, CategoryPurchase, nil,
		"sku", r.SKU,
	)
}

// OnPurchaseConsumed implements plugin.OnPurchaseConsumed.
func (e *Extension) OnPurchaseConsumed(ctx context.Context, r *receipt.Receipt) error {
	return e.record(ctx, ActionPurchaseConsumed, SeverityInfo, OutcomeSuccess,
		ResourceReceipt, r.Token, CategoryPurchase, nil,
		"sku", r.SKU,
		"quantity", r.Units(),
	)
}

// ──────────────────────────────────────────────────
// Entitlement hooks
// ──────────────────────────────────────────────────

// OnEntitlementGranted implements plugin.OnEntitlementGranted.
func (e *Extension) OnEntitlementGranted(ctx context.Context, g *grant.Grant, _ entitlement.Entitlement) error {
	return e.record(ctx, ActionEntitlementGranted, SeverityInfo, OutcomeSuccess,
		ResourceEntitlement, g.Token, CategoryAccess, nil,
		"kind", string(g.Kind),
		"sku", g.SKU,
		"delta", g.Delta,
	)
}

// OnEntitlementRevoked implements plugin.OnEntitlementRevoked.
func (e *Extension) OnEntitlementRevoked(ctx context.Context, kind entitlement.Kind) error {
	return e.record(ctx, ActionEntitlementRevoked, SeverityWarning, OutcomeSuccess,
		ResourceEntitlement, string(kind), CategoryAccess, nil,
		"kind", string(kind),
	)
}

// ──────────────────────────────────────────────────
// Remote hooks
// ──────────────────────────────────────────────────

// OnRemoteError implements plugin.OnRemoteError.
func (e *Extension) OnRemoteError(ctx context.Context, op string, res remote.Result) error {
	severity := SeverityError
	if res.Code.Transient() {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionRemoteError, severity, OutcomeFailure,
		ResourceRemote, op, CategoryIntegration, fmt.Errorf("%s: %s", res.Code, res.Message),
		"op", op,
		"code", res.Code.String(),
	)
}

// OnReconnectScheduled implements plugin.OnReconnectScheduled.
func (e *Extension) OnReconnectScheduled(ctx context.Context, attempt int, delay time.Duration) error {
	return e.record(ctx, ActionReconnectScheduled, SeverityWarning, OutcomePartial,
		ResourceRemote, "", CategoryIntegration, nil,
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
	)
}

// OnReconcileCompleted implements plugin.OnReconcileCompleted.
func (e *Extension) OnReconcileCompleted(ctx context.Context, stats plugin.ReconcileStats, elapsed time.Duration) error {
	outcome := OutcomeSuccess
	if stats.Failed > 0 {
		outcome = OutcomePartial
	}
	return e.record(ctx, ActionReconcileCompleted, SeverityInfo, outcome,
		ResourceReconcile, "", CategoryPurchase, nil,
		"received", stats.Received,
		"granted", stats.Granted,
		"skipped", stats.Skipped,
		"pending", stats.Pending,
		"rejected", stats.Rejected,
		"failed", stats.Failed,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
