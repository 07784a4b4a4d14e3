// Package plugin provides an extensible plugin system for billsync.
// Plugins can hook into reconciliation lifecycle events to extend functionality.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/grant"
	"github.com/xraph/billsync/receipt"
	"github.com/xraph/billsync/remote"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the reconciler starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, r interface{}) error
}

// OnShutdown is called when the reconciler stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Receipt hooks
// ──────────────────────────────────────────────────

// OnReceiptPending is called when a receipt awaits payment and is skipped.
type OnReceiptPending interface {
	Plugin
	OnReceiptPending(ctx context.Context, r *receipt.Receipt) error
}

// OnReceiptRejected is called when a receipt fails verification and is dropped.
type OnReceiptRejected interface {
	Plugin
	OnReceiptRejected(ctx context.Context, r *receipt.Receipt, reason error) error
}

// OnPurchaseAcknowledged is called after the billing service accepted an
// acknowledgement for a non-consumable purchase.
type OnPurchaseAcknowledged interface {
	Plugin
	OnPurchaseAcknowledged(ctx context.Context, r *receipt.Receipt) error
}

// OnPurchaseConsumed is called after the billing service confirmed a consumption.
type OnPurchaseConsumed interface {
	Plugin
	OnPurchaseConsumed(ctx context.Context, r *receipt.Receipt) error
}

// ──────────────────────────────────────────────────
// Entitlement hooks
// ──────────────────────────────────────────────────

// OnEntitlementGranted is called once per disbursed purchase token.
type OnEntitlementGranted interface {
	Plugin
	OnEntitlementGranted(ctx context.Context, g *grant.Grant, e entitlement.Entitlement) error
}

// OnEntitlementRevoked is called when an entitlement is removed locally.
type OnEntitlementRevoked interface {
	Plugin
	OnEntitlementRevoked(ctx context.Context, kind entitlement.Kind) error
}

// ──────────────────────────────────────────────────
// Connection hooks
// ──────────────────────────────────────────────────

// OnRemoteError is called when the billing service answers a call with a
// non-OK result.
type OnRemoteError interface {
	Plugin
	OnRemoteError(ctx context.Context, op string, res remote.Result) error
}

// OnReconnectScheduled is called when a reconnect attempt has been scheduled.
type OnReconnectScheduled interface {
	Plugin
	OnReconnectScheduled(ctx context.Context, attempt int, delay time.Duration) error
}

// ReconcileStats summarizes one reconciliation batch.
type ReconcileStats struct {
	Received int
	Granted  int
	Skipped  int
	Pending  int
	Rejected int
	Failed   int
}

// OnReconcileCompleted is called after every reconciliation batch.
type OnReconcileCompleted interface {
	Plugin
	OnReconcileCompleted(ctx context.Context, stats ReconcileStats, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Strategy plugins
// ──────────────────────────────────────────────────

// ReceiptValidator adds a check after local signature verification, such
// as a call to a server-side attestation service. A non-nil error rejects
// the receipt.
type ReceiptValidator interface {
	Plugin
	ValidateReceipt(ctx context.Context, r *receipt.Receipt) error
}
