package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/grant"
	"github.com/xraph/billsync/receipt"
	"github.com/xraph/billsync/remote"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onReceiptPending       []OnReceiptPending
	onReceiptRejected      []OnReceiptRejected
	onPurchaseAcknowledged []OnPurchaseAcknowledged
	onPurchaseConsumed     []OnPurchaseConsumed
	onEntitlementGranted   []OnEntitlementGranted
	onEntitlementRevoked   []OnEntitlementRevoked
	onRemoteError          []OnRemoteError
	onReconnectScheduled   []OnReconnectScheduled
	onReconcileCompleted   []OnReconcileCompleted
	receiptValidators      []ReceiptValidator
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: 5 * time.Second,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets how long a single hook may run before it is abandoned.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnReceiptPending); ok {
		r.onReceiptPending = append(r.onReceiptPending, v)
	}
	if v, ok := p.(OnReceiptRejected); ok {
		r.onReceiptRejected = append(r.onReceiptRejected, v)
	}
	if v, ok := p.(OnPurchaseAcknowledged); ok {
		r.onPurchaseAcknowledged = append(r.onPurchaseAcknowledged, v)
	}
	if v, ok := p.(OnPurchaseConsumed); ok {
		r.onPurchaseConsumed = append(r.onPurchaseConsumed, v)
	}
	if v, ok := p.(OnEntitlementGranted); ok {
		r.onEntitlementGranted = append(r.onEntitlementGranted, v)
	}
	if v, ok := p.(OnEntitlementRevoked); ok {
		r.onEntitlementRevoked = append(r.onEntitlementRevoked, v)
	}
	if v, ok := p.(OnRemoteError); ok {
		r.onRemoteError = append(r.onRemoteError, v)
	}
	if v, ok := p.(OnReconnectScheduled); ok {
		r.onReconnectScheduled = append(r.onReconnectScheduled, v)
	}
	if v, ok := p.(OnReconcileCompleted); ok {
		r.onReconcileCompleted = append(r.onReconcileCompleted, v)
	}
	if v, ok := p.(ReceiptValidator); ok {
		r.receiptValidators = append(r.receiptValidators, v)
	}

	r.logger.Debug("plugin registered",
		"plugin", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	// Check each interface
	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	// List all interfaces to check
	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnReceiptPending)(nil)).Elem(), "OnReceiptPending")
	checkInterface(reflect.TypeOf((*OnReceiptRejected)(nil)).Elem(), "OnReceiptRejected")
	checkInterface(reflect.TypeOf((*OnPurchaseAcknowledged)(nil)).Elem(), "OnPurchaseAcknowledged")
	checkInterface(reflect.TypeOf((*OnPurchaseConsumed)(nil)).Elem(), "OnPurchaseConsumed")
	checkInterface(reflect.TypeOf((*OnEntitlementGranted)(nil)).Elem(), "OnEntitlementGranted")
	checkInterface(reflect.TypeOf((*OnEntitlementRevoked)(nil)).Elem(), "OnEntitlementRevoked")
	checkInterface(reflect.TypeOf((*OnRemoteError)(nil)).Elem(), "OnRemoteError")
	checkInterface(reflect.TypeOf((*OnReconnectScheduled)(nil)).Elem(), "OnReconnectScheduled")
	checkInterface(reflect.TypeOf((*OnReconcileCompleted)(nil)).Elem(), "OnReconcileCompleted")
	checkInterface(reflect.TypeOf((*ReceiptValidator)(nil)).Elem(), "ReceiptValidator")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReceiptPending emits a receipt pending event.
func (r *Registry) EmitReceiptPending(ctx context.Context, rec *receipt.Receipt) {
	r.mu.RLock()
	plugins := r.onReceiptPending
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReceiptPending(ctx, rec)
		}); err != nil {
			r.logger.Warn("plugin OnReceiptPending failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReceiptRejected emits a receipt rejected event.
func (r *Registry) EmitReceiptRejected(ctx context.Context, rec *receipt.Receipt, reason error) {
	r.mu.RLock()
	plugins := r.onReceiptRejected
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReceiptRejected(ctx, rec, reason)
		}); err != nil {
			r.logger.Warn("plugin OnReceiptRejected failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPurchaseAcknowledged emits a purchase acknowledged event.
func (r *Registry) EmitPurchaseAcknowledged(ctx context.Context, rec *receipt.Receipt) {
	r.mu.RLock()
	plugins := r.onPurchaseAcknowledged
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPurchaseAcknowledged(ctx, rec)
		}); err != nil {
			r.logger.Warn("plugin OnPurchaseAcknowledged failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPurchaseConsumed emits a purchase consumed event.
func (r *Registry) EmitPurchaseConsumed(ctx context.Context, rec *receipt.Receipt) {
	r.mu.RLock()
	plugins := r.onPurchaseConsumed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPurchaseConsumed(ctx, rec)
		}); err != nil {
			r.logger.Warn("plugin OnPurchaseConsumed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEntitlementGranted emits an entitlement granted event.
func (r *Registry) EmitEntitlementGranted(ctx context.Context, g *grant.Grant, e entitlement.Entitlement) {
	r.mu.RLock()
	plugins := r.onEntitlementGranted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEntitlementGranted(ctx, g, e)
		}); err != nil {
			r.logger.Warn("plugin OnEntitlementGranted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEntitlementRevoked emits an entitlement revoked event.
func (r *Registry) EmitEntitlementRevoked(ctx context.Context, kind entitlement.Kind) {
	r.mu.RLock()
	plugins := r.onEntitlementRevoked
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEntitlementRevoked(ctx, kind)
		}); err != nil {
			r.logger.Warn("plugin OnEntitlementRevoked failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitRemoteError emits a remote error event.
func (r *Registry) EmitRemoteError(ctx context.Context, op string, res remote.Result) {
	r.mu.RLock()
	plugins := r.onRemoteError
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRemoteError(ctx, op, res)
		}); err != nil {
			r.logger.Warn("plugin OnRemoteError failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReconnectScheduled emits a reconnect scheduled event.
func (r *Registry) EmitReconnectScheduled(ctx context.Context, attempt int, delay time.Duration) {
	r.mu.RLock()
	plugins := r.onReconnectScheduled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReconnectScheduled(ctx, attempt, delay)
		}); err != nil {
			r.logger.Warn("plugin OnReconnectScheduled failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReconcileCompleted emits a reconcile completed event.
func (r *Registry) EmitReconcileCompleted(ctx context.Context, stats ReconcileStats, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onReconcileCompleted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReconcileCompleted(ctx, stats, elapsed)
		}); err != nil {
			r.logger.Warn("plugin OnReconcileCompleted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// ValidateReceipt runs every ReceiptValidator and returns the first rejection.
func (r *Registry) ValidateReceipt(ctx context.Context, rec *receipt.Receipt) error {
	r.mu.RLock()
	validators := r.receiptValidators
	r.mu.RUnlock()

	for _, v := range validators {
		if err := r.callWithTimeout(ctx, v.Name(), func() error {
			return v.ValidateReceipt(ctx, rec)
		}); err != nil {
			return fmt.Errorf("plugin %s: %w", v.Name(), err)
		}
	}
	return nil
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the reconciliation pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
