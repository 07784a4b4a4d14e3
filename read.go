package billsync

import (
	"context"
	"fmt"

	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/entitlement"
)

// ──────────────────────────────────────────────────
// Read surface
// ──────────────────────────────────────────────────

// Entitlement returns the stored state of kind, or its empty state when
// nothing was disbursed yet.
func (r *Reconciler) Entitlement(ctx context.Context, kind entitlement.Kind) (entitlement.Entitlement, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", entitlement.ErrUnknownKind, kind)
	}
	e, err := r.store.GetEntitlement(ctx, kind)
	if err != nil {
		if IsNotFound(err) {
			return entitlement.Empty(kind)
		}
		return nil, err
	}
	return e, nil
}

// Entitlements returns every stored entitlement row.
func (r *Reconciler) Entitlements(ctx context.Context) ([]entitlement.Entitlement, error) {
	return r.store.ListEntitlements(ctx)
}

// Catalog returns the stored SKU records of type t.
func (r *Reconciler) Catalog(ctx context.Context, t catalog.SkuType) ([]*catalog.SkuRecord, error) {
	return r.store.ListSkus(ctx, t)
}

// WatchEntitlement streams the state of kind, starting with the current one.
// Call cancel to release the subscription.
func (r *Reconciler) WatchEntitlement(kind entitlement.Kind) (<-chan entitlement.Entitlement, func()) {
	v, ok := r.entitlements[kind]
	if !ok {
		ch := make(chan entitlement.Entitlement)
		close(ch)
		return ch, func() {}
	}
	return v.Subscribe()
}

// WatchCatalog streams the SKU records of type t, starting with the current ones.
func (r *Reconciler) WatchCatalog(t catalog.SkuType) (<-chan []*catalog.SkuRecord, func()) {
	v, ok := r.catalogs[t]
	if !ok {
		ch := make(chan []*catalog.SkuRecord)
		close(ch)
		return ch, func() {}
	}
	return v.Subscribe()
}

func (r *Reconciler) primeWatches(ctx context.Context) {
	for _, k := range entitlement.Kinds() {
		e, err := r.Entitlement(ctx, k)
		if err != nil {
			r.logger.Warn("failed to load entitlement", "kind", k, "error", err)
			continue
		}
		r.entitlements[k].Publish(e)
	}
	r.publishCatalogs(ctx)
}

func (r *Reconciler) publishCatalogs(ctx context.Context) {
	for _, t := range catalog.Types() {
		recs, err := r.store.ListSkus(ctx, t)
		if err != nil {
			r.logger.Warn("failed to load catalog", "type", t, "error", err)
			continue
		}
		r.catalogs[t].Publish(recs)
	}
}

// kinds returns the entitlement kinds some product disburses.
func (r *Reconciler) kinds() []entitlement.Kind {
	var out []entitlement.Kind
	for _, k := range entitlement.Kinds() {
		if len(r.products.OfKind(k)) > 0 {
			out = append(out, k)
		}
	}
	return out
}
