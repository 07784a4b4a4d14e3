package billsync

import (
	"context"
	"fmt"

	"github.com/xraph/billsync/entitlement"
)

// ──────────────────────────────────────────────────
// Local entitlement control
// ──────────────────────────────────────────────────

// DevGrant forces kind into its entitled state without a purchase. For the
// consumable kind it adds one unit.
func (r *Reconciler) DevGrant(ctx context.Context, kind entitlement.Kind) (entitlement.Entitlement, error) {
	if kind == entitlement.KindConsumable {
		asset, err := r.DevAddConsumable(ctx, 1)
		if err != nil {
			return nil, err
		}
		return asset, nil
	}
	e, err := entitlement.Granted(kind, 0, r.now())
	if err != nil {
		return nil, err
	}

	lock := r.kindLocks[kind]
	lock.Lock()
	defer lock.Unlock()

	if err := entitlement.Put(ctx, r.store, e); err != nil {
		return nil, fmt.Errorf("billsync: grant %s: %w", kind, err)
	}
	r.syncCatalog(ctx, e, "")
	r.logger.Info("entitlement granted locally", "kind", kind)
	return e, nil
}

// DevRevoke removes the stored state of kind and makes its SKUs
// purchasable again.
func (r *Reconciler) DevRevoke(ctx context.Context, kind entitlement.Kind) error {
	e, err := entitlement.Empty(kind)
	if err != nil {
		return err
	}

	lock := r.kindLocks[kind]
	lock.Lock()
	defer lock.Unlock()

	if err := r.store.DeleteEntitlement(ctx, kind); err != nil {
		return fmt.Errorf("billsync: revoke %s: %w", kind, err)
	}
	r.syncCatalog(ctx, e, "")
	r.logger.Info("entitlement revoked locally", "kind", kind)
	r.plugins.EmitEntitlementRevoked(ctx, kind)
	return nil
}

// DevAddConsumable adds n units to the consumable balance without a purchase.
func (r *Reconciler) DevAddConsumable(ctx context.Context, n int) (*entitlement.ConsumableAsset, error) {
	if n <= 0 {
		return nil, ValidationError{Field: "n", Message: "must be positive"}
	}

	lock := r.kindLocks[entitlement.KindConsumable]
	lock.Lock()
	defer lock.Unlock()

	asset, err := r.updateConsumableAsset(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("billsync: add consumable: %w", err)
	}
	r.syncCatalog(ctx, asset, "")
	return asset, nil
}

// UseConsumable spends n units of the consumable balance. It fails with
// ErrInsufficientBalance when fewer than n units are held.
func (r *Reconciler) UseConsumable(ctx context.Context, n int) (*entitlement.ConsumableAsset, error) {
	if n <= 0 {
		return nil, ValidationError{Field: "n", Message: "must be positive"}
	}

	lock := r.kindLocks[entitlement.KindConsumable]
	lock.Lock()
	defer lock.Unlock()

	cur, err := r.Entitlement(ctx, entitlement.KindConsumable)
	if err != nil {
		return nil, err
	}
	if cur.(*entitlement.ConsumableAsset).Count < n {
		return nil, ErrInsufficientBalance
	}

	asset, err := r.updateConsumableAsset(ctx, -n)
	if err != nil {
		return nil, fmt.Errorf("billsync: use consumable: %w", err)
	}
	r.syncCatalog(ctx, asset, "")
	return asset, nil
}
