package entitlement

import (
	"context"
	"fmt"
)

// Store persists one row per kind. Writes are insert-or-replace by kind.
type Store interface {
	GetEntitlement(ctx context.Context, kind Kind) (Entitlement, error)
	ListEntitlements(ctx context.Context) ([]Entitlement, error)
	PutOneTime(ctx context.Context, e *OneTimePurchase) error
	PutSubscription(ctx context.Context, e *Subscription) error
	PutConsumable(ctx context.Context, e *ConsumableAsset) error
	// AdjustConsumable adds delta to the stored balance, or stores delta when
	// no row exists, as a single atomic upsert. It returns the new balance.
	AdjustConsumable(ctx context.Context, delta int) (*ConsumableAsset, error)
	DeleteEntitlement(ctx context.Context, kind Kind) error
}

// Put dispatches e to the store method for its variant.
func Put(ctx context.Context, s Store, e Entitlement) error {
	switch v := e.(type) {
	case *OneTimePurchase:
		return s.PutOneTime(ctx, v)
	case *Subscription:
		return s.PutSubscription(ctx, v)
	case *ConsumableAsset:
		return s.PutConsumable(ctx, v)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownKind, e)
	}
}
