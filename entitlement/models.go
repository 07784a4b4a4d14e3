// Package entitlement defines the locally persisted grants a purchase can
// disburse: a one-time unlock, a subscription, and a replenishable
// consumable balance.
package entitlement

import (
	"errors"
	"fmt"
	"time"
)

// MaxConsumable is the balance at which a consumable can no longer be bought.
const MaxConsumable = 4

// ErrUnknownKind is returned when a kind outside the closed set is mapped.
var ErrUnknownKind = errors.New("entitlement: unknown kind")

// Kind names an entitlement variant. There is exactly one persisted row per kind.
type Kind string

const (
	KindOneTime      Kind = "one_time"
	KindSubscription Kind = "subscription"
	KindConsumable   Kind = "consumable"
)

// Kinds returns every kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindOneTime, KindSubscription, KindConsumable}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindOneTime, KindSubscription, KindConsumable:
		return true
	default:
		return false
	}
}

// Entitlement is the closed sum of *OneTimePurchase, *Subscription and
// *ConsumableAsset.
type Entitlement interface {
	Kind() Kind
	// MayPurchase reports whether the linked SKU may be bought again.
	MayPurchase() bool
	Updated() time.Time

	sealed()
}

// OneTimePurchase is a permanent unlock.
type OneTimePurchase struct {
	Entitled  bool      `json:"entitled"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (*OneTimePurchase) Kind() Kind           { return KindOneTime }
func (e *OneTimePurchase) MayPurchase() bool  { return !e.Entitled }
func (e *OneTimePurchase) Updated() time.Time { return e.UpdatedAt }
func (*OneTimePurchase) sealed()              {}

// Subscription is a recurring entitlement.
type Subscription struct {
	Entitled  bool      `json:"entitled"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (*Subscription) Kind() Kind           { return KindSubscription }
func (e *Subscription) MayPurchase() bool  { return !e.Entitled }
func (e *Subscription) Updated() time.Time { return e.UpdatedAt }
func (*Subscription) sealed()              {}

// ConsumableAsset is a balance of units that are spent by the application.
type ConsumableAsset struct {
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (*ConsumableAsset) Kind() Kind           { return KindConsumable }
func (e *ConsumableAsset) MayPurchase() bool  { return e.Count < MaxConsumable }
func (e *ConsumableAsset) Updated() time.Time { return e.UpdatedAt }
func (*ConsumableAsset) sealed()              {}

// Granted returns the entitlement a purchase of kind k disburses on top of
// nothing: an entitled unlock, or a balance of units.
func Granted(k Kind, units int, at time.Time) (Entitlement, error) {
	switch k {
	case KindOneTime:
		return &OneTimePurchase{Entitled: true, UpdatedAt: at}, nil
	case KindSubscription:
		return &Subscription{Entitled: true, UpdatedAt: at}, nil
	case KindConsumable:
		return &ConsumableAsset{Count: units, UpdatedAt: at}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
}

// Disbursed returns cur after one purchase of kind k worth delta units.
// Consumable balances accumulate; a nil cur counts as empty.
func Disbursed(cur Entitlement, k Kind, delta int, at time.Time) (Entitlement, error) {
	if c, ok := cur.(*ConsumableAsset); ok && k == KindConsumable {
		delta += c.Count
	}
	return Granted(k, delta, at)
}

// Empty returns the state of kind k before anything was disbursed.
func Empty(k Kind) (Entitlement, error) {
	switch k {
	case KindOneTime:
		return &OneTimePurchase{}, nil
	case KindSubscription:
		return &Subscription{}, nil
	case KindConsumable:
		return &ConsumableAsset{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
}

// Row is the storage shape shared by every backend.
type Row struct {
	Kind      Kind
	Entitled  bool
	Count     int
	UpdatedAt time.Time
}

// ToRow flattens an entitlement for storage.
func ToRow(e Entitlement) Row {
	r := Row{Kind: e.Kind(), UpdatedAt: e.Updated()}
	switch v := e.(type) {
	case *OneTimePurchase:
		r.Entitled = v.Entitled
	case *Subscription:
		r.Entitled = v.Entitled
	case *ConsumableAsset:
		r.Count = v.Count
	}
	return r
}

// FromRow rebuilds the variant stored in r.
func FromRow(r Row) (Entitlement, error) {
	switch r.Kind {
	case KindOneTime:
		return &OneTimePurchase{Entitled: r.Entitled, UpdatedAt: r.UpdatedAt}, nil
	case KindSubscription:
		return &Subscription{Entitled: r.Entitled, UpdatedAt: r.UpdatedAt}, nil
	case KindConsumable:
		return &ConsumableAsset{Count: r.Count, UpdatedAt: r.UpdatedAt}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}
}

// Clone returns a copy that shares no memory with e.
func Clone(e Entitlement) Entitlement {
	switch v := e.(type) {
	case *OneTimePurchase:
		c := *v
		return &c
	case *Subscription:
		c := *v
		return &c
	case *ConsumableAsset:
		c := *v
		return &c
	default:
		return nil
	}
}
