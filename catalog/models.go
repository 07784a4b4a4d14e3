// Package catalog defines the purchasable products and the SKU records the
// presentation layer reads to decide what can be bought.
package catalog

import (
	"fmt"
	"slices"
	"time"

	"github.com/xraph/billsync/entitlement"
)

// SkuType is the remote product family a SKU belongs to.
type SkuType string

const (
	TypeInApp SkuType = "inapp"
	TypeSubs  SkuType = "subs"
)

// Types returns both product families.
func Types() []SkuType { return []SkuType{TypeInApp, TypeSubs} }

// Product maps a SKU to the entitlement a purchase of it disburses.
type Product struct {
	SKU   string           `json:"sku" yaml:"sku"`
	Type  SkuType          `json:"type" yaml:"type"`
	Kind  entitlement.Kind `json:"kind" yaml:"kind"`
	Units int              `json:"units,omitempty" yaml:"units,omitempty"`
}

// Consumable reports whether purchases of the product must be consumed.
func (p Product) Consumable() bool { return p.Kind == entitlement.KindConsumable }

// UnitsPerPurchase returns the balance one purchase adds, at least one.
func (p Product) UnitsPerPurchase() int {
	if p.Units < 1 {
		return 1
	}
	return p.Units
}

// Validate checks that the product can be reconciled.
func (p Product) Validate() error {
	if p.SKU == "" {
		return fmt.Errorf("catalog: product has empty sku")
	}
	if p.Type != TypeInApp && p.Type != TypeSubs {
		return fmt.Errorf("catalog: product %q has unknown type %q", p.SKU, p.Type)
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("catalog: product %q: %w", p.SKU, entitlement.ErrUnknownKind)
	}
	if p.Kind == entitlement.KindSubscription && p.Type != TypeSubs {
		return fmt.Errorf("catalog: subscription product %q must have type %q", p.SKU, TypeSubs)
	}
	return nil
}

// Sample SKUs.
const (
	SKUOneTime = "one_time"
	SKUCoin    = "coin"
	SKUMonthly = "sub_monthly"
)

// DefaultProducts returns the sample product table.
func DefaultProducts() []Product {
	return []Product{
		{SKU: SKUOneTime, Type: TypeInApp, Kind: entitlement.KindOneTime},
		{SKU: SKUCoin, Type: TypeInApp, Kind: entitlement.KindConsumable, Units: 1},
		{SKU: SKUMonthly, Type: TypeSubs, Kind: entitlement.KindSubscription},
	}
}

// Products indexes a product table by SKU.
type Products map[string]Product

// NewProducts validates and indexes ps.
func NewProducts(ps []Product) (Products, error) {
	out := make(Products, len(ps))
	for _, p := range ps {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := out[p.SKU]; dup {
			return nil, fmt.Errorf("catalog: duplicate product %q", p.SKU)
		}
		out[p.SKU] = p
	}
	return out, nil
}

// SKUs returns the sorted SKUs of type t.
func (ps Products) SKUs(t SkuType) []string {
	var out []string
	for sku, p := range ps {
		if p.Type == t {
			out = append(out, sku)
		}
	}
	slices.Sort(out)
	return out
}

// OfKind returns the SKUs that disburse kind k.
func (ps Products) OfKind(k entitlement.Kind) []string {
	var out []string
	for sku, p := range ps {
		if p.Kind == k {
			out = append(out, sku)
		}
	}
	slices.Sort(out)
	return out
}

// SkuRecord is the presentation-facing view of a SKU.
type SkuRecord struct {
	SKU         string    `json:"sku"`
	Type        SkuType   `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       string    `json:"price"`
	Payload     []byte    `json:"payload,omitempty"`
	Purchasable bool      `json:"purchasable"`
	UpdatedAt   time.Time `json:"updated_at"`
}
