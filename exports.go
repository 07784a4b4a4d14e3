package billsync

import (
	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/receipt"
)

// Re-export common types for convenience so users don't have to import the
// entity packages for everyday calls.

// Entitlement is re-exported from the entitlement package.
type Entitlement = entitlement.Entitlement

// Kind is re-exported from the entitlement package.
type Kind = entitlement.Kind

// Receipt is re-exported from the receipt package.
type Receipt = receipt.Receipt

// Product is re-exported from the catalog package.
type Product = catalog.Product

// SkuRecord is re-exported from the catalog package.
type SkuRecord = catalog.SkuRecord

// Re-export entitlement kinds
const (
	KindOneTime      = entitlement.KindOneTime
	KindSubscription = entitlement.KindSubscription
	KindConsumable   = entitlement.KindConsumable
)

// Re-export SKU types
const (
	TypeInApp = catalog.TypeInApp
	TypeSubs  = catalog.TypeSubs
)

// MaxConsumable is re-exported from the entitlement package.
const MaxConsumable = entitlement.MaxConsumable

// DefaultProducts is re-exported from the catalog package.
var DefaultProducts = catalog.DefaultProducts
