package store

import (
	"context"

	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/grant"
	"github.com/xraph/billsync/receipt"
	"github.com/xraph/billsync/settings"
)

// Store is the unified storage interface for all billsync entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
type Store interface {
	// Entitlement methods
	GetEntitlement(ctx context.Context, kind entitlement.Kind) (entitlement.Entitlement, error)
	ListEntitlements(ctx context.Context) ([]entitlement.Entitlement, error)
	PutOneTime(ctx context.Context, e *entitlement.OneTimePurchase) error
	PutSubscription(ctx context.Context, e *entitlement.Subscription) error
	PutConsumable(ctx context.Context, e *entitlement.ConsumableAsset) error
	AdjustConsumable(ctx context.Context, delta int) (*entitlement.ConsumableAsset, error)
	DeleteEntitlement(ctx context.Context, kind entitlement.Kind) error

	// Receipt ledger methods
	InsertReceipt(ctx context.Context, r *receipt.Receipt) error
	GetReceipt(ctx context.Context, token string) (*receipt.Receipt, error)
	ListReceipts(ctx context.Context) ([]*receipt.Receipt, error)
	MarkAcknowledged(ctx context.Context, token string) error
	DeleteReceipt(ctx context.Context, token string) error

	// Grant journal methods
	Disburse(ctx context.Context, g *grant.Grant) (entitlement.Entitlement, error)
	GetGrant(ctx context.Context, token string) (*grant.Grant, error)
	ListGrants(ctx context.Context) ([]*grant.Grant, error)

	// Catalog methods
	UpsertSku(ctx context.Context, r *catalog.SkuRecord) error
	GetSku(ctx context.Context, sku string) (*catalog.SkuRecord, error)
	ListSkus(ctx context.Context, t catalog.SkuType) ([]*catalog.SkuRecord, error)
	SetPurchasable(ctx context.Context, sku string, t catalog.SkuType, purchasable bool) error
	DeleteSku(ctx context.Context, sku string) error

	// Settings methods
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Compile-time checks that the aggregate satisfies every entity contract.
var (
	_ entitlement.Store = Store(nil)
	_ receipt.Store     = Store(nil)
	_ grant.Store       = Store(nil)
	_ catalog.Store     = Store(nil)
	_ settings.Store    = Store(nil)
)
