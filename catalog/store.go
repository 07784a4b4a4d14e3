package catalog

import "context"

// Store persists SKU records keyed by SKU.
type Store interface {
	// UpsertSku writes display metadata. An existing row keeps its purchasable flag.
	UpsertSku(ctx context.Context, r *SkuRecord) error
	GetSku(ctx context.Context, sku string) (*SkuRecord, error)
	ListSkus(ctx context.Context, t SkuType) ([]*SkuRecord, error)
	// SetPurchasable inserts a bare row when the SKU has not been queried yet.
	SetPurchasable(ctx context.Context, sku string, t SkuType, purchasable bool) error
	DeleteSku(ctx context.Context, sku string) error
}
