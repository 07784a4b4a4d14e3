package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/grant"
	"github.com/xraph/billsync/id"
	"github.com/xraph/billsync/receipt"
)

// ==================== Entitlement models ====================

type entitlementModel struct {
	grove.BaseModel `grove:"table:billsync_entitlements"`

	Kind      string    `grove:"kind,pk"    bson:"_id"`
	Entitled  bool      `grove:"entitled"   bson:"entitled"`
	Count     int       `grove:"count"      bson:"count"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`

	// Tokens already applied to this row, written only by Disburse.
	Grants []string `grove:"grants" bson:"grants,omitempty"`
}

func toEntitlementModel(e entitlement.Entitlement) *entitlementModel {
	row := entitlement.ToRow(e)
	return &entitlementModel{
		Kind:      string(row.Kind),
		Entitled:  row.Entitled,
		Count:     row.Count,
		UpdatedAt: row.UpdatedAt,
	}
}

func fromEntitlementModel(m *entitlementModel) (entitlement.Entitlement, error) {
	return entitlement.FromRow(entitlement.Row{
		Kind:      entitlement.Kind(m.Kind),
		Entitled:  m.Entitled,
		Count:     m.Count,
		UpdatedAt: m.UpdatedAt,
	})
}

// ==================== Receipt models ====================

type receiptModel struct {
	grove.BaseModel `grove:"table:billsync_receipts"`

	Token        string    `grove:"token,pk"     bson:"_id"`
	ID           string    `grove:"id"           bson:"receipt_id"`
	SKU          string    `grove:"sku"          bson:"sku"`
	OrderID      string    `grove:"order_id"     bson:"order_id,omitempty"`
	Payload      []byte    `grove:"payload"      bson:"payload"`
	Signature    string    `grove:"signature"    bson:"signature"`
	State        string    `grove:"state"        bson:"state"`
	Quantity     int       `grove:"quantity"     bson:"quantity"`
	Acknowledged bool      `grove:"acknowledged" bson:"acknowledged"`
	PurchasedAt  time.Time `grove:"purchased_at" bson:"purchased_at"`
	ObservedAt   time.Time `grove:"observed_at"  bson:"observed_at"`
}

func toReceiptModel(r *receipt.Receipt) *receiptModel {
	return &receiptModel{
		Token:        r.Token,
		ID:           r.ID.String(),
		SKU:          r.SKU,
		OrderID:      r.OrderID,
		Payload:      r.Payload,
		Signature:    r.Signature,
		State:        string(r.State),
		Quantity:     r.Quantity,
		Acknowledged: r.Acknowledged,
		PurchasedAt:  r.PurchasedAt,
		ObservedAt:   r.ObservedAt,
	}
}

func fromReceiptModel(m *receiptModel) (*receipt.Receipt, error) {
	rid, err := parseOptionalID(m.ID, id.ParseReceiptID)
	if err != nil {
		return nil, err
	}
	return &receipt.Receipt{
		ID:           rid,
		Token:        m.Token,
		SKU:          m.SKU,
		OrderID:      m.OrderID,
		Payload:      m.Payload,
		Signature:    m.Signature,
		State:        receipt.State(m.State),
		Quantity:     m.Quantity,
		Acknowledged: m.Acknowledged,
		PurchasedAt:  m.PurchasedAt,
		ObservedAt:   m.ObservedAt,
	}, nil
}

// ==================== Grant models ====================

type grantModel struct {
	grove.BaseModel `grove:"table:billsync_grants"`

	Token     string    `grove:"token,pk"   bson:"_id"`
	ID        string    `grove:"id"         bson:"grant_id"`
	SKU       string    `grove:"sku"        bson:"sku"`
	Kind      string    `grove:"kind"       bson:"kind"`
	Delta     int       `grove:"delta"      bson:"delta"`
	GrantedAt time.Time `grove:"granted_at" bson:"granted_at"`
}

func toGrantModel(g *grant.Grant) *grantModel {
	return &grantModel{
		Token:     g.Token,
		ID:        g.ID.String(),
		SKU:       g.SKU,
		Kind:      string(g.Kind),
		Delta:     g.Delta,
		GrantedAt: g.GrantedAt,
	}
}

func fromGrantModel(m *grantModel) (*grant.Grant, error) {
	gid, err := parseOptionalID(m.ID, id.ParseGrantID)
	if err != nil {
		return nil, err
	}
	return &grant.Grant{
		ID:        gid,
		Token:     m.Token,
		SKU:       m.SKU,
		Kind:      entitlement.Kind(m.Kind),
		Delta:     m.Delta,
		GrantedAt: m.GrantedAt,
	}, nil
}

// ==================== Catalog models ====================

type skuModel struct {
	grove.BaseModel `grove:"table:billsync_catalog"`

	SKU         string    `grove:"sku,pk"      bson:"_id"`
	Type        string    `grove:"type"        bson:"type"`
	Title       string    `grove:"title"       bson:"title"`
	Description string    `grove:"description" bson:"description"`
	Price       string    `grove:"price"       bson:"price"`
	Payload     []byte    `grove:"payload"     bson:"payload,omitempty"`
	Purchasable bool      `grove:"purchasable" bson:"purchasable"`
	UpdatedAt   time.Time `grove:"updated_at"  bson:"updated_at"`
}

func toSkuModel(r *catalog.SkuRecord) *skuModel {
	return &skuModel{
		SKU:         r.SKU,
		Type:        string(r.Type),
		Title:       r.Title,
		Description: r.Description,
		Price:       r.Price,
		Payload:     r.Payload,
		Purchasable: r.Purchasable,
		UpdatedAt:   r.UpdatedAt,
	}
}

func fromSkuModel(m *skuModel) *catalog.SkuRecord {
	return &catalog.SkuRecord{
		SKU:         m.SKU,
		Type:        catalog.SkuType(m.Type),
		Title:       m.Title,
		Description: m.Description,
		Price:       m.Price,
		Payload:     m.Payload,
		Purchasable: m.Purchasable,
		UpdatedAt:   m.UpdatedAt,
	}
}

// ==================== Settings models ====================

type settingModel struct {
	grove.BaseModel `grove:"table:billsync_settings"`

	Key       string    `grove:"setting_key,pk" bson:"_id"`
	Value     string    `grove:"value"          bson:"value"`
	UpdatedAt time.Time `grove:"updated_at"     bson:"updated_at"`
}

func parseOptionalID(s string, parse func(string) (id.ID, error)) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return parse(s)
}
