package sqlite

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

	Kind      string    `grove:"kind,pk"`
	Entitled  bool      `grove:"entitled"`
	Count     int       `grove:"count"`
	UpdatedAt time.Time `grove:"updated_at"`
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

	ID           string    `grove:"id"`
	Token        string    `grove:"token,pk"`
	SKU          string    `grove:"sku"`
	OrderID      string    `grove:"order_id"`
	Payload      string    `grove:"payload"`
	Signature    string    `grove:"signature"`
	State        string    `grove:"state"`
	Quantity     int       `grove:"quantity"`
	Acknowledged bool      `grove:"acknowledged"`
	PurchasedAt  time.Time `grove:"purchased_at"`
	ObservedAt   time.Time `grove:"observed_at"`
}

func toReceiptModel(r *receipt.Receipt) *receiptModel {
	return &receiptModel{
		ID:           r.ID.String(),
		Token:        r.Token,
		SKU:          r.SKU,
		OrderID:      r.OrderID,
		Payload:      string(r.Payload),
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
		Payload:      []byte(m.Payload),
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

	ID        string    `grove:"id"`
	Token     string    `grove:"token,pk"`
	SKU       string    `grove:"sku"`
	Kind      string    `grove:"kind"`
	Delta     int       `grove:"delta"`
	GrantedAt time.Time `grove:"granted_at"`
}

func toGrantModel(g *grant.Grant) *grantModel {
	return &grantModel{
		ID:        g.ID.String(),
		Token:     g.Token,
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

	SKU         string    `grove:"sku,pk"`
	Type        string    `grove:"type"`
	Title       string    `grove:"title"`
	Description string    `grove:"description"`
	Price       string    `grove:"price"`
	Payload     string    `grove:"payload"`
	Purchasable bool      `grove:"purchasable"`
	UpdatedAt   time.Time `grove:"updated_at"`
}

func toSkuModel(r *catalog.SkuRecord) *skuModel {
	return &skuModel{
		SKU:         r.SKU,
		Type:        string(r.Type),
		Title:       r.Title,
		Description: r.Description,
		Price:       r.Price,
		Payload:     string(r.Payload),
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
		Payload:     bytesOrNil(m.Payload),
		Purchasable: m.Purchasable,
		UpdatedAt:   m.UpdatedAt,
	}
}

// ==================== Settings models ====================

type settingModel struct {
	grove.BaseModel `grove:"table:billsync_settings"`

	Key       string    `grove:"setting_key,pk"`
	Value     string    `grove:"value"`
	UpdatedAt time.Time `grove:"updated_at"`
}

// ==================== Conversion helpers ====================

func parseOptionalID(s string, parse func(string) (id.ID, error)) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return parse(s)
}

func bytesOrNil(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}
