package sqlite

import (
	"testing"
	"time"

	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/id"
	"github.com/xraph/billsync/receipt"
)

func TestEntitlementModelRoundTrip(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []entitlement.Entitlement{
		&entitlement.OneTimePurchase{Entitled: true, UpdatedAt: at},
		&entitlement.Subscription{Entitled: false, UpdatedAt: at},
		&entitlement.ConsumableAsset{Count: 3, UpdatedAt: at},
	}

	for _, e := range tests {
		t.Run(string(e.Kind()), func(t *testing.T) {
			got, err := fromEntitlementModel(toEntitlementModel(e))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if entitlement.ToRow(got) != entitlement.ToRow(e) {
				t.Errorf("expected %+v, got %+v", entitlement.ToRow(e), entitlement.ToRow(got))
			}
		})
	}
}

func TestFromEntitlementModelUnknownKind(t *testing.T) {
	if _, err := fromEntitlementModel(&entitlementModel{Kind: "gems"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestReceiptModelKeepsID(t *testing.T) {
	r := &receipt.Receipt{
		ID:           id.NewReceiptID(),
		Token:        "tok-1",
		SKU:          catalog.SKUCoin,
		Payload:      []byte(`{"sku":"coin"}`),
		State:        receipt.StatePurchased,
		Quantity:     2,
		Acknowledged: true,
	}

	got, err := fromReceiptModel(toReceiptModel(r))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID.String() != r.ID.String() {
		t.Errorf("expected id %s, got %s", r.ID, got.ID)
	}
	if string(got.Payload) != string(r.Payload) {
		t.Errorf("expected payload %s, got %s", r.Payload, got.Payload)
	}
	if got.Quantity != 2 {
		t.Errorf("expected quantity 2, got %d", got.Quantity)
	}
	if !got.Acknowledged {
		t.Error("expected acknowledged flag to round trip")
	}
}

func TestReceiptModelWithoutID(t *testing.T) {
	got, err := fromReceiptModel(&receiptModel{Token: "tok-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID.String() != "" {
		t.Errorf("expected nil id, got %s", got.ID)
	}
}

func TestReceiptModelRejectsForeignPrefix(t *testing.T) {
	_, err := fromReceiptModel(&receiptModel{Token: "tok-3", ID: id.NewGrantID().String()})
	if err == nil {
		t.Error("expected error for grant id on a receipt row")
	}
}

func TestSkuModelEmptyPayload(t *testing.T) {
	got := fromSkuModel(toSkuModel(&catalog.SkuRecord{SKU: catalog.SKUOneTime, Type: catalog.TypeInApp}))
	if got.Payload != nil {
		t.Errorf("expected nil payload, got %q", got.Payload)
	}
	if got.Type != catalog.TypeInApp {
		t.Errorf("expected type %q, got %q", catalog.TypeInApp, got.Type)
	}
}
