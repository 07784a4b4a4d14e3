package catalog_test

import (
	"reflect"
	"testing"

	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/entitlement"
)

func TestDefaultProducts(t *testing.T) {
	ps, err := catalog.NewProducts(catalog.DefaultProducts())
	if err != nil {
		t.Fatalf("NewProducts failed: %v", err)
	}

	if got, want := ps.SKUs(catalog.TypeInApp), []string{"coin", "one_time"}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected inapp SKUs %v, got %v", want, got)
	}
	if got, want := ps.SKUs(catalog.TypeSubs), []string{"sub_monthly"}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected subs SKUs %v, got %v", want, got)
	}
	if !ps[catalog.SKUCoin].Consumable() {
		t.Error("expected coin to be consumable")
	}
	if ps[catalog.SKUOneTime].Consumable() {
		t.Error("expected one_time to be non-consumable")
	}
	if got := ps.OfKind(entitlement.KindSubscription); !reflect.DeepEqual(got, []string{"sub_monthly"}) {
		t.Errorf("unexpected subscription SKUs %v", got)
	}
}

func TestProductValidation(t *testing.T) {
	tests := []struct {
		name    string
		in      []catalog.Product
		wantErr bool
	}{
		{"empty sku", []catalog.Product{{Type: catalog.TypeInApp, Kind: entitlement.KindOneTime}}, true},
		{"unknown type", []catalog.Product{{SKU: "x", Type: "bundle", Kind: entitlement.KindOneTime}}, true},
		{"unknown kind", []catalog.Product{{SKU: "x", Type: catalog.TypeInApp, Kind: "gems"}}, true},
		{"subscription as inapp", []catalog.Product{{SKU: "x", Type: catalog.TypeInApp, Kind: entitlement.KindSubscription}}, true},
		{"duplicate", []catalog.Product{
			{SKU: "x", Type: catalog.TypeInApp, Kind: entitlement.KindOneTime},
			{SKU: "x", Type: catalog.TypeInApp, Kind: entitlement.KindOneTime},
		}, true},
		{"valid", []catalog.Product{{SKU: "gold", Type: catalog.TypeInApp, Kind: entitlement.KindConsumable, Units: 5}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := catalog.NewProducts(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestUnitsPerPurchase(t *testing.T) {
	if got := (catalog.Product{}).UnitsPerPurchase(); got != 1 {
		t.Errorf("expected default of 1 unit, got %d", got)
	}
	if got := (catalog.Product{Units: 5}).UnitsPerPurchase(); got != 5 {
		t.Errorf("expected 5 units, got %d", got)
	}
}
