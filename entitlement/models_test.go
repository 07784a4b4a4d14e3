package entitlement_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/billsync/entitlement"
)

func TestMayPurchase(t *testing.T) {
	tests := []struct {
		name string
		e    entitlement.Entitlement
		want bool
	}{
		{"one time not entitled", &entitlement.OneTimePurchase{}, true},
		{"one time entitled", &entitlement.OneTimePurchase{Entitled: true}, false},
		{"subscription not entitled", &entitlement.Subscription{}, true},
		{"subscription entitled", &entitlement.Subscription{Entitled: true}, false},
		{"consumable empty", &entitlement.ConsumableAsset{}, true},
		{"consumable below max", &entitlement.ConsumableAsset{Count: entitlement.MaxConsumable - 1}, true},
		{"consumable at max", &entitlement.ConsumableAsset{Count: entitlement.MaxConsumable}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.e.MayPurchase(); got != tt.want {
				t.Errorf("expected MayPurchase() = %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRowMapping(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, k := range entitlement.Kinds() {
		t.Run(string(k), func(t *testing.T) {
			granted, err := entitlement.Granted(k, 3, at)
			if err != nil {
				t.Fatalf("Granted failed: %v", err)
			}
			back, err := entitlement.FromRow(entitlement.ToRow(granted))
			if err != nil {
				t.Fatalf("FromRow failed: %v", err)
			}
			if back.Kind() != k {
				t.Errorf("expected kind %q, got %q", k, back.Kind())
			}
			if back.MayPurchase() != granted.MayPurchase() {
				t.Errorf("MayPurchase changed across storage: %v != %v", back.MayPurchase(), granted.MayPurchase())
			}
			if !back.Updated().Equal(at) {
				t.Errorf("expected updated %v, got %v", at, back.Updated())
			}
		})
	}
}

func TestUnknownKind(t *testing.T) {
	if entitlement.Kind("gems").Valid() {
		t.Error("expected unknown kind to be invalid")
	}
	if _, err := entitlement.FromRow(entitlement.Row{Kind: "gems"}); !errors.Is(err, entitlement.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := entitlement.Granted("gems", 1, time.Now()); !errors.Is(err, entitlement.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := entitlement.Empty("gems"); !errors.Is(err, entitlement.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestDisbursed(t *testing.T) {
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		cur       entitlement.Entitlement
		kind      entitlement.Kind
		delta     int
		wantCount int
	}{
		{"consumable from nothing", nil, entitlement.KindConsumable, 2, 2},
		{"consumable accumulates", &entitlement.ConsumableAsset{Count: 3}, entitlement.KindConsumable, 2, 5},
		{"one time unlocks", &entitlement.OneTimePurchase{}, entitlement.KindOneTime, 1, 0},
		{"subscription unlocks", nil, entitlement.KindSubscription, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := entitlement.Disbursed(tt.cur, tt.kind, tt.delta, at)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Kind() != tt.kind {
				t.Errorf("expected kind %q, got %q", tt.kind, got.Kind())
			}
			if !got.Updated().Equal(at) {
				t.Errorf("expected updated %v, got %v", at, got.Updated())
			}
			row := entitlement.ToRow(got)
			if tt.kind == entitlement.KindConsumable {
				if row.Count != tt.wantCount {
					t.Errorf("expected count %d, got %d", tt.wantCount, row.Count)
				}
			} else if !row.Entitled {
				t.Error("expected entitled")
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := &entitlement.ConsumableAsset{Count: 2}
	c, ok := entitlement.Clone(orig).(*entitlement.ConsumableAsset)
	if !ok {
		t.Fatal("expected *ConsumableAsset clone")
	}
	c.Count = 9
	if orig.Count != 2 {
		t.Errorf("clone shares memory with original: count %d", orig.Count)
	}
}

type recordingStore struct {
	entitlement.Store
	called string
}

func (r *recordingStore) PutOneTime(context.Context, *entitlement.OneTimePurchase) error {
	r.called = "one_time"
	return nil
}

func (r *recordingStore) PutSubscription(context.Context, *entitlement.Subscription) error {
	r.called = "subscription"
	return nil
}

func (r *recordingStore) PutConsumable(context.Context, *entitlement.ConsumableAsset) error {
	r.called = "consumable"
	return nil
}

func TestPutDispatch(t *testing.T) {
	ctx := context.Background()
	for _, k := range entitlement.Kinds() {
		rs := &recordingStore{}
		e, _ := entitlement.Empty(k)
		if err := entitlement.Put(ctx, rs, e); err != nil {
			t.Fatalf("Put(%s) failed: %v", k, err)
		}
		if rs.called != string(k) {
			t.Errorf("expected %q dispatch, got %q", k, rs.called)
		}
	}
}
