package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/grant"
	"github.com/xraph/billsync/receipt"
)

type grantRecorder struct {
	mu     sync.Mutex
	tokens []string
}

func (*grantRecorder) Name() string { return "grant-recorder" }

func (g *grantRecorder) OnEntitlementGranted(_ context.Context, gr *grant.Grant, _ entitlement.Entitlement) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens = append(g.tokens, gr.Token)
	return nil
}

type failingValidator struct{}

func (failingValidator) Name() string { return "deny" }

func (failingValidator) ValidateReceipt(_ context.Context, r *receipt.Receipt) error {
	if r.SKU == "blocked" {
		return errors.New("blocked sku")
	}
	return nil
}

type slowShutdown struct{}

func (slowShutdown) Name() string { return "slow" }

func (slowShutdown) OnShutdown(ctx context.Context) error {
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
	}
	return nil
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&grantRecorder{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(&grantRecorder{}); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 plugin, got %d", r.Count())
	}
	if r.Get("grant-recorder") == nil {
		t.Error("expected plugin by name")
	}
	if r.Get("missing") != nil {
		t.Error("expected nil for unknown name")
	}
}

func TestEmitEntitlementGranted(t *testing.T) {
	r := NewRegistry()
	rec := &grantRecorder{}
	_ = r.Register(rec) //nolint:errcheck // fresh registry

	r.EmitEntitlementGranted(context.Background(), &grant.Grant{Token: "t1"}, &entitlement.OneTimePurchase{Entitled: true})
	r.EmitEntitlementGranted(context.Background(), &grant.Grant{Token: "t2"}, &entitlement.OneTimePurchase{Entitled: true})

	if len(rec.tokens) != 2 || rec.tokens[0] != "t1" || rec.tokens[1] != "t2" {
		t.Errorf("expected [t1 t2], got %v", rec.tokens)
	}
}

func TestValidateReceipt(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(failingValidator{}) //nolint:errcheck // fresh registry

	ctx := context.Background()
	if err := r.ValidateReceipt(ctx, &receipt.Receipt{SKU: "coin"}); err != nil {
		t.Errorf("expected valid receipt, got %v", err)
	}
	if err := r.ValidateReceipt(ctx, &receipt.Receipt{SKU: "blocked"}); err == nil {
		t.Error("expected rejection")
	}
}

func TestCallWithTimeout(t *testing.T) {
	r := NewRegistry().WithTimeout(10 * time.Millisecond)

	err := r.callWithTimeout(context.Background(), "slow", func() error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	if err == nil {
		t.Error("expected timeout error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.WithTimeout(time.Second)
	_ = r.Register(slowShutdown{}) //nolint:errcheck // fresh registry
	start := time.Now()
	r.EmitShutdown(ctx)
	if time.Since(start) > 500*time.Millisecond {
		t.Error("expected canceled context to cut the hook short")
	}
}
