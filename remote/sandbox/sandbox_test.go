package sandbox

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"

	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/receipt"
	"github.com/xraph/billsync/remote"
	"github.com/xraph/billsync/verify"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func key(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		testKey = k
	})
	return testKey
}

func connected(t *testing.T) *Sandbox {
	t.Helper()
	s := New(key(t))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ev := <-s.Events()
	if ev.Kind != remote.EventConnected || !ev.Result.IsOK() {
		t.Fatalf("expected ok connected event, got %+v", ev)
	}
	return s
}

func TestReceiptIsSigned(t *testing.T) {
	s := New(key(t))
	r := s.Receipt("tok-1", catalog.SKUOneTime, receipt.StatePurchased)

	if !verify.Verify(s.PublicKey(), r.Payload, r.Signature) {
		t.Error("expected sandbox receipt to verify against its public key")
	}
	if verify.Verify(s.PublicKey(), append(r.Payload, ' '), r.Signature) {
		t.Error("expected altered payload to fail verification")
	}
	if r.Token != "tok-1" || r.SKU != catalog.SKUOneTime {
		t.Errorf("unexpected receipt %+v", r)
	}
}

func TestReceiptGeneratesToken(t *testing.T) {
	s := New(key(t))
	a := s.Receipt("", catalog.SKUCoin, receipt.StatePurchased)
	b := s.Receipt("", catalog.SKUCoin, receipt.StatePurchased)
	if a.Token == "" || a.Token == b.Token {
		t.Errorf("expected distinct generated tokens, got %q and %q", a.Token, b.Token)
	}
}

func TestNotReadyCallsFail(t *testing.T) {
	s := New(key(t))
	ctx := context.Background()

	if s.IsReady() {
		t.Fatal("expected new sandbox to be disconnected")
	}
	if _, res := s.QueryPurchases(ctx, catalog.TypeInApp); res.Code != remote.CodeServiceDisconnected {
		t.Errorf("expected service_disconnected, got %v", res)
	}
	if res := s.Acknowledge(ctx, "x"); res.Code != remote.CodeServiceDisconnected {
		t.Errorf("expected service_disconnected, got %v", res)
	}
}

func TestConnectScriptedFailure(t *testing.T) {
	s := New(key(t))
	s.SetResult(OpConnect, remote.Failed(remote.CodeBillingUnavailable, "no billing"))

	_ = s.Connect(context.Background()) //nolint:errcheck // result arrives as an event
	ev := <-s.Events()
	if ev.Result.Code != remote.CodeBillingUnavailable {
		t.Errorf("expected billing_unavailable, got %v", ev.Result)
	}
	if s.IsReady() {
		t.Error("expected sandbox not ready after failed connect")
	}
}

func TestQueryPurchasesByType(t *testing.T) {
	s := connected(t)
	ctx := context.Background()
	s.Own(
		s.Receipt("b", catalog.SKUCoin, receipt.StatePurchased),
		s.Receipt("a", catalog.SKUOneTime, receipt.StatePurchased),
		s.Receipt("c", catalog.SKUMonthly, receipt.StatePurchased),
	)

	inapp, res := s.QueryPurchases(ctx, catalog.TypeInApp)
	if !res.IsOK() {
		t.Fatalf("query: %v", res)
	}
	if len(inapp) != 2 || inapp[0].Token != "a" || inapp[1].Token != "b" {
		t.Errorf("expected inapp tokens [a b], got %d receipts", len(inapp))
	}

	subs, _ := s.QueryPurchases(ctx, catalog.TypeSubs)
	if len(subs) != 1 || subs[0].Token != "c" {
		t.Errorf("expected subs token c, got %d receipts", len(subs))
	}
}

func TestAcknowledgeAndConsume(t *testing.T) {
	s := connected(t)
	ctx := context.Background()
	s.Own(s.Receipt("one", catalog.SKUOneTime, receipt.StatePurchased))
	s.Own(s.Receipt("coin", catalog.SKUCoin, receipt.StatePurchased))

	if res := s.Acknowledge(ctx, "one"); !res.IsOK() {
		t.Fatalf("acknowledge: %v", res)
	}
	got, _ := s.QueryPurchases(ctx, catalog.TypeInApp)
	for _, r := range got {
		if r.Token == "one" && !r.Acknowledged {
			t.Error("expected acknowledged receipt")
		}
	}

	res, token := s.Consume(ctx, "coin")
	if !res.IsOK() || token != "coin" {
		t.Fatalf("consume: %v %q", res, token)
	}
	if s.Owned("coin") {
		t.Error("expected consumed receipt to no longer be owned")
	}
	if res, _ := s.Consume(ctx, "coin"); res.Code != remote.CodeItemNotOwned {
		t.Errorf("expected item_not_owned on second consume, got %v", res)
	}
	if s.CallCount(OpConsume) != 2 {
		t.Errorf("expected 2 consume calls, got %d", s.CallCount(OpConsume))
	}
}

func TestScriptedResult(t *testing.T) {
	s := connected(t)
	ctx := context.Background()
	s.Own(s.Receipt("one", catalog.SKUOneTime, receipt.StatePurchased))

	s.SetResult(OpAcknowledge, remote.Failed(remote.CodeServiceUnavailable, "busy"))
	if res := s.Acknowledge(ctx, "one"); res.Code != remote.CodeServiceUnavailable {
		t.Errorf("expected service_unavailable, got %v", res)
	}

	s.SetResult(OpAcknowledge, remote.OK)
	if res := s.Acknowledge(ctx, "one"); !res.IsOK() {
		t.Errorf("expected ok after clearing, got %v", res)
	}
	if calls := s.Calls(OpAcknowledge); len(calls) != 2 || calls[0] != "one" {
		t.Errorf("unexpected calls %v", calls)
	}
}

func TestBuyEmitsEvent(t *testing.T) {
	s := connected(t)
	r := s.Buy("tok", catalog.SKUCoin)

	ev := <-s.Events()
	if ev.Kind != remote.EventPurchasesUpdated || len(ev.Receipts) != 1 || ev.Receipts[0].Token != r.Token {
		t.Errorf("unexpected event %+v", ev)
	}
	if !s.Owned("tok") {
		t.Error("expected bought receipt to be owned")
	}
}

func TestDrop(t *testing.T) {
	s := connected(t)
	s.Drop("gone")

	ev := <-s.Events()
	if ev.Kind != remote.EventDisconnected || ev.Reason != "gone" {
		t.Errorf("unexpected event %+v", ev)
	}
	if s.IsReady() {
		t.Error("expected not ready after drop")
	}
}

func TestQueryCatalog(t *testing.T) {
	s := connected(t)
	recs, res := s.QueryCatalog(context.Background(), catalog.TypeInApp,
		[]string{catalog.SKUOneTime, catalog.SKUCoin, catalog.SKUMonthly, "missing"})
	if !res.IsOK() {
		t.Fatalf("query catalog: %v", res)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 inapp records, got %d", len(recs))
	}
	if recs[0].SKU != catalog.SKUOneTime || recs[0].Type != catalog.TypeInApp {
		t.Errorf("unexpected record %+v", recs[0])
	}
}
