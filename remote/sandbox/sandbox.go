// Package sandbox is an in-process remote.Source with scriptable responses.
// It signs the receipts it issues, so a Reconciler configured with
// PublicKey() verifies them like production receipts.
package sandbox

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/receipt"
	"github.com/xraph/billsync/remote"
	"github.com/xraph/billsync/verify"
)

var _ remote.Source = (*Sandbox)(nil)

// Op names a scriptable call.
type Op string

const (
	OpConnect        Op = "connect"
	OpQueryCatalog   Op = "query_catalog"
	OpQueryPurchases Op = "query_purchases"
	OpAcknowledge    Op = "acknowledge"
	OpConsume        Op = "consume"
	OpFeature        Op = "feature"
)

// Sandbox implements remote.Source in memory.
type Sandbox struct {
	mu       sync.Mutex
	key      *rsa.PrivateKey
	products catalog.Products
	ready    bool
	owned    map[string]*receipt.Receipt
	results  map[Op]remote.Result
	calls    map[Op][]string
	seq      int
	now      func() time.Time
	events   chan remote.Event
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithProducts sets the product table served by QueryCatalog.
func WithProducts(ps catalog.Products) Option {
	return func(s *Sandbox) { s.products = ps }
}

// WithClock sets the purchase timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Sandbox) { s.now = now }
}

// WithEventBuffer sets the capacity of the event channel (default 256).
func WithEventBuffer(n int) Option {
	return func(s *Sandbox) { s.events = make(chan remote.Event, n) }
}

// New returns a disconnected Sandbox that signs receipts with key.
func New(key *rsa.PrivateKey, opts ...Option) *Sandbox {
	ps, _ := catalog.NewProducts(catalog.DefaultProducts()) //nolint:errcheck // default table is valid
	s := &Sandbox{
		key:      key,
		products: ps,
		owned:    make(map[string]*receipt.Receipt),
		results:  make(map[Op]remote.Result),
		calls:    make(map[Op][]string),
		now:      time.Now,
		events:   make(chan remote.Event, 256),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PublicKey returns the base64 DER key that verifies issued receipts.
func (s *Sandbox) PublicKey() string {
	pub, _ := verify.EncodePublicKey(&s.key.PublicKey) //nolint:errcheck // RSA keys always marshal
	return pub
}

// ──────────────────────────────────────────────────
// Scripting
// ──────────────────────────────────────────────────

// SetResult makes every later call of op answer r. remote.OK clears it.
func (s *Sandbox) SetResult(op Op, r remote.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.IsOK() {
		delete(s.results, op)
		return
	}
	s.results[op] = r
}

// Receipt builds a signed receipt without changing what the user owns.
func (s *Sandbox) Receipt(token, sku string, state receipt.State) *receipt.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receiptLocked(token, sku, state)
}

func (s *Sandbox) receiptLocked(token, sku string, state receipt.State) *receipt.Receipt {
	s.seq++
	if token == "" {
		token = fmt.Sprintf("sandbox-token-%d", s.seq)
	}
	at := s.now().UTC()
	payload, _ := json.Marshal(map[string]any{ //nolint:errcheck // plain map always marshals
		"orderId":       fmt.Sprintf("SANDBOX.%04d", s.seq),
		"productId":     sku,
		"purchaseTime":  at.UnixMilli(),
		"purchaseState": string(state),
		"purchaseToken": token,
		"quantity":      1,
	})
	sig, _ := verify.Sign(s.key, payload) //nolint:errcheck // signing with a valid key cannot fail
	return &receipt.Receipt{
		Token:       token,
		SKU:         sku,
		OrderID:     fmt.Sprintf("SANDBOX.%04d", s.seq),
		Payload:     payload,
		Signature:   sig,
		State:       state,
		Quantity:    1,
		PurchasedAt: at,
	}
}

// Own adds receipts to the purchases returned by QueryPurchases.
func (s *Sandbox) Own(rs ...*receipt.Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rs {
		c := *r
		s.owned[r.Token] = &c
	}
}

// Owned reports whether token is still owned (not consumed).
func (s *Sandbox) Owned(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.owned[token]
	return ok
}

// Buy records a completed purchase of sku and delivers it as a purchases
// updated event.
func (s *Sandbox) Buy(token, sku string) *receipt.Receipt {
	s.mu.Lock()
	r := s.receiptLocked(token, sku, receipt.StatePurchased)
	c := *r
	s.owned[r.Token] = &c
	s.mu.Unlock()

	s.emit(remote.Event{Kind: remote.EventPurchasesUpdated, Result: remote.OK, Receipts: []*receipt.Receipt{r}})
	return r
}

// Emit delivers an arbitrary event.
func (s *Sandbox) Emit(e remote.Event) { s.emit(e) }

// Drop simulates the service closing the connection.
func (s *Sandbox) Drop(reason string) {
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
	s.emit(remote.Event{Kind: remote.EventDisconnected, Result: remote.Failed(remote.CodeServiceDisconnected, reason), Reason: reason})
}

// Calls returns the arguments of every call of op, in order.
func (s *Sandbox) Calls(op Op) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls[op]...)
}

// CallCount returns how often op was called.
func (s *Sandbox) CallCount(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls[op])
}

// ──────────────────────────────────────────────────
// remote.Source
// ──────────────────────────────────────────────────

// Connect answers with the scripted connect result through a connected event.
func (s *Sandbox) Connect(_ context.Context) error {
	s.mu.Lock()
	res := s.resultLocked(OpConnect, "")
	s.ready = res.IsOK()
	s.mu.Unlock()

	s.emit(remote.Event{Kind: remote.EventConnected, Result: res})
	return nil
}

// Disconnect marks the sandbox not ready.
func (s *Sandbox) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	return nil
}

// IsReady implements remote.Source.
func (s *Sandbox) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// QueryCatalog returns a record per requested SKU of type t.
func (s *Sandbox) QueryCatalog(_ context.Context, t catalog.SkuType, skus []string) ([]*catalog.SkuRecord, remote.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res := s.resultLocked(OpQueryCatalog, string(t)); !res.IsOK() {
		return nil, res
	}
	out := make([]*catalog.SkuRecord, 0, len(skus))
	for _, sku := range skus {
		p, ok := s.products[sku]
		if !ok || p.Type != t {
			continue
		}
		title := strings.ReplaceAll(sku, "_", " ")
		details, _ := json.Marshal(map[string]string{"productId": sku, "type": string(t)}) //nolint:errcheck // plain map always marshals
		out = append(out, &catalog.SkuRecord{
			SKU:         sku,
			Type:        t,
			Title:       title,
			Description: "Sandbox " + title,
			Price:       "$0.99",
			Payload:     details,
		})
	}
	return out, remote.OK
}

// QueryPurchases returns the owned receipts of type t, ordered by token.
func (s *Sandbox) QueryPurchases(_ context.Context, t catalog.SkuType) ([]*receipt.Receipt, remote.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res := s.resultLocked(OpQueryPurchases, string(t)); !res.IsOK() {
		return nil, res
	}
	var out []*receipt.Receipt
	for _, r := range s.owned {
		if p, ok := s.products[r.SKU]; ok && p.Type != t {
			continue
		}
		if _, ok := s.products[r.SKU]; !ok && t != catalog.TypeInApp {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, remote.OK
}

// Acknowledge marks an owned receipt acknowledged.
func (s *Sandbox) Acknowledge(_ context.Context, token string) remote.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res := s.resultLocked(OpAcknowledge, token); !res.IsOK() {
		return res
	}
	r, ok := s.owned[token]
	if !ok {
		return remote.Failed(remote.CodeItemNotOwned, "unknown token")
	}
	r.Acknowledged = true
	return remote.OK
}

// Consume removes an owned receipt so it can be bought again.
func (s *Sandbox) Consume(_ context.Context, token string) (remote.Result, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res := s.resultLocked(OpConsume, token); !res.IsOK() {
		return res, token
	}
	if _, ok := s.owned[token]; !ok {
		return remote.Failed(remote.CodeItemNotOwned, "unknown token"), token
	}
	delete(s.owned, token)
	return remote.OK, token
}

// IsFeatureSupported answers the scripted feature result.
func (s *Sandbox) IsFeatureSupported(_ context.Context, f remote.Feature) remote.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultLocked(OpFeature, string(f))
}

// Events implements remote.Source.
func (s *Sandbox) Events() <-chan remote.Event { return s.events }

// resultLocked records the call and returns the scripted answer. Calls other
// than connect fail with service disconnected while not ready.
func (s *Sandbox) resultLocked(op Op, arg string) remote.Result {
	s.calls[op] = append(s.calls[op], arg)
	if res, ok := s.results[op]; ok {
		return res
	}
	if op != OpConnect && !s.ready {
		return remote.Failed(remote.CodeServiceDisconnected, "not connected")
	}
	return remote.OK
}

func (s *Sandbox) emit(e remote.Event) {
	select {
	case s.events <- e:
	default:
	}
}
