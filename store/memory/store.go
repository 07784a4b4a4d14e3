package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/billsync"
	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/grant"
	"github.com/xraph/billsync/receipt"
	"github.com/xraph/billsync/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps every entity in process memory. Values are copied on the way
// in and out so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	// Entitlement rows keyed by kind
	entitlements map[entitlement.Kind]entitlement.Entitlement

	// Purchase ledger keyed by token
	receipts map[string]*receipt.Receipt

	// Grant journal keyed by token
	grants map[string]*grant.Grant

	// SKU records keyed by SKU
	skus map[string]*catalog.SkuRecord

	settings map[string]string

	closed bool
	now    func() time.Time
}

func New() *Store {
	return &Store{
		entitlements: make(map[entitlement.Kind]entitlement.Entitlement),
		receipts:     make(map[string]*receipt.Receipt),
		grants:       make(map[string]*grant.Grant),
		skus:         make(map[string]*catalog.SkuRecord),
		settings:     make(map[string]string),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Entitlement Store implementation
func (s *Store) GetEntitlement(_ context.Context, kind entitlement.Kind) (entitlement.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entitlements[kind]; ok {
		return entitlement.Clone(e), nil
	}
	return nil, billsync.ErrEntitlementNotFound
}

func (s *Store) ListEntitlements(_ context.Context) ([]entitlement.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]entitlement.Entitlement, 0, len(s.entitlements))
	for _, k := range entitlement.Kinds() {
		if e, ok := s.entitlements[k]; ok {
			result = append(result, entitlement.Clone(e))
		}
	}
	return result, nil
}

func (s *Store) PutOneTime(_ context.Context, e *entitlement.OneTimePurchase) error {
	return s.put(e)
}

func (s *Store) PutSubscription(_ context.Context, e *entitlement.Subscription) error {
	return s.put(e)
}

func (s *Store) PutConsumable(_ context.Context, e *entitlement.ConsumableAsset) error {
	return s.put(e)
}

func (s *Store) put(e entitlement.Entitlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entitlements[e.Kind()] = entitlement.Clone(e)
	return nil
}

func (s *Store) AdjustConsumable(_ context.Context, delta int) (*entitlement.ConsumableAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := &entitlement.ConsumableAsset{Count: delta, UpdatedAt: s.now()}
	if cur, ok := s.entitlements[entitlement.KindConsumable].(*entitlement.ConsumableAsset); ok {
		next.Count = cur.Count + delta
	}
	s.entitlements[entitlement.KindConsumable] = next

	c := *next
	return &c, nil
}

func (s *Store) DeleteEntitlement(_ context.Context, kind entitlement.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entitlements, kind)
	return nil
}

// Receipt Store implementation
func (s *Store) InsertReceipt(_ context.Context, r *receipt.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receipts[r.Token]; exists {
		return billsync.ErrAlreadyExists
	}
	s.receipts[r.Token] = copyReceipt(r)
	return nil
}

func (s *Store) GetReceipt(_ context.Context, token string) (*receipt.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.receipts[token]; ok {
		return copyReceipt(r), nil
	}
	return nil, billsync.ErrReceiptNotFound
}

func (s *Store) ListReceipts(_ context.Context) ([]*receipt.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*receipt.Receipt, 0, len(s.receipts))
	for _, r := range s.receipts {
		result = append(result, copyReceipt(r))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ObservedAt.Equal(result[j].ObservedAt) {
			return result[i].ObservedAt.Before(result[j].ObservedAt)
		}
		return result[i].Token < result[j].Token
	})
	return result, nil
}

func (s *Store) MarkAcknowledged(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.receipts[token]
	if !ok {
		return billsync.ErrReceiptNotFound
	}
	r.Acknowledged = true
	return nil
}

func (s *Store) DeleteReceipt(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.receipts, token)
	return nil
}

// Grant Store implementation
func (s *Store) Disburse(_ context.Context, g *grant.Grant) (entitlement.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.grants[g.Token]; exists {
		return nil, billsync.ErrAlreadyExists
	}
	c := *g
	if c.GrantedAt.IsZero() {
		c.GrantedAt = s.now()
	}
	e, err := entitlement.Disbursed(s.entitlements[c.Kind], c.Kind, c.Delta, c.GrantedAt)
	if err != nil {
		return nil, err
	}
	s.grants[c.Token] = &c
	s.entitlements[c.Kind] = e
	return entitlement.Clone(e), nil
}

func (s *Store) GetGrant(_ context.Context, token string) (*grant.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if g, ok := s.grants[token]; ok {
		c := *g
		return &c, nil
	}
	return nil, billsync.ErrGrantNotFound
}

func (s *Store) ListGrants(_ context.Context) ([]*grant.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*grant.Grant, 0, len(s.grants))
	for _, g := range s.grants {
		c := *g
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].GrantedAt.Equal(result[j].GrantedAt) {
			return result[i].GrantedAt.Before(result[j].GrantedAt)
		}
		return result[i].Token < result[j].Token
	})
	return result, nil
}

// Catalog Store implementation
func (s *Store) UpsertSku(_ context.Context, r *catalog.SkuRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := copySku(r)
	if cur, ok := s.skus[r.SKU]; ok {
		c.Purchasable = cur.Purchasable
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now()
	}
	s.skus[r.SKU] = c
	return nil
}

func (s *Store) GetSku(_ context.Context, sku string) (*catalog.SkuRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.skus[sku]; ok {
		return copySku(r), nil
	}
	return nil, billsync.ErrSkuNotFound
}

func (s *Store) ListSkus(_ context.Context, t catalog.SkuType) ([]*catalog.SkuRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*catalog.SkuRecord, 0)
	for _, r := range s.skus {
		if r.Type == t {
			result = append(result, copySku(r))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SKU < result[j].SKU })
	return result, nil
}

func (s *Store) SetPurchasable(_ context.Context, sku string, t catalog.SkuType, purchasable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.skus[sku]
	if !ok {
		r = &catalog.SkuRecord{SKU: sku, Type: t}
		s.skus[sku] = r
	}
	r.Purchasable = purchasable
	r.UpdatedAt = s.now()
	return nil
}

func (s *Store) DeleteSku(_ context.Context, sku string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.skus, sku)
	return nil
}

// Settings Store implementation
func (s *Store) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.settings[key]; ok {
		return v, nil
	}
	return "", billsync.ErrSettingNotFound
}

func (s *Store) PutSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = value
	return nil
}

// Store management
func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return billsync.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Helper functions
func copyReceipt(r *receipt.Receipt) *receipt.Receipt {
	c := *r
	c.Payload = append([]byte(nil), r.Payload...)
	return &c
}

func copySku(r *catalog.SkuRecord) *catalog.SkuRecord {
	c := *r
	c.Payload = append([]byte(nil), r.Payload...)
	return &c
}
