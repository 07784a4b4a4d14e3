package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/billsync"
	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/grant"
	"github.com/xraph/billsync/receipt"
	bsstore "github.com/xraph/billsync/store"
)

// Collection name constants.
const (
	colEntitlements = "billsync_entitlements"
	colReceipts     = "billsync_receipts"
	colGrants       = "billsync_grants"
	colCatalog      = "billsync_catalog"
)

// compile-time interface check
var _ bsstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all billsync collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("billsync/mongo: migrate %s indexes: %w: %w", col, billsync.ErrMigrationFailed, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Entitlement Store ====================

func (s *Store) GetEntitlement(ctx context.Context, kind entitlement.Kind) (entitlement.Entitlement, error) {
	var m entitlementModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": string(kind)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billsync.ErrEntitlementNotFound
		}
		return nil, fmt.Errorf("billsync/mongo: get entitlement: %w", err)
	}
	return fromEntitlementModel(&m)
}

func (s *Store) ListEntitlements(ctx context.Context) ([]entitlement.Entitlement, error) {
	var models []entitlementModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("billsync/mongo: list entitlements: %w", err)
	}

	byKind := make(map[entitlement.Kind]*entitlementModel, len(models))
	for i := range models {
		byKind[entitlement.Kind(models[i].Kind)] = &models[i]
	}

	result := make([]entitlement.Entitlement, 0, len(models))
	for _, k := range entitlement.Kinds() {
		m, ok := byKind[k]
		if !ok {
			continue
		}
		e, err := fromEntitlementModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

func (s *Store) PutOneTime(ctx context.Context, e *entitlement.OneTimePurchase) error {
	return s.putEntitlement(ctx, e)
}

func (s *Store) PutSubscription(ctx context.Context, e *entitlement.Subscription) error {
	return s.putEntitlement(ctx, e)
}

func (s *Store) PutConsumable(ctx context.Context, e *entitlement.ConsumableAsset) error {
	return s.putEntitlement(ctx, e)
}

func (s *Store) putEntitlement(ctx context.Context, e entitlement.Entitlement) error {
	m := toEntitlementModel(e)
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now()
	}

	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.Kind}).
		SetUpdate(bson.M{"$set": bson.M{
			"entitled":   m.Entitled,
			"count":      m.Count,
			"updated_at": m.UpdatedAt,
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billsync/mongo: put entitlement: %w", err)
	}
	return nil
}

func (s *Store) AdjustConsumable(ctx context.Context, delta int) (*entitlement.ConsumableAsset, error) {
	var m entitlementModel
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	err := s.mdb.Collection(colEntitlements).FindOneAndUpdate(ctx,
		bson.M{"_id": string(entitlement.KindConsumable)},
		bson.M{
			"$inc":         bson.M{"count": delta},
			"$set":         bson.M{"updated_at": now()},
			"$setOnInsert": bson.M{"entitled": false},
		},
		opts,
	).Decode(&m)
	if err != nil {
		return nil, fmt.Errorf("billsync/mongo: adjust consumable: %w", err)
	}
	return &entitlement.ConsumableAsset{Count: m.Count, UpdatedAt: m.UpdatedAt}, nil
}

func (s *Store) DeleteEntitlement(ctx context.Context, kind entitlement.Kind) error {
	_, err := s.mdb.NewDelete((*entitlementModel)(nil)).
		Filter(bson.M{"_id": string(kind)}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billsync/mongo: delete entitlement: %w", err)
	}
	return nil
}

// ==================== Receipt Store ====================

func (s *Store) InsertReceipt(ctx context.Context, r *receipt.Receipt) error {
	m := toReceiptModel(r)
	if m.ObservedAt.IsZero() {
		m.ObservedAt = now()
	}
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return billsync.ErrAlreadyExists
		}
		return fmt.Errorf("billsync/mongo: insert receipt: %w", err)
	}
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, token string) (*receipt.Receipt, error) {
	var m receiptModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": token}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billsync.ErrReceiptNotFound
		}
		return nil, fmt.Errorf("billsync/mongo: get receipt: %w", err)
	}
	return fromReceiptModel(&m)
}

func (s *Store) ListReceipts(ctx context.Context) ([]*receipt.Receipt, error) {
	var models []receiptModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "observed_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("billsync/mongo: list receipts: %w", err)
	}

	result := make([]*receipt.Receipt, len(models))
	for i := range models {
		r, err := fromReceiptModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func (s *Store) MarkAcknowledged(ctx context.Context, token string) error {
	res, err := s.mdb.NewUpdate((*receiptModel)(nil)).
		Filter(bson.M{"_id": token}).
		Set("acknowledged", true).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billsync/mongo: mark acknowledged: %w", err)
	}
	if res.MatchedCount() == 0 {
		return billsync.ErrReceiptNotFound
	}
	return nil
}

func (s *Store) DeleteReceipt(ctx context.Context, token string) error {
	_, err := s.mdb.NewDelete((*receiptModel)(nil)).
		Filter(bson.M{"_id": token}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billsync/mongo: delete receipt: %w", err)
	}
	return nil
}

// ==================== Grant Store ====================

// Disburse applies g to its entitlement document, guarded by the token list
// on that document, then journals g. A crash between the two leaves the
// token on the document, so a retry journals without applying twice.
func (s *Store) Disburse(ctx context.Context, g *grant.Grant) (entitlement.Entitlement, error) {
	if _, err := s.GetGrant(ctx, g.Token); err == nil {
		return nil, billsync.ErrAlreadyExists
	} else if !errors.Is(err, billsync.ErrGrantNotFound) {
		return nil, err
	}

	m := toGrantModel(g)
	if m.GrantedAt.IsZero() {
		m.GrantedAt = now()
	}
	entitled := g.Kind != entitlement.KindConsumable
	units := 0
	if !entitled {
		units = m.Delta
	}

	var em entitlementModel
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	applied := true
	err := s.mdb.Collection(colEntitlements).FindOneAndUpdate(ctx,
		bson.M{"_id": m.Kind, "grants": bson.M{"$ne": m.Token}},
		bson.M{
			"$inc":  bson.M{"count": units},
			"$set":  bson.M{"entitled": entitled, "updated_at": m.GrantedAt},
			"$push": bson.M{"grants": m.Token},
		},
		opts,
	).Decode(&em)
	if err != nil {
		// The upsert collides on _id when the token was already applied.
		if !mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("billsync/mongo: disburse: %w", err)
		}
		applied = false
	}

	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, billsync.ErrAlreadyExists
		}
		return nil, fmt.Errorf("billsync/mongo: record grant: %w", err)
	}
	if !applied {
		return nil, billsync.ErrAlreadyExists
	}
	return fromEntitlementModel(&em)
}

func (s *Store) GetGrant(ctx context.Context, token string) (*grant.Grant, error) {
	var m grantModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": token}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billsync.ErrGrantNotFound
		}
		return nil, fmt.Errorf("billsync/mongo: get grant: %w", err)
	}
	return fromGrantModel(&m)
}

func (s *Store) ListGrants(ctx context.Context) ([]*grant.Grant, error) {
	var models []grantModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "granted_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("billsync/mongo: list grants: %w", err)
	}

	result := make([]*grant.Grant, len(models))
	for i := range models {
		g, err := fromGrantModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = g
	}
	return result, nil
}

// ==================== Catalog Store ====================

func (s *Store) UpsertSku(ctx context.Context, r *catalog.SkuRecord) error {
	m := toSkuModel(r)
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now()
	}

	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.SKU}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"type":        m.Type,
				"title":       m.Title,
				"description": m.Description,
				"price":       m.Price,
				"payload":     m.Payload,
				"updated_at":  m.UpdatedAt,
			},
			"$setOnInsert": bson.M{"purchasable": m.Purchasable},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billsync/mongo: upsert sku: %w", err)
	}
	return nil
}

func (s *Store) GetSku(ctx context.Context, sku string) (*catalog.SkuRecord, error) {
	var m skuModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": sku}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billsync.ErrSkuNotFound
		}
		return nil, fmt.Errorf("billsync/mongo: get sku: %w", err)
	}
	return fromSkuModel(&m), nil
}

func (s *Store) ListSkus(ctx context.Context, t catalog.SkuType) ([]*catalog.SkuRecord, error) {
	var models []skuModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"type": string(t)}).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("billsync/mongo: list skus: %w", err)
	}

	result := make([]*catalog.SkuRecord, len(models))
	for i := range models {
		result[i] = fromSkuModel(&models[i])
	}
	return result, nil
}

func (s *Store) SetPurchasable(ctx context.Context, sku string, t catalog.SkuType, purchasable bool) error {
	_, err := s.mdb.NewUpdate((*skuModel)(nil)).
		Filter(bson.M{"_id": sku}).
		SetUpdate(bson.M{
			"$set":         bson.M{"purchasable": purchasable, "updated_at": now()},
			"$setOnInsert": bson.M{"type": string(t)},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billsync/mongo: set purchasable: %w", err)
	}
	return nil
}

func (s *Store) DeleteSku(ctx context.Context, sku string) error {
	_, err := s.mdb.NewDelete((*skuModel)(nil)).
		Filter(bson.M{"_id": sku}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billsync/mongo: delete sku: %w", err)
	}
	return nil
}

// ==================== Settings Store ====================

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var m settingModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": key}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return "", billsync.ErrSettingNotFound
		}
		return "", fmt.Errorf("billsync/mongo: get setting: %w", err)
	}
	return m.Value, nil
}

func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.mdb.NewUpdate((*settingModel)(nil)).
		Filter(bson.M{"_id": key}).
		SetUpdate(bson.M{"$set": bson.M{"value": value, "updated_at": now()}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billsync/mongo: put setting: %w", err)
	}
	return nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all billsync collections.
// Documents are keyed by token, kind, SKU or setting key through _id.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colReceipts: {
			{Keys: bson.D{{Key: "observed_at", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "sku", Value: 1}}},
			{Keys: bson.D{{Key: "receipt_id", Value: 1}}},
		},
		colGrants: {
			{Keys: bson.D{{Key: "granted_at", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "kind", Value: 1}}},
		},
		colCatalog: {
			{Keys: bson.D{{Key: "type", Value: 1}, {Key: "_id", Value: 1}}},
		},
	}
}
