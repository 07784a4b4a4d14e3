package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/billsync"
	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/grant"
	"github.com/xraph/billsync/receipt"
	bsstore "github.com/xraph/billsync/store"
)

// compile-time interface check
var _ bsstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("billsync/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("billsync/sqlite: %w: %w", billsync.ErrMigrationFailed, err)
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
	m := new(entitlementModel)
	err := s.sdb.NewSelect(m).
		Where("kind = ?", string(kind)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billsync.ErrEntitlementNotFound
		}
		return nil, err
	}
	return fromEntitlementModel(m)
}

func (s *Store) ListEntitlements(ctx context.Context) ([]entitlement.Entitlement, error) {
	var models []entitlementModel
	if err := s.sdb.NewSelect(&models).Scan(ctx); err != nil {
		return nil, err
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
	_, err := s.sdb.NewInsert(m).
		OnConflict("(kind) DO UPDATE").
		Set("entitled = EXCLUDED.entitled").
		Set("count = EXCLUDED.count").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) AdjustConsumable(ctx context.Context, delta int) (*entitlement.ConsumableAsset, error) {
	t := now()
	var count int
	err := s.sdb.NewRaw(`
		INSERT INTO billsync_entitlements (kind, entitled, count, updated_at)
		VALUES (?, 0, ?, ?)
		ON CONFLICT (kind) DO UPDATE
		SET count = billsync_entitlements.count + EXCLUDED.count, updated_at = EXCLUDED.updated_at
		RETURNING count
	`, string(entitlement.KindConsumable), delta, t).Scan(ctx, &count)
	if err != nil {
		return nil, err
	}
	return &entitlement.ConsumableAsset{Count: count, UpdatedAt: t}, nil
}

func (s *Store) DeleteEntitlement(ctx context.Context, kind entitlement.Kind) error {
	_, err := s.sdb.NewDelete((*entitlementModel)(nil)).
		Where("kind = ?", string(kind)).
		Exec(ctx)
	return err
}

// ==================== Receipt Store ====================

func (s *Store) InsertReceipt(ctx context.Context, r *receipt.Receipt) error {
	m := toReceiptModel(r)
	if m.ObservedAt.IsZero() {
		m.ObservedAt = now()
	}
	res, err := s.sdb.NewInsert(m).
		OnConflict("(token) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return billsync.ErrAlreadyExists
	}
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, token string) (*receipt.Receipt, error) {
	m := new(receiptModel)
	err := s.sdb.NewSelect(m).
		Where("token = ?", token).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billsync.ErrReceiptNotFound
		}
		return nil, err
	}
	return fromReceiptModel(m)
}

func (s *Store) ListReceipts(ctx context.Context) ([]*receipt.Receipt, error) {
	var models []receiptModel
	err := s.sdb.NewSelect(&models).
		OrderExpr("observed_at ASC, token ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
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
	res, err := s.sdb.NewUpdate((*receiptModel)(nil)).
		Set("acknowledged = ?", true).
		Where("token = ?", token).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return billsync.ErrReceiptNotFound
	}
	return nil
}

func (s *Store) DeleteReceipt(ctx context.Context, token string) error {
	_, err := s.sdb.NewDelete((*receiptModel)(nil)).
		Where("token = ?", token).
		Exec(ctx)
	return err
}

// ==================== Grant Store ====================

// Disburse journals g. The billsync_grants_disburse trigger applies it to
// the entitlement row inside the same statement.
func (s *Store) Disburse(ctx context.Context, g *grant.Grant) (entitlement.Entitlement, error) {
	m := toGrantModel(g)
	if m.GrantedAt.IsZero() {
		m.GrantedAt = now()
	}
	res, err := s.sdb.NewInsert(m).
		OnConflict("(token) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, billsync.ErrAlreadyExists
	}
	return s.GetEntitlement(ctx, g.Kind)
}

func (s *Store) GetGrant(ctx context.Context, token string) (*grant.Grant, error) {
	m := new(grantModel)
	err := s.sdb.NewSelect(m).
		Where("token = ?", token).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billsync.ErrGrantNotFound
		}
		return nil, err
	}
	return fromGrantModel(m)
}

func (s *Store) ListGrants(ctx context.Context) ([]*grant.Grant, error) {
	var models []grantModel
	err := s.sdb.NewSelect(&models).
		OrderExpr("granted_at ASC, token ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
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
	_, err := s.sdb.NewInsert(m).
		OnConflict("(sku) DO UPDATE").
		Set("type = EXCLUDED.type").
		Set("title = EXCLUDED.title").
		Set("description = EXCLUDED.description").
		Set("price = EXCLUDED.price").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetSku(ctx context.Context, sku string) (*catalog.SkuRecord, error) {
	m := new(skuModel)
	err := s.sdb.NewSelect(m).
		Where("sku = ?", sku).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billsync.ErrSkuNotFound
		}
		return nil, err
	}
	return fromSkuModel(m), nil
}

func (s *Store) ListSkus(ctx context.Context, t catalog.SkuType) ([]*catalog.SkuRecord, error) {
	var models []skuModel
	err := s.sdb.NewSelect(&models).
		Where("type = ?", string(t)).
		OrderExpr("sku ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*catalog.SkuRecord, len(models))
	for i := range models {
		result[i] = fromSkuModel(&models[i])
	}
	return result, nil
}

func (s *Store) SetPurchasable(ctx context.Context, sku string, t catalog.SkuType, purchasable bool) error {
	m := &skuModel{
		SKU:         sku,
		Type:        string(t),
		Purchasable: purchasable,
		UpdatedAt:   now(),
	}
	_, err := s.sdb.NewInsert(m).
		OnConflict("(sku) DO UPDATE").
		Set("purchasable = EXCLUDED.purchasable").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) DeleteSku(ctx context.Context, sku string) error {
	_, err := s.sdb.NewDelete((*skuModel)(nil)).
		Where("sku = ?", sku).
		Exec(ctx)
	return err
}

// ==================== Settings Store ====================

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	m := new(settingModel)
	err := s.sdb.NewSelect(m).
		Where("setting_key = ?", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return "", billsync.ErrSettingNotFound
		}
		return "", err
	}
	return m.Value, nil
}

func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	m := &settingModel{Key: key, Value: value, UpdatedAt: now()}
	_, err := s.sdb.NewInsert(m).
		OnConflict("(setting_key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
