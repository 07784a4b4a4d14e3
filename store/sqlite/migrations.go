package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the billsync store (SQLite).
var Migrations = migrate.NewGroup("billsync")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_billsync_entitlements",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billsync_entitlements (
    kind       TEXT PRIMARY KEY,
    entitled   INTEGER NOT NULL DEFAULT 0,
    count      INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billsync_entitlements`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_billsync_receipts",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billsync_receipts (
    token        TEXT PRIMARY KEY,
    id           TEXT NOT NULL DEFAULT '',
    sku          TEXT NOT NULL DEFAULT '',
    order_id     TEXT NOT NULL DEFAULT '',
    payload      TEXT NOT NULL DEFAULT '',
    signature    TEXT NOT NULL DEFAULT '',
    state        TEXT NOT NULL DEFAULT 'purchased',
    quantity     INTEGER NOT NULL DEFAULT 1,
    acknowledged INTEGER NOT NULL DEFAULT 0,
    purchased_at TEXT NOT NULL DEFAULT (datetime('now')),
    observed_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_billsync_receipts_observed ON billsync_receipts (observed_at, token);
CREATE INDEX IF NOT EXISTS idx_billsync_receipts_sku ON billsync_receipts (sku);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billsync_receipts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_billsync_grants",
			Version: "20240101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billsync_grants (
    token      TEXT PRIMARY KEY,
    id         TEXT NOT NULL DEFAULT '',
    sku        TEXT NOT NULL DEFAULT '',
    kind       TEXT NOT NULL DEFAULT '',
    delta      INTEGER NOT NULL DEFAULT 0,
    granted_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_billsync_grants_granted ON billsync_grants (granted_at, token);
CREATE INDEX IF NOT EXISTS idx_billsync_grants_kind ON billsync_grants (kind);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billsync_grants`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_billsync_catalog",
			Version: "20240101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billsync_catalog (
    sku         TEXT PRIMARY KEY,
    type        TEXT NOT NULL DEFAULT 'inapp',
    title       TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    price       TEXT NOT NULL DEFAULT '',
    payload     TEXT NOT NULL DEFAULT '',
    purchasable INTEGER NOT NULL DEFAULT 1,
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_billsync_catalog_type ON billsync_catalog (type, sku);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billsync_catalog`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_billsync_settings",
			Version: "20240101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billsync_settings (
    setting_key TEXT PRIMARY KEY,
    value       TEXT NOT NULL DEFAULT '',
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billsync_settings`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_billsync_disburse_trigger",
			Version: "20240101000006",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TRIGGER IF NOT EXISTS billsync_grants_disburse
AFTER INSERT ON billsync_grants
BEGIN
    INSERT INTO billsync_entitlements (kind, entitled, count, updated_at)
    VALUES (
        NEW.kind,
        CASE WHEN NEW.kind = 'consumable' THEN 0 ELSE 1 END,
        CASE WHEN NEW.kind = 'consumable' THEN NEW.delta ELSE 0 END,
        NEW.granted_at
    )
    ON CONFLICT (kind) DO UPDATE
    SET entitled = excluded.entitled,
        count = billsync_entitlements.count + excluded.count,
        updated_at = excluded.updated_at;
END;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TRIGGER IF EXISTS billsync_grants_disburse`)
				return err
			},
		},
	)
}
