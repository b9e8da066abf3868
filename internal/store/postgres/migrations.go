package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"posledger/internal/store"
	"posledger/internal/xid"
)

type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrationLockID serializes concurrent migrators through an advisory lock.
const migrationLockID = 7_310_442_001

var migrations = []migration{
	{
		Version: 1,
		Name:    "catalog",
		SQL: `
			CREATE TABLE IF NOT EXISTS uoms (
				id UUID PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				abbreviation TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS locations (
				id UUID PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				type TEXT NOT NULL CHECK (type IN ('warehouse', 'store', 'display', 'waste', 'digital', 'cedis')),
				address TEXT,
				is_virtual BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);

			CREATE TABLE IF NOT EXISTS products (
				id UUID PRIMARY KEY,
				category_id UUID,
				name TEXT NOT NULL,
				description TEXT,
				product_type TEXT NOT NULL CHECK (product_type IN ('raw_material', 'finished', 'digital', 'service')),
				uom_id UUID REFERENCES uoms(id),
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);

			CREATE TABLE IF NOT EXISTS product_prices (
				product_id UUID PRIMARY KEY REFERENCES products(id) ON DELETE CASCADE,
				purchase_price NUMERIC(12,2) NOT NULL DEFAULT 0,
				store_price NUMERIC(12,2) NOT NULL DEFAULT 0,
				public_price NUMERIC(12,2) NOT NULL DEFAULT 0,
				published_price NUMERIC(12,2) NOT NULL DEFAULT 0,
				stock_quantity NUMERIC(14,4) NOT NULL DEFAULT 0,
				is_backorder BOOLEAN NOT NULL DEFAULT false
			);

			CREATE TABLE IF NOT EXISTS product_components (
				id UUID PRIMARY KEY,
				parent_product_id UUID NOT NULL REFERENCES products(id) ON DELETE CASCADE,
				child_product_id UUID NOT NULL REFERENCES products(id),
				quantity_required NUMERIC(10,4) NOT NULL CHECK (quantity_required > 0),
				UNIQUE (parent_product_id, child_product_id)
			);
		`,
	},
	{
		Version: 2,
		Name:    "inventory_ledger",
		SQL: `
			CREATE TABLE IF NOT EXISTS inventory_ledger (
				id UUID PRIMARY KEY,
				product_id UUID NOT NULL REFERENCES products(id),
				location_id UUID NOT NULL REFERENCES locations(id),
				quantity NUMERIC(14,4) NOT NULL,
				transaction_type TEXT NOT NULL CHECK (transaction_type IN (
					'purchase', 'sale', 'waste', 'transfer_out', 'transfer_in',
					'adjustment', 'production_usage', 'production_output'
				)),
				reference_id UUID,
				notes TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);

			CREATE INDEX IF NOT EXISTS idx_inventory_ledger_product_location
				ON inventory_ledger (product_id, location_id);

			CREATE OR REPLACE FUNCTION reject_ledger_mutation() RETURNS trigger AS $$
			BEGIN
				RAISE EXCEPTION '% is append-only', TG_TABLE_NAME;
			END;
			$$ LANGUAGE plpgsql;

			DROP TRIGGER IF EXISTS inventory_ledger_append_only ON inventory_ledger;
			CREATE TRIGGER inventory_ledger_append_only
				BEFORE UPDATE OR DELETE ON inventory_ledger
				FOR EACH ROW EXECUTE FUNCTION reject_ledger_mutation();
		`,
	},
	{
		Version: 3,
		Name:    "sessions_and_cart",
		SQL: `
			CREATE TABLE IF NOT EXISTS sessions (
				id UUID PRIMARY KEY,
				type TEXT NOT NULL,
				custom_code TEXT NOT NULL,
				origin TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				UNIQUE (type, custom_code, origin)
			);

			CREATE TABLE IF NOT EXISTS cart_items (
				id UUID PRIMARY KEY,
				session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				product_id UUID NOT NULL REFERENCES products(id),
				quantity NUMERIC(12,4) NOT NULL CHECK (quantity > 0),
				options JSONB NOT NULL DEFAULT '[]'::jsonb,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);

			CREATE INDEX IF NOT EXISTS idx_cart_items_session ON cart_items (session_id, created_at);
		`,
	},
	{
		Version: 4,
		Name:    "orders_and_financial_ledger",
		SQL: `
			CREATE TABLE IF NOT EXISTS orders (
				id UUID PRIMARY KEY,
				session_id UUID NOT NULL REFERENCES sessions(id),
				location_id UUID NOT NULL REFERENCES locations(id),
				total_amount NUMERIC(12,2) NOT NULL,
				received_amount NUMERIC(12,2) NOT NULL,
				payment_method TEXT NOT NULL,
				status TEXT NOT NULL,
				payment_status TEXT NOT NULL,
				delivery_status TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				completed_at TIMESTAMPTZ
			);

			CREATE TABLE IF NOT EXISTS order_items (
				id UUID PRIMARY KEY,
				order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
				product_id UUID NOT NULL REFERENCES products(id),
				quantity NUMERIC(12,4) NOT NULL,
				options JSONB NOT NULL DEFAULT '[]'::jsonb,
				purchase_price NUMERIC(12,2) NOT NULL,
				store_price NUMERIC(12,2) NOT NULL,
				public_price NUMERIC(12,2) NOT NULL,
				published_price NUMERIC(12,2) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);

			CREATE TABLE IF NOT EXISTS financial_ledger (
				id UUID PRIMARY KEY,
				session_id UUID NOT NULL REFERENCES sessions(id),
				order_id UUID REFERENCES orders(id),
				type TEXT NOT NULL CHECK (type IN ('income', 'expense')),
				concept TEXT NOT NULL CHECK (concept IN ('sale', 'refund', 'adjustment')),
				amount NUMERIC(12,2) NOT NULL CHECK (amount >= 0),
				description TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);

			CREATE INDEX IF NOT EXISTS idx_financial_ledger_session
				ON financial_ledger (session_id, created_at DESC);

			DROP TRIGGER IF EXISTS financial_ledger_append_only ON financial_ledger;
			CREATE TRIGGER financial_ledger_append_only
				BEFORE UPDATE OR DELETE ON financial_ledger
				FOR EACH ROW EXECUTE FUNCTION reject_ledger_mutation();
		`,
	},
	{
		Version: 5,
		Name:    "app_users",
		SQL: `
			CREATE TABLE IF NOT EXISTS app_users (
				username TEXT PRIMARY KEY,
				password TEXT NOT NULL,
				role TEXT NOT NULL CHECK (role IN ('admin', 'cashier')),
				active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
		`,
	},
}

// Migrate applies every pending migration, each in its own transaction.
// It returns the versions that were applied by this call.
func (s *Store) Migrate(ctx context.Context) ([]int, error) {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make([]int, 0, len(migrations))
	for _, m := range migrations {
		done, err := s.applyMigration(ctx, m)
		if err != nil {
			return applied, fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if done {
			log.Printf("[migrate] applied %03d_%s", m.Version, m.Name)
			applied = append(applied, m.Version)
		}
	}
	return applied, nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return false, err
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version).Scan(&exists); err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Seed inserts the default location and unit-of-measure catalog. Rows that
// already exist by name are left untouched.
func (s *Store) Seed(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for _, u := range store.DefaultUOMs() {
		n, err := execCount(ctx, tx, `
			INSERT INTO uoms (id, name, abbreviation)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO NOTHING
		`, xid.New(), u.Name, u.Abbreviation)
		if err != nil {
			return 0, fmt.Errorf("seed uom %s: %w", u.Name, err)
		}
		inserted += n
	}
	for _, loc := range store.DefaultLocations() {
		n, err := execCount(ctx, tx, `
			INSERT INTO locations (id, name, type, is_virtual, created_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (name) DO NOTHING
		`, xid.New(), loc.Name, string(loc.Type), loc.IsVirtual)
		if err != nil {
			return 0, fmt.Errorf("seed location %s: %w", loc.Name, err)
		}
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// RebuildStockCache recomputes the cached stock column of every product
// from the inventory ledger. Products without entries are reset to zero.
func (s *Store) RebuildStockCache(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	n, err := execCount(ctx, tx, `
		INSERT INTO product_prices (product_id, stock_quantity)
		SELECT p.id, COALESCE(SUM(il.quantity), 0)
		FROM products p
		LEFT JOIN inventory_ledger il ON il.product_id = p.id
		GROUP BY p.id
		ON CONFLICT (product_id)
		DO UPDATE SET stock_quantity = EXCLUDED.stock_quantity
	`)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func execCount(ctx context.Context, q querier, query string, args ...any) (int, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
