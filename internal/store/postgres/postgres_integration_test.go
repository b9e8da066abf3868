package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/inventory"
	"posledger/internal/store"
	"posledger/internal/xid"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("POSLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POSLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if _, err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := s.Seed(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

func insertProduct(t *testing.T, s *Store, name string, publicPrice string) string {
	t.Helper()
	id := xid.New()
	ctx := context.Background()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, product_type, created_at)
		VALUES ($1, $2, 'finished', now())
	`, id, name); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO product_prices (product_id, purchase_price, store_price, public_price, published_price)
		VALUES ($1, 1, $2, $2, $2)
	`, id, publicPrice); err != nil {
		t.Fatalf("insert prices: %v", err)
	}
	return id
}

func locationByType(t *testing.T, s *Store, locationType domain.LocationType) string {
	t.Helper()
	var id string
	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		loc, err := tx.FirstLocationByType(context.Background(), locationType)
		if err != nil {
			return err
		}
		id = loc.ID
		return nil
	})
	if err != nil {
		t.Fatalf("find %s location: %v", locationType, err)
	}
	return id
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newIntegrationStore(t)
	applied, err := s.Migrate(context.Background())
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected no pending migrations, applied %v", applied)
	}
	if n, err := s.Seed(context.Background()); err != nil || n != 0 {
		t.Fatalf("expected reseed to insert nothing, got n=%d err=%v", n, err)
	}
}

func TestTransferAndRefreshAgainstPostgres(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	productID := insertProduct(t, s, fmt.Sprintf("IT transfer %d", time.Now().UnixNano()), "10.00")
	warehouse := locationByType(t, s, domain.LocationWarehouse)
	shop := locationByType(t, s, domain.LocationStore)
	ledger := inventory.NewLedger(inventory.Policy{AllowNegativeStock: true})

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := ledger.RecordMovement(ctx, tx, domain.MovementRequest{
			ProductID: productID, LocationID: warehouse, Quantity: decimal.RequireFromString("7.125"), Type: domain.TxPurchase,
		}); err != nil {
			return err
		}
		_, err := ledger.RecordMovement(ctx, tx, domain.MovementRequest{
			ProductID: productID, LocationID: warehouse, ToLocationID: shop, Quantity: decimal.RequireFromString("2.125"), Type: domain.TxTransfer,
		})
		return err
	})
	if err != nil {
		t.Fatalf("record movements: %v", err)
	}

	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if !product.StockQuantity.Equal(decimal.RequireFromString("7.125")) {
		t.Fatalf("expected cached stock 7.125, got %s", product.StockQuantity)
	}

	rows, err := inventory.CurrentStockByLocation(ctx, s, productID)
	if err != nil {
		t.Fatalf("stock by location: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected two non-zero locations, got %+v", rows)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	productID := insertProduct(t, s, fmt.Sprintf("IT rollback %d", time.Now().UnixNano()), "5.00")
	warehouse := locationByType(t, s, domain.LocationWarehouse)
	ledger := inventory.NewLedger(inventory.Policy{AllowNegativeStock: true})
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := ledger.RecordMovement(ctx, tx, domain.MovementRequest{
			ProductID: productID, LocationID: warehouse, Quantity: decimal.NewFromInt(3), Type: domain.TxPurchase,
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	rows, err := inventory.CurrentStockByLocation(ctx, s, productID)
	if err != nil {
		t.Fatalf("stock by location: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no stock after rollback, got %+v", rows)
	}
}

func TestUpsertSessionReturnsSameID(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	code := fmt.Sprintf("it-%d", time.Now().UnixNano())

	first, err := s.UpsertSession(ctx, domain.Session{Type: "guest", CustomCode: code, Origin: "web"})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := s.UpsertSession(ctx, domain.Session{Type: "guest", CustomCode: code, Origin: "web"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same session id, got %s and %s", first.ID, second.ID)
	}
	if second.UpdatedAt.Before(first.UpdatedAt) {
		t.Fatalf("expected updated_at to move forward")
	}
}

func TestInventoryLedgerIsAppendOnly(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	productID := insertProduct(t, s, fmt.Sprintf("IT immutable %d", time.Now().UnixNano()), "1.00")
	warehouse := locationByType(t, s, domain.LocationWarehouse)
	ledger := inventory.NewLedger(inventory.Policy{AllowNegativeStock: true})

	if err := s.WithTx(ctx, func(tx store.Tx) error {
		_, err := ledger.RecordMovement(ctx, tx, domain.MovementRequest{
			ProductID: productID, LocationID: warehouse, Quantity: decimal.NewFromInt(1), Type: domain.TxPurchase,
		})
		return err
	}); err != nil {
		t.Fatalf("record movement: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE inventory_ledger SET quantity = 99 WHERE product_id = $1`, productID); err == nil {
		t.Fatalf("expected update on inventory ledger to be rejected")
	}
}
