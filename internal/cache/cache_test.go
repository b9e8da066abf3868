package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/xid"
)

func TestStockKeyIsVersioned(t *testing.T) {
	if got := stockKey("p1"); got != "stock:v1:p1" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestNoopStockCacheAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	var c StockCache = NoopStockCache{}
	gen, err := c.Generation(ctx, "p1")
	if err != nil || gen != 0 {
		t.Fatalf("expected generation 0, got %d err=%v", gen, err)
	}
	if err := c.SetLocationStock(ctx, "p1", gen, []domain.LocationStock{{LocationName: "Shop"}}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := c.GetLocationStock(ctx, "p1"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestRedisStockCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("POSLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set POSLEDGER_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	c := NewRedisStockCache(addr, os.Getenv("POSLEDGER_TEST_REDIS_PASSWORD"), 0)
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	productID := xid.New()
	if _, ok, err := c.GetLocationStock(ctx, productID); ok || err != nil {
		t.Fatalf("expected miss for fresh key, got ok=%v err=%v", ok, err)
	}

	rows := []domain.LocationStock{{
		LocationName: "Main Store",
		LocationType: domain.LocationStore,
		CurrentStock: decimal.RequireFromString("12.125"),
		UOM:          "kg",
	}}
	gen, err := c.Generation(ctx, productID)
	if err != nil {
		t.Fatalf("generation: %v", err)
	}
	if err := c.SetLocationStock(ctx, productID, gen, rows, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.GetLocationStock(ctx, productID)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(got) != 1 || !got[0].CurrentStock.Equal(rows[0].CurrentStock) || got[0].UOM != "kg" {
		t.Fatalf("unexpected cached rows %+v", got)
	}

	if err := c.Invalidate(ctx, productID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.GetLocationStock(ctx, productID); ok {
		t.Fatalf("expected miss after invalidate")
	}

	// A view loaded under the old generation must not be stored.
	if err := c.SetLocationStock(ctx, productID, gen, rows, time.Minute); err != nil {
		t.Fatalf("stale set: %v", err)
	}
	if _, ok, _ := c.GetLocationStock(ctx, productID); ok {
		t.Fatalf("expected stale view to be discarded")
	}
	next, err := c.Generation(ctx, productID)
	if err != nil || next != gen+1 {
		t.Fatalf("expected generation %d, got %d err=%v", gen+1, next, err)
	}
	if err := c.SetLocationStock(ctx, productID, next, rows, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := c.GetLocationStock(ctx, productID); !ok {
		t.Fatalf("expected hit for current generation")
	}
}

func TestGenerationKeyIsPerProduct(t *testing.T) {
	if generationKey("p1") == generationKey("p2") || generationKey("p1") == stockKey("p1") {
		t.Fatalf("generation keys must be distinct per product and from view keys")
	}
}
