package cache

import (
	"context"
	"fmt"
	"time"

	"posledger/internal/domain"
)

// StockCache holds the per-location stock view of a product. Entries are
// derived from the inventory ledger and may be dropped at any time.
//
// Every product carries a generation that Invalidate bumps. A reader takes
// Generation before loading the view and passes it to SetLocationStock,
// which stores nothing if an invalidation happened in between.
type StockCache interface {
	GetLocationStock(ctx context.Context, productID string) ([]domain.LocationStock, bool, error)
	Generation(ctx context.Context, productID string) (int64, error)
	SetLocationStock(ctx context.Context, productID string, generation int64, value []domain.LocationStock, ttl time.Duration) error
	Invalidate(ctx context.Context, productIDs ...string) error
}

type NoopStockCache struct{}

func (NoopStockCache) GetLocationStock(_ context.Context, _ string) ([]domain.LocationStock, bool, error) {
	return nil, false, nil
}

func (NoopStockCache) Generation(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

func (NoopStockCache) SetLocationStock(_ context.Context, _ string, _ int64, _ []domain.LocationStock, _ time.Duration) error {
	return nil
}

func (NoopStockCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}

func stockKey(productID string) string {
	return fmt.Sprintf("stock:v1:%s", productID)
}

func generationKey(productID string) string {
	return fmt.Sprintf("stock:gen:%s", productID)
}
