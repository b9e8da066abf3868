package inventory

import (
	"context"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/store"
)

// LocationStockSource returns raw per-location sums for a product. Both
// store.Tx and store.Repository satisfy it.
type LocationStockSource interface {
	SumInventoryByLocation(ctx context.Context, productID string) ([]domain.LocationStock, error)
}

// CurrentStock is the sum of every ledger entry of the product across all
// locations.
func CurrentStock(ctx context.Context, tx store.Tx, productID string) (decimal.Decimal, error) {
	return tx.SumInventory(ctx, productID)
}

// CurrentStockByLocation omits locations whose balance nets to zero.
func CurrentStockByLocation(ctx context.Context, src LocationStockSource, productID string) ([]domain.LocationStock, error) {
	rows, err := src.SumInventoryByLocation(ctx, productID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.LocationStock, 0, len(rows))
	for _, row := range rows {
		if !row.CurrentStock.IsZero() {
			out = append(out, row)
		}
	}
	return out, nil
}

// Refresh re-aggregates the product's ledger and stores the result in the
// cached stock field, inside tx.
func Refresh(ctx context.Context, tx store.Tx, productID string) (decimal.Decimal, error) {
	total, err := CurrentStock(ctx, tx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := tx.SetCachedStock(ctx, productID, total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}
