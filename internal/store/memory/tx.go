package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/store"
)

// memTx operates on a staged state owned by the enclosing WithTx call. The
// store mutex is already held, so no locking happens here.
type memTx struct {
	st  *state
	now func() time.Time
}

func (t *memTx) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	return &p, nil
}

func (t *memTx) GetLocation(_ context.Context, locationID string) (*domain.Location, error) {
	for _, loc := range t.st.locations {
		if loc.ID == locationID {
			out := loc
			return &out, nil
		}
	}
	return nil, store.ErrLocationNotFound
}

func (t *memTx) FirstLocationByType(_ context.Context, locationType domain.LocationType) (*domain.Location, error) {
	var found *domain.Location
	for _, loc := range t.st.locations {
		if loc.Type != locationType {
			continue
		}
		if found == nil || loc.CreatedAt.Before(found.CreatedAt) {
			out := loc
			found = &out
		}
	}
	if found == nil {
		return nil, store.ErrLocationNotFound
	}
	return found, nil
}

func (t *memTx) ListComponents(_ context.Context, parentProductID string) ([]domain.ProductComponent, error) {
	return slices.Clone(t.st.components[parentProductID]), nil
}

func (t *memTx) AppendInventoryEntry(_ context.Context, entry domain.InventoryLedgerEntry) error {
	t.st.inventory = append(t.st.inventory, entry)
	return nil
}

func (t *memTx) SumInventory(_ context.Context, productID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range t.st.inventory {
		if e.ProductID == productID {
			sum = sum.Add(e.Quantity)
		}
	}
	return sum, nil
}

func (t *memTx) SumInventoryAt(_ context.Context, productID string, locationID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range t.st.inventory {
		if e.ProductID == productID && e.LocationID == locationID {
			sum = sum.Add(e.Quantity)
		}
	}
	return sum, nil
}

func (t *memTx) SumInventoryByLocation(_ context.Context, productID string) ([]domain.LocationStock, error) {
	sums := map[string]decimal.Decimal{}
	for _, e := range t.st.inventory {
		if e.ProductID != productID {
			continue
		}
		sums[e.LocationID] = sums[e.LocationID].Add(e.Quantity)
	}

	uom := ""
	if p, ok := t.st.products[productID]; ok {
		for _, u := range t.st.uoms {
			if u.ID == p.UOMID {
				uom = u.Abbreviation
				break
			}
		}
	}

	out := make([]domain.LocationStock, 0, len(sums))
	for _, loc := range t.st.locations {
		qty, ok := sums[loc.ID]
		if !ok {
			continue
		}
		out = append(out, domain.LocationStock{
			LocationID:   loc.ID,
			LocationName: loc.Name,
			LocationType: loc.Type,
			CurrentStock: qty,
			UOM:          uom,
		})
	}
	slices.SortStableFunc(out, func(a, b domain.LocationStock) int {
		return strings.Compare(a.LocationName, b.LocationName)
	})
	return out, nil
}

func (t *memTx) SetCachedStock(_ context.Context, productID string, qty decimal.Decimal) error {
	p, ok := t.st.products[productID]
	if !ok {
		return store.ErrProductNotFound
	}
	p.StockQuantity = qty
	t.st.products[productID] = p
	return nil
}

func (t *memTx) LockSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return t.GetSession(ctx, sessionID)
}

func (t *memTx) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	sess, ok := t.st.sessionsByID[sessionID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	return &sess, nil
}

func (t *memTx) SnapshotCart(_ context.Context, sessionID string) ([]domain.CartLine, error) {
	lines := make([]domain.CartLine, 0)
	for _, id := range t.st.cartOrder {
		item := t.st.cartByID[id]
		if item.SessionID != sessionID {
			continue
		}
		product, ok := t.st.products[item.ProductID]
		if !ok {
			return nil, store.ErrProductNotFound
		}
		lines = append(lines, domain.CartLine{CartItem: cloneCartItem(item), Prices: product.Prices})
	}
	return lines, nil
}

func (t *memTx) ClearCart(_ context.Context, sessionID string) (int, error) {
	removed := 0
	t.st.cartOrder = slices.DeleteFunc(t.st.cartOrder, func(id string) bool {
		if t.st.cartByID[id].SessionID != sessionID {
			return false
		}
		delete(t.st.cartByID, id)
		removed++
		return true
	})
	return removed, nil
}

func (t *memTx) CreateOrder(_ context.Context, order domain.Order) error {
	if _, exists := t.st.ordersByID[order.ID]; exists {
		return store.ErrConflict
	}
	order.Items = nil
	t.st.ordersByID[order.ID] = order
	return nil
}

func (t *memTx) CreateOrderItem(_ context.Context, item domain.OrderItem) error {
	if _, ok := t.st.ordersByID[item.OrderID]; !ok {
		return store.ErrOrderNotFound
	}
	item.Options = slices.Clone(item.Options)
	t.st.orderItems[item.OrderID] = append(t.st.orderItems[item.OrderID], item)
	return nil
}

func (t *memTx) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	order, ok := t.st.ordersByID[orderID]
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	return &order, nil
}

func (t *memTx) AppendFinancialEntry(_ context.Context, entry domain.FinancialLedgerEntry) error {
	if _, ok := t.st.sessionsByID[entry.SessionID]; !ok {
		return store.ErrSessionNotFound
	}
	t.st.finance = append(t.st.finance, entry)
	return nil
}
