package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

type pgTx struct {
	q querier
}

func (t *pgTx) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return getProduct(ctx, t.q, productID)
}

func (t *pgTx) GetLocation(ctx context.Context, locationID string) (*domain.Location, error) {
	if !xid.Valid(locationID) {
		return nil, store.ErrLocationNotFound
	}
	var loc domain.Location
	err := t.q.QueryRowContext(ctx, `
		SELECT id, name, type, COALESCE(address, ''), is_virtual, created_at
		FROM locations
		WHERE id = $1
	`, locationID).Scan(&loc.ID, &loc.Name, &loc.Type, &loc.Address, &loc.IsVirtual, &loc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrLocationNotFound
	}
	if err != nil {
		return nil, err
	}
	loc.CreatedAt = loc.CreatedAt.UTC()
	return &loc, nil
}

func (t *pgTx) FirstLocationByType(ctx context.Context, locationType domain.LocationType) (*domain.Location, error) {
	var loc domain.Location
	err := t.q.QueryRowContext(ctx, `
		SELECT id, name, type, COALESCE(address, ''), is_virtual, created_at
		FROM locations
		WHERE type = $1
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, string(locationType)).Scan(&loc.ID, &loc.Name, &loc.Type, &loc.Address, &loc.IsVirtual, &loc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrLocationNotFound
	}
	if err != nil {
		return nil, err
	}
	loc.CreatedAt = loc.CreatedAt.UTC()
	return &loc, nil
}

func (t *pgTx) ListComponents(ctx context.Context, parentProductID string) ([]domain.ProductComponent, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, parent_product_id, child_product_id, quantity_required
		FROM product_components
		WHERE parent_product_id = $1
		ORDER BY id ASC
	`, parentProductID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	components := make([]domain.ProductComponent, 0, 8)
	for rows.Next() {
		var c domain.ProductComponent
		if err := rows.Scan(&c.ID, &c.ParentProductID, &c.ChildProductID, &c.QuantityRequired); err != nil {
			return nil, err
		}
		components = append(components, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return components, nil
}

func (t *pgTx) AppendInventoryEntry(ctx context.Context, entry domain.InventoryLedgerEntry) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO inventory_ledger (id, product_id, location_id, quantity, transaction_type, reference_id, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.ProductID, entry.LocationID, entry.Quantity, string(entry.TransactionType),
		nullIfEmpty(entry.ReferenceID), nullIfEmpty(entry.Notes), entry.CreatedAt)
	return err
}

func (t *pgTx) SumInventory(ctx context.Context, productID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM inventory_ledger
		WHERE product_id = $1
	`, productID).Scan(&total)
	return total, err
}

func (t *pgTx) SumInventoryAt(ctx context.Context, productID string, locationID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM inventory_ledger
		WHERE product_id = $1 AND location_id = $2
	`, productID, locationID).Scan(&total)
	return total, err
}

func (t *pgTx) SumInventoryByLocation(ctx context.Context, productID string) ([]domain.LocationStock, error) {
	return sumInventoryByLocation(ctx, t.q, productID)
}

func (t *pgTx) SetCachedStock(ctx context.Context, productID string, qty decimal.Decimal) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO product_prices (product_id, stock_quantity)
		VALUES ($1, $2)
		ON CONFLICT (product_id)
		DO UPDATE SET stock_quantity = EXCLUDED.stock_quantity
	`, productID, qty)
	return err
}

func (t *pgTx) LockSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return getSession(ctx, t.q, sessionID, true)
}

func (t *pgTx) SnapshotCart(ctx context.Context, sessionID string) ([]domain.CartLine, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT ci.id, ci.session_id, ci.product_id, ci.quantity, ci.options, ci.created_at, ci.updated_at,
			COALESCE(pp.purchase_price, 0), COALESCE(pp.store_price, 0),
			COALESCE(pp.public_price, 0), COALESCE(pp.published_price, 0)
		FROM cart_items ci
		LEFT JOIN product_prices pp ON pp.product_id = ci.product_id
		WHERE ci.session_id = $1
		ORDER BY ci.created_at ASC, ci.id ASC
		FOR UPDATE OF ci
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.CartLine, 0, 16)
	for rows.Next() {
		var line domain.CartLine
		var rawOptions []byte
		if err := rows.Scan(
			&line.ID, &line.SessionID, &line.ProductID, &line.Quantity, &rawOptions, &line.CreatedAt, &line.UpdatedAt,
			&line.Prices.PurchasePrice, &line.Prices.StorePrice, &line.Prices.PublicPrice, &line.Prices.PublishedPrice,
		); err != nil {
			return nil, err
		}
		if line.Options, err = decodeOptions(rawOptions); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (t *pgTx) ClearCart(ctx context.Context, sessionID string) (int, error) {
	res, err := t.q.ExecContext(ctx, `DELETE FROM cart_items WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (t *pgTx) CreateOrder(ctx context.Context, order domain.Order) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO orders (
			id, session_id, location_id, total_amount, received_amount, payment_method,
			status, payment_status, delivery_status, created_at, updated_at, completed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, order.ID, order.SessionID, order.LocationID, order.TotalAmount, order.ReceivedAmount, order.PaymentMethod,
		order.Status, order.PaymentStatus, order.DeliveryStatus, order.CreatedAt, order.UpdatedAt, nullTime(order.CompletedAt))
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (t *pgTx) CreateOrderItem(ctx context.Context, item domain.OrderItem) error {
	options, err := encodeOptions(item.Options)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO order_items (
			id, order_id, product_id, quantity, options,
			purchase_price, store_price, public_price, published_price, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, item.ID, item.OrderID, item.ProductID, item.Quantity, options,
		item.PurchasePrice, item.StorePrice, item.PublicPrice, item.PublishedPrice, item.CreatedAt)
	if isForeignKeyViolation(err) {
		return store.ErrOrderNotFound
	}
	return err
}

func (t *pgTx) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return getOrder(ctx, t.q, orderID)
}

func (t *pgTx) AppendFinancialEntry(ctx context.Context, entry domain.FinancialLedgerEntry) error {
	if !xid.Valid(entry.SessionID) {
		return store.ErrSessionNotFound
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO financial_ledger (id, session_id, order_id, type, concept, amount, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.SessionID, nullIfEmpty(entry.OrderID), string(entry.Type), string(entry.Concept),
		entry.Amount, nullIfEmpty(entry.Description), entry.CreatedAt)
	if isForeignKeyViolation(err) {
		return store.ErrSessionNotFound
	}
	return err
}
