package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

const maxTxAttempts = 3

type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx so lookups can be shared
// between plain reads and transactional work.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn in a serializable transaction. Serialization failures are
// retried, so fn must not keep side effects outside the transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
		log.Printf("[postgres-store] serialization conflict, retrying (attempt %d/%d)", attempt, maxTxAttempts)
	}
	return fmt.Errorf("%w: transaction kept conflicting: %v", store.ErrConflict, err)
}

func (s *Store) runTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return getProduct(ctx, s.db, productID)
}

func (s *Store) ListLocations(ctx context.Context) ([]domain.Location, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, COALESCE(address, ''), is_virtual, created_at
		FROM locations
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locations := make([]domain.Location, 0, 8)
	for rows.Next() {
		var loc domain.Location
		if err := rows.Scan(&loc.ID, &loc.Name, &loc.Type, &loc.Address, &loc.IsVirtual, &loc.CreatedAt); err != nil {
			return nil, err
		}
		loc.CreatedAt = loc.CreatedAt.UTC()
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return locations, nil
}

func (s *Store) ListUOMs(ctx context.Context) ([]domain.UOM, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, abbreviation
		FROM uoms
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	uoms := make([]domain.UOM, 0, 8)
	for rows.Next() {
		var u domain.UOM
		if err := rows.Scan(&u.ID, &u.Name, &u.Abbreviation); err != nil {
			return nil, err
		}
		uoms = append(uoms, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return uoms, nil
}

func (s *Store) SumInventoryByLocation(ctx context.Context, productID string) ([]domain.LocationStock, error) {
	return sumInventoryByLocation(ctx, s.db, productID)
}

func (s *Store) UpsertSession(ctx context.Context, session domain.Session) (*domain.Session, error) {
	var out domain.Session
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, type, custom_code, origin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (type, custom_code, origin)
		DO UPDATE SET updated_at = now()
		RETURNING id, type, custom_code, origin, created_at, updated_at
	`, xid.New(), session.Type, session.CustomCode, session.Origin).Scan(
		&out.ID, &out.Type, &out.CustomCode, &out.Origin, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	return &out, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return getSession(ctx, s.db, sessionID, false)
}

func (s *Store) CreateCartItem(ctx context.Context, item domain.CartItem) (*domain.CartItem, error) {
	if _, err := getSession(ctx, s.db, item.SessionID, false); err != nil {
		return nil, err
	}
	if _, err := getProduct(ctx, s.db, item.ProductID); err != nil {
		return nil, err
	}
	if item.ID == "" {
		item.ID = xid.New()
	}
	options, err := encodeOptions(item.Options)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO cart_items (id, session_id, product_id, quantity, options, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING id, session_id, product_id, quantity, options, created_at, updated_at
	`, item.ID, item.SessionID, item.ProductID, item.Quantity, options)
	out, err := scanCartItem(row)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return out, nil
}

func (s *Store) ListCartItems(ctx context.Context, sessionID string) ([]domain.CartItemView, error) {
	if !xid.Valid(sessionID) {
		return []domain.CartItemView{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ci.id, ci.product_id, p.name, COALESCE(p.description, ''), ci.quantity, ci.options,
			COALESCE(pp.public_price, 0), ci.created_at
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		LEFT JOIN product_prices pp ON pp.product_id = ci.product_id
		WHERE ci.session_id = $1
		ORDER BY ci.created_at ASC, ci.id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := make([]domain.CartItemView, 0, 16)
	for rows.Next() {
		var v domain.CartItemView
		var rawOptions []byte
		if err := rows.Scan(&v.CartItemID, &v.ProductID, &v.Name, &v.Description, &v.Quantity, &rawOptions, &v.Price, &v.CreatedAt); err != nil {
			return nil, err
		}
		if v.Options, err = decodeOptions(rawOptions); err != nil {
			return nil, err
		}
		v.CreatedAt = v.CreatedAt.UTC()
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return views, nil
}

func (s *Store) UpdateCartItemQuantity(ctx context.Context, itemID string, qty decimal.Decimal) (*domain.CartItem, error) {
	if !xid.Valid(itemID) {
		return nil, store.ErrCartItemNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE cart_items
		SET quantity = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, session_id, product_id, quantity, options, created_at, updated_at
	`, itemID, qty)
	out, err := scanCartItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrCartItemNotFound
	}
	return out, err
}

func (s *Store) DeleteCartItem(ctx context.Context, itemID string) (*domain.CartItem, error) {
	if !xid.Valid(itemID) {
		return nil, store.ErrCartItemNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM cart_items
		WHERE id = $1
		RETURNING id, session_id, product_id, quantity, options, created_at, updated_at
	`, itemID)
	out, err := scanCartItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrCartItemNotFound
	}
	return out, err
}

func (s *Store) GetOrderDetail(ctx context.Context, orderID string) (*domain.OrderDetail, error) {
	order, err := getOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, options,
			purchase_price, store_price, public_price, published_price, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		var item domain.OrderItem
		var rawOptions []byte
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &rawOptions,
			&item.PurchasePrice, &item.StorePrice, &item.PublicPrice, &item.PublishedPrice, &item.CreatedAt,
		); err != nil {
			return nil, err
		}
		if item.Options, err = decodeOptions(rawOptions); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &domain.OrderDetail{Order: *order, Items: items}, nil
}

func (s *Store) GetBalance(ctx context.Context, sessionID string) (domain.Balance, error) {
	var b domain.Balance
	if !xid.Valid(sessionID) {
		return b, nil
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN type = 'income' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN type = 'expense' THEN amount ELSE 0 END), 0)
		FROM financial_ledger
		WHERE session_id = $1
	`, sessionID).Scan(&b.TotalIncome, &b.TotalExpense)
	if err != nil {
		return domain.Balance{}, err
	}
	b.CurrentBalance = b.TotalIncome.Sub(b.TotalExpense)
	return b, nil
}

func (s *Store) ListFinancialEntries(ctx context.Context, sessionID string, limit int, offset int) ([]domain.FinancialLedgerEntry, int, error) {
	if !xid.Valid(sessionID) {
		return []domain.FinancialLedgerEntry{}, 0, nil
	}
	offset = max(offset, 0)
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM financial_ledger WHERE session_id = $1`, sessionID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, order_id, type, concept, amount, COALESCE(description, ''), created_at
		FROM financial_ledger
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]domain.FinancialLedgerEntry, 0, limit)
	for rows.Next() {
		var e domain.FinancialLedgerEntry
		var orderID sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &orderID, &e.Type, &e.Concept, &e.Amount, &e.Description, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.OrderID = orderID.String
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func getProduct(ctx context.Context, q querier, productID string) (*domain.Product, error) {
	if !xid.Valid(productID) {
		return nil, store.ErrProductNotFound
	}
	var p domain.Product
	err := q.QueryRowContext(ctx, `
		SELECT p.id, COALESCE(p.category_id::text, ''), p.name, COALESCE(p.description, ''), p.product_type,
			COALESCE(p.uom_id::text, ''),
			COALESCE(pp.purchase_price, 0), COALESCE(pp.store_price, 0),
			COALESCE(pp.public_price, 0), COALESCE(pp.published_price, 0),
			COALESCE(pp.stock_quantity, 0), COALESCE(pp.is_backorder, false)
		FROM products p
		LEFT JOIN product_prices pp ON pp.product_id = p.id
		WHERE p.id = $1
	`, productID).Scan(
		&p.ID, &p.CategoryID, &p.Name, &p.Description, &p.ProductType, &p.UOMID,
		&p.Prices.PurchasePrice, &p.Prices.StorePrice, &p.Prices.PublicPrice, &p.Prices.PublishedPrice,
		&p.StockQuantity, &p.IsBackorder,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func getSession(ctx context.Context, q querier, sessionID string, forUpdate bool) (*domain.Session, error) {
	if !xid.Valid(sessionID) {
		return nil, store.ErrSessionNotFound
	}
	query := `
		SELECT id, type, custom_code, origin, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var sess domain.Session
	err := q.QueryRowContext(ctx, query, sessionID).Scan(
		&sess.ID, &sess.Type, &sess.CustomCode, &sess.Origin, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.UpdatedAt = sess.UpdatedAt.UTC()
	return &sess, nil
}

func getOrder(ctx context.Context, q querier, orderID string) (*domain.Order, error) {
	if !xid.Valid(orderID) {
		return nil, store.ErrOrderNotFound
	}
	var o domain.Order
	var completedAt sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT id, session_id, location_id, total_amount, received_amount, payment_method,
			status, payment_status, delivery_status, created_at, updated_at, completed_at
		FROM orders
		WHERE id = $1
	`, orderID).Scan(
		&o.ID, &o.SessionID, &o.LocationID, &o.TotalAmount, &o.ReceivedAmount, &o.PaymentMethod,
		&o.Status, &o.PaymentStatus, &o.DeliveryStatus, &o.CreatedAt, &o.UpdatedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		o.CompletedAt = &t
	}
	return &o, nil
}

func sumInventoryByLocation(ctx context.Context, q querier, productID string) ([]domain.LocationStock, error) {
	if !xid.Valid(productID) {
		return []domain.LocationStock{}, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT l.id, l.name, l.type, SUM(il.quantity), COALESCE(u.abbreviation, '')
		FROM inventory_ledger il
		JOIN locations l ON l.id = il.location_id
		JOIN products p ON p.id = il.product_id
		LEFT JOIN uoms u ON u.id = p.uom_id
		WHERE il.product_id = $1
		GROUP BY l.id, l.name, l.type, u.abbreviation
		ORDER BY l.name ASC
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LocationStock, 0, 8)
	for rows.Next() {
		var ls domain.LocationStock
		if err := rows.Scan(&ls.LocationID, &ls.LocationName, &ls.LocationType, &ls.CurrentStock, &ls.UOM); err != nil {
			return nil, err
		}
		out = append(out, ls)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCartItem(row rowScanner) (*domain.CartItem, error) {
	var item domain.CartItem
	var rawOptions []byte
	if err := row.Scan(&item.ID, &item.SessionID, &item.ProductID, &item.Quantity, &rawOptions, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	options, err := decodeOptions(rawOptions)
	if err != nil {
		return nil, err
	}
	item.Options = options
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

func encodeOptions(options []domain.ItemOption) (string, error) {
	if options == nil {
		options = []domain.ItemOption{}
	}
	payload, err := json.Marshal(options)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func decodeOptions(raw []byte) ([]domain.ItemOption, error) {
	options := []domain.ItemOption{}
	if len(raw) == 0 {
		return options, nil
	}
	if err := json.Unmarshal(raw, &options); err != nil {
		return nil, fmt.Errorf("decode item options: %w", err)
	}
	return options, nil
}

func isUniqueViolation(err error) bool {
	return hasCode(err, "23505")
}

func isForeignKeyViolation(err error) bool {
	return hasCode(err, "23503")
}

func isSerializationFailure(err error) bool {
	return hasCode(err, "40001")
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
