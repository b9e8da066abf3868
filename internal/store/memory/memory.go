package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

// Store keeps every relation in process memory. Writers are serialized by
// mu; WithTx works on a cloned state and swaps it in only on success.
type Store struct {
	mu    sync.RWMutex
	state *state
	now   func() time.Time
}

type sessionKey struct {
	kind       string
	customCode string
	origin     string
}

type state struct {
	products      map[string]domain.Product
	uoms          []domain.UOM
	locations     []domain.Location
	components    map[string][]domain.ProductComponent
	inventory     []domain.InventoryLedgerEntry
	sessionsByID  map[string]domain.Session
	sessionsByKey map[sessionKey]string
	cartByID      map[string]domain.CartItem
	cartOrder     []string
	ordersByID    map[string]domain.Order
	orderItems    map[string][]domain.OrderItem
	finance       []domain.FinancialLedgerEntry
	users         map[string]domain.UserAccount
}

func newState() *state {
	return &state{
		products:      make(map[string]domain.Product),
		components:    make(map[string][]domain.ProductComponent),
		sessionsByID:  make(map[string]domain.Session),
		sessionsByKey: make(map[sessionKey]string),
		cartByID:      make(map[string]domain.CartItem),
		ordersByID:    make(map[string]domain.Order),
		orderItems:    make(map[string][]domain.OrderItem),
		users:         make(map[string]domain.UserAccount),
	}
}

func (s *state) clone() *state {
	out := &state{
		products:      make(map[string]domain.Product, len(s.products)),
		uoms:          slices.Clone(s.uoms),
		locations:     slices.Clone(s.locations),
		components:    make(map[string][]domain.ProductComponent, len(s.components)),
		inventory:     slices.Clone(s.inventory),
		sessionsByID:  make(map[string]domain.Session, len(s.sessionsByID)),
		sessionsByKey: make(map[sessionKey]string, len(s.sessionsByKey)),
		cartByID:      make(map[string]domain.CartItem, len(s.cartByID)),
		cartOrder:     slices.Clone(s.cartOrder),
		ordersByID:    make(map[string]domain.Order, len(s.ordersByID)),
		orderItems:    make(map[string][]domain.OrderItem, len(s.orderItems)),
		finance:       slices.Clone(s.finance),
		users:         make(map[string]domain.UserAccount, len(s.users)),
	}
	for k, v := range s.products {
		out.products[k] = v
	}
	for k, v := range s.components {
		out.components[k] = slices.Clone(v)
	}
	for k, v := range s.sessionsByID {
		out.sessionsByID[k] = v
	}
	for k, v := range s.sessionsByKey {
		out.sessionsByKey[k] = v
	}
	for k, v := range s.cartByID {
		out.cartByID[k] = cloneCartItem(v)
	}
	for k, v := range s.ordersByID {
		out.ordersByID[k] = v
	}
	for k, v := range s.orderItems {
		out.orderItems[k] = slices.Clone(v)
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	return out
}

func New() *Store {
	return &Store{state: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, dev defaults are used with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with the default location and UOM catalog, a
// small burger recipe, opening warehouse stock and dev users.
func NewSeeded() *Store {
	s := New()
	s.state.users = seedUsers()

	uomIDs := map[string]string{}
	for _, u := range store.DefaultUOMs() {
		u.ID = xid.New()
		uomIDs[u.Abbreviation] = u.ID
		s.PutUOM(u)
	}
	var warehouseID string
	for _, loc := range store.DefaultLocations() {
		loc.ID = xid.New()
		if loc.Type == domain.LocationWarehouse {
			warehouseID = loc.ID
		}
		s.PutLocation(loc)
	}

	burger := domain.Product{
		ID: xid.New(), Name: "Classic Burger", ProductType: domain.ProductTypeFinished, UOMID: uomIDs["pz"],
		Prices: prices("48.00", "150.00", "150.00", "155.00"),
	}
	patty := domain.Product{
		ID: xid.New(), Name: "Beef Patty", ProductType: domain.ProductTypeRawMaterial, UOMID: uomIDs["kg"],
		Prices: prices("180.00", "0", "0", "0"),
	}
	bun := domain.Product{
		ID: xid.New(), Name: "Burger Bun", ProductType: domain.ProductTypeRawMaterial, UOMID: uomIDs["pz"],
		Prices: prices("6.50", "0", "0", "0"),
	}
	soda := domain.Product{
		ID: xid.New(), Name: "Soda Can", ProductType: domain.ProductTypeFinished, UOMID: uomIDs["pz"],
		Prices: prices("9.00", "25.00", "25.00", "27.00"),
	}
	for _, p := range []domain.Product{burger, patty, bun, soda} {
		s.PutProduct(p)
	}
	s.PutComponent(domain.ProductComponent{ParentProductID: burger.ID, ChildProductID: patty.ID, QuantityRequired: decimal.RequireFromString("0.150")})
	s.PutComponent(domain.ProductComponent{ParentProductID: burger.ID, ChildProductID: bun.ID, QuantityRequired: decimal.NewFromInt(1)})

	opening := []struct {
		productID string
		qty       string
	}{
		{patty.ID, "20.000"},
		{bun.ID, "120"},
		{soda.ID, "96"},
	}
	for _, o := range opening {
		qty := decimal.RequireFromString(o.qty)
		s.state.inventory = append(s.state.inventory, domain.InventoryLedgerEntry{
			ID:              xid.New(),
			ProductID:       o.productID,
			LocationID:      warehouseID,
			Quantity:        qty,
			TransactionType: domain.TxPurchase,
			Notes:           "opening stock",
			CreatedAt:       s.now(),
		})
		p := s.state.products[o.productID]
		p.StockQuantity = qty
		s.state.products[o.productID] = p
	}
	return s
}

func prices(purchase, storePrice, public, published string) domain.ProductPrices {
	return domain.ProductPrices{
		PurchasePrice:  decimal.RequireFromString(purchase),
		StorePrice:     decimal.RequireFromString(storePrice),
		PublicPrice:    decimal.RequireFromString(public),
		PublishedPrice: decimal.RequireFromString(published),
	}
}

// PutProduct inserts or replaces catalog reference data. The catalog is
// owned outside the core, so this exists for seeding and tests.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = xid.New()
	}
	s.state.products[p.ID] = p
}

func (s *Store) PutLocation(loc domain.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loc.ID == "" {
		loc.ID = xid.New()
	}
	if loc.CreatedAt.IsZero() {
		loc.CreatedAt = s.now()
	}
	s.state.locations = slices.DeleteFunc(s.state.locations, func(l domain.Location) bool { return l.ID == loc.ID })
	s.state.locations = append(s.state.locations, loc)
}

func (s *Store) PutUOM(u domain.UOM) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = xid.New()
	}
	s.state.uoms = append(s.state.uoms, u)
}

func (s *Store) PutComponent(c domain.ProductComponent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = xid.New()
	}
	s.state.components[c.ParentProductID] = append(s.state.components[c.ParentProductID], c)
}

// InventoryEntries returns a copy of the raw ledger for one product.
func (s *Store) InventoryEntries(productID string) []domain.InventoryLedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.InventoryLedgerEntry, 0)
	for _, e := range s.state.inventory {
		if e.ProductID == productID {
			out = append(out, e)
		}
	}
	return out
}

// CountOrders reports how many orders exist for a session.
func (s *Store) CountOrders(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, o := range s.state.ordersByID {
		if o.SessionID == sessionID {
			n++
		}
	}
	return n
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(&memTx{st: staged, now: s.now}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{st: s.state, now: s.now}).GetProduct(ctx, productID)
}

func (s *Store) ListLocations(_ context.Context) ([]domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Clone(s.state.locations)
	slices.SortStableFunc(out, func(a, b domain.Location) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *Store) ListUOMs(_ context.Context) ([]domain.UOM, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Clone(s.state.uoms)
	slices.SortStableFunc(out, func(a, b domain.UOM) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *Store) SumInventoryByLocation(ctx context.Context, productID string) ([]domain.LocationStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{st: s.state, now: s.now}).SumInventoryByLocation(ctx, productID)
}

func (s *Store) UpsertSession(_ context.Context, session domain.Session) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{kind: session.Type, customCode: session.CustomCode, origin: session.Origin}
	now := s.now()
	if id, ok := s.state.sessionsByKey[key]; ok {
		existing := s.state.sessionsByID[id]
		existing.UpdatedAt = now
		s.state.sessionsByID[id] = existing
		return &existing, nil
	}

	session.ID = xid.New()
	session.CreatedAt = now
	session.UpdatedAt = now
	s.state.sessionsByID[session.ID] = session
	s.state.sessionsByKey[key] = session.ID
	return &session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{st: s.state, now: s.now}).GetSession(ctx, sessionID)
}

func (s *Store) CreateCartItem(_ context.Context, item domain.CartItem) (*domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.sessionsByID[item.SessionID]; !ok {
		return nil, store.ErrSessionNotFound
	}
	if _, ok := s.state.products[item.ProductID]; !ok {
		return nil, store.ErrProductNotFound
	}
	if item.ID == "" {
		item.ID = xid.New()
	}
	now := s.now()
	item.CreatedAt = now
	item.UpdatedAt = now
	item = cloneCartItem(item)
	s.state.cartByID[item.ID] = item
	s.state.cartOrder = append(s.state.cartOrder, item.ID)
	out := cloneCartItem(item)
	return &out, nil
}

func (s *Store) ListCartItems(_ context.Context, sessionID string) ([]domain.CartItemView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CartItemView, 0)
	for _, id := range s.state.cartOrder {
		item := s.state.cartByID[id]
		if item.SessionID != sessionID {
			continue
		}
		product := s.state.products[item.ProductID]
		out = append(out, domain.CartItemView{
			CartItemID:  item.ID,
			ProductID:   item.ProductID,
			Name:        product.Name,
			Description: product.Description,
			Quantity:    item.Quantity,
			Options:     slices.Clone(item.Options),
			Price:       product.Prices.PublicPrice,
			CreatedAt:   item.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) UpdateCartItemQuantity(_ context.Context, itemID string, qty decimal.Decimal) (*domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.state.cartByID[itemID]
	if !ok {
		return nil, store.ErrCartItemNotFound
	}
	item.Quantity = qty
	item.UpdatedAt = s.now()
	s.state.cartByID[itemID] = item
	out := cloneCartItem(item)
	return &out, nil
}

func (s *Store) DeleteCartItem(_ context.Context, itemID string) (*domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.state.cartByID[itemID]
	if !ok {
		return nil, store.ErrCartItemNotFound
	}
	delete(s.state.cartByID, itemID)
	s.state.cartOrder = slices.DeleteFunc(s.state.cartOrder, func(id string) bool { return id == itemID })
	return &item, nil
}

func (s *Store) GetOrderDetail(ctx context.Context, orderID string) (*domain.OrderDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, err := (&memTx{st: s.state, now: s.now}).GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items := slices.Clone(s.state.orderItems[orderID])
	if items == nil {
		items = []domain.OrderItem{}
	}
	return &domain.OrderDetail{Order: *order, Items: items}, nil
}

func (s *Store) GetBalance(_ context.Context, sessionID string) (domain.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	income := decimal.Zero
	expense := decimal.Zero
	for _, e := range s.state.finance {
		if e.SessionID != sessionID {
			continue
		}
		switch e.Type {
		case domain.EntryIncome:
			income = income.Add(e.Amount)
		case domain.EntryExpense:
			expense = expense.Add(e.Amount)
		}
	}
	return domain.Balance{TotalIncome: income, TotalExpense: expense, CurrentBalance: income.Sub(expense)}, nil
}

func (s *Store) ListFinancialEntries(_ context.Context, sessionID string, limit int, offset int) ([]domain.FinancialLedgerEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.FinancialLedgerEntry, 0)
	for i := len(s.state.finance) - 1; i >= 0; i-- {
		if s.state.finance[i].SessionID == sessionID {
			matched = append(matched, s.state.finance[i])
		}
	}
	total := len(matched)
	offset = max(offset, 0)
	if offset >= total {
		return []domain.FinancialLedgerEntry{}, total, nil
	}
	end := min(offset+limit, total)
	return matched[offset:end], total, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if _, exists := s.state.users[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	user.Active = true
	s.state.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.state.users))
	for _, user := range s.state.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}
	user, exists := s.state.users[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.state.users[username] = user
	return nil
}

func cloneCartItem(src domain.CartItem) domain.CartItem {
	out := src
	out.Options = slices.Clone(src.Options)
	return out
}
