package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrNoRecipe          = errors.New("product has no components to produce")
	ErrConflict          = errors.New("conflict")
	ErrConfiguration     = errors.New("configuration error")
	ErrInsufficientStock = errors.New("insufficient stock")

	ErrProductNotFound  = fmt.Errorf("product %w", ErrNotFound)
	ErrLocationNotFound = fmt.Errorf("location %w", ErrNotFound)
	ErrSessionNotFound  = fmt.Errorf("session %w", ErrNotFound)
	ErrOrderNotFound    = fmt.Errorf("order %w", ErrNotFound)
	ErrCartItemNotFound = fmt.Errorf("cart item %w", ErrNotFound)
)

// Kind reports the machine-checkable failure class of err. It returns
// "internal" for errors outside the store taxonomy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrNoRecipe):
		return "no_recipe"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	default:
		return "internal"
	}
}

// Tx is the set of reads and writes available inside one atomic unit of
// work. Nothing written through a Tx is visible to other callers until the
// enclosing WithTx returns nil.
type Tx interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	GetLocation(ctx context.Context, locationID string) (*domain.Location, error)
	FirstLocationByType(ctx context.Context, locationType domain.LocationType) (*domain.Location, error)
	ListComponents(ctx context.Context, parentProductID string) ([]domain.ProductComponent, error)

	AppendInventoryEntry(ctx context.Context, entry domain.InventoryLedgerEntry) error
	SumInventory(ctx context.Context, productID string) (decimal.Decimal, error)
	SumInventoryAt(ctx context.Context, productID string, locationID string) (decimal.Decimal, error)
	SumInventoryByLocation(ctx context.Context, productID string) ([]domain.LocationStock, error)
	SetCachedStock(ctx context.Context, productID string, qty decimal.Decimal) error

	LockSession(ctx context.Context, sessionID string) (*domain.Session, error)
	SnapshotCart(ctx context.Context, sessionID string) ([]domain.CartLine, error)
	ClearCart(ctx context.Context, sessionID string) (int, error)

	CreateOrder(ctx context.Context, order domain.Order) error
	CreateOrderItem(ctx context.Context, item domain.OrderItem) error

	AppendFinancialEntry(ctx context.Context, entry domain.FinancialLedgerEntry) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
}

type Repository interface {
	// WithTx runs fn inside one transaction. Any error returned by fn, or a
	// panic, rolls every write back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	ListLocations(ctx context.Context) ([]domain.Location, error)
	ListUOMs(ctx context.Context) ([]domain.UOM, error)
	SumInventoryByLocation(ctx context.Context, productID string) ([]domain.LocationStock, error)

	UpsertSession(ctx context.Context, session domain.Session) (*domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	CreateCartItem(ctx context.Context, item domain.CartItem) (*domain.CartItem, error)
	ListCartItems(ctx context.Context, sessionID string) ([]domain.CartItemView, error)
	UpdateCartItemQuantity(ctx context.Context, itemID string, qty decimal.Decimal) (*domain.CartItem, error)
	DeleteCartItem(ctx context.Context, itemID string) (*domain.CartItem, error)

	GetOrderDetail(ctx context.Context, orderID string) (*domain.OrderDetail, error)

	GetBalance(ctx context.Context, sessionID string) (domain.Balance, error)
	ListFinancialEntries(ctx context.Context, sessionID string, limit int, offset int) ([]domain.FinancialLedgerEntry, int, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
