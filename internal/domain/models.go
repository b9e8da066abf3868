package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Decimal places persisted for stock quantities and money amounts.
const (
	QuantityScale int32 = 4
	AmountScale   int32 = 2
)

// FitsScale reports whether d has no significant digits beyond scale
// decimal places. Trailing zeros do not count.
func FitsScale(d decimal.Decimal, scale int32) bool {
	return d.Equal(d.Truncate(scale))
}

type ProductType string

const (
	ProductTypeRawMaterial ProductType = "raw_material"
	ProductTypeFinished    ProductType = "finished"
	ProductTypeDigital     ProductType = "digital"
	ProductTypeService     ProductType = "service"
)

type ProductPrices struct {
	PurchasePrice  decimal.Decimal `json:"purchase_price"`
	StorePrice     decimal.Decimal `json:"store_price"`
	PublicPrice    decimal.Decimal `json:"public_price"`
	PublishedPrice decimal.Decimal `json:"published_price"`
}

// Product is reference data owned by the catalog. The core only reads it,
// except for StockQuantity which is the cached ledger aggregate.
type Product struct {
	ID            string          `json:"id"`
	CategoryID    string          `json:"category_id,omitempty"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	ProductType   ProductType     `json:"product_type"`
	UOMID         string          `json:"uom_id,omitempty"`
	Prices        ProductPrices   `json:"prices"`
	StockQuantity decimal.Decimal `json:"stock_quantity"`
	IsBackorder   bool            `json:"is_backorder"`
}

type UOM struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
}

type LocationType string

const (
	LocationWarehouse LocationType = "warehouse"
	LocationStore     LocationType = "store"
	LocationDisplay   LocationType = "display"
	LocationWaste     LocationType = "waste"
	LocationDigital   LocationType = "digital"
	LocationCedis     LocationType = "cedis"
)

type Location struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Type      LocationType `json:"type"`
	Address   string       `json:"address,omitempty"`
	IsVirtual bool         `json:"is_virtual"`
	CreatedAt time.Time    `json:"created_at"`
}

type TransactionType string

const (
	TxPurchase         TransactionType = "purchase"
	TxSale             TransactionType = "sale"
	TxWaste            TransactionType = "waste"
	TxUsage            TransactionType = "usage"
	TxTransfer         TransactionType = "transfer"
	TxTransferOut      TransactionType = "transfer_out"
	TxTransferIn       TransactionType = "transfer_in"
	TxAdjustment       TransactionType = "adjustment"
	TxProductionUsage  TransactionType = "production_usage"
	TxProductionOutput TransactionType = "production_output"
)

// InventoryLedgerEntry is one immutable stock movement. Quantity is signed:
// positive adds stock at the location, negative removes it.
type InventoryLedgerEntry struct {
	ID              string          `json:"id"`
	ProductID       string          `json:"product_id"`
	LocationID      string          `json:"location_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	TransactionType TransactionType `json:"transaction_type"`
	ReferenceID     string          `json:"reference_id,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type ProductComponent struct {
	ID               string          `json:"id"`
	ParentProductID  string          `json:"parent_product_id"`
	ChildProductID   string          `json:"child_product_id"`
	QuantityRequired decimal.Decimal `json:"quantity_required"`
}

type LocationStock struct {
	LocationID   string          `json:"-"`
	LocationName string          `json:"location_name"`
	LocationType LocationType    `json:"location_type"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	UOM          string          `json:"uom"`
}

type MovementRequest struct {
	ProductID    string          `json:"product_id"`
	LocationID   string          `json:"location_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	Type         TransactionType `json:"type"`
	Notes        string          `json:"notes,omitempty"`
	ToLocationID string          `json:"to_location_id,omitempty"`
}

type MovementResponse struct {
	Message  string   `json:"message"`
	EntryIDs []string `json:"entry_ids"`
}

type ConvertRequest struct {
	ParentProductID   string          `json:"parent_product_id"`
	QuantityToProduce decimal.Decimal `json:"quantity_to_produce"`
	LocationID        string          `json:"location_id"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type InventoryCatalogs struct {
	UOMs      []UOM      `json:"uoms"`
	Locations []Location `json:"locations"`
}

type Session struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	CustomCode string    `json:"custom_code"`
	Origin     string    `json:"origin"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type SessionUpsertRequest struct {
	Type       string `json:"type"`
	CustomCode string `json:"custom_code"`
	Origin     string `json:"origin"`
}

// ItemOption is a single customization on a cart or order line, e.g.
// {"name": "size", "value": "large"}.
type ItemOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type CartItem struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Options   []ItemOption    `json:"options"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CartLine is a cart item joined with the product's current prices, taken
// at checkout time.
type CartLine struct {
	CartItem
	Prices ProductPrices
}

type CartItemView struct {
	CartItemID  string          `json:"cart_item_id"`
	ProductID   string          `json:"product_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Options     []ItemOption    `json:"options"`
	Price       decimal.Decimal `json:"price"`
	CreatedAt   time.Time       `json:"created_at"`
}

type CartItemCreateRequest struct {
	SessionID string           `json:"session_id"`
	ProductID string           `json:"product_id"`
	Quantity  *decimal.Decimal `json:"quantity,omitempty"`
	Options   []ItemOption     `json:"options,omitempty"`
}

type CartItemUpdateRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type CartItemDeleteResponse struct {
	Message string   `json:"message"`
	Deleted CartItem `json:"deleted"`
}

type Order struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	LocationID     string          `json:"location_id"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
	PaymentMethod  string          `json:"payment_method"`
	Status         string          `json:"status"`
	PaymentStatus  string          `json:"payment_status"`
	DeliveryStatus string          `json:"delivery_status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Items          []OrderItem     `json:"-"`
}

// OrderItem freezes the product prices at the moment of sale.
type OrderItem struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	ProductID      string          `json:"product_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	Options        []ItemOption    `json:"options"`
	PurchasePrice  decimal.Decimal `json:"purchase_price"`
	StorePrice     decimal.Decimal `json:"store_price"`
	PublicPrice    decimal.Decimal `json:"public_price"`
	PublishedPrice decimal.Decimal `json:"published_price"`
	CreatedAt      time.Time       `json:"created_at"`
}

type OrderDetail struct {
	Order Order       `json:"order"`
	Items []OrderItem `json:"items"`
}

type CheckoutRequest struct {
	SessionID      string           `json:"session_id"`
	PaymentMethod  string           `json:"payment_method,omitempty"`
	ReceivedAmount *decimal.Decimal `json:"received_amount,omitempty"`
	LocationID     string           `json:"location_id,omitempty"`
}

type CheckoutResponse struct {
	Message string          `json:"message"`
	OrderID string          `json:"order_id"`
	Total   decimal.Decimal `json:"total"`
	Status  string          `json:"status"`
}

type EntryType string

const (
	EntryIncome  EntryType = "income"
	EntryExpense EntryType = "expense"
)

type EntryConcept string

const (
	ConceptSale       EntryConcept = "sale"
	ConceptRefund     EntryConcept = "refund"
	ConceptAdjustment EntryConcept = "adjustment"
)

type FinancialLedgerEntry struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	OrderID     string          `json:"order_id,omitempty"`
	Type        EntryType       `json:"type"`
	Concept     EntryConcept    `json:"concept"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type FinancialEntryRequest struct {
	SessionID   string          `json:"session_id"`
	OrderID     string          `json:"order_id,omitempty"`
	Type        EntryType       `json:"type"`
	Concept     EntryConcept    `json:"concept"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

type Balance struct {
	TotalIncome    decimal.Decimal `json:"total_income"`
	TotalExpense   decimal.Decimal `json:"total_expense"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
}

type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

type FinanceHistory struct {
	Data       []FinancialLedgerEntry `json:"data"`
	Pagination Pagination             `json:"pagination"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	OrderStatusCreated    = "created"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
)

const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusShipped   = "shipped"
	DeliveryStatusDelivered = "delivered"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
