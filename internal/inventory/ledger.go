package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

type Policy struct {
	// AllowNegativeStock lets a debit take a (product, location) balance
	// below zero. Back-ordered goods rely on this.
	AllowNegativeStock bool
}

// Ledger appends stock movements. It holds no state besides its policy;
// every call works inside the caller's transaction.
type Ledger struct {
	policy Policy
	now    func() time.Time
}

func NewLedger(policy Policy) *Ledger {
	return &Ledger{policy: policy, now: func() time.Time { return time.Now().UTC() }}
}

// Append writes one entry as given. Quantities are stored with the sign the
// caller provides; use NormalizeQuantity at the boundary.
func (l *Ledger) Append(ctx context.Context, tx store.Tx, entry domain.InventoryLedgerEntry) (string, error) {
	if !storedType(entry.TransactionType) {
		return "", fmt.Errorf("%w: unsupported transaction type %q", store.ErrValidation, entry.TransactionType)
	}
	if err := checkQuantity("quantity", entry.Quantity); err != nil {
		return "", err
	}
	if _, err := tx.GetProduct(ctx, entry.ProductID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: unknown product %q", store.ErrValidation, entry.ProductID)
		}
		return "", err
	}
	if _, err := tx.GetLocation(ctx, entry.LocationID); err != nil {
		return "", err
	}

	if !l.policy.AllowNegativeStock && entry.Quantity.IsNegative() {
		current, err := tx.SumInventoryAt(ctx, entry.ProductID, entry.LocationID)
		if err != nil {
			return "", err
		}
		if current.Add(entry.Quantity).IsNegative() {
			return "", fmt.Errorf("%w: product %s has %s at location %s, need %s",
				store.ErrInsufficientStock, entry.ProductID, current.String(), entry.LocationID, entry.Quantity.Neg().String())
		}
	}

	if entry.ID == "" {
		entry.ID = xid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	if err := tx.AppendInventoryEntry(ctx, entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// NormalizeQuantity applies the sign convention of a movement type to a
// caller supplied quantity. "usage" is recorded as production_usage.
// Transfers are two-legged and handled by RecordMovement.
func NormalizeQuantity(txType domain.TransactionType, qty decimal.Decimal) (domain.TransactionType, decimal.Decimal, error) {
	switch txType {
	case domain.TxPurchase, domain.TxTransferIn, domain.TxProductionOutput, domain.TxAdjustment:
		return txType, qty.Abs(), nil
	case domain.TxSale, domain.TxWaste, domain.TxTransferOut, domain.TxProductionUsage:
		return txType, qty.Abs().Neg(), nil
	case domain.TxUsage:
		return domain.TxProductionUsage, qty.Abs().Neg(), nil
	default:
		return "", decimal.Zero, fmt.Errorf("%w: unsupported movement type %q", store.ErrValidation, txType)
	}
}

func checkQuantity(field string, qty decimal.Decimal) error {
	if !domain.FitsScale(qty, domain.QuantityScale) {
		return fmt.Errorf("%w: %s allows at most %d decimal places", store.ErrValidation, field, domain.QuantityScale)
	}
	return nil
}

func storedType(t domain.TransactionType) bool {
	switch t {
	case domain.TxPurchase, domain.TxSale, domain.TxWaste, domain.TxTransferOut, domain.TxTransferIn,
		domain.TxAdjustment, domain.TxProductionUsage, domain.TxProductionOutput:
		return true
	default:
		return false
	}
}

// RecordMovement writes a single normalized entry, or the balanced pair of
// a transfer, then refreshes the product's cached stock. It returns the ids
// of the written entries.
func (l *Ledger) RecordMovement(ctx context.Context, tx store.Tx, req domain.MovementRequest) ([]string, error) {
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.LocationID = strings.TrimSpace(req.LocationID)
	req.ToLocationID = strings.TrimSpace(req.ToLocationID)
	req.Type = domain.TransactionType(strings.ToLower(strings.TrimSpace(string(req.Type))))

	if req.ProductID == "" || req.LocationID == "" {
		return nil, fmt.Errorf("%w: product_id and location_id are required", store.ErrValidation)
	}
	if req.Quantity.IsZero() {
		return nil, fmt.Errorf("%w: quantity must not be zero", store.ErrValidation)
	}
	if err := checkQuantity("quantity", req.Quantity); err != nil {
		return nil, err
	}
	if _, err := tx.GetProduct(ctx, req.ProductID); err != nil {
		return nil, err
	}

	var ids []string
	if req.Type == domain.TxTransfer {
		if req.ToLocationID == "" {
			return nil, fmt.Errorf("%w: transfer requires to_location_id", store.ErrValidation)
		}
		if req.ToLocationID == req.LocationID {
			return nil, fmt.Errorf("%w: transfer source and destination must differ", store.ErrValidation)
		}
		qty := req.Quantity.Abs()
		transferID := xid.New()
		outNotes, inNotes := req.Notes, req.Notes
		if strings.TrimSpace(req.Notes) == "" {
			outNotes = "transfer to " + req.ToLocationID
			inNotes = "transfer from " + req.LocationID
		}
		legs := []domain.InventoryLedgerEntry{
			{ProductID: req.ProductID, LocationID: req.LocationID, Quantity: qty.Neg(), TransactionType: domain.TxTransferOut, ReferenceID: transferID, Notes: outNotes},
			{ProductID: req.ProductID, LocationID: req.ToLocationID, Quantity: qty, TransactionType: domain.TxTransferIn, ReferenceID: transferID, Notes: inNotes},
		}
		for _, leg := range legs {
			id, err := l.Append(ctx, tx, leg)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	} else {
		txType, qty, err := NormalizeQuantity(req.Type, req.Quantity)
		if err != nil {
			return nil, err
		}
		id, err := l.Append(ctx, tx, domain.InventoryLedgerEntry{
			ProductID:       req.ProductID,
			LocationID:      req.LocationID,
			Quantity:        qty,
			TransactionType: txType,
			Notes:           req.Notes,
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if _, err := Refresh(ctx, tx, req.ProductID); err != nil {
		return nil, err
	}
	return ids, nil
}

type Production struct {
	BatchID string
	// Touched lists every product whose stock changed, parent last.
	Touched []string
}

// Produce consumes the bill of materials of parentID for qty units at
// locationID and credits qty units of the parent.
func (l *Ledger) Produce(ctx context.Context, tx store.Tx, parentID string, qty decimal.Decimal, locationID string) (*Production, error) {
	parentID = strings.TrimSpace(parentID)
	locationID = strings.TrimSpace(locationID)
	if parentID == "" || locationID == "" {
		return nil, fmt.Errorf("%w: parent_product_id and location_id are required", store.ErrValidation)
	}
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: quantity_to_produce must be positive", store.ErrValidation)
	}
	if err := checkQuantity("quantity_to_produce", qty); err != nil {
		return nil, err
	}
	if _, err := tx.GetProduct(ctx, parentID); err != nil {
		return nil, err
	}

	components, err := tx.ListComponents(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if len(components) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrNoRecipe, parentID)
	}

	out := &Production{BatchID: xid.New()}
	for _, c := range components {
		needed := c.QuantityRequired.Mul(qty)
		if !domain.FitsScale(needed, domain.QuantityScale) {
			return nil, fmt.Errorf("%w: component %s needs %s, more than %d decimal places",
				store.ErrValidation, c.ChildProductID, needed.String(), domain.QuantityScale)
		}
		if _, err := l.Append(ctx, tx, domain.InventoryLedgerEntry{
			ProductID:       c.ChildProductID,
			LocationID:      locationID,
			Quantity:        needed.Neg(),
			TransactionType: domain.TxProductionUsage,
			ReferenceID:     out.BatchID,
			Notes:           fmt.Sprintf("usage for %s of %s", qty.String(), parentID),
		}); err != nil {
			return nil, fmt.Errorf("debit component %s: %w", c.ChildProductID, err)
		}
		if _, err := Refresh(ctx, tx, c.ChildProductID); err != nil {
			return nil, err
		}
		out.Touched = append(out.Touched, c.ChildProductID)
	}

	if _, err := l.Append(ctx, tx, domain.InventoryLedgerEntry{
		ProductID:       parentID,
		LocationID:      locationID,
		Quantity:        qty,
		TransactionType: domain.TxProductionOutput,
		ReferenceID:     out.BatchID,
		Notes:           "production finished",
	}); err != nil {
		return nil, err
	}
	if _, err := Refresh(ctx, tx, parentID); err != nil {
		return nil, err
	}
	out.Touched = append(out.Touched, parentID)
	return out, nil
}
