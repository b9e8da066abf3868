package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/inventory"
	"posledger/internal/store"
	"posledger/internal/xid"
)

type checkoutState int

const (
	stateStarted checkoutState = iota
	stateCartNonEmpty
	stateSnapshotted
	stateOrderCreated
	stateItemsWritten
	stateInventoryDebited
	stateLedgerCredited
	stateCartCleared
	stateCommitted
)

func (st checkoutState) String() string {
	switch st {
	case stateStarted:
		return "started"
	case stateCartNonEmpty:
		return "cart_non_empty"
	case stateSnapshotted:
		return "snapshotted"
	case stateOrderCreated:
		return "order_created"
	case stateItemsWritten:
		return "items_written"
	case stateInventoryDebited:
		return "inventory_debited"
	case stateLedgerCredited:
		return "ledger_credited"
	case stateCartCleared:
		return "cart_cleared"
	case stateCommitted:
		return "committed"
	default:
		return fmt.Sprintf("state(%d)", int(st))
	}
}

const defaultPaymentMethod = "cash"

// Checkout turns the session's cart into an order in one transaction: the
// order, its price snapshot, the inventory debit, the income entry and the
// cart clear either all commit or none do.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: session_id is required", store.ErrValidation)
	}
	paymentMethod := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if paymentMethod == "" {
		paymentMethod = defaultPaymentMethod
	}
	if req.ReceivedAmount != nil {
		if req.ReceivedAmount.IsNegative() {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: received_amount must not be negative", store.ErrValidation)
		}
		if !domain.FitsScale(*req.ReceivedAmount, domain.AmountScale) {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: received_amount allows at most %d decimal places", store.ErrValidation, domain.AmountScale)
		}
	}

	var (
		resp    domain.CheckoutResponse
		touched []string
		state   checkoutState
	)
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		state = stateStarted
		touched = nil

		if _, err := tx.LockSession(ctx, sessionID); err != nil {
			return err
		}
		lines, err := tx.SnapshotCart(ctx, sessionID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return store.ErrEmptyCart
		}
		state = stateCartNonEmpty

		total := decimal.Zero
		for _, line := range lines {
			total = total.Add(line.Prices.PublicPrice.Mul(line.Quantity))
		}
		total = total.Round(2)
		received := total
		if req.ReceivedAmount != nil {
			received = *req.ReceivedAmount
		}
		state = stateSnapshotted

		location, err := s.resolveSellingLocation(ctx, tx, req.LocationID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		order := domain.Order{
			ID:             xid.New(),
			SessionID:      sessionID,
			LocationID:     location.ID,
			TotalAmount:    total,
			ReceivedAmount: received,
			PaymentMethod:  paymentMethod,
			Status:         domain.OrderStatusCreated,
			PaymentStatus:  domain.PaymentStatusPending,
			DeliveryStatus: domain.DeliveryStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		state = stateOrderCreated

		for _, line := range lines {
			if err := tx.CreateOrderItem(ctx, domain.OrderItem{
				ID:             xid.New(),
				OrderID:        order.ID,
				ProductID:      line.ProductID,
				Quantity:       line.Quantity,
				Options:        line.Options,
				PurchasePrice:  line.Prices.PurchasePrice,
				StorePrice:     line.Prices.StorePrice,
				PublicPrice:    line.Prices.PublicPrice,
				PublishedPrice: line.Prices.PublishedPrice,
				CreatedAt:      now,
			}); err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}
		state = stateItemsWritten

		for _, line := range lines {
			txType, qty, err := inventory.NormalizeQuantity(domain.TxSale, line.Quantity)
			if err != nil {
				return err
			}
			if _, err := s.inventory.Append(ctx, tx, domain.InventoryLedgerEntry{
				ProductID:       line.ProductID,
				LocationID:      location.ID,
				Quantity:        qty,
				TransactionType: txType,
				ReferenceID:     order.ID,
				Notes:           "sale order #" + xid.Short(order.ID),
				CreatedAt:       now,
			}); err != nil {
				return fmt.Errorf("debit inventory for %s: %w", line.ProductID, err)
			}
			touched = append(touched, line.ProductID)
		}
		touched = uniqueIDs(touched)
		for _, productID := range touched {
			if _, err := inventory.Refresh(ctx, tx, productID); err != nil {
				return err
			}
		}
		state = stateInventoryDebited

		if _, err := s.finance.Append(ctx, tx, domain.FinancialLedgerEntry{
			SessionID:   sessionID,
			OrderID:     order.ID,
			Type:        domain.EntryIncome,
			Concept:     domain.ConceptSale,
			Amount:      total,
			Description: s.finance.SaleDescription(order.ID, total),
			CreatedAt:   now,
		}); err != nil {
			return fmt.Errorf("credit ledger: %w", err)
		}
		state = stateLedgerCredited

		if _, err := tx.ClearCart(ctx, sessionID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		state = stateCartCleared

		resp = domain.CheckoutResponse{
			Message: "order created",
			OrderID: order.ID,
			Total:   total,
			Status:  order.Status,
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, store.ErrEmptyCart) {
			log.Printf("[checkout] session=%s rolled back at %s: %v", sessionID, state, err)
		}
		return domain.CheckoutResponse{}, err
	}
	state = stateCommitted

	s.invalidateStock(ctx, touched...)
	s.logAudit(ctx, "checkout", "order", resp.OrderID, fmt.Sprintf("session=%s total=%s state=%s", sessionID, resp.Total.StringFixed(2), state))
	return resp, nil
}

// resolveSellingLocation picks the location a sale is debited from: the
// request's location, then the configured one, then the first store.
func (s *Service) resolveSellingLocation(ctx context.Context, tx store.Tx, requested string) (*domain.Location, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		return tx.GetLocation(ctx, requested)
	}
	if s.sellingLocationID != "" {
		loc, err := tx.GetLocation(ctx, s.sellingLocationID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: selling location %s does not exist", store.ErrConfiguration, s.sellingLocationID)
		}
		return loc, err
	}
	loc, err := tx.FirstLocationByType(ctx, domain.LocationStore)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: no store location configured for sales", store.ErrConfiguration)
	}
	return loc, err
}
