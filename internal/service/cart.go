package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/store"
)

const (
	maxItemOptions       = 32
	maxOptionNameLength  = 64
	maxOptionValueLength = 256
)

func (s *Service) AddCartItem(ctx context.Context, req domain.CartItemCreateRequest) (domain.CartItem, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.SessionID == "" || req.ProductID == "" {
		return domain.CartItem{}, fmt.Errorf("%w: session_id and product_id are required", store.ErrValidation)
	}

	qty := decimal.NewFromInt(1)
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	if err := checkCartQuantity(qty); err != nil {
		return domain.CartItem{}, err
	}
	options, err := normalizeOptions(req.Options)
	if err != nil {
		return domain.CartItem{}, err
	}

	item, err := s.repo.CreateCartItem(ctx, domain.CartItem{
		SessionID: req.SessionID,
		ProductID: req.ProductID,
		Quantity:  qty,
		Options:   options,
	})
	if err != nil {
		return domain.CartItem{}, err
	}
	return *item, nil
}

func (s *Service) ListCart(ctx context.Context, sessionID string) ([]domain.CartItemView, error) {
	sessionID = strings.TrimSpace(sessionID)
	if _, err := s.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListCartItems(ctx, sessionID)
}

func (s *Service) UpdateCartItem(ctx context.Context, itemID string, req domain.CartItemUpdateRequest) (domain.CartItem, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.CartItem{}, fmt.Errorf("%w: cart item id is required", store.ErrValidation)
	}
	if err := checkCartQuantity(req.Quantity); err != nil {
		return domain.CartItem{}, err
	}
	item, err := s.repo.UpdateCartItemQuantity(ctx, itemID, req.Quantity)
	if err != nil {
		return domain.CartItem{}, err
	}
	return *item, nil
}

func (s *Service) RemoveCartItem(ctx context.Context, itemID string) (domain.CartItemDeleteResponse, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.CartItemDeleteResponse{}, fmt.Errorf("%w: cart item id is required", store.ErrValidation)
	}
	item, err := s.repo.DeleteCartItem(ctx, itemID)
	if err != nil {
		return domain.CartItemDeleteResponse{}, err
	}
	return domain.CartItemDeleteResponse{Message: "item removed from cart", Deleted: *item}, nil
}

func checkCartQuantity(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}
	if !domain.FitsScale(qty, domain.QuantityScale) {
		return fmt.Errorf("%w: quantity allows at most %d decimal places", store.ErrValidation, domain.QuantityScale)
	}
	return nil
}

// normalizeOptions trims option names and rejects empty, duplicated or
// oversized entries. A nil input yields an empty list.
func normalizeOptions(options []domain.ItemOption) ([]domain.ItemOption, error) {
	if len(options) > maxItemOptions {
		return nil, fmt.Errorf("%w: at most %d options per item", store.ErrValidation, maxItemOptions)
	}
	out := make([]domain.ItemOption, 0, len(options))
	seen := make(map[string]struct{}, len(options))
	for _, opt := range options {
		name := strings.TrimSpace(opt.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: option name is required", store.ErrValidation)
		}
		if utf8.RuneCountInString(name) > maxOptionNameLength {
			return nil, fmt.Errorf("%w: option name %q is too long", store.ErrValidation, name)
		}
		if utf8.RuneCountInString(opt.Value) > maxOptionValueLength {
			return nil, fmt.Errorf("%w: option %q value is too long", store.ErrValidation, name)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate option %q", store.ErrValidation, name)
		}
		seen[key] = struct{}{}
		out = append(out, domain.ItemOption{Name: name, Value: opt.Value})
	}
	return out, nil
}
