package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.OrderDetail, error) {
	detail, err := s.repo.GetOrderDetail(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.OrderDetail{}, err
	}
	return *detail, nil
}

func (s *Service) Balance(ctx context.Context, sessionID string) (domain.Balance, error) {
	return s.finance.Balance(ctx, s.repo, sessionID)
}

// FinanceHistory pages through a session's ledger, newest first. Page is
// 1-based; limit defaults to 10 and is capped at 100.
func (s *Service) FinanceHistory(ctx context.Context, sessionID string, page int, limit int) (domain.FinanceHistory, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.FinanceHistory{}, fmt.Errorf("%w: session_id is required", store.ErrValidation)
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if page > math.MaxInt/limit {
		return domain.FinanceHistory{}, fmt.Errorf("%w: page %d is out of range", store.ErrValidation, page)
	}

	entries, total, err := s.repo.ListFinancialEntries(ctx, sessionID, limit, (page-1)*limit)
	if err != nil {
		return domain.FinanceHistory{}, err
	}
	return domain.FinanceHistory{
		Data: entries,
		Pagination: domain.Pagination{
			Total: total,
			Page:  page,
			Limit: limit,
			Pages: (total + limit - 1) / limit,
		},
	}, nil
}

// RecordFinancialEntry books a manual refund or adjustment.
func (s *Service) RecordFinancialEntry(ctx context.Context, req domain.FinancialEntryRequest) (domain.FinancialLedgerEntry, error) {
	entry := domain.FinancialLedgerEntry{
		ID:          xid.New(),
		SessionID:   strings.TrimSpace(req.SessionID),
		OrderID:     strings.TrimSpace(req.OrderID),
		Type:        domain.EntryType(strings.ToLower(strings.TrimSpace(string(req.Type)))),
		Concept:     domain.EntryConcept(strings.ToLower(strings.TrimSpace(string(req.Concept)))),
		Amount:      req.Amount,
		Description: strings.TrimSpace(req.Description),
		CreatedAt:   time.Now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		_, err := s.finance.Append(ctx, tx, entry)
		return err
	})
	if err != nil {
		return domain.FinancialLedgerEntry{}, err
	}
	s.logAudit(ctx, "financial_entry", "session", entry.SessionID,
		fmt.Sprintf("type=%s concept=%s amount=%s", entry.Type, entry.Concept, entry.Amount.StringFixed(2)))
	return entry, nil
}
