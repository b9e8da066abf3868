package finance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

// Ledger appends money movements against a session. Amounts are always
// non-negative; direction comes from the entry type.
type Ledger struct {
	currency string
	now      func() time.Time
}

func NewLedger(currency string) *Ledger {
	return &Ledger{
		currency: strings.ToUpper(strings.TrimSpace(currency)),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) Append(ctx context.Context, tx store.Tx, entry domain.FinancialLedgerEntry) (string, error) {
	entry.SessionID = strings.TrimSpace(entry.SessionID)
	entry.OrderID = strings.TrimSpace(entry.OrderID)
	if entry.SessionID == "" {
		return "", fmt.Errorf("%w: session_id is required", store.ErrValidation)
	}
	switch entry.Type {
	case domain.EntryIncome, domain.EntryExpense:
	default:
		return "", fmt.Errorf("%w: entry type must be income or expense", store.ErrValidation)
	}
	switch entry.Concept {
	case domain.ConceptSale, domain.ConceptRefund, domain.ConceptAdjustment:
	default:
		return "", fmt.Errorf("%w: unsupported concept %q", store.ErrValidation, entry.Concept)
	}
	if entry.Amount.IsNegative() {
		return "", fmt.Errorf("%w: amount must not be negative", store.ErrValidation)
	}
	if !domain.FitsScale(entry.Amount, domain.AmountScale) {
		return "", fmt.Errorf("%w: amount allows at most %d decimal places", store.ErrValidation, domain.AmountScale)
	}
	if entry.OrderID != "" {
		if _, err := tx.GetOrder(ctx, entry.OrderID); err != nil {
			return "", err
		}
	}

	if entry.ID == "" {
		entry.ID = xid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	if err := tx.AppendFinancialEntry(ctx, entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

type BalanceSource interface {
	GetBalance(ctx context.Context, sessionID string) (domain.Balance, error)
}

// Balance reports Σincome − Σexpense for the session. A session without
// entries has a zero balance.
func (l *Ledger) Balance(ctx context.Context, src BalanceSource, sessionID string) (domain.Balance, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Balance{}, fmt.Errorf("%w: session_id is required", store.ErrValidation)
	}
	b, err := src.GetBalance(ctx, sessionID)
	if err != nil {
		return domain.Balance{}, err
	}
	b.CurrentBalance = b.TotalIncome.Sub(b.TotalExpense)
	return b, nil
}

func (l *Ledger) SaleDescription(orderID string, total decimal.Decimal) string {
	return fmt.Sprintf("Sale order #%s (%s)", xid.Short(orderID), FormatAmount(total, l.currency))
}
