package service

import (
	"context"
	"log"
	"strings"
	"time"

	"posledger/internal/cache"
	"posledger/internal/domain"
	"posledger/internal/finance"
	"posledger/internal/inventory"
	"posledger/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	AllowNegativeStock bool
	// SellingLocationID is debited by checkouts that do not name a location.
	SellingLocationID string
	Currency          string
	StockCacheTTL     time.Duration
}

type Service struct {
	repo              store.Repository
	stockCache        cache.StockCache
	inventory         *inventory.Ledger
	finance           *finance.Ledger
	sellingLocationID string
	stockCacheTTL     time.Duration
}

func New(repo store.Repository, stockCache cache.StockCache, opts Options) *Service {
	if stockCache == nil {
		stockCache = cache.NoopStockCache{}
	}
	if opts.StockCacheTTL <= 0 {
		opts.StockCacheTTL = time.Minute
	}
	if strings.TrimSpace(opts.Currency) == "" {
		opts.Currency = "MXN"
	}

	return &Service{
		repo:              repo,
		stockCache:        stockCache,
		inventory:         inventory.NewLedger(inventory.Policy{AllowNegativeStock: opts.AllowNegativeStock}),
		finance:           finance.NewLedger(opts.Currency),
		sellingLocationID: strings.TrimSpace(opts.SellingLocationID),
		stockCacheTTL:     opts.StockCacheTTL,
	}
}

// invalidateStock drops cached stock views after a commit. A failure only
// leaves a stale view until its TTL expires.
func (s *Service) invalidateStock(ctx context.Context, productIDs ...string) {
	if len(productIDs) == 0 {
		return
	}
	if err := s.stockCache.Invalidate(ctx, productIDs...); err != nil {
		log.Printf("[service] WARN: failed to invalidate stock cache products=%v: %v", productIDs, err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	log.Printf("[audit] actor=%s role=%s action=%s entity=%s/%s %s", actor.Username, actor.Role, action, entityType, entityID, detail)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
