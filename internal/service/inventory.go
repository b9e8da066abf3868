package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"posledger/internal/domain"
	"posledger/internal/inventory"
	"posledger/internal/store"
)

func (s *Service) RecordMovement(ctx context.Context, req domain.MovementRequest) (domain.MovementResponse, error) {
	var ids []string
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		ids, err = s.inventory.RecordMovement(ctx, tx, req)
		return err
	})
	if err != nil {
		return domain.MovementResponse{}, err
	}

	productID := strings.TrimSpace(req.ProductID)
	s.invalidateStock(ctx, productID)
	s.logAudit(ctx, "inventory_movement", "product", productID,
		fmt.Sprintf("type=%s qty=%s location=%s to=%s", req.Type, req.Quantity.String(), req.LocationID, req.ToLocationID))
	return domain.MovementResponse{Message: "movement recorded", EntryIDs: ids}, nil
}

func (s *Service) Convert(ctx context.Context, req domain.ConvertRequest) (domain.MessageResponse, error) {
	var production *inventory.Production
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		production, err = s.inventory.Produce(ctx, tx, req.ParentProductID, req.QuantityToProduce, req.LocationID)
		return err
	})
	if err != nil {
		return domain.MessageResponse{}, err
	}

	s.invalidateStock(ctx, production.Touched...)
	s.logAudit(ctx, "production", "product", req.ParentProductID,
		fmt.Sprintf("qty=%s location=%s batch=%s", req.QuantityToProduce.String(), req.LocationID, production.BatchID))
	return domain.MessageResponse{
		Message: fmt.Sprintf("produced %s units", req.QuantityToProduce.String()),
	}, nil
}

// Stock returns the per-location view of a product, served from the stock
// cache when possible. A view loaded while a movement commits is not cached.
func (s *Service) Stock(ctx context.Context, productID string) ([]domain.LocationStock, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, fmt.Errorf("%w: product_id is required", store.ErrValidation)
	}

	cached, ok, err := s.stockCache.GetLocationStock(ctx, productID)
	if err != nil {
		log.Printf("[service] WARN: stock cache read failed product=%s: %v", productID, err)
	}
	if ok {
		return cached, nil
	}

	generation, genErr := s.stockCache.Generation(ctx, productID)
	if genErr != nil {
		log.Printf("[service] WARN: stock cache generation read failed product=%s: %v", productID, genErr)
	}
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	rows, err := inventory.CurrentStockByLocation(ctx, s.repo, productID)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		return rows, nil
	}
	if err := s.stockCache.SetLocationStock(ctx, productID, generation, rows, s.stockCacheTTL); err != nil {
		log.Printf("[service] WARN: stock cache write failed product=%s: %v", productID, err)
	}
	return rows, nil
}

func (s *Service) Catalogs(ctx context.Context) (domain.InventoryCatalogs, error) {
	uoms, err := s.repo.ListUOMs(ctx)
	if err != nil {
		return domain.InventoryCatalogs{}, err
	}
	locations, err := s.repo.ListLocations(ctx)
	if err != nil {
		return domain.InventoryCatalogs{}, err
	}
	return domain.InventoryCatalogs{UOMs: uoms, Locations: locations}, nil
}
