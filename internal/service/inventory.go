package service

import (
	"context"
	"errors"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/inventory"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/store"
	"order-fulfillment/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var errCacheDisabled = errors.New("inventory cache disabled")

// AdjustInventory applies a manual stock correction.
func (s *OrderFulfillmentSaga) AdjustInventory(ctx context.Context, productID int64, delta int, reason string) (rec *models.InventoryRecord, err error) {
	ctx, span := util.StartSpan(ctx, "OrderFulfillmentSaga.AdjustInventory",
		attribute.Int64("product.id", productID),
		attribute.Int("inventory.delta", delta))
	defer func() { util.EndSpan(span, err) }()

	err = s.uow.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		ledger := inventory.NewLedger(repos.Inventory(), s.now)
		updated, err := ledger.Adjust(ctx, productID, delta, reason)
		if err != nil {
			return err
		}
		rec = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Inventory adjusted",
		zap.Int64("product_id", productID),
		zap.Int("delta", delta),
		zap.String("reason", reason),
		zap.Int("available", rec.Available()))
	s.afterInventoryChange(ctx, map[int64]*models.InventoryRecord{productID: rec})
	return rec, nil
}

// GetInventory serves the cached snapshot when present, otherwise loads
// the record and caches it.
func (s *OrderFulfillmentSaga) GetInventory(ctx context.Context, productID int64) (*models.InventoryRecord, error) {
	cached, err := s.cache.GetInventory(ctx, productID)
	if err == nil {
		return cached, nil
	}

	var rec *models.InventoryRecord
	err = s.uow.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		r, err := repos.Inventory().GetByProductID(ctx, productID)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.cache.PutInventory(ctx, rec); err != nil {
		s.logger.Warn("Failed to cache inventory", zap.Int64("product_id", productID), zap.Error(err))
	}
	return rec, nil
}

// RetireProduct soft-deletes a product's inventory record. Products that
// any order line references cannot be retired.
func (s *OrderFulfillmentSaga) RetireProduct(ctx context.Context, productID int64) (err error) {
	ctx, span := util.StartSpan(ctx, "OrderFulfillmentSaga.RetireProduct", attribute.Int64("product.id", productID))
	defer func() { util.EndSpan(span, err) }()

	err = s.uow.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		if _, err := repos.Inventory().GetByProductID(ctx, productID); err != nil {
			return err
		}
		referenced, err := repos.Orders().HasLinesForProduct(ctx, productID)
		if err != nil {
			return err
		}
		if referenced {
			return apperr.Newf(apperr.CodeConflict, "product %d is referenced by order lines", productID).
				WithDetails(map[string]interface{}{"product_id": productID})
		}
		return repos.Inventory().SoftDelete(ctx, productID, s.now())
	})
	if err != nil {
		return err
	}

	if err := s.cache.EvictInventory(ctx, productID); err != nil {
		s.logger.Warn("Failed to evict inventory cache", zap.Int64("product_id", productID), zap.Error(err))
	}
	s.logger.Info("Product retired", zap.Int64("product_id", productID))
	return nil
}
