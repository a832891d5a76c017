package service

import (
	"context"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"
	"order-fulfillment/internal/vip"

	"go.uber.org/zap"
)

// EventPublisher emits domain events after a unit of work commits.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatus(ctx context.Context, event *models.OrderStatusEvent) error
	PublishVipTierChanged(ctx context.Context, event *models.VipTierChangedEvent) error
	PublishLowStock(ctx context.Context, event *models.InventoryLowStockEvent) error
}

// InventoryCache is a read model of committed inventory records.
type InventoryCache interface {
	PutInventory(ctx context.Context, rec *models.InventoryRecord) error
	GetInventory(ctx context.Context, productID int64) (*models.InventoryRecord, error)
	EvictInventory(ctx context.Context, productID int64) error
}

type nopPublisher struct{}

func (nopPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error { return nil }
func (nopPublisher) PublishOrderStatus(context.Context, *models.OrderStatusEvent) error { return nil }
func (nopPublisher) PublishVipTierChanged(context.Context, *models.VipTierChangedEvent) error { return nil }
func (nopPublisher) PublishLowStock(context.Context, *models.InventoryLowStockEvent) error { return nil }

type nopCache struct{}

func (nopCache) PutInventory(context.Context, *models.InventoryRecord) error { return nil }
func (nopCache) GetInventory(context.Context, int64) (*models.InventoryRecord, error) {
	return nil, errCacheDisabled
}
func (nopCache) EvictInventory(context.Context, int64) error { return nil }

func (s *OrderFulfillmentSaga) publishOrderCreated(ctx context.Context, order *models.Order) {
	items := make([]models.OrderItemData, 0, len(order.Lines))
	for _, line := range order.Lines {
		items = append(items, models.OrderItemData{
			ProductID:              line.ProductID,
			Quantity:               line.Quantity,
			UnitPrice:              line.UnitPrice,
			ProductDiscountPercent: line.ProductDiscountPercent,
			VipDiscountPercent:     line.VipDiscountPercent,
		})
	}

	event := &models.OrderCreatedEvent{
		OrderID:    order.ID,
		UserID:     order.UserID,
		TotalPrice: order.TotalPrice,
		Items:      items,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish order created event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

func (s *OrderFulfillmentSaga) publishStatus(ctx context.Context, order *models.Order, prev models.OrderStatus) {
	event := &models.OrderStatusEvent{
		OrderID:        order.ID,
		UserID:         order.UserID,
		PreviousStatus: prev,
		Status:         order.Status,
		TotalPrice:     order.TotalPrice,
	}
	if err := s.publisher.PublishOrderStatus(ctx, event); err != nil {
		s.logger.Error("Failed to publish order status event",
			zap.Int64("order_id", order.ID),
			zap.String("status", string(order.Status)),
			zap.Error(err))
	}
}

// reportTierChange logs, counts and publishes a tier change. A nil or
// unchanged result is ignored.
func (s *OrderFulfillmentSaga) reportTierChange(ctx context.Context, change *vip.TierChange) {
	if change == nil || !change.Changed {
		return
	}

	direction := "down"
	if change.Upgraded() {
		direction = "up"
	}
	util.VipTierChangesTotal.WithLabelValues(direction).Inc()

	s.logger.Info("VIP tier changed",
		zap.Int64("user_id", change.UserID),
		zap.Int("previous_tier", change.PreviousTier),
		zap.Int("new_tier", change.NewTier),
		zap.String("total_spending", change.TotalSpending.StringFixed(2)))

	event := &models.VipTierChangedEvent{
		UserID:        change.UserID,
		PreviousTier:  change.PreviousTier,
		NewTier:       change.NewTier,
		TotalSpending: change.TotalSpending,
		Reason:        change.Reason,
	}
	if err := s.publisher.PublishVipTierChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish vip tier event",
			zap.Int64("user_id", change.UserID),
			zap.Error(err))
	}
}

// afterInventoryChange refreshes cached snapshots and raises low stock
// alerts for the records a committed unit of work touched.
func (s *OrderFulfillmentSaga) afterInventoryChange(ctx context.Context, touched map[int64]*models.InventoryRecord) {
	for productID, rec := range touched {
		if err := s.cache.PutInventory(ctx, rec); err != nil {
			s.logger.Warn("Failed to refresh inventory cache",
				zap.Int64("product_id", productID),
				zap.Error(err))
		}

		if !rec.LowStock {
			continue
		}
		util.InventoryLowStockTotal.Inc()
		event := &models.InventoryLowStockEvent{
			ProductID:         productID,
			Available:         rec.Available(),
			LowStockThreshold: rec.LowStockThreshold,
		}
		if err := s.publisher.PublishLowStock(ctx, event); err != nil {
			s.logger.Error("Failed to publish low stock event",
				zap.Int64("product_id", productID),
				zap.Error(err))
		}
	}
}
