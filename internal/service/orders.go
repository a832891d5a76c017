package service

import (
	"context"

	"order-fulfillment/internal/lifecycle"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/store"
	"order-fulfillment/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ShipOrder moves a paid order to Shipped.
func (s *OrderFulfillmentSaga) ShipOrder(ctx context.Context, orderID int64) error {
	if err := s.advance(ctx, "ship", orderID, models.OrderStatusShipped); err != nil {
		return err
	}
	util.OrdersShippedTotal.Inc()
	return nil
}

// DeliverOrder moves a shipped order to Delivered.
func (s *OrderFulfillmentSaga) DeliverOrder(ctx context.Context, orderID int64) error {
	if err := s.advance(ctx, "deliver", orderID, models.OrderStatusDelivered); err != nil {
		return err
	}
	util.OrdersDeliveredTotal.Inc()
	return nil
}

// advance applies a fulfillment transition that touches neither stock nor
// loyalty state.
func (s *OrderFulfillmentSaga) advance(ctx context.Context, op string, orderID int64, to models.OrderStatus) (err error) {
	ctx, span := util.StartSpan(ctx, "OrderFulfillmentSaga."+op,
		attribute.Int64("order.id", orderID),
		attribute.String("order.target_status", string(to)))
	defer func() { util.EndSpan(span, err) }()

	var (
		order *models.Order
		prev  models.OrderStatus
	)
	err = s.uow.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		o, err := repos.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		prev = o.Status
		if err := lifecycle.Transition(o, to, s.now()); err != nil {
			return err
		}
		if err := repos.Orders().Update(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(op, failureReason(err)).Inc()
		return err
	}

	s.logger.Info("Order status updated",
		zap.Int64("order_id", order.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(order.Status)))
	s.publishStatus(ctx, order, prev)
	return nil
}

// GetOrder returns the order with its lines.
func (s *OrderFulfillmentSaga) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var order *models.Order
	err := s.uow.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		o, err := repos.Orders().GetWithLines(ctx, orderID)
		if err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}
