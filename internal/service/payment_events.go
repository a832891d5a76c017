package service

import (
	"context"
	"fmt"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// EventLog records which inbound events have already been applied.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// OrderOperations is the part of the saga payment events drive.
type OrderOperations interface {
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	PayOrder(ctx context.Context, orderID int64) error
	CancelOrder(ctx context.Context, orderID int64) error
}

// PaymentEventHandler applies payment provider outcomes to orders. Each
// event id is applied at most once.
type PaymentEventHandler struct {
	orders OrderOperations
	events EventLog
	logger *zap.Logger
}

// NewPaymentEventHandler creates a new payment event handler
func NewPaymentEventHandler(orders OrderOperations, events EventLog) *PaymentEventHandler {
	return &PaymentEventHandler{
		orders: orders,
		events: events,
		logger: util.GetLogger(),
	}
}

// HandlePaymentSuccess pays the order. An amount that differs from the
// order total is logged and not applied.
func (h *PaymentEventHandler) HandlePaymentSuccess(ctx context.Context, event *models.PaymentSuccessEvent) (err error) {
	ctx, span := util.StartSpan(ctx, "PaymentEventHandler.HandlePaymentSuccess",
		attribute.String("event.id", event.EventID),
		attribute.Int64("order.id", event.OrderID))
	defer func() { util.EndSpan(span, err) }()

	done, err := h.alreadyProcessed(ctx, event.EventID)
	if err != nil || done {
		return err
	}

	h.logger.Info("Handling payment success",
		zap.Int64("order_id", event.OrderID),
		zap.String("tx_id", event.TxID))

	order, err := h.orders.GetOrder(ctx, event.OrderID)
	if err != nil {
		return h.settle(ctx, &event.BaseEvent, event.OrderID, err)
	}
	if !event.Amount.Equal(order.TotalPrice) {
		h.logger.Error("Payment amount does not match order total",
			zap.Int64("order_id", order.ID),
			zap.String("amount", event.Amount.StringFixed(2)),
			zap.String("total_price", order.TotalPrice.StringFixed(2)))
		return h.markProcessed(ctx, &event.BaseEvent)
	}

	return h.settle(ctx, &event.BaseEvent, event.OrderID, h.orders.PayOrder(ctx, event.OrderID))
}

// HandlePaymentFailed cancels the order if it is still awaiting payment.
func (h *PaymentEventHandler) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) (err error) {
	ctx, span := util.StartSpan(ctx, "PaymentEventHandler.HandlePaymentFailed",
		attribute.String("event.id", event.EventID),
		attribute.Int64("order.id", event.OrderID))
	defer func() { util.EndSpan(span, err) }()

	done, err := h.alreadyProcessed(ctx, event.EventID)
	if err != nil || done {
		return err
	}

	h.logger.Warn("Handling payment failure",
		zap.Int64("order_id", event.OrderID),
		zap.String("reason", event.Reason))

	order, err := h.orders.GetOrder(ctx, event.OrderID)
	if err != nil {
		return h.settle(ctx, &event.BaseEvent, event.OrderID, err)
	}
	if order.Status != models.OrderStatusCreated && order.Status != models.OrderStatusPending {
		h.logger.Info("Ignoring payment failure for order no longer awaiting payment",
			zap.Int64("order_id", order.ID),
			zap.String("status", string(order.Status)))
		return h.markProcessed(ctx, &event.BaseEvent)
	}

	return h.settle(ctx, &event.BaseEvent, event.OrderID, h.orders.CancelOrder(ctx, event.OrderID))
}

func (h *PaymentEventHandler) alreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, apperr.New(apperr.CodeInvalidArgument, "payment event has no event id")
	}
	processed, err := h.events.IsEventProcessed(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		h.logger.Info("Event already processed", zap.String("event_id", eventID))
	}
	return processed, nil
}

// settle decides whether an operation outcome consumes the event. Domain
// rejections will never succeed on redelivery, so they are recorded and
// dropped; infrastructure failures are returned for a retry.
func (h *PaymentEventHandler) settle(ctx context.Context, event *models.BaseEvent, orderID int64, opErr error) error {
	if opErr != nil {
		code := apperr.CodeOf(opErr)
		if code == apperr.CodeInternal || apperr.MetadataFor(code).Retryable {
			return opErr
		}
		h.logger.Warn("Payment event rejected",
			zap.String("event_id", event.EventID),
			zap.Int64("order_id", orderID),
			zap.Error(opErr))
	}
	return h.markProcessed(ctx, event)
}

func (h *PaymentEventHandler) markProcessed(ctx context.Context, event *models.BaseEvent) error {
	if err := h.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}
