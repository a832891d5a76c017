package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter writes one keyed event to the event stream.
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	writer EventWriter
	now    func() time.Time
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(writer EventWriter) *EventPublisher {
	return &EventPublisher{writer: writer, now: time.Now}
}

// stamp fills the envelope fields the caller left empty.
func (ep *EventPublisher) stamp(base *models.BaseEvent, eventType string) {
	if base.EventID == "" {
		base.EventID = uuid.New().String()
	}
	base.EventType = eventType
	if base.Timestamp.IsZero() {
		base.Timestamp = ep.now().UTC()
	}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	ep.stamp(&event.BaseEvent, models.EventTypeOrderCreated)
	return ep.writer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderStatus publishes the event matching the order's new status.
func (ep *EventPublisher) PublishOrderStatus(ctx context.Context, event *models.OrderStatusEvent) error {
	eventType, ok := statusEventTypes[event.Status]
	if !ok {
		return fmt.Errorf("no event type for order status %s", event.Status)
	}
	ep.stamp(&event.BaseEvent, eventType)
	return ep.writer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishVipTierChanged publishes VipTierChanged event
func (ep *EventPublisher) PublishVipTierChanged(ctx context.Context, event *models.VipTierChangedEvent) error {
	ep.stamp(&event.BaseEvent, models.EventTypeVipTierChanged)
	return ep.writer.PublishEvent(ctx, fmt.Sprintf("user-%d", event.UserID), event)
}

// PublishLowStock publishes InventoryLowStock event
func (ep *EventPublisher) PublishLowStock(ctx context.Context, event *models.InventoryLowStockEvent) error {
	ep.stamp(&event.BaseEvent, models.EventTypeInventoryLow)
	return ep.writer.PublishEvent(ctx, fmt.Sprintf("product-%d", event.ProductID), event)
}

var statusEventTypes = map[models.OrderStatus]string{
	models.OrderStatusPaid:      models.EventTypeOrderPaid,
	models.OrderStatusShipped:   models.EventTypeOrderShipped,
	models.OrderStatusDelivered: models.EventTypeOrderDelivered,
	models.OrderStatusCancelled: models.EventTypeOrderCancelled,
}

// EventHandler handles incoming events
type EventHandler struct {
	onPaymentSuccess func(context.Context, *models.PaymentSuccessEvent) error
	onPaymentFailed  func(context.Context, *models.PaymentFailedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnPaymentSuccess registers a handler for PaymentSuccess events
func (eh *EventHandler) OnPaymentSuccess(handler func(context.Context, *models.PaymentSuccessEvent) error) {
	eh.onPaymentSuccess = handler
}

// OnPaymentFailed registers a handler for PaymentFailed events
func (eh *EventHandler) OnPaymentFailed(handler func(context.Context, *models.PaymentFailedEvent) error) {
	eh.onPaymentFailed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	logger := util.GetLogger()
	logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentSuccess:
		if eh.onPaymentSuccess != nil {
			var event models.PaymentSuccessEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentSuccess event: %w", err)
			}
			return eh.onPaymentSuccess(ctx, &event)
		}

	case models.EventTypePaymentFailed:
		if eh.onPaymentFailed != nil {
			var event models.PaymentFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentFailed event: %w", err)
			}
			return eh.onPaymentFailed(ctx, &event)
		}

	default:
		logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
