package worker

import (
	"context"

	"order-fulfillment/internal/broker"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"go.uber.org/zap"
)

// MessageSource delivers messages to a handler until ctx is cancelled.
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// PaymentHandlers applies payment outcomes to orders.
type PaymentHandlers interface {
	HandlePaymentSuccess(ctx context.Context, event *models.PaymentSuccessEvent) error
	HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
}

// PaymentWorker consumes payment provider events
type PaymentWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer MessageSource, handlers PaymentHandlers) *PaymentWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnPaymentSuccess(handlers.HandlePaymentSuccess)
	eventHandler.OnPaymentFailed(handlers.HandlePaymentFailed)

	return &PaymentWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks consuming payment events until ctx is cancelled
func (pw *PaymentWorker) Start(ctx context.Context) error {
	pw.logger.Info("Starting payment worker")
	return pw.consumer.StartConsuming(ctx, pw.eventHandler.HandleMessage)
}

// Stop stops the payment worker
func (pw *PaymentWorker) Stop() error {
	pw.logger.Info("Stopping payment worker")
	return pw.consumer.Close()
}
