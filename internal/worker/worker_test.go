package worker

import (
	"context"
	"encoding/json"
	"testing"

	"order-fulfillment/internal/broker"
	"order-fulfillment/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	messages []kafka.Message
	results  []error
	closed   bool
}

func (s *sliceSource) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for _, msg := range s.messages {
		s.results = append(s.results, handler(ctx, msg))
	}
	return nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type recordingHandlers struct {
	paid      []int64
	cancelled []int64
}

func (h *recordingHandlers) HandlePaymentSuccess(_ context.Context, e *models.PaymentSuccessEvent) error {
	h.paid = append(h.paid, e.OrderID)
	return nil
}

func (h *recordingHandlers) HandlePaymentFailed(_ context.Context, e *models.PaymentFailedEvent) error {
	h.cancelled = append(h.cancelled, e.OrderID)
	return nil
}

func encode(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestPaymentWorkerRoutesEvents(t *testing.T) {
	source := &sliceSource{messages: []kafka.Message{
		encode(t, models.PaymentSuccessEvent{
			BaseEvent: models.BaseEvent{EventID: "a", EventType: models.EventTypePaymentSuccess},
			OrderID:   1,
		}),
		encode(t, models.PaymentFailedEvent{
			BaseEvent: models.BaseEvent{EventID: "b", EventType: models.EventTypePaymentFailed},
			OrderID:   2,
		}),
		encode(t, models.OrderStatusEvent{
			BaseEvent: models.BaseEvent{EventID: "c", EventType: models.EventTypeOrderPaid},
			OrderID:   3,
		}),
		{Value: []byte("garbage")},
	}}
	handlers := &recordingHandlers{}

	w := NewPaymentWorker(source, handlers)
	require.NoError(t, w.Start(context.Background()))

	assert.Equal(t, []int64{1}, handlers.paid)
	assert.Equal(t, []int64{2}, handlers.cancelled)
	require.Len(t, source.results, 4)
	assert.NoError(t, source.results[2])
	assert.Error(t, source.results[3])

	require.NoError(t, w.Stop())
	assert.True(t, source.closed)
}
