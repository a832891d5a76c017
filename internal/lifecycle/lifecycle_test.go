package lifecycle

import (
	"testing"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []models.OrderStatus{
	models.OrderStatusCreated,
	models.OrderStatusPending,
	models.OrderStatusPaid,
	models.OrderStatusShipped,
	models.OrderStatusDelivered,
	models.OrderStatusCancelled,
}

func TestCanTransitionTable(t *testing.T) {
	edges := [][2]models.OrderStatus{
		{models.OrderStatusCreated, models.OrderStatusPaid},
		{models.OrderStatusCreated, models.OrderStatusCancelled},
		{models.OrderStatusPending, models.OrderStatusPaid},
		{models.OrderStatusPending, models.OrderStatusCancelled},
		{models.OrderStatusPaid, models.OrderStatusShipped},
		{models.OrderStatusPaid, models.OrderStatusCancelled},
		{models.OrderStatusShipped, models.OrderStatusDelivered},
	}
	legal := make(map[[2]models.OrderStatus]bool, len(edges))
	for _, e := range edges {
		legal[e] = true
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			assert.Equal(t, legal[[2]models.OrderStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, IsTerminal(models.OrderStatusDelivered))
	assert.True(t, IsTerminal(models.OrderStatusCancelled))
	assert.False(t, IsTerminal(models.OrderStatusPaid))
	assert.False(t, IsTerminal("UNKNOWN"))
}

func TestCanBeCancelled(t *testing.T) {
	assert.True(t, CanBeCancelled(models.OrderStatusCreated))
	assert.True(t, CanBeCancelled(models.OrderStatusPending))
	assert.True(t, CanBeCancelled(models.OrderStatusPaid))
	assert.False(t, CanBeCancelled(models.OrderStatusShipped))
	assert.False(t, CanBeCancelled(models.OrderStatusDelivered))
	assert.False(t, CanBeCancelled(models.OrderStatusCancelled))
}

func TestValidateTransitionNamesAllowedSet(t *testing.T) {
	err := ValidateTransition(models.OrderStatusPaid, models.OrderStatusPaid)
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidTransition))
	assert.Contains(t, err.Error(), "CANCELLED, SHIPPED")

	err = ValidateTransition(models.OrderStatusCancelled, models.OrderStatusCancelled)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allowed: none")
}

func TestBusinessRules(t *testing.T) {
	paidAt := time.Now()

	tests := []struct {
		name  string
		order models.Order
		to    models.OrderStatus
		ok    bool
	}{
		{"pay positive total", models.Order{Status: models.OrderStatusCreated, TotalPrice: decimal.NewFromInt(5)}, models.OrderStatusPaid, true},
		{"pay zero total", models.Order{Status: models.OrderStatusCreated, TotalPrice: decimal.Zero}, models.OrderStatusPaid, false},
		{"ship paid", models.Order{Status: models.OrderStatusPaid}, models.OrderStatusShipped, true},
		{"ship created", models.Order{Status: models.OrderStatusCreated}, models.OrderStatusShipped, false},
		{"deliver shipped", models.Order{Status: models.OrderStatusShipped}, models.OrderStatusDelivered, true},
		{"deliver paid", models.Order{Status: models.OrderStatusPaid}, models.OrderStatusDelivered, false},
		{"cancel with payment", models.Order{Status: models.OrderStatusPaid, PaidAt: &paidAt, PaymentStatus: models.PaymentStatusPaid}, models.OrderStatusCancelled, false},
		{"cancel cleared", models.Order{Status: models.OrderStatusPaid}, models.OrderStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBusinessRules(&tt.order, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, apperr.IsCode(err, apperr.CodeInvalidTransition))
			}
		})
	}
}

func TestTransitionStampsPayment(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	order := &models.Order{ID: 1, Status: models.OrderStatusCreated, TotalPrice: decimal.NewFromInt(10)}

	require.NoError(t, Transition(order, models.OrderStatusPaid, now))
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	require.NotNil(t, order.PaidAt)
	assert.Equal(t, now, *order.PaidAt)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)

	err := Transition(order, models.OrderStatusPaid, now)
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidTransition))

	err = Transition(order, models.OrderStatusCancelled, now)
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidTransition), "payment must be cleared first")

	ClearPayment(order)
	require.NoError(t, Transition(order, models.OrderStatusCancelled, now))
	assert.Nil(t, order.PaidAt)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
}

func TestTransitionClearsPaymentWhenLeavingPaid(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	order := &models.Order{ID: 1, Status: models.OrderStatusCreated, TotalPrice: decimal.NewFromInt(10)}

	require.NoError(t, Transition(order, models.OrderStatusPaid, now))
	require.NoError(t, Transition(order, models.OrderStatusShipped, now.Add(time.Hour)))
	assert.Nil(t, order.PaidAt)
	assert.Equal(t, models.PaymentStatusNone, order.PaymentStatus)

	require.NoError(t, Transition(order, models.OrderStatusDelivered, now.Add(2*time.Hour)))
	assert.Nil(t, order.PaidAt)
	assert.Equal(t, models.PaymentStatusNone, order.PaymentStatus)
}
