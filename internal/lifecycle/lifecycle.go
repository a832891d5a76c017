// Package lifecycle is the order state machine. Legal moves come from a
// fixed transition table; business rules are layered on top of it.
package lifecycle

import (
	"sort"
	"strings"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
)

var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusCreated:   {models.OrderStatusPaid, models.OrderStatusCancelled},
	models.OrderStatusPending:   {models.OrderStatusPaid, models.OrderStatusCancelled},
	models.OrderStatusPaid:      {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:   {models.OrderStatusDelivered},
	models.OrderStatusDelivered: {},
	models.OrderStatusCancelled: {},
}

// AllowedTransitions returns the statuses reachable from from in one step.
func AllowedTransitions(from models.OrderStatus) []models.OrderStatus {
	allowed := transitions[from]
	out := make([]models.OrderStatus, len(allowed))
	copy(out, allowed)
	return out
}

// CanTransition reports whether from -> to is an edge of the table.
func CanTransition(from, to models.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status models.OrderStatus) bool {
	allowed, known := transitions[status]
	return known && len(allowed) == 0
}

// CanBeCancelled reports whether status may move to Cancelled.
func CanBeCancelled(status models.OrderStatus) bool {
	return CanTransition(status, models.OrderStatusCancelled)
}

// ValidateTransition returns an INVALID_TRANSITION error naming the allowed
// set when from -> to is not in the table.
func ValidateTransition(from, to models.OrderStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	allowed := AllowedTransitions(from)
	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = string(s)
	}
	sort.Strings(names)

	allowedText := "none"
	if len(names) > 0 {
		allowedText = strings.Join(names, ", ")
	}
	return apperr.Newf(apperr.CodeInvalidTransition,
		"cannot transition order from %s to %s (allowed: %s)", from, to, allowedText).
		WithDetails(map[string]any{"from": from, "to": to, "allowed": names})
}

// ValidateBusinessRules checks amount and sequencing rules for moving order
// into to. It assumes the table edge has been validated.
func ValidateBusinessRules(order *models.Order, to models.OrderStatus) error {
	switch to {
	case models.OrderStatusPaid:
		if !order.TotalPrice.IsPositive() {
			return apperr.Newf(apperr.CodeInvalidTransition, "order %d cannot be paid with total %s", order.ID, order.TotalPrice)
		}
	case models.OrderStatusShipped:
		if order.Status != models.OrderStatusPaid {
			return apperr.Newf(apperr.CodeInvalidTransition, "order %d must be paid before shipping", order.ID)
		}
	case models.OrderStatusDelivered:
		if order.Status != models.OrderStatusShipped {
			return apperr.Newf(apperr.CodeInvalidTransition, "order %d must be shipped before delivery", order.ID)
		}
	case models.OrderStatusCancelled:
		if order.PaidAt != nil || order.PaymentStatus != models.PaymentStatusNone {
			return apperr.Newf(apperr.CodeInvalidTransition, "order %d payment must be cleared before cancellation", order.ID)
		}
	}
	return nil
}

// Transition validates and applies to on order. Payment fields are stamped
// when entering Paid and cleared when leaving it, so they are set only
// while the order is Paid.
func Transition(order *models.Order, to models.OrderStatus, now time.Time) error {
	if err := ValidateTransition(order.Status, to); err != nil {
		return err
	}
	if err := ValidateBusinessRules(order, to); err != nil {
		return err
	}
	switch {
	case to == models.OrderStatusPaid:
		paidAt := now
		order.PaidAt = &paidAt
		order.PaymentStatus = models.PaymentStatusPaid
	case order.Status == models.OrderStatusPaid:
		ClearPayment(order)
	}
	order.Status = to
	order.UpdatedAt = now
	return nil
}

// ClearPayment removes payment markers ahead of a cancellation.
func ClearPayment(order *models.Order) {
	order.PaidAt = nil
	order.PaymentStatus = models.PaymentStatusNone
}
