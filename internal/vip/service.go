// Package vip keeps a customer's cached spending and loyalty tier in step
// with their paid orders.
package vip

import (
	"context"
	"fmt"
	"time"

	"order-fulfillment/internal/models"

	"github.com/shopspring/decimal"
)

// CustomerStore loads and saves customers.
type CustomerStore interface {
	GetByID(ctx context.Context, id int64) (*models.Customer, error)
	Update(ctx context.Context, customer *models.Customer) error
}

// PaidTotals sums the totals of a user's paid orders.
type PaidTotals interface {
	SumPaidTotalByUser(ctx context.Context, userID int64) (decimal.Decimal, error)
}

// HistoryStore appends tier change records.
type HistoryStore interface {
	Add(ctx context.Context, entry *models.VipStatusHistory) error
}

// TierCalculator maps spending to a tier.
type TierCalculator interface {
	CalculateTier(totalSpending decimal.Decimal) (int, error)
}

// TierChange is the outcome of a recalculation, returned for the caller to
// log or publish.
type TierChange struct {
	UserID        int64
	PreviousTier  int
	NewTier       int
	TotalSpending decimal.Decimal
	Reason        string
	Changed       bool
}

// Upgraded reports whether the tier went up.
func (c *TierChange) Upgraded() bool {
	return c.NewTier > c.PreviousTier
}

// Service recalculates VIP tiers.
type Service struct {
	customers CustomerStore
	orders    PaidTotals
	history   HistoryStore
	tiers     TierCalculator
	now       func() time.Time
}

// NewService builds a recalculation service over stores bound to the
// caller's transaction.
func NewService(customers CustomerStore, orders PaidTotals, history HistoryStore, tiers TierCalculator, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		customers: customers,
		orders:    orders,
		history:   history,
		tiers:     tiers,
		now:       now,
	}
}

// CheckAndUpgrade recomputes userID's spending from paid orders and moves
// the tier up or down to match. A history row is appended whenever the
// tier changes.
func (s *Service) CheckAndUpgrade(ctx context.Context, userID int64, triggeringOrderTotal decimal.Decimal) (*TierChange, error) {
	customer, err := s.customers.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	totalPaid, err := s.orders.SumPaidTotalByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sum paid orders: %w", err)
	}

	newTier, err := s.tiers.CalculateTier(totalPaid)
	if err != nil {
		return nil, err
	}

	now := s.now()
	oldTier := customer.VipTier
	customer.TotalSpending = totalPaid
	customer.UpdatedAt = now

	change := &TierChange{
		UserID:        userID,
		PreviousTier:  oldTier,
		NewTier:       newTier,
		TotalSpending: totalPaid,
	}

	if newTier == oldTier {
		if err := s.customers.Update(ctx, customer); err != nil {
			return nil, err
		}
		return change, nil
	}

	customer.VipTier = newTier
	if newTier > oldTier {
		upgradedAt := now
		customer.VipUpgradedAt = &upgradedAt
		change.Reason = fmt.Sprintf("upgraded from tier %d to tier %d: total paid spending reached %s",
			oldTier, newTier, totalPaid.StringFixed(2))
	} else {
		if newTier == 0 {
			customer.VipUpgradedAt = nil
		}
		change.Reason = fmt.Sprintf("downgraded from tier %d to tier %d: total paid spending fell to %s",
			oldTier, newTier, totalPaid.StringFixed(2))
	}
	change.Changed = true

	if err := s.customers.Update(ctx, customer); err != nil {
		return nil, err
	}

	entry := &models.VipStatusHistory{
		UserID:                 userID,
		PreviousTier:           oldTier,
		NewTier:                newTier,
		TriggeringOrderTotal:   triggeringOrderTotal,
		TotalSpendingAtUpgrade: totalPaid,
		Reason:                 change.Reason,
		CreatedAt:              now,
	}
	if err := s.history.Add(ctx, entry); err != nil {
		return nil, fmt.Errorf("append vip history: %w", err)
	}

	return change, nil
}

// RecalculateAfterCancellation re-derives the tier once a paid order no
// longer counts toward spending.
func (s *Service) RecalculateAfterCancellation(ctx context.Context, userID int64) (*TierChange, error) {
	return s.CheckAndUpgrade(ctx, userID, decimal.Zero)
}
