package store

import (
	"context"

	"order-fulfillment/internal/models"
)

type customerRepo struct {
	q querier
}

// GetByID locks and returns a customer
func (r *customerRepo) GetByID(ctx context.Context, id int64) (*models.Customer, error) {
	var c models.Customer
	if err := getOne(ctx, r.q, &c, "customer", id, "SELECT * FROM customers WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, err
	}
	return &c, nil
}

// Update saves spending and tier fields
func (r *customerRepo) Update(ctx context.Context, c *models.Customer) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE customers
		SET total_spending = $1, vip_tier = $2, vip_upgraded_at = $3, updated_at = $4
		WHERE id = $5`,
		c.TotalSpending, c.VipTier, c.VipUpgradedAt, c.UpdatedAt, c.ID)
	if err != nil {
		return dependency(err, "update customer %d", c.ID)
	}
	return requireRow(res, "customer", c.ID)
}

type productRepo struct {
	q querier
}

// GetByID retrieves a product by ID
func (r *productRepo) GetByID(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	if err := getOne(ctx, r.q, &p, "product", id, "SELECT * FROM products WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &p, nil
}

type vipHistoryRepo struct {
	q querier
}

// Add appends a tier change
func (r *vipHistoryRepo) Add(ctx context.Context, e *models.VipStatusHistory) error {
	query := `
		INSERT INTO vip_status_history
			(user_id, previous_tier, new_tier, triggering_order_total, total_spending_at_upgrade, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.q.GetContext(ctx, &e.ID, query,
		e.UserID, e.PreviousTier, e.NewTier, e.TriggeringOrderTotal, e.TotalSpendingAtUpgrade, e.Reason, e.CreatedAt)
	return dependency(err, "append vip history for user %d", e.UserID)
}
