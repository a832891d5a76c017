package store

import (
	"context"
	"database/sql"
	"errors"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// ErrDuplicateIdempotencyKey is wrapped by Add when another order of the
// same user already holds the key.
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")

const (
	uniqueViolation              = "23505"
	userIdempotencyKeyConstraint = "orders_user_idempotency_key"
)

type orderRepo struct {
	q querier
}

// Add inserts the order and its lines, assigning ids to both
func (r *orderRepo) Add(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, status, total_price, paid_at, payment_status, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err := r.q.GetContext(ctx, &order.ID, query,
		order.UserID, order.Status, order.TotalPrice, order.PaidAt, order.PaymentStatus,
		order.IdempotencyKey, order.CreatedAt, order.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == userIdempotencyKeyConstraint {
		return apperr.Wrap(apperr.CodeConflict, ErrDuplicateIdempotencyKey,
			"order with this idempotency key already exists")
	}
	if err != nil {
		return dependency(err, "insert order for user %d", order.UserID)
	}

	lineQuery := `
		INSERT INTO order_lines (order_id, product_id, unit_price, quantity, product_discount_percent, vip_discount_percent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	for i := range order.Lines {
		line := &order.Lines[i]
		line.OrderID = order.ID
		err := r.q.GetContext(ctx, &line.ID, lineQuery,
			line.OrderID, line.ProductID, line.UnitPrice, line.Quantity,
			line.ProductDiscountPercent, line.VipDiscountPercent)
		if err != nil {
			return dependency(err, "insert line for order %d", order.ID)
		}
	}
	return nil
}

// GetByID locks and retrieves an order without its lines
func (r *orderRepo) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	if err := getOne(ctx, r.q, &order, "order", id, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetWithLines locks and retrieves an order with its lines in insertion order
func (r *orderRepo) GetWithLines(ctx context.Context, id int64) (*models.Order, error) {
	order, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.q.SelectContext(ctx, &order.Lines,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY id", id); err != nil {
		return nil, dependency(err, "load lines for order %d", id)
	}
	return order, nil
}

// GetByIdempotencyKey retrieves the user's order holding key, with its
// lines. It returns nil if absent.
func (r *orderRepo) GetByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	var order models.Order
	err := r.q.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE user_id = $1 AND idempotency_key = $2", userID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dependency(err, "load order by idempotency key for user %d", userID)
	}
	if err := r.q.SelectContext(ctx, &order.Lines,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY id", order.ID); err != nil {
		return nil, dependency(err, "load lines for order %d", order.ID)
	}
	return &order, nil
}

// Update saves status and payment fields. Lines are immutable.
func (r *orderRepo) Update(ctx context.Context, order *models.Order) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, total_price = $2, paid_at = $3, payment_status = $4, updated_at = $5
		WHERE id = $6`,
		order.Status, order.TotalPrice, order.PaidAt, order.PaymentStatus, order.UpdatedAt, order.ID)
	if err != nil {
		return dependency(err, "update order %d", order.ID)
	}
	return requireRow(res, "order", order.ID)
}

// SumPaidTotalByUser sums orders that were paid and not cancelled
func (r *orderRepo) SumPaidTotalByUser(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.q.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(total_price), 0)
		FROM orders
		WHERE user_id = $1 AND status IN ($2, $3, $4)`,
		userID, models.OrderStatusPaid, models.OrderStatusShipped, models.OrderStatusDelivered)
	if err != nil {
		return decimal.Zero, dependency(err, "sum paid orders for user %d", userID)
	}
	return total, nil
}

// HasLinesForProduct reports whether any order ever referenced the product
func (r *orderRepo) HasLinesForProduct(ctx context.Context, productID int64) (bool, error) {
	var exists bool
	err := r.q.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM order_lines WHERE product_id = $1)", productID)
	if err != nil {
		return false, dependency(err, "check order lines for product %d", productID)
	}
	return exists, nil
}
