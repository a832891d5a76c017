package store

import (
	"context"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
)

type inventoryRepo struct {
	q querier
}

// GetByProductID locks and returns the live inventory record for a product.
// The FOR UPDATE lock serialises concurrent reservations until the
// surrounding transaction ends.
func (r *inventoryRepo) GetByProductID(ctx context.Context, productID int64) (*models.InventoryRecord, error) {
	var rec models.InventoryRecord
	err := getOne(ctx, r.q, &rec, "inventory for product", productID,
		"SELECT * FROM inventory WHERE product_id = $1 AND deleted_at IS NULL FOR UPDATE", productID)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update writes back the quantities and derived flag of a record
func (r *inventoryRepo) Update(ctx context.Context, rec *models.InventoryRecord) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE inventory
		SET total_quantity = $1, reserved_quantity = $2, low_stock_threshold = $3,
			low_stock = $4, updated_at = $5
		WHERE product_id = $6 AND deleted_at IS NULL`,
		rec.TotalQuantity, rec.ReservedQuantity, rec.LowStockThreshold,
		rec.LowStock, rec.UpdatedAt, rec.ProductID)
	if err != nil {
		return dependency(err, "update inventory for product %d", rec.ProductID)
	}
	return requireRow(res, "inventory for product", rec.ProductID)
}

// SoftDelete marks the record deleted
func (r *inventoryRepo) SoftDelete(ctx context.Context, productID int64, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		"UPDATE inventory SET deleted_at = $1, updated_at = $1 WHERE product_id = $2 AND deleted_at IS NULL",
		at, productID)
	if err != nil {
		return dependency(err, "soft delete inventory for product %d", productID)
	}
	return requireRow(res, "inventory for product", productID)
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireRow(res rowsAffecter, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return dependency(err, "rows affected for %s %d", what, id)
	}
	if n == 0 {
		return apperr.Newf(apperr.CodeNotFound, "%s not found: %d", what, id)
	}
	return nil
}
