// Package inventory implements the per-product stock ledger.
//
// The ledger has no locking of its own. It is built over a store bound to
// the caller's transaction, and the storage row lock on the inventory
// record serialises concurrent mutations of one product.
package inventory

import (
	"context"
	"strings"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
)

// Store is the inventory persistence the ledger needs.
type Store interface {
	GetByProductID(ctx context.Context, productID int64) (*models.InventoryRecord, error)
	Update(ctx context.Context, record *models.InventoryRecord) error
}

// Ledger applies reserve/release/commit/adjust operations to inventory records.
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger creates a ledger over store. A nil clock defaults to time.Now.
func NewLedger(store Store, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, now: now}
}

// CanReserve reports whether qty units of productID can be reserved.
func (l *Ledger) CanReserve(ctx context.Context, productID int64, qty int) (bool, error) {
	if qty <= 0 {
		return false, nil
	}
	rec, err := l.store.GetByProductID(ctx, productID)
	if err != nil {
		return false, err
	}
	return rec.Available() >= qty, nil
}

// Reserve places a hold of qty units on productID.
func (l *Ledger) Reserve(ctx context.Context, productID int64, qty int) (*models.InventoryRecord, error) {
	if err := requirePositive(qty); err != nil {
		return nil, err
	}
	return l.mutate(ctx, productID, func(rec *models.InventoryRecord) error {
		if rec.Available() < qty {
			return apperr.Newf(apperr.CodeInsufficientStock,
				"insufficient stock for product %d: available=%d, requested=%d", productID, rec.Available(), qty).
				WithDetails(map[string]any{"product_id": productID, "available": rec.Available(), "requested": qty})
		}
		rec.ReservedQuantity += qty
		return nil
	})
}

// Release undoes a hold of qty units.
func (l *Ledger) Release(ctx context.Context, productID int64, qty int) (*models.InventoryRecord, error) {
	if err := requirePositive(qty); err != nil {
		return nil, err
	}
	return l.mutate(ctx, productID, func(rec *models.InventoryRecord) error {
		if rec.ReservedQuantity < qty {
			return apperr.Newf(apperr.CodeConflict,
				"cannot release %d units of product %d: only %d reserved", qty, productID, rec.ReservedQuantity)
		}
		rec.ReservedQuantity -= qty
		return nil
	})
}

// Commit turns a hold of qty units into a permanent decrement.
func (l *Ledger) Commit(ctx context.Context, productID int64, qty int) (*models.InventoryRecord, error) {
	if err := requirePositive(qty); err != nil {
		return nil, err
	}
	return l.mutate(ctx, productID, func(rec *models.InventoryRecord) error {
		if rec.ReservedQuantity < qty {
			return apperr.Newf(apperr.CodeConflict,
				"cannot commit %d units of product %d: only %d reserved", qty, productID, rec.ReservedQuantity)
		}
		rec.ReservedQuantity -= qty
		rec.TotalQuantity -= qty
		return nil
	})
}

// Adjust corrects total stock by delta outside the reserve/commit flow.
func (l *Ledger) Adjust(ctx context.Context, productID int64, delta int, reason string) (*models.InventoryRecord, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "stock adjustment requires a reason")
	}
	if delta == 0 {
		return nil, apperr.New(apperr.CodeInvalidArgument, "stock adjustment delta must be non-zero")
	}
	return l.mutate(ctx, productID, func(rec *models.InventoryRecord) error {
		if rec.TotalQuantity+delta < rec.ReservedQuantity {
			return apperr.Newf(apperr.CodeInvalidArgument,
				"adjusting product %d by %d would leave total %d below reserved %d",
				productID, delta, rec.TotalQuantity+delta, rec.ReservedQuantity)
		}
		rec.TotalQuantity += delta
		return nil
	})
}

func (l *Ledger) mutate(ctx context.Context, productID int64, apply func(rec *models.InventoryRecord) error) (*models.InventoryRecord, error) {
	rec, err := l.store.GetByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := apply(rec); err != nil {
		return nil, err
	}
	rec.LowStock = rec.Available() <= rec.LowStockThreshold
	rec.UpdatedAt = l.now()
	if err := l.store.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func requirePositive(qty int) error {
	if qty <= 0 {
		return apperr.Newf(apperr.CodeInvalidArgument, "quantity must be positive, got %d", qty)
	}
	return nil
}
