package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/inventory"
	"order-fulfillment/internal/lifecycle"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/pricing"
	"order-fulfillment/internal/store"
	"order-fulfillment/internal/util"
	"order-fulfillment/internal/vip"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Pricer prices order lines and derives loyalty tiers.
type Pricer interface {
	CalculateTier(totalSpending decimal.Decimal) (int, error)
	GetDiscountPercentForTier(tier int) (decimal.Decimal, error)
	CalculateFinalPrice(basePrice, productDiscountPercent decimal.Decimal, vipTier int) (decimal.Decimal, error)
}

// OrderFulfillmentSaga is the single entry point for creating, paying,
// cancelling and advancing orders. Every operation runs in one unit of
// work spanning inventory, order and customer changes.
type OrderFulfillmentSaga struct {
	uow       store.UnitOfWork
	pricer    Pricer
	publisher EventPublisher
	cache     InventoryCache
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrderFulfillmentSaga creates the saga. publisher and cache may be nil.
func NewOrderFulfillmentSaga(
	uow store.UnitOfWork,
	pricer Pricer,
	publisher EventPublisher,
	cache InventoryCache,
) *OrderFulfillmentSaga {
	if pricer == nil {
		pricer = pricing.NewEngine()
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if cache == nil {
		cache = nopCache{}
	}
	return &OrderFulfillmentSaga{
		uow:       uow,
		pricer:    pricer,
		publisher: publisher,
		cache:     cache,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	UserID         int64              `json:"user_id" binding:"required"`
	Items          []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// CreateOrderResponse represents the response after creating an order
type CreateOrderResponse struct {
	OrderID    int64              `json:"order_id"`
	TotalPrice decimal.Decimal    `json:"total_price"`
	Status     models.OrderStatus `json:"status"`
}

type reservation struct {
	productID int64
	qty       int
}

// CreateOrder reserves stock for every item, prices the lines, persists the
// order and commits the reservations. Any failure after the reserve phase
// releases every reservation before the error is returned.
func (s *OrderFulfillmentSaga) CreateOrder(ctx context.Context, req *CreateOrderRequest) (resp *CreateOrderResponse, err error) {
	ctx, span := util.StartSpan(ctx, "OrderFulfillmentSaga.CreateOrder", attribute.Int64("user.id", req.UserID))
	defer func() { util.EndSpan(span, err) }()

	if err := validateItems(req.Items); err != nil {
		util.OrdersFailedTotal.WithLabelValues("create", failureReason(err)).Inc()
		return nil, err
	}

	var (
		order     *models.Order
		touched   map[int64]*models.InventoryRecord
		duplicate bool
	)

	err = s.uow.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		prior, err := findReplay(ctx, repos, req)
		if err != nil {
			return err
		}
		if prior != nil {
			order, duplicate = prior, true
			return nil
		}

		customer, err := repos.Customers().GetByID(ctx, req.UserID)
		if err != nil {
			return err
		}
		products, err := loadProducts(ctx, repos.Products(), req.Items)
		if err != nil {
			return err
		}

		ledger := inventory.NewLedger(repos.Inventory(), s.now)

		reserved, err := s.reserveAll(ctx, ledger, req.Items)
		if err != nil {
			return err
		}

		order, touched, err = s.priceAndCommit(ctx, repos, ledger, customer, products, req, reserved)
		if err != nil {
			// A duplicate key aborts the transaction; rollback drops the holds.
			if !errors.Is(err, store.ErrDuplicateIdempotencyKey) {
				s.releaseAll(ctx, ledger, reserved)
			}
			return err
		}
		return nil
	})
	if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
		// A concurrent request with the same key committed first.
		order, err = s.replayCommitted(ctx, req, err)
		duplicate = err == nil
	}
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("create", failureReason(err)).Inc()
		s.logger.Warn("Order creation failed",
			zap.Int64("user_id", req.UserID),
			zap.Error(err))
		return nil, err
	}

	if duplicate {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", order.ID))
		return &CreateOrderResponse{OrderID: order.ID, TotalPrice: order.TotalPrice, Status: order.Status}, nil
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.String("total_price", order.TotalPrice.StringFixed(2)))

	s.afterInventoryChange(ctx, touched)
	s.publishOrderCreated(ctx, order)

	return &CreateOrderResponse{
		OrderID:    order.ID,
		TotalPrice: order.TotalPrice,
		Status:     order.Status,
	}, nil
}

// findReplay returns the user's earlier order for the request's idempotency
// key, or nil when there is none. Reusing a key for different items fails.
func findReplay(ctx context.Context, repos store.Repositories, req *CreateOrderRequest) (*models.Order, error) {
	if req.IdempotencyKey == "" {
		return nil, nil
	}
	prior, err := repos.Orders().GetByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
	if err != nil || prior == nil {
		return nil, err
	}
	if !sameItems(prior.Lines, req.Items) {
		return nil, apperr.Newf(apperr.CodeIdempotency,
			"idempotency key %q was already used for a different order", req.IdempotencyKey)
	}
	return prior, nil
}

// replayCommitted looks the key up again in a fresh transaction after the
// insert lost a race. cause is returned if the winner is still not visible.
func (s *OrderFulfillmentSaga) replayCommitted(ctx context.Context, req *CreateOrderRequest, cause error) (*models.Order, error) {
	var prior *models.Order
	err := s.uow.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		var err error
		prior, err = findReplay(ctx, repos, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, cause
	}
	return prior, nil
}

func sameItems(lines []models.OrderLine, items []OrderItemRequest) bool {
	qty := make(map[int64]int, len(items))
	for _, item := range items {
		qty[item.ProductID] += item.Quantity
	}
	for _, line := range lines {
		qty[line.ProductID] -= line.Quantity
	}
	for _, n := range qty {
		if n != 0 {
			return false
		}
	}
	return true
}

// reserveAll reserves each item in order. On the first failure everything
// reserved so far is released and the failure is returned.
func (s *OrderFulfillmentSaga) reserveAll(ctx context.Context, ledger *inventory.Ledger, items []OrderItemRequest) ([]reservation, error) {
	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	reserved := make([]reservation, 0, len(items))
	for _, item := range items {
		if _, err := ledger.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
			util.InventoryReservationsFailed.WithLabelValues(failureReason(err)).Inc()
			s.releaseAll(ctx, ledger, reserved)
			return nil, err
		}
		reserved = append(reserved, reservation{productID: item.ProductID, qty: item.Quantity})
	}
	return reserved, nil
}

// priceAndCommit runs the price, persist and commit phases.
func (s *OrderFulfillmentSaga) priceAndCommit(
	ctx context.Context,
	repos store.Repositories,
	ledger *inventory.Ledger,
	customer *models.Customer,
	products map[int64]*models.Product,
	req *CreateOrderRequest,
	reserved []reservation,
) (*models.Order, map[int64]*models.InventoryRecord, error) {
	vipPercent, err := s.pricer.GetDiscountPercentForTier(customer.VipTier)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	order := &models.Order{
		UserID:    customer.ID,
		Status:    models.OrderStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
		Lines:     make([]models.OrderLine, 0, len(req.Items)),
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		order.IdempotencyKey = &key
	}

	total := decimal.Zero
	for _, item := range req.Items {
		product := products[item.ProductID]
		unitPrice, err := s.pricer.CalculateFinalPrice(product.Price, product.DiscountPercent, customer.VipTier)
		if err != nil {
			return nil, nil, fmt.Errorf("price product %d: %w", product.ID, err)
		}
		line := models.OrderLine{
			ProductID:              product.ID,
			UnitPrice:              unitPrice,
			Quantity:               item.Quantity,
			ProductDiscountPercent: product.DiscountPercent,
			VipDiscountPercent:     vipPercent,
		}
		order.Lines = append(order.Lines, line)
		total = total.Add(line.Subtotal())
	}
	order.TotalPrice = total

	if err := repos.Orders().Add(ctx, order); err != nil {
		return nil, nil, err
	}

	touched := make(map[int64]*models.InventoryRecord, len(reserved))
	for _, r := range reserved {
		rec, err := ledger.Commit(ctx, r.productID, r.qty)
		if err != nil {
			return nil, nil, fmt.Errorf("commit stock for product %d: %w", r.productID, err)
		}
		touched[r.productID] = rec
	}

	return order, touched, nil
}

// releaseAll is best-effort compensation: failures are logged and never
// replace the error that triggered the unwind.
func (s *OrderFulfillmentSaga) releaseAll(ctx context.Context, ledger *inventory.Ledger, reserved []reservation) {
	for _, r := range reserved {
		if _, err := ledger.Release(ctx, r.productID, r.qty); err != nil {
			util.InventoryCompensationFailures.Inc()
			s.logger.Error("Failed to compensate reservation",
				zap.Int64("product_id", r.productID),
				zap.Int("quantity", r.qty),
				zap.Error(err))
		}
	}
}

// PayOrder marks the order paid and recalculates the customer's tier.
// Paying an order that is already paid fails.
func (s *OrderFulfillmentSaga) PayOrder(ctx context.Context, orderID int64) (err error) {
	ctx, span := util.StartSpan(ctx, "OrderFulfillmentSaga.PayOrder", attribute.Int64("order.id", orderID))
	defer func() { util.EndSpan(span, err) }()

	var (
		order  *models.Order
		prev   models.OrderStatus
		change *vip.TierChange
	)

	err = s.uow.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		o, err := repos.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		prev = o.Status

		if err := lifecycle.Transition(o, models.OrderStatusPaid, s.now()); err != nil {
			return err
		}
		if err := repos.Orders().Update(ctx, o); err != nil {
			return err
		}

		change, err = s.vipService(repos).CheckAndUpgrade(ctx, o.UserID, o.TotalPrice)
		if err != nil {
			return fmt.Errorf("recalculate vip tier: %w", err)
		}
		order = o
		return nil
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("pay", failureReason(err)).Inc()
		return err
	}

	util.OrdersPaidTotal.Inc()
	s.logger.Info("Order paid",
		zap.Int64("order_id", order.ID),
		zap.String("total_price", order.TotalPrice.StringFixed(2)))

	s.publishStatus(ctx, order, prev)
	s.reportTierChange(ctx, change)
	return nil
}

// CancelOrder returns the order's stock, clears payment if it was paid and
// moves it to Cancelled. Cancelling a paid order also re-derives the
// customer's tier.
func (s *OrderFulfillmentSaga) CancelOrder(ctx context.Context, orderID int64) (err error) {
	ctx, span := util.StartSpan(ctx, "OrderFulfillmentSaga.CancelOrder", attribute.Int64("order.id", orderID))
	defer func() { util.EndSpan(span, err) }()

	var (
		order   *models.Order
		prev    models.OrderStatus
		change  *vip.TierChange
		touched = make(map[int64]*models.InventoryRecord)
	)

	err = s.uow.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		o, err := repos.Orders().GetWithLines(ctx, orderID)
		if err != nil {
			return err
		}
		prev = o.Status

		if !lifecycle.CanBeCancelled(o.Status) {
			return lifecycle.ValidateTransition(o.Status, models.OrderStatusCancelled)
		}

		// Stock was committed when the order was created, so cancelling
		// puts units back into total stock rather than releasing a hold.
		ledger := inventory.NewLedger(repos.Inventory(), s.now)
		reason := fmt.Sprintf("order %d cancelled", o.ID)
		for _, line := range o.Lines {
			rec, err := ledger.Adjust(ctx, line.ProductID, line.Quantity, reason)
			if err != nil {
				return fmt.Errorf("return stock for product %d: %w", line.ProductID, err)
			}
			touched[line.ProductID] = rec
		}

		wasPaid := o.Status == models.OrderStatusPaid
		if wasPaid {
			lifecycle.ClearPayment(o)
		}
		if err := lifecycle.Transition(o, models.OrderStatusCancelled, s.now()); err != nil {
			return err
		}
		if err := repos.Orders().Update(ctx, o); err != nil {
			return err
		}

		if wasPaid {
			change, err = s.vipService(repos).RecalculateAfterCancellation(ctx, o.UserID)
			if err != nil {
				return fmt.Errorf("recalculate vip tier: %w", err)
			}
		}
		order = o
		return nil
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("cancel", failureReason(err)).Inc()
		return err
	}

	util.OrdersCancelledTotal.WithLabelValues(string(prev)).Inc()
	s.logger.Info("Order cancelled",
		zap.Int64("order_id", order.ID),
		zap.String("previous_status", string(prev)))

	s.afterInventoryChange(ctx, touched)
	s.publishStatus(ctx, order, prev)
	s.reportTierChange(ctx, change)
	return nil
}

func (s *OrderFulfillmentSaga) vipService(repos store.Repositories) *vip.Service {
	return vip.NewService(repos.Customers(), repos.Orders(), repos.VipHistory(), s.pricer, s.now)
}

func validateItems(items []OrderItemRequest) error {
	if len(items) == 0 {
		return apperr.New(apperr.CodeInvalidArgument, "order must contain at least one item")
	}
	for i, item := range items {
		if item.Quantity < 1 {
			return apperr.Newf(apperr.CodeInvalidArgument, "item %d: quantity must be at least 1, got %d", i, item.Quantity)
		}
	}
	return nil
}

// loadProducts checks that every product exists before anything is mutated.
func loadProducts(ctx context.Context, repo store.ProductRepository, items []OrderItemRequest) (map[int64]*models.Product, error) {
	products := make(map[int64]*models.Product, len(items))
	for _, item := range items {
		if _, ok := products[item.ProductID]; ok {
			continue
		}
		product, err := repo.GetByID(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		products[item.ProductID] = product
	}
	return products, nil
}

func failureReason(err error) string {
	return strings.ToLower(string(apperr.CodeOf(err)))
}
