package service

import (
	"context"
	"sync"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/store"

	"github.com/shopspring/decimal"
)

// memState is the committed content of the in-memory database.
type memState struct {
	customers map[int64]models.Customer
	products  map[int64]models.Product
	inventory map[int64]models.InventoryRecord
	orders    map[int64]models.Order
	history   []models.VipStatusHistory

	nextOrderID   int64
	nextLineID    int64
	nextHistoryID int64
}

func (s *memState) clone() *memState {
	c := &memState{
		customers:     make(map[int64]models.Customer, len(s.customers)),
		products:      make(map[int64]models.Product, len(s.products)),
		inventory:     make(map[int64]models.InventoryRecord, len(s.inventory)),
		orders:        make(map[int64]models.Order, len(s.orders)),
		history:       append([]models.VipStatusHistory(nil), s.history...),
		nextOrderID:   s.nextOrderID,
		nextLineID:    s.nextLineID,
		nextHistoryID: s.nextHistoryID,
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.inventory {
		c.inventory[k] = v
	}
	for k, v := range s.orders {
		v.Lines = append([]models.OrderLine(nil), v.Lines...)
		c.orders[k] = v
	}
	return c
}

// memUnitOfWork runs each unit of work against a copy of the state and
// swaps it in only when fn succeeds.
type memUnitOfWork struct {
	mu    sync.Mutex
	state *memState

	orderAddErr     error
	beforeOrderAdd  func(committed *memState)
	inventoryUpdate func(call int, rec models.InventoryRecord) error
	inventoryCalls  int
	transactions    int

	// aborted is the working copy of the last unit of work that failed.
	aborted *memState
}

func newMemUnitOfWork() *memUnitOfWork {
	return &memUnitOfWork{state: &memState{
		customers: make(map[int64]models.Customer),
		products:  make(map[int64]models.Product),
		inventory: make(map[int64]models.InventoryRecord),
		orders:    make(map[int64]models.Order),
	}}
}

func (u *memUnitOfWork) WithTx(ctx context.Context, fn func(ctx context.Context, repos store.Repositories) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.transactions++
	work := u.state.clone()
	if err := fn(ctx, &memRepos{uow: u, state: work}); err != nil {
		u.aborted = work
		return err
	}
	u.state = work
	return nil
}

func (u *memUnitOfWork) addCustomer(id int64, tier int, spending string) {
	u.state.customers[id] = models.Customer{
		ID:            id,
		Email:         "customer@example.com",
		VipTier:       tier,
		TotalSpending: decimal.RequireFromString(spending),
	}
}

func (u *memUnitOfWork) addProduct(id int64, price, discount string, stock, threshold int) {
	u.state.products[id] = models.Product{
		ID:              id,
		Price:           decimal.RequireFromString(price),
		DiscountPercent: decimal.RequireFromString(discount),
	}
	u.state.inventory[id] = models.InventoryRecord{
		ProductID:         id,
		TotalQuantity:     stock,
		LowStockThreshold: threshold,
	}
}

func (u *memUnitOfWork) stock(id int64) models.InventoryRecord {
	return u.state.inventory[id]
}

func (u *memUnitOfWork) customer(id int64) models.Customer {
	return u.state.customers[id]
}

func (u *memUnitOfWork) order(id int64) models.Order {
	return u.state.orders[id]
}

type memRepos struct {
	uow   *memUnitOfWork
	state *memState
}

func (r *memRepos) Customers() store.CustomerRepository { return memCustomers{r} }
func (r *memRepos) Products() store.ProductRepository { return memProducts{r} }
func (r *memRepos) Inventory() store.InventoryRepository { return memInventory{r} }
func (r *memRepos) Orders() store.OrderRepository { return memOrders{r} }
func (r *memRepos) VipHistory() store.VipHistoryRepository { return memHistory{r} }

type memCustomers struct{ *memRepos }

func (r memCustomers) GetByID(_ context.Context, id int64) (*models.Customer, error) {
	c, ok := r.state.customers[id]
	if !ok {
		return nil, apperr.Newf(apperr.CodeNotFound, "customer not found: %d", id)
	}
	return &c, nil
}

func (r memCustomers) Update(_ context.Context, c *models.Customer) error {
	if _, ok := r.state.customers[c.ID]; !ok {
		return apperr.Newf(apperr.CodeNotFound, "customer not found: %d", c.ID)
	}
	r.state.customers[c.ID] = *c
	return nil
}

type memProducts struct{ *memRepos }

func (r memProducts) GetByID(_ context.Context, id int64) (*models.Product, error) {
	p, ok := r.state.products[id]
	if !ok {
		return nil, apperr.Newf(apperr.CodeNotFound, "product not found: %d", id)
	}
	return &p, nil
}

type memInventory struct{ *memRepos }

func (r memInventory) GetByProductID(_ context.Context, productID int64) (*models.InventoryRecord, error) {
	rec, ok := r.state.inventory[productID]
	if !ok || rec.DeletedAt != nil {
		return nil, apperr.Newf(apperr.CodeNotFound, "inventory not found for product: %d", productID)
	}
	return &rec, nil
}

func (r memInventory) Update(_ context.Context, rec *models.InventoryRecord) error {
	r.uow.inventoryCalls++
	if r.uow.inventoryUpdate != nil {
		if err := r.uow.inventoryUpdate(r.uow.inventoryCalls, *rec); err != nil {
			return err
		}
	}
	r.state.inventory[rec.ProductID] = *rec
	return nil
}

func (r memInventory) SoftDelete(_ context.Context, productID int64, at time.Time) error {
	rec, ok := r.state.inventory[productID]
	if !ok {
		return apperr.Newf(apperr.CodeNotFound, "inventory not found for product: %d", productID)
	}
	rec.DeletedAt = &at
	r.state.inventory[productID] = rec
	return nil
}

type memOrders struct{ *memRepos }

func (r memOrders) Add(_ context.Context, order *models.Order) error {
	if r.uow.orderAddErr != nil {
		return r.uow.orderAddErr
	}
	if r.uow.beforeOrderAdd != nil {
		r.uow.beforeOrderAdd(r.uow.state)
	}
	if order.IdempotencyKey != nil {
		for _, st := range []*memState{r.state, r.uow.state} {
			if holdsKey(st, order.UserID, *order.IdempotencyKey) {
				return apperr.Wrap(apperr.CodeConflict, store.ErrDuplicateIdempotencyKey,
					"order with this idempotency key already exists")
			}
		}
	}
	r.state.nextOrderID++
	order.ID = r.state.nextOrderID
	for i := range order.Lines {
		r.state.nextLineID++
		order.Lines[i].ID = r.state.nextLineID
		order.Lines[i].OrderID = order.ID
	}
	stored := *order
	stored.Lines = append([]models.OrderLine(nil), order.Lines...)
	r.state.orders[order.ID] = stored
	return nil
}

func (r memOrders) GetByID(_ context.Context, id int64) (*models.Order, error) {
	o, ok := r.state.orders[id]
	if !ok {
		return nil, apperr.Newf(apperr.CodeNotFound, "order not found: %d", id)
	}
	o.Lines = nil
	return &o, nil
}

func (r memOrders) GetWithLines(_ context.Context, id int64) (*models.Order, error) {
	o, ok := r.state.orders[id]
	if !ok {
		return nil, apperr.Newf(apperr.CodeNotFound, "order not found: %d", id)
	}
	o.Lines = append([]models.OrderLine(nil), o.Lines...)
	return &o, nil
}

func (r memOrders) GetByIdempotencyKey(_ context.Context, userID int64, key string) (*models.Order, error) {
	for _, o := range r.state.orders {
		if o.UserID == userID && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			o.Lines = append([]models.OrderLine(nil), o.Lines...)
			return &o, nil
		}
	}
	return nil, nil
}

func holdsKey(st *memState, userID int64, key string) bool {
	for _, o := range st.orders {
		if o.UserID == userID && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return true
		}
	}
	return false
}

func (r memOrders) Update(_ context.Context, order *models.Order) error {
	stored, ok := r.state.orders[order.ID]
	if !ok {
		return apperr.Newf(apperr.CodeNotFound, "order not found: %d", order.ID)
	}
	lines := stored.Lines
	stored = *order
	stored.Lines = lines
	r.state.orders[order.ID] = stored
	return nil
}

func (r memOrders) SumPaidTotalByUser(_ context.Context, userID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, o := range r.state.orders {
		if o.UserID != userID {
			continue
		}
		switch o.Status {
		case models.OrderStatusPaid, models.OrderStatusShipped, models.OrderStatusDelivered:
			total = total.Add(o.TotalPrice)
		}
	}
	return total, nil
}

func (r memOrders) HasLinesForProduct(_ context.Context, productID int64) (bool, error) {
	for _, o := range r.state.orders {
		for _, l := range o.Lines {
			if l.ProductID == productID {
				return true, nil
			}
		}
	}
	return false, nil
}

type memHistory struct{ *memRepos }

func (r memHistory) Add(_ context.Context, entry *models.VipStatusHistory) error {
	r.state.nextHistoryID++
	entry.ID = r.state.nextHistoryID
	r.state.history = append(r.state.history, *entry)
	return nil
}

type fakePublisher struct {
	created  []*models.OrderCreatedEvent
	statuses []*models.OrderStatusEvent
	tiers    []*models.VipTierChangedEvent
	lowStock []*models.InventoryLowStockEvent
	err      error
}

func (p *fakePublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	p.created = append(p.created, e)
	return p.err
}

func (p *fakePublisher) PublishOrderStatus(_ context.Context, e *models.OrderStatusEvent) error {
	p.statuses = append(p.statuses, e)
	return p.err
}

func (p *fakePublisher) PublishVipTierChanged(_ context.Context, e *models.VipTierChangedEvent) error {
	p.tiers = append(p.tiers, e)
	return p.err
}

func (p *fakePublisher) PublishLowStock(_ context.Context, e *models.InventoryLowStockEvent) error {
	p.lowStock = append(p.lowStock, e)
	return p.err
}

type fakeCache struct {
	records map[int64]models.InventoryRecord
	putErr  error
	gets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{records: make(map[int64]models.InventoryRecord)}
}

func (c *fakeCache) PutInventory(_ context.Context, rec *models.InventoryRecord) error {
	if c.putErr != nil {
		return c.putErr
	}
	c.records[rec.ProductID] = *rec
	return nil
}

func (c *fakeCache) GetInventory(_ context.Context, productID int64) (*models.InventoryRecord, error) {
	c.gets++
	rec, ok := c.records[productID]
	if !ok {
		return nil, errCacheDisabled
	}
	return &rec, nil
}

func (c *fakeCache) EvictInventory(_ context.Context, productID int64) error {
	delete(c.records, productID)
	return nil
}
