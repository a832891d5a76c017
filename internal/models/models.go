package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID              int64           `db:"id" json:"id"`
	SKU             string          `db:"sku" json:"sku"`
	Name            string          `db:"name" json:"name"`
	Price           decimal.Decimal `db:"price" json:"price"`
	DiscountPercent decimal.Decimal `db:"discount_percent" json:"discount_percent"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// InventoryRecord is the stock ledger row owned one-to-one by a product
type InventoryRecord struct {
	ProductID         int64      `db:"product_id" json:"product_id"`
	TotalQuantity     int        `db:"total_quantity" json:"total_quantity"`
	ReservedQuantity  int        `db:"reserved_quantity" json:"reserved_quantity"`
	LowStockThreshold int        `db:"low_stock_threshold" json:"low_stock_threshold"`
	LowStock          bool       `db:"low_stock" json:"low_stock"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt         *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Available returns the quantity that can still be reserved.
func (r *InventoryRecord) Available() int {
	return r.TotalQuantity - r.ReservedQuantity
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusCreated   OrderStatus = "CREATED"
	OrderStatusPending   OrderStatus = "PENDING" // legacy alias of CREATED
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// PaymentStatus records the payment state stored alongside an order
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusNone PaymentStatus = ""
	PaymentStatusPaid PaymentStatus = "PAID"
)

// Order represents a customer order. Lines is populated only by loads that
// include lines.
type Order struct {
	ID             int64           `db:"id" json:"id"`
	UserID         int64           `db:"user_id" json:"user_id"`
	Status         OrderStatus     `db:"status" json:"status"`
	TotalPrice     decimal.Decimal `db:"total_price" json:"total_price"`
	PaidAt         *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	PaymentStatus  PaymentStatus   `db:"payment_status" json:"payment_status,omitempty"`
	IdempotencyKey *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
	Lines          []OrderLine     `db:"-" json:"lines,omitempty"`
}

// OrderLine is a priced line of an order. Discount percentages are captured
// at creation and never recomputed.
type OrderLine struct {
	ID                     int64           `db:"id" json:"id"`
	OrderID                int64           `db:"order_id" json:"order_id"`
	ProductID              int64           `db:"product_id" json:"product_id"`
	UnitPrice              decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity               int             `db:"quantity" json:"quantity"`
	ProductDiscountPercent decimal.Decimal `db:"product_discount_percent" json:"product_discount_percent"`
	VipDiscountPercent     decimal.Decimal `db:"vip_discount_percent" json:"vip_discount_percent"`
}

// Subtotal returns UnitPrice * Quantity.
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Customer holds the cached loyalty state of a user
type Customer struct {
	ID            int64           `db:"id" json:"id"`
	Email         string          `db:"email" json:"email"`
	TotalSpending decimal.Decimal `db:"total_spending" json:"total_spending"`
	VipTier       int             `db:"vip_tier" json:"vip_tier"`
	VipUpgradedAt *time.Time      `db:"vip_upgraded_at" json:"vip_upgraded_at,omitempty"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// VipStatusHistory is an append-only record of a tier change
type VipStatusHistory struct {
	ID                     int64           `db:"id" json:"id"`
	UserID                 int64           `db:"user_id" json:"user_id"`
	PreviousTier           int             `db:"previous_tier" json:"previous_tier"`
	NewTier                int             `db:"new_tier" json:"new_tier"`
	TriggeringOrderTotal   decimal.Decimal `db:"triggering_order_total" json:"triggering_order_total"`
	TotalSpendingAtUpgrade decimal.Decimal `db:"total_spending_at_upgrade" json:"total_spending_at_upgrade"`
	Reason                 string          `db:"reason" json:"reason"`
	CreatedAt              time.Time       `db:"created_at" json:"created_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
