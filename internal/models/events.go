package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderShipped   = "ORDER_SHIPPED"
	EventTypeOrderDelivered = "ORDER_DELIVERED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
	EventTypeVipTierChanged = "VIP_TIER_CHANGED"
	EventTypeInventoryLow   = "INVENTORY_LOW_STOCK"
	EventTypePaymentSuccess = "PAYMENT_SUCCESS"
	EventTypePaymentFailed  = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order has been persisted and its stock committed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID    int64           `json:"order_id"`
	UserID     int64           `json:"user_id"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Items      []OrderItemData `json:"items"`
}

// OrderStatusEvent published for paid, shipped, delivered and cancelled orders
type OrderStatusEvent struct {
	BaseEvent
	OrderID        int64           `json:"order_id"`
	UserID         int64           `json:"user_id"`
	PreviousStatus OrderStatus     `json:"previous_status"`
	Status         OrderStatus     `json:"status"`
	TotalPrice     decimal.Decimal `json:"total_price"`
}

// VipTierChangedEvent published when a customer's loyalty tier moves
type VipTierChangedEvent struct {
	BaseEvent
	UserID        int64           `json:"user_id"`
	PreviousTier  int             `json:"previous_tier"`
	NewTier       int             `json:"new_tier"`
	TotalSpending decimal.Decimal `json:"total_spending"`
	Reason        string          `json:"reason"`
}

// InventoryLowStockEvent published when a mutation leaves a product at or below its threshold
type InventoryLowStockEvent struct {
	BaseEvent
	ProductID         int64 `json:"product_id"`
	Available         int   `json:"available"`
	LowStockThreshold int   `json:"low_stock_threshold"`
}

// PaymentSuccessEvent published by the payment provider
type PaymentSuccessEvent struct {
	BaseEvent
	OrderID   int64           `json:"order_id"`
	PaymentID int64           `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	TxID      string          `json:"tx_id"`
}

// PaymentFailedEvent published by the payment provider
type PaymentFailedEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	PaymentID int64  `json:"payment_id"`
	Reason    string `json:"reason"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID              int64           `json:"product_id"`
	Quantity               int             `json:"quantity"`
	UnitPrice              decimal.Decimal `json:"unit_price"`
	ProductDiscountPercent decimal.Decimal `json:"product_discount_percent"`
	VipDiscountPercent     decimal.Decimal `json:"vip_discount_percent"`
}
