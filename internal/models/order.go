package models

import (
	"time"

	"github.com/uptrace/bun"
)

type FulfillmentType string

const (
	FulfillmentPickup   FulfillmentType = "PICKUP"
	FulfillmentDelivery FulfillmentType = "DELIVERY"
)

func (f FulfillmentType) Valid() bool {
	return f == FulfillmentPickup || f == FulfillmentDelivery
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPaid      OrderStatus = "PAID"
	OrderPreparing OrderStatus = "PREPARING"
	OrderReady     OrderStatus = "READY"
	OrderPickedUp  OrderStatus = "PICKED_UP"
	OrderShipped   OrderStatus = "SHIPPED"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
)

type EscrowStatus string

const (
	EscrowPending  EscrowStatus = "PENDING"
	EscrowHeld     EscrowStatus = "HELD"
	EscrowReleased EscrowStatus = "RELEASED"
	EscrowRefunded EscrowStatus = "REFUNDED"
)

// OrderState is the pair of fields governed by the order and escrow machines.
type OrderState struct {
	Status OrderStatus
	Escrow EscrowStatus
}

// OrderGroup is the buyer-facing aggregate of one checkout.
type OrderGroup struct {
	bun.BaseModel `bun:"table:order_groups"`

	ID             string    `bun:"id,pk" json:"id"`
	PaymentRef     string    `bun:"payment_ref,notnull,unique" json:"payment_ref"`
	TotalAmount    int64     `bun:"total_amount,notnull" json:"total_amount"`
	BuyerID        string    `bun:"buyer_id,notnull" json:"buyer_id"`
	IdempotencyKey string    `bun:"idempotency_key" json:"-"`
	CreatedAt      time.Time `bun:"created_at,notnull" json:"created_at"`

	Orders []*Order `bun:"rel:has-many,join:id=order_group_id" json:"orders,omitempty"`
}

// Order is one vendor's share of an OrderGroup.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID              string          `bun:"id,pk" json:"id"`
	OrderGroupID    string          `bun:"order_group_id,notnull" json:"order_group_id"`
	BuyerID         string          `bun:"buyer_id,notnull" json:"buyer_id"`
	VendorID        string          `bun:"vendor_id,notnull" json:"vendor_id"`
	Amount          int64           `bun:"amount,notnull" json:"amount"`
	FulfillmentType FulfillmentType `bun:"fulfillment_type,notnull" json:"fulfillment_type"`
	Status          OrderStatus     `bun:"status,notnull" json:"status"`
	EscrowStatus    EscrowStatus    `bun:"escrow_status,notnull" json:"escrow_status"`
	CreatedAt       time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt       time.Time       `bun:"updated_at,notnull" json:"updated_at"`

	Items []*OrderItem `bun:"rel:has-many,join:id=order_id" json:"items,omitempty"`
}

func (o *Order) State() OrderState {
	return OrderState{Status: o.Status, Escrow: o.EscrowStatus}
}

type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID            string  `bun:"id,pk" json:"id"`
	OrderID       string  `bun:"order_id,notnull" json:"order_id"`
	ProductID     string  `bun:"product_id,notnull" json:"product_id"`
	Quantity      int     `bun:"quantity,notnull" json:"quantity"`
	Price         int64   `bun:"price,notnull" json:"price"`
	TitleSnapshot string  `bun:"title_snapshot,notnull" json:"title"`
	FlashSaleID   *string `bun:"flash_sale_id" json:"flash_sale_id,omitempty"`
}

// CheckoutKey maps an idempotency key to the group it produced.
type CheckoutKey struct {
	bun.BaseModel `bun:"table:checkout_keys"`

	Key          string    `bun:"idem_key,pk"`
	BuyerID      string    `bun:"buyer_id,notnull"`
	Fingerprint  string    `bun:"fingerprint,notnull"`
	OrderGroupID string    `bun:"order_group_id,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
	ExpiresAt    time.Time `bun:"expires_at,notnull"`
}

type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CheckoutRequest accepts either Items or the single legacy ProductID/Quantity pair.
type CheckoutRequest struct {
	Items           []CartLine      `json:"items"`
	ProductID       string          `json:"product_id,omitempty"`
	Quantity        int             `json:"quantity,omitempty"`
	FulfillmentType FulfillmentType `json:"fulfillment_type"`
	IdempotencyKey  string          `json:"-"`
}

type CheckoutResult struct {
	OrderGroupID string `json:"order_group_id"`
	PaymentRef   string `json:"payment_ref"`
	TotalAmount  int64  `json:"total_amount"`
	Resumed      bool   `json:"resumed"`
}

type StatusUpdateRequest struct {
	Status OrderStatus `json:"status"`
}
