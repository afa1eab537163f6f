package notify

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventReleaseKeyIssued   = "release_key.issued"
	EventEscrowReleased     = "escrow.released"
	EventVendorAlert        = "vendor.alert"
	EventPaymentOrphaned    = "payment.orphaned"
	EventPayoutRequested    = "payout.requested"
	EventPayoutSettled      = "payout.settled"
	EventVendorReviewed     = "vendor.reviewed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreated struct {
	OrderGroupID string `json:"order_group_id"`
	BuyerID      string `json:"buyer_id"`
	PaymentRef   string `json:"payment_ref"`
	TotalAmount  int64  `json:"total_amount"`
}

type StatusChanged struct {
	OrderID    string `json:"order_id"`
	BuyerID    string `json:"buyer_id"`
	VendorID   string `json:"vendor_id"`
	FromStatus string `json:"from_status"`
	Status     string `json:"status"`
	Escrow     string `json:"escrow_status"`
}

// ReleaseKeyIssued goes to the buyer only.
type ReleaseKeyIssued struct {
	OrderID string `json:"order_id"`
	BuyerID string `json:"buyer_id"`
	Code    string `json:"code"`
}

type EscrowReleased struct {
	OrderID  string `json:"order_id"`
	VendorID string `json:"vendor_id"`
	Credited int64  `json:"credited"`
}

type VendorAlert struct {
	VendorID string `json:"vendor_id"`
	OrderID  string `json:"order_id,omitempty"`
	Amount   int64  `json:"amount,omitempty"`
	Message  string `json:"message"`
}

type PaymentOrphaned struct {
	OrderGroupID string `json:"order_group_id"`
	PaymentRef   string `json:"payment_ref"`
	Cancelled    int    `json:"cancelled_orders"`
}

type PayoutEvent struct {
	PayoutID string `json:"payout_id"`
	VendorID string `json:"vendor_id"`
	Amount   int64  `json:"amount"`
	Status   string `json:"status"`
}

type VendorReviewed struct {
	VendorID string `json:"vendor_id"`
	Status   string `json:"status"`
}
