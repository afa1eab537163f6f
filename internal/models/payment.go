package models

import (
	"time"

	"github.com/uptrace/bun"
)

type VendorLedger struct {
	bun.BaseModel `bun:"table:vendor_ledgers"`

	VendorID       string    `bun:"vendor_id,pk" json:"vendor_id"`
	Balance        int64     `bun:"balance,notnull" json:"balance"`
	FrozenBalance  int64     `bun:"frozen_balance,notnull" json:"frozen_balance"`
	TotalWithdrawn int64     `bun:"total_withdrawn,notnull" json:"total_withdrawn"`
	UpdatedAt      time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "PENDING"
	PayoutProcessed PayoutStatus = "PROCESSED"
	PayoutRejected  PayoutStatus = "REJECTED"
)

type PayoutRequest struct {
	bun.BaseModel `bun:"table:payout_requests"`

	ID            string       `bun:"id,pk" json:"id"`
	VendorID      string       `bun:"vendor_id,notnull" json:"vendor_id"`
	Amount        int64        `bun:"amount,notnull" json:"amount"`
	PayoutDetails string       `bun:"payout_details,notnull" json:"payout_details"`
	Status        PayoutStatus `bun:"status,notnull" json:"status"`
	CreatedAt     time.Time    `bun:"created_at,notnull" json:"created_at"`
	ResolvedAt    time.Time    `bun:"resolved_at,nullzero" json:"resolved_at,omitempty"`
}

type PayoutCreateRequest struct {
	Amount        int64  `json:"amount"`
	PayoutDetails string `json:"payout_details"`
}

type PayoutSettleRequest struct {
	Status PayoutStatus `json:"status"`
}

// PaymentResult is what the payment processor reports for a paymentRef.
type PaymentResult struct {
	EventID    string `json:"event_id"`
	PaymentRef string `json:"payment_ref"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	Reason     string `json:"reason,omitempty"`
}

const (
	PaymentSucceeded = "SUCCEEDED"
	PaymentFailed    = "FAILED"
)

// PaymentEvent records every payment result that was applied.
type PaymentEvent struct {
	bun.BaseModel `bun:"table:payment_events"`

	EventID    string    `bun:"event_id,pk" json:"event_id"`
	PaymentRef string    `bun:"payment_ref,notnull" json:"payment_ref"`
	Status     string    `bun:"status,notnull" json:"status"`
	Amount     int64     `bun:"amount,notnull" json:"amount"`
	Reason     string    `bun:"reason" json:"reason,omitempty"`
	ReceivedAt time.Time `bun:"received_at,notnull" json:"received_at"`
}

type ReleaseKey struct {
	bun.BaseModel `bun:"table:release_keys"`

	OrderID   string    `bun:"order_id,pk"`
	CodeHash  string    `bun:"code_hash,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type RedeemRequest struct {
	Code string `json:"code"`
}
