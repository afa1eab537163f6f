package models

import (
	"time"

	"github.com/uptrace/bun"
)

type VendorStatus string

const (
	VendorPending   VendorStatus = "PENDING"
	VendorActive    VendorStatus = "ACTIVE"
	VendorSuspended VendorStatus = "SUSPENDED"
)

type Vendor struct {
	bun.BaseModel `bun:"table:vendors"`

	ID           string       `bun:"id,pk" json:"id"`
	ShopName     string       `bun:"shop_name,notnull" json:"shop_name"`
	ShopLandmark string       `bun:"shop_landmark" json:"shop_landmark"`
	Status       VendorStatus `bun:"status,notnull" json:"status"`
	CreatedAt    time.Time    `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt    time.Time    `bun:"updated_at,notnull" json:"updated_at"`
}

type VendorApplication struct {
	ShopName     string `json:"shop_name"`
	ShopLandmark string `json:"shop_landmark"`
}
