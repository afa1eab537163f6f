package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	FeatureCheckout         = "checkout"
	FeatureOrderUpdates     = "order_updates"
	FeatureReleaseKeys      = "release_keys"
	FeaturePayouts          = "payouts"
	FeatureVendorOnboarding = "vendor_onboarding"
)

var AllFeatures = []string{
	FeatureCheckout,
	FeatureOrderUpdates,
	FeatureReleaseKeys,
	FeaturePayouts,
	FeatureVendorOnboarding,
}

type SystemConfig struct {
	bun.BaseModel `bun:"table:system_config"`

	ID              int       `bun:"id,pk" json:"-"`
	MaintenanceMode bool      `bun:"maintenance_mode,notnull" json:"maintenance_mode"`
	ActiveFeatures  []string  `bun:"active_features" json:"active_features"`
	DeliveryFee     int64     `bun:"delivery_fee,notnull" json:"delivery_fee"`
	PlatformFee     int64     `bun:"platform_fee,notnull" json:"platform_fee"`
	UpdatedAt       time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

func (c SystemConfig) HasFeature(tag string) bool {
	for _, f := range c.ActiveFeatures {
		if f == tag {
			return true
		}
	}
	return false
}

// ConfigPatch carries only the fields being changed.
type ConfigPatch struct {
	MaintenanceMode *bool     `json:"maintenance_mode,omitempty"`
	ActiveFeatures  *[]string `json:"active_features,omitempty"`
	DeliveryFee     *int64    `json:"delivery_fee,omitempty"`
	PlatformFee     *int64    `json:"platform_fee,omitempty"`
}
