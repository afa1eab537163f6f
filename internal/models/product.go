package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Product struct {
	bun.BaseModel `bun:"table:products"`

	ID        string    `bun:"id,pk" json:"id"`
	VendorID  string    `bun:"vendor_id,notnull" json:"vendor_id"`
	Title     string    `bun:"title,notnull" json:"title"`
	Price     int64     `bun:"price,notnull" json:"price"`
	Active    bool      `bun:"active,notnull" json:"active"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

type FlashSale struct {
	bun.BaseModel `bun:"table:flash_sales"`

	ID         string    `bun:"id,pk" json:"id"`
	ProductID  string    `bun:"product_id,notnull" json:"product_id"`
	StartTime  time.Time `bun:"start_time,notnull" json:"start_time"`
	EndTime    time.Time `bun:"end_time,notnull" json:"end_time"`
	SalePrice  int64     `bun:"sale_price,notnull" json:"sale_price"`
	StockSold  int       `bun:"stock_sold,notnull" json:"stock_sold"`
	StockLimit int       `bun:"stock_limit,notnull" json:"stock_limit"`
}

// ActiveAt reports whether the sale window covers now and stock remains.
func (f FlashSale) ActiveAt(now time.Time) bool {
	return !now.Before(f.StartTime) && !now.After(f.EndTime) && f.StockSold < f.StockLimit
}

// Covers is ActiveAt plus room for qty more units.
func (f FlashSale) Covers(now time.Time, qty int) bool {
	return f.ActiveAt(now) && f.StockSold+qty <= f.StockLimit
}
