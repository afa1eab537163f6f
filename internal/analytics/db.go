package analytics

import (
	"context"
	"time"

	"ms-marketplace/internal/models"

	"github.com/uptrace/bun"
)

// DB handles analytics database operations
type DB struct {
	bun *bun.DB
}

// NewDB creates a new analytics DB handler
func NewDB(db *bun.DB) *DB {
	return &DB{bun: db}
}

type StatusCount struct {
	Status models.OrderStatus `bun:"status"`
	Count  int                `bun:"order_count"`
	Amount int64              `bun:"amount_sum"`
}

// CountOrdersByStatus returns one row per status the vendor has orders in.
func (db *DB) CountOrdersByStatus(ctx context.Context, vendorID string) ([]StatusCount, error) {
	var rows []StatusCount
	err := db.bun.NewSelect().
		TableExpr("orders").
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS order_count").
		ColumnExpr("COALESCE(SUM(amount), 0) AS amount_sum").
		Where("vendor_id = ?", vendorID).
		GroupExpr("status").
		OrderExpr("status").
		Scan(ctx, &rows)
	return rows, err
}

// SumByEscrow totals order amounts in one escrow state.
func (db *DB) SumByEscrow(ctx context.Context, vendorID string, escrow models.EscrowStatus) (int64, error) {
	var sum int64
	err := db.bun.NewSelect().
		TableExpr("orders").
		ColumnExpr("COALESCE(SUM(amount), 0)").
		Where("vendor_id = ?", vendorID).
		Where("escrow_status = ?", escrow).
		Scan(ctx, &sum)
	return sum, err
}

// ReleasedOrdersSince returns orders whose funds were released at or after
// since. Time filtering happens in Go so the query stays portable.
func (db *DB) ReleasedOrdersSince(ctx context.Context, vendorID string, since time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := db.bun.NewSelect().
		Model(&orders).
		Where("vendor_id = ?", vendorID).
		Where("escrow_status = ?", models.EscrowReleased).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	recent := orders[:0]
	for _, o := range orders {
		if !o.UpdatedAt.Before(since) {
			recent = append(recent, o)
		}
	}
	return recent, nil
}

type ProductSales struct {
	ProductID string `bun:"product_id" json:"product_id"`
	Title     string `bun:"title" json:"title"`
	Quantity  int    `bun:"quantity_sum" json:"quantity"`
	Revenue   int64  `bun:"revenue_sum" json:"revenue"`
}

// TopProducts ranks the vendor's products by revenue across released orders.
func (db *DB) TopProducts(ctx context.Context, vendorID string, limit int) ([]ProductSales, error) {
	var rows []ProductSales
	err := db.bun.NewSelect().
		TableExpr("order_items AS oi").
		Join("JOIN orders AS o ON o.id = oi.order_id").
		ColumnExpr("oi.product_id").
		ColumnExpr("MAX(oi.title_snapshot) AS title").
		ColumnExpr("SUM(oi.quantity) AS quantity_sum").
		ColumnExpr("SUM(oi.quantity * oi.price) AS revenue_sum").
		Where("o.vendor_id = ?", vendorID).
		Where("o.escrow_status = ?", models.EscrowReleased).
		GroupExpr("oi.product_id").
		OrderExpr("revenue_sum DESC, oi.product_id").
		Limit(limit).
		Scan(ctx, &rows)
	return rows, err
}
