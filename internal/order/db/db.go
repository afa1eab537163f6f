package db

import (
	"context"
	"fmt"
	"time"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/database"
	"ms-marketplace/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithTx(ctx, d.Bun, fn)
}

func (d *DB) conn(ctx context.Context) bun.IDB {
	return database.Conn(ctx, d.Bun)
}

// ---------------- CATALOG ----------------

func (d *DB) ProductsByIDs(ctx context.Context, ids []string) (map[string]models.Product, error) {
	var products []models.Product
	err := d.conn(ctx).NewSelect().
		Model(&products).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// FlashSalesForProducts returns every sale row; activity is decided by the caller.
func (d *DB) FlashSalesForProducts(ctx context.Context, productIDs []string) (map[string][]models.FlashSale, error) {
	var sales []models.FlashSale
	err := d.conn(ctx).NewSelect().
		Model(&sales).
		Where("product_id IN (?)", bun.In(productIDs)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]models.FlashSale)
	for _, s := range sales {
		out[s.ProductID] = append(out[s.ProductID], s)
	}
	return out, nil
}

func (d *DB) GetFlashSale(ctx context.Context, id string) (*models.FlashSale, error) {
	var sale models.FlashSale
	err := d.conn(ctx).NewSelect().Model(&sale).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "flash sale not found")
	}
	return &sale, nil
}

// ---------------- CHECKOUT ----------------

// CreateOrderGroup writes the whole aggregate in one transaction. Flash sale
// stock is claimed with a conditional update, so a sale that filled up since
// pricing aborts everything.
func (d *DB) CreateOrderGroup(ctx context.Context, group *models.OrderGroup, orders []*models.Order, items []*models.OrderItem, key *models.CheckoutKey) error {
	return d.WithTx(ctx, func(ctx context.Context) error {
		conn := d.conn(ctx)

		if _, err := conn.NewInsert().Model(group).Exec(ctx); err != nil {
			return fmt.Errorf("insert order group: %w", err)
		}
		if _, err := conn.NewInsert().Model(&orders).Exec(ctx); err != nil {
			return fmt.Errorf("insert orders: %w", err)
		}
		if _, err := conn.NewInsert().Model(&items).Exec(ctx); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}

		for _, it := range items {
			if it.FlashSaleID == nil {
				continue
			}
			res, err := conn.NewUpdate().
				Model((*models.FlashSale)(nil)).
				Set("stock_sold = stock_sold + ?", it.Quantity).
				Where("id = ?", *it.FlashSaleID).
				Where("stock_sold + ? <= stock_limit", it.Quantity).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("claim flash sale stock: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return apperr.Conflict("flash sale for product %s sold out, please retry", it.ProductID)
			}
		}

		if key != nil {
			if _, err := conn.NewInsert().Model(key).Exec(ctx); err != nil {
				if database.IsUniqueViolation(err) {
					return apperr.Conflict("checkout already in progress")
				}
				return fmt.Errorf("insert checkout key: %w", err)
			}
		}
		return nil
	})
}

// GetCheckoutKey returns nil when no record exists.
func (d *DB) GetCheckoutKey(ctx context.Context, key string) (*models.CheckoutKey, error) {
	var ck models.CheckoutKey
	err := d.conn(ctx).NewSelect().Model(&ck).Where("idem_key = ?", key).Limit(1).Scan(ctx)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ck, nil
}

func (d *DB) DeleteCheckoutKey(ctx context.Context, key string) error {
	_, err := d.conn(ctx).NewDelete().
		Model((*models.CheckoutKey)(nil)).
		Where("idem_key = ?", key).
		Exec(ctx)
	return err
}

// ---------------- ORDERS ----------------

func (d *DB) GetOrderGroup(ctx context.Context, id string) (*models.OrderGroup, error) {
	var group models.OrderGroup
	err := d.conn(ctx).NewSelect().
		Model(&group).
		Relation("Orders", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("created_at", "id")
		}).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "order group not found")
	}
	return &group, nil
}

func (d *DB) GetOrderGroupByPaymentRef(ctx context.Context, ref string) (*models.OrderGroup, error) {
	var group models.OrderGroup
	err := d.conn(ctx).NewSelect().
		Model(&group).
		Relation("Orders").
		Where("?TableAlias.payment_ref = ?", ref).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "payment reference not found")
	}
	return &group, nil
}

// GetOrderByID → one sub-order with its items
func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.conn(ctx).NewSelect().
		Model(&order).
		Relation("Items").
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "order not found")
	}
	return &order, nil
}

func (d *DB) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]models.Order, error) {
	var orders []models.Order
	err := d.conn(ctx).NewSelect().
		Model(&orders).
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Scan(ctx)
	return orders, err
}

// UpdateOrderState is a compare-and-set on both status fields. It reports
// false when the row no longer matches from.
func (d *DB) UpdateOrderState(ctx context.Context, id string, from, to models.OrderState, at time.Time) (bool, error) {
	res, err := d.conn(ctx).NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", to.Status).
		Set("escrow_status = ?", to.Escrow).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", from.Status).
		Where("escrow_status = ?", from.Escrow).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RestockFlashSales gives back stock claimed by cancelled items.
func (d *DB) RestockFlashSales(ctx context.Context, items []*models.OrderItem) error {
	for _, it := range items {
		if it.FlashSaleID == nil {
			continue
		}
		_, err := d.conn(ctx).NewUpdate().
			Model((*models.FlashSale)(nil)).
			Set("stock_sold = stock_sold - ?", it.Quantity).
			Where("id = ?", *it.FlashSaleID).
			Where("stock_sold >= ?", it.Quantity).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("restock flash sale %s: %w", *it.FlashSaleID, err)
		}
	}
	return nil
}

func notFound(err error, msg string) error {
	if database.IsNoRows(err) {
		return apperr.Wrap(apperr.KindNotFound, err, msg)
	}
	return err
}
