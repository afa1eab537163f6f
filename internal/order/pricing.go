package order

import (
	"context"
	"fmt"
	"time"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/models"
)

// Catalog is the read side needed to price a cart.
type Catalog interface {
	ProductsByIDs(ctx context.Context, ids []string) (map[string]models.Product, error)
	FlashSalesForProducts(ctx context.Context, productIDs []string) (map[string][]models.FlashSale, error)
}

type ResolvedLineItem struct {
	ProductID     string
	Quantity      int
	Price         int64
	VendorID      string
	TitleSnapshot string
	FlashSaleID   *string
}

func (r ResolvedLineItem) LineTotal() int64 {
	return r.Price * int64(r.Quantity)
}

// NormalizeCart merges duplicate products, keeping first-seen order. The legacy
// single-item fields are used only when Items is empty.
func NormalizeCart(req models.CheckoutRequest) ([]models.CartLine, error) {
	lines := req.Items
	if len(lines) == 0 && req.ProductID != "" {
		qty := req.Quantity
		if qty == 0 {
			qty = 1
		}
		lines = []models.CartLine{{ProductID: req.ProductID, Quantity: qty}}
	}
	if len(lines) == 0 {
		return nil, apperr.Validation("cart is empty")
	}

	index := make(map[string]int, len(lines))
	out := make([]models.CartLine, 0, len(lines))
	for _, l := range lines {
		if l.ProductID == "" {
			return nil, apperr.Validation("product_id is required")
		}
		if l.Quantity <= 0 {
			return nil, apperr.Validation("quantity for product %s must be positive", l.ProductID)
		}
		if i, ok := index[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out, nil
}

// ResolvePrices freezes the price of every line. A flash sale applies only if
// its window covers now and the requested quantity still fits under the limit.
func ResolvePrices(ctx context.Context, catalog Catalog, lines []models.CartLine, now time.Time) ([]ResolvedLineItem, error) {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}

	products, err := catalog.ProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	for _, id := range ids {
		p, ok := products[id]
		if !ok || !p.Active {
			return nil, apperr.NotFound("product %s not found", id)
		}
	}

	sales, err := catalog.FlashSalesForProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load flash sales: %w", err)
	}

	resolved := make([]ResolvedLineItem, 0, len(lines))
	for _, l := range lines {
		p := products[l.ProductID]
		item := ResolvedLineItem{
			ProductID:     p.ID,
			Quantity:      l.Quantity,
			Price:         p.Price,
			VendorID:      p.VendorID,
			TitleSnapshot: p.Title,
		}
		if sale := bestSale(sales[p.ID], now, l.Quantity); sale != nil {
			id := sale.ID
			item.Price = sale.SalePrice
			item.FlashSaleID = &id
		}
		resolved = append(resolved, item)
	}
	return resolved, nil
}

// bestSale picks the cheapest covering sale when several overlap.
func bestSale(sales []models.FlashSale, now time.Time, qty int) *models.FlashSale {
	var best *models.FlashSale
	for i := range sales {
		s := &sales[i]
		if !s.Covers(now, qty) {
			continue
		}
		if best == nil || s.SalePrice < best.SalePrice {
			best = s
		}
	}
	return best
}
