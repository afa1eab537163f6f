package analytics

import (
	"context"
	"sort"
	"time"

	"ms-marketplace/internal/clock"
	"ms-marketplace/internal/models"
)

type LedgerReader interface {
	GetLedger(ctx context.Context, vendorID string) (*models.VendorLedger, error)
}

// Service builds vendor dashboards from the order and ledger tables.
type Service struct {
	db     *DB
	ledger LedgerReader
	clock  clock.Clock
}

func NewService(db *DB, ledger LedgerReader, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{db: db, ledger: ledger, clock: clk}
}

// VendorSummary is the vendor's dashboard.
type VendorSummary struct {
	VendorID       string                     `json:"vendor_id"`
	OrdersByStatus map[models.OrderStatus]int `json:"orders_by_status"`
	TotalOrders    int                        `json:"total_orders"`
	GrossSales     int64                      `json:"gross_sales"`
	EscrowHeld     int64                      `json:"escrow_held"`
	Refunded       int64                      `json:"refunded"`
	Ledger         *models.VendorLedger       `json:"ledger"`
	DailyReleased  []DailyReleased            `json:"daily_released"`
	TopProducts    []ProductSales             `json:"top_products"`
}

// DailyReleased contains metrics for a single day
type DailyReleased struct {
	Date    string `json:"date"`
	Orders  int    `json:"orders"`
	Revenue int64  `json:"revenue"`
}

const (
	dailyWindowDays = 30
	topProductLimit = 5
)

// VendorSummary reports gross sales as the sum of orders whose escrow was
// released to the vendor, before the platform fee.
func (s *Service) VendorSummary(ctx context.Context, vendorID string) (*VendorSummary, error) {
	counts, err := s.db.CountOrdersByStatus(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	sum := &VendorSummary{
		VendorID:       vendorID,
		OrdersByStatus: make(map[models.OrderStatus]int, len(counts)),
	}
	for _, c := range counts {
		sum.OrdersByStatus[c.Status] = c.Count
		sum.TotalOrders += c.Count
	}

	if sum.GrossSales, err = s.db.SumByEscrow(ctx, vendorID, models.EscrowReleased); err != nil {
		return nil, err
	}
	if sum.EscrowHeld, err = s.db.SumByEscrow(ctx, vendorID, models.EscrowHeld); err != nil {
		return nil, err
	}
	if sum.Refunded, err = s.db.SumByEscrow(ctx, vendorID, models.EscrowRefunded); err != nil {
		return nil, err
	}
	if sum.Ledger, err = s.ledger.GetLedger(ctx, vendorID); err != nil {
		return nil, err
	}

	since := s.clock.Now().AddDate(0, 0, -dailyWindowDays)
	released, err := s.db.ReleasedOrdersSince(ctx, vendorID, since)
	if err != nil {
		return nil, err
	}
	sum.DailyReleased = bucketByDay(released)

	if sum.TopProducts, err = s.db.TopProducts(ctx, vendorID, topProductLimit); err != nil {
		return nil, err
	}
	return sum, nil
}

func bucketByDay(orders []models.Order) []DailyReleased {
	byDay := map[string]*DailyReleased{}
	for _, o := range orders {
		day := o.UpdatedAt.UTC().Format(time.DateOnly)
		d, ok := byDay[day]
		if !ok {
			d = &DailyReleased{Date: day}
			byDay[day] = d
		}
		d.Orders++
		d.Revenue += o.Amount
	}
	out := make([]DailyReleased, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
