package order

import (
	"context"
	"fmt"
	"time"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/clock"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/notify"
	"ms-marketplace/internal/utils"

	"github.com/google/uuid"
)

type DBLayer interface {
	Catalog
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateOrderGroup(ctx context.Context, group *models.OrderGroup, orders []*models.Order, items []*models.OrderItem, key *models.CheckoutKey) error
	GetCheckoutKey(ctx context.Context, key string) (*models.CheckoutKey, error)
	DeleteCheckoutKey(ctx context.Context, key string) error
	GetOrderGroup(ctx context.Context, id string) (*models.OrderGroup, error)
	GetOrderGroupByPaymentRef(ctx context.Context, ref string) (*models.OrderGroup, error)
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	ListOrdersByBuyer(ctx context.Context, buyerID string) ([]models.Order, error)
	UpdateOrderState(ctx context.Context, id string, from, to models.OrderState, at time.Time) (bool, error)
	RestockFlashSales(ctx context.Context, items []*models.OrderItem) error
}

type RedisLock interface {
	AcquireCheckout(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseCheckout(ctx context.Context, key string) error
}

// Gate is the system config service.
type Gate interface {
	Check(ctx context.Context, p models.Principal, feature string) error
	Current(ctx context.Context) (models.SystemConfig, error)
}

// KeyIssuer creates a release key for an order that just became PAID. It must
// join the transaction carried on ctx.
type KeyIssuer interface {
	Issue(ctx context.Context, orderID string) (string, error)
}

type Notifier interface {
	Publish(ctx context.Context, event, key string, payload interface{}) error
}

type Options struct {
	DedupWindow time.Duration
	LockTTL     time.Duration
	Clock       clock.Clock
	Logger      *logger.Logger
}

type OrderService struct {
	DB       DBLayer
	Redis    RedisLock
	Gate     Gate
	Keys     KeyIssuer
	Notifier Notifier

	clock  clock.Clock
	logger *logger.Logger
	opts   Options
}

func NewOrderService(db DBLayer, redis RedisLock, gate Gate, keys KeyIssuer, notifier Notifier, opts Options) *OrderService {
	if opts.DedupWindow == 0 {
		opts.DedupWindow = 15 * time.Minute
	}
	if opts.LockTTL == 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &OrderService{
		DB:       db,
		Redis:    redis,
		Gate:     gate,
		Keys:     keys,
		Notifier: notifier,
		clock:    opts.Clock,
		logger:   opts.Logger,
		opts:     opts,
	}
}

// ---------------- CHECKOUT ----------------

// CreateOrder turns a cart into one OrderGroup with one PENDING Order per
// vendor. A retry of the same checkout while the group is still unpaid
// returns the existing payment reference.
func (s *OrderService) CreateOrder(ctx context.Context, p models.Principal, req models.CheckoutRequest) (*models.CheckoutResult, error) {
	if err := s.Gate.Check(ctx, p, models.FeatureCheckout); err != nil {
		return nil, err
	}
	if !req.FulfillmentType.Valid() {
		return nil, apperr.Validation("fulfillment_type must be PICKUP or DELIVERY")
	}
	lines, err := NormalizeCart(req)
	if err != nil {
		return nil, err
	}

	fingerprint := Fingerprint(p.ID, req.FulfillmentType, lines)
	key := IdempotencyKey(req.IdempotencyKey, p.ID, fingerprint)

	locked, err := s.Redis.AcquireCheckout(ctx, key, s.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, apperr.Conflict("checkout already in progress")
	}
	defer func() {
		if err := s.Redis.ReleaseCheckout(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("ORDER", fmt.Sprintf("failed to release checkout lock: %v", err))
		}
	}()

	if res, err := s.resumeCheckout(ctx, key, fingerprint); err != nil || res != nil {
		return res, err
	}

	cfg, err := s.Gate.Current(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	resolved, err := ResolvePrices(ctx, s.DB, lines, now)
	if err != nil {
		return nil, err
	}
	baskets, total := SplitByVendor(resolved, req.FulfillmentType, cfg.DeliveryFee)

	group, orders, items := buildAggregate(p.ID, req.FulfillmentType, baskets, total, now)
	group.IdempotencyKey = key
	ck := &models.CheckoutKey{
		Key:          key,
		BuyerID:      p.ID,
		Fingerprint:  fingerprint,
		OrderGroupID: group.ID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.opts.DedupWindow),
	}

	if err := s.DB.CreateOrderGroup(ctx, group, orders, items, ck); err != nil {
		s.logger.Error("ORDER", fmt.Sprintf("checkout failed for buyer %s: %v", p.ID, err))
		return nil, err
	}
	s.logger.LogOrder("CREATE", group.ID, fmt.Sprintf("%d sub-orders, total %d, ref %s", len(orders), total, group.PaymentRef))

	s.publish(ctx, notify.EventOrderCreated, group.ID, notify.OrderCreated{
		OrderGroupID: group.ID,
		BuyerID:      p.ID,
		PaymentRef:   group.PaymentRef,
		TotalAmount:  total,
	})

	return &models.CheckoutResult{
		OrderGroupID: group.ID,
		PaymentRef:   group.PaymentRef,
		TotalAmount:  total,
	}, nil
}

// resumeCheckout returns the earlier result for key while it is unexpired and
// its group still awaits payment. Stale records are removed.
func (s *OrderService) resumeCheckout(ctx context.Context, key, fingerprint string) (*models.CheckoutResult, error) {
	ck, err := s.DB.GetCheckoutKey(ctx, key)
	if err != nil || ck == nil {
		return nil, err
	}

	stale := s.clock.Now().After(ck.ExpiresAt)
	var group *models.OrderGroup
	if !stale {
		group, err = s.DB.GetOrderGroup(ctx, ck.OrderGroupID)
		switch {
		case apperr.KindOf(err) == apperr.KindNotFound:
			stale = true
		case err != nil:
			return nil, err
		case !hasPending(group):
			stale = true
		}
	}
	if stale {
		return nil, s.DB.DeleteCheckoutKey(ctx, key)
	}

	if ck.Fingerprint != fingerprint {
		return nil, apperr.Conflict("idempotency key was already used for a different cart")
	}
	s.logger.LogOrder("RESUME", group.ID, "returning pending checkout")
	return &models.CheckoutResult{
		OrderGroupID: group.ID,
		PaymentRef:   group.PaymentRef,
		TotalAmount:  group.TotalAmount,
		Resumed:      true,
	}, nil
}

func buildAggregate(buyerID string, ft models.FulfillmentType, baskets []VendorBasket, total int64, now time.Time) (*models.OrderGroup, []*models.Order, []*models.OrderItem) {
	group := &models.OrderGroup{
		ID:          uuid.NewString(),
		PaymentRef:  utils.GeneratePaymentRef(),
		TotalAmount: total,
		BuyerID:     buyerID,
		CreatedAt:   now,
	}
	orders := make([]*models.Order, 0, len(baskets))
	var items []*models.OrderItem
	for _, b := range baskets {
		o := &models.Order{
			ID:              uuid.NewString(),
			OrderGroupID:    group.ID,
			BuyerID:         buyerID,
			VendorID:        b.VendorID,
			Amount:          b.Total,
			FulfillmentType: ft,
			Status:          models.OrderPending,
			EscrowStatus:    models.EscrowPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		for _, it := range b.Items {
			item := &models.OrderItem{
				ID:            uuid.NewString(),
				OrderID:       o.ID,
				ProductID:     it.ProductID,
				Quantity:      it.Quantity,
				Price:         it.Price,
				TitleSnapshot: it.TitleSnapshot,
				FlashSaleID:   it.FlashSaleID,
			}
			o.Items = append(o.Items, item)
			items = append(items, item)
		}
		orders = append(orders, o)
	}
	group.Orders = orders
	return group, orders, items
}

// ---------------- TRANSITIONS ----------------

// AdvanceStatus moves an order on behalf of a caller. The trigger is derived
// from the caller's relation to the order.
func (s *OrderService) AdvanceStatus(ctx context.Context, p models.Principal, orderID string, to models.OrderStatus) (*models.Order, error) {
	if err := s.Gate.Check(ctx, p, models.FeatureOrderUpdates); err != nil {
		return nil, err
	}
	o, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	trigger, err := triggerFor(p, o)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, o, to, trigger)
}

// CancelOrder is the buyer path. It only succeeds while the order is PENDING or PAID.
func (s *OrderService) CancelOrder(ctx context.Context, p models.Principal, orderID string) (*models.Order, error) {
	if err := s.Gate.Check(ctx, p, models.FeatureOrderUpdates); err != nil {
		return nil, err
	}
	o, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != p.ID {
		return nil, apperr.Forbidden("only the buyer can cancel this order")
	}
	return s.apply(ctx, o, models.OrderCancelled, TriggerBuyer)
}

// RefundOrder cancels at any pre-fulfilment stage and refunds held escrow.
func (s *OrderService) RefundOrder(ctx context.Context, p models.Principal, orderID string) (*models.Order, error) {
	if err := s.Gate.Check(ctx, p, models.FeatureOrderUpdates); err != nil {
		return nil, err
	}
	o, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.VendorID != p.ID && !p.Can(models.CapRefundAny) {
		return nil, apperr.Forbidden("only the vendor or an operator can refund this order")
	}
	return s.apply(ctx, o, models.OrderCancelled, TriggerRefund)
}

func triggerFor(p models.Principal, o *models.Order) (Trigger, error) {
	switch {
	case p.ID == o.VendorID:
		return TriggerVendor, nil
	case p.ID == o.BuyerID:
		return TriggerBuyer, nil
	case p.Role == models.RoleRunner:
		return TriggerRunner, nil
	case p.Role == models.RoleAdmin:
		return TriggerSystem, nil
	}
	return "", apperr.Forbidden("not a party to this order")
}

func (s *OrderService) apply(ctx context.Context, o *models.Order, to models.OrderStatus, trigger Trigger) (*models.Order, error) {
	from := o.State()
	next, err := Transition(o, to, trigger)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		return s.commit(ctx, o, next, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.LogOrder("STATUS", o.ID, fmt.Sprintf("%s/%s -> %s/%s by %s", from.Status, from.Escrow, next.Status, next.Escrow, trigger))
	s.publishStatus(ctx, o, from)
	return o, nil
}

// commit must run inside a transaction.
func (s *OrderService) commit(ctx context.Context, o *models.Order, next models.OrderState, now time.Time) error {
	ok, err := s.DB.UpdateOrderState(ctx, o.ID, o.State(), next, now)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.StateConflict("order was modified concurrently")
	}
	if next.Status == models.OrderCancelled {
		if err := s.DB.RestockFlashSales(ctx, o.Items); err != nil {
			return err
		}
	}
	o.Status, o.EscrowStatus, o.UpdatedAt = next.Status, next.Escrow, now
	return nil
}

// ---------------- READS ----------------

func (s *OrderService) GetOrder(ctx context.Context, p models.Principal, orderID string) (*models.Order, error) {
	o, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := triggerFor(p, o); err != nil {
		return nil, apperr.NotFound("order not found")
	}
	return o, nil
}

func (s *OrderService) GetOrderGroup(ctx context.Context, p models.Principal, groupID string) (*models.OrderGroup, error) {
	g, err := s.DB.GetOrderGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.BuyerID != p.ID && p.Role != models.RoleAdmin {
		return nil, apperr.NotFound("order group not found")
	}
	return g, nil
}

// ListBuyerOrders is the caller's own purchase history, newest first.
func (s *OrderService) ListBuyerOrders(ctx context.Context, p models.Principal) ([]models.Order, error) {
	orders, err := s.DB.ListOrdersByBuyer(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list orders for buyer %s: %w", p.ID, err)
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

// ---------------- NOTIFICATIONS ----------------

// publish never fails the caller.
func (s *OrderService) publish(ctx context.Context, event, key string, payload interface{}) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Publish(context.WithoutCancel(ctx), event, key, payload); err != nil {
		s.logger.Warn("NOTIFY", fmt.Sprintf("failed to publish %s for %s: %v", event, key, err))
	}
}

func (s *OrderService) publishStatus(ctx context.Context, o *models.Order, from models.OrderState) {
	s.publish(ctx, notify.EventOrderStatusChanged, o.ID, notify.StatusChanged{
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		VendorID:   o.VendorID,
		FromStatus: string(from.Status),
		Status:     string(o.Status),
		Escrow:     string(o.EscrowStatus),
	})
}
