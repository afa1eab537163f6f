package releasekey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/clock"
	"ms-marketplace/internal/database"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/notify"
	"ms-marketplace/internal/order"

	"github.com/uptrace/bun"
)

type OrderStore interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	UpdateOrderState(ctx context.Context, id string, from, to models.OrderState, at time.Time) (bool, error)
}

type Crediter interface {
	Credit(ctx context.Context, vendorID string, amount int64) error
}

type Limiter interface {
	IsLockedOut(ctx context.Context, orderID string) (bool, error)
	RecordFailure(ctx context.Context, orderID string) (bool, error)
	ResetFailures(ctx context.Context, orderID string) error
}

type Gate interface {
	Check(ctx context.Context, p models.Principal, feature string) error
	Current(ctx context.Context) (models.SystemConfig, error)
}

type Notifier interface {
	Publish(ctx context.Context, event, key string, payload interface{}) error
}

type Service struct {
	DB       *bun.DB
	Orders   OrderStore
	Ledger   Crediter
	Limiter  Limiter
	Gate     Gate
	Notifier Notifier

	pepper []byte
	clock  clock.Clock
	logger *logger.Logger
}

func NewService(db *bun.DB, orders OrderStore, ledger Crediter, limiter Limiter, gate Gate, notifier Notifier, pepper string, clk clock.Clock, log *logger.Logger) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		DB:       db,
		Orders:   orders,
		Ledger:   ledger,
		Limiter:  limiter,
		Gate:     gate,
		Notifier: notifier,
		pepper:   []byte(pepper),
		clock:    clk,
		logger:   log,
	}
}

type Reissued struct {
	OrderID string `json:"order_id"`
	Code    string `json:"code"`
	QRPNG   []byte `json:"qr_png"`
}

var redeemable = map[models.OrderStatus]bool{
	models.OrderReady:    true,
	models.OrderPickedUp: true,
	models.OrderShipped:  true,
}

var (
	errMismatch   = errors.New("release key mismatch")
	errStateMoved = errors.New("order state moved during redemption")
)

// Issue stores a fresh key for the order, replacing any earlier one, and
// returns the plaintext code. Only the hash is persisted.
func (s *Service) Issue(ctx context.Context, orderID string) (string, error) {
	code, err := newCode()
	if err != nil {
		return "", err
	}
	row := &models.ReleaseKey{
		OrderID:   orderID,
		CodeHash:  hashCode(s.pepper, orderID, code),
		CreatedAt: s.clock.Now(),
	}
	_, err = database.Conn(ctx, s.DB).NewInsert().
		Model(row).
		On("CONFLICT (order_id) DO UPDATE").
		Set("code_hash = EXCLUDED.code_hash").
		Set("created_at = EXCLUDED.created_at").
		Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("store release key: %w", err)
	}
	return code, nil
}

// Reissue lets the buyer get a new code while funds are still held. The old
// code stops working.
func (s *Service) Reissue(ctx context.Context, p models.Principal, orderID string) (*Reissued, error) {
	if err := s.Gate.Check(ctx, p, models.FeatureReleaseKeys); err != nil {
		return nil, err
	}
	o, err := s.Orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != p.ID {
		return nil, apperr.NotFound("order not found")
	}
	if o.EscrowStatus != models.EscrowHeld {
		return nil, apperr.StateConflict("order has no funds awaiting release")
	}

	code, err := s.Issue(ctx, orderID)
	if err != nil {
		return nil, err
	}
	png, err := qrPNG(orderID, code)
	if err != nil {
		return nil, fmt.Errorf("render release qr: %w", err)
	}
	s.logger.LogEscrow("KEY_REISSUED", orderID, "buyer requested a new release key")
	return &Reissued{OrderID: orderID, Code: code, QRPNG: png}, nil
}

// Redeem checks and consumes the key in one statement, then releases escrow
// and credits the vendor in the same transaction. Wrong codes all look the
// same to the caller and count toward a lockout.
func (s *Service) Redeem(ctx context.Context, p models.Principal, orderID, code string) error {
	if err := s.Gate.Check(ctx, p, models.FeatureReleaseKeys); err != nil {
		return err
	}

	locked, err := s.Limiter.IsLockedOut(ctx, orderID)
	if err != nil {
		return err
	}
	if locked {
		s.logger.LogSecurity("RELEASE_LOCKED", fmt.Sprintf("attempt on locked order %s by %s", orderID, p.ID))
		return apperr.Denied()
	}

	o, err := s.Orders.GetOrderByID(ctx, orderID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return s.fail(ctx, p, orderID)
	}
	if err != nil {
		return err
	}
	if !canVerify(p, o) {
		return s.fail(ctx, p, orderID)
	}
	if o.EscrowStatus == models.EscrowReleased {
		return apperr.ExpiredKey()
	}
	if o.EscrowStatus != models.EscrowHeld || !redeemable[o.Status] {
		return apperr.StateConflict("order is not awaiting release")
	}
	if !wellFormed(code) {
		return s.fail(ctx, p, orderID)
	}

	cfg, err := s.Gate.Current(ctx)
	if err != nil {
		return err
	}
	credit := o.Amount - cfg.PlatformFee
	if credit < 0 {
		credit = 0
	}

	now := s.clock.Now()
	var next models.OrderState
	err = database.WithTx(ctx, s.DB, func(ctx context.Context) error {
		res, err := database.Conn(ctx, s.DB).NewDelete().
			Model((*models.ReleaseKey)(nil)).
			Where("order_id = ?", orderID).
			Where("code_hash = ?", hashCode(s.pepper, orderID, code)).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errMismatch
		}

		next, err = releasedState(o)
		if err != nil {
			return err
		}
		ok, err := s.Orders.UpdateOrderState(ctx, o.ID, o.State(), next, now)
		if err != nil {
			return err
		}
		if !ok {
			return errStateMoved
		}
		return s.Ledger.Credit(ctx, o.VendorID, credit)
	})

	if errors.Is(err, errStateMoved) {
		// the code was right; the key is restored by the rollback
		if cur, gerr := s.Orders.GetOrderByID(ctx, orderID); gerr == nil && cur.EscrowStatus == models.EscrowReleased {
			return apperr.ExpiredKey()
		}
		return apperr.StateConflict("order changed during redemption, try again")
	}
	if errors.Is(err, errMismatch) {
		// a concurrent redemption may have won
		if cur, gerr := s.Orders.GetOrderByID(ctx, orderID); gerr == nil && cur.EscrowStatus == models.EscrowReleased {
			return apperr.ExpiredKey()
		}
		return s.fail(ctx, p, orderID)
	}
	if err != nil {
		return err
	}

	if err := s.Limiter.ResetFailures(ctx, orderID); err != nil {
		s.logger.Warn("ESCROW", fmt.Sprintf("failed to reset attempts for %s: %v", orderID, err))
	}
	s.logger.LogEscrow("RELEASED", orderID, fmt.Sprintf("%s/%s, vendor %s credited %d", next.Status, next.Escrow, o.VendorID, credit))
	s.publish(ctx, notify.EventEscrowReleased, o.VendorID, notify.EscrowReleased{
		OrderID:  o.ID,
		VendorID: o.VendorID,
		Credited: credit,
	})
	return nil
}

// releasedState is the order state after a successful redemption. A pickup
// order at READY is handed over at the same moment.
func releasedState(o *models.Order) (models.OrderState, error) {
	if !order.CanMoveEscrow(o.EscrowStatus, models.EscrowReleased) {
		return models.OrderState{}, apperr.StateConflict("escrow is %s", o.EscrowStatus)
	}
	state := models.OrderState{Status: o.Status, Escrow: models.EscrowReleased}
	if o.Status == models.OrderReady && o.FulfillmentType == models.FulfillmentPickup {
		moved, err := order.Transition(o, models.OrderPickedUp, order.TriggerReleaseKey)
		if err != nil {
			return models.OrderState{}, err
		}
		state.Status = moved.Status
	}
	return state, nil
}

// canVerify allows the order's vendor, and runners on delivery orders.
func canVerify(p models.Principal, o *models.Order) bool {
	if p.ID == o.VendorID {
		return true
	}
	return p.Role == models.RoleRunner && o.FulfillmentType == models.FulfillmentDelivery
}

func (s *Service) fail(ctx context.Context, p models.Principal, orderID string) error {
	lockedNow, err := s.Limiter.RecordFailure(ctx, orderID)
	if err != nil {
		s.logger.Error("ESCROW", fmt.Sprintf("failed to record attempt for %s: %v", orderID, err))
	}
	s.logger.LogSecurity("RELEASE_DENIED", fmt.Sprintf("order %s by %s (locked=%t)", orderID, p.ID, lockedNow))
	return apperr.Denied()
}

func (s *Service) publish(ctx context.Context, event, key string, payload interface{}) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Publish(context.WithoutCancel(ctx), event, key, payload); err != nil {
		s.logger.Warn("NOTIFY", fmt.Sprintf("failed to publish %s: %v", event, err))
	}
}
