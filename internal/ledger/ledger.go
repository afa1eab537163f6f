package ledger

import (
	"context"
	"fmt"
	"strings"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/clock"
	"ms-marketplace/internal/database"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/notify"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Gate interface {
	Check(ctx context.Context, p models.Principal, feature string) error
}

type Notifier interface {
	Publish(ctx context.Context, event, key string, payload interface{}) error
}

// Service owns vendor balances. Every mutation is a conditional update on the
// vendor's ledger row, so concurrent requests serialize on that row and a
// stale read can never pass the balance check.
type Service struct {
	DB       *bun.DB
	Gate     Gate
	Notifier Notifier
	Clock    clock.Clock
	Logger   *logger.Logger
}

func NewService(db *bun.DB, gate Gate, notifier Notifier, clk clock.Clock, log *logger.Logger) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Service{DB: db, Gate: gate, Notifier: notifier, Clock: clk, Logger: log}
}

func (s *Service) conn(ctx context.Context) bun.IDB {
	return database.Conn(ctx, s.DB)
}

// Credit adds amount to the vendor's balance. It joins the caller's
// transaction when there is one.
func (s *Service) Credit(ctx context.Context, vendorID string, amount int64) error {
	if amount < 0 {
		return apperr.Validation("credit amount cannot be negative")
	}
	now := s.Clock.Now()
	conn := s.conn(ctx)

	row := &models.VendorLedger{VendorID: vendorID, UpdatedAt: now}
	if _, err := conn.NewInsert().Model(row).On("CONFLICT (vendor_id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	_, err := conn.NewUpdate().
		Model((*models.VendorLedger)(nil)).
		Set("balance = balance + ?", amount).
		Set("updated_at = ?", now).
		Where("vendor_id = ?", vendorID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("credit ledger: %w", err)
	}
	s.Logger.LogLedger("CREDIT", vendorID, fmt.Sprintf("+%d", amount))
	return nil
}

func (s *Service) GetLedger(ctx context.Context, vendorID string) (*models.VendorLedger, error) {
	var l models.VendorLedger
	err := s.conn(ctx).NewSelect().Model(&l).Where("vendor_id = ?", vendorID).Limit(1).Scan(ctx)
	if database.IsNoRows(err) {
		return &models.VendorLedger{VendorID: vendorID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// RequestPayout moves amount from balance to frozen and records a PENDING
// request, atomically.
func (s *Service) RequestPayout(ctx context.Context, p models.Principal, amount int64, details string) (*models.PayoutRequest, error) {
	if err := s.Gate.Check(ctx, p, models.FeaturePayouts); err != nil {
		return nil, err
	}
	if p.Role != models.RoleVendor {
		return nil, apperr.Forbidden("only vendors can request payouts")
	}
	if amount <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}
	details = strings.TrimSpace(details)
	if details == "" {
		return nil, apperr.Validation("payout_details is required")
	}

	now := s.Clock.Now()
	req := &models.PayoutRequest{
		ID:            uuid.NewString(),
		VendorID:      p.ID,
		Amount:        amount,
		PayoutDetails: details,
		Status:        models.PayoutPending,
		CreatedAt:     now,
	}

	err := database.WithTx(ctx, s.DB, func(ctx context.Context) error {
		conn := s.conn(ctx)
		res, err := conn.NewUpdate().
			Model((*models.VendorLedger)(nil)).
			Set("balance = balance - ?", amount).
			Set("frozen_balance = frozen_balance + ?", amount).
			Set("updated_at = ?", now).
			Where("vendor_id = ?", p.ID).
			Where("balance >= ?", amount).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.InsufficientBalance()
		}
		_, err = conn.NewInsert().Model(req).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogLedger("PAYOUT_REQUEST", p.ID, fmt.Sprintf("%d frozen for payout %s", amount, req.ID))
	s.publish(ctx, notify.EventPayoutRequested, req)
	return req, nil
}

// SettlePayout resolves a PENDING request. PROCESSED moves the frozen amount
// to totalWithdrawn; REJECTED returns it to balance.
func (s *Service) SettlePayout(ctx context.Context, p models.Principal, payoutID string, status models.PayoutStatus) (*models.PayoutRequest, error) {
	if !p.Can(models.CapSettlePayouts) {
		return nil, apperr.Forbidden("not allowed to settle payouts")
	}
	if status != models.PayoutProcessed && status != models.PayoutRejected {
		return nil, apperr.Validation("status must be PROCESSED or REJECTED")
	}

	var req models.PayoutRequest
	now := s.Clock.Now()
	err := database.WithTx(ctx, s.DB, func(ctx context.Context) error {
		conn := s.conn(ctx)
		if err := conn.NewSelect().Model(&req).Where("id = ?", payoutID).Limit(1).Scan(ctx); err != nil {
			if database.IsNoRows(err) {
				return apperr.NotFound("payout request not found")
			}
			return err
		}

		res, err := conn.NewUpdate().
			Model((*models.PayoutRequest)(nil)).
			Set("status = ?", status).
			Set("resolved_at = ?", now).
			Where("id = ?", payoutID).
			Where("status = ?", models.PayoutPending).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.StateConflict("payout request already settled")
		}

		q := conn.NewUpdate().
			Model((*models.VendorLedger)(nil)).
			Set("frozen_balance = frozen_balance - ?", req.Amount).
			Set("updated_at = ?", now).
			Where("vendor_id = ?", req.VendorID).
			Where("frozen_balance >= ?", req.Amount)
		if status == models.PayoutProcessed {
			q = q.Set("total_withdrawn = total_withdrawn + ?", req.Amount)
		} else {
			q = q.Set("balance = balance + ?", req.Amount)
		}
		res, err = q.Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("ledger for vendor %s has less frozen than payout %s", req.VendorID, payoutID)
		}
		req.Status = status
		req.ResolvedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogLedger("PAYOUT_"+string(status), req.VendorID, fmt.Sprintf("payout %s amount %d", req.ID, req.Amount))
	s.publish(ctx, notify.EventPayoutSettled, &req)
	return &req, nil
}

func (s *Service) ListPayouts(ctx context.Context, vendorID string) ([]models.PayoutRequest, error) {
	var out []models.PayoutRequest
	err := s.conn(ctx).NewSelect().
		Model(&out).
		Where("vendor_id = ?", vendorID).
		Order("created_at DESC").
		Scan(ctx)
	return out, err
}

func (s *Service) publish(ctx context.Context, event string, req *models.PayoutRequest) {
	if s.Notifier == nil {
		return
	}
	err := s.Notifier.Publish(context.WithoutCancel(ctx), event, req.VendorID, notify.PayoutEvent{
		PayoutID: req.ID,
		VendorID: req.VendorID,
		Amount:   req.Amount,
		Status:   string(req.Status),
	})
	if err != nil {
		s.Logger.Warn("NOTIFY", fmt.Sprintf("failed to publish %s: %v", event, err))
	}
}

