package vetting

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

	"github.com/uptrace/bun"
)

type Gate interface {
	Check(ctx context.Context, p models.Principal, feature string) error
}

type Notifier interface {
	Publish(ctx context.Context, event, key string, payload interface{}) error
}

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

// EvaluateApplication registers or updates the caller's shop and returns the
// stored vendor record.
func (s *Service) EvaluateApplication(ctx context.Context, p models.Principal, app models.VendorApplication) (*models.Vendor, error) {
	if err := s.Gate.Check(ctx, p, models.FeatureVendorOnboarding); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(app.ShopName)
	landmark := strings.TrimSpace(app.ShopLandmark)

	var vendor *models.Vendor
	var decision Decision
	err := database.WithTx(ctx, s.DB, func(ctx context.Context) error {
		existing, err := s.getVendor(ctx, p.ID)
		if err != nil {
			return err
		}
		// operator decisions stand: ACTIVE is never demoted, SUSPENDED never lifted
		if existing != nil && (existing.Status == models.VendorActive || existing.Status == models.VendorSuspended) {
			vendor = existing
			decision = Decision{Status: existing.Status}
			return nil
		}

		taken := false
		if name != "" {
			taken, err = s.nameTaken(ctx, name, p.ID)
			if err != nil {
				return err
			}
		}
		decision, err = Decide(Input{ShopName: name, ShopLandmark: landmark, NameTaken: taken})
		if err != nil {
			return err
		}

		now := s.Clock.Now()
		vendor = &models.Vendor{
			ID:           p.ID,
			ShopName:     name,
			ShopLandmark: landmark,
			Status:       decision.Status,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if existing != nil {
			vendor.CreatedAt = existing.CreatedAt
		}
		_, err = database.Conn(ctx, s.DB).NewInsert().
			Model(vendor).
			On("CONFLICT (id) DO UPDATE").
			Set("shop_name = EXCLUDED.shop_name").
			Set("shop_landmark = EXCLUDED.shop_landmark").
			Set("status = EXCLUDED.status").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("shop name %q is already taken", name)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(decision.Flagged) > 0 {
		s.Logger.LogSecurity("VENDOR_FLAGGED", fmt.Sprintf("vendor %s held for review, matched %s", p.ID, strings.Join(decision.Flagged, ",")))
	} else {
		s.Logger.Info("VETTING", fmt.Sprintf("vendor %s is %s", p.ID, decision.Status))
	}
	if s.Notifier != nil {
		payload := notify.VendorReviewed{VendorID: vendor.ID, Status: string(vendor.Status)}
		if err := s.Notifier.Publish(context.WithoutCancel(ctx), notify.EventVendorReviewed, vendor.ID, payload); err != nil {
			s.Logger.Warn("NOTIFY", fmt.Sprintf("failed to publish %s: %v", notify.EventVendorReviewed, err))
		}
	}
	return vendor, nil
}

func (s *Service) GetVendor(ctx context.Context, id string) (*models.Vendor, error) {
	v, err := s.getVendor(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, apperr.NotFound("vendor not found")
	}
	return v, nil
}

func (s *Service) getVendor(ctx context.Context, id string) (*models.Vendor, error) {
	var v models.Vendor
	err := database.Conn(ctx, s.DB).NewSelect().Model(&v).Where("id = ?", id).Limit(1).Scan(ctx)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Service) nameTaken(ctx context.Context, name, selfID string) (bool, error) {
	return database.Conn(ctx, s.DB).NewSelect().
		Model((*models.Vendor)(nil)).
		Where("lower(shop_name) = lower(?)", name).
		Where("id != ?", selfID).
		Exists(ctx)
}
