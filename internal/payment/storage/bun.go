package storage

import (
	"context"
	"fmt"

	"ms-marketplace/internal/database"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"

	"github.com/uptrace/bun"
)

type BunStore struct {
	db  *bun.DB
	log *logger.Logger
}

func NewBunStore(db *bun.DB, log *logger.Logger) *BunStore {
	return &BunStore{db: db, log: log}
}

func (s *BunStore) Seen(ctx context.Context, eventID string) (bool, error) {
	return database.Conn(ctx, s.db).NewSelect().
		Model((*models.PaymentEvent)(nil)).
		Where("event_id = ?", eventID).
		Exists(ctx)
}

func (s *BunStore) Record(ctx context.Context, ev *models.PaymentEvent) (bool, error) {
	res, err := database.Conn(ctx, s.db).NewInsert().
		Model(ev).
		On("CONFLICT (event_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("failed to record payment event %s: %v", ev.EventID, err))
		return false, fmt.Errorf("record payment event: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *BunStore) ListByPaymentRef(ctx context.Context, ref string) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	err := database.Conn(ctx, s.db).NewSelect().
		Model(&events).
		Where("payment_ref = ?", ref).
		Order("received_at ASC").
		Scan(ctx)
	return events, err
}
