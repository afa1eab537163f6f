package storage

import (
	"context"

	"ms-marketplace/internal/models"
)

type Store interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	// Record returns false if the event was already recorded.
	Record(ctx context.Context, ev *models.PaymentEvent) (bool, error)
	ListByPaymentRef(ctx context.Context, ref string) ([]models.PaymentEvent, error)
}
