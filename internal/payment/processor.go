package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/clock"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/payment/storage"

	"github.com/segmentio/kafka-go"
)

// Orders is the order service side of a payment result.
type Orders interface {
	ConfirmPayment(ctx context.Context, paymentRef string, amount int64) error
	FailPayment(ctx context.Context, paymentRef, reason string) error
}

type Dedup interface {
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Processor applies payment results reported by the payment processor. The
// same result may arrive more than once from Kafka and the HTTP callback.
type Processor struct {
	Orders Orders
	Dedup  Dedup
	Store  storage.Store
	TTL    time.Duration
	Clock  clock.Clock
	Logger *logger.Logger
}

func NewProcessor(orders Orders, dedup Dedup, store storage.Store, ttl time.Duration, clk clock.Clock, log *logger.Logger) *Processor {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Processor{Orders: orders, Dedup: dedup, Store: store, TTL: ttl, Clock: clk, Logger: log}
}

func validate(res *models.PaymentResult) error {
	res.EventID = strings.TrimSpace(res.EventID)
	res.PaymentRef = strings.TrimSpace(res.PaymentRef)
	res.Status = strings.ToUpper(strings.TrimSpace(res.Status))
	if res.EventID == "" {
		return apperr.Validation("event_id is required")
	}
	if res.PaymentRef == "" {
		return apperr.Validation("payment_ref is required")
	}
	switch res.Status {
	case models.PaymentSucceeded:
		if res.Amount <= 0 {
			return apperr.Validation("amount must be positive")
		}
	case models.PaymentFailed:
	default:
		return apperr.Validation("unknown payment status %q", res.Status)
	}
	return nil
}

// Handle applies res once. It reports false when the event was a duplicate.
func (p *Processor) Handle(ctx context.Context, res models.PaymentResult) (bool, error) {
	if err := validate(&res); err != nil {
		return false, err
	}

	fresh, err := p.Dedup.MarkProcessed(ctx, res.EventID, p.TTL)
	if err != nil {
		return false, apperr.Wrap(apperr.KindServiceUnavailable, err, "payment dedup unavailable")
	}
	if !fresh {
		p.Logger.Info("PAYMENT", fmt.Sprintf("duplicate event %s for %s ignored", res.EventID, res.PaymentRef))
		return false, nil
	}
	// the redis mark expires, the audit row does not
	if seen, err := p.Store.Seen(ctx, res.EventID); err != nil {
		p.forget(ctx, res.EventID)
		return false, err
	} else if seen {
		return false, nil
	}

	switch res.Status {
	case models.PaymentSucceeded:
		err = p.Orders.ConfirmPayment(ctx, res.PaymentRef, res.Amount)
	case models.PaymentFailed:
		err = p.Orders.FailPayment(ctx, res.PaymentRef, res.Reason)
	}
	if err != nil {
		if !permanent(err) {
			p.forget(ctx, res.EventID)
		}
		return false, err
	}

	_, err = p.Store.Record(ctx, &models.PaymentEvent{
		EventID:    res.EventID,
		PaymentRef: res.PaymentRef,
		Status:     res.Status,
		Amount:     res.Amount,
		Reason:     res.Reason,
		ReceivedAt: p.Clock.Now(),
	})
	if err != nil {
		// already applied; the order state machine makes a replay harmless
		p.Logger.Warn("PAYMENT", fmt.Sprintf("applied %s but could not record it: %v", res.EventID, err))
	}
	p.Logger.Info("PAYMENT", fmt.Sprintf("%s %s for %s applied", res.Status, res.EventID, res.PaymentRef))
	return true, nil
}

// HandleMessage is the Kafka entry point. Malformed or unmatched results are
// logged and committed, anything else is retried.
func (p *Processor) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var res models.PaymentResult
	if err := json.Unmarshal(msg.Value, &res); err != nil {
		p.Logger.Error("PAYMENT", fmt.Sprintf("dropping undecodable message at offset %d: %v", msg.Offset, err))
		return nil
	}
	_, err := p.Handle(ctx, res)
	if err != nil && permanent(err) {
		p.Logger.Error("PAYMENT", fmt.Sprintf("dropping event %s for %s: %v", res.EventID, res.PaymentRef, err))
		return nil
	}
	return err
}

// permanent errors will fail the same way on every retry.
func permanent(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindNotFound:
		return true
	}
	return false
}

func (p *Processor) forget(ctx context.Context, eventID string) {
	if err := p.Dedup.Forget(context.WithoutCancel(ctx), eventID); err != nil {
		p.Logger.Warn("PAYMENT", fmt.Sprintf("failed to clear dedup mark for %s: %v", eventID, err))
	}
}
