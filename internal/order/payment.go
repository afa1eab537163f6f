package order

import (
	"context"
	"fmt"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/notify"
)

type issuedKey struct {
	order *models.Order
	code  string
}

// ConfirmPayment is the only way an order reaches PAID. Every PENDING
// sub-order of the group moves to PAID with escrow HELD and gets a release
// key, all in one transaction. Redelivery of the same confirmation is a no-op.
func (s *OrderService) ConfirmPayment(ctx context.Context, paymentRef string, amount int64) error {
	group, err := s.DB.GetOrderGroupByPaymentRef(ctx, paymentRef)
	if err != nil {
		return err
	}
	if amount != group.TotalAmount {
		s.logger.LogSecurity("PAYMENT_MISMATCH", fmt.Sprintf("ref %s paid %d, expected %d", paymentRef, amount, group.TotalAmount))
		return apperr.Validation("paid amount does not match order total")
	}

	var issued []issuedKey
	var skipped int
	now := s.clock.Now()
	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		issued = issued[:0]
		skipped = 0
		for _, o := range group.Orders {
			if o.Status != models.OrderPending {
				if o.Status == models.OrderCancelled {
					skipped++
				}
				continue
			}
			next, err := Transition(o, models.OrderPaid, TriggerPayment)
			if err != nil {
				return err
			}
			if err := s.commit(ctx, o, next, now); err != nil {
				return err
			}
			code, err := s.Keys.Issue(ctx, o.ID)
			if err != nil {
				return fmt.Errorf("issue release key: %w", err)
			}
			issued = append(issued, issuedKey{order: o, code: code})
		}
		return nil
	})
	if err != nil {
		return err
	}

	if skipped > 0 {
		s.logger.Warn("PAYMENT", fmt.Sprintf("ref %s paid but %d sub-orders were already cancelled, refund required", paymentRef, skipped))
		s.publish(ctx, notify.EventPaymentOrphaned, group.ID, notify.PaymentOrphaned{
			OrderGroupID: group.ID,
			PaymentRef:   paymentRef,
			Cancelled:    skipped,
		})
	}

	for _, k := range issued {
		s.logger.LogEscrow("HELD", k.order.ID, fmt.Sprintf("amount %d held for vendor %s", k.order.Amount, k.order.VendorID))
		s.publish(ctx, notify.EventReleaseKeyIssued, k.order.ID, notify.ReleaseKeyIssued{
			OrderID: k.order.ID,
			BuyerID: k.order.BuyerID,
			Code:    k.code,
		})
		s.publish(ctx, notify.EventVendorAlert, k.order.VendorID, notify.VendorAlert{
			VendorID: k.order.VendorID,
			OrderID:  k.order.ID,
			Amount:   k.order.Amount,
			Message:  "new paid order",
		})
	}
	return nil
}

// FailPayment cancels every still PENDING sub-order of the group. Escrow stays
// PENDING since nothing was collected.
func (s *OrderService) FailPayment(ctx context.Context, paymentRef, reason string) error {
	group, err := s.DB.GetOrderGroupByPaymentRef(ctx, paymentRef)
	if err != nil {
		return err
	}

	var cancelled []*models.Order
	now := s.clock.Now()
	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		cancelled = cancelled[:0]
		for _, o := range group.Orders {
			if o.Status != models.OrderPending {
				continue
			}
			full, err := s.DB.GetOrderByID(ctx, o.ID)
			if err != nil {
				return err
			}
			next, err := Transition(full, models.OrderCancelled, TriggerPayment)
			if err != nil {
				return err
			}
			if err := s.commit(ctx, full, next, now); err != nil {
				return err
			}
			cancelled = append(cancelled, full)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, o := range cancelled {
		s.logger.LogOrder("PAYMENT_FAILED", o.ID, reason)
		s.publishStatus(ctx, o, models.OrderState{Status: models.OrderPending, Escrow: models.EscrowPending})
	}
	return nil
}
