package order

import (
	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/models"
)

// Trigger is who or what is asking for a transition.
type Trigger string

const (
	TriggerBuyer      Trigger = "buyer"
	TriggerVendor     Trigger = "vendor"
	TriggerRunner     Trigger = "runner"
	TriggerPayment    Trigger = "payment"
	TriggerReleaseKey Trigger = "release_key"
	TriggerRefund     Trigger = "refund"
	TriggerSystem     Trigger = "system"
)

type rule struct {
	triggers    []Trigger
	fulfillment models.FulfillmentType
}

func (r rule) allows(t Trigger, f models.FulfillmentType) bool {
	if r.fulfillment != "" && r.fulfillment != f {
		return false
	}
	for _, allowed := range r.triggers {
		if allowed == t {
			return true
		}
	}
	return false
}

var statusTable = map[models.OrderStatus]map[models.OrderStatus][]rule{
	models.OrderPending: {
		models.OrderPaid:      {{triggers: []Trigger{TriggerPayment}}},
		models.OrderCancelled: {{triggers: []Trigger{TriggerBuyer, TriggerPayment, TriggerRefund}}},
	},
	models.OrderPaid: {
		models.OrderPreparing: {{triggers: []Trigger{TriggerVendor}}},
		models.OrderCancelled: {{triggers: []Trigger{TriggerBuyer, TriggerRefund}}},
	},
	models.OrderPreparing: {
		models.OrderReady:     {{triggers: []Trigger{TriggerVendor}}},
		models.OrderCancelled: {{triggers: []Trigger{TriggerRefund}}},
	},
	models.OrderReady: {
		models.OrderPickedUp: {
			{triggers: []Trigger{TriggerReleaseKey}, fulfillment: models.FulfillmentPickup},
			{triggers: []Trigger{TriggerBuyer}, fulfillment: models.FulfillmentDelivery},
		},
		models.OrderShipped:   {{triggers: []Trigger{TriggerRunner}, fulfillment: models.FulfillmentDelivery}},
		models.OrderCancelled: {{triggers: []Trigger{TriggerRefund}}},
	},
	models.OrderPickedUp: {
		models.OrderCompleted: {{triggers: []Trigger{TriggerBuyer, TriggerVendor, TriggerSystem}}},
	},
	models.OrderShipped: {
		models.OrderCompleted: {{triggers: []Trigger{TriggerBuyer, TriggerVendor, TriggerSystem}}},
	},
}

var escrowTable = map[models.EscrowStatus][]models.EscrowStatus{
	models.EscrowPending: {models.EscrowHeld},
	models.EscrowHeld:    {models.EscrowReleased, models.EscrowRefunded},
}

// CanMoveEscrow reports whether escrow may go from one state to another.
func CanMoveEscrow(from, to models.EscrowStatus) bool {
	for _, next := range escrowTable[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is the single place order transitions are decided. It returns the
// state the order must be compare-and-set to.
func Transition(o *models.Order, to models.OrderStatus, t Trigger) (models.OrderState, error) {
	rules, ok := statusTable[o.Status][to]
	if !ok {
		return models.OrderState{}, apperr.StateConflict("cannot move order from %s to %s", o.Status, to)
	}
	allowed := false
	for _, r := range rules {
		if r.allows(t, o.FulfillmentType) {
			allowed = true
			break
		}
	}
	if !allowed {
		return models.OrderState{}, apperr.StateConflict("cannot move %s order from %s to %s", o.FulfillmentType, o.Status, to)
	}

	escrow, err := escrowFor(o.EscrowStatus, to)
	if err != nil {
		return models.OrderState{}, err
	}
	return models.OrderState{Status: to, Escrow: escrow}, nil
}

func escrowFor(current models.EscrowStatus, to models.OrderStatus) (models.EscrowStatus, error) {
	switch to {
	case models.OrderPaid:
		if !CanMoveEscrow(current, models.EscrowHeld) {
			return "", apperr.StateConflict("escrow is %s, cannot hold funds", current)
		}
		return models.EscrowHeld, nil
	case models.OrderCancelled:
		switch current {
		case models.EscrowPending:
			return current, nil
		case models.EscrowHeld:
			return models.EscrowRefunded, nil
		}
		return "", apperr.StateConflict("escrow is %s, cannot refund", current)
	case models.OrderCompleted:
		if current != models.EscrowReleased {
			return "", apperr.StateConflict("escrow must be released before completion")
		}
	}
	return current, nil
}
