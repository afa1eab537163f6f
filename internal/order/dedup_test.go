package order

import (
	"strings"
	"testing"

	"ms-marketplace/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintIgnoresLineOrder(t *testing.T) {
	a := Fingerprint("b1", models.FulfillmentPickup, []models.CartLine{{ProductID: "x", Quantity: 1}, {ProductID: "y", Quantity: 2}})
	b := Fingerprint("b1", models.FulfillmentPickup, []models.CartLine{{ProductID: "y", Quantity: 2}, {ProductID: "x", Quantity: 1}})
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, Fingerprint("b2", models.FulfillmentPickup, []models.CartLine{{ProductID: "x", Quantity: 1}, {ProductID: "y", Quantity: 2}}))
	assert.NotEqual(t, a, Fingerprint("b1", models.FulfillmentDelivery, []models.CartLine{{ProductID: "x", Quantity: 1}, {ProductID: "y", Quantity: 2}}))
	assert.NotEqual(t, a, Fingerprint("b1", models.FulfillmentPickup, []models.CartLine{{ProductID: "x", Quantity: 1}, {ProductID: "y", Quantity: 3}}))
}

func TestIdempotencyKeyIsScopedToBuyer(t *testing.T) {
	fp := Fingerprint("b1", models.FulfillmentPickup, []models.CartLine{{ProductID: "x", Quantity: 1}})

	assert.Equal(t, "f:"+fp, IdempotencyKey("", "b1", fp))
	k1 := IdempotencyKey("retry-1", "b1", fp)
	assert.True(t, strings.HasPrefix(k1, "k:"))
	assert.Equal(t, k1, IdempotencyKey("retry-1", "b1", "other"))
	assert.NotEqual(t, k1, IdempotencyKey("retry-1", "b2", fp))
}

func TestHasPending(t *testing.T) {
	g := &models.OrderGroup{Orders: []*models.Order{{Status: models.OrderPaid}, {Status: models.OrderCancelled}}}
	assert.False(t, hasPending(g))
	g.Orders = append(g.Orders, &models.Order{Status: models.OrderPending})
	assert.True(t, hasPending(g))
}
