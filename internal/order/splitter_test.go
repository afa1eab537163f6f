package order

import (
	"testing"

	"ms-marketplace/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cart() []ResolvedLineItem {
	return []ResolvedLineItem{
		{ProductID: "waakye", VendorID: "A", Quantity: 1, Price: 2000},
		{ProductID: "kelewele", VendorID: "B", Quantity: 1, Price: 3000},
		{ProductID: "sobolo", VendorID: "A", Quantity: 1, Price: 1500},
	}
}

func TestSplitDelivery(t *testing.T) {
	baskets, total := SplitByVendor(cart(), models.FulfillmentDelivery, 500)

	require.Len(t, baskets, 2)
	assert.Equal(t, "A", baskets[0].VendorID)
	assert.Len(t, baskets[0].Items, 2)
	assert.Equal(t, int64(3500), baskets[0].Subtotal)
	assert.Equal(t, int64(4000), baskets[0].Total)
	assert.Equal(t, "B", baskets[1].VendorID)
	assert.Equal(t, int64(3500), baskets[1].Total)
	assert.Equal(t, int64(7500), total)
}

func TestSplitPickupHasNoFee(t *testing.T) {
	baskets, total := SplitByVendor(cart(), models.FulfillmentPickup, 500)

	require.Len(t, baskets, 2)
	for _, b := range baskets {
		assert.Zero(t, b.DeliveryFee)
		assert.Equal(t, b.Subtotal, b.Total)
	}
	assert.Equal(t, int64(6500), total)
}

func TestSplitTotalsAddUp(t *testing.T) {
	items := []ResolvedLineItem{
		{VendorID: "A", Quantity: 3, Price: 700},
		{VendorID: "B", Quantity: 2, Price: 1},
		{VendorID: "C", Quantity: 1, Price: 0},
		{VendorID: "A", Quantity: 1, Price: 50},
	}
	baskets, total := SplitByVendor(items, models.FulfillmentDelivery, 250)

	var sum int64
	for _, b := range baskets {
		var lines int64
		for _, it := range b.Items {
			lines += it.LineTotal()
		}
		assert.Equal(t, lines, b.Subtotal)
		sum += b.Total
	}
	assert.Equal(t, sum, total)
	assert.Equal(t, int64(2150+2+0+3*250), total)
}
