package order

import "ms-marketplace/internal/models"

// VendorBasket is one vendor's slice of a checkout. It becomes one Order.
type VendorBasket struct {
	VendorID    string
	Items       []ResolvedLineItem
	Subtotal    int64
	DeliveryFee int64
	Total       int64
}

// SplitByVendor groups items per vendor in first-seen order and charges the
// delivery fee once per vendor for DELIVERY checkouts.
func SplitByVendor(items []ResolvedLineItem, fulfillment models.FulfillmentType, deliveryFee int64) ([]VendorBasket, int64) {
	index := map[string]int{}
	var baskets []VendorBasket
	for _, it := range items {
		i, ok := index[it.VendorID]
		if !ok {
			i = len(baskets)
			index[it.VendorID] = i
			baskets = append(baskets, VendorBasket{VendorID: it.VendorID})
		}
		baskets[i].Items = append(baskets[i].Items, it)
		baskets[i].Subtotal += it.LineTotal()
	}

	var grand int64
	for i := range baskets {
		if fulfillment == models.FulfillmentDelivery {
			baskets[i].DeliveryFee = deliveryFee
		}
		baskets[i].Total = baskets[i].Subtotal + baskets[i].DeliveryFee
		grand += baskets[i].Total
	}
	return baskets, grand
}
