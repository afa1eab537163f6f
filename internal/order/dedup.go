package order

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"ms-marketplace/internal/models"
)

// Fingerprint is a stable hash of who is buying what and how. Line order does
// not matter; lines must already be normalized.
func Fingerprint(buyerID string, fulfillment models.FulfillmentType, lines []models.CartLine) string {
	sorted := make([]models.CartLine, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	var b strings.Builder
	b.WriteString(buyerID)
	b.WriteByte('|')
	b.WriteString(string(fulfillment))
	for _, l := range sorted {
		b.WriteByte('|')
		b.WriteString(l.ProductID)
		b.WriteByte('x')
		b.WriteString(strconv.Itoa(l.Quantity))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// IdempotencyKey scopes a client supplied key to the buyer, or falls back to
// the cart fingerprint.
func IdempotencyKey(supplied, buyerID, fingerprint string) string {
	if supplied != "" {
		sum := sha256.Sum256([]byte(buyerID + "|" + supplied))
		return "k:" + hex.EncodeToString(sum[:])
	}
	return "f:" + fingerprint
}

func hasPending(group *models.OrderGroup) bool {
	for _, o := range group.Orders {
		if o.Status == models.OrderPending {
			return true
		}
	}
	return false
}
