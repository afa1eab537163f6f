package releasekey

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/skip2/go-qrcode"
)

const codeSpace = 1000000

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return "", fmt.Errorf("generate release code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func wellFormed(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// hashCode binds the code to its order so a leaked hash table cannot be
// replayed across orders.
func hashCode(pepper []byte, orderID, code string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(orderID))
	mac.Write([]byte{':'})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// qrPNG renders what the vendor scans at handover.
func qrPNG(orderID, code string) ([]byte, error) {
	return qrcode.Encode(fmt.Sprintf("mp-release:%s:%s", orderID, code), qrcode.Medium, 256)
}
