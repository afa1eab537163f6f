package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GeneratePaymentRef returns an opaque, globally unique reference handed to
// the payment processor.
func GeneratePaymentRef() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("mp_%d_%s", time.Now().Unix(), id[:16])
}

