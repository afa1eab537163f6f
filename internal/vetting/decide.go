package vetting

import (
	"strings"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/models"
)

// prohibited terms send an application to manual review. Matching is by
// substring on the lowercased name and landmark.
var prohibited = []string{
	"omni",
	"official",
	"verified",
	"apple",
	"samsung",
	"iphone",
	"mtn",
	"vodafone",
	"airteltigo",
	"forex",
	"crypto",
	"bitcoin",
	"loan",
	"investment",
	"giveaway",
	"doubling",
	"hack",
}

type Input struct {
	ShopName        string
	ShopLandmark    string
	AlreadyApproved bool
	// NameTaken is true when another vendor already uses ShopName, ignoring case.
	NameTaken bool
}

type Decision struct {
	Status  models.VendorStatus
	Flagged []string
}

// Decide has no side effects.
func Decide(in Input) (Decision, error) {
	if in.AlreadyApproved {
		return Decision{Status: models.VendorActive}, nil
	}
	if strings.TrimSpace(in.ShopName) == "" {
		return Decision{}, apperr.Validation("shop_name is required")
	}
	if in.NameTaken {
		return Decision{}, apperr.Conflict("shop name %q is already taken", strings.TrimSpace(in.ShopName))
	}

	flagged := scan(in.ShopName, in.ShopLandmark)
	if len(flagged) > 0 {
		return Decision{Status: models.VendorPending, Flagged: flagged}, nil
	}
	return Decision{Status: models.VendorActive}, nil
}

func scan(name, landmark string) []string {
	text := strings.ToLower(name + " " + landmark)
	var hits []string
	for _, kw := range prohibited {
		if strings.Contains(text, kw) {
			hits = append(hits, kw)
		}
	}
	return hits
}
