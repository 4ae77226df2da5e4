// internal/finance/rates.go
package finance

import (
	"coopcredit/internal/domain"

	"github.com/shopspring/decimal"
)

var (
	highTierFloor   = decimal.NewFromInt(5000)
	mediumTierFloor = decimal.NewFromInt(1000)
)

// Tier names a principal band.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// TierFor places a principal in its band. Bands are closed on the medium side:
// exactly 1000 and exactly 5000 are both medium.
func TierFor(principal decimal.Decimal) Tier {
	switch {
	case principal.GreaterThan(highTierFloor):
		return TierHigh
	case principal.GreaterThanOrEqual(mediumTierFloor):
		return TierMedium
	default:
		return TierLow
	}
}

// ResolveRate returns the periodic rate (percent) for a principal. Without a
// configured tier block every principal gets the default medium rate.
func ResolveRate(principal decimal.Decimal, tiers *domain.RateTiers) decimal.Decimal {
	if tiers == nil {
		return domain.DefaultRateTiers().Medium
	}
	switch TierFor(principal) {
	case TierHigh:
		return tiers.High
	case TierMedium:
		return tiers.Medium
	default:
		return tiers.Low
	}
}
