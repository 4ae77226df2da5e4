// internal/scoring/scoring.go
package scoring

import (
	"coopcredit/internal/domain"
)

// Score adjustments applied when a payment is registered.
const (
	OnTimeDelta   = 2
	OneWeekDelta  = -5
	TwoWeeksDelta = -10
)

// DeltaForWeeksLate maps payment lateness onto a score adjustment.
func DeltaForWeeksLate(weeksLate int) int {
	switch {
	case weeksLate <= 0:
		return OnTimeDelta
	case weeksLate == 1:
		return OneWeekDelta
	default:
		return TwoWeeksDelta
	}
}

// ReasonForWeeksLate describes a payment for the audit trail.
func ReasonForWeeksLate(weeksLate int) string {
	switch {
	case weeksLate <= 0:
		return "on-time payment"
	case weeksLate == 1:
		return "payment one week late"
	default:
		return "payment two or more weeks late"
	}
}

var tierScores = map[domain.Rating]int{
	domain.RatingGreen:  80,
	domain.RatingYellow: 55,
	domain.RatingRed:    20,
}

// ScoreForRating returns the score an administrator override should set.
// A score already inside the target tier is kept; otherwise the tier's
// representative score is used.
func ScoreForRating(current int, rating domain.Rating) int {
	if domain.RatingForScore(current) == rating {
		return current
	}
	return tierScores[rating]
}
