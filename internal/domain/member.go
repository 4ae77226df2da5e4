// internal/domain/member.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Rating is the credit tier derived from a member's score.
type Rating string

const (
	RatingGreen  Rating = "green"
	RatingYellow Rating = "yellow"
	RatingRed    Rating = "red"
)

const (
	MinCreditScore     = 0
	MaxCreditScore     = 90
	InitialCreditScore = MaxCreditScore

	greenThreshold  = 70
	yellowThreshold = 40
)

// RatingForScore maps a score onto its tier.
func RatingForScore(score int) Rating {
	switch {
	case score >= greenThreshold:
		return RatingGreen
	case score >= yellowThreshold:
		return RatingYellow
	default:
		return RatingRed
	}
}

// Valid reports whether r is one of the known tiers.
func (r Rating) Valid() bool {
	switch r {
	case RatingGreen, RatingYellow, RatingRed:
		return true
	}
	return false
}

// Priority orders loan requests for review: green first.
func (r Rating) Priority() int {
	switch r {
	case RatingGreen:
		return 1
	case RatingYellow:
		return 2
	default:
		return 3
	}
}

// Member represents a cooperative member.
type Member struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	NationalID   string    `json:"national_id" db:"national_id"`
	Shares       int       `json:"shares" db:"shares"`
	CreditScore  int       `json:"credit_score" db:"credit_score"`
	CreditRating Rating    `json:"credit_rating" db:"credit_rating"`
	AccessHash   string    `json:"-" db:"access_hash"`
	AccessSalt   string    `json:"-" db:"access_salt"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
	Version      int       `json:"version" db:"version"`
}

// Guarantee is the collateral value of the member's shares.
func (m *Member) Guarantee(shareValue decimal.Decimal) decimal.Decimal {
	return shareValue.Mul(decimal.NewFromInt(int64(m.Shares)))
}

// Rating derives the tier from the current score. CreditRating is only a
// cached copy kept for storage and JSON output.
func (m *Member) Rating() Rating {
	return RatingForScore(m.CreditScore)
}

// SetScore clamps score into range and refreshes the cached rating.
func (m *Member) SetScore(score int) {
	m.CreditScore = ClampScore(score)
	m.CreditRating = RatingForScore(m.CreditScore)
}

// HasAccess reports whether the member still holds login credentials.
func (m *Member) HasAccess() bool {
	return m.AccessHash != ""
}

// ClampScore bounds a score to [MinCreditScore, MaxCreditScore].
func ClampScore(score int) int {
	if score < MinCreditScore {
		return MinCreditScore
	}
	if score > MaxCreditScore {
		return MaxCreditScore
	}
	return score
}
