// internal/membership/domain.go
package membership

import (
	"errors"

	"coopcredit/internal/domain"

	"github.com/google/uuid"
)

// AggregateType names member streams in the event store.
const AggregateType = "member"

var (
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrInvalidCredentials = errors.New("authentication failed: invalid credentials")
)

// MemberEnrolledEvent is published when a new member joins the cooperative.
type MemberEnrolledEvent struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Shares      int       `json:"shares"`
	CreditScore int       `json:"credit_score"`
}

// SharesPurchasedEvent is published when a member buys more shares.
type SharesPurchasedEvent struct {
	ID          uuid.UUID `json:"id"`
	Purchased   int       `json:"purchased"`
	TotalShares int       `json:"total_shares"`
}

// RatingOverriddenEvent is published when an administrator forces a tier.
type RatingOverriddenEvent struct {
	ID       uuid.UUID     `json:"id"`
	Rating   domain.Rating `json:"rating"`
	NewScore int           `json:"new_score"`
}

// AccessRevokedEvent is published when a member's credentials are removed.
type AccessRevokedEvent struct {
	ID uuid.UUID `json:"id"`
}
