// internal/membership/service.go
package membership

import (
	"context"

	"coopcredit/internal/domain"

	"github.com/google/uuid"
)

// Service defines the interface for the membership service.
type Service interface {
	EnrollMember(ctx context.Context, in EnrollInput) (*domain.Member, error)
	Authenticate(ctx context.Context, nationalID, password string) (*domain.Member, error)
	GetMember(ctx context.Context, id uuid.UUID) (*domain.Member, error)
	ListMembers(ctx context.Context) ([]*domain.Member, error)
	BuyShares(ctx context.Context, id uuid.UUID, shares int) (*domain.Member, error)
	OverrideRating(ctx context.Context, id uuid.UUID, rating domain.Rating) (*domain.Member, error)
	RevokeAccess(ctx context.Context, id uuid.UUID) (*domain.Member, error)
}

// EnrollInput carries a new member's details. Password is optional; members
// without one cannot authenticate.
type EnrollInput struct {
	Name       string `json:"name" validate:"required,max=200"`
	NationalID string `json:"national_id" validate:"required,max=50"`
	Shares     int    `json:"shares" validate:"gte=1"`
	Password   string `json:"password,omitempty" validate:"omitempty,min=8,max=128"`
}
