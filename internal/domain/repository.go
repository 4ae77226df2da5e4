// internal/domain/repository.go
package domain

import (
	"context"

	"github.com/google/uuid"
)

// MemberRepository persists members. Save fails with ErrVersionMismatch when
// the stored version differs from the one the caller read.
type MemberRepository interface {
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	ListMembers(ctx context.Context) ([]*Member, error)
	SaveMember(ctx context.Context, m *Member) error
}

// LoanRepository persists loans.
type LoanRepository interface {
	GetLoan(ctx context.Context, id uuid.UUID) (*Loan, error)
	ListLoans(ctx context.Context) ([]*Loan, error)
	SaveLoan(ctx context.Context, l *Loan) error
}

// LoanRequestRepository persists loan requests.
type LoanRequestRepository interface {
	GetLoanRequest(ctx context.Context, id uuid.UUID) (*LoanRequest, error)
	ListLoanRequests(ctx context.Context) ([]*LoanRequest, error)
	SaveLoanRequest(ctx context.Context, r *LoanRequest) error
}

// SettingsProvider returns the settings in force.
type SettingsProvider interface {
	Current(ctx context.Context) (Settings, error)
}

// Repository bundles everything the lending engine reads and writes.
type Repository interface {
	MemberRepository
	LoanRepository
	LoanRequestRepository
}
