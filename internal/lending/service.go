// internal/lending/service.go
package lending

import (
	"context"
	"time"

	"coopcredit/internal/capital"
	"coopcredit/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service defines the interface for the lending engine.
type Service interface {
	SubmitLoanRequest(ctx context.Context, in SubmitLoanRequestInput) (*domain.LoanRequest, error)
	ApproveLoanRequest(ctx context.Context, requestID uuid.UUID) (*domain.Loan, error)
	RejectLoanRequest(ctx context.Context, requestID uuid.UUID, reason string) (*domain.LoanRequest, error)
	RegisterPayment(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal, date time.Time) (*domain.Loan, error)
	ModifyLoanTerms(ctx context.Context, loanID uuid.UUID, patch TermsPatch) (*domain.Loan, error)
	GetBankingStatistics(ctx context.Context) (*capital.BankingStatistics, error)

	GetLoan(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error)
	ListLoans(ctx context.Context, filter LoanFilter) ([]*domain.Loan, error)
	OverdueLoans(ctx context.Context) ([]*domain.Loan, error)
	UpcomingPayments(ctx context.Context, window time.Duration) ([]UpcomingPayment, error)
	GetLoanRequest(ctx context.Context, requestID uuid.UUID) (*domain.LoanRequest, error)
	ListLoanRequests(ctx context.Context, status domain.RequestStatus) ([]*domain.LoanRequest, error)
	PaymentHistory(ctx context.Context, loanID uuid.UUID) ([]domain.Payment, error)
	PaymentSchedule(ctx context.Context, loanID uuid.UUID) ([]domain.ScheduleEntry, error)
	QuotePayment(ctx context.Context, loanID uuid.UUID, date time.Time) (*PaymentQuote, error)
	PreviewLoan(ctx context.Context, amount decimal.Decimal, term int, startDate time.Time) (*LoanPreview, error)
	BorrowingCapacity(ctx context.Context, memberID uuid.UUID) (*Capacity, error)
}

// SubmitLoanRequestInput carries a member's loan application.
type SubmitLoanRequestInput struct {
	MemberID     uuid.UUID       `json:"member_id" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Term         int             `json:"term" validate:"gte=1,lte=40"`
	Purpose      string          `json:"purpose" validate:"required,max=500"`
	RequiredDate time.Time       `json:"required_date" validate:"required"`
}

// TermsPatch is an administrative override. Nil fields are left untouched.
type TermsPatch struct {
	DueDate         *time.Time         `json:"due_date,omitempty"`
	Status          *domain.LoanStatus `json:"status,omitempty"`
	RemainingAmount *decimal.Decimal   `json:"remaining_amount,omitempty"`
}

// LoanFilter narrows ListLoans. Zero values match everything.
type LoanFilter struct {
	Status   domain.LoanStatus
	MemberID uuid.UUID
}

// UpcomingPayment is an installment falling due within the requested window.
type UpcomingPayment struct {
	LoanID           uuid.UUID         `json:"loan_id"`
	MemberID         uuid.UUID         `json:"member_id"`
	InstallmentIndex int               `json:"installment_index"`
	DueDate          time.Time         `json:"due_date"`
	Installment      decimal.Decimal   `json:"installment"`
	DaysUntilDue     int               `json:"days_until_due"`
	Status           domain.LoanStatus `json:"status"`
}

// PaymentQuote is what a member owes on a given day.
type PaymentQuote struct {
	LoanID        uuid.UUID       `json:"loan_id"`
	Date          time.Time       `json:"date"`
	DueDate       time.Time       `json:"due_date"`
	Installment   decimal.Decimal `json:"installment"`
	DaysLate      int             `json:"days_late"`
	WeeksLate     int             `json:"weeks_late"`
	DailyLateFee  decimal.Decimal `json:"daily_late_fee"`
	WeeklyLateFee decimal.Decimal `json:"weekly_late_fee"`
	TotalDue      decimal.Decimal `json:"total_due"`
	Overdue       bool            `json:"overdue"`
}

// LoanPreview is a simulated loan that is never persisted.
type LoanPreview struct {
	Amount        decimal.Decimal        `json:"amount"`
	Term          int                    `json:"term"`
	Tier          string                 `json:"tier"`
	InterestRate  decimal.Decimal        `json:"interest_rate"`
	Installment   decimal.Decimal        `json:"installment"`
	Total         decimal.Decimal        `json:"total"`
	TotalInterest decimal.Decimal        `json:"total_interest"`
	Schedule      []domain.ScheduleEntry `json:"schedule"`
}

// Capacity is how much more a member may borrow.
type Capacity struct {
	MemberID    uuid.UUID       `json:"member_id"`
	Rating      domain.Rating   `json:"rating"`
	Guarantee   decimal.Decimal `json:"guarantee"`
	BaseLimit   decimal.Decimal `json:"base_limit"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Available   decimal.Decimal `json:"available"`
	Eligible    bool            `json:"eligible"`
}
