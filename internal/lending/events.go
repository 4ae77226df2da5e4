// internal/lending/events.go
package lending

import (
	"time"

	"coopcredit/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AggregateType names loan streams in the event store.
const AggregateType = "loan"

const (
	EventLoanRequested     = "LoanRequested"
	EventLoanApproved      = "LoanApproved"
	EventLoanRejected      = "LoanRejected"
	EventPaymentRegistered = "PaymentRegistered"
	EventLoanTermsModified = "LoanTermsModified"
)

// LoanRequestedEvent is recorded when a member submits a loan request.
type LoanRequestedEvent struct {
	RequestID    uuid.UUID       `json:"request_id"`
	MemberID     uuid.UUID       `json:"member_id"`
	Amount       decimal.Decimal `json:"amount"`
	Term         int             `json:"term"`
	Purpose      string          `json:"purpose"`
	RequiredDate time.Time       `json:"required_date"`
	Priority     int             `json:"priority"`
}

// LoanApprovedEvent is recorded when a loan is disbursed.
type LoanApprovedEvent struct {
	LoanID       uuid.UUID       `json:"loan_id"`
	MemberID     uuid.UUID       `json:"member_id"`
	Amount       decimal.Decimal `json:"amount"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	Installment  decimal.Decimal `json:"installment"`
	FirstDueDate time.Time       `json:"first_due_date"`
}

// LoanRejectedEvent is recorded when a request is turned down.
type LoanRejectedEvent struct {
	RequestID uuid.UUID `json:"request_id"`
	Reason    string    `json:"reason,omitempty"`
}

// PaymentRegisteredEvent is recorded for every payment.
type PaymentRegisteredEvent struct {
	LoanID    uuid.UUID         `json:"loan_id"`
	Payment   domain.Payment    `json:"payment"`
	Remaining decimal.Decimal   `json:"remaining"`
	Status    domain.LoanStatus `json:"status"`
	DueDate   time.Time         `json:"due_date"`
}

// LoanTermsModifiedEvent is recorded for administrative overrides.
type LoanTermsModifiedEvent struct {
	LoanID uuid.UUID         `json:"loan_id"`
	Patch  TermsPatch        `json:"patch"`
	Status domain.LoanStatus `json:"status"`
}
