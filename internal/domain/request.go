// internal/domain/request.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RequestStatus is the review state of a loan request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// Loan terms are counted in weekly installments.
const (
	MinTermInstallments = 1
	MaxTermInstallments = 40
)

// LoanRequest is a member's application for a loan.
type LoanRequest struct {
	ID                   uuid.UUID       `json:"id"`
	MemberID             uuid.UUID       `json:"member_id"`
	RequestedAmount      decimal.Decimal `json:"requested_amount"`
	TermInstallments     int             `json:"term_installments"`
	Purpose              string          `json:"purpose"`
	RequiredDate         time.Time       `json:"required_date"`
	InterestRate         decimal.Decimal `json:"interest_rate"`
	EstimatedInstallment decimal.Decimal `json:"estimated_installment"`
	EstimatedTotal       decimal.Decimal `json:"estimated_total"`
	Status               RequestStatus   `json:"status"`
	Priority             int             `json:"priority"`
	RejectionReason      string          `json:"rejection_reason,omitempty"`
	LoanID               uuid.UUID       `json:"loan_id"`
	CreatedAt            time.Time       `json:"created_at"`
	DecidedAt            *time.Time      `json:"decided_at,omitempty"`
	Version              int             `json:"version"`
}
