// internal/domain/loan.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	LoanPendingApproval LoanStatus = "pending_approval"
	LoanApproved        LoanStatus = "approved"
	LoanRejected        LoanStatus = "rejected"
	LoanCurrent         LoanStatus = "current"
	LoanDueSoon         LoanStatus = "due_soon"
	LoanOverdue         LoanStatus = "overdue"
	LoanPaid            LoanStatus = "paid"
)

// DueSoonWindow is how close a due date must be for a loan to read as due_soon.
const DueSoonWindow = 3 * 24 * time.Hour

// Valid reports whether s is a known loan status.
func (s LoanStatus) Valid() bool {
	switch s {
	case LoanPendingApproval, LoanApproved, LoanRejected, LoanCurrent, LoanDueSoon, LoanOverdue, LoanPaid:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s LoanStatus) Terminal() bool {
	return s == LoanRejected || s == LoanPaid
}

// Disbursed reports whether money has left the cooperative for a loan in s.
func (s LoanStatus) Disbursed() bool {
	switch s {
	case LoanApproved, LoanCurrent, LoanDueSoon, LoanOverdue, LoanPaid:
		return true
	}
	return false
}

// ScheduleEntry is one row of an amortization schedule.
type ScheduleEntry struct {
	InstallmentIndex int             `json:"installment_index"`
	DueDate          time.Time       `json:"due_date"`
	Installment      decimal.Decimal `json:"installment"`
	PrincipalPortion decimal.Decimal `json:"principal_portion"`
	InterestPortion  decimal.Decimal `json:"interest_portion"`
	RunningBalance   decimal.Decimal `json:"running_balance"`
}

// Payment is an immutable record of money received against a loan.
type Payment struct {
	Date             time.Time       `json:"date"`
	Amount           decimal.Decimal `json:"amount"`
	LateFee          decimal.Decimal `json:"late_fee"`
	WeeksLate        int             `json:"weeks_late"`
	CreditScoreDelta int             `json:"credit_score_delta"`
}

// Loan is the canonical loan record.
type Loan struct {
	ID                 uuid.UUID       `json:"id"`
	RequestID          uuid.UUID       `json:"request_id"`
	MemberID           uuid.UUID       `json:"member_id"`
	OriginalAmount     decimal.Decimal `json:"original_amount"`
	RemainingAmount    decimal.Decimal `json:"remaining_amount"`
	InstallmentAmount  decimal.Decimal `json:"installment_amount"`
	TotalInstallments  int             `json:"total_installments"`
	CurrentInstallment int             `json:"current_installment"`
	DueDate            time.Time       `json:"due_date"`
	InterestRate       decimal.Decimal `json:"interest_rate"`
	Status             LoanStatus      `json:"status"`
	PaymentSchedule    []ScheduleEntry `json:"payment_schedule"`
	PaymentHistory     []Payment       `json:"payment_history"`
	Purpose            string          `json:"purpose,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	ApprovedAt         *time.Time      `json:"approved_at,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Version            int             `json:"version"`
}

// StatusAt derives the status a reader should see on the given day. The
// due_soon state and time-driven overdue transitions are never stored.
func (l *Loan) StatusAt(today time.Time) LoanStatus {
	switch l.Status {
	case LoanPendingApproval, LoanRejected, LoanPaid:
		return l.Status
	}
	if !l.RemainingAmount.IsPositive() {
		return LoanPaid
	}
	if l.Status == LoanOverdue || today.After(l.DueDate) {
		return LoanOverdue
	}
	if l.DueDate.Sub(today) <= DueSoonWindow {
		return LoanDueSoon
	}
	return l.Status
}

// ScheduleEntryAt returns the schedule row for a 1-based installment index.
func (l *Loan) ScheduleEntryAt(index int) (ScheduleEntry, bool) {
	if index < 1 || index > len(l.PaymentSchedule) {
		return ScheduleEntry{}, false
	}
	return l.PaymentSchedule[index-1], true
}

// Clone returns a deep copy so callers never share schedule or history slices.
func (l *Loan) Clone() *Loan {
	cp := *l
	cp.PaymentSchedule = append([]ScheduleEntry(nil), l.PaymentSchedule...)
	cp.PaymentHistory = append([]Payment(nil), l.PaymentHistory...)
	if l.ApprovedAt != nil {
		at := *l.ApprovedAt
		cp.ApprovedAt = &at
	}
	return &cp
}
