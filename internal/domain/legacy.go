// internal/domain/legacy.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const legacyDateLayout = "2006-01-02"

// LegacyLoan is the loan document written by older front-end builds. Several
// fields exist under two names; Normalize picks one of each pair.
type LegacyLoan struct {
	ID                 uuid.UUID        `json:"id"`
	RequestID          uuid.UUID        `json:"requestId"`
	MemberID           uuid.UUID        `json:"memberId"`
	OriginalAmount     decimal.Decimal  `json:"originalAmount"`
	RemainingAmount    decimal.Decimal  `json:"remainingAmount"`
	WeeklyPayment      *decimal.Decimal `json:"weeklyPayment"`
	MonthlyPayment     *decimal.Decimal `json:"monthlyPayment"`
	TotalWeeks         int              `json:"totalWeeks"`
	Installments       int              `json:"installments"`
	CurrentWeek        int              `json:"currentWeek"`
	CurrentInstallment int              `json:"currentInstallment"`
	DueDate            string           `json:"dueDate"`
	InterestRate       decimal.Decimal  `json:"interestRate"`
	Status             string           `json:"status"`
	PaymentSchedule    []legacyEntry    `json:"paymentSchedule"`
	PaymentHistory     []legacyPayment  `json:"paymentHistory"`
	Purpose            string           `json:"purpose"`
}

type legacyEntry struct {
	Week          int             `json:"week"`
	DueDate       string          `json:"dueDate"`
	WeeklyPayment decimal.Decimal `json:"weeklyPayment"`
	Principal     decimal.Decimal `json:"principal"`
	Interest      decimal.Decimal `json:"interest"`
	Balance       decimal.Decimal `json:"remainingBalance"`
}

type legacyPayment struct {
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	LateFee     decimal.Decimal `json:"lateFee"`
	WeeksLate   int             `json:"weeksLate"`
	ScoreChange int             `json:"scoreChange"`
}

var legacyStatuses = map[string]LoanStatus{
	"por aprobar": LoanPendingApproval,
	"aprobada":    LoanApproved,
	"rechazada":   LoanRejected,
	"al día":      LoanCurrent,
	"vencida":     LoanOverdue,
	"pagada":      LoanPaid,
}

// Normalize converts the legacy document into a canonical Loan.
func (l LegacyLoan) Normalize() (*Loan, error) {
	loan := &Loan{
		ID:              l.ID,
		RequestID:       l.RequestID,
		MemberID:        l.MemberID,
		OriginalAmount:  l.OriginalAmount,
		RemainingAmount: l.RemainingAmount,
		InterestRate:    l.InterestRate,
		Purpose:         l.Purpose,
		Version:         1,
	}
	if loan.RequestID == uuid.Nil {
		loan.RequestID = l.ID
	}

	switch {
	case l.WeeklyPayment != nil && !l.WeeklyPayment.IsZero():
		loan.InstallmentAmount = *l.WeeklyPayment
	case l.MonthlyPayment != nil:
		loan.InstallmentAmount = *l.MonthlyPayment
	}

	loan.TotalInstallments = l.TotalWeeks
	if loan.TotalInstallments == 0 {
		loan.TotalInstallments = l.Installments
	}
	loan.CurrentInstallment = l.CurrentWeek
	if loan.CurrentInstallment == 0 {
		loan.CurrentInstallment = l.CurrentInstallment
	}
	if loan.CurrentInstallment == 0 {
		loan.CurrentInstallment = 1
	}

	status, err := parseLegacyStatus(l.Status)
	if err != nil {
		return nil, err
	}
	loan.Status = status

	if l.DueDate != "" {
		due, err := parseLegacyDate(l.DueDate)
		if err != nil {
			return nil, fmt.Errorf("loan %s due date: %w", l.ID, err)
		}
		loan.DueDate = due
	}

	for i, e := range l.PaymentSchedule {
		due, err := parseLegacyDate(e.DueDate)
		if err != nil {
			return nil, fmt.Errorf("loan %s schedule row %d: %w", l.ID, i+1, err)
		}
		index := e.Week
		if index == 0 {
			index = i + 1
		}
		loan.PaymentSchedule = append(loan.PaymentSchedule, ScheduleEntry{
			InstallmentIndex: index,
			DueDate:          due,
			Installment:      e.WeeklyPayment,
			PrincipalPortion: e.Principal,
			InterestPortion:  e.Interest,
			RunningBalance:   e.Balance,
		})
	}

	for i, p := range l.PaymentHistory {
		date, err := parseLegacyDate(p.Date)
		if err != nil {
			return nil, fmt.Errorf("loan %s payment %d: %w", l.ID, i+1, err)
		}
		loan.PaymentHistory = append(loan.PaymentHistory, Payment{
			Date:             date,
			Amount:           p.Amount,
			LateFee:          p.LateFee,
			WeeksLate:        p.WeeksLate,
			CreditScoreDelta: p.ScoreChange,
		})
	}

	return loan, nil
}

func parseLegacyStatus(s string) (LoanStatus, error) {
	if st := LoanStatus(s); st.Valid() {
		return st, nil
	}
	if st, ok := legacyStatuses[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st, nil
	}
	if s == "" {
		return LoanPendingApproval, nil
	}
	return "", fmt.Errorf("unknown loan status %q", s)
}

func parseLegacyDate(s string) (time.Time, error) {
	if len(s) > len(legacyDateLayout) {
		s = s[:len(legacyDateLayout)]
	}
	return time.Parse(legacyDateLayout, s)
}
