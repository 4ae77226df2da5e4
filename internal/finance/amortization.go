// internal/finance/amortization.go
package finance

import (
	"time"

	"coopcredit/internal/domain"
	"coopcredit/internal/money"

	"github.com/shopspring/decimal"
)

// Schedule is a fixed-installment repayment plan.
type Schedule struct {
	Installment   decimal.Decimal        `json:"installment"`
	Total         decimal.Decimal        `json:"total"`
	TotalInterest decimal.Decimal        `json:"total_interest"`
	Entries       []domain.ScheduleEntry `json:"entries"`
}

// FirstDueDate returns the due date of the first row, or the zero time for an
// empty schedule.
func (s Schedule) FirstDueDate() time.Time {
	if len(s.Entries) == 0 {
		return time.Time{}
	}
	return s.Entries[0].DueDate
}

// Installment computes the rounded annuity payment for principal over n
// periods at ratePercent per period.
//
//	installment = P * r * (1+r)^n / ((1+r)^n - 1)
//
// A zero rate splits the principal evenly. Terms outside
// [domain.MinTermInstallments, domain.MaxTermInstallments] yield zero.
func Installment(principal decimal.Decimal, n int, ratePercent decimal.Decimal) decimal.Decimal {
	if n < domain.MinTermInstallments || n > domain.MaxTermInstallments {
		return decimal.Zero
	}
	periods := decimal.NewFromInt(int64(n))
	r := money.FromPercent(ratePercent)
	if r.IsZero() {
		return money.Round(principal.Div(periods))
	}

	growth := decimal.NewFromInt(1)
	onePlusR := growth.Add(r)
	for i := 0; i < n; i++ {
		growth = growth.Mul(onePlusR)
	}

	return money.Round(principal.Mul(r).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1))))
}

// BuildSchedule generates the amortization table. The first due date is the
// next operation weekday strictly after startDate; each later row is seven
// days after the previous one. Interest for a row is charged on the balance
// left by the row before it, and the final row takes whatever balance remains
// so the table always closes at zero.
func BuildSchedule(principal decimal.Decimal, n int, ratePercent decimal.Decimal, startDate time.Time, weekday time.Weekday) (Schedule, error) {
	if !principal.IsPositive() {
		return Schedule{}, domain.Invalid(domain.RuleAmount, "principal must be greater than zero")
	}
	if n < domain.MinTermInstallments || n > domain.MaxTermInstallments {
		return Schedule{}, domain.Invalid(domain.RuleTerm, "term must be between %d and %d installments",
			domain.MinTermInstallments, domain.MaxTermInstallments)
	}
	if ratePercent.IsNegative() {
		return Schedule{}, domain.Invalid(domain.RuleAmount, "interest rate must not be negative")
	}

	r := money.FromPercent(ratePercent)
	installment := Installment(principal, n, ratePercent)
	due := NextWeekdayAfter(startDate, weekday)

	sched := Schedule{
		Installment:   installment,
		Total:         decimal.Zero,
		TotalInterest: decimal.Zero,
		Entries:       make([]domain.ScheduleEntry, 0, n),
	}

	balance := money.Round(principal)
	for k := 1; k <= n; k++ {
		interest := money.Round(balance.Mul(r))
		portion := installment.Sub(interest)
		payment := installment

		if k == n || portion.GreaterThan(balance) {
			portion = balance
			payment = portion.Add(interest)
		}
		balance = money.NonNegative(balance.Sub(portion))

		sched.Entries = append(sched.Entries, domain.ScheduleEntry{
			InstallmentIndex: k,
			DueDate:          due,
			Installment:      payment,
			PrincipalPortion: portion,
			InterestPortion:  interest,
			RunningBalance:   balance,
		})
		sched.Total = sched.Total.Add(payment)
		sched.TotalInterest = sched.TotalInterest.Add(interest)
		due = due.AddDate(0, 0, 7)
	}

	return sched, nil
}
