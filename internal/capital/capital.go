// internal/capital/capital.go
package capital

import (
	"coopcredit/internal/domain"
	"coopcredit/internal/money"

	"github.com/shopspring/decimal"
)

// CommissionRate is the flat origination commission charged on every loan.
var CommissionRate = decimal.RequireFromString("0.02")

// BankingStatistics is a derived, read-only view of the portfolio.
type BankingStatistics struct {
	BaseCapital       decimal.Decimal `json:"base_capital"`
	InterestEarned    decimal.Decimal `json:"interest_earned"`
	PaidInterest      decimal.Decimal `json:"paid_interest"`
	PendingInterest   decimal.Decimal `json:"pending_interest"`
	Commissions       decimal.Decimal `json:"commissions"`
	LateFeesCollected decimal.Decimal `json:"late_fees_collected"`
	TotalCapital      decimal.Decimal `json:"total_capital"`
	LoanedCapital     decimal.Decimal `json:"loaned_capital"`
	AvailableCapital  decimal.Decimal `json:"available_capital"`
	Utilization       decimal.Decimal `json:"utilization"`
	ProfitMargin      decimal.Decimal `json:"profit_margin"`
	TotalShares       int             `json:"total_shares"`
	ShareValue        decimal.Decimal `json:"share_value"`
	MemberCount       int             `json:"member_count"`
	ActiveLoanCount   int             `json:"active_loan_count"`
	TotalLoanedAmount decimal.Decimal `json:"total_loaned_amount"`
	TotalPaidAmount   decimal.Decimal `json:"total_paid_amount"`
	AverageLoanAmount decimal.Decimal `json:"average_loan_amount"`
}

// Statistics aggregates members and loans into portfolio figures. Only loans
// that were actually disbursed contribute; requests still awaiting approval
// and rejected requests have moved no money.
func Statistics(members []*domain.Member, loans []*domain.Loan, settings domain.Settings) BankingStatistics {
	stats := BankingStatistics{
		ShareValue:  settings.ShareValue,
		MemberCount: len(members),
	}

	base := decimal.Zero
	for _, m := range members {
		stats.TotalShares += m.Shares
		base = base.Add(m.Guarantee(settings.ShareValue))
	}

	var (
		paidInterest    = decimal.Zero
		pendingInterest = decimal.Zero
		commissions     = decimal.Zero
		lateFees        = decimal.Zero
		loaned          = decimal.Zero
		activeOriginal  = decimal.Zero
		paidAmount      = decimal.Zero
	)
	for _, l := range loans {
		if !l.Status.Disbursed() {
			continue
		}
		paidInterest = paidInterest.Add(PaidInterest(l))
		pendingInterest = pendingInterest.Add(PendingInterest(l))
		commissions = commissions.Add(l.OriginalAmount.Mul(CommissionRate))
		for _, p := range l.PaymentHistory {
			lateFees = lateFees.Add(p.LateFee)
			paidAmount = paidAmount.Add(p.Amount)
		}
		if l.Status != domain.LoanPaid {
			loaned = loaned.Add(l.RemainingAmount)
			activeOriginal = activeOriginal.Add(l.OriginalAmount)
			stats.ActiveLoanCount++
		}
	}

	interest := paidInterest.Add(pendingInterest)
	total := base.Add(interest).Add(commissions).Add(lateFees)

	stats.BaseCapital = money.Round(base)
	stats.PaidInterest = money.Round(paidInterest)
	stats.PendingInterest = money.Round(pendingInterest)
	stats.InterestEarned = money.Round(interest)
	stats.Commissions = money.Round(commissions)
	stats.LateFeesCollected = money.Round(lateFees)
	stats.TotalCapital = money.Round(total)
	stats.LoanedCapital = money.Round(loaned)
	stats.AvailableCapital = money.Round(total.Sub(loaned))
	stats.TotalLoanedAmount = money.Round(activeOriginal)
	stats.TotalPaidAmount = money.Round(paidAmount)

	stats.Utilization = decimal.Zero
	if total.IsPositive() {
		stats.Utilization = loaned.Div(total).Round(4)
	}
	stats.ProfitMargin = decimal.Zero
	if base.IsPositive() {
		stats.ProfitMargin = money.Round(money.ToPercent(interest.Add(commissions).Add(lateFees).Div(base)))
	}
	stats.AverageLoanAmount = decimal.Zero
	if stats.ActiveLoanCount > 0 {
		stats.AverageLoanAmount = money.Round(activeOriginal.Div(decimal.NewFromInt(int64(stats.ActiveLoanCount))))
	}

	return stats
}

// PaidInterest recovers the interest contained in a loan's payments. Each
// payment is matched to the schedule row of the same position; without a
// schedule an even principal split is assumed.
func PaidInterest(l *domain.Loan) decimal.Decimal {
	total := decimal.Zero
	for i, p := range l.PaymentHistory {
		total = total.Add(money.NonNegative(p.Amount.Sub(principalPortion(l, i))))
	}
	return total
}

func principalPortion(l *domain.Loan, paymentIndex int) decimal.Decimal {
	if entry, ok := l.ScheduleEntryAt(paymentIndex + 1); ok {
		return entry.PrincipalPortion
	}
	n := l.TotalInstallments
	if n < 1 {
		n = 1
	}
	return l.OriginalAmount.Div(decimal.NewFromInt(int64(n)))
}

// PendingInterest estimates interest still to be earned: the loan's total
// interest spread evenly over its installments, times the installments not
// yet paid.
func PendingInterest(l *domain.Loan) decimal.Decimal {
	if l.Status == domain.LoanPaid || l.TotalInstallments < 1 {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(l.TotalInstallments))
	totalInterest := money.NonNegative(l.InstallmentAmount.Mul(n).Sub(l.OriginalAmount))
	remaining := l.TotalInstallments - len(l.PaymentHistory)
	if remaining <= 0 {
		return decimal.Zero
	}
	return totalInterest.Div(n).Mul(decimal.NewFromInt(int64(remaining)))
}
