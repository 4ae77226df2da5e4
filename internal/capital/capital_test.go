package capital

import (
	"testing"
	"time"

	"coopcredit/internal/domain"
	"coopcredit/internal/finance"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func scheduledLoan(t require.TestingT, principal string, n int, rate string) *domain.Loan {
	sched, err := finance.BuildSchedule(d(principal), n, d(rate), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Wednesday)
	require.NoError(t, err)
	return &domain.Loan{
		ID:                 uuid.New(),
		MemberID:           uuid.New(),
		OriginalAmount:     d(principal),
		RemainingAmount:    d(principal),
		InstallmentAmount:  sched.Installment,
		TotalInstallments:  n,
		CurrentInstallment: 1,
		DueDate:            sched.FirstDueDate(),
		InterestRate:       d(rate),
		Status:             domain.LoanCurrent,
		PaymentSchedule:    sched.Entries,
	}
}

func TestStatistics_EmptyPortfolio(t *testing.T) {
	stats := Statistics(nil, nil, domain.DefaultSettings())
	assert.True(t, stats.TotalCapital.IsZero())
	assert.True(t, stats.Utilization.IsZero())
	assert.True(t, stats.ProfitMargin.IsZero())
	assert.True(t, stats.AverageLoanAmount.IsZero())
}

func TestStatistics_SingleLoanOnePayment(t *testing.T) {
	settings := domain.DefaultSettings()
	members := []*domain.Member{{ID: uuid.New(), Shares: 10}, {ID: uuid.New(), Shares: 4}}

	loan := scheduledLoan(t, "1000", 4, "10")
	loan.PaymentHistory = []domain.Payment{{Amount: d("315.47"), LateFee: d("3.50")}}
	loan.RemainingAmount = d("684.53")

	stats := Statistics(members, []*domain.Loan{loan}, settings)

	assert.True(t, stats.BaseCapital.Equal(d("7000")), "base %s", stats.BaseCapital)
	// first row: 315.47 - 215.47 principal
	assert.True(t, stats.PaidInterest.Equal(d("100")), "paid interest %s", stats.PaidInterest)
	// (315.47*4 - 1000) / 4 * 3
	assert.True(t, stats.PendingInterest.Equal(d("196.41")), "pending interest %s", stats.PendingInterest)
	assert.True(t, stats.Commissions.Equal(d("20")))
	assert.True(t, stats.LateFeesCollected.Equal(d("3.5")))
	assert.True(t, stats.TotalCapital.Equal(d("7319.91")), "total %s", stats.TotalCapital)
	assert.True(t, stats.LoanedCapital.Equal(d("684.53")))
	assert.True(t, stats.AvailableCapital.Equal(d("6635.38")))
	assert.Equal(t, 14, stats.TotalShares)
	assert.Equal(t, 2, stats.MemberCount)
	assert.Equal(t, 1, stats.ActiveLoanCount)
	assert.True(t, stats.TotalPaidAmount.Equal(d("315.47")))
	assert.True(t, stats.Utilization.Equal(d("0.0935")), "utilization %s", stats.Utilization)
	assert.True(t, stats.ProfitMargin.Equal(d("4.57")), "margin %s", stats.ProfitMargin)
}

func TestStatistics_SkipsUndisbursedLoans(t *testing.T) {
	settings := domain.DefaultSettings()
	members := []*domain.Member{{ID: uuid.New(), Shares: 10}}

	pending := scheduledLoan(t, "2000", 4, "5")
	pending.Status = domain.LoanPendingApproval
	rejected := scheduledLoan(t, "3000", 4, "5")
	rejected.Status = domain.LoanRejected

	stats := Statistics(members, []*domain.Loan{pending, rejected}, settings)
	assert.True(t, stats.TotalCapital.Equal(d("5000")))
	assert.True(t, stats.LoanedCapital.IsZero())
	assert.Equal(t, 0, stats.ActiveLoanCount)
}

func TestStatistics_PaidLoanEarnsNoPendingInterest(t *testing.T) {
	loan := scheduledLoan(t, "1000", 4, "10")
	loan.Status = domain.LoanPaid
	loan.RemainingAmount = decimal.Zero
	for _, e := range loan.PaymentSchedule {
		loan.PaymentHistory = append(loan.PaymentHistory, domain.Payment{Amount: e.Installment})
	}

	assert.True(t, PendingInterest(loan).IsZero())
	assert.True(t, PaidInterest(loan).Equal(d("261.88")), "paid %s", PaidInterest(loan))

	stats := Statistics(nil, []*domain.Loan{loan}, domain.DefaultSettings())
	assert.True(t, stats.LoanedCapital.IsZero())
	assert.Equal(t, 0, stats.ActiveLoanCount)
}

func TestPaidInterest_FallsBackToEvenSplit(t *testing.T) {
	loan := &domain.Loan{
		OriginalAmount:    d("1200"),
		TotalInstallments: 4,
		Status:            domain.LoanCurrent,
		PaymentHistory:    []domain.Payment{{Amount: d("350")}, {Amount: d("200")}},
	}
	// 350-300 and max(0, 200-300)
	assert.True(t, PaidInterest(loan).Equal(d("50")))
}

func TestStatistics_Idempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		settings := domain.DefaultSettings()
		memberCount := rapid.IntRange(0, 8).Draw(t, "members")
		members := make([]*domain.Member, 0, memberCount)
		for i := 0; i < memberCount; i++ {
			members = append(members, &domain.Member{ID: uuid.New(), Shares: rapid.IntRange(0, 50).Draw(t, "shares")})
		}

		loanCount := rapid.IntRange(0, 6).Draw(t, "loans")
		loans := make([]*domain.Loan, 0, loanCount)
		for i := 0; i < loanCount; i++ {
			principal := decimal.NewFromInt(rapid.Int64Range(100, 9000).Draw(t, "principal"))
			l := scheduledLoan(t, principal.String(), rapid.IntRange(1, 12).Draw(t, "term"), "5")
			paid := rapid.IntRange(0, l.TotalInstallments).Draw(t, "paid")
			for j := 0; j < paid; j++ {
				l.PaymentHistory = append(l.PaymentHistory, domain.Payment{Amount: l.PaymentSchedule[j].Installment})
				l.RemainingAmount = l.PaymentSchedule[j].RunningBalance
			}
			if l.RemainingAmount.IsZero() {
				l.Status = domain.LoanPaid
			}
			loans = append(loans, l)
		}

		first := Statistics(members, loans, settings)
		second := Statistics(members, loans, settings)
		if !first.TotalCapital.Equal(second.TotalCapital) || !first.AvailableCapital.Equal(second.AvailableCapital) {
			t.Fatalf("statistics not idempotent: %v vs %v", first, second)
		}
		if !first.TotalCapital.Sub(first.LoanedCapital).Equal(first.AvailableCapital) {
			t.Fatalf("available %s != total %s - loaned %s", first.AvailableCapital, first.TotalCapital, first.LoanedCapital)
		}
		if first.InterestEarned.IsNegative() {
			t.Fatalf("negative interest %s", first.InterestEarned)
		}
	})
}
