package finance

import (
	"testing"
	"time"

	"coopcredit/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestResolveRate(t *testing.T) {
	tiers := domain.DefaultRateTiers()
	cases := []struct {
		principal string
		want      string
	}{
		{"999.99", "10"},
		{"1000", "5"},
		{"5000", "5"},
		{"5000.01", "3"},
		{"20000", "3"},
	}
	for _, tc := range cases {
		t.Run(tc.principal, func(t *testing.T) {
			assert.True(t, ResolveRate(d(tc.principal), &tiers).Equal(d(tc.want)))
		})
	}
}

func TestResolveRate_MissingTiersUsesDefaultMedium(t *testing.T) {
	assert.True(t, ResolveRate(d("200"), nil).Equal(d("5")))
	assert.True(t, ResolveRate(d("9000"), nil).Equal(d("5")))
}

func TestBuildSchedule_TenPercentFourRows(t *testing.T) {
	sched, err := BuildSchedule(d("1000"), 4, d("10"), date("2024-01-01"), time.Wednesday)
	require.NoError(t, err)
	require.Len(t, sched.Entries, 4)

	assert.True(t, sched.Installment.Equal(d("315.47")), "installment %s", sched.Installment)

	want := []struct{ interest, principal, balance string }{
		{"100", "215.47", "784.53"},
		{"78.45", "237.02", "547.51"},
		{"54.75", "260.72", "286.79"},
		{"28.68", "286.79", "0"},
	}
	for i, w := range want {
		e := sched.Entries[i]
		assert.Equal(t, i+1, e.InstallmentIndex)
		assert.True(t, e.InterestPortion.Equal(d(w.interest)), "row %d interest %s", i+1, e.InterestPortion)
		assert.True(t, e.PrincipalPortion.Equal(d(w.principal)), "row %d principal %s", i+1, e.PrincipalPortion)
		assert.True(t, e.RunningBalance.Equal(d(w.balance)), "row %d balance %s", i+1, e.RunningBalance)
	}

	assert.Equal(t, date("2024-01-03"), sched.Entries[0].DueDate)
	assert.Equal(t, date("2024-01-10"), sched.Entries[1].DueDate)
	assert.Equal(t, date("2024-01-24"), sched.Entries[3].DueDate)
	assert.True(t, sched.Total.Equal(d("1261.88")), "total %s", sched.Total)
}

func TestBuildSchedule_ZeroRate(t *testing.T) {
	sched, err := BuildSchedule(d("100"), 3, decimal.Zero, date("2024-01-01"), time.Wednesday)
	require.NoError(t, err)

	assert.True(t, sched.Installment.Equal(d("33.33")))
	assert.True(t, sched.Entries[2].PrincipalPortion.Equal(d("33.34")))
	assert.True(t, sched.TotalInterest.IsZero())
	assert.True(t, sched.Total.Equal(d("100")))
}

func TestBuildSchedule_FirstDueDateIsStrictlyAfterStart(t *testing.T) {
	// 2024-01-03 is a Wednesday.
	sched, err := BuildSchedule(d("500"), 1, d("10"), date("2024-01-03"), time.Wednesday)
	require.NoError(t, err)
	assert.Equal(t, date("2024-01-10"), sched.FirstDueDate())
	assert.True(t, sched.Entries[0].RunningBalance.IsZero())
}

func TestBuildSchedule_RejectsBadInput(t *testing.T) {
	_, err := BuildSchedule(decimal.Zero, 4, d("5"), date("2024-01-01"), time.Wednesday)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = BuildSchedule(d("100"), 0, d("5"), date("2024-01-01"), time.Wednesday)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = BuildSchedule(d("100"), 2, d("-1"), date("2024-01-01"), time.Wednesday)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestBuildSchedule_TermCap(t *testing.T) {
	sched, err := BuildSchedule(d("1000"), domain.MaxTermInstallments, d("10"), date("2024-01-01"), time.Wednesday)
	require.NoError(t, err)
	assert.Len(t, sched.Entries, domain.MaxTermInstallments)

	for _, n := range []int{domain.MaxTermInstallments + 1, 5000, 1 << 40} {
		_, err := BuildSchedule(d("1000"), n, d("10"), date("2024-01-01"), time.Wednesday)
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve, "term %d", n)
		assert.Equal(t, domain.RuleTerm, ve.Rule)
		assert.True(t, Installment(d("1000"), n, d("10")).IsZero())
	}
}

func TestWeeksLate(t *testing.T) {
	due := date("2024-01-03")
	assert.Equal(t, 0, WeeksLate(due, date("2024-01-03")))
	assert.Equal(t, 0, WeeksLate(due, date("2024-01-09")))
	assert.Equal(t, 1, WeeksLate(due, date("2024-01-10")))
	assert.Equal(t, 2, WeeksLate(due, date("2024-01-17")))
	assert.Equal(t, 0, WeeksLate(due, date("2023-12-30")))
}

func TestDailyLateFee(t *testing.T) {
	due := date("2024-01-03")
	assert.True(t, DailyLateFee(d("315.47"), due, due, d("5")).IsZero())
	// 315.47 * 5% * 14 days = 220.829
	assert.True(t, DailyLateFee(d("315.47"), due, date("2024-01-17"), d("5")).Equal(d("220.83")))
	// a partial day counts as a whole one
	assert.True(t, DailyLateFee(d("100"), due, due.Add(time.Hour), d("1")).Equal(d("1")))
}

func TestWeeklyLateFee(t *testing.T) {
	due := date("2024-01-03")
	assert.True(t, WeeklyLateFee(d("100"), due, due, d("5")).IsZero())
	assert.True(t, WeeklyLateFee(d("100"), due, date("2024-01-04"), d("5")).Equal(d("5")))
	assert.True(t, WeeklyLateFee(d("100"), due, date("2024-01-10"), d("5")).Equal(d("5")))
	assert.True(t, WeeklyLateFee(d("100"), due, date("2024-01-11"), d("5")).Equal(d("10")))
}

func TestWeekdayHelpers(t *testing.T) {
	// 2024-01-01 is a Monday.
	assert.Equal(t, date("2024-01-03"), NextWeekdayAfter(date("2024-01-01"), time.Wednesday))
	assert.Equal(t, date("2024-01-08"), NextWeekdayAfter(date("2024-01-01"), time.Monday))
	assert.Equal(t, date("2024-01-01"), SnapToWeekday(date("2024-01-01"), time.Monday))
	assert.Equal(t, date("2024-01-03"), SnapToWeekday(date("2024-01-01"), time.Wednesday))

	loc := time.FixedZone("UTC-5", -5*3600)
	assert.Equal(t, date("2024-01-01"), DateOf(time.Date(2024, 1, 1, 22, 30, 0, 0, loc)))
}
