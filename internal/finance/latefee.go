// internal/finance/latefee.go
package finance

import (
	"math"
	"time"

	"coopcredit/internal/money"

	"github.com/shopspring/decimal"
)

// DaysLate is the number of started days between dueDate and today, zero
// when today is not after dueDate.
func DaysLate(dueDate, today time.Time) int {
	if !today.After(dueDate) {
		return 0
	}
	return int(math.Ceil(today.Sub(dueDate).Hours() / 24))
}

// WeeksLate is the number of whole weeks between dueDate and date. Scoring
// buckets lateness with it.
func WeeksLate(dueDate, date time.Time) int {
	if !date.After(dueDate) {
		return 0
	}
	return int(math.Floor(date.Sub(dueDate).Hours() / (24 * 7)))
}

// DailyLateFee charges ratePercent of base for every started day past dueDate.
func DailyLateFee(base decimal.Decimal, dueDate, today time.Time, ratePercent decimal.Decimal) decimal.Decimal {
	days := DaysLate(dueDate, today)
	if days == 0 {
		return decimal.Zero
	}
	return money.Round(base.Mul(money.FromPercent(ratePercent)).Mul(decimal.NewFromInt(int64(days))))
}

// WeeklyLateFee charges ratePercent of base for every started week past
// dueDate. It is an independent banding of DailyLateFee and the two need not
// agree.
func WeeklyLateFee(base decimal.Decimal, dueDate, today time.Time, ratePercent decimal.Decimal) decimal.Decimal {
	if !today.After(dueDate) {
		return decimal.Zero
	}
	weeks := int64(math.Ceil(today.Sub(dueDate).Hours() / (24 * 7)))
	return money.Round(base.Mul(money.FromPercent(ratePercent)).Mul(decimal.NewFromInt(weeks)))
}
