// internal/domain/settings.go
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RateTiers holds the periodic interest rate (percent) for each principal band.
type RateTiers struct {
	High   decimal.Decimal `json:"high" yaml:"high"`
	Medium decimal.Decimal `json:"medium" yaml:"medium"`
	Low    decimal.Decimal `json:"low" yaml:"low"`
}

// LoanLimits caps what a single member may borrow.
type LoanLimits struct {
	Individual          decimal.Decimal `json:"individual" yaml:"individual"`
	GuaranteePercentage decimal.Decimal `json:"guarantee_percentage" yaml:"guarantee_percentage"`
}

// Settings are the process-wide lending parameters.
type Settings struct {
	ShareValue      decimal.Decimal `json:"share_value" yaml:"share_value"`
	LoanLimits      LoanLimits      `json:"loan_limits" yaml:"loan_limits"`
	InterestRates   *RateTiers      `json:"monthly_interest_rates,omitempty" yaml:"monthly_interest_rates"`
	OperationDay    time.Weekday    `json:"operation_day" yaml:"-"`
	DelinquencyRate decimal.Decimal `json:"delinquency_rate" yaml:"delinquency_rate"`
}

// DefaultRateTiers are the rates used when no tier block is configured.
func DefaultRateTiers() RateTiers {
	return RateTiers{
		High:   decimal.NewFromInt(3),
		Medium: decimal.NewFromInt(5),
		Low:    decimal.NewFromInt(10),
	}
}

// DefaultSettings mirrors the cooperative's factory configuration.
func DefaultSettings() Settings {
	tiers := DefaultRateTiers()
	return Settings{
		ShareValue: decimal.NewFromInt(500),
		LoanLimits: LoanLimits{
			Individual:          decimal.NewFromInt(8000),
			GuaranteePercentage: decimal.NewFromInt(80),
		},
		InterestRates:   &tiers,
		OperationDay:    time.Wednesday,
		DelinquencyRate: decimal.NewFromInt(5),
	}
}

// Clone returns a copy that does not share the tier block.
func (s Settings) Clone() Settings {
	if s.InterestRates != nil {
		tiers := *s.InterestRates
		s.InterestRates = &tiers
	}
	return s
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday accepts an English weekday name in any case.
func ParseWeekday(name string) (time.Weekday, bool) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}
