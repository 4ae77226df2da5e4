// internal/settings/settings.go
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"coopcredit/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Update is a partial change to the cooperative settings. Nil fields are
// left as they are. Ranges match what the admin screen allows.
type Update struct {
	ShareValue          *decimal.Decimal `json:"share_value,omitempty"`
	IndividualLimit     *decimal.Decimal `json:"individual_limit,omitempty"`
	GuaranteePercentage *decimal.Decimal `json:"guarantee_percentage,omitempty"`
	OperationDay        *string          `json:"operation_day,omitempty" validate:"omitempty,oneof=monday tuesday wednesday thursday friday saturday"`
	HighRate            *decimal.Decimal `json:"high_rate,omitempty"`
	MediumRate          *decimal.Decimal `json:"medium_rate,omitempty"`
	LowRate             *decimal.Decimal `json:"low_rate,omitempty"`
	DelinquencyRate     *decimal.Decimal `json:"delinquency_rate,omitempty"`
}

type bound struct {
	field    string
	value    *decimal.Decimal
	min, max int64
}

func (u Update) bounds() []bound {
	return []bound{
		{"share_value", u.ShareValue, 100, 2000},
		{"individual_limit", u.IndividualLimit, 1000, 20000},
		{"guarantee_percentage", u.GuaranteePercentage, 50, 100},
		{"high_rate", u.HighRate, 0, 100},
		{"medium_rate", u.MediumRate, 0, 100},
		{"low_rate", u.LowRate, 0, 100},
		{"delinquency_rate", u.DelinquencyRate, 0, 50},
	}
}

var validate = validator.New()

// Validate reports the first out-of-range field.
func (u Update) Validate() error {
	if u.OperationDay != nil {
		day := strings.ToLower(strings.TrimSpace(*u.OperationDay))
		u.OperationDay = &day
	}
	if err := validate.Struct(u); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return domain.Invalid(domain.RuleSettingsRange, "operation_day must be a weekday from monday to saturday")
		}
		return fmt.Errorf("failed to validate settings: %w", err)
	}
	for _, b := range u.bounds() {
		if b.value == nil {
			continue
		}
		if b.value.LessThan(decimal.NewFromInt(b.min)) || b.value.GreaterThan(decimal.NewFromInt(b.max)) {
			return domain.Invalid(domain.RuleSettingsRange, "%s must be between %d and %d", b.field, b.min, b.max)
		}
	}
	return nil
}

// Store holds the live settings. It implements domain.SettingsProvider.
type Store struct {
	mu       sync.RWMutex
	current  domain.Settings
	onChange []func(context.Context, domain.Settings)
	logger   *zap.Logger
}

// NewStore starts from initial, which is assumed valid.
func NewStore(initial domain.Settings, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{current: initial.Clone(), logger: logger}
}

// OnChange registers a callback run after every successful update.
func (s *Store) OnChange(fn func(context.Context, domain.Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Current returns a copy of the live settings.
func (s *Store) Current(context.Context) (domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone(), nil
}

// Update validates and applies a partial change, returning the new settings.
func (s *Store) Update(ctx context.Context, u Update) (domain.Settings, error) {
	if err := u.Validate(); err != nil {
		return domain.Settings{}, err
	}

	s.mu.Lock()
	next := s.current.Clone()
	if u.ShareValue != nil {
		next.ShareValue = *u.ShareValue
	}
	if u.IndividualLimit != nil {
		next.LoanLimits.Individual = *u.IndividualLimit
	}
	if u.GuaranteePercentage != nil {
		next.LoanLimits.GuaranteePercentage = *u.GuaranteePercentage
	}
	if u.OperationDay != nil {
		day, _ := domain.ParseWeekday(*u.OperationDay)
		next.OperationDay = day
	}
	if u.HighRate != nil || u.MediumRate != nil || u.LowRate != nil {
		tiers := domain.DefaultRateTiers()
		if next.InterestRates != nil {
			tiers = *next.InterestRates
		}
		if u.HighRate != nil {
			tiers.High = *u.HighRate
		}
		if u.MediumRate != nil {
			tiers.Medium = *u.MediumRate
		}
		if u.LowRate != nil {
			tiers.Low = *u.LowRate
		}
		next.InterestRates = &tiers
	}
	if u.DelinquencyRate != nil {
		next.DelinquencyRate = *u.DelinquencyRate
	}
	s.current = next
	hooks := append([]func(context.Context, domain.Settings){}, s.onChange...)
	s.mu.Unlock()

	s.logger.Info("settings updated",
		zap.String("share_value", next.ShareValue.String()),
		zap.String("individual_limit", next.LoanLimits.Individual.String()),
		zap.String("operation_day", strings.ToLower(next.OperationDay.String())),
		zap.Time("updated_at", time.Now().UTC()),
	)
	for _, fn := range hooks {
		fn(ctx, next.Clone())
	}
	return next.Clone(), nil
}
