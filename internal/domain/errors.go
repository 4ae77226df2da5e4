// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrStateConflict   = errors.New("state conflict")
	ErrInvalidAmount   = errors.New("invalid amount: must be greater than zero")
	ErrVersionMismatch = errors.New("version mismatch")
)

// Rule names reported by ValidationError.
const (
	RuleAmount        = "amount"
	RuleTerm          = "term"
	RulePurpose       = "purpose"
	RuleRequiredDate  = "required_date"
	RuleLoanLimit     = "loan_limit"
	RuleCreditRating  = "credit_rating"
	RuleCapital       = "available_capital"
	RuleRemaining     = "remaining_amount"
	RuleStatus        = "status"
	RuleShares        = "shares"
	RuleSettingsRange = "settings_range"
	RuleIdentity      = "identity"
)

// ValidationError reports which business rule rejected an input.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Rule, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(rule, format string, args ...interface{}) error {
	return &ValidationError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StateConflictError reports an operation that is not allowed in the entity's current state.
type StateConflictError struct {
	Entity string
	ID     string
	State  string
	Op     string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %s", e.Op, e.Entity, e.ID, e.State)
}

func (e *StateConflictError) Is(target error) bool {
	return target == ErrStateConflict
}
