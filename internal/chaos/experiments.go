package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"coopcredit/internal/capital"
	"coopcredit/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Target is the slice of the lending API the experiments drive.
type Target interface {
	EnrollMember(ctx context.Context, name, nationalID string, shares int) (*domain.Member, error)
	SubmitLoanRequest(ctx context.Context, memberID uuid.UUID, amount decimal.Decimal, term int, purpose string, required time.Time) (*domain.LoanRequest, error)
	ApproveLoanRequest(ctx context.Context, requestID uuid.UUID) (*domain.Loan, error)
	RegisterPayment(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal, date time.Time) (*domain.Loan, error)
	ListLoans(ctx context.Context) ([]*domain.Loan, error)
	ListMembers(ctx context.Context) ([]*domain.Member, error)
	Statistics(ctx context.Context) (*capital.BankingStatistics, error)
}

// ExperimentConfig sizes the registered experiments.
type ExperimentConfig struct {
	Concurrency int
	Duration    time.Duration
}

// RegisterExperiments registers the lending experiments sized by cfg.
func (e *Engine) RegisterExperiments(cfg ExperimentConfig) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 50
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	e.Register(e.ConcurrentPaymentExperiment(cfg.Concurrency, cfg.Duration))
	e.Register(e.ConcurrentApprovalExperiment(cfg.Concurrency, cfg.Duration))
	e.Register(e.LatePaymentStormExperiment(cfg.Concurrency, cfg.Duration))
}

// invariantProbes are the portfolio properties every experiment must keep.
func (e *Engine) invariantProbes() []Probe {
	zero := Bound{Op: "==", Value: 0}
	return []Probe{
		{Name: "negative_balances", Measure: e.negativeBalances, Expect: zero},
		{Name: "score_violations", Measure: e.scoreViolations, Expect: zero},
		{Name: "negative_available_capital", Measure: e.negativeAvailableCapital, Expect: zero},
	}
}

func invariantChecks() []Check {
	isZero := func(v float64) bool { return v == 0 }
	return []Check{
		{Probe: "negative_balances", Pass: isZero, Message: "No loan may owe a negative amount"},
		{Probe: "score_violations", Pass: isZero, Message: "Scores stay in bounds and match their rating"},
		{Probe: "negative_available_capital", Pass: isZero, Message: "Available capital never goes negative"},
	}
}

func (e *Engine) negativeBalances(ctx context.Context) (float64, error) {
	loans, err := e.target.ListLoans(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, l := range loans {
		if l.RemainingAmount.IsNegative() {
			n++
		}
	}
	return float64(n), nil
}

func (e *Engine) scoreViolations(ctx context.Context) (float64, error) {
	members, err := e.target.ListMembers(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range members {
		if m.CreditScore < domain.MinCreditScore || m.CreditScore > domain.MaxCreditScore ||
			m.CreditRating != domain.RatingForScore(m.CreditScore) {
			n++
		}
	}
	return float64(n), nil
}

func (e *Engine) negativeAvailableCapital(ctx context.Context) (float64, error) {
	stats, err := e.target.Statistics(ctx)
	if err != nil {
		return 0, err
	}
	if stats.AvailableCapital.IsNegative() {
		return 1, nil
	}
	return 0, nil
}

// fixture enrolls a fresh member and opens an approved loan for them.
func (e *Engine) fixture(ctx context.Context, shares int, amount decimal.Decimal, term int) (*domain.Member, *domain.Loan, error) {
	member, err := e.target.EnrollMember(ctx, "chaos-"+uuid.NewString()[:8], "CHAOS-"+uuid.NewString(), shares)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to enroll member: %w", err)
	}
	request, err := e.target.SubmitLoanRequest(ctx, member.ID, amount, term, "chaos", time.Now().UTC().AddDate(0, 0, 7))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to submit loan request: %w", err)
	}
	loan, err := e.target.ApproveLoanRequest(ctx, request.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to approve loan request: %w", err)
	}
	return member, loan, nil
}

// fanOut runs fn concurrency times at once and joins the errors.
func fanOut(concurrency int, fn func(i int) error) error {
	var wg sync.WaitGroup
	errs := make([]error, concurrency)
	start := make(chan struct{})
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return errors.Join(errs...)
}

// ConcurrentPaymentExperiment pays the same loan from many clients at once.
// Payments on one loan serialize, so the balance never drops below zero and
// payments arriving after the loan is paid are refused.
func (e *Engine) ConcurrentPaymentExperiment(concurrency int, duration time.Duration) Experiment {
	var accepted atomic.Int64
	var loanID uuid.UUID

	return Experiment{
		Name:        "concurrent-payments-single-loan",
		Hypothesis:  "Concurrent payments on one loan serialize and never overdraw the balance",
		Baseline:    e.invariantProbes(),
		Steps: []Step{
			{
				Kind:   "concurrent-requests",
				Target: "lending-payments",
				Params: map[string]interface{}{
					"concurrency": concurrency,
				},
				Run: func(ctx context.Context) error {
					_, loan, err := e.fixture(ctx, 10, decimal.NewFromInt(1000), 4)
					if err != nil {
						return err
					}
					loanID = loan.ID
					today := time.Now().UTC()
					_ = fanOut(concurrency, func(int) error {
						if _, err := e.target.RegisterPayment(ctx, loan.ID, loan.InstallmentAmount, today); err != nil {
							return err
						}
						accepted.Add(1)
						return nil
					})
					return nil
				},
			},
		},
		Checks: append(invariantChecks(), Check{
			Probe:   "negative_balances",
			Pass:    func(float64) bool { return loanID != uuid.Nil && accepted.Load() > 0 },
			Message: "At least one payment must be accepted",
		}),
		Duration:    duration,
		BlastRadius: 0.1,
	}
}

// ConcurrentApprovalExperiment approves several requests of one member at
// once. Each fits the member's limit alone but not together, so exactly one
// approval may succeed.
func (e *Engine) ConcurrentApprovalExperiment(concurrency int, duration time.Duration) Experiment {
	var approved atomic.Int64
	const requests = 5

	return Experiment{
		Name:        "concurrent-approvals-same-member",
		Hypothesis:  "Concurrent approvals cannot commit the same borrowing capacity twice",
		Baseline:    e.invariantProbes(),
		Steps: []Step{
			{
				Kind:   "concurrent-requests",
				Target: "lending-approvals",
				Params: map[string]interface{}{
					"requests": requests,
				},
				Run: func(ctx context.Context) error {
					member, err := e.target.EnrollMember(ctx, "chaos-"+uuid.NewString()[:8], "CHAOS-"+uuid.NewString(), 10)
					if err != nil {
						return fmt.Errorf("failed to enroll member: %w", err)
					}
					ids := make([]uuid.UUID, 0, requests)
					for i := 0; i < requests; i++ {
						req, err := e.target.SubmitLoanRequest(ctx, member.ID, decimal.NewFromInt(3000), 4, "chaos", time.Now().UTC().AddDate(0, 0, 7))
						if err != nil {
							return fmt.Errorf("failed to submit loan request: %w", err)
						}
						ids = append(ids, req.ID)
					}
					_ = fanOut(len(ids), func(i int) error {
						if _, err := e.target.ApproveLoanRequest(ctx, ids[i]); err != nil {
							return err
						}
						approved.Add(1)
						return nil
					})
					return nil
				},
			},
		},
		Checks: append(invariantChecks(), Check{
			Probe:   "negative_balances",
			Pass:    func(float64) bool { return approved.Load() == 1 },
			Message: "Exactly one of the competing approvals must succeed",
		}),
		Duration:    duration,
		BlastRadius: 0.1,
	}
}

// LatePaymentStormExperiment registers many very late partial payments at
// once so the member's score is driven to the floor.
func (e *Engine) LatePaymentStormExperiment(concurrency int, duration time.Duration) Experiment {
	return Experiment{
		Name:        "late-payment-storm",
		Hypothesis:  "Score penalties from concurrent late payments clamp at the floor and keep ratings consistent",
		Baseline:    e.invariantProbes(),
		Steps: []Step{
			{
				Kind:   "concurrent-requests",
				Target: "lending-scoring",
				Params: map[string]interface{}{
					"concurrency": concurrency,
					"days_late":   90,
				},
				Run: func(ctx context.Context) error {
					_, loan, err := e.fixture(ctx, 10, decimal.NewFromInt(2000), 8)
					if err != nil {
						return err
					}
					late := loan.DueDate.AddDate(0, 0, 90)
					_ = fanOut(concurrency, func(int) error {
						_, err := e.target.RegisterPayment(ctx, loan.ID, decimal.NewFromInt(10), late)
						return err
					})
					return nil
				},
			},
		},
		Checks:      invariantChecks(),
		Duration:    duration,
		BlastRadius: 0.1,
	}
}
