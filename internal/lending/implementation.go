// internal/lending/implementation.go
package lending

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"coopcredit/internal/capital"
	"coopcredit/internal/domain"
	"coopcredit/internal/finance"
	"coopcredit/internal/keylock"
	"coopcredit/internal/money"
	"coopcredit/internal/scoring"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultUpcomingWindow is the look-ahead used for upcoming payments.
const DefaultUpcomingWindow = 7 * 24 * time.Hour

// service implements the Service interface.
type service struct {
	repo     domain.Repository
	settings domain.SettingsProvider
	scoring  *scoring.Engine
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time

	loanLocks *keylock.Map
	approvals sync.Mutex

	requestsSubmitted  metric.Int64Counter
	requestsDecided    metric.Int64Counter
	paymentsRegistered metric.Int64Counter
}

// Option customizes the lending service.
type Option func(*service)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *service) { s.logger = logger }
}

// NewService creates a new lending service instance.
func NewService(repo domain.Repository, settings domain.SettingsProvider, engine *scoring.Engine, opts ...Option) Service {
	s := &service{
		repo:      repo,
		settings:  settings,
		scoring:   engine,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("coopcredit/lending"),
		now:       time.Now,
		loanLocks: keylock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter("coopcredit/lending")
	var err error
	if s.requestsSubmitted, err = meter.Int64Counter("lending.requests.submitted"); err != nil {
		s.logger.Warn("failed to create counter", zap.Error(err))
	}
	if s.requestsDecided, err = meter.Int64Counter("lending.requests.decided"); err != nil {
		s.logger.Warn("failed to create counter", zap.Error(err))
	}
	if s.paymentsRegistered, err = meter.Int64Counter("lending.payments.registered"); err != nil {
		s.logger.Warn("failed to create counter", zap.Error(err))
	}
	return s
}

func (s *service) today() time.Time {
	return finance.DateOf(s.now())
}

func (s *service) count(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// SubmitLoanRequest validates an application and opens its loan record in
// pending_approval under the same id.
func (s *service) SubmitLoanRequest(ctx context.Context, in SubmitLoanRequestInput) (*domain.LoanRequest, error) {
	ctx, span := s.tracer.Start(ctx, "lending.submit_request",
		trace.WithAttributes(
			attribute.String("member.id", in.MemberID.String()),
			attribute.String("amount", in.Amount.String()),
			attribute.Int("term", in.Term),
		),
	)
	defer span.End()

	if !in.Amount.IsPositive() {
		return nil, domain.Invalid(domain.RuleAmount, "requested amount must be greater than zero")
	}
	if in.Term < domain.MinTermInstallments || in.Term > domain.MaxTermInstallments {
		return nil, domain.Invalid(domain.RuleTerm, "term must be between %d and %d installments",
			domain.MinTermInstallments, domain.MaxTermInstallments)
	}
	purpose := strings.TrimSpace(in.Purpose)
	if purpose == "" {
		return nil, domain.Invalid(domain.RulePurpose, "purpose is required")
	}
	today := s.today()
	required := finance.DateOf(in.RequiredDate)
	if in.RequiredDate.IsZero() || required.Before(today) {
		return nil, domain.Invalid(domain.RuleRequiredDate, "required date must not be in the past")
	}

	member, err := s.repo.GetMember(ctx, in.MemberID)
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	rating := member.Rating()
	if rating == domain.RatingRed {
		return nil, domain.Invalid(domain.RuleCreditRating, "members rated red cannot request loans")
	}

	settings, err := s.settings.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	rate := finance.ResolveRate(in.Amount, settings.InterestRates)
	sched, err := finance.BuildSchedule(in.Amount, in.Term, rate, required, settings.OperationDay)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	id := uuid.New()
	request := &domain.LoanRequest{
		ID:                   id,
		MemberID:             member.ID,
		RequestedAmount:      money.Round(in.Amount),
		TermInstallments:     in.Term,
		Purpose:              purpose,
		RequiredDate:         required,
		InterestRate:         rate,
		EstimatedInstallment: sched.Installment,
		EstimatedTotal:       sched.Total,
		Status:               domain.RequestPending,
		Priority:             rating.Priority(),
		LoanID:               id,
		CreatedAt:            now,
	}
	loan := &domain.Loan{
		ID:                 id,
		RequestID:          id,
		MemberID:           member.ID,
		OriginalAmount:     request.RequestedAmount,
		RemainingAmount:    request.RequestedAmount,
		InstallmentAmount:  sched.Installment,
		TotalInstallments:  in.Term,
		CurrentInstallment: 1,
		DueDate:            sched.FirstDueDate(),
		InterestRate:       rate,
		Status:             domain.LoanPendingApproval,
		Purpose:            purpose,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repo.SaveLoanRequest(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to save loan request: %w", err)
	}

	// Compensation for the saved request if the loan record cannot be opened.
	compensation := func(cause error) {
		s.logger.Warn("compensating loan request",
			zap.String("request_id", id.String()),
			zap.Error(cause),
		)
		request.Status = domain.RequestRejected
		request.RejectionReason = "loan record could not be opened"
		request.DecidedAt = &now
		if err := s.repo.SaveLoanRequest(ctx, request); err != nil {
			s.logger.Error("failed to compensate loan request",
				zap.String("request_id", id.String()),
				zap.Error(err),
			)
		}
	}

	if err := s.repo.SaveLoan(ctx, loan); err != nil {
		compensation(err)
		return nil, fmt.Errorf("failed to open loan record: %w", err)
	}

	s.count(ctx, s.requestsSubmitted, attribute.String("rating", string(rating)))
	s.logger.Info("loan request submitted",
		zap.String("request_id", id.String()),
		zap.String("member_id", member.ID.String()),
		zap.String("amount", request.RequestedAmount.String()),
		zap.Int("priority", request.Priority),
	)
	return request, nil
}

// ApproveLoanRequest disburses a pending request. Approvals are serialized so
// two of them never commit the same available capital.
func (s *service) ApproveLoanRequest(ctx context.Context, requestID uuid.UUID) (*domain.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "lending.approve_request",
		trace.WithAttributes(attribute.String("request.id", requestID.String())),
	)
	defer span.End()

	s.approvals.Lock()
	defer s.approvals.Unlock()

	request, err := s.repo.GetLoanRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get loan request: %w", err)
	}
	if request.Status != domain.RequestPending {
		return nil, &domain.StateConflictError{Entity: "loan request", ID: requestID.String(), State: string(request.Status), Op: "approve"}
	}

	unlock := s.loanLocks.Lock(request.LoanID)
	defer unlock()

	loan, err := s.repo.GetLoan(ctx, request.LoanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	if loan.Status != domain.LoanPendingApproval {
		return nil, &domain.StateConflictError{Entity: "loan", ID: loan.ID.String(), State: string(loan.Status), Op: "approve"}
	}

	member, err := s.repo.GetMember(ctx, request.MemberID)
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	if member.Rating() == domain.RatingRed {
		return nil, domain.Invalid(domain.RuleCreditRating, "members rated red cannot be granted loans")
	}

	settings, err := s.settings.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	members, err := s.repo.ListMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	loans, err := s.repo.ListLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}

	amount := request.RequestedAmount
	capacity := borrowingCapacity(member, settings, loans, loan.ID)
	if amount.GreaterThan(capacity.Available) {
		return nil, domain.Invalid(domain.RuleLoanLimit, "requested %s exceeds the member's available limit of %s", amount, capacity.Available)
	}
	stats := capital.Statistics(members, loans, settings)
	if amount.GreaterThan(stats.AvailableCapital) {
		return nil, domain.Invalid(domain.RuleCapital, "requested %s exceeds available capital of %s", amount, stats.AvailableCapital)
	}

	rate := finance.ResolveRate(amount, settings.InterestRates)
	sched, err := finance.BuildSchedule(amount, request.TermInstallments, rate, request.RequiredDate, settings.OperationDay)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	pending := loan.Clone()
	loan.OriginalAmount = amount
	loan.RemainingAmount = amount
	loan.InterestRate = rate
	loan.InstallmentAmount = sched.Installment
	loan.TotalInstallments = request.TermInstallments
	loan.CurrentInstallment = 1
	loan.PaymentSchedule = sched.Entries
	loan.DueDate = sched.FirstDueDate()
	loan.Status = domain.LoanApproved
	loan.ApprovedAt = &now
	loan.UpdatedAt = now

	if err := s.repo.SaveLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to save loan: %w", err)
	}

	request.Status = domain.RequestApproved
	request.InterestRate = rate
	request.EstimatedInstallment = sched.Installment
	request.EstimatedTotal = sched.Total
	request.DecidedAt = &now
	if err := s.repo.SaveLoanRequest(ctx, request); err != nil {
		s.logger.Warn("compensating loan approval", zap.String("loan_id", loan.ID.String()), zap.Error(err))
		pending.Version = loan.Version
		if cerr := s.repo.SaveLoan(ctx, pending); cerr != nil {
			s.logger.Error("failed to compensate loan approval",
				zap.String("loan_id", loan.ID.String()),
				zap.Error(cerr),
			)
		}
		return nil, fmt.Errorf("failed to save loan request: %w", err)
	}

	s.count(ctx, s.requestsDecided, attribute.String("decision", "approved"))
	span.SetAttributes(attribute.String("loan.rate", rate.String()))
	s.logger.Info("loan approved",
		zap.String("loan_id", loan.ID.String()),
		zap.String("member_id", loan.MemberID.String()),
		zap.String("amount", amount.String()),
		zap.String("rate", rate.String()),
		zap.Time("first_due_date", loan.DueDate),
	)
	return loan, nil
}

// RejectLoanRequest closes a pending request and its loan record.
func (s *service) RejectLoanRequest(ctx context.Context, requestID uuid.UUID, reason string) (*domain.LoanRequest, error) {
	ctx, span := s.tracer.Start(ctx, "lending.reject_request",
		trace.WithAttributes(attribute.String("request.id", requestID.String())),
	)
	defer span.End()

	request, err := s.repo.GetLoanRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get loan request: %w", err)
	}

	unlock := s.loanLocks.Lock(request.LoanID)
	defer unlock()

	// Re-read under the lock; an approval may have finished in between.
	request, err = s.repo.GetLoanRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get loan request: %w", err)
	}
	if request.Status != domain.RequestPending {
		return nil, &domain.StateConflictError{Entity: "loan request", ID: requestID.String(), State: string(request.Status), Op: "reject"}
	}

	now := s.now().UTC()
	loan, err := s.repo.GetLoan(ctx, request.LoanID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to get loan: %w", err)
	case loan.Status == domain.LoanPendingApproval:
		loan.Status = domain.LoanRejected
		loan.UpdatedAt = now
		if err := s.repo.SaveLoan(ctx, loan); err != nil {
			return nil, fmt.Errorf("failed to save loan: %w", err)
		}
	}

	request.Status = domain.RequestRejected
	request.RejectionReason = strings.TrimSpace(reason)
	request.DecidedAt = &now
	if err := s.repo.SaveLoanRequest(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to save loan request: %w", err)
	}

	s.count(ctx, s.requestsDecided, attribute.String("decision", "rejected"))
	s.logger.Info("loan request rejected",
		zap.String("request_id", requestID.String()),
		zap.String("reason", request.RejectionReason),
	)
	return request, nil
}

// RegisterPayment applies money received against a loan. The member's score
// moves first; if the loan cannot be saved afterwards the score change is
// reverted.
func (s *service) RegisterPayment(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal, date time.Time) (*domain.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "lending.register_payment",
		trace.WithAttributes(
			attribute.String("loan.id", loanID.String()),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	amount = money.Round(amount)
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	payDate := s.today()
	if !date.IsZero() {
		payDate = finance.DateOf(date)
	}

	unlock := s.loanLocks.Lock(loanID)
	defer unlock()

	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	switch loan.Status {
	case domain.LoanPendingApproval, domain.LoanRejected, domain.LoanPaid:
		return nil, &domain.StateConflictError{Entity: "loan", ID: loanID.String(), State: string(loan.Status), Op: "register payment on"}
	}

	settings, err := s.settings.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	prevDue := loan.DueDate
	weeksLate := finance.WeeksLate(prevDue, payDate)
	lateFee := finance.DailyLateFee(loan.InstallmentAmount, prevDue, payDate, settings.DelinquencyRate)
	delta := scoring.DeltaForWeeksLate(weeksLate)

	loan.RemainingAmount = money.NonNegative(loan.RemainingAmount.Sub(amount))
	advanced := amount.GreaterThanOrEqual(loan.InstallmentAmount)
	if advanced {
		loan.CurrentInstallment++
	}
	loan.DueDate = nextDueDate(loan, prevDue, advanced, settings.OperationDay)

	switch {
	case loan.RemainingAmount.IsZero():
		loan.Status = domain.LoanPaid
	case loan.DueDate.Before(payDate):
		loan.Status = domain.LoanOverdue
	default:
		loan.Status = domain.LoanCurrent
	}

	loan.PaymentHistory = append(loan.PaymentHistory, domain.Payment{
		Date:             payDate,
		Amount:           amount,
		LateFee:          lateFee,
		WeeksLate:        weeksLate,
		CreditScoreDelta: delta,
	})
	loan.UpdatedAt = s.now().UTC()

	change, err := s.scoring.ApplyDelta(ctx, loan.MemberID, delta, scoring.ReasonForWeeksLate(weeksLate))
	if err != nil {
		return nil, fmt.Errorf("failed to adjust credit score: %w", err)
	}

	if err := s.repo.SaveLoan(ctx, loan); err != nil {
		s.logger.Warn("compensating credit score",
			zap.String("loan_id", loanID.String()),
			zap.String("member_id", loan.MemberID.String()),
			zap.Error(err),
		)
		if rerr := s.scoring.Revert(ctx, change); rerr != nil {
			s.logger.Error("failed to compensate credit score",
				zap.String("member_id", loan.MemberID.String()),
				zap.Int("applied", change.Applied()),
				zap.Error(rerr),
			)
		}
		return nil, fmt.Errorf("failed to save loan: %w", err)
	}

	s.count(ctx, s.paymentsRegistered, attribute.Int("weeks_late", weeksLate))
	span.SetAttributes(
		attribute.Int("weeks_late", weeksLate),
		attribute.String("loan.status", string(loan.Status)),
	)
	s.logger.Info("payment registered",
		zap.String("loan_id", loanID.String()),
		zap.String("amount", amount.String()),
		zap.String("late_fee", lateFee.String()),
		zap.Int("weeks_late", weeksLate),
		zap.Int("score_delta", delta),
		zap.String("remaining", loan.RemainingAmount.String()),
		zap.String("status", string(loan.Status)),
	)
	return loan, nil
}

// nextDueDate prefers the schedule row for the loan's new installment index.
// Without one, an advanced installment moves the due date a week forward and
// onto the operation weekday; anything else keeps the previous date.
func nextDueDate(loan *domain.Loan, prevDue time.Time, advanced bool, weekday time.Weekday) time.Time {
	if entry, ok := loan.ScheduleEntryAt(loan.CurrentInstallment); ok {
		return entry.DueDate
	}
	if advanced && loan.CurrentInstallment <= loan.TotalInstallments {
		return finance.SnapToWeekday(prevDue.AddDate(0, 0, 7), weekday)
	}
	return prevDue
}

// ModifyLoanTerms applies an administrative override to an active loan.
func (s *service) ModifyLoanTerms(ctx context.Context, loanID uuid.UUID, patch TermsPatch) (*domain.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "lending.modify_terms",
		trace.WithAttributes(attribute.String("loan.id", loanID.String())),
	)
	defer span.End()

	unlock := s.loanLocks.Lock(loanID)
	defer unlock()

	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	switch loan.Status {
	case domain.LoanPendingApproval, domain.LoanRejected, domain.LoanPaid:
		return nil, &domain.StateConflictError{Entity: "loan", ID: loanID.String(), State: string(loan.Status), Op: "modify"}
	}

	if patch.RemainingAmount != nil {
		remaining := money.Round(*patch.RemainingAmount)
		if remaining.IsNegative() || remaining.GreaterThan(loan.RemainingAmount) {
			return nil, domain.Invalid(domain.RuleRemaining, "remaining amount must be between 0 and %s", loan.RemainingAmount)
		}
		loan.RemainingAmount = remaining
	}
	if patch.Status != nil {
		switch *patch.Status {
		case domain.LoanCurrent, domain.LoanOverdue, domain.LoanPaid:
			loan.Status = *patch.Status
		default:
			return nil, domain.Invalid(domain.RuleStatus, "status can only be set to current, overdue or paid")
		}
	}
	if patch.DueDate != nil {
		if patch.DueDate.IsZero() {
			return nil, domain.Invalid(domain.RuleRequiredDate, "due date must be set")
		}
		loan.DueDate = finance.DateOf(*patch.DueDate)
	}

	if loan.Status == domain.LoanPaid {
		loan.RemainingAmount = decimal.Zero
	}
	if loan.RemainingAmount.IsZero() {
		loan.Status = domain.LoanPaid
	}
	loan.UpdatedAt = s.now().UTC()

	if err := s.repo.SaveLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to save loan: %w", err)
	}

	s.logger.Info("loan terms modified",
		zap.String("loan_id", loanID.String()),
		zap.String("status", string(loan.Status)),
		zap.String("remaining", loan.RemainingAmount.String()),
		zap.Time("due_date", loan.DueDate),
	)
	return loan, nil
}

// GetBankingStatistics recomputes portfolio figures from a repository snapshot.
func (s *service) GetBankingStatistics(ctx context.Context) (*capital.BankingStatistics, error) {
	ctx, span := s.tracer.Start(ctx, "lending.statistics")
	defer span.End()

	members, err := s.repo.ListMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	loans, err := s.repo.ListLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	settings, err := s.settings.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	stats := capital.Statistics(members, loans, settings)
	return &stats, nil
}

func (s *service) view(loan *domain.Loan) *domain.Loan {
	loan.Status = loan.StatusAt(s.today())
	return loan
}

// GetLoan returns the loan with its status derived for today.
func (s *service) GetLoan(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	return s.view(loan), nil
}

// ListLoans returns loans matching the filter, statuses derived for today.
func (s *service) ListLoans(ctx context.Context, filter LoanFilter) ([]*domain.Loan, error) {
	loans, err := s.repo.ListLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	out := make([]*domain.Loan, 0, len(loans))
	for _, l := range loans {
		l = s.view(l)
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		if filter.MemberID != uuid.Nil && l.MemberID != filter.MemberID {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// OverdueLoans lists loans past their due date with money still owed.
func (s *service) OverdueLoans(ctx context.Context) ([]*domain.Loan, error) {
	return s.ListLoans(ctx, LoanFilter{Status: domain.LoanOverdue})
}

// UpcomingPayments lists installments due between today and today+window.
func (s *service) UpcomingPayments(ctx context.Context, window time.Duration) ([]UpcomingPayment, error) {
	if window <= 0 {
		window = DefaultUpcomingWindow
	}
	loans, err := s.repo.ListLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}

	today := s.today()
	horizon := today.Add(window)
	var out []UpcomingPayment
	for _, l := range loans {
		status := l.StatusAt(today)
		switch status {
		case domain.LoanApproved, domain.LoanCurrent, domain.LoanDueSoon:
		default:
			continue
		}
		if l.DueDate.Before(today) || l.DueDate.After(horizon) {
			continue
		}
		out = append(out, UpcomingPayment{
			LoanID:           l.ID,
			MemberID:         l.MemberID,
			InstallmentIndex: l.CurrentInstallment,
			DueDate:          l.DueDate,
			Installment:      decimal.Min(l.InstallmentAmount, l.RemainingAmount),
			DaysUntilDue:     int(l.DueDate.Sub(today) / finance.Day),
			Status:           status,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

// GetLoanRequest returns a single request.
func (s *service) GetLoanRequest(ctx context.Context, requestID uuid.UUID) (*domain.LoanRequest, error) {
	return s.repo.GetLoanRequest(ctx, requestID)
}

// ListLoanRequests returns requests in review order: priority first, then
// submission time.
func (s *service) ListLoanRequests(ctx context.Context, status domain.RequestStatus) ([]*domain.LoanRequest, error) {
	requests, err := s.repo.ListLoanRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list loan requests: %w", err)
	}
	out := requests[:0]
	for _, r := range requests {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// PaymentHistory returns the payments recorded against a loan.
func (s *service) PaymentHistory(ctx context.Context, loanID uuid.UUID) ([]domain.Payment, error) {
	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	return loan.PaymentHistory, nil
}

// PaymentSchedule returns a loan's amortization table.
func (s *service) PaymentSchedule(ctx context.Context, loanID uuid.UUID) ([]domain.ScheduleEntry, error) {
	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	return loan.PaymentSchedule, nil
}

// QuotePayment computes what is owed on a loan on the given date.
func (s *service) QuotePayment(ctx context.Context, loanID uuid.UUID, date time.Time) (*PaymentQuote, error) {
	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	switch loan.Status {
	case domain.LoanPendingApproval, domain.LoanRejected, domain.LoanPaid:
		return nil, &domain.StateConflictError{Entity: "loan", ID: loanID.String(), State: string(loan.Status), Op: "quote"}
	}
	settings, err := s.settings.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	day := s.today()
	if !date.IsZero() {
		day = finance.DateOf(date)
	}
	installment := decimal.Min(loan.InstallmentAmount, loan.RemainingAmount)
	daily := finance.DailyLateFee(loan.InstallmentAmount, loan.DueDate, day, settings.DelinquencyRate)
	return &PaymentQuote{
		LoanID:        loan.ID,
		Date:          day,
		DueDate:       loan.DueDate,
		Installment:   installment,
		DaysLate:      finance.DaysLate(loan.DueDate, day),
		WeeksLate:     finance.WeeksLate(loan.DueDate, day),
		DailyLateFee:  daily,
		WeeklyLateFee: finance.WeeklyLateFee(loan.InstallmentAmount, loan.DueDate, day, settings.DelinquencyRate),
		TotalDue:      installment.Add(daily),
		Overdue:       day.After(loan.DueDate),
	}, nil
}

// PreviewLoan simulates a loan without persisting anything.
func (s *service) PreviewLoan(ctx context.Context, amount decimal.Decimal, term int, startDate time.Time) (*LoanPreview, error) {
	settings, err := s.settings.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if startDate.IsZero() {
		startDate = s.today()
	}
	rate := finance.ResolveRate(amount, settings.InterestRates)
	sched, err := finance.BuildSchedule(amount, term, rate, startDate, settings.OperationDay)
	if err != nil {
		return nil, err
	}
	return &LoanPreview{
		Amount:        money.Round(amount),
		Term:          term,
		Tier:          string(finance.TierFor(amount)),
		InterestRate:  rate,
		Installment:   sched.Installment,
		Total:         sched.Total,
		TotalInterest: sched.TotalInterest,
		Schedule:      sched.Entries,
	}, nil
}

// BorrowingCapacity reports the member's limit and what is left of it.
func (s *service) BorrowingCapacity(ctx context.Context, memberID uuid.UUID) (*Capacity, error) {
	member, err := s.repo.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	settings, err := s.settings.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	loans, err := s.repo.ListLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	c := borrowingCapacity(member, settings, loans, uuid.Nil)
	return &c, nil
}

// borrowingCapacity computes min(individual limit, guarantee x pct) less the
// principal still owed on the member's other disbursed loans.
func borrowingCapacity(member *domain.Member, settings domain.Settings, loans []*domain.Loan, exclude uuid.UUID) Capacity {
	guarantee := member.Guarantee(settings.ShareValue)
	byGuarantee := guarantee.Mul(money.FromPercent(settings.LoanLimits.GuaranteePercentage))
	base := money.Round(decimal.Min(settings.LoanLimits.Individual, byGuarantee))

	outstanding := decimal.Zero
	for _, l := range loans {
		if l.MemberID != member.ID || l.ID == exclude {
			continue
		}
		if l.Status.Disbursed() && l.Status != domain.LoanPaid {
			outstanding = outstanding.Add(l.RemainingAmount)
		}
	}

	rating := member.Rating()
	available := money.NonNegative(base.Sub(outstanding))
	return Capacity{
		MemberID:    member.ID,
		Rating:      rating,
		Guarantee:   money.Round(guarantee),
		BaseLimit:   base,
		Outstanding: money.Round(outstanding),
		Available:   available,
		Eligible:    rating != domain.RatingRed && available.IsPositive(),
	}
}
