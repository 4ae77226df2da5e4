// internal/lending/audit.go
package lending

import (
	"context"
	"time"

	"coopcredit/internal/domain"
	"coopcredit/internal/eventstore"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const auditAttempts = 5

// auditedService records every successful mutation in the event store. The
// mutation has already been committed when the event is written, so an audit
// failure is logged rather than returned.
type auditedService struct {
	Service
	events eventstore.Store
	logger *zap.Logger
}

// NewAuditedService wraps next so its mutations are appended to loan streams.
func NewAuditedService(next Service, events eventstore.Store, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &auditedService{Service: next, events: events, logger: logger}
}

func (a *auditedService) record(ctx context.Context, loanID uuid.UUID, eventType string, payload interface{}) {
	event, err := eventstore.NewEvent(eventType, payload, map[string]string{
		"recorded_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err == nil {
		err = eventstore.Append(ctx, a.events, loanID, AggregateType, auditAttempts, event)
	}
	if err != nil {
		a.logger.Error("failed to append audit event",
			zap.String("loan_id", loanID.String()),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

func (a *auditedService) SubmitLoanRequest(ctx context.Context, in SubmitLoanRequestInput) (*domain.LoanRequest, error) {
	request, err := a.Service.SubmitLoanRequest(ctx, in)
	if err != nil {
		return nil, err
	}
	a.record(ctx, request.LoanID, EventLoanRequested, LoanRequestedEvent{
		RequestID:    request.ID,
		MemberID:     request.MemberID,
		Amount:       request.RequestedAmount,
		Term:         request.TermInstallments,
		Purpose:      request.Purpose,
		RequiredDate: request.RequiredDate,
		Priority:     request.Priority,
	})
	return request, nil
}

func (a *auditedService) ApproveLoanRequest(ctx context.Context, requestID uuid.UUID) (*domain.Loan, error) {
	loan, err := a.Service.ApproveLoanRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	a.record(ctx, loan.ID, EventLoanApproved, LoanApprovedEvent{
		LoanID:       loan.ID,
		MemberID:     loan.MemberID,
		Amount:       loan.OriginalAmount,
		InterestRate: loan.InterestRate,
		Installment:  loan.InstallmentAmount,
		FirstDueDate: loan.DueDate,
	})
	return loan, nil
}

func (a *auditedService) RejectLoanRequest(ctx context.Context, requestID uuid.UUID, reason string) (*domain.LoanRequest, error) {
	request, err := a.Service.RejectLoanRequest(ctx, requestID, reason)
	if err != nil {
		return nil, err
	}
	a.record(ctx, request.LoanID, EventLoanRejected, LoanRejectedEvent{
		RequestID: request.ID,
		Reason:    request.RejectionReason,
	})
	return request, nil
}

func (a *auditedService) RegisterPayment(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal, date time.Time) (*domain.Loan, error) {
	loan, err := a.Service.RegisterPayment(ctx, loanID, amount, date)
	if err != nil {
		return nil, err
	}
	a.record(ctx, loan.ID, EventPaymentRegistered, PaymentRegisteredEvent{
		LoanID:    loan.ID,
		Payment:   loan.PaymentHistory[len(loan.PaymentHistory)-1],
		Remaining: loan.RemainingAmount,
		Status:    loan.Status,
		DueDate:   loan.DueDate,
	})
	return loan, nil
}

func (a *auditedService) ModifyLoanTerms(ctx context.Context, loanID uuid.UUID, patch TermsPatch) (*domain.Loan, error) {
	loan, err := a.Service.ModifyLoanTerms(ctx, loanID, patch)
	if err != nil {
		return nil, err
	}
	a.record(ctx, loan.ID, EventLoanTermsModified, LoanTermsModifiedEvent{
		LoanID: loan.ID,
		Patch:  patch,
		Status: loan.Status,
	})
	return loan, nil
}
