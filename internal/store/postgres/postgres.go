// internal/store/postgres/postgres.go
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coopcredit/internal/domain"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

//go:embed schema.sql
var schema string

// Store implements domain.Repository on PostgreSQL. Every Save is an
// optimistic write guarded by the row's version column.
type Store struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// New wraps an open connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, tracer: otel.Tracer("coopcredit/store/postgres")}
}

// Connect opens and pings a pool for the given URL.
func Connect(ctx context.Context, url string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks the connection, used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) span(ctx context.Context, name string, id uuid.UUID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("entity.id", id.String())))
}

// versioned finishes an optimistic write. Zero affected rows means the row is
// missing or was changed by someone else.
func (s *Store) versioned(ctx context.Context, res sql.Result, table, entity string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("failed to check %s: %w", entity, err)
	}
	if !exists {
		return &domain.NotFoundError{Entity: entity, ID: id.String()}
	}
	return domain.ErrVersionMismatch
}

func insertConflict(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Members

const memberColumns = `id, name, national_id, shares, credit_score, credit_rating, access_hash, access_salt, created_at, updated_at, version`

func (s *Store) GetMember(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	ctx, span := s.span(ctx, "store.get_member", id)
	defer span.End()

	var m domain.Member
	err := s.db.GetContext(ctx, &m, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "member", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &m, nil
}

func (s *Store) ListMembers(ctx context.Context) ([]*domain.Member, error) {
	var members []*domain.Member
	if err := s.db.SelectContext(ctx, &members, `SELECT `+memberColumns+` FROM members ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

func (s *Store) SaveMember(ctx context.Context, m *domain.Member) error {
	ctx, span := s.span(ctx, "store.save_member", m.ID)
	defer span.End()

	if m.Version == 0 {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO members (`+memberColumns+`)
			VALUES (:id, :name, :national_id, :shares, :credit_score, :credit_rating, :access_hash, :access_salt, :created_at, :updated_at, 1)
		`, m)
		if insertConflict(err) {
			return domain.ErrVersionMismatch
		}
		if err != nil {
			return fmt.Errorf("failed to insert member: %w", err)
		}
		m.Version = 1
		return nil
	}

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE members SET
			name = :name, national_id = :national_id, shares = :shares,
			credit_score = :credit_score, credit_rating = :credit_rating,
			access_hash = :access_hash, access_salt = :access_salt,
			updated_at = :updated_at, version = version + 1
		WHERE id = :id AND version = :version
	`, m)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	if err := s.versioned(ctx, res, "members", "member", m.ID); err != nil {
		return err
	}
	m.Version++
	return nil
}

// Loan requests

type requestRow struct {
	ID                   uuid.UUID       `db:"id"`
	MemberID             uuid.UUID       `db:"member_id"`
	RequestedAmount      decimal.Decimal `db:"requested_amount"`
	TermInstallments     int             `db:"term_installments"`
	Purpose              string          `db:"purpose"`
	RequiredDate         time.Time       `db:"required_date"`
	InterestRate         decimal.Decimal `db:"interest_rate"`
	EstimatedInstallment decimal.Decimal `db:"estimated_installment"`
	EstimatedTotal       decimal.Decimal `db:"estimated_total"`
	Status               string          `db:"status"`
	Priority             int             `db:"priority"`
	RejectionReason      string          `db:"rejection_reason"`
	LoanID               uuid.UUID       `db:"loan_id"`
	CreatedAt            time.Time       `db:"created_at"`
	DecidedAt            *time.Time      `db:"decided_at"`
	Version              int             `db:"version"`
}

func toRequestRow(r *domain.LoanRequest) requestRow {
	return requestRow{
		ID: r.ID, MemberID: r.MemberID, RequestedAmount: r.RequestedAmount,
		TermInstallments: r.TermInstallments, Purpose: r.Purpose, RequiredDate: r.RequiredDate,
		InterestRate: r.InterestRate, EstimatedInstallment: r.EstimatedInstallment,
		EstimatedTotal: r.EstimatedTotal, Status: string(r.Status), Priority: r.Priority,
		RejectionReason: r.RejectionReason, LoanID: r.LoanID, CreatedAt: r.CreatedAt,
		DecidedAt: r.DecidedAt, Version: r.Version,
	}
}

func (row requestRow) toDomain() *domain.LoanRequest {
	r := &domain.LoanRequest{
		ID: row.ID, MemberID: row.MemberID, RequestedAmount: row.RequestedAmount,
		TermInstallments: row.TermInstallments, Purpose: row.Purpose, RequiredDate: row.RequiredDate.UTC(),
		InterestRate: row.InterestRate, EstimatedInstallment: row.EstimatedInstallment,
		EstimatedTotal: row.EstimatedTotal, Status: domain.RequestStatus(row.Status), Priority: row.Priority,
		RejectionReason: row.RejectionReason, LoanID: row.LoanID, CreatedAt: row.CreatedAt.UTC(),
		Version: row.Version,
	}
	if row.DecidedAt != nil {
		t := row.DecidedAt.UTC()
		r.DecidedAt = &t
	}
	return r
}

const requestColumns = `id, member_id, requested_amount, term_installments, purpose, required_date, interest_rate,
	estimated_installment, estimated_total, status, priority, rejection_reason, loan_id, created_at, decided_at, version`

func (s *Store) GetLoanRequest(ctx context.Context, id uuid.UUID) (*domain.LoanRequest, error) {
	ctx, span := s.span(ctx, "store.get_loan_request", id)
	defer span.End()

	var row requestRow
	err := s.db.GetContext(ctx, &row, `SELECT `+requestColumns+` FROM loan_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "loan request", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan request: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListLoanRequests(ctx context.Context) ([]*domain.LoanRequest, error) {
	var rows []requestRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+requestColumns+` FROM loan_requests ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("failed to list loan requests: %w", err)
	}
	out := make([]*domain.LoanRequest, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *Store) SaveLoanRequest(ctx context.Context, r *domain.LoanRequest) error {
	ctx, span := s.span(ctx, "store.save_loan_request", r.ID)
	defer span.End()

	row := toRequestRow(r)
	if r.Version == 0 {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO loan_requests (`+requestColumns+`)
			VALUES (:id, :member_id, :requested_amount, :term_installments, :purpose, :required_date, :interest_rate,
				:estimated_installment, :estimated_total, :status, :priority, :rejection_reason, :loan_id, :created_at, :decided_at, 1)
		`, row)
		if insertConflict(err) {
			return domain.ErrVersionMismatch
		}
		if err != nil {
			return fmt.Errorf("failed to insert loan request: %w", err)
		}
		r.Version = 1
		return nil
	}

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE loan_requests SET
			requested_amount = :requested_amount, term_installments = :term_installments, purpose = :purpose,
			required_date = :required_date, interest_rate = :interest_rate,
			estimated_installment = :estimated_installment, estimated_total = :estimated_total,
			status = :status, priority = :priority, rejection_reason = :rejection_reason,
			decided_at = :decided_at, version = version + 1
		WHERE id = :id AND version = :version
	`, row)
	if err != nil {
		return fmt.Errorf("failed to update loan request: %w", err)
	}
	if err := s.versioned(ctx, res, "loan_requests", "loan request", r.ID); err != nil {
		return err
	}
	r.Version++
	return nil
}

// Loans

type loanRow struct {
	ID                 uuid.UUID       `db:"id"`
	RequestID          uuid.UUID       `db:"request_id"`
	MemberID           uuid.UUID       `db:"member_id"`
	OriginalAmount     decimal.Decimal `db:"original_amount"`
	RemainingAmount    decimal.Decimal `db:"remaining_amount"`
	InstallmentAmount  decimal.Decimal `db:"installment_amount"`
	TotalInstallments  int             `db:"total_installments"`
	CurrentInstallment int             `db:"current_installment"`
	DueDate            time.Time       `db:"due_date"`
	InterestRate       decimal.Decimal `db:"interest_rate"`
	Status             string          `db:"status"`
	PaymentSchedule    []byte          `db:"payment_schedule"`
	PaymentHistory     []byte          `db:"payment_history"`
	Purpose            string          `db:"purpose"`
	CreatedAt          time.Time       `db:"created_at"`
	ApprovedAt         *time.Time      `db:"approved_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
	Version            int             `db:"version"`
}

func toLoanRow(l *domain.Loan) (loanRow, error) {
	schedule := l.PaymentSchedule
	if schedule == nil {
		schedule = []domain.ScheduleEntry{}
	}
	history := l.PaymentHistory
	if history == nil {
		history = []domain.Payment{}
	}
	scheduleJSON, err := json.Marshal(schedule)
	if err != nil {
		return loanRow{}, fmt.Errorf("failed to encode payment schedule: %w", err)
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return loanRow{}, fmt.Errorf("failed to encode payment history: %w", err)
	}
	return loanRow{
		ID: l.ID, RequestID: l.RequestID, MemberID: l.MemberID,
		OriginalAmount: l.OriginalAmount, RemainingAmount: l.RemainingAmount,
		InstallmentAmount: l.InstallmentAmount, TotalInstallments: l.TotalInstallments,
		CurrentInstallment: l.CurrentInstallment, DueDate: l.DueDate, InterestRate: l.InterestRate,
		Status: string(l.Status), PaymentSchedule: scheduleJSON, PaymentHistory: historyJSON,
		Purpose: l.Purpose, CreatedAt: l.CreatedAt, ApprovedAt: l.ApprovedAt, UpdatedAt: l.UpdatedAt,
		Version: l.Version,
	}, nil
}

func (row loanRow) toDomain() (*domain.Loan, error) {
	l := &domain.Loan{
		ID: row.ID, RequestID: row.RequestID, MemberID: row.MemberID,
		OriginalAmount: row.OriginalAmount, RemainingAmount: row.RemainingAmount,
		InstallmentAmount: row.InstallmentAmount, TotalInstallments: row.TotalInstallments,
		CurrentInstallment: row.CurrentInstallment, DueDate: row.DueDate.UTC(), InterestRate: row.InterestRate,
		Status: domain.LoanStatus(row.Status), Purpose: row.Purpose,
		CreatedAt: row.CreatedAt.UTC(), UpdatedAt: row.UpdatedAt.UTC(), Version: row.Version,
	}
	if row.ApprovedAt != nil {
		t := row.ApprovedAt.UTC()
		l.ApprovedAt = &t
	}
	if err := json.Unmarshal(row.PaymentSchedule, &l.PaymentSchedule); err != nil {
		return nil, fmt.Errorf("failed to decode payment schedule of loan %s: %w", row.ID, err)
	}
	if err := json.Unmarshal(row.PaymentHistory, &l.PaymentHistory); err != nil {
		return nil, fmt.Errorf("failed to decode payment history of loan %s: %w", row.ID, err)
	}
	if len(l.PaymentSchedule) == 0 {
		l.PaymentSchedule = nil
	}
	if len(l.PaymentHistory) == 0 {
		l.PaymentHistory = nil
	}
	return l, nil
}

const loanColumns = `id, request_id, member_id, original_amount, remaining_amount, installment_amount, total_installments,
	current_installment, due_date, interest_rate, status, payment_schedule, payment_history, purpose, created_at,
	approved_at, updated_at, version`

func (s *Store) GetLoan(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	ctx, span := s.span(ctx, "store.get_loan", id)
	defer span.End()

	var row loanRow
	err := s.db.GetContext(ctx, &row, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "loan", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return row.toDomain()
}

func (s *Store) ListLoans(ctx context.Context) ([]*domain.Loan, error) {
	var rows []loanRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+loanColumns+` FROM loans ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	out := make([]*domain.Loan, 0, len(rows))
	for _, row := range rows {
		l, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *Store) SaveLoan(ctx context.Context, l *domain.Loan) error {
	ctx, span := s.span(ctx, "store.save_loan", l.ID)
	defer span.End()

	row, err := toLoanRow(l)
	if err != nil {
		return err
	}
	if l.Version == 0 {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO loans (`+loanColumns+`)
			VALUES (:id, :request_id, :member_id, :original_amount, :remaining_amount, :installment_amount,
				:total_installments, :current_installment, :due_date, :interest_rate, :status, :payment_schedule,
				:payment_history, :purpose, :created_at, :approved_at, :updated_at, 1)
		`, row)
		if insertConflict(err) {
			return domain.ErrVersionMismatch
		}
		if err != nil {
			return fmt.Errorf("failed to insert loan: %w", err)
		}
		l.Version = 1
		return nil
	}

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE loans SET
			original_amount = :original_amount, remaining_amount = :remaining_amount,
			installment_amount = :installment_amount, total_installments = :total_installments,
			current_installment = :current_installment, due_date = :due_date, interest_rate = :interest_rate,
			status = :status, payment_schedule = :payment_schedule, payment_history = :payment_history,
			purpose = :purpose, approved_at = :approved_at, updated_at = :updated_at, version = version + 1
		WHERE id = :id AND version = :version
	`, row)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	if err := s.versioned(ctx, res, "loans", "loan", l.ID); err != nil {
		return err
	}
	l.Version++
	return nil
}
