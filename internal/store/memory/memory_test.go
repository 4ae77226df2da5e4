package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"coopcredit/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_MemberVersioning(t *testing.T) {
	ctx := context.Background()
	s := New()

	m := &domain.Member{ID: uuid.New(), Name: "Rosa", Shares: 3}
	require.NoError(t, s.SaveMember(ctx, m))
	assert.Equal(t, 1, m.Version)

	a, err := s.GetMember(ctx, m.ID)
	require.NoError(t, err)
	b, err := s.GetMember(ctx, m.ID)
	require.NoError(t, err)

	a.Shares = 5
	require.NoError(t, s.SaveMember(ctx, a))

	b.Shares = 9
	err = s.SaveMember(ctx, b)
	assert.ErrorIs(t, err, domain.ErrVersionMismatch)

	got, err := s.GetMember(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Shares)
	assert.Equal(t, 2, got.Version)
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetMember(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetLoan(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetLoanRequest(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = s.SaveLoan(ctx, &domain.Loan{ID: uuid.New(), Version: 3})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	l := &domain.Loan{ID: uuid.New(), RemainingAmount: decimal.NewFromInt(100)}
	require.NoError(t, s.SaveLoan(ctx, l))

	got, err := s.GetLoan(ctx, l.ID)
	require.NoError(t, err)
	got.RemainingAmount = decimal.Zero
	got.PaymentHistory = append(got.PaymentHistory, domain.Payment{})

	again, err := s.GetLoan(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, again.RemainingAmount.Equal(decimal.NewFromInt(100)))
	assert.Empty(t, again.PaymentHistory)
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "coop.json")

	s, err := Open(path, nil)
	require.NoError(t, err)

	m := &domain.Member{ID: uuid.New(), Name: "Luis", Shares: 7}
	m.SetScore(90)
	require.NoError(t, s.SaveMember(ctx, m))
	r := &domain.LoanRequest{ID: uuid.New(), MemberID: m.ID, RequestedAmount: decimal.NewFromInt(900), Status: domain.RequestPending}
	require.NoError(t, s.SaveLoanRequest(ctx, r))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	got, err := reopened.GetMember(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Luis", got.Name)
	assert.Equal(t, 1, got.Version)

	req, err := reopened.GetLoanRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, req.RequestedAmount.Equal(decimal.NewFromInt(900)))
}

func TestOpen_NormalizesLegacyLoans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")
	id := uuid.New()
	doc := `{"members": [], "loans": [], "requests": [], "legacy_loans": [{
		"id": "` + id.String() + `",
		"memberId": "` + uuid.NewString() + `",
		"originalAmount": 600,
		"remainingAmount": 600,
		"weeklyPayment": 110,
		"totalWeeks": 6,
		"dueDate": "2024-02-07",
		"interestRate": 10,
		"status": "current"
	}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := Open(path, nil)
	require.NoError(t, err)

	l, err := s.GetLoan(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 6, l.TotalInstallments)
	assert.True(t, l.InstallmentAmount.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, domain.LoanCurrent, l.Status)
}

func TestOpen_CorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Open(path, nil)
	assert.Error(t, err)
}
