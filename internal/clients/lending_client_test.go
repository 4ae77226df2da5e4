package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"coopcredit/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLendingClient_SubmitAndPay(t *testing.T) {
	memberID := uuid.New()
	loanID := uuid.New()

	mux := http.NewServeMux()
	mux.HandleFunc("/loan-requests", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, memberID.String(), body["member_id"])
		assert.Equal(t, "2024-01-03", body["required_date"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(domain.LoanRequest{
			ID: loanID, MemberID: memberID, RequestedAmount: decimal.NewFromInt(1000),
			TermInstallments: 4, Status: domain.RequestPending, LoanID: loanID,
		})
	})
	mux.HandleFunc("/loans/"+loanID.String()+"/payments", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2024-01-17", body["date"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(domain.Loan{
			ID: loanID, MemberID: memberID,
			RemainingAmount: decimal.RequireFromString("684.53"), Status: domain.LoanOverdue,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewLendingClient(srv.URL + "/")
	ctx := context.Background()

	request, err := client.SubmitLoanRequest(ctx, memberID, decimal.NewFromInt(1000), 4, "tools",
		time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, loanID, request.LoanID)
	assert.Equal(t, domain.RequestPending, request.Status)

	loan, err := client.RegisterPayment(ctx, loanID, decimal.RequireFromString("315.47"),
		time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, loan.RemainingAmount.Equal(decimal.RequireFromString("684.53")))
	assert.Equal(t, domain.LoanOverdue, loan.Status)
}

func TestLendingClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"exceeds capital","rule":"available_capital"}`))
	}))
	defer srv.Close()

	client := NewLendingClient(srv.URL, WithBreaker(1, time.Minute))
	for i := 0; i < 3; i++ {
		_, err := client.ApproveLoanRequest(context.Background(), uuid.New())
		require.Error(t, err)
		assert.True(t, IsStatus(err, http.StatusUnprocessableEntity))

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "available_capital", apiErr.Rule)
	}
	assert.Equal(t, gobreaker.StateClosed, client.State())
}

func TestLendingClient_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewLendingClient(srv.URL, WithBreaker(3, time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.Statistics(ctx)
		assert.True(t, IsStatus(err, http.StatusInternalServerError))
	}
	assert.Equal(t, gobreaker.StateOpen, client.State())

	_, err := client.GetLoan(ctx, uuid.New())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 3, hits.Load())
}

func TestLendingClient_BreakerRecovers(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewLendingClient(srv.URL, WithBreaker(1, 50*time.Millisecond))
	_, err := client.ListLoans(context.Background())
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, client.State())

	healthy.Store(true)
	time.Sleep(80 * time.Millisecond)

	loans, err := client.ListLoans(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loans)
	assert.Equal(t, gobreaker.StateClosed, client.State())
}
