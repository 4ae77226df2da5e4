package lending

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"coopcredit/internal/domain"
	"coopcredit/internal/eventstore"
	"coopcredit/internal/httpx"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiHarness struct {
	*fixture
	router chi.Router
}

func newAPI(t *testing.T) *apiHarness {
	f := newFixture(t, testSettings())
	events := eventstore.NewMemoryStore()
	r := chi.NewRouter()
	NewHandler(NewAuditedService(f.svc, events, nil), events).Register(r)
	return &apiHarness{fixture: f, router: r}
}

func (a *apiHarness) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestHandler_LoanLifecycle(t *testing.T) {
	api := newAPI(t)
	m := api.member(10, 90)

	rec := api.do(http.MethodPost, "/loan-requests",
		`{"member_id":"`+m.ID.String()+`","amount":"1000","term":4,"purpose":"market stall","required_date":"2024-01-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	request := decode[domain.LoanRequest](t, rec)
	assert.Equal(t, domain.RequestPending, request.Status)

	rec = api.do(http.MethodGet, "/loan-requests?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.LoanRequest](t, rec), 1)

	rec = api.do(http.MethodPost, "/loan-requests/"+request.ID.String()+"/approve", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	loan := decode[domain.Loan](t, rec)
	assert.Equal(t, domain.LoanApproved, loan.Status)

	rec = api.do(http.MethodGet, "/loans/"+loan.ID.String()+"/quote?date=2024-01-17", "")
	require.Equal(t, http.StatusOK, rec.Code)
	quote := decode[PaymentQuote](t, rec)
	assert.Equal(t, 2, quote.WeeksLate)

	rec = api.do(http.MethodPost, "/loans/"+loan.ID.String()+"/payments", `{"amount":315.47,"date":"2024-01-17"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	loan = decode[domain.Loan](t, rec)
	assert.True(t, loan.RemainingAmount.Equal(d("684.53")))

	rec = api.do(http.MethodGet, "/loans/"+loan.ID.String()+"/payments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Payment](t, rec), 1)

	rec = api.do(http.MethodGet, "/loans/"+loan.ID.String()+"/schedule", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.ScheduleEntry](t, rec), 4)

	rec = api.do(http.MethodGet, "/loans/"+loan.ID.String()+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]eventstore.Event](t, rec), 3)

	rec = api.do(http.MethodPatch, "/loans/"+loan.ID.String(), `{"due_date":"2024-02-07"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodGet, "/statistics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]interface{}](t, rec)["active_loan_count"])
}

func TestHandler_ErrorMapping(t *testing.T) {
	api := newAPI(t)
	m := api.member(2, 90)
	red := api.member(1, 10)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"malformed json", http.MethodPost, "/loan-requests", `{`, http.StatusBadRequest},
		{"bad date", http.MethodPost, "/loan-requests", `{"member_id":"` + m.ID.String() + `","amount":"10","term":1,"purpose":"x","required_date":"01/02/2024"}`, http.StatusBadRequest},
		{"business rule", http.MethodPost, "/loan-requests", `{"member_id":"` + red.ID.String() + `","amount":"10","term":1,"purpose":"x","required_date":"2024-01-01"}`, http.StatusUnprocessableEntity},
		{"bad id", http.MethodGet, "/loans/not-a-uuid", "", http.StatusBadRequest},
		{"unknown loan", http.MethodGet, "/loans/8c0e2f6e-8d43-4a4f-9d3b-7a4f1b2c3d4e", "", http.StatusNotFound},
		{"zero payment", http.MethodPost, "/loans/8c0e2f6e-8d43-4a4f-9d3b-7a4f1b2c3d4e/payments", `{"amount":0}`, http.StatusBadRequest},
		{"term over cap", http.MethodPost, "/loan-previews", `{"amount":"1000","term":1099511627776,"start_date":"2024-01-01"}`, http.StatusUnprocessableEntity},
		{"bad window", http.MethodGet, "/loans/upcoming?days=soon", "", http.StatusBadRequest},
		{"bad status filter", http.MethodGet, "/loans?status=late", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.do(tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}

	t.Run("limit rule is reported", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/loan-requests",
			`{"member_id":"`+m.ID.String()+`","amount":"1000","term":4,"purpose":"x","required_date":"2024-01-01"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		request := decode[domain.LoanRequest](t, rec)

		rec = api.do(http.MethodPost, "/loan-requests/"+request.ID.String()+"/approve", "")
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		body := decode[httpx.ErrorBody](t, rec)
		assert.Equal(t, domain.RuleLoanLimit, body.Rule)

		rec = api.do(http.MethodPost, "/loan-requests/"+request.ID.String()+"/reject", `{"reason":"limit"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = api.do(http.MethodPost, "/loan-requests/"+request.ID.String()+"/reject", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHandler_Reads(t *testing.T) {
	api := newAPI(t)
	m := api.member(10, 90)

	rec := api.do(http.MethodPost, "/loan-previews", `{"amount":"1000","term":4,"start_date":"2024-01-01"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[LoanPreview](t, rec)
	assert.True(t, preview.Installment.Equal(d("315.47")))

	rec = api.do(http.MethodGet, "/members/"+m.ID.String()+"/capacity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	capacity := decode[Capacity](t, rec)
	assert.True(t, capacity.Available.Equal(d("4000")))

	api.approved(m.ID, "1000", 4)

	rec = api.do(http.MethodGet, "/loans/upcoming?days=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]UpcomingPayment](t, rec), 1)

	rec = api.do(http.MethodGet, "/loans?member_id="+m.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Loan](t, rec), 1)

	rec = api.do(http.MethodGet, "/loans/overdue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]domain.Loan](t, rec))
}
