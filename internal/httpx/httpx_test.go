package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coopcredit/internal/domain"
	"coopcredit/internal/eventstore"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"
)

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		rule   string
	}{
		{"validation", domain.Invalid(domain.RuleShares, "need shares"), http.StatusUnprocessableEntity, domain.RuleShares},
		{"invalid amount", fmt.Errorf("pay: %w", domain.ErrInvalidAmount), http.StatusBadRequest, ""},
		{"not found", &domain.NotFoundError{Entity: "loan", ID: "x"}, http.StatusNotFound, ""},
		{"state conflict", &domain.StateConflictError{Entity: "loan", ID: "x", State: "paid", Op: "pay"}, http.StatusConflict, ""},
		{"version mismatch", domain.ErrVersionMismatch, http.StatusConflict, ""},
		{"event conflict", eventstore.ErrConcurrencyConflict, http.StatusConflict, ""},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteDomainError(rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)

			var body ErrorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.rule, body.Rule)
			assert.NotEmpty(t, body.Error)
		})
	}

	rec := httptest.NewRecorder()
	WriteDomainError(rec, errors.New("disk on fire"))
	assert.NotContains(t, rec.Body.String(), "disk")
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Name  string `json:"name" validate:"required"`
		Count int    `json:"count" validate:"gte=1"`
	}
	decode := func(raw string) error {
		var b body
		return DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw)), &b)
	}

	assert.NoError(t, decode(`{"name":"a","count":2}`))
	assert.ErrorContains(t, decode(`{"name":"a","count":2,"extra":1}`), "invalid json")
	assert.ErrorContains(t, decode(`{"name":`), "invalid json")
	assert.EqualError(t, decode(`{"name":"a","count":0}`), "invalid field Count: failed gte")
}

func TestParseDateAndQueryInt(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseDate("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = ParseDate("29/02/2024")
	assert.Error(t, err)

	r := httptest.NewRequest(http.MethodGet, "/?days=14&bad=x", nil)
	n, err := QueryInt(r, "days", 7)
	require.NoError(t, err)
	assert.Equal(t, 14, n)
	n, err = QueryInt(r, "missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	_, err = QueryInt(r, "bad", 7)
	assert.Error(t, err)
}

func TestURLUUID(t *testing.T) {
	id := uuid.New()
	r := chi.NewRouter()
	var got uuid.UUID
	var gotErr error
	r.Get("/loans/{id}", func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = URLUUID(r, "id")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/loans/"+id.String(), nil))
	require.NoError(t, gotErr)
	assert.Equal(t, id, got)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/loans/nope", nil))
	assert.EqualError(t, gotErr, "invalid id")
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			WriteError(w, http.StatusInternalServerError, "boom")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fine", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.EqualValues(t, http.StatusOK, entries[0].ContextMap()["status"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "/boom", entries[1].ContextMap()["path"])
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	shared := RateLimit(rate.NewLimiter(0, 2))(ok)
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		shared.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	perClient := ClientRateLimit(0, 1)(ok)
	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		perClient.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusNoContent, send("10.0.0.1:5000"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:5001"))
	assert.Equal(t, http.StatusNoContent, send("10.0.0.2:5000"))
	assert.Equal(t, http.StatusNoContent, send("10.0.0.3"))
}
