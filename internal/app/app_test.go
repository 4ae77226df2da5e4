package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"coopcredit/internal/config"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func memoryConfig(snapshot string) *config.AppConfig {
	return &config.AppConfig{
		Storage: config.StorageConfig{Driver: "memory", SnapshotPath: snapshot},
		Redis:   config.RedisConfig{StatsTTL: time.Minute},
	}
}

func call(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestBuild_MemoryStack(t *testing.T) {
	a, err := Build(context.Background(), memoryConfig(""), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	rec := call(t, a.Router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = call(t, a.Router, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))

	rec = call(t, a.Router, http.MethodPost, "/members", `{"name":"Rosa","national_id":"V-1","shares":10}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var member struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &member))

	capacity := func() decimal.Decimal {
		rec := call(t, a.Router, http.MethodGet, "/members/"+member.ID+"/capacity", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var body struct {
			Available decimal.Decimal `json:"available"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body.Available
	}
	assert.True(t, capacity().Equal(decimal.NewFromInt(4000)))

	rec = call(t, a.Router, http.MethodPatch, "/settings", `{"share_value":"1000"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, capacity().Equal(decimal.NewFromInt(8000)))

	rec = call(t, a.Router, http.MethodGet, "/statistics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuild_SnapshotSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	a, err := Build(context.Background(), memoryConfig(path), zap.NewNop())
	require.NoError(t, err)
	rec := call(t, a.Router, http.MethodPost, "/members", `{"name":"Rosa","national_id":"V-1","shares":3}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NoError(t, a.Close())

	b, err := Build(context.Background(), memoryConfig(path), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	members, err := b.Membership.ListMembers(context.Background())
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "Rosa", members[0].Name)
	assert.Equal(t, 3, members[0].Shares)
}

func TestReadyz_FailingCheck(t *testing.T) {
	a, err := Build(context.Background(), memoryConfig(""), zap.NewNop())
	require.NoError(t, err)
	a.checks["postgres"] = func(context.Context) error { return context.DeadlineExceeded }

	rec := call(t, a.Router, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "postgres not ready")
}

func TestBuild_InvalidLendingConfig(t *testing.T) {
	cfg := memoryConfig("")
	cfg.Lending.OperationDay = "someday"
	_, err := Build(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
