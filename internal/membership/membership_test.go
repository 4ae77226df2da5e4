package membership

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"coopcredit/internal/domain"
	"coopcredit/internal/eventstore"
	"coopcredit/internal/scoring"
	"coopcredit/internal/store/memory"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestService(t *testing.T, opts ...Option) (Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	opts = append([]Option{WithRateLimiter(rate.NewLimiter(rate.Inf, 0))}, opts...)
	return NewService(repo, scoring.NewEngine(repo, nil), opts...), repo
}

func TestPasswordHashing(t *testing.T) {
	hash, salt, err := hashPassword("correct horse")
	require.NoError(t, err)

	ok, err := verifyPassword("correct horse", salt, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword("wrong horse", salt, hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = verifyPassword("x", "%%%", hash)
	assert.Error(t, err)
}

func TestEnrollMember(t *testing.T) {
	var changes int
	events := eventstore.NewMemoryStore()
	svc, _ := newTestService(t, WithEventStore(events), WithChangeHook(func(context.Context) { changes++ }))
	ctx := context.Background()

	m, err := svc.EnrollMember(ctx, EnrollInput{Name: " Rosa ", NationalID: "V-123", Shares: 4, Password: "s3cret-pass"})
	require.NoError(t, err)
	assert.Equal(t, "Rosa", m.Name)
	assert.Equal(t, domain.InitialCreditScore, m.CreditScore)
	assert.Equal(t, domain.RatingGreen, m.CreditRating)
	assert.True(t, m.HasAccess())
	assert.Equal(t, 1, changes)

	stream, err := events.LoadEvents(ctx, m.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, stream, 1)
	assert.Equal(t, "MemberEnrolled", stream[0].EventType)

	_, err = svc.EnrollMember(ctx, EnrollInput{Name: "Other", NationalID: "v-123", Shares: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.EnrollMember(ctx, EnrollInput{Name: "Zero", NationalID: "V-9", Shares: 0})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestEnrollMember_ConcurrentDuplicates(t *testing.T) {
	svc, repo := newTestService(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.EnrollMember(context.Background(), EnrollInput{Name: "Dup", NationalID: "V-1", Shares: 1})
		}()
	}
	wg.Wait()

	members, err := repo.ListMembers(context.Background())
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	m, err := svc.EnrollMember(ctx, EnrollInput{Name: "Rosa", NationalID: "V-123", Shares: 4, Password: "s3cret-pass"})
	require.NoError(t, err)

	got, err := svc.Authenticate(ctx, "V-123", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = svc.Authenticate(ctx, "V-123", "nope-nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "V-999", "s3cret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.RevokeAccess(ctx, m.ID)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, "V-123", "s3cret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRateLimit_OnlyThrottlesLogin(t *testing.T) {
	svc, _ := newTestService(t, WithRateLimiter(rate.NewLimiter(0, 1)))
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := svc.EnrollMember(ctx, EnrollInput{Name: "M", NationalID: string(rune('a' + i)), Shares: 1, Password: "s3cret-pass"})
		require.NoError(t, err)
	}

	_, err := svc.Authenticate(ctx, "a", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "a", "s3cret-pass")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestBuySharesAndOverride(t *testing.T) {
	var changes int
	svc, _ := newTestService(t, WithChangeHook(func(context.Context) { changes++ }))
	ctx := context.Background()
	m, err := svc.EnrollMember(ctx, EnrollInput{Name: "Rosa", NationalID: "V-123", Shares: 4})
	require.NoError(t, err)

	m, err = svc.BuyShares(ctx, m.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, m.Shares)
	assert.Equal(t, 2, changes)

	_, err = svc.BuyShares(ctx, m.ID, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.BuyShares(ctx, uuid.New(), 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	m, err = svc.OverrideRating(ctx, m.ID, domain.RatingYellow)
	require.NoError(t, err)
	assert.Equal(t, domain.RatingYellow, m.Rating())
	assert.Equal(t, m.Rating(), m.CreditRating)

	_, err = svc.OverrideRating(ctx, m.ID, domain.Rating("purple"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestListMembersSortedByName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for i, name := range []string{"carla", "Ana", "beto"} {
		_, err := svc.EnrollMember(ctx, EnrollInput{Name: name, NationalID: string(rune('a' + i)), Shares: 1})
		require.NoError(t, err)
	}
	members, err := svc.ListMembers(ctx)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, []string{"Ana", "beto", "carla"}, []string{members[0].Name, members[1].Name, members[2].Name})
}

func TestHandler(t *testing.T) {
	svc, _ := newTestService(t)
	r := chi.NewRouter()
	NewHandler(svc).Register(r)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	rec := do(http.MethodPost, "/members", `{"name":"Rosa","national_id":"V-1","shares":5,"password":"s3cret-pass"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "access_hash")

	rec = do(http.MethodPost, "/members", `{"name":"Rosa","national_id":"V-2","shares":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPost, "/sessions", `{"national_id":"V-1","password":"wrong-pass"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(http.MethodPost, "/sessions", `{"national_id":"V-1","password":"s3cret-pass"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodGet, "/members/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodGet, "/members", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
