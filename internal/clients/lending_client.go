// internal/clients/lending_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"coopcredit/internal/capital"
	"coopcredit/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// APIError is a non-2xx answer from the lending service.
type APIError struct {
	StatusCode int
	Message    string
	Rule       string
}

func (e *APIError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("lending service returned %d (%s): %s", e.StatusCode, e.Rule, e.Message)
	}
	return fmt.Sprintf("lending service returned %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError carrying code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// LendingClient talks to the lending service over HTTP. Transport failures and
// 5xx answers count against a circuit breaker; once it opens, calls fail fast
// with gobreaker.ErrOpenState until the timeout elapses.
type LendingClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// ClientOption customizes a LendingClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	httpClient  *http.Client
	maxFailures uint32
	openTimeout time.Duration
	logger      *zap.Logger
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cfg *clientConfig) { cfg.httpClient = c }
}

// WithBreaker sets how many consecutive failures open the breaker and how
// long it stays open.
func WithBreaker(maxFailures uint32, openTimeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.maxFailures = maxFailures
		cfg.openTimeout = openTimeout
	}
}

// WithClientLogger logs breaker state changes.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(cfg *clientConfig) { cfg.logger = logger }
}

func NewLendingClient(baseURL string, opts ...ClientOption) *LendingClient {
	cfg := clientConfig{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxFailures: 5,
		openTimeout: 30 * time.Second,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "lending",
		Timeout: cfg.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.maxFailures
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &LendingClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    cfg.httpClient,
		breaker: breaker,
	}
}

// State exposes the breaker state.
func (c *LendingClient) State() gobreaker.State {
	return c.breaker.State()
}

func (c *LendingClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, in, out)
	})
	return err
}

func (c *LendingClient) roundTrip(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
			Rule  string `json:"rule"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error, Rule: payload.Rule}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *LendingClient) EnrollMember(ctx context.Context, name, nationalID string, shares int) (*domain.Member, error) {
	in := map[string]interface{}{"name": name, "national_id": nationalID, "shares": shares}
	var member domain.Member
	if err := c.do(ctx, http.MethodPost, "/members", in, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *LendingClient) GetMember(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	var member domain.Member
	if err := c.do(ctx, http.MethodGet, "/members/"+id.String(), nil, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *LendingClient) SubmitLoanRequest(ctx context.Context, memberID uuid.UUID, amount decimal.Decimal, term int, purpose string, required time.Time) (*domain.LoanRequest, error) {
	in := map[string]interface{}{
		"member_id":     memberID,
		"amount":        amount,
		"term":          term,
		"purpose":       purpose,
		"required_date": required.Format(dateLayout),
	}
	var request domain.LoanRequest
	if err := c.do(ctx, http.MethodPost, "/loan-requests", in, &request); err != nil {
		return nil, err
	}
	return &request, nil
}

func (c *LendingClient) ApproveLoanRequest(ctx context.Context, requestID uuid.UUID) (*domain.Loan, error) {
	var loan domain.Loan
	if err := c.do(ctx, http.MethodPost, "/loan-requests/"+requestID.String()+"/approve", nil, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *LendingClient) RegisterPayment(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal, date time.Time) (*domain.Loan, error) {
	in := map[string]interface{}{"amount": amount, "date": date.Format(dateLayout)}
	var loan domain.Loan
	if err := c.do(ctx, http.MethodPost, "/loans/"+loanID.String()+"/payments", in, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *LendingClient) GetLoan(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	var loan domain.Loan
	if err := c.do(ctx, http.MethodGet, "/loans/"+id.String(), nil, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *LendingClient) ListLoans(ctx context.Context) ([]*domain.Loan, error) {
	var loans []*domain.Loan
	if err := c.do(ctx, http.MethodGet, "/loans", nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

func (c *LendingClient) ListMembers(ctx context.Context) ([]*domain.Member, error) {
	var members []*domain.Member
	if err := c.do(ctx, http.MethodGet, "/members", nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

func (c *LendingClient) Statistics(ctx context.Context) (*capital.BankingStatistics, error) {
	var stats capital.BankingStatistics
	if err := c.do(ctx, http.MethodGet, "/statistics", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
