// internal/lending/cache.go
package lending

import (
	"context"
	"sync/atomic"
	"time"

	"coopcredit/internal/capital"
	"coopcredit/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StatisticsCache stores the last computed portfolio statistics.
type StatisticsCache interface {
	GetStatistics(ctx context.Context) (*capital.BankingStatistics, bool, error)
	SetStatistics(ctx context.Context, stats *capital.BankingStatistics) error
	Invalidate(ctx context.Context) error
}

// CachingService serves GetBankingStatistics from a cache and drops the
// cached value after every mutation. Cache errors never fail a request.
//
// Every invalidation bumps a generation counter. A computed value is only
// kept if no invalidation happened since the computation started, so a slow
// read cannot put figures back that a concurrent mutation already dropped.
type CachingService struct {
	Service
	cache      StatisticsCache
	logger     *zap.Logger
	generation atomic.Uint64
}

// NewCachingService wraps next with a statistics cache.
func NewCachingService(next Service, cache StatisticsCache, logger *zap.Logger) *CachingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingService{Service: next, cache: cache, logger: logger}
}

func (c *CachingService) GetBankingStatistics(ctx context.Context) (*capital.BankingStatistics, error) {
	stats, ok, err := c.cache.GetStatistics(ctx)
	if err != nil {
		c.logger.Warn("statistics cache read failed", zap.Error(err))
	}
	if ok {
		return stats, nil
	}

	gen := c.generation.Load()
	stats, err = c.Service.GetBankingStatistics(ctx)
	if err != nil {
		return nil, err
	}
	if c.generation.Load() != gen {
		return stats, nil
	}
	if err := c.cache.SetStatistics(ctx, stats); err != nil {
		c.logger.Warn("statistics cache write failed", zap.Error(err))
		return stats, nil
	}
	// An invalidation that landed between the check and the write has
	// already deleted the key, so the write must be undone here.
	if c.generation.Load() != gen {
		c.drop(ctx)
	}
	return stats, nil
}

// InvalidateStatistics drops the cached statistics. Changes made outside the
// lending service, such as share purchases or settings updates, call it.
func (c *CachingService) InvalidateStatistics(ctx context.Context) {
	c.generation.Add(1)
	c.drop(ctx)
}

func (c *CachingService) drop(ctx context.Context) {
	if err := c.cache.Invalidate(ctx); err != nil {
		c.logger.Warn("statistics cache invalidation failed", zap.Error(err))
	}
}

func (c *CachingService) SubmitLoanRequest(ctx context.Context, in SubmitLoanRequestInput) (*domain.LoanRequest, error) {
	request, err := c.Service.SubmitLoanRequest(ctx, in)
	if err == nil {
		c.InvalidateStatistics(ctx)
	}
	return request, err
}

func (c *CachingService) ApproveLoanRequest(ctx context.Context, requestID uuid.UUID) (*domain.Loan, error) {
	loan, err := c.Service.ApproveLoanRequest(ctx, requestID)
	if err == nil {
		c.InvalidateStatistics(ctx)
	}
	return loan, err
}

func (c *CachingService) RejectLoanRequest(ctx context.Context, requestID uuid.UUID, reason string) (*domain.LoanRequest, error) {
	request, err := c.Service.RejectLoanRequest(ctx, requestID, reason)
	if err == nil {
		c.InvalidateStatistics(ctx)
	}
	return request, err
}

func (c *CachingService) RegisterPayment(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal, date time.Time) (*domain.Loan, error) {
	loan, err := c.Service.RegisterPayment(ctx, loanID, amount, date)
	if err == nil {
		c.InvalidateStatistics(ctx)
	}
	return loan, err
}

func (c *CachingService) ModifyLoanTerms(ctx context.Context, loanID uuid.UUID, patch TermsPatch) (*domain.Loan, error) {
	loan, err := c.Service.ModifyLoanTerms(ctx, loanID, patch)
	if err == nil {
		c.InvalidateStatistics(ctx)
	}
	return loan, err
}
