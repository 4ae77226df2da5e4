// internal/store/memory/memory.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"coopcredit/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store keeps members, loans and loan requests in process memory. Every read
// returns a copy, and every save checks the caller's version against the
// stored one. When a snapshot path is set, each save rewrites it and a save
// whose snapshot write fails is rolled back.
type Store struct {
	mu       sync.RWMutex
	members  map[uuid.UUID]*domain.Member
	loans    map[uuid.UUID]*domain.Loan
	requests map[uuid.UUID]*domain.LoanRequest
	path     string
	logger   *zap.Logger
}

// New returns an empty, non-persistent store.
func New() *Store {
	return &Store{
		members:  make(map[uuid.UUID]*domain.Member),
		loans:    make(map[uuid.UUID]*domain.Loan),
		requests: make(map[uuid.UUID]*domain.LoanRequest),
		logger:   zap.NewNop(),
	}
}

// Open returns a store backed by the snapshot at path, loading it if present.
func Open(path string, logger *zap.Logger) (*Store, error) {
	s := New()
	s.path = path
	if logger != nil {
		s.logger = logger
	}

	snap, ok, err := LoadSnapshot(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s, nil
	}
	if err := s.restore(snap); err != nil {
		return nil, err
	}
	s.logger.Info("snapshot loaded",
		zap.String("path", path),
		zap.Int("members", len(s.members)),
		zap.Int("loans", len(s.loans)),
		zap.Int("requests", len(s.requests)),
	)
	return s, nil
}

func (s *Store) restore(snap Snapshot) error {
	for _, m := range snap.Members {
		s.members[m.ID] = m
	}
	for _, r := range snap.Requests {
		s.requests[r.ID] = r
	}
	for _, l := range snap.Loans {
		s.loans[l.ID] = l
	}
	for _, legacy := range snap.LegacyLoans {
		l, err := legacy.Normalize()
		if err != nil {
			return fmt.Errorf("normalize legacy loan: %w", err)
		}
		if _, exists := s.loans[l.ID]; !exists {
			s.loans[l.ID] = l
		}
	}
	return nil
}

// GetMember returns a copy of the member.
func (s *Store) GetMember(_ context.Context, id uuid.UUID) (*domain.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "member", ID: id.String()}
	}
	cp := *m
	return &cp, nil
}

// ListMembers returns copies of all members ordered by enrollment time.
func (s *Store) ListMembers(_ context.Context) ([]*domain.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Member, 0, len(s.members))
	for _, m := range s.members {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveMember inserts or updates a member.
func (s *Store) SaveMember(_ context.Context, m *domain.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.members[m.ID]; ok {
		if cur.Version != m.Version {
			return fmt.Errorf("member %s: %w", m.ID, domain.ErrVersionMismatch)
		}
	} else if m.Version != 0 {
		return &domain.NotFoundError{Entity: "member", ID: m.ID.String()}
	}
	prev, existed := s.members[m.ID]
	m.Version++
	cp := *m
	s.members[m.ID] = &cp
	if err := s.persistLocked(); err != nil {
		m.Version--
		if existed {
			s.members[m.ID] = prev
		} else {
			delete(s.members, m.ID)
		}
		return err
	}
	return nil
}

// GetLoan returns a deep copy of the loan.
func (s *Store) GetLoan(_ context.Context, id uuid.UUID) (*domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loans[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "loan", ID: id.String()}
	}
	return l.Clone(), nil
}

// ListLoans returns deep copies of all loans ordered by creation time.
func (s *Store) ListLoans(_ context.Context) ([]*domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Loan, 0, len(s.loans))
	for _, l := range s.loans {
		out = append(out, l.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveLoan inserts or updates a loan.
func (s *Store) SaveLoan(_ context.Context, l *domain.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.loans[l.ID]; ok {
		if cur.Version != l.Version {
			return fmt.Errorf("loan %s: %w", l.ID, domain.ErrVersionMismatch)
		}
	} else if l.Version != 0 {
		return &domain.NotFoundError{Entity: "loan", ID: l.ID.String()}
	}
	prev, existed := s.loans[l.ID]
	l.Version++
	s.loans[l.ID] = l.Clone()
	if err := s.persistLocked(); err != nil {
		l.Version--
		if existed {
			s.loans[l.ID] = prev
		} else {
			delete(s.loans, l.ID)
		}
		return err
	}
	return nil
}

// GetLoanRequest returns a copy of the request.
func (s *Store) GetLoanRequest(_ context.Context, id uuid.UUID) (*domain.LoanRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "loan request", ID: id.String()}
	}
	return copyRequest(r), nil
}

// ListLoanRequests returns copies of all requests ordered by submission time.
func (s *Store) ListLoanRequests(_ context.Context) ([]*domain.LoanRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.LoanRequest, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, copyRequest(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveLoanRequest inserts or updates a request.
func (s *Store) SaveLoanRequest(_ context.Context, r *domain.LoanRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.requests[r.ID]; ok {
		if cur.Version != r.Version {
			return fmt.Errorf("loan request %s: %w", r.ID, domain.ErrVersionMismatch)
		}
	} else if r.Version != 0 {
		return &domain.NotFoundError{Entity: "loan request", ID: r.ID.String()}
	}
	prev, existed := s.requests[r.ID]
	r.Version++
	s.requests[r.ID] = copyRequest(r)
	if err := s.persistLocked(); err != nil {
		r.Version--
		if existed {
			s.requests[r.ID] = prev
		} else {
			delete(s.requests, r.ID)
		}
		return err
	}
	return nil
}

func copyRequest(r *domain.LoanRequest) *domain.LoanRequest {
	cp := *r
	if r.DecidedAt != nil {
		at := *r.DecidedAt
		cp.DecidedAt = &at
	}
	return &cp
}

// Flush writes the current state to the snapshot file, if one is configured.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	snap := Snapshot{
		Members:  make([]*domain.Member, 0, len(s.members)),
		Loans:    make([]*domain.Loan, 0, len(s.loans)),
		Requests: make([]*domain.LoanRequest, 0, len(s.requests)),
	}
	for _, m := range s.members {
		snap.Members = append(snap.Members, m)
	}
	for _, l := range s.loans {
		snap.Loans = append(snap.Loans, l)
	}
	for _, r := range s.requests {
		snap.Requests = append(snap.Requests, r)
	}
	if err := SaveSnapshot(s.path, snap); err != nil {
		s.logger.Error("failed to write snapshot", zap.String("path", s.path), zap.Error(err))
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
