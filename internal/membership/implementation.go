// internal/membership/implementation.go
package membership

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"coopcredit/internal/domain"
	"coopcredit/internal/eventstore"
	"coopcredit/internal/scoring"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// service implements the Service interface.
type service struct {
	members     domain.MemberRepository
	scoring     *scoring.Engine
	events      eventstore.Store
	rateLimiter *rate.Limiter
	logger      *zap.Logger
	tracer      trace.Tracer
	now         func() time.Time
	onChange    func(context.Context)

	enroll sync.Mutex
}

// Option customizes the membership service.
type Option func(*service)

// WithEventStore records member events in es.
func WithEventStore(es eventstore.Store) Option {
	return func(s *service) { s.events = es }
}

// WithRateLimiter replaces the limiter guarding login attempts.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(s *service) { s.rateLimiter = l }
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *service) { s.logger = logger }
}

// WithChangeHook runs fn after every change that affects portfolio figures.
func WithChangeHook(fn func(context.Context)) Option {
	return func(s *service) { s.onChange = fn }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new membership service instance.
func NewService(members domain.MemberRepository, engine *scoring.Engine, opts ...Option) Service {
	s := &service{
		members:     members,
		scoring:     engine,
		rateLimiter: rate.NewLimiter(rate.Every(1*time.Minute), 5), // 5 requests per minute
		logger:      zap.NewNop(),
		tracer:      otel.Tracer("coopcredit/membership"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) changed(ctx context.Context) {
	if s.onChange != nil {
		s.onChange(ctx)
	}
}

func (s *service) publish(ctx context.Context, id uuid.UUID, eventType string, payload interface{}) {
	if s.events == nil {
		return
	}
	event, err := eventstore.NewEvent(eventType, payload, nil)
	if err == nil {
		err = eventstore.Append(ctx, s.events, id, AggregateType, 3, event)
	}
	if err != nil {
		s.logger.Error("failed to append event",
			zap.String("member_id", id.String()),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

// EnrollMember creates a member at the maximum credit score.
func (s *service) EnrollMember(ctx context.Context, in EnrollInput) (*domain.Member, error) {
	ctx, span := s.tracer.Start(ctx, "membership.enroll")
	defer span.End()

	name := strings.TrimSpace(in.Name)
	nationalID := strings.TrimSpace(in.NationalID)
	if name == "" || nationalID == "" {
		return nil, domain.Invalid(domain.RuleIdentity, "name and national id are required")
	}
	if in.Shares < 1 {
		return nil, domain.Invalid(domain.RuleShares, "a member must hold at least one share")
	}

	s.enroll.Lock()
	defer s.enroll.Unlock()

	if _, err := s.findByNationalID(ctx, nationalID); err == nil {
		return nil, domain.Invalid(domain.RuleIdentity, "national id %s is already enrolled", nationalID)
	}

	now := s.now().UTC()
	member := &domain.Member{
		ID:         uuid.New(),
		Name:       name,
		NationalID: nationalID,
		Shares:     in.Shares,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	member.SetScore(domain.InitialCreditScore)

	if in.Password != "" {
		hash, salt, err := hashPassword(in.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		member.AccessHash, member.AccessSalt = hash, salt
	}

	if err := s.members.SaveMember(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to save member: %w", err)
	}

	span.SetAttributes(attribute.String("member.id", member.ID.String()))
	s.publish(ctx, member.ID, "MemberEnrolled", MemberEnrolledEvent{
		ID:          member.ID,
		Name:        member.Name,
		Shares:      member.Shares,
		CreditScore: member.CreditScore,
	})
	s.changed(ctx)
	s.logger.Info("member enrolled",
		zap.String("member_id", member.ID.String()),
		zap.Int("shares", member.Shares),
	)
	return member, nil
}

func (s *service) findByNationalID(ctx context.Context, nationalID string) (*domain.Member, error) {
	members, err := s.members.ListMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	for _, m := range members {
		if strings.EqualFold(m.NationalID, nationalID) {
			return m, nil
		}
	}
	return nil, &domain.NotFoundError{Entity: "member", ID: nationalID}
}

// Authenticate verifies a member's credentials and returns the member if successful.
func (s *service) Authenticate(ctx context.Context, nationalID, password string) (*domain.Member, error) {
	ctx, span := s.tracer.Start(ctx, "membership.authenticate")
	defer span.End()

	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	member, err := s.findByNationalID(ctx, strings.TrimSpace(nationalID))
	if err != nil || !member.HasAccess() {
		return nil, ErrInvalidCredentials
	}

	ok, err := verifyPassword(password, member.AccessSalt, member.AccessHash)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return member, nil
}

// GetMember retrieves a member by their ID.
func (s *service) GetMember(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	return s.members.GetMember(ctx, id)
}

// ListMembers returns members ordered by name.
func (s *service) ListMembers(ctx context.Context) ([]*domain.Member, error) {
	members, err := s.members.ListMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	sort.SliceStable(members, func(i, j int) bool {
		return strings.ToLower(members[i].Name) < strings.ToLower(members[j].Name)
	})
	return members, nil
}

// BuyShares adds shares to a member's holding.
func (s *service) BuyShares(ctx context.Context, id uuid.UUID, shares int) (*domain.Member, error) {
	ctx, span := s.tracer.Start(ctx, "membership.buy_shares",
		trace.WithAttributes(
			attribute.String("member.id", id.String()),
			attribute.Int("shares", shares),
		),
	)
	defer span.End()

	if shares < 1 {
		return nil, domain.Invalid(domain.RuleShares, "shares to buy must be greater than zero")
	}
	member, err := s.scoring.Mutate(ctx, id, func(m *domain.Member) error {
		m.Shares += shares
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, id, "SharesPurchased", SharesPurchasedEvent{ID: id, Purchased: shares, TotalShares: member.Shares})
	s.changed(ctx)
	s.logger.Info("shares purchased",
		zap.String("member_id", id.String()),
		zap.Int("purchased", shares),
		zap.Int("total", member.Shares),
	)
	return member, nil
}

// OverrideRating forces a member into a rating tier.
func (s *service) OverrideRating(ctx context.Context, id uuid.UUID, rating domain.Rating) (*domain.Member, error) {
	member, err := s.scoring.OverrideRating(ctx, id, rating)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, id, "RatingOverridden", RatingOverriddenEvent{ID: id, Rating: member.Rating(), NewScore: member.CreditScore})
	return member, nil
}

// RevokeAccess removes a member's login credentials.
func (s *service) RevokeAccess(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	member, err := s.scoring.Mutate(ctx, id, func(m *domain.Member) error {
		m.AccessHash, m.AccessSalt = "", ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, id, "AccessRevoked", AccessRevokedEvent{ID: id})
	s.logger.Info("member access revoked", zap.String("member_id", id.String()))
	return member, nil
}
