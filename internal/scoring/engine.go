// internal/scoring/engine.go
package scoring

import (
	"context"
	"fmt"
	"time"

	"coopcredit/internal/domain"
	"coopcredit/internal/keylock"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ScoreChange records one adjustment as actually applied after clamping.
type ScoreChange struct {
	MemberID uuid.UUID     `json:"member_id"`
	Previous int           `json:"previous"`
	NewScore int           `json:"new_score"`
	Rating   domain.Rating `json:"rating"`
	Reason   string        `json:"reason"`
}

// Applied is the delta that survived clamping.
func (c ScoreChange) Applied() int {
	return c.NewScore - c.Previous
}

// Engine owns every mutation of a member record. Score changes, share
// purchases and rating overrides for one member never run concurrently.
type Engine struct {
	members domain.MemberRepository
	locks   *keylock.Map
	tracer  trace.Tracer
	logger  *zap.Logger
	now     func() time.Time
}

// NewEngine creates a scoring engine over the member repository.
func NewEngine(members domain.MemberRepository, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		members: members,
		locks:   keylock.New(),
		tracer:  otel.Tracer("coopcredit/scoring"),
		logger:  logger,
		now:     time.Now,
	}
}

// Mutate loads the member under its lock, applies fn and saves the result.
// Nothing is saved when fn returns an error.
func (e *Engine) Mutate(ctx context.Context, memberID uuid.UUID, fn func(*domain.Member) error) (*domain.Member, error) {
	unlock := e.locks.Lock(memberID)
	defer unlock()

	member, err := e.members.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if err := fn(member); err != nil {
		return nil, err
	}
	member.UpdatedAt = e.now().UTC()
	if err := e.members.SaveMember(ctx, member); err != nil {
		return nil, fmt.Errorf("save member %s: %w", memberID, err)
	}
	return member, nil
}

// ApplyDelta moves the member's score by delta, clamped to [0, 90].
func (e *Engine) ApplyDelta(ctx context.Context, memberID uuid.UUID, delta int, reason string) (ScoreChange, error) {
	ctx, span := e.tracer.Start(ctx, "scoring.apply_delta",
		trace.WithAttributes(
			attribute.String("member.id", memberID.String()),
			attribute.Int("score.delta", delta),
		),
	)
	defer span.End()

	change := ScoreChange{MemberID: memberID, Reason: reason}
	member, err := e.Mutate(ctx, memberID, func(m *domain.Member) error {
		change.Previous = m.CreditScore
		m.SetScore(m.CreditScore + delta)
		change.NewScore = m.CreditScore
		change.Rating = m.CreditRating
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return ScoreChange{}, err
	}

	span.SetAttributes(attribute.Int("score.new", member.CreditScore))
	e.logger.Info("credit score adjusted",
		zap.String("member_id", memberID.String()),
		zap.Int("previous", change.Previous),
		zap.Int("new_score", change.NewScore),
		zap.String("rating", string(change.Rating)),
		zap.String("reason", reason),
	)
	return change, nil
}

// Revert undoes a change returned by ApplyDelta.
func (e *Engine) Revert(ctx context.Context, change ScoreChange) error {
	if change.Applied() == 0 {
		return nil
	}
	_, err := e.ApplyDelta(ctx, change.MemberID, -change.Applied(), "revert: "+change.Reason)
	return err
}

// OverrideRating forces the member into the given tier.
func (e *Engine) OverrideRating(ctx context.Context, memberID uuid.UUID, rating domain.Rating) (*domain.Member, error) {
	if !rating.Valid() {
		return nil, domain.Invalid(domain.RuleCreditRating, "unknown rating %q", rating)
	}
	ctx, span := e.tracer.Start(ctx, "scoring.override_rating",
		trace.WithAttributes(
			attribute.String("member.id", memberID.String()),
			attribute.String("rating", string(rating)),
		),
	)
	defer span.End()

	return e.Mutate(ctx, memberID, func(m *domain.Member) error {
		m.SetScore(ScoreForRating(m.CreditScore, rating))
		return nil
	})
}

// Rating reads the member's current tier.
func (e *Engine) Rating(ctx context.Context, memberID uuid.UUID) (domain.Rating, error) {
	member, err := e.members.GetMember(ctx, memberID)
	if err != nil {
		return "", err
	}
	return member.Rating(), nil
}
