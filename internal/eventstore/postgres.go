// internal/eventstore/postgres.go
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id BIGSERIAL PRIMARY KEY,
	aggregate_id UUID NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL,
	metadata JSONB,
	version INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (aggregate_id, version)
);`

// PostgresStore keeps event streams in the events table.
type PostgresStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// NewPostgresStore creates an event store over an open connection pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		tracer: otel.Tracer("coopcredit/eventstore"),
	}
}

// Migrate creates the events table if it does not exist.
func (es *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := es.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}
	return nil
}

// AppendEvents atomically appends events after checking expectedVersion.
func (es *PostgresStore) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.AppendEvents", trace.WithAttributes(
		attribute.String("stream", aggregateType+"/"+aggregateID.String()),
		attribute.Int("stream.expected_version", expectedVersion),
		attribute.Int("events", len(events)),
	))
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	tx, err := es.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback()

	var current int
	if err := tx.GetContext(ctx, &current, `
		SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1
	`, aggregateID); err != nil {
		return fmt.Errorf("failed to read stream version: %w", err)
	}
	if current != expectedVersion {
		span.SetAttributes(attribute.Int("stream.version", current))
		return fmt.Errorf("stream at version %d: %w", current, ErrConcurrencyConflict)
	}

	now := time.Now().UTC()
	version := expectedVersion
	for _, ev := range events {
		version++
		metadata, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}

		var id int64
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO events
				(aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id
		`, aggregateID, aggregateType, ev.EventType, []byte(ev.EventData), metadata, version, now).Scan(&id)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("failed to insert %s at version %d: %w", ev.EventType, version, err)
		}
		span.AddEvent(ev.EventType, trace.WithAttributes(attribute.Int64("id", id), attribute.Int("version", version)))
	}

	err = tx.Commit()
	var pqErr *pq.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &pqErr) && pqErr.Code == "40001":
		return ErrConcurrencyConflict
	default:
		return fmt.Errorf("failed to commit append: %w", err)
	}
}

type eventRow struct {
	ID            int64     `db:"id"`
	AggregateID   uuid.UUID `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	EventData     []byte    `db:"event_data"`
	Metadata      []byte    `db:"metadata"`
	Version       int       `db:"version"`
	CreatedAt     time.Time `db:"created_at"`
}

// LoadEvents returns the aggregate's events in version order. A toVersion of
// zero means no upper bound.
func (es *PostgresStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.LoadEvents", trace.WithAttributes(
		attribute.String("stream.id", aggregateID.String()),
		attribute.IntSlice("versions", []int{fromVersion, toVersion}),
	))
	defer span.End()

	// $3 = 0 leaves the range open-ended.
	const query = `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		  FROM events
		 WHERE aggregate_id = $1 AND version >= $2 AND ($3 = 0 OR version <= $3)
		 ORDER BY version`

	var rows []eventRow
	if err := es.db.SelectContext(ctx, &rows, query, aggregateID, fromVersion, toVersion); err != nil {
		return nil, fmt.Errorf("failed to load stream %s: %w", aggregateID, err)
	}

	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		e := Event{
			ID:            r.ID,
			AggregateID:   r.AggregateID,
			AggregateType: r.AggregateType,
			EventType:     r.EventType,
			EventData:     json.RawMessage(r.EventData),
			Version:       r.Version,
			CreatedAt:     r.CreatedAt,
		}
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal(r.Metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of event %d: %w", r.ID, err)
			}
		}
		events = append(events, e)
	}

	span.SetAttributes(attribute.Int("events", len(events)))
	return events, nil
}

// GetCurrentVersion returns the latest version of an aggregate's stream.
func (es *PostgresStore) GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.GetCurrentVersion",
		trace.WithAttributes(attribute.String("stream.id", aggregateID.String())))
	defer span.End()

	var version int
	if err := es.db.GetContext(ctx, &version, `
		SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1
	`, aggregateID); err != nil {
		return 0, fmt.Errorf("failed to read stream version: %w", err)
	}
	span.SetAttributes(attribute.Int("stream.version", version))
	return version, nil
}
