// internal/eventstore/eventstore.go
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Event is one entry in an aggregate's audit stream.
type Event struct {
	ID            int64             `json:"id" db:"id"`
	AggregateID   uuid.UUID         `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string            `json:"aggregate_type" db:"aggregate_type"`
	EventType     string            `json:"event_type" db:"event_type"`
	EventData     json.RawMessage   `json:"event_data" db:"event_data"`
	Metadata      map[string]string `json:"metadata,omitempty" db:"-"`
	Version       int               `json:"version" db:"version"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// Store appends and reads event streams with optimistic concurrency: an
// append succeeds only when expectedVersion equals the stream's current
// version.
type Store interface {
	AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error
	LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error)
	GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error)
}

// NewEvent marshals payload into an event of the given type.
func NewEvent(eventType string, payload interface{}, metadata map[string]string) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{EventType: eventType, EventData: data, Metadata: metadata}, nil
}

// Append retries an append against the stream's latest version until it
// succeeds, fails for another reason, or attempts run out.
func Append(ctx context.Context, store Store, aggregateID uuid.UUID, aggregateType string, attempts int, events ...Event) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		var version int
		version, err = store.GetCurrentVersion(ctx, aggregateID)
		if err != nil {
			return err
		}
		err = store.AppendEvents(ctx, aggregateID, aggregateType, version, events)
		if !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
	}
	return err
}
