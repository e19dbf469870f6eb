package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message is the unit stored in a queue table. EventID doubles as the
// idempotency key: enqueueing the same EventID twice keeps a single row.
type Message struct {
	Topic   string
	EventID uuid.UUID
	Payload json.RawMessage
}

// Meta is the stable dispatch metadata handed to dispatchers.
type Meta struct {
	Queue    string
	Topic    string
	EventID  uuid.UUID
	Sequence int64
	Attempts int
}

type DispatchedMessage struct {
	Meta    Meta
	Payload json.RawMessage
}

type Dispatcher interface {
	Dispatch(ctx context.Context, msg DispatchedMessage) error
}

type DispatcherFunc func(ctx context.Context, msg DispatchedMessage) error

func (f DispatcherFunc) Dispatch(ctx context.Context, msg DispatchedMessage) error {
	return f(ctx, msg)
}

// Claimed is a row locked by a relay for one dispatch attempt.
// Attempts already includes the current attempt.
type Claimed struct {
	ID         uuid.UUID
	Topic      string
	Payload    []byte
	EventID    uuid.UUID
	Sequence   int64
	Attempts   int
	EnqueuedAt time.Time
	ClaimedAt  time.Time
}

// Store is the persistence behind a relay.
type Store interface {
	Label() string
	Enqueue(ctx context.Context, msg Message) (sequence int64, err error)
	Claim(ctx context.Context, now, lockCutoff time.Time, maxAttempts, limit int) ([]Claimed, error)
	Ack(ctx context.Context, id uuid.UUID) error
	Nack(ctx context.Context, id uuid.UUID, lastError string, nextAvailable time.Time) error
	Dead(ctx context.Context, id uuid.UUID, lastError string) error
	Depth(ctx context.Context) (pending, locked int64, err error)
	Purge(ctx context.Context, publishedBefore time.Time, deadBefore time.Time, deadAttempts int) error
}

// Leader is implemented by stores able to elect a single active relay.
type Leader interface {
	TryLead(ctx context.Context) (release func(), ok bool, err error)
}

func validateMessage(msg Message) error {
	if msg.EventID == (uuid.UUID{}) {
		return invalidConfig("event_id is required")
	}
	if msg.Topic == "" {
		return invalidConfig("topic is required")
	}
	if len(msg.Payload) == 0 {
		return invalidConfig("payload is required")
	}
	return nil
}
