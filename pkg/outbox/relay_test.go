package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu        sync.Mutex
	failTopic string
	calls     []DispatchedMessage
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg DispatchedMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, msg)
	if msg.Meta.Topic == d.failTopic {
		return errors.New("poison")
	}
	return nil
}

func newTestRelay(t *testing.T, store Store, d Dispatcher, maxAttempts int) *Relay {
	t.Helper()
	r, err := NewRelay(store, d, RelayOptions{
		MaxAttempts: maxAttempts,
		MaxBackoff:  time.Nanosecond,
		JitterMax:   -1,
		Rand:        rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)
	return r
}

func enqueue(t *testing.T, s Store, topic string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := s.Enqueue(context.Background(), Message{Topic: topic, EventID: id, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	return id
}

func TestMemStore_EnqueueIsIdempotent(t *testing.T) {
	t.Parallel()
	s := NewMemStore("test")
	id := uuid.New()
	msg := Message{Topic: "t", EventID: id, Payload: json.RawMessage(`{}`)}

	first, err := s.Enqueue(context.Background(), msg)
	require.NoError(t, err)
	second, err := s.Enqueue(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	pending, _, err := s.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	_, err = s.Enqueue(context.Background(), Message{Topic: "t"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRelay_AcksSuccessfulDispatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore("test")
	d := &recordingDispatcher{}
	r := newTestRelay(t, s, d, 3)

	enqueue(t, s, "ok")
	enqueue(t, s, "ok")

	n, err := r.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, d.calls, 2)
	assert.Equal(t, 1, d.calls[0].Meta.Attempts)
	assert.Less(t, d.calls[0].Meta.Sequence, d.calls[1].Meta.Sequence)

	pending, _, err := s.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	n, err = r.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelay_NoHeadOfLineBlockingAndDead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore("test")
	d := &recordingDispatcher{failTopic: "poison"}
	r := newTestRelay(t, s, d, 2)

	poison := enqueue(t, s, "poison")
	enqueue(t, s, "ok")

	_, err := r.ProcessOnce(ctx)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = r.ProcessOnce(ctx)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	n, err := r.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "dead message must not be claimed again")

	var poisonCalls, okCalls int
	for _, c := range d.calls {
		switch c.Meta.Topic {
		case "poison":
			poisonCalls++
		case "ok":
			okCalls++
		}
	}
	assert.Equal(t, 2, poisonCalls)
	assert.Equal(t, 1, okCalls)

	lastErr, ok := s.LastError(poison)
	require.True(t, ok)
	assert.Equal(t, "poison", lastErr)

	pending, _, err := s.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestCleaner_PurgesPublishedAndDead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore("test")
	d := &recordingDispatcher{failTopic: "poison"}
	r := newTestRelay(t, s, d, 1)

	enqueue(t, s, "ok")
	enqueue(t, s, "poison")
	_, err := r.ProcessOnce(ctx)
	require.NoError(t, err)

	c, err := NewCleaner(s, CleanerOptions{
		Enabled:               true,
		Retention:             -time.Hour,
		DeadRetention:         -time.Hour,
		DeadAttemptsThreshold: 1,
	})
	require.NoError(t, err)
	require.NoError(t, c.CleanOnce(ctx))

	pending, _, err := s.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	_, err = NewCleaner(s, CleanerOptions{DeadRetention: time.Hour})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewRelay_Validation(t *testing.T) {
	t.Parallel()
	_, err := NewRelay(nil, &recordingDispatcher{}, RelayOptions{})
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewRelay(NewMemStore("x"), nil, RelayOptions{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}
