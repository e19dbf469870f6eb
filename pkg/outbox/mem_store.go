package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memRow struct {
	Claimed
	availableAt time.Time
	lockedAt    *time.Time
	publishedAt *time.Time
	lastError   string
}

// MemStore is a process-local Store for single-instance deployments and tests.
type MemStore struct {
	label string
	now   func() time.Time

	mu       sync.Mutex
	rows     []*memRow
	byEvent  map[uuid.UUID]*memRow
	sequence int64
}

func NewMemStore(label string) *MemStore {
	return &MemStore{
		label:   label,
		now:     time.Now,
		byEvent: map[uuid.UUID]*memRow{},
	}
}

func (s *MemStore) Label() string {
	return s.label
}

func (s *MemStore) Enqueue(_ context.Context, msg Message) (int64, error) {
	if err := validateMessage(msg); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byEvent[msg.EventID]; ok {
		return existing.Sequence, nil
	}
	s.sequence++
	now := s.now()
	row := &memRow{
		Claimed: Claimed{
			ID:         uuid.New(),
			Topic:      msg.Topic,
			Payload:    append([]byte(nil), msg.Payload...),
			EventID:    msg.EventID,
			Sequence:   s.sequence,
			EnqueuedAt: now,
		},
		availableAt: now,
	}
	s.rows = append(s.rows, row)
	s.byEvent[msg.EventID] = row
	recordEnqueue(s.label, msg.Topic)
	return row.Sequence, nil
}

func (s *MemStore) Claim(_ context.Context, now, lockCutoff time.Time, maxAttempts, limit int) ([]Claimed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*memRow
	for _, r := range s.rows {
		if r.publishedAt != nil || r.availableAt.After(now) || r.Attempts >= maxAttempts {
			continue
		}
		if r.lockedAt != nil && !r.lockedAt.Before(lockCutoff) {
			continue
		}
		candidates = append(candidates, r)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].availableAt.Equal(candidates[j].availableAt) {
			return candidates[i].availableAt.Before(candidates[j].availableAt)
		}
		return candidates[i].Sequence < candidates[j].Sequence
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]Claimed, 0, len(candidates))
	for _, r := range candidates {
		locked := now
		r.lockedAt = &locked
		r.Attempts++
		r.ClaimedAt = now
		out = append(out, r.Claimed)
	}
	return out, nil
}

func (s *MemStore) find(id uuid.UUID) *memRow {
	for _, r := range s.rows {
		if r.ID == id && r.publishedAt == nil {
			return r
		}
	}
	return nil
}

func (s *MemStore) Ack(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.find(id); r != nil {
		now := s.now()
		r.publishedAt = &now
		r.lockedAt = nil
		r.lastError = ""
	}
	return nil
}

func (s *MemStore) Nack(_ context.Context, id uuid.UUID, lastError string, nextAvailable time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.find(id); r != nil {
		r.lockedAt = nil
		r.lastError = lastError
		r.availableAt = nextAvailable
	}
	return nil
}

func (s *MemStore) Dead(_ context.Context, id uuid.UUID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.find(id); r != nil {
		r.lockedAt = nil
		r.lastError = lastError
		r.availableAt = s.now()
	}
	return nil
}

func (s *MemStore) Depth(_ context.Context) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending, locked int64
	for _, r := range s.rows {
		if r.publishedAt != nil {
			continue
		}
		pending++
		if r.lockedAt != nil {
			locked++
		}
	}
	return pending, locked, nil
}

func (s *MemStore) Purge(_ context.Context, publishedBefore, deadBefore time.Time, deadAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	for _, r := range s.rows {
		purge := r.publishedAt != nil && r.publishedAt.Before(publishedBefore)
		if !purge && r.publishedAt == nil && deadAttempts > 0 && !deadBefore.IsZero() {
			purge = r.Attempts >= deadAttempts && r.EnqueuedAt.Before(deadBefore)
		}
		if purge {
			delete(s.byEvent, r.EventID)
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return nil
}

// LastError reports the most recent failure recorded for eventID.
func (s *MemStore) LastError(eventID uuid.UUID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byEvent[eventID]
	if !ok {
		return "", false
	}
	return r.lastError, true
}
