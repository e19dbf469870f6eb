package importqueue_test

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/records"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/submission"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/infrastructure/importqueue"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/eventbus"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/outbox"
	outboxbus "github.com/EyeSeeTea/data-approval-dev-sub000/pkg/outbox/dispatchers/eventbus"
)

type call struct {
	Strategy services.Strategy
	Entities []records.TrackedEntity
	Events   []records.Event
	Async    bool
}

type fakeTracker struct {
	mu     sync.Mutex
	calls  []call
	err    error
	result services.ImportResult
}

func (f *fakeTracker) ListEntities(context.Context, services.EntityQuery) ([]records.TrackedEntity, error) {
	return nil, nil
}

func (f *fakeTracker) ListEvents(context.Context, services.EventQuery) ([]records.Event, error) {
	return nil, nil
}

func (f *fakeTracker) ImportEntities(_ context.Context, s services.Strategy, entities []records.TrackedEntity, async bool) (services.ImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Strategy: s, Entities: entities, Async: async})
	return f.result, f.err
}

func (f *fakeTracker) ImportEvents(_ context.Context, s services.Strategy, events []records.Event, async bool) (services.ImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Strategy: s, Events: events, Async: async})
	return f.result, f.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fixture struct {
	store   *outbox.MemStore
	queue   *importqueue.Queue
	tracker *fakeTracker
	relay   *outbox.Relay
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   outbox.NewMemStore("approval_import_jobs"),
		tracker: &fakeTracker{result: services.ImportResult{Status: "OK", Imported: 1}},
	}
	f.queue = importqueue.New(f.store, func() time.Time { return time.Unix(0, 0) })

	dispatcher := outboxbus.New(eventbus.NewEventPublisher(quietLogger()))
	importqueue.NewWorker(f.tracker, true, quietLogger()).Register(dispatcher)

	relay, err := outbox.NewRelay(f.store, dispatcher, outbox.RelayOptions{
		MaxAttempts: 3,
		MaxBackoff:  time.Nanosecond,
		JitterMax:   -1,
		Rand:        rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)
	f.relay = relay
	return f
}

func entityJob() services.ImportJob {
	return services.ImportJob{
		ID:       uuid.New(),
		Kind:     records.KindEntity,
		Strategy: services.StrategySave,
		Program:  "prgApproved",
		Item:     submission.Identifier{Module: "CASES", OrgUnit: "OU1", Period: "2023"},
		Entities: []records.TrackedEntity{{TrackedEntityType: "tet", OrgUnit: "OU1"}},
	}
}

func TestQueue_EnqueueThenDeliver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := entityJob()
	handle, err := f.queue.Enqueue(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, job.ID, handle.ID)
	assert.Equal(t, records.KindEntity, handle.Kind)
	assert.Positive(t, handle.Sequence)

	eventJob := services.ImportJob{
		ID:       uuid.New(),
		Kind:     records.KindEvent,
		Strategy: services.StrategySave,
		Events:   []records.Event{{Program: "evApproved", ProgramStage: "st", OrgUnit: "OU1"}},
	}
	_, err = f.queue.Enqueue(ctx, eventJob)
	require.NoError(t, err)

	n, err := f.relay.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, f.tracker.calls, 2)
	assert.True(t, f.tracker.calls[0].Async)
	assert.Len(t, f.tracker.calls[0].Entities, 1)
	assert.Len(t, f.tracker.calls[1].Events, 1)

	pending, locked, err := f.store.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, locked)
}

func TestQueue_EnqueueIsIdempotentByJobID(t *testing.T) {
	f := newFixture(t)
	job := entityJob()

	first, err := f.queue.Enqueue(context.Background(), job)
	require.NoError(t, err)
	second, err := f.queue.Enqueue(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, first.Sequence, second.Sequence)
}

func TestQueue_RejectsAggregateJobs(t *testing.T) {
	f := newFixture(t)
	_, err := f.queue.Enqueue(context.Background(), services.ImportJob{ID: uuid.New(), Kind: records.KindAggregate})
	require.Error(t, err)
}

func TestWorker_FailedImportIsRetried(t *testing.T) {
	f := newFixture(t)
	f.tracker.err = errors.New("platform unavailable")
	job := entityJob()
	_, err := f.queue.Enqueue(context.Background(), job)
	require.NoError(t, err)

	_, err = f.relay.ProcessOnce(context.Background())
	require.NoError(t, err)

	lastErr, ok := f.store.LastError(job.ID)
	require.True(t, ok)
	assert.Contains(t, lastErr, "platform unavailable")

	f.tracker.err = nil
	require.Eventually(t, func() bool {
		_, _ = f.relay.ProcessOnce(context.Background())
		pending, _, _ := f.store.Depth(context.Background())
		return pending == 0
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, f.tracker.calls, 2)
}

func TestWorker_ConflictsCountAsFailure(t *testing.T) {
	f := newFixture(t)
	f.tracker.result = services.ImportResult{Status: "ERROR", Conflicts: []string{"attribute missing"}}
	job := entityJob()
	_, err := f.queue.Enqueue(context.Background(), job)
	require.NoError(t, err)

	_, err = f.relay.ProcessOnce(context.Background())
	require.NoError(t, err)

	lastErr, ok := f.store.LastError(job.ID)
	require.True(t, ok)
	assert.Contains(t, lastErr, "attribute missing")
}

func TestKindOf(t *testing.T) {
	t.Parallel()
	assert.Equal(t, string(records.KindEntity), importqueue.KindOf(importqueue.TopicImportEntities))
	assert.Equal(t, string(records.KindEvent), importqueue.KindOf(importqueue.TopicImportEvents))
	assert.Equal(t, "unknown", importqueue.KindOf("approval.other"))
}
