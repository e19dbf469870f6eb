package importqueue_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/catalog"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/records"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/schema"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/submission"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/infrastructure/importqueue"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/eventbus"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/outbox"
	outboxbus "github.com/EyeSeeTea/data-approval-dev-sub000/pkg/outbox/dispatchers/eventbus"
)

// platform keeps tracked entities and events per program/orgUnit and
// applies imports to them.
type platform struct {
	mu       sync.Mutex
	seq      int
	entities map[string][]records.TrackedEntity
	events   map[string][]records.Event
}

func newPlatform() *platform {
	return &platform{entities: map[string][]records.TrackedEntity{}, events: map[string][]records.Event{}}
}

func (p *platform) nextID() string {
	p.seq++
	return fmt.Sprintf("id%d", p.seq)
}

func (p *platform) ListEntities(_ context.Context, q services.EntityQuery) ([]records.TrackedEntity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]records.TrackedEntity(nil), p.entities[q.Program+"/"+q.OrgUnit]...), nil
}

func (p *platform) ListEvents(_ context.Context, q services.EventQuery) ([]records.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]records.Event(nil), p.events[q.Program+"/"+q.OrgUnit]...), nil
}

func (p *platform) ImportEntities(_ context.Context, s services.Strategy, entities []records.TrackedEntity, _ bool) (services.ImportResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := services.ImportResult{Status: "OK"}
	for _, te := range entities {
		program := te.Enrollments[0].Program
		key := program + "/" + te.OrgUnit
		if s == services.StrategyDelete {
			kept := p.entities[key][:0]
			for _, cur := range p.entities[key] {
				if cur.ID != te.ID {
					kept = append(kept, cur)
				}
			}
			res.Deleted += len(p.entities[key]) - len(kept)
			p.entities[key] = kept
			continue
		}
		te.ID = p.nextID()
		p.entities[key] = append(p.entities[key], te)
		res.Imported++
	}
	return res, nil
}

func (p *platform) ImportEvents(_ context.Context, s services.Strategy, events []records.Event, _ bool) (services.ImportResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := services.ImportResult{Status: "OK"}
	for _, ev := range events {
		key := ev.Program + "/" + ev.OrgUnit
		if s == services.StrategyDelete {
			kept := p.events[key][:0]
			for _, cur := range p.events[key] {
				if cur.ID != ev.ID {
					kept = append(kept, cur)
				}
			}
			res.Deleted += len(p.events[key]) - len(kept)
			p.events[key] = kept
			continue
		}
		ev.ID = p.nextID()
		p.events[key] = append(p.events[key], ev)
		res.Imported++
	}
	return res, nil
}

type stageMetadata map[string][]schema.NamedElement

func (m stageMetadata) GetElements(context.Context, string) ([]schema.NamedElement, error) {
	return nil, nil
}

func (m stageMetadata) GetStages(_ context.Context, id string) ([]schema.NamedElement, error) {
	return m[id], nil
}

type replaceFixture struct {
	platform *platform
	store    *outbox.MemStore
	engine   *services.ReplicationEngine
	relay    *outbox.Relay
}

func newReplaceFixture(t *testing.T) *replaceFixture {
	t.Helper()
	cat, err := catalog.New(
		catalog.Module{
			Name:     "CASES",
			Kind:     catalog.KindTracker,
			Programs: []catalog.ProgramPair{{ContainerPair: catalog.ContainerPair{Draft: "prgDraft", Approved: "prgApproved"}}},
		},
		catalog.Module{
			Name:     "SURVEY",
			Kind:     catalog.KindEvent,
			Programs: []catalog.ProgramPair{{ContainerPair: catalog.ContainerPair{Draft: "evDraft", Approved: "evApproved"}}},
		},
	)
	require.NoError(t, err)
	metadata := stageMetadata{
		"prgDraft":    {{ID: "stA", Name: "Intake"}},
		"prgApproved": {{ID: "stA2", Name: "Intake_APVD"}},
		"evDraft":     {{ID: "evSt", Name: "Survey"}},
		"evApproved":  {{ID: "evSt2", Name: "Survey_APVD"}},
	}

	f := &replaceFixture{platform: newPlatform(), store: outbox.NewMemStore("approval_import_jobs")}
	resolver := services.NewElementSetResolver(metadata, schema.NewNameMapper(""), quietLogger())
	f.engine = services.NewReplicationEngine(cat, resolver, nil, f.platform, nil,
		importqueue.New(f.store, nil), services.ReplicationOptions{Logger: quietLogger()})

	dispatcher := outboxbus.New(eventbus.NewEventPublisher(quietLogger()))
	importqueue.NewWorker(f.platform, false, quietLogger()).Register(dispatcher)
	f.relay, err = outbox.NewRelay(f.store, dispatcher, outbox.RelayOptions{
		MaxAttempts: 3,
		MaxBackoff:  time.Nanosecond,
		JitterMax:   -1,
		Rand:        rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)
	return f
}

func (f *replaceFixture) deliverAll(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, _ = f.relay.ProcessOnce(context.Background())
		pending, _, _ := f.store.Depth(context.Background())
		return pending == 0
	}, time.Second, 5*time.Millisecond)
}

func TestReplication_RerunBeforeDeliveryKeepsOneTrackerCopy(t *testing.T) {
	f := newReplaceFixture(t)
	f.platform.entities["prgDraft/OU1"] = []records.TrackedEntity{{
		ID:                "te1",
		TrackedEntityType: "tet",
		OrgUnit:           "OU1",
		Enrollments: []records.Enrollment{{
			ID:      "en1",
			Program: "prgDraft",
			Events:  []records.Event{{ID: "ev1", Program: "prgDraft", ProgramStage: "stA", OrgUnit: "OU1"}},
		}},
	}}
	items := []submission.Identifier{{Module: "CASES", OrgUnit: "OU1", Period: "2023"}}

	for range 2 {
		out, err := f.engine.Replicate(context.Background(), items)
		require.NoError(t, err)
		require.True(t, out.Succeeded())
		require.Len(t, out.Jobs, 1)
	}
	f.deliverAll(t)

	approved := f.platform.entities["prgApproved/OU1"]
	require.Len(t, approved, 1)
	assert.Equal(t, "stA2", approved[0].Enrollments[0].Events[0].ProgramStage)

	// A later rerun replaces the copy instead of adding to it.
	_, err := f.engine.Replicate(context.Background(), items)
	require.NoError(t, err)
	f.deliverAll(t)
	assert.Len(t, f.platform.entities["prgApproved/OU1"], 1)
}

func TestReplication_RerunBeforeDeliveryKeepsOneEventCopy(t *testing.T) {
	f := newReplaceFixture(t)
	f.platform.events["evDraft/OU1"] = []records.Event{
		{ID: "e1", Program: "evDraft", ProgramStage: "evSt", OrgUnit: "OU1", OccurredAt: "2023-06-01"},
	}
	items := []submission.Identifier{{Module: "SURVEY", OrgUnit: "OU1", Period: "2023"}}

	for range 2 {
		_, err := f.engine.Replicate(context.Background(), items)
		require.NoError(t, err)
	}
	f.deliverAll(t)

	approved := f.platform.events["evApproved/OU1"]
	require.Len(t, approved, 1)
	assert.Equal(t, "evSt2", approved[0].ProgramStage)
}
