package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/catalog"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/records"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/schema"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/submission"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"
)

var fixedNow = time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type fakeMetadata struct {
	elements map[string][]schema.NamedElement
	stages   map[string][]schema.NamedElement
}

func (f *fakeMetadata) GetElements(_ context.Context, id string) ([]schema.NamedElement, error) {
	if els, ok := f.elements[id]; ok {
		return els, nil
	}
	return nil, errors.New("unknown data set " + id)
}

func (f *fakeMetadata) GetStages(_ context.Context, id string) ([]schema.NamedElement, error) {
	if st, ok := f.stages[id]; ok {
		return st, nil
	}
	return nil, errors.New("unknown program " + id)
}

type postCall struct {
	Strategy services.Strategy
	DataSet  string
	Values   []records.AggregateValue
}

// fakeValues stores values per data set and upserts on SAVE, so reruns
// report updates the way the platform does.
type fakeValues struct {
	mu      sync.Mutex
	data    map[string]map[records.ValueKey]records.AggregateValue
	posts   []postCall
	failOU  map[string]error
	getErrs map[string]error
}

func newFakeValues() *fakeValues {
	return &fakeValues{data: map[string]map[records.ValueKey]records.AggregateValue{}}
}

func (f *fakeValues) put(dataSet string, values ...records.AggregateValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[dataSet] == nil {
		f.data[dataSet] = map[records.ValueKey]records.AggregateValue{}
	}
	for _, v := range values {
		f.data[dataSet][v.Key()] = v
	}
}

func (f *fakeValues) GetValues(_ context.Context, dataSet, ou, pe string) ([]records.AggregateValue, error) {
	if err := f.getErrs[dataSet]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []records.AggregateValue
	for _, v := range f.data[dataSet] {
		if v.OrgUnit == ou && v.Period == pe {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeValues) PostValues(_ context.Context, strategy services.Strategy, dataSet string, values []records.AggregateValue) (services.ImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, postCall{Strategy: strategy, DataSet: dataSet, Values: values})
	if len(values) > 0 {
		if err := f.failOU[values[0].OrgUnit]; err != nil {
			return services.ImportResult{}, err
		}
	}
	if f.data[dataSet] == nil {
		f.data[dataSet] = map[records.ValueKey]records.AggregateValue{}
	}
	res := services.ImportResult{Status: "SUCCESS"}
	for _, v := range values {
		_, exists := f.data[dataSet][v.Key()]
		switch {
		case strategy == services.StrategyDelete && exists:
			delete(f.data[dataSet], v.Key())
			res.Deleted++
		case strategy == services.StrategyDelete:
			res.Ignored++
		case exists:
			f.data[dataSet][v.Key()] = v
			res.Updated++
		default:
			f.data[dataSet][v.Key()] = v
			res.Imported++
		}
	}
	return res, nil
}

func (f *fakeValues) postsBy(strategy services.Strategy) []postCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []postCall
	for _, p := range f.posts {
		if p.Strategy == strategy {
			out = append(out, p)
		}
	}
	return out
}

type fakeSettings struct {
	element string
	err     error
}

func (f fakeSettings) ApprovalTimestampElement(context.Context, string) (string, error) {
	return f.element, f.err
}

type trackerImport struct {
	Strategy services.Strategy
	Entities []records.TrackedEntity
	Events   []records.Event
	Async    bool
}

type fakeTracker struct {
	mu       sync.Mutex
	entities map[string][]records.TrackedEntity // program/orgUnit
	events   map[string][]records.Event
	imports  []trackerImport
	queries  []services.EventQuery
	failDel  error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{entities: map[string][]records.TrackedEntity{}, events: map[string][]records.Event{}}
}

func (f *fakeTracker) ListEntities(_ context.Context, q services.EntityQuery) ([]records.TrackedEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entities[q.Program+"/"+q.OrgUnit], nil
}

func (f *fakeTracker) ImportEntities(_ context.Context, strategy services.Strategy, entities []records.TrackedEntity, async bool) (services.ImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imports = append(f.imports, trackerImport{Strategy: strategy, Entities: entities, Async: async})
	if strategy == services.StrategyDelete && f.failDel != nil {
		return services.ImportResult{}, f.failDel
	}
	return services.ImportResult{Status: "OK", Deleted: len(entities)}, nil
}

func (f *fakeTracker) ListEvents(_ context.Context, q services.EventQuery) ([]records.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.events[q.Program+"/"+q.OrgUnit], nil
}

func (f *fakeTracker) ImportEvents(_ context.Context, strategy services.Strategy, events []records.Event, async bool) (services.ImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imports = append(f.imports, trackerImport{Strategy: strategy, Events: events, Async: async})
	return services.ImportResult{Status: "OK", Deleted: len(events)}, nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []services.ImportJob
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, job services.ImportJob) (services.ImportJobHandle, error) {
	if f.err != nil {
		return services.ImportJobHandle{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return services.ImportJobHandle{
		ID:         job.ID,
		Kind:       job.Kind,
		Item:       job.Item,
		Sequence:   int64(len(f.jobs)),
		EnqueuedAt: fixedNow,
	}, nil
}

type fakeRepo struct {
	mu    sync.Mutex
	items map[submission.Identifier]submission.Item
	saved int
	// Save of these identifiers fails.
	failSave map[submission.Identifier]error
}

func newFakeRepo(items ...submission.Item) *fakeRepo {
	r := &fakeRepo{items: map[submission.Identifier]submission.Item{}}
	for _, it := range items {
		r.items[it.Identifier] = it
	}
	return r
}

func (r *fakeRepo) Get(_ context.Context, id submission.Identifier) (submission.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return submission.Item{}, submission.ErrItemNotFound
	}
	return it, nil
}

func (r *fakeRepo) List(_ context.Context, module string) ([]submission.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []submission.Item
	for _, it := range r.items {
		if it.Module == module {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *fakeRepo) Save(_ context.Context, it submission.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failSave[it.Identifier]; err != nil {
		return err
	}
	r.items[it.Identifier] = it
	r.saved++
	return nil
}

type fakeRegistrations struct {
	calls []string
	err   error
}

func (f *fakeRegistrations) Uncomplete(_ context.Context, dataSet, ou, pe string) error {
	f.calls = append(f.calls, dataSet+"/"+ou+"/"+pe)
	return f.err
}

type fakeSink struct {
	sent []services.Notification
	err  error
}

func (f *fakeSink) Send(_ context.Context, n services.Notification) error {
	f.sent = append(f.sent, n)
	return f.err
}

type fakeDirectory struct {
	users []string
	err   error
}

func (f fakeDirectory) Recipients(context.Context, catalog.Module, string) ([]string, error) {
	return f.users, f.err
}

const (
	draftDS    = "dsDraft"
	approvedDS = "dsApproved"
	timestamp  = "deApprovalTs"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(
		catalog.Module{
			Name:               "AMR",
			Kind:               catalog.KindAggregate,
			DataSet:            catalog.ContainerPair{Draft: draftDS, Approved: approvedDS},
			NotificationGroups: []string{"grpAMR"},
		},
		catalog.Module{
			Name:     "CASES",
			Kind:     catalog.KindTracker,
			Programs: []catalog.ProgramPair{{ContainerPair: catalog.ContainerPair{Draft: "prgDraft", Approved: "prgApproved"}}},
		},
		catalog.Module{
			Name: "SURVEY",
			Kind: catalog.KindEvent,
			Programs: []catalog.ProgramPair{{
				ContainerPair: catalog.ContainerPair{Draft: "evDraft", Approved: "evApproved"},
				WideScope:     true,
			}},
		},
	)
	require.NoError(t, err)
	return cat
}

func testMetadata() *fakeMetadata {
	return &fakeMetadata{
		elements: map[string][]schema.NamedElement{
			draftDS: {
				{ID: "DE1", Name: "DE1"},
				{ID: "DE2", Name: "Draft only"},
			},
			approvedDS: {
				{ID: "DE1_APVD", Name: "DE1_APVD"},
				{ID: timestamp, Name: "Approval timestamp"},
			},
		},
		stages: map[string][]schema.NamedElement{
			"prgDraft":    {{ID: "stA", Name: "Intake"}, {ID: "stB", Name: "Follow up"}},
			"prgApproved": {{ID: "stA2", Name: "Intake_APVD"}, {ID: "stB2", Name: "Follow up_APVD"}},
			"evDraft":     {{ID: "evSt", Name: "Survey"}},
			"evApproved":  {{ID: "evSt2", Name: "Survey_APVD"}},
		},
	}
}

type harness struct {
	catalog  *catalog.Catalog
	values   *fakeValues
	tracker  *fakeTracker
	queue    *fakeQueue
	settings fakeSettings
	engine   *services.ReplicationEngine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		catalog:  testCatalog(t),
		values:   newFakeValues(),
		tracker:  newFakeTracker(),
		queue:    &fakeQueue{},
		settings: fakeSettings{element: timestamp},
	}
	h.build()
	return h
}

func (h *harness) build() {
	resolver := services.NewElementSetResolver(testMetadata(), schema.NewNameMapper(""), quietLogger())
	h.engine = services.NewReplicationEngine(h.catalog, resolver, h.values, h.tracker, h.settings, h.queue, services.ReplicationOptions{
		Concurrency: 3,
		Clock:       fixedClock,
		Logger:      quietLogger(),
	})
}

func item(module, ou, pe string) submission.Identifier {
	return submission.Identifier{Module: module, OrgUnit: ou, Period: pe}
}
