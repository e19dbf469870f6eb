package services

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/catalog"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/records"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/schema"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/submission"
)

// TimestampLayout formats the approval timestamp written next to approved
// aggregate data.
const TimestampLayout = "2006-01-02T15:04:05"

var tracer = otel.Tracer("approval-services")

type ReplicationOptions struct {
	Concurrency int
	ChunkSize   int
	Clock       Clock
	Logger      *logrus.Logger
}

func (o *ReplicationOptions) setDefaults() {
	if o.Concurrency < 1 {
		o.Concurrency = DefaultConcurrency
	}
	if o.ChunkSize < 1 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}

// ReplicationEngine copies submitted draft data into the approved schema.
type ReplicationEngine struct {
	catalog  *catalog.Catalog
	resolver *ElementSetResolver
	values   AggregateValueStore
	tracker  TrackerStore
	settings SettingsLookup
	queue    ImportQueue
	opts     ReplicationOptions
}

func NewReplicationEngine(
	cat *catalog.Catalog,
	resolver *ElementSetResolver,
	values AggregateValueStore,
	tracker TrackerStore,
	settings SettingsLookup,
	queue ImportQueue,
	opts ReplicationOptions,
) *ReplicationEngine {
	opts.setDefaults()
	return &ReplicationEngine{
		catalog:  cat,
		resolver: resolver,
		values:   values,
		tracker:  tracker,
		settings: settings,
		queue:    queue,
		opts:     opts,
	}
}

// Replication is the outcome of one run. Jobs are queued imports whose
// effect is not yet visible in the approved schema.
type Replication struct {
	Stats []ReplicationStats `json:"stats"`
	Jobs  []ImportJobHandle  `json:"jobs"`
}

func (r Replication) Succeeded() bool {
	return Succeeded(r.Stats)
}

func (r *Replication) merge(other Replication) {
	r.Stats = append(r.Stats, other.Stats...)
	r.Jobs = append(r.Jobs, other.Jobs...)
}

// Replicate runs the replication matching the items' module kind. All items
// must belong to the same module.
func (e *ReplicationEngine) Replicate(ctx context.Context, items []submission.Identifier) (Replication, error) {
	if len(items) == 0 {
		return Replication{}, nil
	}
	module, err := e.catalog.Lookup(items[0].Module)
	if err != nil {
		return Replication{}, configurationError("unknown module", err)
	}
	for _, it := range items[1:] {
		if !strings.EqualFold(strings.TrimSpace(it.Module), module.Name) {
			return Replication{}, newServiceError(http.StatusBadRequest, "APPROVAL_MIXED_MODULES",
				fmt.Sprintf("items of %s and %s cannot be replicated together", module.Name, it.Module), nil)
		}
	}

	switch module.Kind {
	case catalog.KindAggregate:
		stats, err := e.DuplicateValues(ctx, items)
		return Replication{Stats: stats}, err
	case catalog.KindTracker:
		var out Replication
		for _, p := range module.Programs {
			stages, err := e.resolver.ResolveStages(ctx, p.Draft, p.Approved)
			if err != nil {
				return out, err
			}
			r, err := e.DuplicateTrackerProgram(ctx, p, restrictStages(stages, p.Stages), items)
			if err != nil {
				return out, err
			}
			out.merge(r)
		}
		return out, nil
	case catalog.KindEvent:
		var out Replication
		for _, p := range module.Programs {
			r, err := e.DuplicateEventProgram(ctx, p, items)
			if err != nil {
				return out, err
			}
			out.merge(r)
		}
		return out, nil
	default:
		return Replication{}, configurationError(fmt.Sprintf("module %s has unknown kind %q", module.Name, module.Kind), nil)
	}
}

// DuplicateValues copies the aggregate values of items into the approved
// data set. Deletes run before writes; writes are upserts, so a rerun over
// unchanged data only updates. Batch failures are reported in the returned
// stats; configuration and fetch failures abort with an error.
func (e *ReplicationEngine) DuplicateValues(ctx context.Context, items []submission.Identifier) ([]ReplicationStats, error) {
	if len(items) == 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "approval.replication.values", trace.WithAttributes(attribute.Int("items", len(items))))
	defer span.End()

	module, err := e.catalog.Lookup(items[0].Module)
	if err != nil {
		return nil, spanError(span, configurationError("unknown module", err))
	}
	if module.Kind != catalog.KindAggregate {
		return nil, spanError(span, configurationError(fmt.Sprintf("module %s does not hold aggregate data", module.Name), nil))
	}
	pair := module.DataSet
	log := loggerFromContext(ctx, e.opts.Logger).WithFields(logrus.Fields{
		"module":       module.Name,
		"container_id": pair.Approved,
	})

	timestampElement, err := e.settings.ApprovalTimestampElement(ctx, pair.Approved)
	if err != nil {
		return nil, spanError(span, configurationError("approval timestamp element is not available for "+pair.Approved, err))
	}

	corrs, err := e.resolver.ResolveElements(ctx, pair.Draft, pair.Approved)
	if err != nil {
		return nil, spanError(span, err)
	}
	table := schema.NewElementTable(corrs)
	stamp := e.opts.Clock().UTC().Format(TimestampLayout)

	var writes, deletes []records.AggregateValue
	dropped := 0
	for _, it := range uniqueItems(items) {
		draft, err := e.values.GetValues(ctx, pair.Draft, it.OrgUnit, it.Period)
		if err != nil {
			return nil, spanError(span, errors.Wrapf(err, "fetch draft values of %s", it))
		}
		approved, err := e.values.GetValues(ctx, pair.Approved, it.OrgUnit, it.Period)
		if err != nil {
			return nil, spanError(span, errors.Wrapf(err, "fetch approved values of %s", it))
		}

		existing := make(map[records.ValueKey]records.AggregateValue, len(approved))
		for _, v := range approved {
			if !v.Tombstone() {
				v.DataSet = pair.Approved
				existing[v.Key()] = v
			}
		}

		for _, v := range draft {
			dest, ok := table[v.DataElement]
			if !ok {
				dropped++
				continue
			}
			mapped := v
			mapped.DataElement = dest
			mapped.DataSet = pair.Approved
			mapped.Deleted = false
			if v.Tombstone() {
				if prev, ok := existing[mapped.Key()]; ok {
					deletes = append(deletes, prev)
				}
				continue
			}
			writes = append(writes, mapped)
		}
		writes = append(writes, records.AggregateValue{
			DataElement: timestampElement,
			OrgUnit:     it.OrgUnit,
			Period:      it.Period,
			Value:       stamp,
			DataSet:     pair.Approved,
		})
	}
	if dropped > 0 {
		log.WithField("dropped", dropped).Debug("values without approved counterpart dropped")
	}

	stats := e.postValues(ctx, log, StrategyDelete, pair.Approved, deletes)
	stats = append(stats, e.postValues(ctx, log, StrategySave, pair.Approved, writes)...)

	failures := len(Failures(stats))
	span.SetAttributes(attribute.Int("deletes", len(deletes)), attribute.Int("writes", len(writes)), attribute.Int("failed_cells", failures))
	log.WithFields(logrus.Fields{
		"deletes":      len(deletes),
		"writes":       len(writes),
		"failed_cells": failures,
	}).Info("aggregate replication finished")
	return stats, nil
}

func (e *ReplicationEngine) postValues(ctx context.Context, log *logrus.Entry, strategy Strategy, dataSetID string, values []records.AggregateValue) []ReplicationStats {
	batches := groupBatches(values, func(v records.AggregateValue) batchKey {
		return batchKey{OrgUnit: v.OrgUnit, Period: v.Period}
	}, e.opts.ChunkSize)

	results := runBatches(ctx, batches, e.opts.Concurrency, func(ctx context.Context, b batch[records.AggregateValue]) ReplicationStats {
		cell := ReplicationStats{ContainerID: dataSetID, OrgUnitID: b.OrgUnit, Period: b.Period, Strategy: strategy}
		res, err := e.values.PostValues(ctx, strategy, dataSetID, b.Items)
		var s ReplicationStats
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"org_unit": b.OrgUnit,
				"period":   b.Period,
				"strategy": strategy,
				"batch":    b.Index,
			}).Error("replication batch failed")
			s = statsFromError(cell, err)
		} else {
			s = statsFromResult(cell, res)
		}
		recordBatch(records.KindAggregate, s)
		return s
	})
	for i := range results {
		// A panicking batch only knows its org unit and period.
		results[i].ContainerID = dataSetID
		results[i].Strategy = strategy
	}

	report := NewReplicationReport()
	report.Add(results...)
	return report.Stats()
}

// itemOutcome is the per-item result of tracker and event replication.
type itemOutcome struct {
	Stats []ReplicationStats
	Job   *ImportJobHandle
}

func (e *ReplicationEngine) forEachItem(ctx context.Context, items []submission.Identifier, fn func(context.Context, submission.Identifier) itemOutcome) Replication {
	outcomes := runLimited(uniqueItems(items), e.opts.Concurrency, func(it submission.Identifier) itemOutcome {
		return fn(ctx, it)
	}, func(it submission.Identifier, recovered any) itemOutcome {
		return itemOutcome{Stats: []ReplicationStats{{
			OrgUnitID:     it.OrgUnit,
			Period:        it.Period,
			Strategy:      StrategySave,
			ErrorMessages: []string{fmt.Sprintf("replication of %s panicked: %v", it, recovered)},
		}}}
	})

	var out Replication
	for _, o := range outcomes {
		out.Stats = append(out.Stats, o.Stats...)
		if o.Job != nil {
			out.Jobs = append(out.Jobs, *o.Job)
		}
	}
	return out
}

// DuplicateTrackerProgram replaces the approved copy of every item's
// tracked entities whose first event belongs to one of the given draft
// stages. The rebuilt entities are queued as an import job; the approved
// entities it replaces are deleted when the job is delivered (see
// ClearJobScope), so reruns queued before delivery still leave one copy.
func (e *ReplicationEngine) DuplicateTrackerProgram(ctx context.Context, program catalog.ProgramPair, stages []schema.StageCorrespondence, items []submission.Identifier) (Replication, error) {
	ctx, span := tracer.Start(ctx, "approval.replication.tracker", trace.WithAttributes(
		attribute.String("program", program.Draft),
		attribute.Int("items", len(items)),
	))
	defer span.End()

	table := schema.NewStageTable(stages)
	draftStages := make(map[string]bool, len(stages))
	approvedStages := make([]string, 0, len(stages))
	for _, s := range stages {
		draftStages[s.OriginStageID] = true
		approvedStages = append(approvedStages, s.DestinationStageID)
	}

	out := e.forEachItem(ctx, items, func(ctx context.Context, it submission.Identifier) itemOutcome {
		log := loggerFromContext(ctx, e.opts.Logger).WithFields(logrus.Fields{
			"module":       it.Module,
			"org_unit":     it.OrgUnit,
			"period":       it.Period,
			"container_id": program.Approved,
		})
		cell := func(s Strategy) ReplicationStats {
			return ReplicationStats{ContainerID: program.Approved, OrgUnitID: it.OrgUnit, Period: it.Period, Strategy: s}
		}

		source, err := e.tracker.ListEntities(ctx, EntityQuery{Program: program.Draft, OrgUnit: it.OrgUnit, Period: it.Period})
		if err != nil {
			log.WithError(err).Error("list draft tracked entities failed")
			return itemOutcome{Stats: []ReplicationStats{statsFromError(cell(StrategySave), err)}}
		}
		eligible := entitiesInStages(source, draftStages)
		if len(eligible) == 0 {
			log.Debug("no eligible tracked entities")
			return itemOutcome{}
		}

		rebuilt := rebuildEntities(eligible, program, table, log)
		return e.enqueue(ctx, log, cell(StrategySave), ImportJob{
			Kind:     records.KindEntity,
			Strategy: StrategySave,
			Program:  program.Approved,
			Item:     it,
			Stages:   approvedStages,
			Entities: rebuilt,
		})
	})
	span.SetAttributes(attribute.Int("jobs", len(out.Jobs)))
	return out, nil
}

// DuplicateEventProgram is the event counterpart of DuplicateTrackerProgram:
// it works on standalone events whose occurrence year matches the item
// period. WideScope on the pair includes events of descendant org units.
func (e *ReplicationEngine) DuplicateEventProgram(ctx context.Context, program catalog.ProgramPair, items []submission.Identifier) (Replication, error) {
	ctx, span := tracer.Start(ctx, "approval.replication.events", trace.WithAttributes(
		attribute.String("program", program.Draft),
		attribute.Bool("wide_scope", program.WideScope),
		attribute.Int("items", len(items)),
	))
	defer span.End()

	stages, err := e.resolver.ResolveStages(ctx, program.Draft, program.Approved)
	if err != nil {
		return Replication{}, spanError(span, err)
	}
	table := schema.NewStageTable(restrictStages(stages, program.Stages))

	out := e.forEachItem(ctx, items, func(ctx context.Context, it submission.Identifier) itemOutcome {
		log := loggerFromContext(ctx, e.opts.Logger).WithFields(logrus.Fields{
			"module":       it.Module,
			"org_unit":     it.OrgUnit,
			"period":       it.Period,
			"container_id": program.Approved,
		})
		cell := func(s Strategy) ReplicationStats {
			return ReplicationStats{ContainerID: program.Approved, OrgUnitID: it.OrgUnit, Period: it.Period, Strategy: s}
		}
		year := periodYear(it.Period)

		source, err := e.tracker.ListEvents(ctx, EventQuery{Program: program.Draft, OrgUnit: it.OrgUnit, Period: it.Period, WideScope: program.WideScope})
		if err != nil {
			log.WithError(err).Error("list draft events failed")
			return itemOutcome{Stats: []ReplicationStats{statsFromError(cell(StrategySave), err)}}
		}
		rebuilt := rebuildEvents(eventsInYear(source, year), program, table, log)
		if len(rebuilt) == 0 {
			log.Debug("no eligible events")
			return itemOutcome{}
		}

		return e.enqueue(ctx, log, cell(StrategySave), ImportJob{
			Kind:      records.KindEvent,
			Strategy:  StrategySave,
			Program:   program.Approved,
			Item:      it,
			WideScope: program.WideScope,
			Events:    rebuilt,
		})
	})
	span.SetAttributes(attribute.Int("jobs", len(out.Jobs)))
	return out, nil
}

func (e *ReplicationEngine) enqueue(ctx context.Context, log *logrus.Entry, cell ReplicationStats, job ImportJob) itemOutcome {
	job.ID = uuid.New()
	handle, err := e.queue.Enqueue(ctx, job)
	recordImportJob(job.Kind, err)
	if err != nil {
		log.WithError(err).Error("enqueue import job failed")
		return itemOutcome{Stats: []ReplicationStats{statsFromError(cell, err)}}
	}
	log.WithFields(logrus.Fields{
		"job_id":   handle.ID.String(),
		"sequence": handle.Sequence,
	}).Info("import job queued")
	return itemOutcome{Job: &handle}
}

// ClearJobScope deletes the approved records a create job is about to
// rebuild: tracked entities whose first event is in one of the job's
// stages, or events of the item's period year. Workers call it right
// before the create; an error means the create must not run.
func ClearJobScope(ctx context.Context, tracker TrackerStore, job ImportJob) (ImportResult, error) {
	q := EntityQuery{Program: job.Program, OrgUnit: job.Item.OrgUnit, Period: job.Item.Period}
	switch job.Kind {
	case records.KindEntity:
		existing, err := tracker.ListEntities(ctx, q)
		if err != nil {
			return ImportResult{}, errors.Wrap(err, "list approved tracked entities")
		}
		stages := make(map[string]bool, len(job.Stages))
		for _, id := range job.Stages {
			stages[id] = true
		}
		if existing = entitiesInStages(existing, stages); len(existing) == 0 {
			return ImportResult{}, nil
		}
		res, err := tracker.ImportEntities(ctx, StrategyDelete, existing, false)
		return res, scopeDeleteError(job, res, err)
	case records.KindEvent:
		existing, err := tracker.ListEvents(ctx, EventQuery{Program: q.Program, OrgUnit: q.OrgUnit, Period: q.Period, WideScope: job.WideScope})
		if err != nil {
			return ImportResult{}, errors.Wrap(err, "list approved events")
		}
		if existing = eventsInYear(existing, periodYear(job.Item.Period)); len(existing) == 0 {
			return ImportResult{}, nil
		}
		res, err := tracker.ImportEvents(ctx, StrategyDelete, existing, false)
		return res, scopeDeleteError(job, res, err)
	default:
		return ImportResult{}, errors.Errorf("import job %s has no %q scope", job.ID, job.Kind)
	}
}

func scopeDeleteError(job ImportJob, res ImportResult, err error) error {
	cell := ReplicationStats{ContainerID: job.Program, OrgUnitID: job.Item.OrgUnit, Period: job.Item.Period, Strategy: StrategyDelete}
	s := importStats(cell, res, err)
	recordBatch(job.Kind, s)
	if err != nil {
		return errors.Wrapf(err, "delete approved %s records", job.Kind)
	}
	if s.Failed() {
		return errors.Errorf("delete of approved %s records rejected: %s", job.Kind, strings.Join(s.ErrorMessages, "; "))
	}
	return nil
}

func importStats(cell ReplicationStats, res ImportResult, err error) ReplicationStats {
	if err != nil {
		return statsFromError(cell, err)
	}
	return statsFromResult(cell, res)
}

func entitiesInStages(entities []records.TrackedEntity, stages map[string]bool) []records.TrackedEntity {
	var out []records.TrackedEntity
	for _, te := range entities {
		if stage, ok := te.FirstStage(); ok && stages[stage] {
			out = append(out, te)
		}
	}
	return out
}

func eventsInYear(events []records.Event, year int) []records.Event {
	var out []records.Event
	for _, ev := range events {
		if year != 0 && ev.Year() == year {
			out = append(out, ev)
		}
	}
	return out
}

// rebuildEntities strips platform identities and repoints the draft
// program's enrollments, events and ownership to the approved program.
func rebuildEntities(src []records.TrackedEntity, program catalog.ProgramPair, table schema.StageTable, log *logrus.Entry) []records.TrackedEntity {
	out := make([]records.TrackedEntity, 0, len(src))
	for _, te := range src {
		n := records.TrackedEntity{
			TrackedEntityType: te.TrackedEntityType,
			OrgUnit:           te.OrgUnit,
			Attributes:        append([]records.Attribute(nil), te.Attributes...),
		}
		for _, owner := range te.ProgramOwners {
			if owner.Program == program.Draft {
				n.ProgramOwners = append(n.ProgramOwners, records.ProgramOwner{OrgUnit: owner.OrgUnit, Program: program.Approved})
			}
		}
		for _, en := range te.Enrollments {
			if en.Program != program.Draft {
				continue
			}
			ne := en
			ne.ID = ""
			ne.TrackedEntity = ""
			ne.Program = program.Approved
			ne.Attributes = append([]records.Attribute(nil), en.Attributes...)
			ne.Events = rebuildEvents(en.Events, program, table, log)
			n.Enrollments = append(n.Enrollments, ne)
		}
		out = append(out, n)
	}
	return out
}

func rebuildEvents(src []records.Event, program catalog.ProgramPair, table schema.StageTable, log *logrus.Entry) []records.Event {
	out := make([]records.Event, 0, len(src))
	for _, ev := range src {
		dest, ok := table.Destination(ev.ProgramStage)
		if !ok {
			mappingMisses.WithLabelValues("stage").Inc()
			log.WithField("program_stage", ev.ProgramStage).Warn("event stage has no approved counterpart, event dropped")
			continue
		}
		n := ev
		n.ID = ""
		n.Enrollment = ""
		n.TrackedEntity = ""
		n.Program = program.Approved
		n.ProgramStage = dest
		n.DataValues = append([]records.DataValue(nil), ev.DataValues...)
		out = append(out, n)
	}
	return out
}

// restrictStages keeps the correspondences of the listed draft stages; an
// empty list keeps all.
func restrictStages(stages []schema.StageCorrespondence, only []string) []schema.StageCorrespondence {
	if len(only) == 0 {
		return stages
	}
	keep := make(map[string]bool, len(only))
	for _, id := range only {
		keep[id] = true
	}
	var out []schema.StageCorrespondence
	for _, s := range stages {
		if keep[s.OriginStageID] {
			out = append(out, s)
		}
	}
	return out
}

// periodYear reads the year of a period id such as 2023, 2023Q1 or 202301.
func periodYear(period string) int {
	if len(period) < 4 {
		return 0
	}
	y, err := strconv.Atoi(period[:4])
	if err != nil {
		return 0
	}
	return y
}

func uniqueItems(items []submission.Identifier) []submission.Identifier {
	seen := make(map[submission.Identifier]bool, len(items))
	out := make([]submission.Identifier, 0, len(items))
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
