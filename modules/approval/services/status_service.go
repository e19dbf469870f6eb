package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/catalog"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/events"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/submission"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/composables"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/eventbus"
)

type Action string

const (
	ActionComplete      Action = "complete"
	ActionSubmit        Action = "submit"
	ActionApprove       Action = "approve"
	ActionReject        Action = "reject"
	ActionRequestUpdate Action = "request_update"
	ActionAcceptUpdate  Action = "accept_update"
	ActionReopen        Action = "reopen"
)

type actionRule struct {
	from []submission.Status // empty: any status
	to   submission.Status
}

var actionRules = map[Action]actionRule{
	ActionComplete:      {from: []submission.Status{submission.NotCompleted}, to: submission.Complete},
	ActionSubmit:        {from: []submission.Status{submission.Complete}, to: submission.PendingApproval},
	ActionApprove:       {from: []submission.Status{submission.PendingApproval}, to: submission.Approved},
	ActionReject:        {from: []submission.Status{submission.PendingApproval, submission.PendingUpdateApproval}, to: submission.Rejected},
	ActionRequestUpdate: {from: []submission.Status{submission.Approved}, to: submission.PendingUpdateApproval},
	ActionAcceptUpdate:  {from: []submission.Status{submission.PendingUpdateApproval}, to: submission.UpdateRequestAccepted},
	ActionReopen:        {to: submission.NotCompleted},
}

func (r actionRule) allows(s submission.Status) bool {
	if len(r.from) == 0 {
		return true
	}
	for _, f := range r.from {
		if f == s {
			return true
		}
	}
	return false
}

// Target is the status an action moves an item to.
func (a Action) Target() (submission.Status, bool) {
	r, ok := actionRules[a]
	return r.to, ok
}

type ApplyDTO struct {
	Items  []submission.Identifier `json:"items" validate:"required,min=1,dive"`
	Action Action                  `json:"action" validate:"required,oneof=complete submit approve reject request_update accept_update reopen"`
}

type ApplyResult struct {
	Success bool               `json:"success"`
	Items   []submission.Item  `json:"items"`
	Stats   []ReplicationStats `json:"stats,omitempty"`
	Jobs    []ImportJobHandle  `json:"jobs,omitempty"`
	// Items whose new status could not be stored; Items then holds only
	// the ones that were.
	Unsaved []UnsavedItem `json:"unsaved,omitempty"`
}

type UnsavedItem struct {
	Item  submission.Identifier `json:"item"`
	Error string                `json:"error"`
}

type StatusServiceOptions struct {
	Clock  Clock
	Logger *logrus.Logger
}

// StatusService holds the submission workflow use cases.
type StatusService struct {
	repo          submission.Repository
	catalog       *catalog.Catalog
	engine        *ReplicationEngine
	registrations RegistrationClient
	publisher     eventbus.EventBus
	validate      *validator.Validate
	clock         Clock
	logger        *logrus.Logger
}

func NewStatusService(
	repo submission.Repository,
	cat *catalog.Catalog,
	engine *ReplicationEngine,
	registrations RegistrationClient,
	publisher eventbus.EventBus,
	opts StatusServiceOptions,
) *StatusService {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &StatusService{
		repo:          repo,
		catalog:       cat,
		engine:        engine,
		registrations: registrations,
		publisher:     publisher,
		validate:      validator.New(),
		clock:         opts.Clock,
		logger:        opts.Logger,
	}
}

func (s *StatusService) Catalog() *catalog.Catalog {
	return s.catalog
}

// ListItems returns an item for every (org unit, period) pair of the
// module; pairs never persisted come back with default values.
func (s *StatusService) ListItems(ctx context.Context, module string, orgUnits, periods []string) ([]submission.Item, error) {
	m, err := s.lookup(module)
	if err != nil {
		return nil, err
	}
	stored, err := s.repo.List(ctx, m.Name)
	if err != nil {
		return nil, errors.Wrap(err, "list submission items")
	}
	return submission.Merge(submission.Synthesize(m.Name, orgUnits, periods, s.clock()), stored), nil
}

func (s *StatusService) History(ctx context.Context, id submission.Identifier) ([]submission.HistoryEntry, error) {
	id, _, err := s.canonical(id)
	if err != nil {
		return nil, err
	}
	item, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return item.StatusHistory, nil
}

func (s *StatusService) SetQuestionnaireCompleted(ctx context.Context, id submission.Identifier, completed bool) (submission.Item, error) {
	id, _, err := s.canonical(id)
	if err != nil {
		return submission.Item{}, err
	}
	item, err := s.load(ctx, id)
	if err != nil {
		return submission.Item{}, err
	}
	item = item.WithQuestionnaireCompleted(completed)
	if err := s.repo.Save(ctx, item); err != nil {
		return submission.Item{}, errors.Wrap(err, "save submission item")
	}
	return item, nil
}

// Replicate copies the items' draft data without touching their status.
func (s *StatusService) Replicate(ctx context.Context, items []submission.Identifier) (Replication, error) {
	if err := s.validateItems(items); err != nil {
		return Replication{}, err
	}
	var out Replication
	for _, group := range groupByModule(items) {
		r, err := s.engine.Replicate(ctx, group)
		if err != nil {
			return out, err
		}
		out.merge(r)
	}
	return out, nil
}

// Apply runs an action over items. Every item must satisfy the action's
// precondition or nothing changes. Approval replicates first and leaves
// the items untouched when any replication stats carries errors.
//
// Items are stored one by one. When some saves fail after others went
// through, the result is unsuccessful, lists the stored items in Items and
// the rest in Unsaved. When no save succeeds the error is returned.
func (s *StatusService) Apply(ctx context.Context, dto ApplyDTO) (ApplyResult, error) {
	if err := s.validate.Struct(dto); err != nil {
		return ApplyResult{}, invalidBody("invalid request body", err)
	}
	rule := actionRules[dto.Action]

	ctx, span := tracer.Start(ctx, "approval.status.apply", trace.WithAttributes(
		attribute.String("action", string(dto.Action)),
		attribute.Int("items", len(dto.Items)),
	))
	defer span.End()

	log := loggerFromContext(ctx, s.logger).WithField("action", dto.Action)
	ids := uniqueItems(dto.Items)

	modules := make([]catalog.Module, 0, len(ids))
	current := make([]submission.Item, 0, len(ids))
	for i, id := range ids {
		id, m, err := s.canonical(id)
		if err != nil {
			return ApplyResult{}, spanError(span, err)
		}
		ids[i] = id
		item, err := s.load(ctx, id)
		if err != nil {
			return ApplyResult{}, spanError(span, err)
		}
		if !rule.allows(item.Status) {
			return ApplyResult{}, spanError(span, newServiceError(http.StatusConflict, "APPROVAL_INVALID_TRANSITION",
				fmt.Sprintf("%s cannot %s from %s", id, dto.Action, item.Status), nil))
		}
		modules = append(modules, m)
		current = append(current, item)
	}

	result := ApplyResult{Success: true}
	if dto.Action == ActionApprove {
		r, err := s.Replicate(ctx, ids)
		if err != nil {
			return ApplyResult{}, spanError(span, err)
		}
		result.Stats, result.Jobs = r.Stats, r.Jobs
		if !r.Succeeded() {
			log.WithField("failed_cells", len(Failures(r.Stats))).Warn("replication failed, items left unchanged")
			result.Success = false
			result.Items = current
			return result, nil
		}
	}

	if rule.to.RequiresUncomplete() {
		for i, item := range current {
			m := modules[i]
			if m.Kind != catalog.KindAggregate {
				continue
			}
			if err := s.registrations.Uncomplete(ctx, m.DataSet.Draft, item.OrgUnit, item.Period); err != nil {
				return ApplyResult{}, spanError(span, newServiceError(http.StatusBadGateway, "APPROVAL_UNCOMPLETE_FAILED",
					"could not reopen the registration of "+item.String(), err))
			}
		}
	}

	requestID, _ := composables.UseRequestID(ctx)
	now := s.clock()
	var saveErr error
	for i, item := range current {
		var next submission.Item
		if dto.Action == ActionReopen {
			next = item.Reopen(now)
		} else {
			next = item.Transition(rule.to, now)
		}
		if err := s.repo.Save(ctx, next); err != nil {
			err = errors.Wrapf(err, "save submission item %s", item.Identifier)
			if saveErr == nil {
				saveErr = err
			}
			log.WithError(err).WithField("item", item.String()).Error("submission status not stored")
			result.Unsaved = append(result.Unsaved, UnsavedItem{Item: item.Identifier, Error: err.Error()})
			continue
		}
		recordTransition(modules[i].Name, rule.to)

		ev := events.NewStatusChanged(next.Identifier, item.Status, next.Status, string(dto.Action), now)
		ev.RequestID = requestID
		s.publisher.Publish(ctx, &ev)

		log.WithFields(logrus.Fields{
			"module":   item.Module,
			"org_unit": item.OrgUnit,
			"period":   item.Period,
			"from":     item.Status,
			"to":       next.Status,
		}).Info("submission status changed")
		result.Items = append(result.Items, next)
	}
	if len(result.Unsaved) > 0 {
		if len(result.Items) == 0 {
			return ApplyResult{}, spanError(span, saveErr)
		}
		span.SetStatus(codes.Error, "partially stored")
		result.Success = false
	}
	return result, nil
}

func (s *StatusService) lookup(module string) (catalog.Module, error) {
	m, err := s.catalog.Lookup(module)
	if err != nil {
		return catalog.Module{}, newServiceError(http.StatusNotFound, "APPROVAL_UNKNOWN_MODULE", "unknown module", err)
	}
	return m, nil
}

// canonical rewrites the module of id to its catalog spelling so stored
// items always merge with synthesized ones.
func (s *StatusService) canonical(id submission.Identifier) (submission.Identifier, catalog.Module, error) {
	m, err := s.lookup(id.Module)
	if err != nil {
		return id, catalog.Module{}, err
	}
	id.Module = m.Name
	return id, m, nil
}

func (s *StatusService) load(ctx context.Context, id submission.Identifier) (submission.Item, error) {
	item, err := s.repo.Get(ctx, id)
	if errors.Is(err, submission.ErrItemNotFound) {
		return submission.New(id, s.clock()), nil
	}
	if err != nil {
		return submission.Item{}, errors.Wrapf(err, "load submission item %s", id)
	}
	return item, nil
}

func (s *StatusService) validateItems(items []submission.Identifier) error {
	dto := struct {
		Items []submission.Identifier `validate:"required,min=1,dive"`
	}{Items: items}
	if err := s.validate.Struct(dto); err != nil {
		return invalidBody("invalid items", err)
	}
	return nil
}

// groupByModule splits items per module, keeping first-seen order.
func groupByModule(items []submission.Identifier) [][]submission.Identifier {
	var order []string
	groups := map[string][]submission.Identifier{}
	for _, it := range items {
		key := strings.ToUpper(strings.TrimSpace(it.Module))
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], it)
	}
	out := make([][]submission.Identifier, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}
	return out
}
