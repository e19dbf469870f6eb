package dhis2

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-faster/errors"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/records"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"
)

const trackerPageSize = 500

// trackerPage covers the list envelopes of both tracker API generations.
type trackerPage[T any] struct {
	TrackedEntities []T `json:"trackedEntities"`
	Events          []T `json:"events"`
	Instances       []T `json:"instances"`
	Pager           *struct {
		Page      int `json:"page"`
		PageCount int `json:"pageCount"`
	} `json:"pager"`
	Page      int `json:"page"`
	PageCount int `json:"pageCount"`
}

func (p trackerPage[T]) items() []T {
	switch {
	case len(p.TrackedEntities) > 0:
		return p.TrackedEntities
	case len(p.Events) > 0:
		return p.Events
	default:
		return p.Instances
	}
}

func (p trackerPage[T]) last(page int) bool {
	count := p.PageCount
	if p.Pager != nil {
		count = p.Pager.PageCount
	}
	return count == 0 || page >= count
}

func listAll[T any](ctx context.Context, c *Client, path string, q url.Values) ([]T, error) {
	var all []T
	q.Set("pageSize", strconv.Itoa(trackerPageSize))
	q.Set("totalPages", "true")
	for page := 1; ; page++ {
		q.Set("page", strconv.Itoa(page))
		var out trackerPage[T]
		if err := c.do(ctx, http.MethodGet, path, q, nil, &out); err != nil {
			return nil, err
		}
		items := out.items()
		all = append(all, items...)
		if len(items) < trackerPageSize || out.last(page) {
			return all, nil
		}
	}
}

// ListEntities lists the tracked entities of a program and org unit
// enrolled within the period, with enrollments and events.
func (c *Client) ListEntities(ctx context.Context, q services.EntityQuery) ([]records.TrackedEntity, error) {
	start, end, err := periodRange(q.Period)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"program":                  {q.Program},
		"orgUnit":                  {q.OrgUnit},
		"ouMode":                   {"SELECTED"},
		"enrollmentEnrolledAfter":  {start.Format(dateLayout)},
		"enrollmentEnrolledBefore": {end.Format(dateLayout)},
		"fields":                   {"trackedEntity,trackedEntityType,orgUnit,attributes,programOwners,enrollments[*,events[*]]"},
	}
	out, err := listAll[records.TrackedEntity](ctx, c, "/api/tracker/trackedEntities", params)
	if err != nil {
		return nil, errors.Wrapf(err, "tracked entities of %s %s", q.Program, q.OrgUnit)
	}
	return out, nil
}

// ListEvents lists the events of a program occurring within the period.
func (c *Client) ListEvents(ctx context.Context, q services.EventQuery) ([]records.Event, error) {
	start, end, err := periodRange(q.Period)
	if err != nil {
		return nil, err
	}
	mode := "SELECTED"
	if q.WideScope {
		mode = "DESCENDANTS"
	}
	params := url.Values{
		"program":        {q.Program},
		"orgUnit":        {q.OrgUnit},
		"ouMode":         {mode},
		"occurredAfter":  {start.Format(dateLayout)},
		"occurredBefore": {end.Format(dateLayout)},
		"fields":         {"*"},
	}
	out, err := listAll[records.Event](ctx, c, "/api/tracker/events", params)
	if err != nil {
		return nil, errors.Wrapf(err, "events of %s %s", q.Program, q.OrgUnit)
	}
	return out, nil
}

// ImportEntities posts tracked entities to the tracker importer. With
// async the platform only acknowledges the job and the result carries its
// id.
func (c *Client) ImportEntities(ctx context.Context, strategy services.Strategy, entities []records.TrackedEntity, async bool) (services.ImportResult, error) {
	body := struct {
		TrackedEntities []records.TrackedEntity `json:"trackedEntities"`
	}{TrackedEntities: entities}
	return c.importTracker(ctx, strategy, body, async)
}

func (c *Client) ImportEvents(ctx context.Context, strategy services.Strategy, events []records.Event, async bool) (services.ImportResult, error) {
	body := struct {
		Events []records.Event `json:"events"`
	}{Events: events}
	return c.importTracker(ctx, strategy, body, async)
}

func (c *Client) importTracker(ctx context.Context, strategy services.Strategy, body any, async bool) (services.ImportResult, error) {
	q := url.Values{
		"importStrategy": {importStrategy(strategy)},
		"async":          {strconv.FormatBool(async)},
		"reportMode":     {"ERRORS"},
	}
	var out trackerReport
	if err := c.do(ctx, http.MethodPost, "/api/tracker", q, body, &out); err != nil {
		return services.ImportResult{}, importError(err, decodeTracker)
	}
	return out.result(), nil
}
