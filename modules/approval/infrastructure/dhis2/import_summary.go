package dhis2

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"
)

type importCount struct {
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
	Ignored  int `json:"ignored"`
	Deleted  int `json:"deleted"`
}

type conflict struct {
	Object string `json:"object"`
	Value  string `json:"value"`
}

type importSummary struct {
	Status      string      `json:"status"`
	Description string      `json:"description"`
	ImportCount importCount `json:"importCount"`
	Conflicts   []conflict  `json:"conflicts"`
}

// aggregateImportResponse covers both envelopes the platform uses for data
// value imports: the bare summary and the summary wrapped in "response".
type aggregateImportResponse struct {
	importSummary
	Response *importSummary `json:"response"`
}

func (r aggregateImportResponse) summary() importSummary {
	if r.Response != nil {
		return *r.Response
	}
	return r.importSummary
}

func (s importSummary) result() services.ImportResult {
	res := services.ImportResult{
		Status:   s.Status,
		Imported: s.ImportCount.Imported,
		Updated:  s.ImportCount.Updated,
		Deleted:  s.ImportCount.Deleted,
		Ignored:  s.ImportCount.Ignored,
	}
	for _, c := range s.Conflicts {
		if c.Object != "" {
			res.Conflicts = append(res.Conflicts, fmt.Sprintf("%s: %s", c.Object, c.Value))
			continue
		}
		res.Conflicts = append(res.Conflicts, c.Value)
	}
	return res
}

type trackerStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Ignored int `json:"ignored"`
}

type trackerReport struct {
	Status           string       `json:"status"`
	Stats            trackerStats `json:"stats"`
	ValidationReport struct {
		ErrorReports []struct {
			Message string `json:"message"`
			UID     string `json:"uid"`
		} `json:"errorReports"`
	} `json:"validationReport"`
	// Set on asynchronous imports.
	Response *struct {
		ID string `json:"id"`
	} `json:"response"`
}

func (r trackerReport) result() services.ImportResult {
	res := services.ImportResult{
		Status:   r.Status,
		Imported: r.Stats.Created,
		Updated:  r.Stats.Updated,
		Deleted:  r.Stats.Deleted,
		Ignored:  r.Stats.Ignored,
	}
	for _, e := range r.ValidationReport.ErrorReports {
		msg := e.Message
		if e.UID != "" {
			msg = e.UID + ": " + msg
		}
		res.Conflicts = append(res.Conflicts, msg)
	}
	if r.Response != nil && r.Response.ID != "" {
		res.JobID = r.Response.ID
		if res.Status == "" || strings.EqualFold(res.Status, "OK") {
			res.Status = "QUEUED"
		}
	}
	return res
}

// importError turns a rejected import into a services.ImportError, keeping
// the decoded summary when the body carries one.
func importError(err error, decode func([]byte) (services.ImportResult, bool)) error {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return err
	}
	out := &services.ImportError{HTTPStatus: httpErr.Status, Message: httpErr.message()}
	if res, ok := decode(httpErr.Body); ok {
		out.Result = &res
	}
	return out
}

func decodeAggregate(body []byte) (services.ImportResult, bool) {
	var r aggregateImportResponse
	if json.Unmarshal(body, &r) != nil {
		return services.ImportResult{}, false
	}
	s := r.summary()
	if s.Status == "" && len(s.Conflicts) == 0 {
		return services.ImportResult{}, false
	}
	return s.result(), true
}

func decodeTracker(body []byte) (services.ImportResult, bool) {
	var r trackerReport
	if json.Unmarshal(body, &r) != nil || r.Status == "" {
		return services.ImportResult{}, false
	}
	return r.result(), true
}
