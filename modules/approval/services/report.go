package services

import (
	"github.com/pkg/errors"
)

// ReplicationStats summarizes the imports of one (container, org unit,
// period, strategy) cell.
type ReplicationStats struct {
	ContainerID   string   `json:"containerId"`
	OrgUnitID     string   `json:"orgUnitId"`
	Period        string   `json:"period"`
	Strategy      Strategy `json:"strategy"`
	Imported      int      `json:"imported"`
	Updated       int      `json:"updated"`
	Deleted       int      `json:"deleted"`
	Ignored       int      `json:"ignored"`
	ErrorMessages []string `json:"errorMessages"`
}

func (s ReplicationStats) Failed() bool {
	return len(s.ErrorMessages) > 0
}

type cellKey struct {
	container, orgUnit, period string
	strategy                   Strategy
}

func (s ReplicationStats) cell() cellKey {
	return cellKey{container: s.ContainerID, orgUnit: s.OrgUnitID, period: s.Period, strategy: s.Strategy}
}

// ReplicationReport merges stats into one entry per cell, keeping the order
// in which cells were first added.
type ReplicationReport struct {
	order []cellKey
	cells map[cellKey]*ReplicationStats
}

func NewReplicationReport() *ReplicationReport {
	return &ReplicationReport{cells: map[cellKey]*ReplicationStats{}}
}

func (r *ReplicationReport) Add(stats ...ReplicationStats) {
	for _, s := range stats {
		k := s.cell()
		cur, ok := r.cells[k]
		if !ok {
			c := s
			c.ErrorMessages = append([]string(nil), s.ErrorMessages...)
			r.cells[k] = &c
			r.order = append(r.order, k)
			continue
		}
		cur.Imported += s.Imported
		cur.Updated += s.Updated
		cur.Deleted += s.Deleted
		cur.Ignored += s.Ignored
		cur.ErrorMessages = append(cur.ErrorMessages, s.ErrorMessages...)
	}
}

func (r *ReplicationReport) Stats() []ReplicationStats {
	out := make([]ReplicationStats, 0, len(r.order))
	for _, k := range r.order {
		s := *r.cells[k]
		if s.ErrorMessages == nil {
			s.ErrorMessages = []string{}
		}
		out = append(out, s)
	}
	return out
}

// Succeeded is the caller's success predicate: no stats carries errors.
func Succeeded(stats []ReplicationStats) bool {
	return len(Failures(stats)) == 0
}

func Failures(stats []ReplicationStats) []ReplicationStats {
	var out []ReplicationStats
	for _, s := range stats {
		if s.Failed() {
			out = append(out, s)
		}
	}
	return out
}

// statsFromResult converts an import summary. Conflicts count as errors:
// the affected values did not reach the approved schema.
func statsFromResult(cell ReplicationStats, res ImportResult) ReplicationStats {
	cell.Imported = res.Imported
	cell.Updated = res.Updated
	cell.Deleted = res.Deleted
	cell.Ignored = res.Ignored
	cell.ErrorMessages = append([]string(nil), res.Conflicts...)
	if len(cell.ErrorMessages) == 0 && res.Status == "ERROR" {
		cell.ErrorMessages = []string{"import finished with status ERROR"}
	}
	return cell
}

// statsFromError keeps the counts of a rejected request when the platform
// sent an import summary along with the error.
func statsFromError(cell ReplicationStats, err error) ReplicationStats {
	var importErr *ImportError
	if errors.As(err, &importErr) && importErr.Result != nil {
		cell = statsFromResult(cell, *importErr.Result)
	}
	cell.ErrorMessages = append(cell.ErrorMessages, err.Error())
	return cell
}
