// Package records holds the typed source records read from and written to
// the platform.
package records

import (
	"strings"
	"time"
)

type Kind string

const (
	KindAggregate Kind = "aggregate"
	KindEntity    Kind = "tracked_entity"
	KindEvent     Kind = "event"
)

// Record is implemented by every source record variant.
type Record interface {
	Kind() Kind
}

// AggregateValue is one data value of an aggregate data set.
type AggregateValue struct {
	DataElement          string `json:"dataElement"`
	OrgUnit              string `json:"orgUnit"`
	Period               string `json:"period"`
	CategoryOptionCombo  string `json:"categoryOptionCombo,omitempty"`
	AttributeOptionCombo string `json:"attributeOptionCombo,omitempty"`
	Value                string `json:"value"`
	Comment              string `json:"comment,omitempty"`
	Deleted              bool   `json:"deleted,omitempty"`
	// Container the value was read from or is addressed to; carried on the
	// import request, not on each value.
	DataSet string `json:"-"`
}

func (AggregateValue) Kind() Kind { return KindAggregate }

// Tombstone reports whether the value asks for its approved counterpart to
// be deleted rather than written.
func (v AggregateValue) Tombstone() bool {
	return v.Deleted || strings.TrimSpace(v.Value) == ""
}

// ValueKey is the natural identity of an aggregate value.
type ValueKey struct {
	DataElement          string
	OrgUnit              string
	Period               string
	CategoryOptionCombo  string
	AttributeOptionCombo string
}

func (v AggregateValue) Key() ValueKey {
	return ValueKey{
		DataElement:          v.DataElement,
		OrgUnit:              v.OrgUnit,
		Period:               v.Period,
		CategoryOptionCombo:  v.CategoryOptionCombo,
		AttributeOptionCombo: v.AttributeOptionCombo,
	}
}

type Attribute struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

type DataValue struct {
	DataElement string `json:"dataElement"`
	Value       string `json:"value"`
}

type ProgramOwner struct {
	OrgUnit string `json:"orgUnit"`
	Program string `json:"program"`
}

// Event is a discrete program event; inside an enrollment or standalone.
type Event struct {
	ID            string      `json:"event,omitempty"`
	Program       string      `json:"program"`
	ProgramStage  string      `json:"programStage"`
	OrgUnit       string      `json:"orgUnit"`
	OccurredAt    string      `json:"occurredAt,omitempty"`
	Status        string      `json:"status,omitempty"`
	Enrollment    string      `json:"enrollment,omitempty"`
	TrackedEntity string      `json:"trackedEntity,omitempty"`
	DataValues    []DataValue `json:"dataValues,omitempty"`
}

func (Event) Kind() Kind { return KindEvent }

var occurredLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.000", "2006-01-02T15:04:05", "2006-01-02"}

// Year returns the occurrence year, or 0 when OccurredAt cannot be parsed.
func (e Event) Year() int {
	for _, layout := range occurredLayouts {
		if t, err := time.Parse(layout, e.OccurredAt); err == nil {
			return t.Year()
		}
	}
	return 0
}

type Enrollment struct {
	ID            string      `json:"enrollment,omitempty"`
	Program       string      `json:"program"`
	OrgUnit       string      `json:"orgUnit"`
	Status        string      `json:"status,omitempty"`
	EnrolledAt    string      `json:"enrolledAt,omitempty"`
	OccurredAt    string      `json:"occurredAt,omitempty"`
	TrackedEntity string      `json:"trackedEntity,omitempty"`
	Events        []Event     `json:"events"`
	Attributes    []Attribute `json:"attributes,omitempty"`
}

type TrackedEntity struct {
	ID                string         `json:"trackedEntity,omitempty"`
	TrackedEntityType string         `json:"trackedEntityType"`
	OrgUnit           string         `json:"orgUnit"`
	Enrollments       []Enrollment   `json:"enrollments"`
	Attributes        []Attribute    `json:"attributes,omitempty"`
	ProgramOwners     []ProgramOwner `json:"programOwners,omitempty"`
}

func (TrackedEntity) Kind() Kind { return KindEntity }

// FirstStage is the program stage of the first event of the first
// enrollment, the stage that decides eligibility for replication.
func (te TrackedEntity) FirstStage() (string, bool) {
	if len(te.Enrollments) == 0 || len(te.Enrollments[0].Events) == 0 {
		return "", false
	}
	return te.Enrollments[0].Events[0].ProgramStage, true
}
