package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/catalog"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/records"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/schema"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/submission"
)

type Strategy string

const (
	StrategySave   Strategy = "SAVE"
	StrategyDelete Strategy = "DELETE"
)

// ImportResult is the platform's import summary for one request.
type ImportResult struct {
	Status    string   `json:"status"`
	Imported  int      `json:"imported"`
	Updated   int      `json:"updated"`
	Deleted   int      `json:"deleted"`
	Ignored   int      `json:"ignored"`
	Conflicts []string `json:"conflicts,omitempty"`
	// Set when the platform accepted the request as a background job.
	JobID string `json:"jobId,omitempty"`
}

type MetadataQuery interface {
	GetElements(ctx context.Context, dataSetID string) ([]schema.NamedElement, error)
	GetStages(ctx context.Context, programID string) ([]schema.NamedElement, error)
}

type AggregateValueStore interface {
	GetValues(ctx context.Context, dataSetID, orgUnit, period string) ([]records.AggregateValue, error)
	PostValues(ctx context.Context, strategy Strategy, dataSetID string, values []records.AggregateValue) (ImportResult, error)
}

type EntityQuery struct {
	Program string
	OrgUnit string
	Period  string
}

type EventQuery struct {
	Program string
	OrgUnit string
	Period  string
	// Include events of descendant org units.
	WideScope bool
}

type TrackerStore interface {
	ListEntities(ctx context.Context, q EntityQuery) ([]records.TrackedEntity, error)
	ImportEntities(ctx context.Context, strategy Strategy, entities []records.TrackedEntity, async bool) (ImportResult, error)
	ListEvents(ctx context.Context, q EventQuery) ([]records.Event, error)
	ImportEvents(ctx context.Context, strategy Strategy, events []records.Event, async bool) (ImportResult, error)
}

type Notification struct {
	Subject    string
	Body       string
	UserGroups []string
	Users      []string
}

type NotificationSink interface {
	Send(ctx context.Context, n Notification) error
}

// SettingsLookup resolves the element that receives the approval timestamp
// in an approved data set.
type SettingsLookup interface {
	ApprovalTimestampElement(ctx context.Context, approvedDataSetID string) (string, error)
}

type RegistrationClient interface {
	Uncomplete(ctx context.Context, dataSetID, orgUnit, period string) error
}

// RecipientDirectory lists the users to notify about an item of module.
type RecipientDirectory interface {
	Recipients(ctx context.Context, module catalog.Module, orgUnit string) ([]string, error)
}

// ImportJob is a create/update import handed to the queue. Delivery is at
// least once; the approved schema is not updated when Enqueue returns.
type ImportJob struct {
	ID       uuid.UUID             `json:"id"`
	Kind     records.Kind          `json:"kind"`
	Strategy Strategy              `json:"strategy"`
	Program  string                `json:"program"`
	Item     submission.Identifier `json:"item"`
	// Approved stages (tracker) or org unit scope (events) whose records the
	// job replaces; see ClearJobScope.
	Stages    []string                `json:"stages,omitempty"`
	WideScope bool                    `json:"wideScope,omitempty"`
	Entities  []records.TrackedEntity `json:"entities,omitempty"`
	Events    []records.Event         `json:"events,omitempty"`
}

type ImportJobHandle struct {
	ID         uuid.UUID             `json:"id"`
	Kind       records.Kind          `json:"kind"`
	Item       submission.Identifier `json:"item"`
	Sequence   int64                 `json:"sequence"`
	EnqueuedAt time.Time             `json:"enqueuedAt"`
}

type ImportQueue interface {
	Enqueue(ctx context.Context, job ImportJob) (ImportJobHandle, error)
}

type Clock func() time.Time
