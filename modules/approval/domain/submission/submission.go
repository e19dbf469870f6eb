// Package submission models the approval lifecycle of one
// (org unit, period, module) tuple.
package submission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/serrors"
)

type Status string

const (
	NotCompleted          Status = "NOT_COMPLETED"
	Complete              Status = "COMPLETE"
	PendingApproval       Status = "PENDING_APPROVAL"
	Rejected              Status = "REJECTED"
	Approved              Status = "APPROVED"
	PendingUpdateApproval Status = "PENDING_UPDATE_APPROVAL"
	UpdateRequestAccepted Status = "UPDATE_REQUEST_ACCEPTED"
)

var labels = map[Status]string{
	NotCompleted:          "Not Completed",
	Complete:              "Data to be approved by country",
	PendingApproval:       "Waiting WHO Approval",
	Rejected:              "Rejected by WHO",
	Approved:              "Approved",
	PendingUpdateApproval: "Update Request Received",
	UpdateRequestAccepted: "Update Request Accepted",
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := labels[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

func (s Status) Label() string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

// IsApproved reports whether data in this status has been copied to the
// approved schema.
func (s Status) IsApproved() bool {
	switch s {
	case Approved, PendingUpdateApproval, UpdateRequestAccepted:
		return true
	}
	return false
}

// Notifies reports whether entering this status notifies the module's users.
func (s Status) Notifies() bool {
	switch s {
	case Approved, Rejected, UpdateRequestAccepted:
		return true
	}
	return false
}

// RequiresUncomplete reports whether entering this status reopens the
// upstream registration.
func (s Status) RequiresUncomplete() bool {
	return s == Rejected || s == NotCompleted
}

var (
	ErrItemNotFound  = serrors.NewError("APPROVAL_ITEM_NOT_FOUND", "submission item not found", "Approval.Errors.ItemNotFound")
	ErrUnknownStatus = serrors.NewError("APPROVAL_UNKNOWN_STATUS", "unknown submission status", "Approval.Errors.UnknownStatus")
	ErrInvalidID     = serrors.NewError("APPROVAL_INVALID_ID", "invalid submission identifier", "Approval.Errors.InvalidID")
)

// Identifier addresses one unit of work.
type Identifier struct {
	OrgUnit string `json:"orgUnit" validate:"required"`
	Period  string `json:"period" validate:"required"`
	Module  string `json:"module" validate:"required"`
}

func (id Identifier) String() string {
	return id.Module + "/" + id.OrgUnit + "/" + id.Period
}

// ParseIdentifier is the inverse of Identifier.String.
func ParseIdentifier(s string) (Identifier, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return Identifier{Module: parts[0], OrgUnit: parts[1], Period: parts[2]}, nil
}

type HistoryEntry struct {
	ChangedAt time.Time `json:"changedAt"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
}

// Item is a submission item value. Transition returns a new Item and never
// writes to the receiver's history backing array.
type Item struct {
	Identifier
	Status                 Status         `json:"status"`
	StatusHistory          []HistoryEntry `json:"statusHistory"`
	QuestionnaireCompleted bool           `json:"questionnaireCompleted"`
	CreationDate           time.Time      `json:"creationDate"`
}

func New(id Identifier, now time.Time) Item {
	return Item{
		Identifier:   id,
		Status:       NotCompleted,
		CreationDate: now,
	}
}

// Transition moves the item to the requested status. Any transition is
// accepted; guarding is up to the caller.
func (it Item) Transition(to Status, now time.Time) Item {
	history := make([]HistoryEntry, len(it.StatusHistory), len(it.StatusHistory)+1)
	copy(history, it.StatusHistory)
	history = append(history, HistoryEntry{ChangedAt: now, From: it.Status, To: to})

	next := it
	next.Status = to
	next.StatusHistory = history
	return next
}

func (it Item) Reopen(now time.Time) Item {
	return it.Transition(NotCompleted, now)
}

func (it Item) WithQuestionnaireCompleted(completed bool) Item {
	next := it
	next.QuestionnaireCompleted = completed
	return next
}

func (it Item) SubmissionLabel() string {
	return it.Status.Label()
}

func (it Item) IsApproved() bool {
	return it.Status.IsApproved()
}

// Pristine reports whether the item still has its synthesized defaults and
// therefore need not exist in storage.
func (it Item) Pristine() bool {
	return it.Status == NotCompleted && len(it.StatusHistory) == 0 && !it.QuestionnaireCompleted
}

// Synthesize builds the default items for every org unit and period of a
// module, in org unit major order.
func Synthesize(module string, orgUnits, periods []string, now time.Time) []Item {
	out := make([]Item, 0, len(orgUnits)*len(periods))
	for _, ou := range orgUnits {
		for _, pe := range periods {
			out = append(out, New(Identifier{OrgUnit: ou, Period: pe, Module: module}, now))
		}
	}
	return out
}

// Merge overlays stored items onto synthesized defaults.
func Merge(defaults []Item, stored []Item) []Item {
	byID := make(map[Identifier]Item, len(stored))
	for _, it := range stored {
		byID[it.Identifier] = it
	}
	out := make([]Item, len(defaults))
	for i, d := range defaults {
		if s, ok := byID[d.Identifier]; ok {
			out[i] = s
			continue
		}
		out[i] = d
	}
	return out
}

type Repository interface {
	Get(ctx context.Context, id Identifier) (Item, error)
	List(ctx context.Context, module string) ([]Item, error)
	Save(ctx context.Context, item Item) error
}
