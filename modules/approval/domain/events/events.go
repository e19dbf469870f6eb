package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/submission"
)

const TopicStatusChangedV1 = "approval.status.changed.v1"

// StatusChangedV1 is published after a submission item transition has been
// persisted.
type StatusChangedV1 struct {
	EventID    uuid.UUID             `json:"eventId"`
	Item       submission.Identifier `json:"item"`
	From       submission.Status     `json:"from"`
	To         submission.Status     `json:"to"`
	Action     string                `json:"action"`
	OccurredAt time.Time             `json:"occurredAt"`
	RequestID  string                `json:"requestId,omitempty"`
}

func NewStatusChanged(item submission.Identifier, from, to submission.Status, action string, at time.Time) StatusChangedV1 {
	return StatusChangedV1{
		EventID:    uuid.New(),
		Item:       item,
		From:       from,
		To:         to,
		Action:     action,
		OccurredAt: at,
	}
}

func (StatusChangedV1) Topic() string {
	return TopicStatusChangedV1
}
