// Package importqueue hands tracker and event imports to the outbox and
// runs them against the platform when the relay delivers them.
package importqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/records"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/outbox"
)

const (
	TopicImportEntities = "approval.import.entities.v1"
	TopicImportEvents   = "approval.import.events.v1"
)

func topicFor(kind records.Kind) (string, error) {
	switch kind {
	case records.KindEntity:
		return TopicImportEntities, nil
	case records.KindEvent:
		return TopicImportEvents, nil
	default:
		return "", errors.Errorf("no import topic for %q records", kind)
	}
}

// KindOf labels queue metrics with the record kind a topic carries.
func KindOf(topic string) string {
	switch topic {
	case TopicImportEntities:
		return string(records.KindEntity)
	case TopicImportEvents:
		return string(records.KindEvent)
	default:
		return "unknown"
	}
}

// Queue implements services.ImportQueue on an outbox store. The job id is
// the outbox event id, so enqueueing a job twice keeps one row.
type Queue struct {
	store outbox.Store
	clock services.Clock
}

func New(store outbox.Store, clock services.Clock) *Queue {
	if clock == nil {
		clock = time.Now
	}
	return &Queue{store: store, clock: clock}
}

func (q *Queue) Enqueue(ctx context.Context, job services.ImportJob) (services.ImportJobHandle, error) {
	topic, err := topicFor(job.Kind)
	if err != nil {
		return services.ImportJobHandle{}, err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return services.ImportJobHandle{}, errors.Wrap(err, "marshal import job")
	}
	seq, err := q.store.Enqueue(ctx, outbox.Message{Topic: topic, EventID: job.ID, Payload: payload})
	if err != nil {
		return services.ImportJobHandle{}, errors.Wrapf(err, "enqueue import job %s", job.ID)
	}
	return services.ImportJobHandle{
		ID:         job.ID,
		Kind:       job.Kind,
		Item:       job.Item,
		Sequence:   seq,
		EnqueuedAt: q.clock(),
	}, nil
}

var _ services.ImportQueue = (*Queue)(nil)
