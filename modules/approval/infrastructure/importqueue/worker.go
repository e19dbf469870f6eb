package importqueue

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/composables"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/outbox"
	outboxbus "github.com/EyeSeeTea/data-approval-dev-sub000/pkg/outbox/dispatchers/eventbus"
)

// Worker runs delivered import jobs against the tracker store: it deletes
// the approved records in the job's scope, then imports the job's records.
// A returned error makes the relay retry the job later.
type Worker struct {
	tracker services.TrackerStore
	async   bool
	logger  *logrus.Logger
}

// NewWorker builds a worker. With async the platform acknowledges the
// import as a background job and the worker only checks the submission.
func NewWorker(tracker services.TrackerStore, async bool, logger *logrus.Logger) *Worker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{tracker: tracker, async: async, logger: logger}
}

func (w *Worker) Register(d *outboxbus.Dispatcher) {
	d.Subscribe(TopicImportEntities, w.Handle)
	d.Subscribe(TopicImportEvents, w.Handle)
}

func (w *Worker) Handle(ctx context.Context, meta *outbox.Meta, payload json.RawMessage) error {
	var job services.ImportJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return errors.Wrap(err, "decode import job")
	}
	log := w.logger.WithFields(logrus.Fields{
		"job_id":   job.ID.String(),
		"topic":    meta.Topic,
		"attempts": meta.Attempts,
		"module":   job.Item.Module,
		"org_unit": job.Item.OrgUnit,
		"period":   job.Item.Period,
		"program":  job.Program,
	})
	ctx = composables.WithLogger(ctx, log)

	// A rerun may have queued this job before an earlier one for the same
	// item landed; clearing the scope first keeps a single approved copy.
	cleared, err := services.ClearJobScope(ctx, w.tracker, job)
	if err != nil {
		log.WithError(err).Warn("import job scope not cleared")
		return errors.Wrapf(err, "import job %s", job.ID)
	}
	if cleared.Deleted > 0 {
		log.WithField("deleted", cleared.Deleted).Info("approved records replaced")
	}

	var res services.ImportResult
	switch meta.Topic {
	case TopicImportEntities:
		res, err = w.tracker.ImportEntities(ctx, job.Strategy, job.Entities, w.async)
	case TopicImportEvents:
		res, err = w.tracker.ImportEvents(ctx, job.Strategy, job.Events, w.async)
	default:
		return errors.Errorf("unexpected topic %q", meta.Topic)
	}
	if err != nil {
		log.WithError(err).Warn("import job failed")
		return errors.Wrapf(err, "import job %s", job.ID)
	}
	if len(res.Conflicts) > 0 || strings.EqualFold(res.Status, "ERROR") {
		log.WithField("conflicts", len(res.Conflicts)).Warn("import job rejected")
		return errors.Errorf("import job %s rejected: %s", job.ID, strings.Join(res.Conflicts, "; "))
	}

	log.WithFields(logrus.Fields{
		"imported":        res.Imported,
		"updated":         res.Updated,
		"platform_job_id": res.JobID,
	}).Info("import job done")
	return nil
}
