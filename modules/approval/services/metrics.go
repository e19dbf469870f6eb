package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/records"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/submission"
)

var (
	replicationBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "approval",
		Subsystem: "replication",
		Name:      "batches_total",
		Help:      "Total number of replication batches broken down by record kind, strategy and result.",
	}, []string{"kind", "strategy", "result"})

	replicationRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "approval",
		Subsystem: "replication",
		Name:      "records_total",
		Help:      "Total number of records reported by import summaries broken down by counter.",
	}, []string{"kind", "counter"})

	mappingMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "approval",
		Subsystem: "replication",
		Name:      "mapping_misses_total",
		Help:      "Total number of draft elements or stages without approved counterpart.",
	}, []string{"kind"})

	importJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "approval",
		Subsystem: "replication",
		Name:      "import_jobs_total",
		Help:      "Total number of queued import jobs broken down by record kind and result.",
	}, []string{"kind", "result"})

	statusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "approval",
		Subsystem: "status",
		Name:      "transitions_total",
		Help:      "Total number of persisted submission transitions broken down by module and target status.",
	}, []string{"module", "to"})
)

func recordBatch(kind records.Kind, s ReplicationStats) {
	result := "success"
	if s.Failed() {
		result = "failure"
	}
	replicationBatches.WithLabelValues(string(kind), string(s.Strategy), result).Inc()
	replicationRecords.WithLabelValues(string(kind), "imported").Add(float64(s.Imported))
	replicationRecords.WithLabelValues(string(kind), "updated").Add(float64(s.Updated))
	replicationRecords.WithLabelValues(string(kind), "deleted").Add(float64(s.Deleted))
	replicationRecords.WithLabelValues(string(kind), "ignored").Add(float64(s.Ignored))
}

func recordImportJob(kind records.Kind, err error) {
	result := "enqueued"
	if err != nil {
		result = "failure"
	}
	importJobs.WithLabelValues(string(kind), result).Inc()
}

func recordTransition(module string, to submission.Status) {
	statusTransitions.WithLabelValues(module, string(to)).Inc()
}
