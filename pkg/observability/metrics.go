// Package observability provides Prometheus metrics and OpenTelemetry spans
// for duplicate checks, guarded creates and merges.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Entity label values.
const (
	EntityContact = "contact"
	EntityDeal    = "deal"
)

// Outcome label values for guarded creates and merges.
const (
	OutcomeCreated       = "created"
	OutcomeWarned        = "warned"
	OutcomeBlocked       = "blocked"
	OutcomeRaceConflict  = "race_conflict"
	OutcomeTagsStripped  = "tags_stripped"
	OutcomeFailed        = "failed"
	OutcomeMerged        = "merged"
	OutcomeSourceOrphans = "source_not_deleted"
	OutcomeRepointFailed = "repoint_failed"
)

// Metrics holds the Prometheus collectors for the CRM core. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	DuplicateChecksTotal *prometheus.CounterVec
	DuplicateSimilarity  *prometheus.HistogramVec
	GuardCreatesTotal    *prometheus.CounterVec
	MergesTotal          *prometheus.CounterVec
	StoreErrorsTotal     *prometheus.CounterVec
	OperationSeconds     *prometheus.HistogramVec
}

// NewMetrics creates and registers the CRM metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DuplicateChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penf_crm_duplicate_checks_total",
				Help: "Total duplicate checks by suggested action",
			},
			[]string{"entity", "action"},
		),
		DuplicateSimilarity: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "penf_crm_duplicate_similarity",
				Help:    "Similarity of the strongest match for checks that found one",
				Buckets: []float64{0.5, 0.7, 0.8, 0.85, 0.9, 0.95, 1.0},
			},
			[]string{"entity"},
		),
		GuardCreatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penf_crm_guard_creates_total",
				Help: "Guarded create attempts by outcome",
			},
			[]string{"entity", "outcome"},
		),
		MergesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penf_crm_merges_total",
				Help: "Merge attempts by outcome",
			},
			[]string{"entity", "outcome"},
		),
		StoreErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penf_crm_store_errors_total",
				Help: "Backing store errors by kind",
			},
			[]string{"kind"},
		),
		OperationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "penf_crm_operation_seconds",
				Help:    "Latency of core operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"operation"},
		),
	}
}

// RecordCheck records a duplicate check and, when a match was found, the
// strongest similarity.
func (m *Metrics) RecordCheck(entity, action string, matched bool, topSimilarity float64) {
	if m == nil {
		return
	}
	m.DuplicateChecksTotal.WithLabelValues(entity, action).Inc()
	if matched {
		m.DuplicateSimilarity.WithLabelValues(entity).Observe(topSimilarity)
	}
}

// RecordGuardCreate records the outcome of a guarded create.
func (m *Metrics) RecordGuardCreate(entity, outcome string) {
	if m == nil {
		return
	}
	m.GuardCreatesTotal.WithLabelValues(entity, outcome).Inc()
}

// RecordMerge records the outcome of a merge.
func (m *Metrics) RecordMerge(entity, outcome string) {
	if m == nil {
		return
	}
	m.MergesTotal.WithLabelValues(entity, outcome).Inc()
}

// RecordStoreError records a store failure of the given kind.
func (m *Metrics) RecordStoreError(kind string) {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveOperation records how long an operation took since start.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
