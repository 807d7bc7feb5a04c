package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "review_service"

type Metrics struct {
	AssignmentsCreated   prometheus.Counter
	EnsureOutcomes       *prometheus.CounterVec
	Reshuffles           *prometheus.CounterVec
	StoreRetries         prometheus.Counter
	NotificationFailures prometheus.Counter

	ConsensusOutcomes *prometheus.CounterVec
	ConsensusSpread   prometheus.Histogram
	VotesCast         prometheus.Counter

	ReliabilityRecomputes prometheus.Counter
	ShadowDelta           *prometheus.HistogramVec

	LedgerAppends        *prometheus.CounterVec
	AuditRuns            *prometheus.CounterVec
	AuditInconsistencies prometheus.Gauge
	AuditFixes           prometheus.Counter

	SweepMissed   prometheus.Counter
	QueueMessages *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		AssignmentsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_created_total",
			Help:      "review assignments created by the assignment engine",
		}),
		EnsureOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ensure_assignments_total",
			Help:      "ensure-assignments calls by outcome status",
		}, []string{"status"}),
		Reshuffles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reshuffles_total",
			Help:      "reshuffle attempts by reason code",
		}, []string{"reason", "dry_run"}),
		StoreRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "store calls retried after a transient connection error",
		}),
		NotificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "review-assigned notifications that could not be published",
		}),
		ConsensusOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consensus_outcomes_total",
			Help:      "consensus runs by outcome status",
		}, []string{"status"}),
		ConsensusSpread: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consensus_spread_points",
			Help:      "max minus min peer score per consensus run",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		VotesCast: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judgment_votes_total",
			Help:      "judgment votes accepted for disputed submissions",
		}),
		ReliabilityRecomputes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reliability_recomputes_total",
			Help:      "reviewer reliability recomputations",
		}),
		ShadowDelta: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reliability_shadow_delta",
			Help:      "shadow formula score minus active formula score",
			Buckets:   prometheus.LinearBuckets(-0.5, 0.1, 11),
		}, []string{"formula"}),
		LedgerAppends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_transactions_total",
			Help:      "ledger transactions appended by type",
		}, []string{"type"}),
		AuditRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_audit_runs_total",
			Help:      "ledger audit runs by mode",
		}, []string{"mode"}),
		AuditInconsistencies: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_audit_inconsistencies",
			Help:      "inconsistent accounts found by the last audit run",
		}),
		AuditFixes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_audit_fixes_total",
			Help:      "corrective transactions applied by the auditor",
		}),
		SweepMissed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_missed_total",
			Help:      "assignments marked missed by the deadline sweep",
		}),
		QueueMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_total",
			Help:      "review.completed messages by processing result",
		}, []string{"result"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "operator API requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "operator API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}
