package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the sync engine.
type Metrics struct {
	// --- Ingestion ---
	IngestAccepted   *prometheus.CounterVec
	IngestDuplicates *prometheus.CounterVec
	IngestParseFail  *prometheus.CounterVec
	IngestBatchDur   prometheus.Histogram
	IngestBatchSize  prometheus.Histogram
	IngestErrors     *prometheus.CounterVec
	IngestRetries    prometheus.Counter

	// --- Projection ---
	ProjectionsApplied    *prometheus.CounterVec
	ProjectionsRejected   *prometheus.CounterVec
	ProjectionDuration    *prometheus.HistogramVec
	ProjectionRetries     prometheus.Counter
	IdempotencyDuplicates *prometheus.CounterVec
	OutOfOrderEvents      *prometheus.CounterVec
	UnresolvedMarketRefs  prometheus.Counter
	InvariantViolations   prometheus.Counter
	QuarantinedEvents     *prometheus.CounterVec

	// --- Settlement ---
	MarketsResolved  prometheus.Counter
	BetsReclassified prometheus.Counter
	ClaimsApplied    *prometheus.CounterVec
	ClaimsSkipped    prometheus.Counter

	// --- Cursor & repair ---
	CursorBlock      *prometheus.GaugeVec
	RepairRuns       *prometheus.CounterVec
	OddsBackfilled   prometheus.Counter
	OrphanBetsLinked prometheus.Counter

	// --- Stats snapshots ---
	StatsSnapshots prometheus.Counter
}

// NewMetrics creates and registers all collectors on the default
// registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers the collectors on a caller-supplied
// registry. Tests use this to avoid duplicate registration.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	auto := promauto.With(reg)
	projectionBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
	}

	return &Metrics{
		IngestAccepted: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "mktsync_ingest_accepted_total",
			Help: "Raw events durably appended to the fact tables",
		}, []string{"event_type"}),

		IngestDuplicates: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "mktsync_ingest_duplicates_total",
			Help: "Redelivered raw events absorbed by the unique constraint",
		}, []string{"event_type"}),

		IngestParseFail: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "mktsync_ingest_parse_failures_total",
			Help: "Messages that failed payload parsing",
		}, []string{"subject"}),

		IngestBatchDur: auto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mktsync_ingest_batch_duration_seconds",
			Help:    "Raw event batch write duration",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		IngestBatchSize: auto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mktsync_ingest_batch_size",
			Help:    "Raw events per batch write",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		IngestErrors: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "mktsync_ingest_errors_total",
			Help: "Raw event write errors",
		}, []string{"error_type"}),

		IngestRetries: auto.NewCounter(prometheus.CounterOpts{
			Name: "mktsync_ingest_retries_total",
			Help: "Raw event batch write retries",
		}),

		ProjectionsApplied: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "mktsync_projections_applied_total",
			Help: "Events successfully projected to canonical state",
		}, []string{"event_type"}),

		ProjectionsRejected: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "mktsync_projections_rejected_total",
			Help: "Events not applied (duplicate, unresolved, invariant, malformed)",
		}, []string{"event_type", "reason"}),

		ProjectionDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mktsync_projection_duration_seconds",
			Help:    "Single-event projection transaction duration",
			Buckets: projectionBuckets,
		}, []string{"event_type"}),

		ProjectionRetries: auto.NewCounter(prometheus.CounterOpts{
			Name: "mktsync_projection_retries_total",
			Help: "Projections retried after lock conflicts",
		}),

		IdempotencyDuplicates: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "mktsync_idempotency_duplicates_total",
			Help: "Duplicates caught before projection (lru/postgres)",
		}, []string{"event_type", "tier"}),

		OutOfOrderEvents: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "mktsync_out_of_order_events_total",
			Help: "Events observed below their partition's high-water block",
		}, []string{"event_type"}),

		UnresolvedMarketRefs: auto.NewCounter(prometheus.CounterOpts{
			Name: "mktsync_unresolved_market_refs_total",
			Help: "Bets or claims that arrived before their market",
		}),

		InvariantViolations: auto.NewCounter(prometheus.CounterOpts{
			Name: "mktsync_invariant_violations_total",
			Help: "Aggregate updates rejected for breaking a pool invariant",
		}),

		QuarantinedEvents: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "mktsync_quarantined_events_total",
			Help: "Raw events flagged unprocessable",
		}, []string{"event_type"}),

		MarketsResolved: auto.NewCounter(prometheus.CounterOpts{
			Name: "mktsync_markets_resolved_total",
			Help: "Markets transitioned to resolved",
		}),

		BetsReclassified: auto.NewCounter(prometheus.CounterOpts{
			Name: "mktsync_bets_reclassified_total",
			Help: "Bets moved to won/lost by resolutions",
		}),

		ClaimsApplied: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "mktsync_claims_applied_total",
			Help: "Bets settled by claim events",
		}, []string{"mode"}),

		ClaimsSkipped: auto.NewCounter(prometheus.CounterOpts{
			Name: "mktsync_claims_skipped_total",
			Help: "Claim events with no eligible bets (redelivery or lost bets)",
		}),

		CursorBlock: auto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mktsync_cursor_block",
			Help: "Last processed block per watched contract",
		}, []string{"contract"}),

		RepairRuns: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "mktsync_repair_runs_total",
			Help: "Repair sweep executions",
		}, []string{"kind"}),

		OddsBackfilled: auto.NewCounter(prometheus.CounterOpts{
			Name: "mktsync_odds_backfilled_total",
			Help: "Bets whose odds were rewritten by the backfill repair",
		}),

		OrphanBetsLinked: auto.NewCounter(prometheus.CounterOpts{
			Name: "mktsync_orphan_bets_linked_total",
			Help: "Orphan bets correlated to a late-arriving market",
		}),

		StatsSnapshots: auto.NewCounter(prometheus.CounterOpts{
			Name: "mktsync_stats_snapshots_total",
			Help: "Platform stats snapshots captured",
		}),
	}
}
