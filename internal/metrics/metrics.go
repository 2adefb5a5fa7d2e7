package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scan lifecycle metrics
var (
	// ScanJobsEnqueuedTotal tracks jobs accepted onto the queue by lane
	ScanJobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_jobs_enqueued_total",
			Help: "Total number of scan jobs enqueued by lane",
		},
		[]string{"lane"},
	)

	// ScanDispatchTotal tracks dispatch outcomes
	ScanDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_dispatch_total",
			Help: "Total number of scan dispatch attempts by result",
		},
		[]string{"result"},
	)

	// ScanCompletionsTotal tracks terminal transitions by status and source
	ScanCompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_completions_total",
			Help: "Total number of scans reaching a terminal status",
		},
		[]string{"status", "source"},
	)

	// ScanDuration tracks end-to-end scan duration
	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scan_duration_seconds",
			Help:    "Scan duration from creation to completion in seconds",
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
		[]string{"kind"},
	)

	// WebhookDeliveriesTotal tracks webhook ingest outcomes
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_webhook_deliveries_total",
			Help: "Total number of webhook deliveries by result",
		},
		[]string{"result"},
	)

	// ReleaseGateTotal tracks manual release confirmations
	ReleaseGateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_release_gate_total",
			Help: "Total number of release gate confirmations by result",
		},
		[]string{"result"},
	)

	// ReconcilerRunsTotal tracks reconciler sweeps
	ReconcilerRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scan_reconciler_runs_total",
			Help: "Total number of reconciler sweeps",
		},
	)

	// ReconcilerErrorsTotal tracks reconciler poll failures
	ReconcilerErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scan_reconciler_errors_total",
			Help: "Total number of reconciler poll failures",
		},
	)
)

// Metric label values
const (
	ResultTriggered     = "triggered"
	ResultTriggerFailed = "trigger_failed"
	ResultSkipped       = "skipped"
	ResultApplied       = "applied"
	ResultUnknown       = "unknown_pipeline"
	ResultInvalid       = "invalid"
	ResultPlayed        = "played"
	ResultAlreadyPushed = "already_pushed"
	ResultNoManualJob   = "no_manual_job"

	SourceWebhook    = "webhook"
	SourceReconciler = "reconciler"
	SourceOperator   = "operator"
)
