package app

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/visscan/api/internal/metrics"
	"github.com/visscan/api/pkg/domain/scan"
	"github.com/visscan/api/pkg/logger"
)

// maxConcurrentPolls bounds parallel pipeline status calls per sweep.
const maxConcurrentPolls = 8

// Reconciler sweeps RUNNING scans against the external pipeline API.
// It is the safety net for lost webhooks: a pipeline that finished
// without its delivery arriving is still moved to a terminal status on
// the next sweep.
type Reconciler struct {
	scanRepo scan.Repository
	ci       CIClient
	interval time.Duration
	logger   *logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewReconciler creates a new Reconciler.
func NewReconciler(scanRepo scan.Repository, ci CIClient, interval time.Duration, log *logger.Logger) *Reconciler {
	return &Reconciler{
		scanRepo: scanRepo,
		ci:       ci,
		interval: interval,
		logger:   log.With("component", "reconciler"),
		stopCh:   make(chan struct{}),
	}
}

// Start starts the background sweep loop.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.run()
	r.logger.Info("reconciler started", "interval", r.interval)
}

// Stop stops the loop and waits for an in-flight sweep to finish.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("reconciler stopped")
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.interval)
			r.Sweep(ctx)
			cancel()
		}
	}
}

// Sweep reconciles every RUNNING scan once. Exported so the admin CLI
// can force a sweep on demand.
func (r *Reconciler) Sweep(ctx context.Context) {
	metrics.ReconcilerRunsTotal.Inc()

	records, err := r.scanRepo.ListRunning(ctx)
	if err != nil {
		metrics.ReconcilerErrorsTotal.Inc()
		r.logger.Error("failed to list running scans", "error", err)
		return
	}

	// One poll failure must not abort the rest of the sweep, so each
	// goroutine swallows its own error after recording it.
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentPolls)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			if err := r.reconcileOne(ctx, rec); err != nil {
				metrics.ReconcilerErrorsTotal.Inc()
				r.logger.Error("failed to reconcile scan",
					"scan_id", rec.ID,
					"pipeline_id", rec.PipelineID,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Reconciler) reconcileOne(ctx context.Context, rec *scan.Record) error {
	external, err := r.ci.GetPipelineStatus(ctx, rec.PipelineID)
	if err != nil {
		return err
	}

	status, terminal := mapPipelineStatus(external)
	if !terminal {
		return nil
	}

	// The conditional update loses gracefully to a webhook that
	// finished the record first.
	applied, err := r.scanRepo.CompleteIfRunning(ctx, rec.ID, status, time.Now())
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	metrics.ScanCompletionsTotal.WithLabelValues(string(status), metrics.SourceReconciler).Inc()
	metrics.ScanDuration.WithLabelValues(string(rec.Kind)).Observe(time.Since(rec.CreatedAt).Seconds())
	r.logger.Info("scan completed by reconciler",
		"scan_id", rec.ID,
		"pipeline_id", rec.PipelineID,
		"pipeline_status", external,
		"status", status,
	)
	return nil
}

// mapPipelineStatus maps an external pipeline status onto the record
// lifecycle. Only terminal external states produce a transition; a
// pipeline still running, pending or blocked on a manual job is left
// for webhooks to narrate.
func mapPipelineStatus(external string) (scan.Status, bool) {
	switch external {
	case "success":
		return scan.StatusSuccess, true
	case "failed":
		return scan.StatusFailed, true
	case "canceled":
		return scan.StatusCancelled, true
	case "skipped":
		return scan.StatusFailed, true
	default:
		return "", false
	}
}
