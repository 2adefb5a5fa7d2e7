package app

import (
	"context"
	"fmt"
	"time"

	"github.com/visscan/api/internal/metrics"
	"github.com/visscan/api/pkg/domain/scan"
	"github.com/visscan/api/pkg/domain/shared"
	"github.com/visscan/api/pkg/logger"
)

// WebhookService ingests pipeline progress deliveries. The pipeline
// reports in multiple stages (build done, scan done, publish held) and
// may redeliver any of them, so every apply has to be idempotent.
type WebhookService struct {
	scanRepo scan.Repository
	logger   *logger.Logger
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(scanRepo scan.Repository, log *logger.Logger) *WebhookService {
	return &WebhookService{
		scanRepo: scanRepo,
		logger:   log.With("component", "webhook_service"),
	}
}

// DeliveryInput is one decoded webhook delivery.
type DeliveryInput struct {
	PipelineID   string
	Status       scan.Status
	VulnCritical *int
	VulnHigh     *int
	VulnMedium   *int
	VulnLow      *int
	Details      scan.Details
}

// Ingest applies one delivery to the record the pipeline id resolves
// to. Vulnerability counts overwrite, details merge, and a terminal
// status stamps completion. A delivery for an unknown pipeline returns
// not-found so the sender sees its retries rejected.
func (s *WebhookService) Ingest(ctx context.Context, in DeliveryInput) (*scan.Record, error) {
	rec, err := s.scanRepo.GetByPipelineID(ctx, in.PipelineID)
	if err != nil {
		if shared.IsNotFound(err) {
			metrics.WebhookDeliveriesTotal.WithLabelValues(metrics.ResultUnknown).Inc()
		}
		return nil, err
	}

	// A late delivery must not resurrect a finished record. A repeat
	// of the same terminal status still merges its details below.
	if rec.Status.IsTerminal() && in.Status != rec.Status {
		s.logger.Warn("ignoring late delivery for finished scan",
			"scan_id", rec.ID,
			"current_status", rec.Status,
			"delivered_status", in.Status,
		)
		metrics.WebhookDeliveriesTotal.WithLabelValues(metrics.ResultSkipped).Inc()
		return rec, nil
	}

	merged := rec.Details
	merged.Merge(in.Details)

	upd := scan.DeliveryUpdate{
		Status:       in.Status,
		VulnCritical: in.VulnCritical,
		VulnHigh:     in.VulnHigh,
		VulnMedium:   in.VulnMedium,
		VulnLow:      in.VulnLow,
		Details:      &merged,
	}
	if in.Status.IsTerminal() && rec.CompletedAt == nil {
		now := time.Now()
		upd.CompletedAt = &now
	}

	applied, err := s.scanRepo.ApplyDelivery(ctx, rec.ID, upd)
	if err != nil {
		return nil, fmt.Errorf("failed to apply delivery: %w", err)
	}
	if !applied {
		// The record went terminal between our read and the write.
		// The guard in the update kept it terminal; report whatever
		// state won the race.
		s.logger.Warn("delivery lost race with concurrent completion",
			"scan_id", rec.ID,
			"delivered_status", in.Status,
		)
		metrics.WebhookDeliveriesTotal.WithLabelValues(metrics.ResultSkipped).Inc()
		return s.scanRepo.GetByID(ctx, rec.ID)
	}

	rec.Status = in.Status
	rec.Details = merged
	if upd.CompletedAt != nil {
		rec.CompletedAt = upd.CompletedAt
	}
	applyCounts(rec, in)

	metrics.WebhookDeliveriesTotal.WithLabelValues(metrics.ResultApplied).Inc()
	if in.Status.IsTerminal() {
		metrics.ScanCompletionsTotal.WithLabelValues(string(in.Status), metrics.SourceWebhook).Inc()
		metrics.ScanDuration.WithLabelValues(string(rec.Kind)).Observe(time.Since(rec.CreatedAt).Seconds())
	}

	s.logger.Info("delivery applied",
		"scan_id", rec.ID,
		"pipeline_id", in.PipelineID,
		"status", in.Status,
		"findings", len(merged.Findings),
	)
	return rec, nil
}

func applyCounts(rec *scan.Record, in DeliveryInput) {
	if in.VulnCritical != nil {
		rec.VulnCritical = *in.VulnCritical
	}
	if in.VulnHigh != nil {
		rec.VulnHigh = *in.VulnHigh
	}
	if in.VulnMedium != nil {
		rec.VulnMedium = *in.VulnMedium
	}
	if in.VulnLow != nil {
		rec.VulnLow = *in.VulnLow
	}
}
