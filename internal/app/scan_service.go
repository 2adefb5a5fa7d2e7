// Package app contains the application services: scan orchestration,
// project management, webhook ingest and status reconciliation.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/visscan/api/internal/infra/gitlab"
	"github.com/visscan/api/internal/infra/jobs"
	"github.com/visscan/api/internal/metrics"
	"github.com/visscan/api/pkg/crypto"
	"github.com/visscan/api/pkg/domain/project"
	"github.com/visscan/api/pkg/domain/scan"
	"github.com/visscan/api/pkg/domain/shared"
	"github.com/visscan/api/pkg/logger"
)

// CIClient is the outbound pipeline API surface the services need.
type CIClient interface {
	Trigger(ctx context.Context, in gitlab.TriggerInput) (string, error)
	GetPipelineStatus(ctx context.Context, pipelineID string) (string, error)
	Cancel(ctx context.Context, pipelineID string) error
	ListJobs(ctx context.Context, pipelineID string) ([]gitlab.Job, error)
	PlayJob(ctx context.Context, jobID int64) (string, error)
}

// JobEnqueuer publishes scan jobs onto the durable queue.
type JobEnqueuer interface {
	EnqueueScanDispatch(ctx context.Context, payload jobs.ScanDispatchPayload) error
}

// ScanService orchestrates the scan lifecycle: submission, dispatch,
// cancellation and the manual release gate.
type ScanService struct {
	scanRepo       scan.Repository
	projectRepo    project.Repository
	ci             CIClient
	queue          JobEnqueuer
	encryptor      crypto.Encryptor
	publishJobName string
	logger         *logger.Logger
}

// NewScanService creates a new ScanService.
func NewScanService(
	scanRepo scan.Repository,
	projectRepo project.Repository,
	ci CIClient,
	queue JobEnqueuer,
	encryptor crypto.Encryptor,
	publishJobName string,
	log *logger.Logger,
) *ScanService {
	return &ScanService{
		scanRepo:       scanRepo,
		projectRepo:    projectRepo,
		ci:             ci,
		queue:          queue,
		encryptor:      encryptor,
		publishJobName: publishJobName,
		logger:         log.With("component", "scan_service"),
	}
}

// StartScanInput is a request to queue a scan for an existing target.
type StartScanInput struct {
	ServiceID shared.ID
	Kind      scan.Kind
	ImageTag  string
	// Priority 1-10, lower first within the lane. Zero selects the
	// default.
	Priority int
}

// Start accepts a scan submission: it persists a pending record, then
// queues the job. The record exists before the job so a crash between
// the two leaves a visible PENDING row rather than a job pointing at
// nothing.
func (s *ScanService) Start(ctx context.Context, in StartScanInput) (*scan.Record, error) {
	if in.Priority == 0 {
		in.Priority = jobs.DefaultPriority
	}
	if in.Priority < jobs.MinPriority || in.Priority > jobs.MaxPriority {
		return nil, shared.NewDomainError("VALIDATION",
			fmt.Sprintf("priority must be between %d and %d", jobs.MinPriority, jobs.MaxPriority),
			shared.ErrValidation)
	}

	// The target must exist before anything is queued.
	if _, err := s.projectRepo.GetService(ctx, in.ServiceID); err != nil {
		return nil, err
	}

	rec, err := scan.NewRecord(in.ServiceID, in.Kind, in.ImageTag)
	if err != nil {
		return nil, err
	}

	if err := s.scanRepo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create scan record: %w", err)
	}

	payload := jobs.ScanDispatchPayload{
		ScanID:    rec.ID.String(),
		ServiceID: in.ServiceID.String(),
		Kind:      string(in.Kind),
		Priority:  in.Priority,
		QueuedAt:  time.Now(),
	}
	if err := s.queue.EnqueueScanDispatch(ctx, payload); err != nil {
		// The record stays visible with the failure on it instead of
		// sitting in PENDING forever.
		if markErr := s.scanRepo.MarkTriggerFailed(ctx, rec.ID, "failed to queue scan job"); markErr != nil {
			s.logger.Error("failed to mark queue failure", "scan_id", rec.ID, "error", markErr)
		}
		return nil, fmt.Errorf("failed to enqueue scan job: %w", err)
	}

	if applied, err := s.scanRepo.ApplyDelivery(ctx, rec.ID, scan.DeliveryUpdate{Status: scan.StatusQueued}); err != nil {
		s.logger.Error("failed to mark scan queued", "scan_id", rec.ID, "error", err)
	} else if applied {
		rec.Status = scan.StatusQueued
	}

	metrics.ScanJobsEnqueuedTotal.WithLabelValues(jobs.Lane(in.Kind)).Inc()
	s.logger.Info("scan queued",
		"scan_id", rec.ID,
		"service_id", in.ServiceID,
		"kind", in.Kind,
		"priority", in.Priority,
	)
	return rec, nil
}

// Get retrieves a scan record.
func (s *ScanService) Get(ctx context.Context, id shared.ID) (*scan.Record, error) {
	return s.scanRepo.GetByID(ctx, id)
}

// GetByPipelineID retrieves a scan record by its external pipeline id.
// Callers may reference a scan either way.
func (s *ScanService) GetByPipelineID(ctx context.Context, pipelineID string) (*scan.Record, error) {
	return s.scanRepo.GetByPipelineID(ctx, pipelineID)
}

// List lists scan records matching the filter.
func (s *ScanService) List(ctx context.Context, filter scan.Filter) ([]*scan.Record, error) {
	return s.scanRepo.List(ctx, filter)
}

// ListActive lists the owner's scans that have not reached a terminal
// status.
func (s *ScanService) ListActive(ctx context.Context, ownerID shared.ID) ([]*scan.Record, error) {
	all, err := s.scanRepo.List(ctx, scan.Filter{OwnerID: &ownerID})
	if err != nil {
		return nil, err
	}

	active := make([]*scan.Record, 0, len(all))
	for _, rec := range all {
		if !rec.Status.IsTerminal() {
			active = append(active, rec)
		}
	}
	return active, nil
}

// ScanComparison is the diff between the two most recent completed
// scans of one target: the current run, the run before it, and the
// findings that appeared or disappeared in between.
type ScanComparison struct {
	Current  *scan.Record
	Previous *scan.Record
	Diff     scan.FindingsDiff
}

// Compare diffs the two most recent completed scans of a service.
// Completed means the pipeline finished with a verdict (SUCCESS or
// BLOCKED); failed and cancelled runs carry no comparable findings
// and are skipped.
func (s *ScanService) Compare(ctx context.Context, serviceID shared.ID) (*ScanComparison, error) {
	records, err := s.scanRepo.List(ctx, scan.Filter{ServiceID: &serviceID})
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}

	completed := make([]*scan.Record, 0, 2)
	for _, rec := range records {
		if rec.Status == scan.StatusSuccess || rec.Status == scan.StatusBlocked {
			completed = append(completed, rec)
			if len(completed) == 2 {
				break
			}
		}
	}
	if len(completed) < 2 {
		return nil, shared.NewDomainError("VALIDATION",
			"not enough completed scans to compare", shared.ErrValidation)
	}

	current, previous := completed[0], completed[1]
	return &ScanComparison{
		Current:  current,
		Previous: previous,
		Diff:     scan.DiffFindings(current.Details, previous.Details),
	}, nil
}

// Cancel cancels a scan that has not finished. The external pipeline
// cancel is best effort: the record is marked CANCELLED even when the
// CI side cannot be reached, and the reconciler ignores cancelled rows
// from then on.
func (s *ScanService) Cancel(ctx context.Context, id shared.ID, reason string) error {
	rec, err := s.scanRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if !rec.Status.IsCancellable() {
		return shared.NewDomainError("VALIDATION",
			fmt.Sprintf("scan in status %s cannot be cancelled", rec.Status),
			shared.ErrValidation)
	}

	if rec.HasRealPipelineID() {
		if err := s.ci.Cancel(ctx, rec.PipelineID); err != nil {
			s.logger.Warn("pipeline cancel failed, record cancelled anyway",
				"scan_id", id,
				"pipeline_id", rec.PipelineID,
				"error", err,
			)
		}
	}

	if reason == "" {
		reason = "cancelled by user"
	}
	if err := s.scanRepo.Cancel(ctx, id, reason); err != nil {
		return fmt.Errorf("failed to cancel scan: %w", err)
	}

	s.logger.Info("scan cancelled", "scan_id", id, "reason", reason)
	return nil
}

// ForceCancel marks a scan CANCELLED regardless of its current status.
// Operator escape hatch for records stuck by a lost webhook and an
// unreachable pipeline.
func (s *ScanService) ForceCancel(ctx context.Context, id shared.ID, reason string) error {
	rec, err := s.scanRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if rec.HasRealPipelineID() {
		if err := s.ci.Cancel(ctx, rec.PipelineID); err != nil {
			s.logger.Warn("pipeline cancel failed during force-cancel",
				"scan_id", id,
				"error", err,
			)
		}
	}

	if reason == "" {
		reason = "force-cancelled by operator"
	}
	if err := s.scanRepo.Cancel(ctx, id, reason); err != nil {
		return fmt.Errorf("failed to force-cancel scan: %w", err)
	}

	s.logger.Info("scan force-cancelled", "scan_id", id, "reason", reason)
	return nil
}

// Delete removes a scan record regardless of its status. A record
// still in flight gets a best-effort pipeline cancel first so the
// runner does not keep working for a row that no longer exists.
// Deleting a record that is already gone succeeds.
func (s *ScanService) Delete(ctx context.Context, id shared.ID) error {
	rec, err := s.scanRepo.GetByID(ctx, id)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil
		}
		return err
	}

	if !rec.Status.IsTerminal() && rec.HasRealPipelineID() {
		if err := s.ci.Cancel(ctx, rec.PipelineID); err != nil {
			s.logger.Warn("pipeline cancel failed during delete",
				"scan_id", id,
				"pipeline_id", rec.PipelineID,
				"error", err,
			)
		}
	}

	if err := s.scanRepo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("scan deleted", "scan_id", id, "status", rec.Status)
	return nil
}

// ConfirmRelease plays the held publish job of a scan waiting on the
// release gate. Safe to call repeatedly: once the image is recorded as
// pushed, further calls return without touching the pipeline.
func (s *ScanService) ConfirmRelease(ctx context.Context, id shared.ID) (*scan.Record, error) {
	rec, err := s.scanRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if rec.ImagePushed {
		metrics.ReleaseGateTotal.WithLabelValues(metrics.ResultAlreadyPushed).Inc()
		s.logger.Info("release already confirmed", "scan_id", id)
		return rec, nil
	}

	if !rec.HasRealPipelineID() {
		return nil, shared.NewDomainError("VALIDATION",
			"scan has no pipeline to release", shared.ErrValidation)
	}

	pipelineJobs, err := s.ci.ListJobs(ctx, rec.PipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipeline jobs: %w", err)
	}

	var publishJob *gitlab.Job
	for i := range pipelineJobs {
		j := &pipelineJobs[i]
		if j.Name != s.publishJobName {
			continue
		}
		switch j.Status {
		case "manual", "created", "skipped", "success":
			publishJob = j
		}
		if publishJob != nil {
			break
		}
	}
	if publishJob == nil {
		metrics.ReleaseGateTotal.WithLabelValues(metrics.ResultNoManualJob).Inc()
		return nil, shared.NewDomainError("NO_MANUAL_JOB",
			fmt.Sprintf("no releasable %s job in pipeline %s", s.publishJobName, rec.PipelineID),
			shared.ErrNoManualJob)
	}

	// An already-successful publish job means the push happened and
	// only our flag is stale.
	if publishJob.Status != "success" {
		if _, err := s.ci.PlayJob(ctx, publishJob.ID); err != nil {
			return nil, fmt.Errorf("failed to play publish job: %w", err)
		}
	}

	if err := s.scanRepo.SetImagePushed(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to record image push: %w", err)
	}
	rec.ImagePushed = true

	if rec.Status == scan.StatusWaitingConfirmation {
		now := time.Now()
		upd := scan.DeliveryUpdate{Status: scan.StatusSuccess, CompletedAt: &now}
		if applied, err := s.scanRepo.ApplyDelivery(ctx, id, upd); err != nil {
			s.logger.Error("failed to finalize released scan", "scan_id", id, "error", err)
		} else if applied {
			rec.Status = scan.StatusSuccess
			rec.CompletedAt = &now
		}
	}

	metrics.ReleaseGateTotal.WithLabelValues(metrics.ResultPlayed).Inc()
	s.logger.Info("release confirmed",
		"scan_id", id,
		"pipeline_id", rec.PipelineID,
		"job_id", publishJob.ID,
	)
	return rec, nil
}

// DispatchScan triggers the external pipeline for a queued job. It is
// the queue handler body and must tolerate redelivery: a record that
// already reached a terminal status, or that already carries a real
// pipeline id, is acknowledged without a second trigger.
func (s *ScanService) DispatchScan(ctx context.Context, scanID shared.ID) error {
	rec, err := s.scanRepo.GetByID(ctx, scanID)
	if err != nil {
		if shared.IsNotFound(err) {
			s.logger.Warn("dropping job for deleted scan", "scan_id", scanID)
			metrics.ScanDispatchTotal.WithLabelValues(metrics.ResultSkipped).Inc()
			return nil
		}
		return fmt.Errorf("failed to load scan record: %w", err)
	}

	if rec.Status.IsTerminal() || rec.HasRealPipelineID() {
		s.logger.Info("skipping redelivered job",
			"scan_id", scanID,
			"status", rec.Status,
			"pipeline_id", rec.PipelineID,
		)
		metrics.ScanDispatchTotal.WithLabelValues(metrics.ResultSkipped).Inc()
		return nil
	}

	swg, err := s.projectRepo.GetService(ctx, rec.ServiceID)
	if err != nil {
		if shared.IsNotFound(err) {
			// Target deleted while the job sat in the queue.
			if markErr := s.scanRepo.MarkTriggerFailed(ctx, scanID, "scan target no longer exists"); markErr != nil {
				return fmt.Errorf("failed to mark orphaned scan: %w", markErr)
			}
			metrics.ScanDispatchTotal.WithLabelValues(metrics.ResultTriggerFailed).Inc()
			return nil
		}
		return fmt.Errorf("failed to load scan target: %w", err)
	}

	input, err := s.buildTriggerInput(rec, swg)
	if err != nil {
		if markErr := s.scanRepo.MarkTriggerFailed(ctx, scanID, err.Error()); markErr != nil {
			return fmt.Errorf("failed to mark credential failure: %w", markErr)
		}
		metrics.ScanDispatchTotal.WithLabelValues(metrics.ResultTriggerFailed).Inc()
		return nil
	}

	if err := s.scanRepo.MarkRunning(ctx, scanID); err != nil {
		return fmt.Errorf("failed to mark scan running: %w", err)
	}

	pipelineID, err := s.ci.Trigger(ctx, input)
	if err != nil {
		// Terminal for this record. The job is acknowledged; retrying
		// would re-trigger with the same doomed inputs.
		s.logger.Error("pipeline trigger failed", "scan_id", scanID, "error", err)
		if markErr := s.scanRepo.MarkTriggerFailed(ctx, scanID, fmt.Sprintf("pipeline trigger failed: %v", err)); markErr != nil {
			s.logger.Error("failed to mark trigger failure", "scan_id", scanID, "error", markErr)
		}
		metrics.ScanDispatchTotal.WithLabelValues(metrics.ResultTriggerFailed).Inc()
		return nil
	}

	if err := s.scanRepo.SetPipelineID(ctx, scanID, pipelineID); err != nil {
		// The pipeline runs but the record keeps its placeholder, so
		// webhooks for it will not correlate. Log loudly and ack; a
		// retry would trigger a duplicate pipeline.
		s.logger.Error("failed to store pipeline id",
			"scan_id", scanID,
			"pipeline_id", pipelineID,
			"error", err,
		)
		return nil
	}

	metrics.ScanDispatchTotal.WithLabelValues(metrics.ResultTriggered).Inc()
	s.logger.Info("scan dispatched",
		"scan_id", scanID,
		"pipeline_id", pipelineID,
		"kind", rec.Kind,
	)
	return nil
}

// buildTriggerInput assembles pipeline variables for a record,
// decrypting stored credentials. Plaintext tokens live only in this
// call chain.
func (s *ScanService) buildTriggerInput(rec *scan.Record, swg *project.ServiceWithGroup) (gitlab.TriggerInput, error) {
	gitToken, err := s.decrypt(swg.Group.GitToken)
	if err != nil {
		return gitlab.TriggerInput{}, fmt.Errorf("failed to decrypt git token: %w", err)
	}
	dockerToken, err := s.decrypt(swg.Service.DockerToken)
	if err != nil {
		return gitlab.TriggerInput{}, fmt.Errorf("failed to decrypt registry token: %w", err)
	}

	return gitlab.TriggerInput{
		ScanRecordID: rec.ID.String(),
		Kind:         string(rec.Kind),
		RepoURL:      swg.Group.RepoURL,
		ContextPath:  swg.Service.ContextPath,
		ImageTag:     rec.ImageTag,
		ImageName:    swg.Service.ImageName,
		UserID:       swg.Group.OwnerID.String(),
		GitToken:     gitToken,
		DockerUser:   swg.Service.DockerUser,
		DockerToken:  dockerToken,
	}, nil
}

func (s *ScanService) decrypt(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	return s.encryptor.DecryptString(value)
}
