package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/visscan/api/pkg/domain/shared"
	"github.com/visscan/api/pkg/logger"
)

// ScanDispatcher triggers the external pipeline for one queued scan.
// A nil return acknowledges the job; handled failures such as a
// rejected trigger are recorded on the scan record and still
// acknowledged, so only infrastructure errors cause a retry.
type ScanDispatcher interface {
	DispatchScan(ctx context.Context, scanID shared.ID) error
}

// WorkerConfig holds the configuration for the scan job worker.
type WorkerConfig struct {
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	BuildConcurrency int
	ScanConcurrency  int
}

// Worker consumes both scan job lanes. Each lane gets its own Asynq
// server so the concurrency bound of one lane never starves the other.
type Worker struct {
	buildServer *asynq.Server
	scanServer  *asynq.Server
	mux         *asynq.ServeMux
	logger      *logger.Logger
}

// NewWorker creates the lane workers and registers the dispatch handler.
func NewWorker(cfg WorkerConfig, dispatcher ScanDispatcher, log *logger.Logger) *Worker {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	newLaneServer := func(lane string, concurrency int) *asynq.Server {
		return asynq.NewServer(redisOpt, asynq.Config{
			Concurrency:    concurrency,
			Queues:         LaneQueues(lane),
			StrictPriority: true,
		})
	}

	mux := asynq.NewServeMux()
	handler := &scanTaskHandler{dispatcher: dispatcher, logger: log.With("component", "scan_worker")}
	mux.HandleFunc(TypeScanDispatch, handler.HandleScanDispatch)

	return &Worker{
		buildServer: newLaneServer(laneBuild, cfg.BuildConcurrency),
		scanServer:  newLaneServer(laneScan, cfg.ScanConcurrency),
		mux:         mux,
		logger:      log,
	}
}

// Start starts both lane servers.
func (w *Worker) Start() error {
	w.logger.Info("starting scan job workers")
	if err := w.buildServer.Start(w.mux); err != nil {
		return fmt.Errorf("build lane: %w", err)
	}
	if err := w.scanServer.Start(w.mux); err != nil {
		w.buildServer.Shutdown()
		return fmt.Errorf("scan lane: %w", err)
	}
	return nil
}

// Stop stops both lane servers gracefully. In-flight handlers finish;
// unacknowledged jobs are redelivered on the next start.
func (w *Worker) Stop() {
	w.logger.Info("stopping scan job workers")
	w.buildServer.Shutdown()
	w.scanServer.Shutdown()
}

// scanTaskHandler decodes queued jobs and hands them to the dispatcher.
type scanTaskHandler struct {
	dispatcher ScanDispatcher
	logger     *logger.Logger
}

// HandleScanDispatch processes one queued scan job. Malformed payloads
// are archived via SkipRetry; they can only fail the same way again.
func (h *scanTaskHandler) HandleScanDispatch(ctx context.Context, t *asynq.Task) error {
	var payload ScanDispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("undecodable scan job archived", "error", err)
		return fmt.Errorf("failed to unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}
	if err := payload.Validate(); err != nil {
		h.logger.Error("invalid scan job archived", "scan_id", payload.ScanID, "error", err)
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	scanID, err := shared.IDFromString(payload.ScanID)
	if err != nil {
		h.logger.Error("invalid scan job archived", "scan_id", payload.ScanID, "error", err)
		return fmt.Errorf("invalid scan id: %w: %w", err, asynq.SkipRetry)
	}

	if err := h.dispatcher.DispatchScan(ctx, scanID); err != nil {
		h.logger.Error("scan dispatch failed",
			"scan_id", payload.ScanID,
			"error", err,
		)
		return fmt.Errorf("failed to dispatch scan: %w", err)
	}
	return nil
}
