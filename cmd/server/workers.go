package main

import (
	"github.com/visscan/api/internal/app"
	"github.com/visscan/api/internal/config"
	"github.com/visscan/api/internal/infra/gitlab"
	"github.com/visscan/api/internal/infra/jobs"
	"github.com/visscan/api/pkg/logger"
)

// Workers holds all background worker instances.
type Workers struct {
	JobWorker  *jobs.Worker
	Reconciler *app.Reconciler
}

// WorkerDeps contains dependencies needed to create workers.
type WorkerDeps struct {
	Config   *config.Config
	Log      *logger.Logger
	Repos    *Repositories
	Services *Services
	CI       *gitlab.Client
}

// NewWorkers initializes all background workers.
func NewWorkers(deps *WorkerDeps) *Workers {
	cfg := deps.Config
	log := deps.Log

	w := &Workers{}

	w.JobWorker = jobs.NewWorker(jobs.WorkerConfig{
		RedisAddr:        cfg.Redis.Addr(),
		RedisPassword:    cfg.Redis.Password,
		RedisDB:          cfg.Redis.DB,
		BuildConcurrency: cfg.Queue.BuildConcurrency,
		ScanConcurrency:  cfg.Queue.ScanConcurrency,
	}, deps.Services.Scan, log)

	if cfg.Reconciler.Enabled {
		w.Reconciler = app.NewReconciler(deps.Repos.Scan, deps.CI, cfg.Reconciler.Interval, log)
		log.Info("reconciler initialized", "interval", cfg.Reconciler.Interval)
	}

	return w
}

// Start starts all background workers.
func (w *Workers) Start(log *logger.Logger) error {
	if err := w.JobWorker.Start(); err != nil {
		return err
	}
	log.Info("job worker started")

	if w.Reconciler != nil {
		w.Reconciler.Start()
		log.Info("reconciler started")
	}

	return nil
}

// Stop stops all background workers gracefully.
func (w *Workers) Stop(log *logger.Logger) {
	if w.Reconciler != nil {
		log.Info("stopping reconciler...")
		w.Reconciler.Stop()
		log.Info("reconciler stopped")
	}

	log.Info("stopping job worker...")
	w.JobWorker.Stop()
	log.Info("job worker stopped")
}
