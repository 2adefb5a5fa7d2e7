package main

import (
	"fmt"

	"github.com/visscan/api/internal/app"
	"github.com/visscan/api/internal/config"
	"github.com/visscan/api/internal/infra/gitlab"
	"github.com/visscan/api/internal/infra/jobs"
	"github.com/visscan/api/pkg/crypto"
	"github.com/visscan/api/pkg/logger"
)

// Services holds all application service instances.
type Services struct {
	Scan    *app.ScanService
	Project *app.ProjectService
	Webhook *app.WebhookService
}

// ServiceDeps contains dependencies needed to create services.
type ServiceDeps struct {
	Config    *config.Config
	Log       *logger.Logger
	Repos     *Repositories
	CI        *gitlab.Client
	JobClient *jobs.Client
	Encryptor crypto.Encryptor
}

// NewServices initializes all application services.
func NewServices(deps *ServiceDeps) *Services {
	cfg := deps.Config
	log := deps.Log

	return &Services{
		Scan: app.NewScanService(
			deps.Repos.Scan,
			deps.Repos.Project,
			deps.CI,
			deps.JobClient,
			deps.Encryptor,
			cfg.GitLab.PublishJobName,
			log,
		),
		Project: app.NewProjectService(
			deps.Repos.Project,
			deps.Encryptor,
			cfg.Quota.MaxServicesPerUser,
			log,
		),
		Webhook: app.NewWebhookService(deps.Repos.Scan, log),
	}
}

// newEncryptor selects the credential encryptor from configuration. An
// empty key falls back to the no-op encryptor outside production.
func newEncryptor(cfg *config.Config, log *logger.Logger) (crypto.Encryptor, error) {
	if cfg.Encryption.Key == "" {
		log.Warn("APP_ENCRYPTION_KEY not set, credentials stored in plaintext")
		return crypto.NewNoOpEncryptor(), nil
	}

	enc, err := crypto.NewCipherFromHex(cfg.Encryption.Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	return enc, nil
}
