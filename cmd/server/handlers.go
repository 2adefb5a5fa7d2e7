package main

import (
	"github.com/visscan/api/internal/config"
	"github.com/visscan/api/internal/infra/http/handler"
	"github.com/visscan/api/internal/infra/http/routes"
	"github.com/visscan/api/internal/infra/postgres"
	"github.com/visscan/api/internal/infra/redis"
	"github.com/visscan/api/pkg/logger"
	"github.com/visscan/api/pkg/validator"
)

// HandlerDeps contains dependencies needed to create handlers.
type HandlerDeps struct {
	Config      *config.Config
	Log         *logger.Logger
	Validator   *validator.Validator
	DB          *postgres.DB
	RedisClient *redis.Client
	Services    *Services
}

// NewHandlers initializes all HTTP handlers.
func NewHandlers(deps *HandlerDeps) routes.Handlers {
	return routes.Handlers{
		Health: handler.NewHealthHandler(
			handler.WithDatabase(deps.DB),
			handler.WithRedis(deps.RedisClient),
		),
		Scan:    handler.NewScanHandler(deps.Services.Scan, deps.Services.Project, deps.Validator, deps.Log),
		Project: handler.NewProjectHandler(deps.Services.Project, deps.Validator, deps.Log),
		Webhook: handler.NewWebhookHandler(deps.Services.Webhook, deps.Config.Webhook.Secret, deps.Validator, deps.Log),
	}
}
