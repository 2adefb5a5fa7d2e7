// Package routes registers all HTTP routes for the API.
package routes

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	infrahttp "github.com/visscan/api/internal/infra/http"
	"github.com/visscan/api/internal/infra/http/handler"
	"github.com/visscan/api/internal/infra/http/middleware"
)

// Middleware is an alias to the http package's Middleware type.
type Middleware = infrahttp.Middleware

// Router is an alias to the http package's Router interface.
type Router = infrahttp.Router

// Handlers holds all HTTP handlers for route registration.
type Handlers struct {
	Health  *handler.HealthHandler
	Scan    *handler.ScanHandler
	Project *handler.ProjectHandler
	Webhook *handler.WebhookHandler
}

// Options carries route-level middleware.
type Options struct {
	// WebhookRateLimit guards the delivery endpoint.
	WebhookRateLimit Middleware
}

// Register wires all routes onto the router.
func Register(router Router, h Handlers, opts Options) {
	registerHealthRoutes(router, h.Health)

	identity := middleware.Identity()

	router.Group("/api/v1", func(api Router) {
		api.Group("/scans", func(r Router) {
			r.POST("/", h.Scan.Start)
			r.GET("/", h.Scan.List)
			r.GET("/active", h.Scan.ListActive)
			r.GET("/compare", h.Scan.Compare)
			r.GET("/{id}", h.Scan.Get)
			r.POST("/{id}/cancel", h.Scan.Cancel)
			r.POST("/{id}/confirm-release", h.Scan.ConfirmRelease)
			r.DELETE("/{id}", h.Scan.Delete)
		}, identity)

		api.Group("/projects", func(r Router) {
			r.POST("/", h.Project.Register)
			r.GET("/quota", h.Project.Quota)
			r.GET("/{id}", h.Project.Get)
			r.DELETE("/{id}", h.Project.Remove)
		}, identity)

		// The CI side authenticates with the webhook token, not a
		// user identity.
		webhookMiddlewares := []Middleware{}
		if opts.WebhookRateLimit != nil {
			webhookMiddlewares = append(webhookMiddlewares, opts.WebhookRateLimit)
		}
		api.Group("/webhooks", func(r Router) {
			r.POST("/scan", h.Webhook.Ingest)
		}, webhookMiddlewares...)
	})
}

// registerHealthRoutes registers health check and metrics endpoints.
func registerHealthRoutes(router Router, h *handler.HealthHandler) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
}
