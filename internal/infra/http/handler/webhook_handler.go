package handler

import (
	"encoding/json"
	"net/http"

	"github.com/visscan/api/internal/app"
	"github.com/visscan/api/pkg/apierror"
	"github.com/visscan/api/pkg/domain/scan"
	"github.com/visscan/api/pkg/logger"
	"github.com/visscan/api/pkg/validator"
)

// WebhookHandler receives pipeline progress deliveries from the CI
// side.
type WebhookHandler struct {
	service   *app.WebhookService
	secret    string
	validator *validator.Validator
	logger    *logger.Logger
}

// NewWebhookHandler creates a new WebhookHandler. An empty secret
// disables token checking (development only).
func NewWebhookHandler(service *app.WebhookService, secret string, v *validator.Validator, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		service:   service,
		secret:    secret,
		validator: v,
		logger:    log.With("handler", "webhook"),
	}
}

// DeliveryRequest is the body the pipeline posts after each stage.
type DeliveryRequest struct {
	PipelineID   string `json:"pipeline_id" validate:"required"`
	Status       string `json:"status" validate:"required,scan_status"`
	VulnCritical *int   `json:"vuln_critical" validate:"omitempty,min=0"`
	VulnHigh     *int   `json:"vuln_high" validate:"omitempty,min=0"`
	VulnMedium   *int   `json:"vuln_medium" validate:"omitempty,min=0"`
	VulnLow      *int   `json:"vuln_low" validate:"omitempty,min=0"`
	Details      struct {
		Findings []struct {
			RuleID      string `json:"rule_id" validate:"required"`
			Severity    string `json:"severity"`
			Location    string `json:"location"`
			Description string `json:"description"`
		} `json:"findings"`
		Logs []string `json:"logs"`
	} `json:"details"`
}

// Ingest handles POST /webhooks/scan.
func (h *WebhookHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && r.Header.Get("X-Webhook-Token") != h.secret {
		apierror.Unauthorized("invalid webhook token").WriteJSON(w)
		return
	}

	var req DeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("invalid request body").WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		h.logger.Warn("rejected malformed delivery", "pipeline_id", req.PipelineID, "error", err)
		respondValidationError(w, err)
		return
	}

	details := scan.Details{Logs: req.Details.Logs}
	for _, f := range req.Details.Findings {
		details.Findings = append(details.Findings, scan.Finding{
			RuleID:      f.RuleID,
			Severity:    f.Severity,
			Location:    f.Location,
			Description: f.Description,
		})
	}

	rec, err := h.service.Ingest(r.Context(), app.DeliveryInput{
		PipelineID:   req.PipelineID,
		Status:       scan.Status(req.Status),
		VulnCritical: req.VulnCritical,
		VulnHigh:     req.VulnHigh,
		VulnMedium:   req.VulnMedium,
		VulnLow:      req.VulnLow,
		Details:      details,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"scan_id": rec.ID.String(),
		"status":  string(rec.Status),
	})
}
