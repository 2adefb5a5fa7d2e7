package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/visscan/api/internal/app"
	"github.com/visscan/api/internal/infra/http/middleware"
	"github.com/visscan/api/pkg/apierror"
	"github.com/visscan/api/pkg/domain/scan"
	"github.com/visscan/api/pkg/domain/shared"
	"github.com/visscan/api/pkg/logger"
	"github.com/visscan/api/pkg/validator"
)

// ScanHandler handles HTTP requests for scans.
type ScanHandler struct {
	service   *app.ScanService
	projects  *app.ProjectService
	validator *validator.Validator
	logger    *logger.Logger
}

// NewScanHandler creates a new ScanHandler.
func NewScanHandler(service *app.ScanService, projects *app.ProjectService, v *validator.Validator, log *logger.Logger) *ScanHandler {
	return &ScanHandler{
		service:   service,
		projects:  projects,
		validator: v,
		logger:    log.With("handler", "scan"),
	}
}

// StartScanRequest is the request body for starting a scan. It names
// an existing target by service_id, or registers one inline via
// target (quota-checked like a direct registration).
type StartScanRequest struct {
	ServiceID string                 `json:"service_id" validate:"omitempty,uuid"`
	Target    *RegisterTargetRequest `json:"target"`
	Kind      string                 `json:"kind" validate:"required,scan_kind"`
	ImageTag  string                 `json:"image_tag" validate:"omitempty,image_tag"`
	Priority  int                    `json:"priority" validate:"omitempty,min=1,max=10"`
}

// ScanResponse is the wire form of a scan record.
type ScanResponse struct {
	ID           string       `json:"id"`
	ServiceID    string       `json:"service_id"`
	PipelineID   string       `json:"pipeline_id"`
	Status       string       `json:"status"`
	Kind         string       `json:"kind"`
	ImageTag     string       `json:"image_tag"`
	Progress     int          `json:"progress"`
	VulnCritical int          `json:"vuln_critical"`
	VulnHigh     int          `json:"vuln_high"`
	VulnMedium   int          `json:"vuln_medium"`
	VulnLow      int          `json:"vuln_low"`
	Details      scan.Details `json:"details"`
	ErrorMessage string       `json:"error_message,omitempty"`
	ImagePushed  bool         `json:"image_pushed"`
	CreatedAt    time.Time    `json:"created_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

func toScanResponse(rec *scan.Record) ScanResponse {
	return ScanResponse{
		ID:           rec.ID.String(),
		ServiceID:    rec.ServiceID.String(),
		PipelineID:   rec.PipelineID,
		Status:       string(rec.Status),
		Kind:         string(rec.Kind),
		ImageTag:     rec.ImageTag,
		Progress:     rec.Status.Progress(),
		VulnCritical: rec.VulnCritical,
		VulnHigh:     rec.VulnHigh,
		VulnMedium:   rec.VulnMedium,
		VulnLow:      rec.VulnLow,
		Details:      rec.Details,
		ErrorMessage: rec.ErrorMessage,
		ImagePushed:  rec.ImagePushed,
		CreatedAt:    rec.CreatedAt,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
	}
}

func toScanListResponse(records []*scan.Record) []ScanResponse {
	out := make([]ScanResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toScanResponse(rec))
	}
	return out
}

// Start handles POST /scans.
func (h *ScanHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("invalid request body").WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		respondValidationError(w, err)
		return
	}

	serviceID, err := h.resolveTarget(r, req)
	if err != nil {
		respondError(w, err)
		return
	}

	rec, err := h.service.Start(r.Context(), app.StartScanInput{
		ServiceID: serviceID,
		Kind:      scan.Kind(req.Kind),
		ImageTag:  req.ImageTag,
		Priority:  req.Priority,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, toScanResponse(rec))
}

// resolveTarget returns the scan target for a submission: the named
// service, or a freshly registered one when the request carries an
// inline target spec.
func (h *ScanHandler) resolveTarget(r *http.Request, req StartScanRequest) (shared.ID, error) {
	switch {
	case req.ServiceID != "" && req.Target != nil:
		return shared.ID{}, shared.NewDomainError("VALIDATION",
			"service_id and target are mutually exclusive", shared.ErrValidation)
	case req.ServiceID != "":
		id, err := shared.IDFromString(req.ServiceID)
		if err != nil {
			return shared.ID{}, shared.NewDomainError("VALIDATION", "invalid service_id", shared.ErrValidation)
		}
		return id, nil
	case req.Target != nil:
		ownerID, err := shared.IDFromString(middleware.GetUserID(r.Context()))
		if err != nil {
			return shared.ID{}, shared.NewDomainError("VALIDATION", "invalid user identity", shared.ErrValidation)
		}
		target, err := h.projects.RegisterTarget(r.Context(), toRegisterTargetInput(ownerID, *req.Target))
		if err != nil {
			return shared.ID{}, err
		}
		return target.Service.ID, nil
	default:
		return shared.ID{}, shared.NewDomainError("VALIDATION",
			"service_id or target is required", shared.ErrValidation)
	}
}

// Get handles GET /scans/{id}.
func (h *ScanHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toScanResponse(rec))
}

// List handles GET /scans.
func (h *ScanHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := scan.Filter{
		Limit: parseQueryInt(r.URL.Query().Get("limit"), 50),
	}

	if userID := middleware.GetUserID(r.Context()); userID != "" {
		ownerID, err := shared.IDFromString(userID)
		if err != nil {
			apierror.BadRequest("invalid user identity").WriteJSON(w)
			return
		}
		filter.OwnerID = &ownerID
	}
	if raw := r.URL.Query().Get("service_id"); raw != "" {
		serviceID, err := shared.IDFromString(raw)
		if err != nil {
			apierror.BadRequest("invalid service_id").WriteJSON(w)
			return
		}
		filter.ServiceID = &serviceID
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := scan.Status(raw)
		filter.Status = &status
	}

	records, err := h.service.List(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toScanListResponse(records))
}

// CompareResponse is the wire form of a two-scan comparison.
type CompareResponse struct {
	CurrentScan  CompareScanResponse `json:"current_scan"`
	PreviousScan CompareScanResponse `json:"previous_scan"`
	Diff         CompareDiffResponse `json:"diff"`
}

// CompareScanResponse summarizes one side of a comparison.
type CompareScanResponse struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	VulnCritical int       `json:"vuln_critical"`
	CreatedAt    time.Time `json:"created_at"`
}

// CompareDiffResponse lists the findings that appeared since the
// previous completed scan and the ones that disappeared.
type CompareDiffResponse struct {
	NewIssuesCount   int            `json:"new_issues_count"`
	FixedIssuesCount int            `json:"fixed_issues_count"`
	NewIssues        []scan.Finding `json:"new_issues"`
	FixedIssues      []scan.Finding `json:"fixed_issues"`
}

func toCompareScanResponse(rec *scan.Record) CompareScanResponse {
	return CompareScanResponse{
		ID:           rec.ID.String(),
		Status:       string(rec.Status),
		VulnCritical: rec.VulnCritical,
		CreatedAt:    rec.CreatedAt,
	}
}

func toCompareResponse(cmp *app.ScanComparison) CompareResponse {
	return CompareResponse{
		CurrentScan:  toCompareScanResponse(cmp.Current),
		PreviousScan: toCompareScanResponse(cmp.Previous),
		Diff: CompareDiffResponse{
			NewIssuesCount:   len(cmp.Diff.New),
			FixedIssuesCount: len(cmp.Diff.Fixed),
			NewIssues:        cmp.Diff.New,
			FixedIssues:      cmp.Diff.Fixed,
		},
	}
}

// Compare handles GET /scans/compare?service_id=. It diffs the two
// most recent completed scans of the service.
func (h *ScanHandler) Compare(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("service_id")
	if raw == "" {
		apierror.BadRequest("service_id is required").WriteJSON(w)
		return
	}
	serviceID, err := shared.IDFromString(raw)
	if err != nil {
		apierror.BadRequest("invalid service_id").WriteJSON(w)
		return
	}

	cmp, err := h.service.Compare(r.Context(), serviceID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toCompareResponse(cmp))
}

// ListActive handles GET /scans/active.
func (h *ScanHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	ownerID, err := shared.IDFromString(middleware.GetUserID(r.Context()))
	if err != nil {
		apierror.BadRequest("invalid user identity").WriteJSON(w)
		return
	}

	records, err := h.service.ListActive(r.Context(), ownerID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toScanListResponse(records))
}

// Cancel handles POST /scans/{id}/cancel.
func (h *ScanHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	// Body is optional.
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := h.service.Cancel(r.Context(), id, body.Reason); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": string(scan.StatusCancelled)})
}

// ConfirmRelease handles POST /scans/{id}/confirm-release. The path
// segment accepts an internal scan id or an external pipeline id.
func (h *ScanHandler) ConfirmRelease(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "id")

	id, err := shared.IDFromString(ref)
	if err != nil {
		rec, lookupErr := h.service.GetByPipelineID(r.Context(), ref)
		if lookupErr != nil {
			respondError(w, lookupErr)
			return
		}
		id = rec.ID
	}

	rec, err := h.service.ConfirmRelease(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toScanResponse(rec))
}

// Delete handles DELETE /scans/{id}.
func (h *ScanHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
