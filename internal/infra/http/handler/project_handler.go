package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/visscan/api/internal/app"
	"github.com/visscan/api/internal/infra/http/middleware"
	"github.com/visscan/api/pkg/apierror"
	"github.com/visscan/api/pkg/domain/project"
	"github.com/visscan/api/pkg/domain/shared"
	"github.com/visscan/api/pkg/logger"
	"github.com/visscan/api/pkg/validator"
)

// ProjectHandler handles HTTP requests for scan targets.
type ProjectHandler struct {
	service   *app.ProjectService
	validator *validator.Validator
	logger    *logger.Logger
}

// NewProjectHandler creates a new ProjectHandler.
func NewProjectHandler(service *app.ProjectService, v *validator.Validator, log *logger.Logger) *ProjectHandler {
	return &ProjectHandler{
		service:   service,
		validator: v,
		logger:    log.With("handler", "project"),
	}
}

// RegisterTargetRequest is the request body for registering a target.
type RegisterTargetRequest struct {
	GroupName   string `json:"group_name" validate:"required,min=1,max=100"`
	RepoURL     string `json:"repo_url" validate:"required,url,max=500"`
	IsPrivate   bool   `json:"is_private"`
	GitUser     string `json:"git_user" validate:"max=100"`
	GitToken    string `json:"git_token" validate:"max=500"`
	ServiceName string `json:"service_name" validate:"required,min=1,max=100"`
	ContextPath string `json:"context_path" validate:"max=200"`
	ImageName   string `json:"image_name" validate:"required,image_name"`
	DockerUser  string `json:"docker_user" validate:"max=100"`
	DockerToken string `json:"docker_token" validate:"max=500"`
}

// TargetResponse is the wire form of a scan target. Credentials never
// appear here.
type TargetResponse struct {
	ServiceID   string    `json:"service_id"`
	GroupID     string    `json:"group_id"`
	GroupName   string    `json:"group_name"`
	RepoURL     string    `json:"repo_url"`
	IsPrivate   bool      `json:"is_private"`
	ServiceName string    `json:"service_name"`
	ContextPath string    `json:"context_path"`
	ImageName   string    `json:"image_name"`
	CreatedAt   time.Time `json:"created_at"`
}

func toTargetResponse(swg *project.ServiceWithGroup) TargetResponse {
	return TargetResponse{
		ServiceID:   swg.Service.ID.String(),
		GroupID:     swg.Group.ID.String(),
		GroupName:   swg.Group.Name,
		RepoURL:     swg.Group.RepoURL,
		IsPrivate:   swg.Group.IsPrivate,
		ServiceName: swg.Service.Name,
		ContextPath: swg.Service.ContextPath,
		ImageName:   swg.Service.ImageName,
		CreatedAt:   swg.Service.CreatedAt,
	}
}

func ownerFromContext(r *http.Request) (shared.ID, error) {
	return shared.IDFromString(middleware.GetUserID(r.Context()))
}

func toRegisterTargetInput(ownerID shared.ID, req RegisterTargetRequest) app.RegisterTargetInput {
	return app.RegisterTargetInput{
		OwnerID:     ownerID,
		GroupName:   req.GroupName,
		RepoURL:     req.RepoURL,
		IsPrivate:   req.IsPrivate,
		GitUser:     req.GitUser,
		GitToken:    req.GitToken,
		ServiceName: req.ServiceName,
		ContextPath: req.ContextPath,
		ImageName:   req.ImageName,
		DockerUser:  req.DockerUser,
		DockerToken: req.DockerToken,
	}
}

// Register handles POST /projects.
func (h *ProjectHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("invalid request body").WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		respondValidationError(w, err)
		return
	}

	ownerID, err := ownerFromContext(r)
	if err != nil {
		apierror.BadRequest("invalid user identity").WriteJSON(w)
		return
	}

	swg, err := h.service.RegisterTarget(r.Context(), toRegisterTargetInput(ownerID, req))
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, toTargetResponse(swg))
}

// Get handles GET /projects/{id}.
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	swg, err := h.service.GetTarget(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toTargetResponse(swg))
}

// Remove handles DELETE /projects/{id}.
func (h *ProjectHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	if err := h.service.RemoveTarget(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Quota handles GET /projects/quota.
func (h *ProjectHandler) Quota(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerFromContext(r)
	if err != nil {
		apierror.BadRequest("invalid user identity").WriteJSON(w)
		return
	}

	usage, err := h.service.GetQuotaUsage(r.Context(), ownerID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, usage)
}
