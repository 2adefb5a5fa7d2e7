// Package gitlab implements the CI trigger adapter against the GitLab
// pipeline API. All calls target one fixed, pre-registered project that
// hosts the scan pipeline definition.
package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/visscan/api/internal/config"
	"github.com/visscan/api/pkg/logger"
)

// TriggerInput carries everything the pipeline needs to run one scan.
// Tokens arrive in plaintext, are written into pipeline variables and
// are never persisted here.
type TriggerInput struct {
	// ScanRecordID is the correlation id echoed back by webhooks.
	ScanRecordID string
	Kind         string // SCAN_ONLY or SCAN_AND_BUILD
	RepoURL      string
	ContextPath  string
	ImageTag     string
	ImageName    string
	Dockerfile   string
	UserID       string
	GitToken     string
	DockerUser   string
	DockerToken  string
}

// Job is one job inside an external pipeline.
type Job struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Client calls the GitLab pipeline API.
type Client struct {
	baseURL      string
	projectID    string
	triggerToken string
	accessToken  string
	ref          string
	httpClient   *http.Client
	logger       *logger.Logger
}

// NewClient creates a new GitLab client.
func NewClient(cfg *config.GitLabConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(cfg.APIURL, "/"),
		projectID:    cfg.ProjectID,
		triggerToken: cfg.TriggerToken,
		accessToken:  cfg.AccessToken,
		ref:          cfg.Ref,
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout},
		logger:       log.With("component", "gitlab_client"),
	}
}

// Trigger creates a pipeline for the job and returns the external
// pipeline id. The scan record id always rides along as a variable so
// webhook deliveries can be correlated back.
func (c *Client) Trigger(ctx context.Context, in TriggerInput) (string, error) {
	variables := map[string]string{
		"USER_REPO_URL":   in.RepoURL,
		"SCAN_MODE":       in.Kind,
		"CONTEXT_PATH":    in.ContextPath,
		"IMAGE_TAG":       in.ImageTag,
		"SCAN_HISTORY_ID": in.ScanRecordID,
		"GIT_TOKEN":       in.GitToken,
		"DOCKER_USER":     in.DockerUser,
		"DOCKER_PASSWORD": in.DockerToken,
		"PROJECT_NAME":    projectPath(in.RepoURL),
		"FRONTEND_USER":   in.UserID,
		"USER_TAG":        in.ImageTag,
	}
	if in.ImageName != "" {
		variables["IMAGE_NAME"] = in.ImageName
	}
	if in.Dockerfile != "" {
		variables["CUSTOM_DOCKERFILE"] = in.Dockerfile
	}

	body, err := json.Marshal(map[string]any{"variables": variables})
	if err != nil {
		return "", fmt.Errorf("failed to marshal trigger variables: %w", err)
	}

	endpoint := fmt.Sprintf("%s/projects/%s/trigger/pipeline?token=%s&ref=%s",
		c.baseURL, url.PathEscape(c.projectID), url.QueryEscape(c.triggerToken), url.QueryEscape(c.ref))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	if err := c.do(req, http.StatusCreated, &result); err != nil {
		return "", fmt.Errorf("pipeline trigger: %w", err)
	}

	pipelineID := fmt.Sprintf("%d", result.ID)
	c.logger.Info("pipeline triggered",
		"pipeline_id", pipelineID,
		"scan_id", in.ScanRecordID,
		"mode", in.Kind,
	)
	return pipelineID, nil
}

// GetPipelineStatus returns the external status string of a pipeline.
func (c *Client) GetPipelineStatus(ctx context.Context, pipelineID string) (string, error) {
	endpoint := fmt.Sprintf("%s/projects/%s/pipelines/%s",
		c.baseURL, url.PathEscape(c.projectID), url.PathEscape(pipelineID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build pipeline request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.accessToken)

	var result struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	if err := c.do(req, http.StatusOK, &result); err != nil {
		return "", fmt.Errorf("pipeline status: %w", err)
	}
	return result.Status, nil
}

// Cancel cancels a running pipeline. Best effort: callers treat an
// error as advisory only.
func (c *Client) Cancel(ctx context.Context, pipelineID string) error {
	endpoint := fmt.Sprintf("%s/projects/%s/pipelines/%s/cancel",
		c.baseURL, url.PathEscape(c.projectID), url.PathEscape(pipelineID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build cancel request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.accessToken)

	if err := c.do(req, http.StatusOK, nil); err != nil {
		return fmt.Errorf("pipeline cancel: %w", err)
	}
	return nil
}

// ListJobs returns the jobs of a pipeline.
func (c *Client) ListJobs(ctx context.Context, pipelineID string) ([]Job, error) {
	endpoint := fmt.Sprintf("%s/projects/%s/pipelines/%s/jobs",
		c.baseURL, url.PathEscape(c.projectID), url.PathEscape(pipelineID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build jobs request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.accessToken)

	var jobs []Job
	if err := c.do(req, http.StatusOK, &jobs); err != nil {
		return nil, fmt.Errorf("pipeline jobs: %w", err)
	}
	return jobs, nil
}

// PlayJob starts a held manual job and returns its new status.
func (c *Client) PlayJob(ctx context.Context, jobID int64) (string, error) {
	endpoint := fmt.Sprintf("%s/projects/%s/jobs/%d/play",
		c.baseURL, url.PathEscape(c.projectID), jobID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build play request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.accessToken)

	var result struct {
		Status string `json:"status"`
	}
	if err := c.do(req, http.StatusOK, &result); err != nil {
		return "", fmt.Errorf("job play: %w", err)
	}
	return result.Status, nil
}

// do executes the request and decodes the response into out. Non-2xx
// responses include the body in the error so failed calls can be
// replayed manually.
func (c *Client) do(req *http.Request, wantStatus int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	// GitLab returns 200 or 201 depending on the endpoint; accept both
	// for the expected success class.
	if resp.StatusCode != wantStatus && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 512))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// projectPath derives a display name from the repository URL.
func projectPath(repoURL string) string {
	cleaned := repoURL
	cleaned = strings.TrimPrefix(cleaned, "https://")
	cleaned = strings.TrimPrefix(cleaned, "http://")
	if i := strings.Index(cleaned, "/"); i >= 0 {
		cleaned = cleaned[i+1:]
	}
	return strings.TrimSuffix(cleaned, ".git")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
