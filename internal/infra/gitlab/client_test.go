package gitlab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visscan/api/internal/config"
	"github.com/visscan/api/pkg/logger"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.GitLabConfig{
		APIURL:         srv.URL,
		ProjectID:      "42",
		TriggerToken:   "trig-token",
		AccessToken:    "acc-token",
		Ref:            "main",
		RequestTimeout: 5 * time.Second,
	}
	return NewClient(cfg, logger.NewNop()), srv
}

func TestClientTrigger(t *testing.T) {
	t.Run("sends expected variables and returns pipeline id", func(t *testing.T) {
		var captured map[string]any
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/projects/42/trigger/pipeline", r.URL.Path)
			assert.Equal(t, "trig-token", r.URL.Query().Get("token"))
			assert.Equal(t, "main", r.URL.Query().Get("ref"))

			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id": 9001, "status": "created"}`))
		}))

		id, err := client.Trigger(context.Background(), TriggerInput{
			ScanRecordID: "rec-1",
			Kind:         "SCAN_AND_BUILD",
			RepoURL:      "https://github.com/acme/widget.git",
			ContextPath:  ".",
			ImageTag:     "v1",
			ImageName:    "acme/widget",
			Dockerfile:   "Dockerfile.scan",
			UserID:       "user-7",
			GitToken:     "git-secret",
			DockerUser:   "acme",
			DockerToken:  "docker-secret",
		})
		require.NoError(t, err)
		assert.Equal(t, "9001", id)

		vars, ok := captured["variables"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "https://github.com/acme/widget.git", vars["USER_REPO_URL"])
		assert.Equal(t, "SCAN_AND_BUILD", vars["SCAN_MODE"])
		assert.Equal(t, "rec-1", vars["SCAN_HISTORY_ID"])
		assert.Equal(t, "git-secret", vars["GIT_TOKEN"])
		assert.Equal(t, "docker-secret", vars["DOCKER_PASSWORD"])
		assert.Equal(t, "acme", vars["DOCKER_USER"])
		assert.Equal(t, "acme/widget", vars["PROJECT_NAME"])
		assert.Equal(t, "user-7", vars["FRONTEND_USER"])
		assert.Equal(t, "v1", vars["USER_TAG"])
		assert.Equal(t, "acme/widget", vars["IMAGE_NAME"])
		assert.Equal(t, "Dockerfile.scan", vars["CUSTOM_DOCKERFILE"])
	})

	t.Run("omits optional variables when empty", func(t *testing.T) {
		var captured map[string]any
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id": 1}`))
		}))

		_, err := client.Trigger(context.Background(), TriggerInput{
			ScanRecordID: "rec-2",
			Kind:         "SCAN_ONLY",
			RepoURL:      "https://gitlab.com/acme/api",
		})
		require.NoError(t, err)

		vars := captured["variables"].(map[string]any)
		_, hasImage := vars["IMAGE_NAME"]
		_, hasDockerfile := vars["CUSTOM_DOCKERFILE"]
		assert.False(t, hasImage)
		assert.False(t, hasDockerfile)
	})

	t.Run("returns error with body on failure", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message": "insufficient scope"}`))
		}))

		_, err := client.Trigger(context.Background(), TriggerInput{ScanRecordID: "rec-3"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "403")
		assert.Contains(t, err.Error(), "insufficient scope")
	})
}

func TestClientGetPipelineStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/42/pipelines/9001", r.URL.Path)
		assert.Equal(t, "acc-token", r.Header.Get("PRIVATE-TOKEN"))
		_, _ = w.Write([]byte(`{"id": 9001, "status": "success"}`))
	}))

	status, err := client.GetPipelineStatus(context.Background(), "9001")
	require.NoError(t, err)
	assert.Equal(t, "success", status)
}

func TestClientCancel(t *testing.T) {
	var called bool
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/projects/42/pipelines/77/cancel", r.URL.Path)
		_, _ = w.Write([]byte(`{"id": 77, "status": "canceled"}`))
	}))

	require.NoError(t, client.Cancel(context.Background(), "77"))
	assert.True(t, called)
}

func TestClientListJobs(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/42/pipelines/9001/jobs", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id": 1, "name": "build", "status": "success"}, {"id": 2, "name": "push_to_hub", "status": "manual"}]`))
	}))

	jobs, err := client.ListJobs(context.Background(), "9001")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "push_to_hub", jobs[1].Name)
	assert.Equal(t, "manual", jobs[1].Status)
}

func TestClientPlayJob(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/projects/42/jobs/2/play", r.URL.Path)
		_, _ = w.Write([]byte(`{"id": 2, "status": "pending"}`))
	}))

	status, err := client.PlayJob(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "pending", status)
}

func TestProjectPath(t *testing.T) {
	assert.Equal(t, "acme/widget", projectPath("https://github.com/acme/widget"))
	assert.Equal(t, "acme/widget", projectPath("https://gitlab.com/acme/widget.git"))
}
