package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visscan/api/pkg/logger"
	"github.com/visscan/api/pkg/validator"
)

func TestStartScanRequest_Validation(t *testing.T) {
	v := validator.New()

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name:    "valid minimal request",
			body:    `{"service_id": "b3f1c2d4-0000-4000-8000-000000000001", "kind": "SCAN_ONLY"}`,
			wantErr: false,
		},
		{
			name:    "valid full request",
			body:    `{"service_id": "b3f1c2d4-0000-4000-8000-000000000001", "kind": "SCAN_AND_BUILD", "image_tag": "v1.2.3", "priority": 8}`,
			wantErr: false,
		},
		{
			name:    "service id not a uuid",
			body:    `{"service_id": "not-a-uuid", "kind": "SCAN_ONLY"}`,
			wantErr: true,
		},
		{
			name:    "unknown kind",
			body:    `{"service_id": "b3f1c2d4-0000-4000-8000-000000000001", "kind": "FULL_SCAN"}`,
			wantErr: true,
		},
		{
			name:    "priority above range",
			body:    `{"service_id": "b3f1c2d4-0000-4000-8000-000000000001", "kind": "SCAN_ONLY", "priority": 11}`,
			wantErr: true,
		},
		{
			name:    "priority below range",
			body:    `{"service_id": "b3f1c2d4-0000-4000-8000-000000000001", "kind": "SCAN_ONLY", "priority": -1}`,
			wantErr: true,
		},
		{
			name:    "image tag with shell metacharacters",
			body:    `{"service_id": "b3f1c2d4-0000-4000-8000-000000000001", "kind": "SCAN_ONLY", "image_tag": "v1; rm -rf /"}`,
			wantErr: true,
		},
		{
			name:    "inline target without credentials",
			body:    `{"kind": "SCAN_AND_BUILD", "target": {"group_name": "widget", "repo_url": "https://github.com/acme/widget", "service_name": "widget-api", "image_name": "acme/widget-api"}}`,
			wantErr: false,
		},
		{
			name:    "inline target missing image name",
			body:    `{"kind": "SCAN_AND_BUILD", "target": {"group_name": "widget", "repo_url": "https://github.com/acme/widget", "service_name": "widget-api"}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req StartScanRequest
			err := json.NewDecoder(bytes.NewBufferString(tt.body)).Decode(&req)
			require.NoError(t, err)

			err = v.Validate(req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScanHandler_StartRejectsAmbiguousTarget(t *testing.T) {
	h := NewScanHandler(nil, nil, validator.New(), logger.NewNop())

	tests := []struct {
		name string
		body string
	}{
		{
			name: "neither service id nor target",
			body: `{"kind": "SCAN_ONLY"}`,
		},
		{
			name: "both service id and target",
			body: `{"kind": "SCAN_ONLY", "service_id": "b3f1c2d4-0000-4000-8000-000000000001", "target": {"group_name": "w", "repo_url": "https://github.com/acme/w", "service_name": "w", "image_name": "acme/w"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/scans", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()

			h.Start(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestScanHandler_CompareRequiresServiceID(t *testing.T) {
	h := NewScanHandler(nil, nil, validator.New(), logger.NewNop())

	tests := []struct {
		name   string
		target string
	}{
		{name: "missing service id", target: "/scans/compare"},
		{name: "malformed service id", target: "/scans/compare?service_id=not-a-uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			rr := httptest.NewRecorder()

			h.Compare(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestStartScanRequest_PriorityOmittedIsZero(t *testing.T) {
	var req StartScanRequest
	err := json.Unmarshal([]byte(`{"service_id": "b3f1c2d4-0000-4000-8000-000000000001", "kind": "SCAN_ONLY"}`), &req)
	require.NoError(t, err)

	// Zero means "use the default"; the service fills it in.
	assert.Equal(t, 0, req.Priority)
	assert.NoError(t, validator.New().Validate(req))
}
