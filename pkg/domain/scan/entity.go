package scan

import (
	"strings"
	"time"

	"github.com/visscan/api/pkg/domain/shared"
)

// PlaceholderPrefix marks a locally generated pipeline id assigned
// before the dispatcher has triggered the external pipeline. Records
// whose pipeline id still carries this prefix are excluded from
// reconciliation.
const PlaceholderPrefix = "WAITING-"

// Record is the durable state of one scan execution. It is created
// when a submission is accepted and updated by the dispatcher, the
// webhook ingestor, the reconciler and the release gate. Every writer
// performs targeted field updates, never whole-row overwrites.
type Record struct {
	ID        shared.ID
	ServiceID shared.ID

	// PipelineID is the external CI pipeline identifier. It holds a
	// WAITING-* placeholder until dispatch succeeds.
	PipelineID string

	Status Status
	Kind   Kind

	ImageTag string

	VulnCritical int
	VulnHigh     int
	VulnMedium   int
	VulnLow      int

	Details Details

	ErrorMessage string
	ImagePushed  bool

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// NewRecord creates a pending scan record for a target service. The
// pipeline id starts as a local placeholder.
func NewRecord(serviceID shared.ID, kind Kind, imageTag string) (*Record, error) {
	if serviceID.IsZero() {
		return nil, shared.NewDomainError("VALIDATION", "service id is required", shared.ErrValidation)
	}
	if !kind.IsValid() {
		return nil, shared.NewDomainError("VALIDATION", "invalid scan kind", shared.ErrValidation)
	}
	if imageTag == "" {
		imageTag = "latest"
	}

	id := shared.NewID()
	now := time.Now()
	return &Record{
		ID:         id,
		ServiceID:  serviceID,
		PipelineID: PlaceholderPrefix + id.String(),
		Status:     StatusPending,
		Kind:       kind,
		ImageTag:   imageTag,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// HasRealPipelineID reports whether the record carries an external
// pipeline id rather than a local placeholder.
func (r *Record) HasRealPipelineID() bool {
	return r.PipelineID != "" && !strings.HasPrefix(r.PipelineID, PlaceholderPrefix)
}
