package scan

import (
	"context"
	"time"

	"github.com/visscan/api/pkg/domain/shared"
)

// Filter represents filter options for listing scan records.
type Filter struct {
	OwnerID   *shared.ID
	ServiceID *shared.ID
	Status    *Status
	Kind      *Kind
	Limit     int
}

// DeliveryUpdate is one webhook or reconciler update applied to a
// record. Nil fields are left untouched; Details has already been
// merged by the caller and replaces only the blob column.
type DeliveryUpdate struct {
	Status       Status
	VulnCritical *int
	VulnHigh     *int
	VulnMedium   *int
	VulnLow      *int
	Details      *Details
	CompletedAt  *time.Time
}

// Repository defines the interface for scan record persistence.
// Mutations are targeted column updates so the dispatcher, webhook
// ingestor and reconciler can write the same row concurrently without
// lost updates.
type Repository interface {
	// Create persists a new scan record.
	Create(ctx context.Context, rec *Record) error

	// GetByID retrieves a record by internal id.
	GetByID(ctx context.Context, id shared.ID) (*Record, error)

	// GetByPipelineID retrieves a record by external pipeline id.
	GetByPipelineID(ctx context.Context, pipelineID string) (*Record, error)

	// List lists records matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]*Record, error)

	// ListRunning returns records in RUNNING state whose pipeline id is
	// a real external id (placeholders excluded). Used by the reconciler.
	ListRunning(ctx context.Context) ([]*Record, error)

	// MarkRunning transitions a record to RUNNING and stamps StartedAt.
	MarkRunning(ctx context.Context, id shared.ID) error

	// SetPipelineID persists the external pipeline id after a
	// successful trigger.
	SetPipelineID(ctx context.Context, id shared.ID, pipelineID string) error

	// MarkTriggerFailed records a terminal FAILED_TRIGGER with detail.
	MarkTriggerFailed(ctx context.Context, id shared.ID, errMsg string) error

	// ApplyDelivery applies a webhook/reconciler update to the record.
	// The write carries its own terminal guard: a row already in a
	// different terminal status is left untouched and false is
	// returned, so a stale read cannot resurrect a finished record.
	ApplyDelivery(ctx context.Context, id shared.ID, upd DeliveryUpdate) (bool, error)

	// CompleteIfRunning sets a terminal status and CompletedAt only if
	// the record is still RUNNING or PROCESSING. Returns false when the
	// guard did not match, which makes concurrent webhook and poller
	// completion converge on a single transition.
	CompleteIfRunning(ctx context.Context, id shared.ID, status Status, completedAt time.Time) (bool, error)

	// Cancel marks a record CANCELLED with the given message.
	Cancel(ctx context.Context, id shared.ID, message string) error

	// SetImagePushed flips the published flag after the release gate
	// plays the held job.
	SetImagePushed(ctx context.Context, id shared.ID) error

	// Delete removes a record. Deleting an absent record is not an error.
	Delete(ctx context.Context, id shared.ID) error
}
