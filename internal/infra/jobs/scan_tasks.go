// Package jobs provides the durable scan job queue on top of Asynq.
//
// Jobs ride two lanes with independent concurrency: a build lane for
// jobs that build an image before scanning and a scan lane for
// scan-only jobs. Within a lane, priority 1-10 maps to strict-priority
// sub-queues so a lower-numbered job is always picked first. Payloads
// that fail to decode or validate are archived rather than retried,
// which is the dead-letter path.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/visscan/api/pkg/domain/scan"
)

// TypeScanDispatch is the task type for dispatching one scan job.
const TypeScanDispatch = "scan:dispatch"

// Priority bounds for scan jobs. Lower is more urgent.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5

	laneBuild = "build"
	laneScan  = "scan"
)

// ScanDispatchPayload is the wire form of one queued scan job. The
// payload carries identifiers only; the dispatcher reloads the record
// and its target from the store at execution time so redeliveries see
// current state, not a snapshot.
type ScanDispatchPayload struct {
	ScanID    string    `json:"scan_id"`
	ServiceID string    `json:"service_id"`
	Kind      string    `json:"kind"`
	Priority  int       `json:"priority"`
	QueuedAt  time.Time `json:"queued_at"`
}

// Validate checks the payload before it is accepted from the queue.
func (p ScanDispatchPayload) Validate() error {
	if p.ScanID == "" {
		return fmt.Errorf("scan_id is required")
	}
	if p.ServiceID == "" {
		return fmt.Errorf("service_id is required")
	}
	if !scan.Kind(p.Kind).IsValid() {
		return fmt.Errorf("invalid kind %q", p.Kind)
	}
	if p.Priority < MinPriority || p.Priority > MaxPriority {
		return fmt.Errorf("priority %d out of range [%d, %d]", p.Priority, MinPriority, MaxPriority)
	}
	return nil
}

// Lane returns the lane a kind belongs to. Build-and-scan jobs ride
// the build lane, everything else the scan lane.
func Lane(kind scan.Kind) string {
	if kind == scan.KindScanAndBuild {
		return laneBuild
	}
	return laneScan
}

// QueueName returns the sub-queue for a lane and priority.
func QueueName(lane string, priority int) string {
	return fmt.Sprintf("%s:p%d", lane, priority)
}

// LaneQueues builds the strict-priority queue map for one lane.
// Priority 1 is the most urgent, so its sub-queue gets the largest
// weight; with strict ordering enabled only the relative order
// matters.
func LaneQueues(lane string) map[string]int {
	queues := make(map[string]int, MaxPriority)
	for p := MinPriority; p <= MaxPriority; p++ {
		queues[QueueName(lane, p)] = MaxPriority + 1 - p
	}
	return queues
}

// NewScanDispatchTask creates a dispatch task routed to the lane and
// sub-queue the payload calls for.
func NewScanDispatchTask(payload ScanDispatchPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan dispatch payload: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scan dispatch payload: %w", err)
	}

	return asynq.NewTask(
		TypeScanDispatch,
		data,
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
		asynq.Queue(QueueName(Lane(scan.Kind(payload.Kind)), payload.Priority)),
	), nil
}
