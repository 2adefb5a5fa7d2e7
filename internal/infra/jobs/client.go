package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/visscan/api/pkg/logger"
)

// Client manages enqueueing scan jobs using Asynq.
type Client struct {
	client *asynq.Client
	logger *logger.Logger
}

// ClientConfig contains configuration for the job client.
type ClientConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// NewClient creates a new job client for enqueueing tasks.
func NewClient(cfg ClientConfig, log *logger.Logger) (*Client, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	client := asynq.NewClient(redisOpt)

	return &Client{
		client: client,
		logger: log.With("component", "job_client"),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueScanDispatch enqueues a scan job onto its lane's sub-queue.
func (c *Client) EnqueueScanDispatch(ctx context.Context, payload ScanDispatchPayload) error {
	task, err := NewScanDispatchTask(payload)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("failed to enqueue scan dispatch",
			"scan_id", payload.ScanID,
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.logger.Info("scan job queued",
		"task_id", info.ID,
		"scan_id", payload.ScanID,
		"queue", info.Queue,
		"priority", payload.Priority,
	)
	return nil
}
