package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visscan/api/pkg/domain/scan"
	"github.com/visscan/api/pkg/domain/shared"
	"github.com/visscan/api/pkg/logger"
)

func validPayload() ScanDispatchPayload {
	return ScanDispatchPayload{
		ScanID:    shared.NewID().String(),
		ServiceID: shared.NewID().String(),
		Kind:      string(scan.KindScanAndBuild),
		Priority:  DefaultPriority,
		QueuedAt:  time.Now(),
	}
}

func TestScanDispatchPayloadValidate(t *testing.T) {
	t.Run("valid payload passes", func(t *testing.T) {
		assert.NoError(t, validPayload().Validate())
	})

	t.Run("missing scan id fails", func(t *testing.T) {
		p := validPayload()
		p.ScanID = ""
		assert.Error(t, p.Validate())
	})

	t.Run("unknown kind fails", func(t *testing.T) {
		p := validPayload()
		p.Kind = "REBUILD_ONLY"
		assert.Error(t, p.Validate())
	})

	t.Run("priority out of range fails", func(t *testing.T) {
		p := validPayload()
		p.Priority = 0
		assert.Error(t, p.Validate())
		p.Priority = 11
		assert.Error(t, p.Validate())
	})
}

func TestLaneSelection(t *testing.T) {
	assert.Equal(t, "build", Lane(scan.KindScanAndBuild))
	assert.Equal(t, "scan", Lane(scan.KindScanOnly))
}

func TestLaneQueues(t *testing.T) {
	queues := LaneQueues("build")
	require.Len(t, queues, MaxPriority)

	// Priority 1 jobs drain first, so their sub-queue carries the
	// top weight.
	assert.Equal(t, 10, queues["build:p1"])
	assert.Equal(t, 1, queues["build:p10"])
	for p := MinPriority; p < MaxPriority; p++ {
		assert.Greater(t, queues[QueueName("build", p)], queues[QueueName("build", p+1)])
	}

	// Lanes never share sub-queues.
	for name := range LaneQueues("scan") {
		_, overlap := queues[name]
		assert.False(t, overlap, "queue %s in both lanes", name)
	}
}

func TestNewScanDispatchTask(t *testing.T) {
	t.Run("routes to lane sub-queue", func(t *testing.T) {
		p := validPayload()
		p.Kind = string(scan.KindScanOnly)
		p.Priority = 8

		task, err := NewScanDispatchTask(p)
		require.NoError(t, err)
		assert.Equal(t, TypeScanDispatch, task.Type())

		var decoded ScanDispatchPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
		assert.Equal(t, p.ScanID, decoded.ScanID)
	})

	t.Run("rejects invalid payload", func(t *testing.T) {
		p := validPayload()
		p.Priority = 99
		_, err := NewScanDispatchTask(p)
		assert.Error(t, err)
	})
}

type fakeDispatcher struct {
	calls []shared.ID
	err   error
}

func (f *fakeDispatcher) DispatchScan(_ context.Context, id shared.ID) error {
	f.calls = append(f.calls, id)
	return f.err
}

func TestHandleScanDispatch(t *testing.T) {
	newHandler := func(d *fakeDispatcher) *scanTaskHandler {
		return &scanTaskHandler{dispatcher: d, logger: logger.NewNop()}
	}

	t.Run("dispatches decoded job", func(t *testing.T) {
		d := &fakeDispatcher{}
		p := validPayload()
		data, _ := json.Marshal(p)

		err := newHandler(d).HandleScanDispatch(context.Background(), asynq.NewTask(TypeScanDispatch, data))
		require.NoError(t, err)
		require.Len(t, d.calls, 1)
		assert.Equal(t, p.ScanID, d.calls[0].String())
	})

	t.Run("archives undecodable payload", func(t *testing.T) {
		d := &fakeDispatcher{}
		err := newHandler(d).HandleScanDispatch(context.Background(), asynq.NewTask(TypeScanDispatch, []byte("{not json")))
		require.Error(t, err)
		assert.True(t, errors.Is(err, asynq.SkipRetry))
		assert.Empty(t, d.calls)
	})

	t.Run("archives payload failing validation", func(t *testing.T) {
		d := &fakeDispatcher{}
		p := validPayload()
		p.Kind = "BOGUS"
		data, _ := json.Marshal(p)

		err := newHandler(d).HandleScanDispatch(context.Background(), asynq.NewTask(TypeScanDispatch, data))
		require.Error(t, err)
		assert.True(t, errors.Is(err, asynq.SkipRetry))
	})

	t.Run("dispatcher error is retryable", func(t *testing.T) {
		d := &fakeDispatcher{err: errors.New("pipeline store unavailable")}
		data, _ := json.Marshal(validPayload())

		err := newHandler(d).HandleScanDispatch(context.Background(), asynq.NewTask(TypeScanDispatch, data))
		require.Error(t, err)
		assert.False(t, errors.Is(err, asynq.SkipRetry))
	})
}
