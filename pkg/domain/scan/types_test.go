package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_IsTerminal(t *testing.T) {
	terminal := []Status{
		StatusSuccess, StatusBlocked, StatusFailed, StatusFailedBuild,
		StatusFailedSecurity, StatusFailedTrigger, StatusCancelled,
	}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "expected %s to be terminal", s)
	}

	live := []Status{
		StatusPending, StatusQueued, StatusRunning, StatusProcessing,
		StatusWaitingConfirmation,
	}
	for _, s := range live {
		assert.False(t, s.IsTerminal(), "expected %s to be non-terminal", s)
	}
}

func TestStatus_IsCancellable(t *testing.T) {
	assert.True(t, StatusQueued.IsCancellable())
	assert.True(t, StatusPending.IsCancellable())
	assert.True(t, StatusRunning.IsCancellable())
	assert.True(t, StatusProcessing.IsCancellable())

	// A scan waiting on the release gate has already finished scanning;
	// the gate is resolved by confirm or force-cancel, not user cancel.
	assert.False(t, StatusWaitingConfirmation.IsCancellable())
	assert.False(t, StatusSuccess.IsCancellable())
	assert.False(t, StatusCancelled.IsCancellable())
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{name: "queued to running", from: StatusQueued, to: StatusRunning, want: true},
		{name: "pending to failed trigger", from: StatusPending, to: StatusFailedTrigger, want: true},
		{name: "running to waiting confirmation", from: StatusRunning, to: StatusWaitingConfirmation, want: true},
		{name: "running to failed security", from: StatusRunning, to: StatusFailedSecurity, want: true},
		{name: "processing to blocked", from: StatusProcessing, to: StatusBlocked, want: true},
		{name: "waiting confirmation to success", from: StatusWaitingConfirmation, to: StatusSuccess, want: true},
		{name: "self transition rejected", from: StatusRunning, to: StatusRunning, want: false},
		{name: "terminal is a sink", from: StatusSuccess, to: StatusRunning, want: false},
		{name: "cancelled cannot resurrect", from: StatusCancelled, to: StatusSuccess, want: false},
		{name: "queued cannot skip to success", from: StatusQueued, to: StatusSuccess, want: false},
		{name: "waiting confirmation cannot regress", from: StatusWaitingConfirmation, to: StatusRunning, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatus_Progress(t *testing.T) {
	assert.Equal(t, 10, StatusQueued.Progress())
	assert.Equal(t, 50, StatusRunning.Progress())
	assert.Equal(t, 90, StatusWaitingConfirmation.Progress())
	assert.Equal(t, 100, StatusFailedSecurity.Progress())
	assert.Equal(t, 100, StatusSuccess.Progress())
}

func TestKind_IsValid(t *testing.T) {
	assert.True(t, KindScanOnly.IsValid())
	assert.True(t, KindScanAndBuild.IsValid())
	assert.False(t, Kind("BUILD_ONLY").IsValid())
	assert.False(t, Kind("").IsValid())
}
