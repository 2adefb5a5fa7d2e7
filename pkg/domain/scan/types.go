package scan

// Kind identifies the type of work one scan record represents.
type Kind string

// Scan kinds. SCAN_AND_BUILD jobs go through the build lane and end in
// a held publish job; SCAN_ONLY jobs never produce an image.
const (
	KindScanOnly     Kind = "SCAN_ONLY"
	KindScanAndBuild Kind = "SCAN_AND_BUILD"
)

// IsValid checks if the scan kind is valid.
func (k Kind) IsValid() bool {
	return k == KindScanOnly || k == KindScanAndBuild
}

// Status represents the lifecycle state of a scan record.
type Status string

// Scan statuses.
const (
	StatusPending             Status = "PENDING"
	StatusQueued              Status = "QUEUED"
	StatusRunning             Status = "RUNNING"
	StatusProcessing          Status = "PROCESSING"
	StatusWaitingConfirmation Status = "WAITING_CONFIRMATION"
	StatusSuccess             Status = "SUCCESS"
	StatusBlocked             Status = "BLOCKED"
	StatusFailed              Status = "FAILED"
	StatusFailedBuild         Status = "FAILED_BUILD"
	StatusFailedSecurity      Status = "FAILED_SECURITY"
	StatusFailedTrigger       Status = "FAILED_TRIGGER"
	StatusCancelled           Status = "CANCELLED"
)

// IsTerminal reports whether the status is a sink: no automatic
// transition may ever leave it. Only an explicit admin force-cancel
// can override a terminal record.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusBlocked, StatusFailed, StatusFailedBuild,
		StatusFailedSecurity, StatusFailedTrigger, StatusCancelled:
		return true
	default:
		return false
	}
}

// TerminalStatuses lists every sink status. Repositories use it to
// build status guards into their write queries.
func TerminalStatuses() []Status {
	return []Status{
		StatusSuccess, StatusBlocked, StatusFailed, StatusFailedBuild,
		StatusFailedSecurity, StatusFailedTrigger, StatusCancelled,
	}
}

// IsCancellable reports whether a user-initiated cancel is allowed from
// this status.
func (s Status) IsCancellable() bool {
	switch s {
	case StatusQueued, StatusPending, StatusRunning, StatusProcessing:
		return true
	default:
		return false
	}
}

// Progress derives a coarse completion percentage for UI polling.
func (s Status) Progress() int {
	switch {
	case s == StatusPending || s == StatusQueued:
		return 10
	case s == StatusRunning || s == StatusProcessing:
		return 50
	case s == StatusWaitingConfirmation:
		return 90
	case s.IsTerminal():
		return 100
	default:
		return 0
	}
}

// CanTransitionTo reports whether moving from s to next is a legal
// state-machine transition. Terminal states are sinks.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return false
	}
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusPending, StatusQueued:
		return next == StatusRunning || next == StatusProcessing ||
			next == StatusFailedTrigger || next == StatusCancelled
	case StatusRunning, StatusProcessing:
		return next.IsTerminal() || next == StatusWaitingConfirmation
	case StatusWaitingConfirmation:
		return next == StatusSuccess || next == StatusCancelled || next == StatusFailed
	default:
		return false
	}
}
