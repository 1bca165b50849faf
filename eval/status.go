package eval

// Status is the lifecycle state of an evaluation.
//
// queued -> provisioning -> running -> {completed, failed, timeout, cancelled}
//
// The four right-hand states are terminal. Lifecycle events arrive from job
// supervision at least once and possibly out of order, so the graph is
// treated as a monotonic lattice: a non-terminal state may only advance
// forward, terminal states absorb everything, and the first terminal event
// wins. A "completed" that outruns its "provisioning" is accepted; the late
// "provisioning" is then rejected as an invalid transition.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusProvisioning Status = "provisioning"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusTimeout      Status = "timeout"
	StatusCancelled    Status = "cancelled"
)

// IsTerminal reports whether no further transition is permitted from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// rank orders the non-terminal states along the forward path.
func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusProvisioning:
		return 1
	case StatusRunning:
		return 2
	}
	return 3
}

// CanTransitionTo reports whether moving from s to next is a valid forward
// transition. Terminal states accept nothing. Any terminal state (including
// cancelled) is reachable from any non-terminal state.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next.IsTerminal() {
		return true
	}
	return next.rank() > s.rank()
}

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProvisioning, StatusRunning,
		StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}
