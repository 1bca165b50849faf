package eval

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel declares how much the submitted code is trusted. It scales the
// grace window a unit gets between the cooperative stop signal and forced
// termination: hostile code gets the shortest window so a workload cannot
// keep running long past its deadline.
type RiskLevel string

const (
	RiskTrusted RiskLevel = "trusted"
	RiskUnknown RiskLevel = "unknown"
	RiskHostile RiskLevel = "hostile"
)

// GracePeriod returns the cooperative-shutdown window for the risk level.
func (r RiskLevel) GracePeriod() time.Duration {
	switch r {
	case RiskTrusted:
		return 10 * time.Second
	case RiskHostile:
		return 1 * time.Second
	default:
		return 3 * time.Second
	}
}

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskTrusted, RiskUnknown, RiskHostile:
		return true
	}
	return false
}

// ResourceReqs are the declared limits for one execution unit.
type ResourceReqs struct {
	MemKiB     int `json:"mem_kib"`     // maximum resident set size in kibibytes
	CpuMs      int `json:"cpu_ms"`      // maximum user-mode CPU time in milliseconds
	TimeoutSec int `json:"timeout_sec"` // wall-clock timeout in seconds
}

// NodeLimits are the absolute per-node maxima. A request above these is
// impossible regardless of current load and is rejected synchronously.
type NodeLimits struct {
	MaxMemKiB     int
	MaxCpuMs      int
	MaxTimeoutSec int
	MaxCodeSizeB  int
}

// DefaultNodeLimits mirror the largest tester node in the fleet.
func DefaultNodeLimits() NodeLimits {
	return NodeLimits{
		MaxMemKiB:     1024 * 1024, // 1 GiB
		MaxCpuMs:      10 * 1000,   // 10 seconds
		MaxTimeoutSec: 60,
		MaxCodeSizeB:  256 * 1024, // 256 KiB
	}
}

// ExitSignal classifies why an evaluation reached its terminal state.
type ExitSignal string

const (
	ExitSuccess   ExitSignal = "success"
	ExitFailure   ExitSignal = "failure"
	ExitTimeout   ExitSignal = "timeout"
	ExitCancelled ExitSignal = "cancelled"
)

// Outcome is the terminal result of an evaluation. The unit-native
// completion status and the exit code are observed through two weakly
// synchronized channels; when only the completion status is available the
// exit code stays nil and CodeUnknown is set instead of guessing.
type Outcome struct {
	Signal      ExitSignal `json:"signal"`
	ExitCode    *int64     `json:"exit_code"`
	CodeUnknown bool       `json:"code_unknown"`
	Reason      string     `json:"reason,omitempty"` // e.g. "infrastructure"
}

// Evaluation is the unit of work: one submitted piece of untrusted code plus
// its execution metadata and outcome. Status is mutated only through the
// state machine; the record is never deleted, only marked terminal.
type Evaluation struct {
	ID       uuid.UUID    `json:"id"`
	Code     string       `json:"code"`
	Status   Status       `json:"status"`
	Priority int          `json:"priority"`
	Reqs     ResourceReqs `json:"reqs"`
	Risk     RiskLevel    `json:"risk"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	Outcome *Outcome `json:"outcome"`

	// OutputRef is an opaque pointer to externally stored output. It is
	// owned by the result publisher, never read back for decisions.
	OutputRef *string `json:"output_ref"`

	Version int64 `json:"version"` // optimistic concurrency check
}
