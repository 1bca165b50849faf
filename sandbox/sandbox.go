package sandbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Spec describes one isolated execution unit to create.
type Spec struct {
	EvalID     uuid.UUID `json:"eval_id"`
	Code       string    `json:"code"`
	MemKiB     int       `json:"mem_kib"`
	CpuMs      int       `json:"cpu_ms"`
	TimeoutSec int       `json:"timeout_sec"`
}

// Unit is an opaque handle to a created execution unit.
type Unit struct {
	ID     string    `json:"id"`
	EvalID uuid.UUID `json:"eval_id"`
}

type SignalKind string

const (
	// SignalStarted: the unit began executing the payload.
	SignalStarted SignalKind = "started"
	// SignalExited: unit-native completion. ExitCode may be nil when the
	// exit-code channel lagged behind the completion channel.
	SignalExited SignalKind = "exited"
	// SignalFailed: externally observed failure (the unit never reported).
	SignalFailed SignalKind = "failed"
)

// Signal is one lifecycle observation for a unit. The completion signal and
// the exit code travel through weakly synchronized channels, so consumers
// must not assume an Exited signal carries a code.
type Signal struct {
	Kind     SignalKind
	ExitCode *int64
	Output   string // trimmed stdout/stderr preview
	SysInfo  string // host info, on Started
	Err      string // failure detail, on Failed
	At       time.Time
}

// Provider is the execution sandbox capability. The core treats it as
// opaque and assumes no particular sandboxing technology.
type Provider interface {
	Create(ctx context.Context, spec Spec) (Unit, error)
	// Watch streams lifecycle signals for the unit. The stream ends when
	// the unit settles or the context is cancelled. A broken stream is
	// reported as an error so the caller can retry the watch.
	Watch(ctx context.Context, unit Unit) (<-chan Signal, error)
	// Terminate sends the cooperative stop signal. Forced teardown is the
	// provider's duty once the stop is delivered.
	Terminate(ctx context.Context, unit Unit) error
}
