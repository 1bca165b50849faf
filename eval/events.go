package eval

import (
	"time"

	"github.com/google/uuid"
)

const (
	MsgTypeQueued       = "evaluation:queued"
	MsgTypeProvisioning = "evaluation:provisioning"
	MsgTypeRunning      = "evaluation:running"
	MsgTypeCompleted    = "evaluation:completed"
	MsgTypeFailed       = "evaluation:failed"
	MsgTypeTimeout      = "evaluation:timeout"
	MsgTypeCancelled    = "evaluation:cancelled"
)

// Meta is carried by every lifecycle event. SeqHint is a best-effort
// ordering hint, not a guarantee; consumers must stay idempotent and rely on
// the state machine's terminal lock instead of arrival order.
type Meta struct {
	EvalID  uuid.UUID `json:"eval_id"`
	At      time.Time `json:"at"`
	SeqHint int64     `json:"seq_hint"`
}

// Event is an immutable fact about an evaluation's progress.
type Event interface {
	Type() string
	Header() Meta
}

type Queued struct {
	Meta
}

func (e Queued) Type() string { return MsgTypeQueued }
func (e Queued) Header() Meta { return e.Meta }

type Provisioning struct {
	Meta
	UnitRef string `json:"unit_ref"` // execution unit reference
}

func (e Provisioning) Type() string { return MsgTypeProvisioning }
func (e Provisioning) Header() Meta { return e.Meta }

type Running struct {
	Meta
	SysInfo string `json:"sys_info"` // sandbox host info, if reported
}

func (e Running) Type() string { return MsgTypeRunning }
func (e Running) Header() Meta { return e.Meta }

type Completed struct {
	Meta
	ExitCode    *int64 `json:"exit_code"`
	CodeUnknown bool   `json:"code_unknown"`
	Output      string `json:"output"` // trimmed output preview
}

func (e Completed) Type() string { return MsgTypeCompleted }
func (e Completed) Header() Meta { return e.Meta }

type Failed struct {
	Meta
	Reason   string `json:"reason"` // e.g. "exit_code", "infrastructure"
	ExitCode *int64 `json:"exit_code"`
	Output   string `json:"output"`
}

func (e Failed) Type() string { return MsgTypeFailed }
func (e Failed) Header() Meta { return e.Meta }

type TimedOut struct {
	Meta
	Output string `json:"output"` // whatever was flushed before the kill
}

func (e TimedOut) Type() string { return MsgTypeTimeout }
func (e TimedOut) Header() Meta { return e.Meta }

type Cancelled struct {
	Meta
	Reason string `json:"reason"`
}

func (e Cancelled) Type() string { return MsgTypeCancelled }
func (e Cancelled) Header() Meta { return e.Meta }

// StatusOf maps an event to the lifecycle state it drives the evaluation to.
func StatusOf(ev Event) Status {
	switch ev.(type) {
	case Queued:
		return StatusQueued
	case Provisioning:
		return StatusProvisioning
	case Running:
		return StatusRunning
	case Completed:
		return StatusCompleted
	case Failed:
		return StatusFailed
	case TimedOut:
		return StatusTimeout
	case Cancelled:
		return StatusCancelled
	}
	return ""
}

// IsTerminalEvent reports whether ev settles the evaluation.
func IsTerminalEvent(ev Event) bool {
	return StatusOf(ev).IsTerminal()
}

// OutcomeOf derives the terminal outcome an event carries, or nil for
// non-terminal events.
func OutcomeOf(ev Event) *Outcome {
	switch e := ev.(type) {
	case Completed:
		return &Outcome{Signal: ExitSuccess, ExitCode: e.ExitCode, CodeUnknown: e.CodeUnknown}
	case Failed:
		return &Outcome{Signal: ExitFailure, ExitCode: e.ExitCode, CodeUnknown: e.ExitCode == nil, Reason: e.Reason}
	case TimedOut:
		return &Outcome{Signal: ExitTimeout, CodeUnknown: true}
	case Cancelled:
		return &Outcome{Signal: ExitCancelled, CodeUnknown: true, Reason: e.Reason}
	}
	return nil
}
