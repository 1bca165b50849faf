package simbox

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evalforge/backend/sandbox"
)

// Behavior scripts how a simulated unit acts. Tests use it to reproduce the
// racy and silent failure modes a real sandbox fleet exhibits.
type Behavior struct {
	RunFor   time.Duration
	ExitCode int64
	Output   string

	Silent        bool // unit never reports; only external observation works
	OmitExitCode  bool // completion signal arrives without an exit code
	DuplicateExit bool // both a success and a failure signal fire
	FailCreate    bool // provider cannot create the unit
}

type BehaviorFunc func(spec sandbox.Spec) Behavior

// ScriptedBehavior derives a unit's behavior from directives in the code
// payload ("sleep 10", "exit 3"), which keeps dev mode usable without any
// real sandbox backend.
func ScriptedBehavior(spec sandbox.Spec) Behavior {
	b := Behavior{
		RunFor: 50 * time.Millisecond,
		Output: fmt.Sprintf("ran %d bytes of code\n", len(spec.Code)),
	}
	for _, line := range strings.Split(spec.Code, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) != 2 {
			continue
		}
		switch fields[0] {
		case "sleep":
			if sec, err := strconv.Atoi(fields[1]); err == nil {
				b.RunFor = time.Duration(sec) * time.Second
			}
		case "exit":
			if code, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
				b.ExitCode = code
			}
		}
	}
	return b
}

type simUnit struct {
	unit     sandbox.Unit
	behavior Behavior
	sigCh    chan sandbox.Signal
	stop     chan struct{}
	stopOnce sync.Once
}

// Provider simulates an execution sandbox in process. Used by dev mode and
// by the dispatcher tests; the production transport lives in sqsbox.
type Provider struct {
	logger   *slog.Logger
	behavior BehaviorFunc

	mu    sync.Mutex
	units map[string]*simUnit
}

func NewProvider(logger *slog.Logger, behavior BehaviorFunc) *Provider {
	if behavior == nil {
		behavior = ScriptedBehavior
	}
	return &Provider{
		logger:   logger.With("module", "simbox"),
		behavior: behavior,
		units:    make(map[string]*simUnit),
	}
}

func (p *Provider) Create(ctx context.Context, spec sandbox.Spec) (sandbox.Unit, error) {
	b := p.behavior(spec)
	if b.FailCreate {
		return sandbox.Unit{}, fmt.Errorf("simulated create failure for eval %s", spec.EvalID)
	}

	u := &simUnit{
		unit:     sandbox.Unit{ID: "sim-" + uuid.NewString(), EvalID: spec.EvalID},
		behavior: b,
		sigCh:    make(chan sandbox.Signal, 8),
		stop:     make(chan struct{}),
	}
	p.mu.Lock()
	p.units[u.unit.ID] = u
	p.mu.Unlock()

	go u.run()
	return u.unit, nil
}

func (u *simUnit) run() {
	if u.behavior.Silent {
		return
	}

	u.sigCh <- sandbox.Signal{
		Kind:    sandbox.SignalStarted,
		SysInfo: "simbox in-process sandbox",
		At:      time.Now(),
	}

	timer := time.NewTimer(u.behavior.RunFor)
	defer timer.Stop()

	select {
	case <-timer.C:
		exit := u.behavior.ExitCode
		sig := sandbox.Signal{
			Kind:   sandbox.SignalExited,
			Output: u.behavior.Output,
			At:     time.Now(),
		}
		if !u.behavior.OmitExitCode {
			sig.ExitCode = &exit
		}
		u.sigCh <- sig
		if u.behavior.DuplicateExit {
			u.sigCh <- sandbox.Signal{
				Kind: sandbox.SignalFailed,
				Err:  "duplicate completion callback",
				At:   time.Now(),
			}
		}
	case <-u.stop:
		killed := int64(137)
		u.sigCh <- sandbox.Signal{
			Kind:     sandbox.SignalExited,
			ExitCode: &killed,
			Output:   u.behavior.Output,
			At:       time.Now(),
		}
	}
}

func (p *Provider) Watch(ctx context.Context, unit sandbox.Unit) (<-chan sandbox.Signal, error) {
	p.mu.Lock()
	u, ok := p.units[unit.ID]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown unit %s", unit.ID)
	}
	return u.sigCh, nil
}

func (p *Provider) Terminate(ctx context.Context, unit sandbox.Unit) error {
	p.mu.Lock()
	u, ok := p.units[unit.ID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown unit %s", unit.ID)
	}
	u.stopOnce.Do(func() { close(u.stop) })
	return nil
}
