package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/evalforge/backend/capacity"
	"github.com/evalforge/backend/eval"
	"github.com/evalforge/backend/evbus"
	"github.com/evalforge/backend/evstate"
	"github.com/evalforge/backend/sandbox"
)

// Config bounds the dispatcher's supervision behavior.
type Config struct {
	// WatchRetryMaxElapsed caps how long a dropped watch stream is retried
	// before the evaluation is settled as failed("infrastructure") instead
	// of being left in limbo.
	WatchRetryMaxElapsed time.Duration
}

func DefaultConfig() Config {
	return Config{
		WatchRetryMaxElapsed: 30 * time.Second,
	}
}

// Dispatcher converts an admitted task into a running isolated execution
// unit and supervises it to exactly one terminal outcome. It exclusively
// owns the slot lifecycle: the slot is claimed before unit creation and
// released exactly once when the evaluation settles.
type Dispatcher struct {
	logger   *slog.Logger
	pool     capacity.Pool
	bus      *evbus.Bus
	machine  *evstate.Machine
	provider sandbox.Provider
	limits   eval.NodeLimits
	cfg      Config

	seq atomic.Int64 // best-effort sequence hints for emitted events

	mu     sync.Mutex
	active map[uuid.UUID]*supervision
}

type supervision struct {
	ev   eval.Evaluation
	unit sandbox.Unit
	slot *capacity.Slot

	settled  atomic.Bool // exactly one terminal event per evaluation
	cancelCh chan string // cancel reason, buffered
}

func NewDispatcher(
	logger *slog.Logger,
	pool capacity.Pool,
	bus *evbus.Bus,
	machine *evstate.Machine,
	provider sandbox.Provider,
	limits eval.NodeLimits,
	cfg Config,
) *Dispatcher {
	return &Dispatcher{
		logger:   logger.With("module", "dispatch"),
		pool:     pool,
		bus:      bus,
		machine:  machine,
		provider: provider,
		limits:   limits,
		cfg:      cfg,
		active:   make(map[uuid.UUID]*supervision),
	}
}

// Execute admits one evaluation:
//  1. impossible resource requests are rejected synchronously, never queued
//  2. a slot is claimed atomically; exhaustion is a retryable rejection
//  3. the execution unit is created and supervision starts
//
// The provisioning event is emitted upon the creation request, not upon
// confirmed start, so the state machine has an early authoritative signal.
func (d *Dispatcher) Execute(ctx context.Context, ev eval.Evaluation) error {
	if err := eval.ValidateReqs(ev.Reqs, d.limits); err != nil {
		return err
	}

	slot, err := d.pool.TryClaim(ctx, ev.ID)
	if err != nil {
		return err
	}

	unit, err := d.provider.Create(ctx, sandbox.Spec{
		EvalID:     ev.ID,
		Code:       ev.Code,
		MemKiB:     ev.Reqs.MemKiB,
		CpuMs:      ev.Reqs.CpuMs,
		TimeoutSec: ev.Reqs.TimeoutSec,
	})
	if err != nil {
		if _, relErr := d.pool.Release(ctx, slot); relErr != nil {
			d.logger.Error("failed to release slot after create failure",
				"eval_id", ev.ID, "error", relErr)
		}
		return eval.ErrSandboxUnavailable().SetDebug(err)
	}

	sup := &supervision{
		ev:       ev,
		unit:     unit,
		slot:     slot,
		cancelCh: make(chan string, 1),
	}
	d.mu.Lock()
	d.active[ev.ID] = sup
	d.mu.Unlock()

	d.publish(eval.Provisioning{Meta: d.meta(ev.ID), UnitRef: unit.ID})

	go d.supervise(sup)
	return nil
}

// Cancel requests termination of an in-flight evaluation. The race between
// a cancel and natural completion is resolved by whichever terminal event
// settles first; the loser becomes a no-op.
func (d *Dispatcher) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	d.mu.Lock()
	sup, ok := d.active[id]
	d.mu.Unlock()
	if !ok {
		if d.machine.IsTerminal(ctx, id) {
			return nil // already settled, cancel is a no-op
		}
		return eval.ErrEvalNotFound()
	}
	select {
	case sup.cancelCh <- reason:
	default:
		// a cancel is already pending
	}
	return nil
}

// ActiveCount reports how many evaluations are currently supervised.
func (d *Dispatcher) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

func (d *Dispatcher) meta(id uuid.UUID) eval.Meta {
	return eval.Meta{
		EvalID:  id,
		At:      time.Now(),
		SeqHint: d.seq.Add(1),
	}
}

func (d *Dispatcher) publish(ev eval.Event) {
	d.bus.Publish(ev)
}

// settle emits the terminal event and releases the slot, both exactly once.
// Duplicate underlying signals (a success callback and a failure callback
// racing for the same unit) hit the CAS and are logged, never re-released.
func (d *Dispatcher) settle(sup *supervision, terminal eval.Event) {
	if !sup.settled.CompareAndSwap(false, true) {
		d.logger.Warn("duplicate terminal signal discarded",
			"eval_id", sup.ev.ID, "event", terminal.Type())
		return
	}

	// inline bus handlers apply the transition before the slot frees up,
	// so the terminal-state guard is in place for any late signals
	d.publish(terminal)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := d.pool.Release(ctx, sup.slot); err != nil {
		d.logger.Error("failed to release slot", "eval_id", sup.ev.ID, "error", err)
	}

	d.mu.Lock()
	delete(d.active, sup.ev.ID)
	d.mu.Unlock()

	if f, ok := d.provider.(interface{ Forget(uuid.UUID) }); ok {
		f.Forget(sup.ev.ID)
	}
}

func trimOutput(s string) string {
	const maxPreview = 8 * 1024
	if len(s) > maxPreview {
		return s[:maxPreview]
	}
	return s
}
