package evstate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evalforge/backend/eval"
	"github.com/evalforge/backend/metrics"
)

// Machine owns all Evaluation.status mutation. Transitions for one
// evaluation are serialized under that evaluation's lock; different
// evaluations proceed fully in parallel. Events arrive at least once and
// possibly out of order, so every write is guarded by the transition check —
// the first terminal event wins and every later one is a logged no-op.
type Machine struct {
	logger *slog.Logger
	store  Store

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewMachine(logger *slog.Logger, store Store) *Machine {
	return &Machine{
		logger: logger.With("module", "evstate"),
		store:  store,
		locks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

func (m *Machine) lockFor(id uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// evict drops a settled evaluation's mutex so the map does not grow without
// bound. A late Apply may race on a fresh mutex, but every path through a
// terminal state is a read-only no-op.
func (m *Machine) evict(id uuid.UUID) {
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
}

// Create registers a new evaluation in the queued state.
func (m *Machine) Create(ctx context.Context, e eval.Evaluation) error {
	l := m.lockFor(e.ID)
	l.Lock()
	defer l.Unlock()

	e.Status = eval.StatusQueued
	e.Version = 1
	return m.store.Save(ctx, e)
}

// Apply validates and applies the transition an event drives. It reports
// whether the evaluation changed. Invalid or out-of-order transitions are
// counted and discarded, never surfaced as errors: correctness depends on
// them being safe no-ops.
func (m *Machine) Apply(ctx context.Context, ev eval.Event) (bool, error) {
	id := ev.Header().EvalID
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}

	target := eval.StatusOf(ev)
	if target == cur.Status {
		// duplicate delivery of the current state, idempotent no-op; also
		// covers the queued event mirroring creation
		if cur.Status.IsTerminal() {
			m.evict(id)
		}
		return false, nil
	}
	if !cur.Status.CanTransitionTo(target) {
		metrics.InvalidTransitions.Inc()
		m.logger.Warn("invalid transition discarded",
			"eval_id", id,
			"current", cur.Status,
			"event", ev.Type())
		if cur.Status.IsTerminal() {
			m.evict(id)
		}
		return false, nil
	}

	cur.Status = target
	at := ev.Header().At
	if at.IsZero() {
		at = time.Now()
	}
	switch target {
	case eval.StatusRunning:
		if cur.StartedAt == nil {
			cur.StartedAt = &at
		}
	case eval.StatusCompleted, eval.StatusFailed, eval.StatusTimeout, eval.StatusCancelled:
		cur.CompletedAt = &at
		cur.Outcome = eval.OutcomeOf(ev)
	}
	cur.Version++

	if err := m.store.Save(ctx, cur); err != nil {
		return false, err
	}

	if cur.Status.IsTerminal() {
		m.evict(id)
	}
	return true, nil
}

// Current returns the evaluation's present state.
func (m *Machine) Current(ctx context.Context, id uuid.UUID) (eval.Evaluation, error) {
	return m.store.Get(ctx, id)
}

// IsTerminal reports whether the evaluation has settled. Unknown
// evaluations report false.
func (m *Machine) IsTerminal(ctx context.Context, id uuid.UUID) bool {
	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return false
	}
	return cur.Status.IsTerminal()
}
