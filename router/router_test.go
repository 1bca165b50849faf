package router

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/evalforge/backend/capacity"
	"github.com/evalforge/backend/dispatch"
	"github.com/evalforge/backend/eval"
	"github.com/evalforge/backend/evbus"
	"github.com/evalforge/backend/evstate"
	"github.com/evalforge/backend/sandbox"
	"github.com/evalforge/backend/sandbox/simbox"
	"github.com/evalforge/backend/srvcerror"
)

type harness struct {
	bus     *evbus.Bus
	machine *evstate.Machine
	pool    *capacity.InMemPool
	router  *Router
}

func newHarness(t *testing.T, slots int, cfg Config, behavior simbox.BehaviorFunc) *harness {
	t.Helper()
	logger := slog.Default()

	bus := evbus.NewBus(logger)
	machine := evstate.NewMachine(logger, evstate.NewInMemStore())
	bus.Attach(func(ev eval.Event) {
		if _, err := machine.Apply(context.Background(), ev); err != nil {
			t.Errorf("apply failed: %v", err)
		}
	})

	pool := capacity.NewInMemPool(logger, slots)
	provider := simbox.NewProvider(logger, behavior)
	limits := eval.DefaultNodeLimits()
	dispatcher := dispatch.NewDispatcher(
		logger, pool, bus, machine, provider, limits, dispatch.DefaultConfig())

	r := NewRouter(logger, dispatcher, machine, bus, limits, cfg)
	r.Start()
	t.Cleanup(r.Close)

	return &harness{bus: bus, machine: machine, pool: pool, router: r}
}

func submitReq() SubmitRequest {
	return SubmitRequest{
		Code:     "print(1)",
		Priority: 1,
		Reqs:     eval.ResourceReqs{MemKiB: 1024, CpuMs: 100, TimeoutSec: 5},
		Risk:     eval.RiskUnknown,
	}
}

func (h *harness) waitStatus(t *testing.T, id uuid.UUID, want eval.Status, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case <-deadline:
			cur, _ := h.machine.Current(context.Background(), id)
			t.Fatalf("evaluation %s never reached %s, status %s", id, want, cur.Status)
		case <-time.After(10 * time.Millisecond):
			cur, err := h.machine.Current(context.Background(), id)
			require.NoError(t, err)
			if cur.Status == want {
				return
			}
		}
	}
}

func (h *harness) waitFree(t *testing.T, want int, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case <-deadline:
			free, _ := h.pool.Free(context.Background())
			t.Fatalf("slot never released, free %d want %d", free, want)
		case <-time.After(10 * time.Millisecond):
			free, err := h.pool.Free(context.Background())
			require.NoError(t, err)
			if free == want {
				return
			}
		}
	}
}

func TestSubmitRunsToCompletion(t *testing.T) {
	h := newHarness(t, 2, DefaultConfig(), nil)

	id, err := h.router.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	h.waitStatus(t, id, eval.StatusCompleted, 5*time.Second)
}

func TestSubmitRejectsInvalidRequestSynchronously(t *testing.T) {
	h := newHarness(t, 1, DefaultConfig(), nil)

	req := submitReq()
	req.Code = ""
	_, err := h.router.Submit(context.Background(), req)
	require.Error(t, err)
	require.False(t, srvcerror.IsRetryable(err))

	req = submitReq()
	req.Reqs.MemKiB = eval.DefaultNodeLimits().MaxMemKiB * 10
	_, err = h.router.Submit(context.Background(), req)
	require.Error(t, err)
}

func TestCapacityRetryEventuallyAdmits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackoffInitial = 20 * time.Millisecond
	cfg.BackoffMax = 100 * time.Millisecond

	// one slot, units hold it for 300ms; later submissions hit the
	// capacity rejection and must be parked and retried, not failed
	h := newHarness(t, 1, cfg, func(spec sandbox.Spec) simbox.Behavior {
		return simbox.Behavior{RunFor: 300 * time.Millisecond}
	})

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id, err := h.router.Submit(context.Background(), submitReq())
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, id := range ids {
		h.waitStatus(t, id, eval.StatusCompleted, 10*time.Second)
	}
}

func TestQueueSLAExceededFailsTask(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSLA = 200 * time.Millisecond
	cfg.BackoffInitial = 50 * time.Millisecond

	h := newHarness(t, 1, cfg, func(spec sandbox.Spec) simbox.Behavior {
		return simbox.Behavior{RunFor: time.Minute}
	})

	blocker, err := h.router.Submit(context.Background(), submitReq())
	require.NoError(t, err)
	h.waitStatus(t, blocker, eval.StatusRunning, 5*time.Second)

	starved, err := h.router.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	h.waitStatus(t, starved, eval.StatusFailed, 5*time.Second)
	cur, err := h.machine.Current(context.Background(), starved)
	require.NoError(t, err)
	require.Equal(t, "queue_sla_exceeded", cur.Outcome.Reason)
}

func TestCancelQueuedTaskNeverDispatches(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackoffInitial = 50 * time.Millisecond

	h := newHarness(t, 1, cfg, func(spec sandbox.Spec) simbox.Behavior {
		return simbox.Behavior{RunFor: time.Minute}
	})

	blocker, err := h.router.Submit(context.Background(), submitReq())
	require.NoError(t, err)
	h.waitStatus(t, blocker, eval.StatusRunning, 5*time.Second)

	queued, err := h.router.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	require.NoError(t, h.router.Cancel(context.Background(), queued, "user_requested"))

	h.waitStatus(t, queued, eval.StatusCancelled, 5*time.Second)

	free, err := h.pool.Free(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, free, "only the blocker holds a slot; the cancelled task never claimed one")
}

func TestCancelDuringAdmissionReapsUnit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 0 // drive the worker path by hand

	h := newHarness(t, 1, cfg, func(spec sandbox.Spec) simbox.Behavior {
		return simbox.Behavior{RunFor: time.Minute}
	})

	id, err := h.router.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	tk, ok := h.router.q.pop()
	require.True(t, ok)
	require.Equal(t, id, tk.ev.ID)

	// the cancel landed after the worker's queued check, while the
	// dispatcher was still admitting the task
	tk.cancelReason = "user_requested"
	tk.cancelled.Store(true)

	h.router.dispatchTask(tk)

	h.waitStatus(t, id, eval.StatusCancelled, 5*time.Second)
	h.waitFree(t, 1, 5*time.Second)
}

func TestCancelAfterDispatchBeforeForgetReapsUnit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 0

	h := newHarness(t, 1, cfg, func(spec sandbox.Spec) simbox.Behavior {
		return simbox.Behavior{RunFor: time.Minute}
	})

	id, err := h.router.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	tk, ok := h.router.q.pop()
	require.True(t, ok)

	// unit created and supervised, but the task is still tracked as pending
	require.NoError(t, h.router.disp.Execute(context.Background(), tk.ev))

	require.NoError(t, h.router.Cancel(context.Background(), id, "user_requested"))

	h.waitStatus(t, id, eval.StatusCancelled, 5*time.Second)
	h.waitFree(t, 1, 5*time.Second)
}

func TestCancelInFlightForwardsToDispatcher(t *testing.T) {
	h := newHarness(t, 1, DefaultConfig(), func(spec sandbox.Spec) simbox.Behavior {
		return simbox.Behavior{RunFor: time.Minute}
	})

	id, err := h.router.Submit(context.Background(), submitReq())
	require.NoError(t, err)
	h.waitStatus(t, id, eval.StatusRunning, 5*time.Second)

	require.NoError(t, h.router.Cancel(context.Background(), id, "user_requested"))
	h.waitStatus(t, id, eval.StatusCancelled, 5*time.Second)
}
