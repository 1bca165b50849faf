package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/rand"

	"github.com/evalforge/backend/dispatch"
	"github.com/evalforge/backend/eval"
	"github.com/evalforge/backend/evbus"
	"github.com/evalforge/backend/evstate"
	"github.com/evalforge/backend/metrics"
	"github.com/evalforge/backend/srvcerror"
)

// Config tunes the router's workers and retry policy.
type Config struct {
	Workers int
	// QueueSLA bounds the total wait of a capacity-starved task. Retries
	// are unbounded in count but a task that cannot be admitted within the
	// SLA is failed rather than parked forever.
	QueueSLA       time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:        8,
		QueueSLA:       10 * time.Minute,
		BackoffInitial: 200 * time.Millisecond,
		BackoffMax:     15 * time.Second,
	}
}

// SubmitRequest is one incoming evaluation submission.
type SubmitRequest struct {
	Code     string
	Priority int
	Reqs     eval.ResourceReqs
	Risk     eval.RiskLevel
}

// Router orders pending evaluations by priority, routes them to the
// dispatcher and retries transient capacity rejections with exponential
// backoff and jitter. Validation failures never enter the queue.
type Router struct {
	logger  *slog.Logger
	q       *queue
	disp    *dispatch.Dispatcher
	machine *evstate.Machine
	bus     *evbus.Bus
	limits  eval.NodeLimits
	cfg     Config

	seq atomic.Int64

	mu      sync.Mutex
	pending map[uuid.UUID]*task // queued or parked for backoff

	wg sync.WaitGroup
}

func NewRouter(
	logger *slog.Logger,
	disp *dispatch.Dispatcher,
	machine *evstate.Machine,
	bus *evbus.Bus,
	limits eval.NodeLimits,
	cfg Config,
) *Router {
	return &Router{
		logger:  logger.With("module", "router"),
		q:       newQueue(),
		disp:    disp,
		machine: machine,
		bus:     bus,
		limits:  limits,
		cfg:     cfg,
		pending: make(map[uuid.UUID]*task),
	}
}

// Start launches the dequeue workers.
func (r *Router) Start() {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.worker()
		}()
	}
}

// Close stops accepting work and waits for the workers to drain.
func (r *Router) Close() {
	r.q.close()
	r.wg.Wait()
}

// Submit validates and enqueues one evaluation. Returns the evaluation id.
// Validation failures are synchronous and the request never enters the
// queue; everything after admission is communicated through lifecycle
// events and the status endpoint.
func (r *Router) Submit(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	if err := eval.Validate(req.Code, req.Reqs, req.Risk, r.limits); err != nil {
		return uuid.Nil, err
	}

	ev := eval.Evaluation{
		ID:        uuid.New(),
		Code:      req.Code,
		Priority:  req.Priority,
		Reqs:      req.Reqs,
		Risk:      req.Risk,
		CreatedAt: time.Now(),
	}
	if err := r.machine.Create(ctx, ev); err != nil {
		return uuid.Nil, srvcerror.ErrInternalSE().SetDebug(err)
	}

	t := &task{
		ev:         ev,
		seq:        r.seq.Add(1),
		enqueuedAt: time.Now(),
	}
	r.mu.Lock()
	r.pending[ev.ID] = t
	r.mu.Unlock()

	r.bus.Publish(eval.Queued{Meta: eval.Meta{EvalID: ev.ID, At: time.Now(), SeqHint: t.seq}})
	r.q.push(t)
	return ev.ID, nil
}

// Cancel removes a queued task without ever invoking the dispatcher, or
// forwards the cancel for an in-flight one.
func (r *Router) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	t, pending := r.pending[id]
	r.mu.Unlock()

	if pending {
		t.cancelReason = reason
		t.cancelled.Store(true)
		r.q.remove(id) // may be parked for backoff instead; the flag covers that
		r.forget(id)
		r.bus.Publish(eval.Cancelled{
			Meta:   eval.Meta{EvalID: id, At: time.Now(), SeqHint: r.seq.Add(1)},
			Reason: reason,
		})
		// a worker may have handed the task to the dispatcher already; the
		// terminal event above wins, but the unit it created must still be
		// reaped rather than run out its full timeout
		if err := r.disp.Cancel(ctx, id, reason); err != nil {
			r.logger.Debug("task never reached the dispatcher", "eval_id", id)
		}
		return nil
	}

	return r.disp.Cancel(ctx, id, reason)
}

func (r *Router) forget(id uuid.UUID) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

func (r *Router) worker() {
	for {
		t, ok := r.q.pop()
		if !ok {
			return
		}
		if t.cancelled.Load() {
			continue // cancelled while queued, never dispatched
		}
		r.dispatchTask(t)
	}
}

func (r *Router) dispatchTask(t *task) {
	ctx := context.Background()
	err := r.disp.Execute(ctx, t.ev)
	if err == nil {
		r.forget(t.ev.ID)
		if t.cancelled.Load() {
			// the cancel landed mid-admission, before the dispatcher knew
			// the evaluation; forward it now that supervision exists
			if cErr := r.disp.Cancel(ctx, t.ev.ID, t.cancelReason); cErr != nil {
				r.logger.Warn("failed to forward late cancel",
					"eval_id", t.ev.ID, "error", cErr)
			}
		}
		return
	}

	if !srvcerror.IsRetryable(err) {
		// permanent rejections are settled, never retried
		r.forget(t.ev.ID)
		r.logger.Warn("task rejected permanently", "eval_id", t.ev.ID, "error", err)
		r.bus.Publish(eval.Failed{
			Meta:   eval.Meta{EvalID: t.ev.ID, At: time.Now(), SeqHint: r.seq.Add(1)},
			Reason: err.Error(),
		})
		return
	}

	metrics.CapacityRetries.Inc()
	delay := r.backoffDelay(t.attempt)
	if time.Since(t.enqueuedAt)+delay > r.cfg.QueueSLA {
		r.forget(t.ev.ID)
		r.logger.Warn("queue SLA exceeded", "eval_id", t.ev.ID, "waited", time.Since(t.enqueuedAt))
		r.bus.Publish(eval.Failed{
			Meta:   eval.Meta{EvalID: t.ev.ID, At: time.Now(), SeqHint: r.seq.Add(1)},
			Reason: "queue_sla_exceeded",
		})
		return
	}

	t.attempt++
	time.AfterFunc(delay, func() {
		if t.cancelled.Load() {
			return
		}
		r.q.push(t)
	})
}

// backoffDelay grows exponentially with the attempt count, capped at
// BackoffMax, with +-50% jitter to spread synchronized retries.
func (r *Router) backoffDelay(attempt int) time.Duration {
	d := r.cfg.BackoffInitial
	for i := 0; i < attempt && d < r.cfg.BackoffMax; i++ {
		d *= 2
	}
	if d > r.cfg.BackoffMax {
		d = r.cfg.BackoffMax
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(d) * jitter)
}

// QueueLen reports how many tasks are waiting (not parked for backoff).
func (r *Router) QueueLen() int {
	return r.q.len()
}
