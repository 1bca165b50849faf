package respub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/evalforge/backend/eval"
	"github.com/evalforge/backend/evbus"
	"github.com/evalforge/backend/logger"
	"github.com/evalforge/backend/metrics"
)

// Publisher listens for terminal lifecycle events and publishes the durable
// result: the captured output goes to the output store, the record to the
// result store. Publishing is asynchronous; until it lands, the logs endpoint
// reports the output as not yet ready.
type Publisher struct {
	logger  *slog.Logger
	results ResultStore
	outputs OutputStore

	pending chan eval.Event

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewPublisher(logger *slog.Logger, results ResultStore, outputs OutputStore) *Publisher {
	return &Publisher{
		logger:  logger.With("module", "respub"),
		results: results,
		outputs: outputs,
		pending: make(chan eval.Event, 1000),
		done:    make(chan struct{}),
	}
}

// AttachTo registers the publisher on the bus and starts its worker. The bus
// handler only enqueues, so slow stores never stall event emission.
func (p *Publisher) AttachTo(bus *evbus.Bus) {
	bus.Attach(p.handleEvent)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run()
	}()
}

// Close drains the queue and stops the worker.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *Publisher) handleEvent(ev eval.Event) {
	if !eval.IsTerminalEvent(ev) {
		return
	}
	select {
	case p.pending <- ev:
	default:
		metrics.DroppedEvents.Inc()
		p.logger.Error("result backlog full, dropping terminal event",
			"eval_id", ev.Header().EvalID, "event", ev.Type())
	}
}

func (p *Publisher) run() {
	for {
		select {
		case ev := <-p.pending:
			p.publish(ev)
		case <-p.done:
			// drain whatever is already queued
			for {
				select {
				case ev := <-p.pending:
					p.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) publish(ev eval.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	id := ev.Header().EvalID
	ctx = logger.WithEvalID(ctx, id.String())

	outcome := eval.OutcomeOf(ev)
	if outcome == nil {
		return
	}

	rec := &Record{
		EvalID:      id,
		Status:      eval.StatusOf(ev),
		Signal:      outcome.Signal,
		ExitCode:    outcome.ExitCode,
		CodeUnknown: outcome.CodeUnknown,
		Reason:      outcome.Reason,
		FinishedAt:  ev.Header().At.UTC().Format(time.RFC3339),
	}

	if out := outputOf(ev); out != "" {
		key, err := p.outputs.Put(ctx, id, out)
		if err != nil {
			p.logger.Error("failed to store output", "eval_id", id, "error", err)
		} else {
			rec.OutputRef = key
		}
	}

	if err := p.results.Save(ctx, rec); err != nil {
		p.logger.Error("failed to save result record", "eval_id", id, "error", err)
		return
	}
	p.logger.Info("result published", "eval_id", id, "status", rec.Status)
}

func outputOf(ev eval.Event) string {
	switch e := ev.(type) {
	case eval.Completed:
		return e.Output
	case eval.Failed:
		return e.Output
	case eval.TimedOut:
		return e.Output
	}
	return ""
}
