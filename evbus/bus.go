package evbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/evalforge/backend/eval"
	"github.com/evalforge/backend/metrics"
)

// HandlerFunc consumes every published event inline. Handlers are for
// components whose correctness depends on seeing each event (state machine,
// result publisher); they must be idempotent since delivery is at least
// once.
type HandlerFunc func(ev eval.Event)

type listener struct {
	evalID *uuid.UUID // nil subscribes to the global feed
	ch     chan eval.Event
}

// Bus delivers lifecycle events to consumers. Inline handlers are called
// synchronously in publish order as seen by the publisher; channel
// subscribers get buffered, best-effort ordered delivery. A full subscriber
// buffer drops the event for that subscriber only (counted and logged) —
// live-status feeds tolerate gaps, correctness consumers use Attach.
type Bus struct {
	logger *slog.Logger

	mu        sync.Mutex
	handlers  []HandlerFunc
	listeners []*listener
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger.With("module", "evbus"),
	}
}

// Attach registers an inline consumer. Registration normally happens once
// during wiring, before traffic starts.
func (b *Bus) Attach(h HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Subscribe returns a channel of events for one evaluation. The channel is
// closed and the listener removed when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, evalID uuid.UUID) <-chan eval.Event {
	return b.subscribe(ctx, &evalID)
}

// SubscribeAll returns a channel carrying the global feed.
func (b *Bus) SubscribeAll(ctx context.Context) <-chan eval.Event {
	return b.subscribe(ctx, nil)
}

func (b *Bus) subscribe(ctx context.Context, evalID *uuid.UUID) <-chan eval.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	l := &listener{evalID: evalID, ch: make(chan eval.Event, 1000)}
	b.listeners = append(b.listeners, l)

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, cand := range b.listeners {
			if cand == l {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				break
			}
		}
		// closed under b.mu, the same lock Publish sends under, so a
		// publisher can never send on a closed channel
		close(l.ch)
		b.mu.Unlock()
	}()

	return l.ch
}

// Publish fans an event out to handlers and subscribers. Handlers run
// outside the bus lock; subscriber sends are non-blocking and stay under
// b.mu so they cannot race listener removal.
func (b *Bus) Publish(ev eval.Event) {
	b.mu.Lock()
	handlers := make([]HandlerFunc, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range b.listeners {
		if l.evalID != nil && *l.evalID != ev.Header().EvalID {
			continue
		}
		select {
		case l.ch <- ev:
		default:
			metrics.DroppedEvents.Inc()
			b.logger.Error("subscriber buffer full, event dropped",
				"type", ev.Type(), "eval_id", ev.Header().EvalID)
		}
	}
}
