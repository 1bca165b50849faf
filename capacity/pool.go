package capacity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/evalforge/backend/eval"
	"github.com/evalforge/backend/metrics"
)

// Slot represents one claimed unit of the bounded execution capacity. A slot
// transitions claimed -> released exactly once; the released flag is flipped
// with a CAS so racing completion signals cannot decrement capacity twice.
type Slot struct {
	EvalID    uuid.UUID
	ClaimedAt time.Time

	released atomic.Bool
}

// Pool bounds concurrent executions. TryClaim must be a single indivisible
// claim-and-decrement: never a check-then-act pair.
type Pool interface {
	// TryClaim returns eval.ErrCapacityExceeded when the pool is full.
	TryClaim(ctx context.Context, evalID uuid.UUID) (*Slot, error)
	// Release is idempotent: releasing an already-released slot reports
	// false, increments the double-release counter and changes nothing.
	Release(ctx context.Context, slot *Slot) (bool, error)
	// Free reports currently unclaimed capacity.
	Free(ctx context.Context) (int, error)
}

// InMemPool is the single-process pool. The free-slot counter is the one
// piece of shared mutable state and is updated with one atomic primitive;
// the active map is bookkeeping only and plays no part in admission.
type InMemPool struct {
	logger *slog.Logger
	size   int
	free   atomic.Int64

	mu     sync.Mutex
	active map[uuid.UUID]*Slot
}

func NewInMemPool(logger *slog.Logger, size int) *InMemPool {
	p := &InMemPool{
		logger: logger.With("module", "capacity"),
		size:   size,
		active: make(map[uuid.UUID]*Slot),
	}
	p.free.Store(int64(size))
	return p
}

func (p *InMemPool) TryClaim(ctx context.Context, evalID uuid.UUID) (*Slot, error) {
	for {
		free := p.free.Load()
		if free <= 0 {
			return nil, eval.ErrCapacityExceeded()
		}
		if p.free.CompareAndSwap(free, free-1) {
			break
		}
		// lost the race to another claimer, re-read
	}

	slot := &Slot{EvalID: evalID, ClaimedAt: time.Now()}
	p.mu.Lock()
	p.active[evalID] = slot
	p.mu.Unlock()
	return slot, nil
}

func (p *InMemPool) Release(ctx context.Context, slot *Slot) (bool, error) {
	if !slot.released.CompareAndSwap(false, true) {
		metrics.DoubleReleases.Inc()
		p.logger.Warn("double release ignored", "eval_id", slot.EvalID)
		return false, nil
	}
	p.mu.Lock()
	delete(p.active, slot.EvalID)
	p.mu.Unlock()
	p.free.Add(1)
	return true, nil
}

func (p *InMemPool) Free(ctx context.Context) (int, error) {
	return int(p.free.Load()), nil
}

// Active lists evaluation ids currently holding a slot.
func (p *InMemPool) Active() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	return ids
}
