package evstate

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/evalforge/backend/eval"
)

// Store persists evaluation records. Save must apply the optimistic version
// check: a write whose Version is not exactly one above the stored record is
// rejected with ErrVersionConflict.
type Store interface {
	Save(ctx context.Context, e eval.Evaluation) error
	Get(ctx context.Context, id uuid.UUID) (eval.Evaluation, error)
}

type InMemStore struct {
	lock  sync.Mutex
	evals map[uuid.UUID]eval.Evaluation
}

func NewInMemStore() *InMemStore {
	return &InMemStore{
		evals: make(map[uuid.UUID]eval.Evaluation),
	}
}

func (m *InMemStore) Save(ctx context.Context, e eval.Evaluation) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	prev, ok := m.evals[e.ID]
	if ok && e.Version != prev.Version+1 {
		return ErrVersionConflict()
	}
	if !ok && e.Version != 1 {
		return ErrVersionConflict()
	}
	m.evals[e.ID] = e
	return nil
}

func (m *InMemStore) Get(ctx context.Context, id uuid.UUID) (eval.Evaluation, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	e, ok := m.evals[id]
	if !ok {
		return eval.Evaluation{}, eval.ErrEvalNotFound()
	}
	return e, nil
}
