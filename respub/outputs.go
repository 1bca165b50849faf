package respub

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/evalforge/backend/eval"
)

// OutputStore holds captured execution output outside the result record.
// The record only carries the returned key.
type OutputStore interface {
	Put(ctx context.Context, id uuid.UUID, output string) (key string, err error)
	Get(ctx context.Context, key string) (string, error)
}

// InMemOutputStore is the development and test backend.
type InMemOutputStore struct {
	mu   sync.RWMutex
	objs map[string]string
}

func NewInMemOutputStore() *InMemOutputStore {
	return &InMemOutputStore{objs: make(map[string]string)}
}

func (s *InMemOutputStore) Put(ctx context.Context, id uuid.UUID, output string) (string, error) {
	key := id.String() + ".out"
	s.mu.Lock()
	s.objs[key] = output
	s.mu.Unlock()
	return key, nil
}

func (s *InMemOutputStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.objs[key]
	if !ok {
		return "", eval.ErrOutputNotReady()
	}
	return out, nil
}
