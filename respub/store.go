package respub

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/evalforge/backend/eval"
)

// Record is the published, queryable view of a settled evaluation.
type Record struct {
	EvalID      uuid.UUID
	Status      eval.Status
	Signal      eval.ExitSignal
	ExitCode    *int64
	CodeUnknown bool
	Reason      string
	OutputRef   string
	FinishedAt  string // RFC3339 UTC
	Version     int64
}

// ResultStore persists terminal records.
type ResultStore interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id uuid.UUID) (*Record, error)
}

// InMemResultStore is the development and test backend.
type InMemResultStore struct {
	mu   sync.RWMutex
	recs map[uuid.UUID]Record
}

func NewInMemResultStore() *InMemResultStore {
	return &InMemResultStore{recs: make(map[uuid.UUID]Record)}
}

func (s *InMemResultStore) Save(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Version++
	s.recs[rec.EvalID] = *rec
	return nil
}

func (s *InMemResultStore) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, eval.ErrEvalNotFound()
	}
	return &rec, nil
}
