package evstate

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/evalforge/backend/eval"
)

func TestSaveEnforcesVersionSequence(t *testing.T) {
	ctx := context.Background()
	store := NewInMemStore()
	id := uuid.New()

	require.NoError(t, store.Save(ctx, eval.Evaluation{ID: id, Version: 1}))
	require.NoError(t, store.Save(ctx, eval.Evaluation{ID: id, Version: 2}))

	// replaying version 2 or skipping to 4 is a conflict
	require.Error(t, store.Save(ctx, eval.Evaluation{ID: id, Version: 2}))
	require.Error(t, store.Save(ctx, eval.Evaluation{ID: id, Version: 4}))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Version)
}

func TestNewRecordMustStartAtVersionOne(t *testing.T) {
	ctx := context.Background()
	store := NewInMemStore()

	err := store.Save(ctx, eval.Evaluation{ID: uuid.New(), Version: 3})
	require.Error(t, err)
}

func TestGetUnknownEvaluation(t *testing.T) {
	store := NewInMemStore()
	_, err := store.Get(context.Background(), uuid.New())
	require.Error(t, err)
}
