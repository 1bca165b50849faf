package respub

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/evalforge/backend/eval"
	"github.com/evalforge/backend/evbus"
)

func waitRecord(t *testing.T, results ResultStore, id uuid.UUID) *Record {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("record for %s never published", id)
		case <-time.After(10 * time.Millisecond):
			rec, err := results.Get(context.Background(), id)
			if err == nil {
				return rec
			}
		}
	}
}

func TestPublishesTerminalEvents(t *testing.T) {
	bus := evbus.NewBus(slog.Default())
	results := NewInMemResultStore()
	outputs := NewInMemOutputStore()

	pub := NewPublisher(slog.Default(), results, outputs)
	pub.AttachTo(bus)
	defer pub.Close()

	id := uuid.New()
	exitCode := int64(0)
	bus.Publish(eval.Completed{
		Meta:     eval.Meta{EvalID: id, At: time.Now()},
		ExitCode: &exitCode,
		Output:   "hello\n",
	})

	rec := waitRecord(t, results, id)
	require.Equal(t, eval.StatusCompleted, rec.Status)
	require.Equal(t, eval.ExitSuccess, rec.Signal)
	require.NotEmpty(t, rec.OutputRef)

	out, err := outputs.Get(context.Background(), rec.OutputRef)
	require.NoError(t, err)
	require.Equal(t, "hello\n", out)
}

func TestIgnoresNonTerminalEvents(t *testing.T) {
	bus := evbus.NewBus(slog.Default())
	results := NewInMemResultStore()

	pub := NewPublisher(slog.Default(), results, NewInMemOutputStore())
	pub.AttachTo(bus)

	id := uuid.New()
	bus.Publish(eval.Queued{Meta: eval.Meta{EvalID: id}})
	bus.Publish(eval.Running{Meta: eval.Meta{EvalID: id}})
	pub.Close()

	_, err := results.Get(context.Background(), id)
	require.Error(t, err)
}

func TestPublishesTimeoutWithoutOutputRef(t *testing.T) {
	bus := evbus.NewBus(slog.Default())
	results := NewInMemResultStore()
	outputs := NewInMemOutputStore()

	pub := NewPublisher(slog.Default(), results, outputs)
	pub.AttachTo(bus)
	defer pub.Close()

	id := uuid.New()
	bus.Publish(eval.TimedOut{Meta: eval.Meta{EvalID: id, At: time.Now()}})

	rec := waitRecord(t, results, id)
	require.Equal(t, eval.StatusTimeout, rec.Status)
	require.Equal(t, eval.ExitTimeout, rec.Signal)
	require.True(t, rec.CodeUnknown)
	require.Empty(t, rec.OutputRef, "no output captured means no output ref")
}

func TestFailedRecordCarriesReason(t *testing.T) {
	bus := evbus.NewBus(slog.Default())
	results := NewInMemResultStore()

	pub := NewPublisher(slog.Default(), results, NewInMemOutputStore())
	pub.AttachTo(bus)
	defer pub.Close()

	id := uuid.New()
	bus.Publish(eval.Failed{
		Meta:   eval.Meta{EvalID: id, At: time.Now()},
		Reason: "infrastructure",
	})

	rec := waitRecord(t, results, id)
	require.Equal(t, eval.StatusFailed, rec.Status)
	require.Equal(t, "infrastructure", rec.Reason)
}
