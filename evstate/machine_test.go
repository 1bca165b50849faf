package evstate

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/evalforge/backend/eval"
)

func newTestMachine(t *testing.T) (*Machine, uuid.UUID) {
	t.Helper()
	m := NewMachine(slog.Default(), NewInMemStore())
	id := uuid.New()
	err := m.Create(context.Background(), eval.Evaluation{
		ID:        id,
		Code:      "print(1)",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	return m, id
}

func meta(id uuid.UUID) eval.Meta {
	return eval.Meta{EvalID: id, At: time.Now()}
}

func TestHappyPathLifecycle(t *testing.T) {
	ctx := context.Background()
	m, id := newTestMachine(t)

	exitCode := int64(0)
	events := []eval.Event{
		eval.Provisioning{Meta: meta(id), UnitRef: "unit-1"},
		eval.Running{Meta: meta(id)},
		eval.Completed{Meta: meta(id), ExitCode: &exitCode},
	}
	for _, ev := range events {
		applied, err := m.Apply(ctx, ev)
		require.NoError(t, err)
		require.True(t, applied, "event %s", ev.Type())
	}

	cur, err := m.Current(ctx, id)
	require.NoError(t, err)
	require.Equal(t, eval.StatusCompleted, cur.Status)
	require.NotNil(t, cur.StartedAt)
	require.NotNil(t, cur.CompletedAt)
	require.NotNil(t, cur.Outcome)
	require.Equal(t, eval.ExitSuccess, cur.Outcome.Signal)
}

func TestTerminalStateIsImmutable(t *testing.T) {
	ctx := context.Background()
	m, id := newTestMachine(t)

	applied, err := m.Apply(ctx, eval.Cancelled{Meta: meta(id), Reason: "user_requested"})
	require.NoError(t, err)
	require.True(t, applied)

	// every later event, terminal or not, is a safe no-op
	late := []eval.Event{
		eval.Running{Meta: meta(id)},
		eval.Completed{Meta: meta(id)},
		eval.Failed{Meta: meta(id), Reason: "late"},
		eval.TimedOut{Meta: meta(id)},
	}
	for _, ev := range late {
		applied, err := m.Apply(ctx, ev)
		require.NoError(t, err)
		require.False(t, applied, "event %s must be discarded", ev.Type())
	}

	cur, err := m.Current(ctx, id)
	require.NoError(t, err)
	require.Equal(t, eval.StatusCancelled, cur.Status)
	require.Equal(t, "user_requested", cur.Outcome.Reason)
}

func TestTerminalEventOutrunsProvisioning(t *testing.T) {
	ctx := context.Background()
	m, id := newTestMachine(t)

	// a fast unit can complete before its provisioning event is observed
	exitCode := int64(0)
	applied, err := m.Apply(ctx, eval.Completed{Meta: meta(id), ExitCode: &exitCode})
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = m.Apply(ctx, eval.Provisioning{Meta: meta(id), UnitRef: "unit-1"})
	require.NoError(t, err)
	require.False(t, applied, "late provisioning must not regress a settled evaluation")

	cur, err := m.Current(ctx, id)
	require.NoError(t, err)
	require.Equal(t, eval.StatusCompleted, cur.Status)
}

func TestShuffledDeliveryAlwaysSettlesOnTerminal(t *testing.T) {
	ctx := context.Background()

	for seed := 0; seed < 20; seed++ {
		m, id := newTestMachine(t)

		exitCode := int64(0)
		events := []eval.Event{
			eval.Provisioning{Meta: meta(id), UnitRef: "unit-1"},
			eval.Running{Meta: meta(id)},
			eval.Completed{Meta: meta(id), ExitCode: &exitCode},
		}
		rnd := rand.New(rand.NewSource(uint64(seed)))
		rnd.Shuffle(len(events), func(i, j int) {
			events[i], events[j] = events[j], events[i]
		})

		for _, ev := range events {
			_, err := m.Apply(ctx, ev)
			require.NoError(t, err)
		}

		cur, err := m.Current(ctx, id)
		require.NoError(t, err)
		require.Equal(t, eval.StatusCompleted, cur.Status,
			"seed %d order must still settle completed", seed)
	}
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, id := newTestMachine(t)

	applied, err := m.Apply(ctx, eval.Running{Meta: meta(id)})
	require.NoError(t, err)
	require.True(t, applied)

	// at-least-once delivery: the same event arriving again changes nothing
	applied, err = m.Apply(ctx, eval.Running{Meta: meta(id)})
	require.NoError(t, err)
	require.False(t, applied)

	cur, err := m.Current(ctx, id)
	require.NoError(t, err)
	require.Equal(t, eval.StatusRunning, cur.Status)
	require.Equal(t, int64(2), cur.Version, "duplicate must not bump the version")
}

func TestTerminalTransitionEvictsLock(t *testing.T) {
	ctx := context.Background()
	m, id := newTestMachine(t)

	m.mu.Lock()
	require.Len(t, m.locks, 1)
	m.mu.Unlock()

	applied, err := m.Apply(ctx, eval.Failed{Meta: meta(id), Reason: "infrastructure"})
	require.NoError(t, err)
	require.True(t, applied)

	m.mu.Lock()
	require.Empty(t, m.locks, "settled evaluations must not pin their mutex forever")
	m.mu.Unlock()

	// late events after eviction remain safe no-ops and do not repopulate
	// the map
	applied, err = m.Apply(ctx, eval.Completed{Meta: meta(id)})
	require.NoError(t, err)
	require.False(t, applied)

	m.mu.Lock()
	require.Empty(t, m.locks)
	m.mu.Unlock()
}

func TestApplyForUnknownEvaluation(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(slog.Default(), NewInMemStore())

	_, err := m.Apply(ctx, eval.Running{Meta: meta(uuid.New())})
	require.Error(t, err)
}

func TestIsTerminal(t *testing.T) {
	ctx := context.Background()
	m, id := newTestMachine(t)

	require.False(t, m.IsTerminal(ctx, id))
	require.False(t, m.IsTerminal(ctx, uuid.New()))

	_, err := m.Apply(ctx, eval.Failed{Meta: meta(id), Reason: "infrastructure"})
	require.NoError(t, err)
	require.True(t, m.IsTerminal(ctx, id))
}
