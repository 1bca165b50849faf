package eval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForwardTransitions(t *testing.T) {
	require.True(t, StatusQueued.CanTransitionTo(StatusProvisioning))
	require.True(t, StatusProvisioning.CanTransitionTo(StatusRunning))
	require.True(t, StatusRunning.CanTransitionTo(StatusCompleted))

	// skipping intermediate states forward is allowed
	require.True(t, StatusQueued.CanTransitionTo(StatusRunning))
}

func TestBackwardTransitionsRejected(t *testing.T) {
	require.False(t, StatusRunning.CanTransitionTo(StatusProvisioning))
	require.False(t, StatusRunning.CanTransitionTo(StatusQueued))
	require.False(t, StatusProvisioning.CanTransitionTo(StatusQueued))
	require.False(t, StatusQueued.CanTransitionTo(StatusQueued))
}

func TestTerminalReachableFromAnyNonTerminal(t *testing.T) {
	// a fast sandbox can report completion before the provisioning event is
	// even observed, so terminal states must be reachable from anywhere
	nonTerminal := []Status{StatusQueued, StatusProvisioning, StatusRunning}
	terminal := []Status{StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled}

	for _, from := range nonTerminal {
		for _, to := range terminal {
			require.True(t, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatesAbsorbEverything(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled}
	all := []Status{
		StatusQueued, StatusProvisioning, StatusRunning,
		StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled,
	}

	for _, from := range terminal {
		require.True(t, from.IsTerminal())
		for _, to := range all {
			require.False(t, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestGracePeriodScalesWithRisk(t *testing.T) {
	require.Greater(t, RiskTrusted.GracePeriod(), RiskUnknown.GracePeriod())
	require.Greater(t, RiskUnknown.GracePeriod(), RiskHostile.GracePeriod())
}
