package simbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evalforge/backend/sandbox"
)

func TestScriptedBehaviorParsesDirectives(t *testing.T) {
	b := ScriptedBehavior(sandbox.Spec{Code: "sleep 3\nexit 7\n"})
	require.Equal(t, 3*time.Second, b.RunFor)
	require.Equal(t, int64(7), b.ExitCode)
}

func TestScriptedBehaviorDefaults(t *testing.T) {
	b := ScriptedBehavior(sandbox.Spec{Code: "print('hello')"})
	require.Equal(t, 50*time.Millisecond, b.RunFor)
	require.Equal(t, int64(0), b.ExitCode)
	require.NotEmpty(t, b.Output)
}

func TestScriptedBehaviorIgnoresGarbageDirectives(t *testing.T) {
	b := ScriptedBehavior(sandbox.Spec{Code: "sleep forever\nexit nope\nsleep 1 2 3"})
	require.Equal(t, 50*time.Millisecond, b.RunFor)
	require.Equal(t, int64(0), b.ExitCode)
}
