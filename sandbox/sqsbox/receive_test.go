package sqsbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/evalforge/backend/sandbox"
)

func TestDecodeUnitExited(t *testing.T) {
	id := uuid.New()
	exitCode := int64(2)
	body, err := json.Marshal(unitExited{
		header:   header{EvalID: id.String(), MsgType: MsgTypeUnitExited},
		ExitCode: &exitCode,
		Output:   "boom\n",
		ExitedAt: time.Now().UTC().Format(time.RFC3339),
	})
	require.NoError(t, err)

	evalID, sig, err := decodeSignal(string(body))
	require.NoError(t, err)
	require.Equal(t, id, evalID)
	require.Equal(t, sandbox.SignalExited, sig.Kind)
	require.NotNil(t, sig.ExitCode)
	require.Equal(t, int64(2), *sig.ExitCode)
	require.Equal(t, "boom\n", sig.Output)
}

func TestDecodeUnitExitedWithoutExitCode(t *testing.T) {
	id := uuid.New()
	body, err := json.Marshal(unitExited{
		header:   header{EvalID: id.String(), MsgType: MsgTypeUnitExited},
		Output:   "done\n",
		ExitedAt: time.Now().UTC().Format(time.RFC3339),
	})
	require.NoError(t, err)

	_, sig, err := decodeSignal(string(body))
	require.NoError(t, err)
	require.Equal(t, sandbox.SignalExited, sig.Kind)
	require.Nil(t, sig.ExitCode, "an uncaptured exit code must arrive as nil, not zero")
}

func TestDecodeUnitStarted(t *testing.T) {
	id := uuid.New()
	body, err := json.Marshal(unitStarted{
		header:     header{EvalID: id.String(), MsgType: MsgTypeUnitStarted},
		SystemInfo: "tester-node-7",
		StartedAt:  time.Now().UTC().Format(time.RFC3339),
	})
	require.NoError(t, err)

	_, sig, err := decodeSignal(string(body))
	require.NoError(t, err)
	require.Equal(t, sandbox.SignalStarted, sig.Kind)
	require.Equal(t, "tester-node-7", sig.SysInfo)
}

func TestDecodeUnitFailed(t *testing.T) {
	id := uuid.New()
	body, err := json.Marshal(unitFailed{
		header:       header{EvalID: id.String(), MsgType: MsgTypeUnitFailed},
		ErrorMessage: "compile box crashed",
	})
	require.NoError(t, err)

	_, sig, err := decodeSignal(string(body))
	require.NoError(t, err)
	require.Equal(t, sandbox.SignalFailed, sig.Kind)
	require.Equal(t, "compile box crashed", sig.Err)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := decodeSignal("not json at all")
	require.Error(t, err)

	body, err := json.Marshal(header{EvalID: uuid.NewString(), MsgType: "mystery"})
	require.NoError(t, err)
	_, _, err = decodeSignal(string(body))
	require.Error(t, err)

	body, err = json.Marshal(header{EvalID: "not-a-uuid", MsgType: MsgTypeUnitExited})
	require.NoError(t, err)
	_, _, err = decodeSignal(string(body))
	require.Error(t, err)
}
