package sqsbox

// Wire types for the tester fleet protocol. Job requests travel on the
// submission queue zstd-compressed and base64-encoded; lifecycle signals
// come back on the response queue as plain JSON with a common header.

const (
	MsgTypeUnitStarted = "unit_started"
	MsgTypeUnitExited  = "unit_exited"
	MsgTypeUnitFailed  = "unit_failed"
	MsgTypeTerminate   = "terminate"
)

type header struct {
	EvalID  string `json:"eval_id"`
	MsgType string `json:"msg_type"`
}

type jobRequest struct {
	EvalID     string `json:"eval_id"`
	RespQUrl   string `json:"resp_sqs_url"`
	Code       string `json:"code"`
	MemKiB     int    `json:"mem_kib"`
	CpuMs      int    `json:"cpu_ms"`
	TimeoutSec int    `json:"timeout_sec"`
}

type unitStarted struct {
	header
	SystemInfo string `json:"system_info"`
	StartedAt  string `json:"started_at"` // RFC3339
}

type unitExited struct {
	header
	ExitCode *int64 `json:"exit_code"` // nil when the code was not captured
	Output   string `json:"output"`
	ExitedAt string `json:"exited_at"`
}

type unitFailed struct {
	header
	ErrorMessage string `json:"error_message"`
	FailedAt     string `json:"failed_at"`
}

type terminateRequest struct {
	header
	UnitID string `json:"unit_id"`
}
