package eval

import (
	"net/http"

	"github.com/evalforge/backend/srvcerror"
)

const ErrCodeEvalNotFound = "eval_not_found"

func ErrEvalNotFound() *srvcerror.Error {
	return srvcerror.New(
		ErrCodeEvalNotFound,
		"evaluation not found",
	).SetHttpStatusCode(http.StatusNotFound)
}

const ErrCodePayloadTooLarge = "payload_too_large"

func ErrPayloadTooLarge() *srvcerror.Error {
	return srvcerror.New(
		ErrCodePayloadTooLarge,
		"submitted code exceeds the maximum payload size",
	).SetHttpStatusCode(http.StatusBadRequest)
}

const ErrCodeBinaryPayload = "binary_payload"

func ErrBinaryPayload() *srvcerror.Error {
	return srvcerror.New(
		ErrCodeBinaryPayload,
		"submitted code must be text, not a binary blob",
	).SetHttpStatusCode(http.StatusBadRequest)
}

const ErrCodeImpossibleRequest = "impossible_resource_request"

func ErrImpossibleRequest(detail string) *srvcerror.Error {
	return srvcerror.New(
		ErrCodeImpossibleRequest,
		"resource request exceeds the largest available node: "+detail,
	).SetHttpStatusCode(http.StatusBadRequest)
}

const ErrCodeInvalidReqs = "invalid_resource_request"

func ErrInvalidReqs() *srvcerror.Error {
	return srvcerror.New(
		ErrCodeInvalidReqs,
		"resource requirements must be positive",
	).SetHttpStatusCode(http.StatusBadRequest)
}

const ErrCodeInvalidRiskLevel = "invalid_risk_level"

func ErrInvalidRiskLevel() *srvcerror.Error {
	return srvcerror.New(
		ErrCodeInvalidRiskLevel,
		"unknown declared risk level",
	).SetHttpStatusCode(http.StatusBadRequest)
}

const ErrCodeCapacityExceeded = "capacity_exceeded"

// ErrCapacityExceeded is not a system error: the task router retries it with
// backoff and the client sees the evaluation as pending, not failed.
func ErrCapacityExceeded() *srvcerror.Error {
	return srvcerror.New(
		ErrCodeCapacityExceeded,
		"execution capacity exhausted, retry later",
	).SetHttpStatusCode(http.StatusTooManyRequests).SetRetryable(true)
}

const ErrCodeSandboxUnavailable = "sandbox_unavailable"

func ErrSandboxUnavailable() *srvcerror.Error {
	return srvcerror.New(
		ErrCodeSandboxUnavailable,
		"execution sandbox provider unavailable",
	).SetHttpStatusCode(http.StatusServiceUnavailable).SetRetryable(true)
}

const ErrCodeAlreadyTerminal = "already_terminal"

func ErrAlreadyTerminal() *srvcerror.Error {
	return srvcerror.New(
		ErrCodeAlreadyTerminal,
		"evaluation already reached a terminal state",
	).SetHttpStatusCode(http.StatusConflict)
}

const ErrCodeOutputNotReady = "output_not_ready"

// ErrOutputNotReady distinguishes "the log pipeline has not caught up" from
// "the evaluation failed".
func ErrOutputNotReady() *srvcerror.Error {
	return srvcerror.New(
		ErrCodeOutputNotReady,
		"execution output not yet available",
	).SetHttpStatusCode(http.StatusAccepted).SetRetryable(true)
}
