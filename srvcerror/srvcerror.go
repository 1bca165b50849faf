package srvcerror

import "net/http"

// Error carries a stable error code and a message that is safe to show to
// clients. Debug info stays server-side. Retryable marks rejections that the
// caller (or the task router) may retry later, e.g. capacity exhaustion, as
// opposed to permanent validation failures.
type Error struct {
	errorCode  string
	msgToUser  string // public
	dbgInfoErr error  // private, for debugging

	httpStatus int  // optional, for HTTP responses
	retryable  bool // transient rejection, safe to retry with backoff
}

func (e *Error) Error() string {
	return e.msgToUser
}

func (e *Error) ErrorCode() string {
	return e.errorCode
}

func (e *Error) DebugInfo() error {
	return e.dbgInfoErr
}

func (e *Error) SetDebug(err error) *Error {
	e.dbgInfoErr = err
	return e
}

func (e *Error) HttpStatusCode() int {
	if e.httpStatus == 0 {
		return http.StatusInternalServerError
	}
	return e.httpStatus
}

func (e *Error) SetHttpStatusCode(code int) *Error {
	e.httpStatus = code
	return e
}

func (e *Error) Retryable() bool {
	return e.retryable
}

func (e *Error) SetRetryable(retryable bool) *Error {
	e.retryable = retryable
	return e
}

func New(errorCode string, msgToUser string) *Error {
	return &Error{
		errorCode: errorCode,
		msgToUser: msgToUser,
	}
}

const ErrCodeInternalServerError = "internal_server_error"

func ErrInternalSE() *Error {
	return New(
		ErrCodeInternalServerError,
		"internal server error",
	).SetHttpStatusCode(http.StatusInternalServerError)
}

// IsRetryable reports whether err is a service error marked retryable.
// Unknown error types are treated as not retryable.
func IsRetryable(err error) bool {
	if srvcErr, ok := err.(*Error); ok {
		return srvcErr.Retryable()
	}
	return false
}
