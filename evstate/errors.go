package evstate

import (
	"net/http"

	"github.com/evalforge/backend/srvcerror"
)

const ErrCodeVersionConflict = "version_conflict"

func ErrVersionConflict() *srvcerror.Error {
	return srvcerror.New(
		ErrCodeVersionConflict,
		"evaluation was modified concurrently",
	).SetHttpStatusCode(http.StatusConflict).SetRetryable(true)
}
