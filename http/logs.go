package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/google/uuid"

	"github.com/evalforge/backend/eval"
	"github.com/evalforge/backend/httpjson"
)

type logsResponse struct {
	EvalUuid string `json:"eval_uuid"`
	Status   string `json:"status"`
	Output   string `json:"output"`
}

// getEvalLogs serves the captured output of a settled evaluation. An
// evaluation that is terminal but whose output has not been published yet is
// reported as not-ready (retryable), which is distinct from a failed lookup.
func (httpserver *HttpServer) getEvalLogs(w http.ResponseWriter, r *http.Request) {
	logger := httplog.LogEntry(r.Context())

	evalUuidStr := chi.URLParam(r, "evalId")
	evalUuid, err := uuid.Parse(evalUuidStr)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ev, err := httpserver.machine.Current(r.Context(), evalUuid)
	if err != nil {
		httpjson.HandleSrvcError(logger, w, err)
		return
	}
	if !ev.Status.IsTerminal() {
		httpjson.HandleSrvcError(logger, w, eval.ErrOutputNotReady())
		return
	}

	rec, err := httpserver.results.Get(r.Context(), evalUuid)
	if err != nil {
		// the record exists in the state machine but the publisher has not
		// caught up yet
		httpjson.HandleSrvcError(logger, w, eval.ErrOutputNotReady())
		return
	}

	output := ""
	if rec.OutputRef != "" {
		output, err = httpserver.outputs.Get(r.Context(), rec.OutputRef)
		if err != nil {
			httpjson.HandleSrvcError(logger, w, err)
			return
		}
	}

	response := logsResponse{
		EvalUuid: evalUuid.String(),
		Status:   string(rec.Status),
		Output:   output,
	}

	httpjson.WriteSuccessJson(w, response)
}
