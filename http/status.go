package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/google/uuid"

	"github.com/evalforge/backend/eval"
	"github.com/evalforge/backend/httpjson"
)

type outcomeView struct {
	Signal      string `json:"signal"`
	ExitCode    *int64 `json:"exit_code"`
	CodeUnknown bool   `json:"code_unknown"`
	Reason      string `json:"reason,omitempty"`
}

type statusResponse struct {
	EvalUuid    string       `json:"eval_uuid"`
	Status      string       `json:"status"`
	Priority    int          `json:"priority"`
	CreatedAt   string       `json:"created_at"`
	StartedAt   *string      `json:"started_at"`
	CompletedAt *string      `json:"completed_at"`
	Outcome     *outcomeView `json:"outcome"`
}

func (httpserver *HttpServer) getEvalStatus(w http.ResponseWriter, r *http.Request) {
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

	httpjson.WriteSuccessJson(w, mapStatus(ev))
}

func mapStatus(ev eval.Evaluation) statusResponse {
	response := statusResponse{
		EvalUuid:    ev.ID.String(),
		Status:      string(ev.Status),
		Priority:    ev.Priority,
		CreatedAt:   ev.CreatedAt.UTC().Format(time.RFC3339),
		StartedAt:   fmtTimePtr(ev.StartedAt),
		CompletedAt: fmtTimePtr(ev.CompletedAt),
	}
	if ev.Outcome != nil {
		response.Outcome = &outcomeView{
			Signal:      string(ev.Outcome.Signal),
			ExitCode:    ev.Outcome.ExitCode,
			CodeUnknown: ev.Outcome.CodeUnknown,
			Reason:      ev.Outcome.Reason,
		}
	}
	return response
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
