package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/google/uuid"

	"github.com/evalforge/backend/httpjson"
)

type cancelRequest struct {
	Reason string `json:"reason"`
}

type cancelResponse struct {
	EvalUuid string `json:"eval_uuid"`
}

func (httpserver *HttpServer) cancelEvaluation(w http.ResponseWriter, r *http.Request) {
	logger := httplog.LogEntry(r.Context())

	evalUuidStr := chi.URLParam(r, "evalId")
	evalUuid, err := uuid.Parse(evalUuidStr)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var request cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		request.Reason = ""
	}
	if request.Reason == "" {
		request.Reason = "user_requested"
	}

	if err := httpserver.evalRouter.Cancel(r.Context(), evalUuid, request.Reason); err != nil {
		httpjson.HandleSrvcError(logger, w, err)
		return
	}

	httpjson.WriteAcceptedJson(w, cancelResponse{EvalUuid: evalUuid.String()})
}
