package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/httplog/v2"

	"github.com/evalforge/backend/eval"
	"github.com/evalforge/backend/httpjson"
	"github.com/evalforge/backend/router"
)

type executeRequest struct {
	Code     string `json:"code"`
	Priority int    `json:"priority"`

	MemKiB     int `json:"mem_kib"`
	CpuMs      int `json:"cpu_ms"`
	TimeoutSec int `json:"timeout_sec"`

	Risk string `json:"risk"` // "trusted", "unknown", "hostile"; defaults to "unknown"
}

type executeResponse struct {
	EvalUuid string `json:"eval_uuid"`
	Status   string `json:"status"`
}

func (httpserver *HttpServer) executeEvaluation(w http.ResponseWriter, r *http.Request) {
	logger := httplog.LogEntry(r.Context())

	var request executeRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	risk := eval.RiskLevel(request.Risk)
	if request.Risk == "" {
		risk = eval.RiskUnknown
	}

	evalUuid, err := httpserver.evalRouter.Submit(r.Context(), router.SubmitRequest{
		Code:     request.Code,
		Priority: request.Priority,
		Reqs: eval.ResourceReqs{
			MemKiB:     request.MemKiB,
			CpuMs:      request.CpuMs,
			TimeoutSec: request.TimeoutSec,
		},
		Risk: risk,
	})
	if err != nil {
		httpjson.HandleSrvcError(logger, w, err)
		return
	}

	response := executeResponse{
		EvalUuid: evalUuid.String(),
		Status:   string(eval.StatusQueued),
	}

	httpjson.WriteAcceptedJson(w, response)
}
