package http

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/evalforge/backend/eval"
)

type eventEnvelope struct {
	Type     string `json:"type"`
	EvalUuid string `json:"eval_uuid"`
	At       string `json:"at"`
	SeqHint  int64  `json:"seq_hint"`
	Payload  any    `json:"payload"`
}

// listenToEvents streams the global lifecycle feed over SSE. The feed is
// best-effort: a slow client loses events rather than stalling the bus.
func (httpserver *HttpServer) listenToEvents(w http.ResponseWriter, r *http.Request) {
	events := httpserver.bus.SubscribeAll(r.Context())
	httpserver.streamEvents(w, r, events)
}

// listenToEvalEvents streams one evaluation's lifecycle over SSE.
func (httpserver *HttpServer) listenToEvalEvents(w http.ResponseWriter, r *http.Request) {
	evalUuidStr := chi.URLParam(r, "evalId")
	evalUuid, err := uuid.Parse(evalUuidStr)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	events := httpserver.bus.Subscribe(r.Context(), evalUuid)
	httpserver.streamEvents(w, r, events)
}

func (httpserver *HttpServer) streamEvents(w http.ResponseWriter, r *http.Request, events <-chan eval.Event) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	var writeMutex sync.Mutex

	safeWrite := func(data string) {
		writeMutex.Lock()
		defer writeMutex.Unlock()
		io.WriteString(w, data)
		flusher.Flush()
	}

	keepAliveTicker := time.NewTicker(15 * time.Second)
	defer keepAliveTicker.Stop()

	done := make(chan bool)
	defer close(done)

	go func() {
		for {
			select {
			case <-done:
				return
			case <-keepAliveTicker.C:
				safeWrite(": keep-alive\n\n")
			}
		}
	}()

	for ev := range events {
		meta := ev.Header()
		envelope := eventEnvelope{
			Type:     ev.Type(),
			EvalUuid: meta.EvalID.String(),
			At:       meta.At.UTC().Format(time.RFC3339Nano),
			SeqHint:  meta.SeqHint,
			Payload:  ev,
		}
		marshalled, err := json.Marshal(envelope)
		if err != nil {
			httpserver.logger.Error("failed to marshal event", "error", err)
			continue
		}
		safeWrite("data: " + string(marshalled) + "\n\n")
	}
}
