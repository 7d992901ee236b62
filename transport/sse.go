package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nexusmind/orchestrator/orchestrator"
	"github.com/nexusmind/orchestrator/plan"
)

// statusFrame is the agent:status frame sent once per query, before
// agent:progress frames start arriving.
type statusFrame struct {
	Phase string `json:"phase"`
}

// errorFrame is the agent:error frame, sent instead of agent:response when
// ProcessQuery itself fails before a QueryResult exists.
type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ServeStream implements the streaming endpoint described in spec §6 over
// Server-Sent Events: one connection per query, frames
// agent:status -> agent:progress* -> agent:response (or agent:error). This
// is the always-available streaming transport; websocket.go provides the
// bidirectional alternative behind a build tag, mirroring the teacher's own
// SSE/WebSocket split.
func (h *Handler) ServeStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text must not be empty", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	progress := make(chan plan.ProgressEvent, 32)
	resultCh := make(chan queryOutcome, 1)

	go func() {
		defer close(progress)
		result, err := h.orch.ProcessQueryWithProgress(ctx, req.SessionID, req.UserID, req.Text, progress)
		resultCh <- queryOutcome{result: result, err: err}
	}()

	sendEvent(w, flusher, "agent:status", statusFrame{Phase: "executing"})

	for {
		select {
		case ev, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			sendEvent(w, flusher, "agent:progress", ev)
		case outcome := <-resultCh:
			if outcome.err != nil {
				status, body := classifyError(req.SessionID, outcome.err)
				if body.Error != nil {
					sendEvent(w, flusher, "agent:error", errorFrame{Type: body.Error.Type, Message: body.Error.UserMessage})
				} else {
					sendEvent(w, flusher, "agent:error", errorFrame{Type: "internal", Message: fmt.Sprintf("status %d", status)})
				}
				return
			}
			sendEvent(w, flusher, "agent:response", outcome.result)
			return
		case <-ctx.Done():
			return
		}
	}
}

type queryOutcome struct {
	result *orchestrator.QueryResult
	err    error
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
	flusher.Flush()
}
