// Package transport exposes the orchestrator over HTTP: a unary JSON
// endpoint for request/response queries and a streaming endpoint (SSE by
// default, WebSocket when built with the websocket tag) for callers that
// want progress events as a plan runs. Nothing in this package carries
// orchestration logic; it only translates wire shapes at the boundary.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/nexusmind/orchestrator/core"
	"github.com/nexusmind/orchestrator/orchestrator"
)

// QueryRequest is the unary endpoint's request body.
type QueryRequest struct {
	Text      string                 `json:"text"`
	SessionID string                 `json:"sessionId,omitempty"`
	UserID    string                 `json:"userId,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToolUsage reports one tool invocation's name and wall-clock duration for
// display to the caller.
type ToolUsage struct {
	Name            string  `json:"name"`
	ExecutionTimeMs float64 `json:"executionTimeMs"`
}

// ErrorBody is the nested error object a QueryResponse carries on failure.
type ErrorBody struct {
	Type        string `json:"type"`
	UserMessage string `json:"userMessage"`
}

// QueryResponse is the unary endpoint's response body.
type QueryResponse struct {
	SessionID         string      `json:"sessionId"`
	Text              string      `json:"text,omitempty"`
	HTML              string      `json:"html,omitempty"`
	Sources           []source    `json:"sources,omitempty"`
	ToolsUsed         []ToolUsage `json:"toolsUsed,omitempty"`
	ProcessingTimeMs  float64     `json:"processingTimeMs"`
	Error             *ErrorBody  `json:"error,omitempty"`
}

type source struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Handler adapts an *orchestrator.Orchestrator to net/http.
type Handler struct {
	orch   *orchestrator.Orchestrator
	logger core.Logger
}

// NewHandler builds a Handler. A nil logger defaults to core.NoOpLogger.
func NewHandler(orch *orchestrator.Orchestrator, logger core.Logger) *Handler {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Handler{orch: orch, logger: logger}
}

// ServeQuery implements the unary query endpoint described in spec §6: a
// POST body of {text, sessionId?, userId?, metadata?} producing a
// QueryResponse, with status codes carrying the error taxonomy.
func (h *Handler) ServeQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, QueryResponse{
			Error: &ErrorBody{Type: "validation", UserMessage: "request body must be valid JSON"},
		})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, QueryResponse{
			Error: &ErrorBody{Type: "validation", UserMessage: "text must not be empty"},
		})
		return
	}

	result, err := h.orch.ProcessQuery(r.Context(), req.SessionID, req.UserID, req.Text)
	if err != nil {
		status, body := classifyError(req.SessionID, err)
		writeJSON(w, status, body)
		return
	}

	sources := make([]source, 0, len(result.Sources))
	for _, s := range result.Sources {
		sources = append(sources, source{Name: s.Name, URL: s.URL})
	}

	toolsUsed := make([]ToolUsage, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		if o.UsedToolName == "" {
			continue
		}
		toolsUsed = append(toolsUsed, ToolUsage{Name: o.UsedToolName, ExecutionTimeMs: o.ElapsedMs()})
	}

	var errBody *ErrorBody
	if result.Error != nil {
		errBody = &ErrorBody{Type: "collaborator_error", UserMessage: "the assistant is temporarily unavailable; showing raw tool output"}
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		SessionID:        result.SessionID,
		Text:             result.Text,
		HTML:             result.HTML,
		Sources:          sources,
		ToolsUsed:        toolsUsed,
		ProcessingTimeMs: result.ElapsedMs,
		Error:            errBody,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
