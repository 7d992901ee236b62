package transport

import (
	"errors"
	"net/http"

	"github.com/nexusmind/orchestrator/orchestrator"
	"github.com/nexusmind/orchestrator/planner"
)

// classifyError turns an error returned by Orchestrator.ProcessQuery into an
// HTTP status and response body. ValidationError, SessionBusyError and
// ErrShuttingDown are true request failures (400, 429, 503). Cancellation,
// deadline, collaborator and empty-plan errors become a graceful 200
// QueryResponse carrying a populated error field, so those failures never
// surface as transport-level errors on their own. Any other error is a 500.
func classifyError(sessionID string, err error) (int, QueryResponse) {
	var validationErr *orchestrator.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, QueryResponse{
			SessionID: sessionID,
			Error:     &ErrorBody{Type: "validation", UserMessage: validationErr.Error()},
		}
	}

	var busyErr *orchestrator.SessionBusyError
	if errors.As(err, &busyErr) {
		return http.StatusTooManyRequests, QueryResponse{
			SessionID: sessionID,
			Error:     &ErrorBody{Type: "session_busy", UserMessage: "too many queries are already queued for this session"},
		}
	}

	if errors.Is(err, orchestrator.ErrShuttingDown) {
		return http.StatusServiceUnavailable, QueryResponse{
			SessionID: sessionID,
			Error:     &ErrorBody{Type: "shutting_down", UserMessage: "the service is shutting down, please retry shortly"},
		}
	}

	var canceledErr *orchestrator.CanceledError
	if errors.As(err, &canceledErr) {
		return http.StatusOK, QueryResponse{
			SessionID: sessionID,
			Error:     &ErrorBody{Type: "canceled", UserMessage: "the query was canceled"},
		}
	}

	var deadlineErr *orchestrator.DeadlineExceededError
	if errors.As(err, &deadlineErr) {
		return http.StatusOK, QueryResponse{
			SessionID: sessionID,
			Error:     &ErrorBody{Type: "deadline_exceeded", UserMessage: "the query took too long and was stopped"},
		}
	}

	var collabErr *orchestrator.CollaboratorError
	if errors.As(err, &collabErr) {
		return http.StatusOK, QueryResponse{
			SessionID: sessionID,
			Error:     &ErrorBody{Type: "collaborator_error", UserMessage: "the assistant is temporarily unavailable"},
		}
	}

	var emptyPlanErr *planner.EmptyPlanError
	if errors.As(err, &emptyPlanErr) {
		return http.StatusOK, QueryResponse{
			SessionID: sessionID,
			Text:      "I can't help with that yet.",
			Error:     &ErrorBody{Type: "empty_plan", UserMessage: "no tool could be matched to this request"},
		}
	}

	return http.StatusInternalServerError, QueryResponse{
		SessionID: sessionID,
		Error:     &ErrorBody{Type: "internal", UserMessage: "an unexpected error occurred"},
	}
}
