package orchestrator

import (
	"fmt"

	"github.com/nexusmind/orchestrator/executor"
)

// ToolExecutionError is re-exported from executor so callers of this
// package never need to import executor just to type-switch on it.
type ToolExecutionError = executor.ToolExecutionError

// ValidationError reports a malformed query before any planning or
// execution was attempted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Message)
}

// DeadlineExceededError reports that the query ran past its overall budget.
type DeadlineExceededError struct {
	SessionID string
	Budget    string // "query"
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("session %q exceeded its %s deadline", e.SessionID, e.Budget)
}

// CollaboratorError wraps a failure from the Collaborator during a specific
// stage ("analyze" or "synthesize").
type CollaboratorError struct {
	Stage string
	Cause error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator failed during %s: %v", e.Stage, e.Cause)
}

func (e *CollaboratorError) Unwrap() error { return e.Cause }

// SessionBusyError reports that a session already has
// MaxQueuedQueriesPerSession queries in flight or queued.
type SessionBusyError struct {
	SessionID string
	Depth     int
}

func (e *SessionBusyError) Error() string {
	return fmt.Sprintf("session %q is busy: %d queries already queued", e.SessionID, e.Depth)
}

// CanceledError reports that the query was canceled by its caller, or that
// shutdown's grace window elapsed while queries were still in flight.
type CanceledError struct {
	Reason string
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("query canceled: %s", e.Reason)
}

// ErrShuttingDown is returned by ProcessQuery once Shutdown has begun.
type shutdownError struct{}

func (shutdownError) Error() string { return "orchestrator is shutting down" }

var ErrShuttingDown error = shutdownError{}
