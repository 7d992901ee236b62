package executor

import (
	"context"
	"errors"

	"github.com/nexusmind/orchestrator/llm"
	"github.com/nexusmind/orchestrator/resilience"
)

// Transient marks a tool-returned error as worth retrying with backoff
// rather than falling back to an alternate tool immediately. Tool authors
// wrap errors like connection resets or upstream 5xx responses in this.
type Transient struct {
	Err error
}

func (t *Transient) Error() string { return t.Err.Error() }
func (t *Transient) Unwrap() error { return t.Err }

// isTransient decides whether err should trigger a same-tool retry. A
// Collaborator error carries its own classification; a context deadline or
// an open circuit breaker is never worth retrying against the same tool.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var t *Transient
	if errors.As(err, &t) {
		return true
	}
	var lerr *llm.Error
	if errors.As(err, &lerr) {
		return lerr.Kind == llm.KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	return false
}
