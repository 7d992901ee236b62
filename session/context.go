// Package session tracks per-conversation state: turn history, the most
// recently extracted intent and entities, the last plan's outcome summary,
// and scratch key/value data the planner can fold into a new plan's inputs.
package session

import (
	"fmt"
	"time"

	"github.com/nexusmind/orchestrator/llm"
)

// Turn is one message in a conversation's history.
type Turn struct {
	Role      string // "user" or "assistant"
	Content   string
	Timestamp time.Time
}

// ExecutionSummary is a compact record of how the last plan run for this
// session went, enough for a Collaborator to reference in synthesis without
// re-reading the full Outcome map.
type ExecutionSummary struct {
	PlanID        string
	SucceededTool []string
	FailedTool    []string
	CompletedAt   time.Time
}

// Context is one conversation's accumulated state. It is never safe to
// share across goroutines directly; callers reach it only through Manager,
// which copies on read and serializes writes per session.
type Context struct {
	ID     string
	UserID string

	Turns    []Turn
	Intent   llm.Intent
	Entities []llm.Entity
	Scratch  map[string]interface{}

	LastExecution *ExecutionSummary

	CreatedAt   time.Time
	LastUpdated time.Time
}

// TurnAlternationError reports that appending a turn would produce two
// consecutive turns from the same role.
type TurnAlternationError struct {
	SessionID string
	Role      string
}

func (e *TurnAlternationError) Error() string {
	return fmt.Sprintf("session %q: turn history must alternate roles, got consecutive %q", e.SessionID, e.Role)
}

// appendTurn enforces the alternation invariant in place. The very first
// turn of a session may be either role; every turn after that must differ
// from the previous one.
func (c *Context) appendTurn(role, content string) error {
	if len(c.Turns) > 0 && c.Turns[len(c.Turns)-1].Role == role {
		return &TurnAlternationError{SessionID: c.ID, Role: role}
	}
	c.Turns = append(c.Turns, Turn{Role: role, Content: content, Timestamp: time.Now()})
	return nil
}

// clearMessages drops turn history and the last execution summary but
// leaves Scratch, Intent and Entities untouched — those represent
// in-progress conversational state, not message log.
func (c *Context) clearMessages() {
	c.Turns = nil
	c.LastExecution = nil
}

// ConversationTurns projects Turns into the narrow shape llm.Collaborator
// consumes.
func (c *Context) ConversationTurns() []llm.ConversationTurn {
	out := make([]llm.ConversationTurn, len(c.Turns))
	for i, t := range c.Turns {
		out[i] = llm.ConversationTurn{Role: t.Role, Content: t.Content}
	}
	return out
}

// copy returns a deep-enough copy for safe hand-off outside the shard lock:
// slices and maps are cloned, but values within Scratch are not.
func (c *Context) copy() *Context {
	cp := *c
	cp.Turns = append([]Turn(nil), c.Turns...)
	cp.Entities = append([]llm.Entity(nil), c.Entities...)
	if c.Scratch != nil {
		cp.Scratch = make(map[string]interface{}, len(c.Scratch))
		for k, v := range c.Scratch {
			cp.Scratch[k] = v
		}
	}
	if c.LastExecution != nil {
		le := *c.LastExecution
		cp.LastExecution = &le
	}
	return &cp
}
