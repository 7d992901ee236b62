package registry

import (
	"context"
	"time"
)

// Tool is a named, versioned capability the orchestrator can invoke. Once
// registered, the declarative metadata is immutable; only ToolStats mutate.
type Tool struct {
	ID          string
	Name        string
	Category    string
	Version     string
	InputTypes  []string
	OutputTypes []string
	Capabilities []string
	Keywords    []string
	Description string

	// Fallbacks holds alternate tool ids recorded with the tool and carried
	// through Export/Import. The planner does not read it: the alternates it
	// attaches live on each plan.Step's own Fallbacks.
	Fallbacks []string

	// Critical marks a tool whose failure, when unrecovered, classifies the
	// owning plan as failed: the planner copies it onto every step bound to
	// this tool. Independently of this flag, the planner also marks every
	// step with no dependents as critical.
	Critical bool

	Execute ExecuteFunc `json:"-"`
}

// ExecuteFunc is the invocation handle a tool definition carries. It is
// excluded from export/import: snapshots carry only the declarative record,
// and handles are rebound by name against a caller-provided handler table.
type ExecuteFunc func(ctx context.Context, input map[string]interface{}, stepCtx StepContext) (map[string]interface{}, error)

// StepContext is passed to a tool's Execute at invocation time, not captured
// at registration time, so a tool that needs to introspect the registry (or
// any other orchestrator-owned resource) stays a plain value until it runs.
type StepContext struct {
	PlanID   string
	StepID   string
	Deadline time.Time

	// PriorOutputs exposes outputs of dependency steps keyed by the producing
	// step's id; there are no separate edge labels.
	PriorOutputs map[string]map[string]interface{}

	// Progress is an optional hint channel for incremental status strings.
	// The Executor does not set it, so it is nil for every step the Executor
	// runs and nothing written to it becomes a progress event. A tool must
	// tolerate Progress being nil.
	Progress chan<- string

	// Registry lets a tool resolve other tools at invocation time. This is
	// how a built-in "introspect the registry" tool can operate without the
	// tool definition itself capturing a registry reference.
	Registry Finder
}

// Finder is the read-only subset of Registry a tool is allowed to see from
// within StepContext.
type Finder interface {
	Find(criteria Criteria) []Tool
	Get(idOrName string) (Tool, bool)
}

// ToolStats is rolling telemetry for one tool, updated only by the Executor
// on step completion.
type ToolStats struct {
	Successes    int64
	Failures     int64
	EWMAExecMs   float64
	LastUsedUnix int64
}

// TotalInvocations returns Successes+Failures, which must always equal the
// count of completed invocations for this tool.
func (s ToolStats) TotalInvocations() int64 {
	return s.Successes + s.Failures
}

// SuccessRate returns successes/max(1, total), the factor used in scoring.
func (s ToolStats) SuccessRate() float64 {
	total := s.TotalInvocations()
	if total <= 0 {
		return 0
	}
	return float64(s.Successes) / float64(total)
}

// Criteria is the filter set accepted by Find. An absent (zero-value) field
// does not filter; supplying several ANDs them together.
type Criteria struct {
	Category   string
	Capability string
	Keywords   []string
	InputType  string
	OutputType string
}

func (c Criteria) isEmpty() bool {
	return c.Category == "" && c.Capability == "" && len(c.Keywords) == 0 &&
		c.InputType == "" && c.OutputType == ""
}
