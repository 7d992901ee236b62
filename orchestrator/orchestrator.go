// Package orchestrator composes the registry, planner, executor, session
// manager and language-model collaborator into the single entry point a
// transport calls: ProcessQuery.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nexusmind/orchestrator/core"
	"github.com/nexusmind/orchestrator/executor"
	"github.com/nexusmind/orchestrator/llm"
	"github.com/nexusmind/orchestrator/plan"
	"github.com/nexusmind/orchestrator/planner"
	"github.com/nexusmind/orchestrator/registry"
	"github.com/nexusmind/orchestrator/session"
)

// QueryResult is the composed answer to one ProcessQuery call. Error is set
// when the query still produced a best-effort result but the Synthesize
// stage degraded into its concatenation fallback along the way; an Analyze
// fallback leaves Error nil. Text remains populated either way.
type QueryResult struct {
	SessionID string
	PlanID    string
	Text      string
	HTML      string
	Sources   []llm.Source
	Outcomes  map[string]*plan.Outcome
	Status    plan.PlanStatus
	ElapsedMs float64
	Error     *CollaboratorError
}

// Orchestrator is the single composed value this module exposes; there are
// no package-level singletons, so a process is free to run more than one
// with different configuration or collaborators.
type Orchestrator struct {
	registry     *registry.Registry
	planner      *planner.Planner
	executor     *executor.Executor
	sessions     *session.Manager
	collaborator llm.Collaborator
	config       *core.Config
	logger       core.Logger
	telemetry    core.Telemetry

	mu            sync.Mutex
	sessionQueues map[string]chan struct{}

	inFlight     sync.WaitGroup
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New composes an Orchestrator from its already-constructed parts. Building
// the Registry/Planner/Executor/Manager themselves is the caller's job
// (typically cmd/server's wiring code), so this package stays agnostic of
// how tools got registered or which Collaborator backend is in play.
func New(reg *registry.Registry, pl *planner.Planner, ex *executor.Executor, sessions *session.Manager, collaborator llm.Collaborator, config *core.Config) *Orchestrator {
	if config == nil {
		config = core.NewConfig()
	}
	return &Orchestrator{
		registry:      reg,
		planner:       pl,
		executor:      ex,
		sessions:      sessions,
		collaborator:  collaborator,
		config:        config,
		logger:        config.Logger(),
		telemetry:     &core.NoOpTelemetry{},
		sessionQueues: make(map[string]chan struct{}),
		shutdownCh:    make(chan struct{}),
	}
}

// SetTelemetry installs a Telemetry provider for span tracing around
// ProcessQuery. The default is a no-op.
func (o *Orchestrator) SetTelemetry(t core.Telemetry) {
	if t != nil {
		o.telemetry = t
	}
}

// ProcessQuery is the orchestrator's one external operation: analyze the
// query, plan it, execute the plan, synthesize an answer, and record the
// turn in the session. It enforces a bounded per-session queue and an
// overall query deadline.
func (o *Orchestrator) ProcessQuery(ctx context.Context, sessionID, userID, query string) (*QueryResult, error) {
	return o.processQuery(ctx, sessionID, userID, query, nil)
}

// ProcessQueryWithProgress behaves exactly like ProcessQuery but additionally
// forwards every plan.ProgressEvent emitted by the Executor onto progress, so
// a streaming transport can relay agent:progress frames while the query is
// still running. progress is never closed by this method; the caller owns
// its lifecycle.
func (o *Orchestrator) ProcessQueryWithProgress(ctx context.Context, sessionID, userID, query string, progress chan<- plan.ProgressEvent) (*QueryResult, error) {
	return o.processQuery(ctx, sessionID, userID, query, progress)
}

func (o *Orchestrator) processQuery(ctx context.Context, sessionID, userID, query string, progress chan<- plan.ProgressEvent) (*QueryResult, error) {
	select {
	case <-o.shutdownCh:
		return nil, ErrShuttingDown
	default:
	}

	if query == "" {
		return nil, &ValidationError{Field: "query", Message: "must not be empty"}
	}

	release, err := o.acquireSessionSlot(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	o.inFlight.Add(1)
	defer o.inFlight.Done()

	start := time.Now()
	ctx, span := o.telemetry.StartSpan(ctx, "orchestrator.process_query")
	defer span.End()
	span.SetAttribute("session_id", sessionID)
	span.SetAttribute("query_length", len(query))

	queryTimeout := o.config.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = 150 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sess, err := o.sessions.GetOrCreate(ctx, sessionID, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load session: %w", err)
	}

	analysis, err := o.collaborator.Analyze(ctx, query)
	if err != nil {
		if !o.config.LLMFallbackEnabled {
			span.RecordError(err)
			return nil, &CollaboratorError{Stage: "analyze", Cause: err}
		}
		o.logger.WarnWithContext(ctx, "analyze failed, falling back to unknown intent", map[string]interface{}{
			"session_id": sessionID, "error": err.Error(),
		})
		analysis = llm.AnalyzeResult{Intent: llm.Intent{Primary: "unknown"}}
	}
	if err := o.sessions.SetIntent(sess.ID, analysis.Intent, analysis.Entities); err != nil {
		o.logger.WarnWithContext(ctx, "failed to persist intent on session", map[string]interface{}{
			"session_id": sess.ID, "error": err.Error(),
		})
	}

	builtPlan, err := o.planner.Build(query, analysis.Intent, analysis.Entities, sess.Scratch)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttribute("plan_id", builtPlan.ID)
	span.SetAttribute("step_count", len(builtPlan.Steps))

	result, err := o.executor.Run(ctx, builtPlan, progress)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &DeadlineExceededError{SessionID: sess.ID, Budget: "query"}
		}
		var canceled *executor.CanceledError
		if ok := asCanceled(err, &canceled); ok {
			return nil, &CanceledError{Reason: canceled.Error()}
		}
		span.RecordError(err)
		return nil, fmt.Errorf("execute plan: %w", err)
	}

	outcomes := toolOutcomes(builtPlan, result)
	var collabErr *CollaboratorError
	synth, err := o.collaborator.Synthesize(ctx, query, outcomes, sess.ConversationTurns())
	if err != nil {
		if !o.config.LLMFallbackEnabled {
			span.RecordError(err)
			return nil, &CollaboratorError{Stage: "synthesize", Cause: err}
		}
		o.logger.WarnWithContext(ctx, "synthesize failed, falling back to tool-output concatenation", map[string]interface{}{
			"session_id": sessionID, "error": err.Error(),
		})
		collabErr = &CollaboratorError{Stage: "synthesize", Cause: err}
		synth = llm.SynthesizeResult{Text: concatenateOutcomes(outcomes)}
	}

	if err := o.sessions.AppendTurn(sess.ID, "user", query); err != nil {
		o.logger.WarnWithContext(ctx, "failed to append user turn", map[string]interface{}{"session_id": sess.ID, "error": err.Error()})
	}
	if err := o.sessions.AppendTurn(sess.ID, "assistant", synth.Text); err != nil {
		o.logger.WarnWithContext(ctx, "failed to append assistant turn", map[string]interface{}{"session_id": sess.ID, "error": err.Error()})
	}
	_ = o.sessions.UpdateExecution(sess.ID, summarize(builtPlan.ID, result))
	o.sessions.Snapshot(sess.ID)

	elapsed := float64(time.Since(start).Milliseconds())
	o.telemetry.RecordMetric("orchestrator.query.elapsed_ms", elapsed, map[string]string{"status": result.Status.String()})

	return &QueryResult{
		SessionID: sess.ID,
		PlanID:    builtPlan.ID,
		Text:      synth.Text,
		HTML:      synth.HTML,
		Sources:   synth.Sources,
		Outcomes:  result.Outcomes,
		Status:    result.Status,
		ElapsedMs: elapsed,
		Error:     collabErr,
	}, nil
}

// concatenateOutcomes builds the deterministic fallback narrative used when
// Synthesize itself is unavailable: the "text" output of every successful
// step, joined in plan order. A step whose output carries no "text" key
// contributes its raw output map instead, so a caller always sees something
// rather than a silent gap.
func concatenateOutcomes(outcomes []llm.ToolOutcome) string {
	var parts []string
	for _, o := range outcomes {
		if !o.Succeeded {
			continue
		}
		if text, ok := o.Output["text"].(string); ok && text != "" {
			parts = append(parts, text)
			continue
		}
		if len(o.Output) > 0 {
			parts = append(parts, fmt.Sprintf("%v", o.Output))
		}
	}
	return strings.Join(parts, " ")
}

// acquireSessionSlot enforces the bounded per-session queue depth: a
// session that already has MaxQueuedQueriesPerSession queries in flight
// rejects a new one immediately rather than blocking the caller.
func (o *Orchestrator) acquireSessionSlot(sessionID string) (func(), error) {
	depth := o.config.MaxQueuedQueriesPerSession
	if depth <= 0 {
		depth = 4
	}

	o.mu.Lock()
	q, ok := o.sessionQueues[sessionID]
	if !ok {
		q = make(chan struct{}, depth)
		o.sessionQueues[sessionID] = q
	}
	o.mu.Unlock()

	select {
	case q <- struct{}{}:
		return func() { <-q }, nil
	default:
		return nil, &SessionBusyError{SessionID: sessionID, Depth: depth}
	}
}

// Shutdown stops accepting new queries and waits up to the configured grace
// window for in-flight ones to finish.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.shutdownOnce.Do(func() { close(o.shutdownCh) })

	done := make(chan struct{})
	go func() {
		o.inFlight.Wait()
		close(done)
	}()

	grace := o.config.ShutdownGraceWindow
	if grace <= 0 {
		grace = 10 * time.Second
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return &CanceledError{Reason: ctx.Err().Error()}
	case <-time.After(grace):
		return &CanceledError{Reason: "shutdown grace window elapsed with queries still in flight"}
	}
}

func toolOutcomes(p *plan.Plan, result *plan.Result) []llm.ToolOutcome {
	out := make([]llm.ToolOutcome, 0, len(p.Steps))
	for _, s := range p.Steps {
		o, ok := result.Outcomes[s.ID]
		if !ok {
			continue
		}
		to := llm.ToolOutcome{StepID: s.ID, ToolName: s.ToolName, Succeeded: o.Status == plan.Succeeded, Output: o.Output}
		if o.Err != nil {
			to.Error = o.Err.Error()
		}
		out = append(out, to)
	}
	return out
}

func summarize(planID string, result *plan.Result) *session.ExecutionSummary {
	summary := &session.ExecutionSummary{PlanID: planID, CompletedAt: time.Now()}
	for stepID, o := range result.Outcomes {
		if o.Status == plan.Succeeded {
			summary.SucceededTool = append(summary.SucceededTool, stepID)
		} else if o.Status == plan.Failed || o.Status == plan.TimedOut {
			summary.FailedTool = append(summary.FailedTool, stepID)
		}
	}
	return summary
}

func asCanceled(err error, target **executor.CanceledError) bool {
	if ce, ok := err.(*executor.CanceledError); ok {
		*target = ce
		return true
	}
	return false
}
