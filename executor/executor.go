// Package executor runs a plan's DAG of steps against a tool registry,
// respecting dependency order while running independent steps concurrently,
// retrying transient failures with backoff, substituting fallback tools, and
// cascading skips to steps blocked by an unrecovered failure.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nexusmind/orchestrator/core"
	"github.com/nexusmind/orchestrator/plan"
	"github.com/nexusmind/orchestrator/registry"
	"github.com/nexusmind/orchestrator/resilience"
)

// Config controls the Executor's scheduling tunables, mirroring the
// spec-mandated defaults.
type Config struct {
	Parallelism             int
	DefaultStepTimeout      time.Duration
	CancellationGraceWindow time.Duration

	// EnableToolLearning governs whether a step invocation calls
	// Registry.RecordUsage, letting Recommend's scoring adapt to observed
	// success rates. Defaults to true.
	EnableToolLearning bool
}

// DefaultConfig returns the documented executor defaults: four-way
// parallelism, a 30s per-step timeout, a 2s cancellation grace window, and
// tool-usage learning enabled.
func DefaultConfig() Config {
	return Config{
		Parallelism:             4,
		DefaultStepTimeout:      30 * time.Second,
		CancellationGraceWindow: 2 * time.Second,
		EnableToolLearning:      true,
	}
}

// Executor runs Plans produced by the planner package against a Registry.
type Executor struct {
	registry *registry.Registry
	config   Config
	logger   core.Logger
}

// New constructs an Executor invoking tools looked up in reg.
func New(reg *registry.Registry, config Config, logger core.Logger) *Executor {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if config.Parallelism <= 0 {
		config.Parallelism = DefaultConfig().Parallelism
	}
	return &Executor{registry: reg, config: config, logger: logger}
}

// Run executes p to completion, cancellation, or its own deadline, streaming
// ProgressEvents on progress if non-nil. progress is expected to be
// unbuffered and owned exclusively by this call; a slow reader causes events
// to be dropped rather than stalling execution.
func (e *Executor) Run(ctx context.Context, p *plan.Plan, progress chan<- plan.ProgressEvent) (*plan.Result, error) {
	planStart := time.Now()
	outcomes := make(map[string]*plan.Outcome, len(p.Steps))
	var mu sync.Mutex
	var seq uint64

	emit := func(stepID string, status plan.StepStatus, partial map[string]interface{}, elapsedMs float64) {
		if progress == nil {
			return
		}
		seq++
		ev := plan.ProgressEvent{
			Seq: seq, PlanID: p.ID, StepID: stepID, Status: status,
			Partial: partial, ElapsedMs: elapsedMs, OccurredAt: time.Now(),
		}
		select {
		case progress <- ev:
		default:
			e.logger.Warn("dropped progress event under backpressure", map[string]interface{}{
				"plan_id": p.ID, "step_id": stepID, "seq": seq,
			})
		}
	}

	sem := make(chan struct{}, e.config.Parallelism)
	done := make(chan struct{})
	var schedulingErr error

	go func() {
		defer close(done)
		executed := make(map[string]bool, len(p.Steps))
		running := make(map[string]bool, len(p.Steps))

		for len(executed) < len(p.Steps) {
			if ctx.Err() != nil {
				return
			}

			mu.Lock()
			ready := readySteps(p, executed, running, outcomes)
			mu.Unlock()

			if len(ready) == 0 {
				skipped := e.cascadeSkips(p, executed, outcomes, &mu, emit)
				if skipped {
					continue
				}
				schedulingErr = fmt.Errorf("plan %q stalled: no ready steps and none blocked by failure", p.ID)
				return
			}

			var wg sync.WaitGroup
			for _, step := range ready {
				step := step
				mu.Lock()
				running[step.ID] = true
				mu.Unlock()

				wg.Add(1)
				go func() {
					defer wg.Done()
					sem <- struct{}{}
					defer func() { <-sem }()

					outcome := e.runStep(ctx, p, step, planStart, outcomes, &mu, emit)

					mu.Lock()
					outcomes[step.ID] = outcome
					executed[step.ID] = true
					delete(running, step.ID)
					mu.Unlock()
				}()
			}
			wg.Wait()
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
		case <-time.After(e.config.CancellationGraceWindow):
			mu.Lock()
			for _, s := range p.Steps {
				if _, ok := outcomes[s.ID]; !ok {
					outcomes[s.ID] = &plan.Outcome{
						StepID: s.ID, Status: plan.Skipped,
						Err: &CanceledError{Reason: "canceled before step started"},
						EndedAt: time.Now(),
					}
				}
			}
			mu.Unlock()
			return &plan.Result{PlanID: p.ID, Status: plan.PlanCanceled, Outcomes: outcomes},
				&CanceledError{Reason: "grace window elapsed with steps still in flight"}
		}
	}

	if schedulingErr != nil {
		return &plan.Result{PlanID: p.ID, Status: plan.PlanFailed, Outcomes: outcomes}, schedulingErr
	}
	if ctx.Err() != nil {
		return &plan.Result{PlanID: p.ID, Status: plan.PlanCanceled, Outcomes: outcomes}, &CanceledError{Reason: ctx.Err().Error()}
	}

	status := plan.PlanSucceeded
	for _, s := range p.Steps {
		o := outcomes[s.ID]
		if o == nil {
			continue
		}
		if s.Critical && (o.Status == plan.Failed || o.Status == plan.TimedOut || o.Status == plan.Skipped) {
			status = plan.PlanFailed
		}
	}

	return &plan.Result{PlanID: p.ID, Status: status, Outcomes: outcomes}, nil
}

// readySteps returns the steps that have not executed or started, and whose
// dependencies have all executed successfully. Callers hold mu.
func readySteps(p *plan.Plan, executed, running map[string]bool, outcomes map[string]*plan.Outcome) []plan.Step {
	var ready []plan.Step
	for _, s := range p.Steps {
		if executed[s.ID] || running[s.ID] {
			continue
		}
		blocked := false
		for _, dep := range s.Dependencies {
			if o, ok := outcomes[dep]; !executed[dep] || !ok || o.Status != plan.Succeeded {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, s)
		}
	}
	return ready
}

// cascadeSkips marks as Skipped any not-yet-executed step whose dependency
// failed, timed out, or was itself skipped, reporting whether it skipped
// anything so the caller can keep making scheduling progress.
func (e *Executor) cascadeSkips(p *plan.Plan, executed map[string]bool, outcomes map[string]*plan.Outcome, mu *sync.Mutex, emit func(string, plan.StepStatus, map[string]interface{}, float64)) bool {
	mu.Lock()
	defer mu.Unlock()

	skippedAny := false
	for _, s := range p.Steps {
		if executed[s.ID] {
			continue
		}
		blockedByFailure := false
		for _, dep := range s.Dependencies {
			depOutcome, ok := outcomes[dep]
			if ok && (depOutcome.Status == plan.Failed || depOutcome.Status == plan.TimedOut || depOutcome.Status == plan.Skipped) {
				blockedByFailure = true
				break
			}
		}
		if !blockedByFailure {
			continue
		}
		now := time.Now()
		outcomes[s.ID] = &plan.Outcome{StepID: s.ID, Status: plan.Skipped, StartedAt: now, EndedAt: now}
		executed[s.ID] = true
		skippedAny = true
		emit(s.ID, plan.Skipped, nil, 0)
	}
	return skippedAny
}

// runStep invokes step's bound tool, retrying transient failures with
// backoff up to step.Retry.MaxAttempts and substituting fallback tools
// before giving up. It never panics the caller: a tool panic is recovered
// and converted into a Failed outcome.
func (e *Executor) runStep(ctx context.Context, p *plan.Plan, step plan.Step, planStart time.Time, outcomes map[string]*plan.Outcome, mu *sync.Mutex, emit func(string, plan.StepStatus, map[string]interface{}, float64)) (result *plan.Outcome) {
	started := time.Now()
	emit(step.ID, plan.Running, nil, 0)

	defer func() {
		if r := recover(); r != nil {
			result = &plan.Outcome{
				StepID: step.ID, Status: plan.Failed,
				Err:       fmt.Errorf("step %q panicked: %v", step.ID, r),
				StartedAt: started, EndedAt: time.Now(),
			}
			emit(step.ID, plan.Failed, nil, float64(time.Since(started).Milliseconds()))
		}
	}()

	toolID := step.ToolID
	fallbacksLeft := append([]string{}, step.Fallbacks...)
	maxAttempts := step.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	priorOutputs := e.collectPriorOutputs(step, outcomes, mu)

	var lastErr error
	attempts := 0
	usedToolID := toolID
	usedToolName := step.ToolName

retryLoop:
	for {
		tool, ok := e.registry.Get(toolID)
		if !ok {
			lastErr = fmt.Errorf("tool %q not found", toolID)
			break
		}
		usedToolID = tool.ID
		usedToolName = tool.Name

		budget := step.Timeout
		if budget <= 0 {
			budget = e.config.DefaultStepTimeout
		}
		if p.Deadline > 0 {
			remaining := p.Deadline - time.Since(planStart)
			if remaining < budget {
				budget = remaining
			}
		}
		if budget <= 0 {
			lastErr = &DeadlineExceededError{StepID: step.ID, Budget: "plan"}
			emit(step.ID, plan.TimedOut, nil, float64(time.Since(started).Milliseconds()))
			return &plan.Outcome{StepID: step.ID, Status: plan.TimedOut, Err: lastErr, StartedAt: started, EndedAt: time.Now(), Attempts: attempts, UsedToolID: usedToolID, UsedToolName: usedToolName}
		}

		stepCtx, cancel := context.WithTimeout(ctx, budget)
		attempts++
		callStart := time.Now()
		out, err := tool.Execute(stepCtx, step.Inputs, registry.StepContext{
			PlanID:       p.ID,
			StepID:       step.ID,
			Deadline:     callStart.Add(budget),
			PriorOutputs: priorOutputs,
			Registry:     e.registry,
		})
		callElapsed := time.Since(callStart)
		timedOut := stepCtx.Err() == context.DeadlineExceeded
		cancel()

		if e.config.EnableToolLearning {
			e.registry.RecordUsage(tool.ID, err == nil, float64(callElapsed.Milliseconds()))
		}

		if err == nil {
			emit(step.ID, plan.Succeeded, out, float64(time.Since(started).Milliseconds()))
			return &plan.Outcome{StepID: step.ID, Status: plan.Succeeded, Output: out, StartedAt: started, EndedAt: time.Now(), Attempts: attempts, UsedToolID: usedToolID, UsedToolName: usedToolName}
		}
		lastErr = &ToolExecutionError{ToolID: tool.ID, StepID: step.ID, Retryable: isTransient(err), Cause: err}

		if timedOut {
			if next, ok := popFallback(&fallbacksLeft); ok {
				toolID = next
				attempts = 0
				continue
			}
			emit(step.ID, plan.TimedOut, nil, float64(time.Since(started).Milliseconds()))
			return &plan.Outcome{StepID: step.ID, Status: plan.TimedOut, Err: lastErr, StartedAt: started, EndedAt: time.Now(), Attempts: attempts, UsedToolID: usedToolID, UsedToolName: usedToolName}
		}

		if isTransient(err) && attempts < maxAttempts {
			delay := resilience.JitteredDelay(attempts-1, resilience.DefaultRetryConfig())
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break retryLoop
			case <-time.After(delay):
				continue
			}
		}

		if next, ok := popFallback(&fallbacksLeft); ok {
			toolID = next
			attempts = 0
			continue
		}
		break
	}

	emit(step.ID, plan.Failed, nil, float64(time.Since(started).Milliseconds()))
	return &plan.Outcome{StepID: step.ID, Status: plan.Failed, Err: lastErr, StartedAt: started, EndedAt: time.Now(), Attempts: attempts, UsedToolID: usedToolID, UsedToolName: usedToolName}
}

// collectPriorOutputs exposes dependency outputs to the step about to run,
// keyed by the producing step's id.
func (e *Executor) collectPriorOutputs(step plan.Step, outcomes map[string]*plan.Outcome, mu *sync.Mutex) map[string]map[string]interface{} {
	mu.Lock()
	defer mu.Unlock()

	prior := make(map[string]map[string]interface{}, len(step.Dependencies))
	for _, dep := range step.Dependencies {
		if o, ok := outcomes[dep]; ok && o.Output != nil {
			prior[dep] = o.Output
		}
	}
	return prior
}

func popFallback(fallbacks *[]string) (string, bool) {
	if len(*fallbacks) == 0 {
		return "", false
	}
	next := (*fallbacks)[0]
	*fallbacks = (*fallbacks)[1:]
	return next, true
}
