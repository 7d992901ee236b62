package planner

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nexusmind/orchestrator/core"
	"github.com/nexusmind/orchestrator/llm"
	"github.com/nexusmind/orchestrator/plan"
	"github.com/nexusmind/orchestrator/registry"
)

// EmptyPlanError is returned when no registered tool covers any sub-goal of
// the query.
type EmptyPlanError struct {
	Query string
}

func (e *EmptyPlanError) Error() string {
	return fmt.Sprintf("no candidate tool covers query %q", e.Query)
}

// Config controls the Planner's tunables, all of which have spec-mandated
// defaults.
type Config struct {
	CandidateTopK      int
	DefaultStepTimeout time.Duration
	RetryBudgetPerStep int
	PlanTimeout        time.Duration
}

// DefaultConfig returns the documented planner defaults.
func DefaultConfig() Config {
	return Config{
		CandidateTopK:      8,
		DefaultStepTimeout: 30 * time.Second,
		RetryBudgetPerStep: 2,
		PlanTimeout:        120 * time.Second,
	}
}

// Planner turns an analyzed query into a Plan by candidate selection,
// decomposition, binding, dependency wiring and fallback attachment.
type Planner struct {
	registry *registry.Registry
	config   Config
	logger   core.Logger
}

// New constructs a Planner reading candidates from reg.
func New(reg *registry.Registry, config Config, logger core.Logger) *Planner {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Planner{registry: reg, config: config, logger: logger}
}

// subGoal is one decomposed clause of the query, carrying the inputs
// available to it at binding time.
type subGoal struct {
	text   string
	inputs map[string]interface{}
}

var compoundSplitPattern = regexp.MustCompile(`(?i)\s+and then\s+|;\s+`)

// Build produces a Plan for query given the already-extracted intent and
// entities and any scratch values from Context.
func (p *Planner) Build(query string, intent llm.Intent, entities []llm.Entity, scratch map[string]interface{}) (*plan.Plan, error) {
	candidates := p.registry.Recommend(query)
	if len(candidates) > p.config.CandidateTopK {
		candidates = candidates[:p.config.CandidateTopK]
	}
	if len(candidates) == 0 {
		return nil, &EmptyPlanError{Query: query}
	}

	goals := decompose(query, intent)

	baseInputs := map[string]interface{}{"query": query}
	for _, e := range entities {
		baseInputs[e.Kind] = e.Surface
		if e.Resolved != nil {
			baseInputs[e.Kind] = e.Resolved
		}
	}
	for k, v := range scratch {
		baseInputs[k] = v
	}
	for i := range goals {
		goals[i].inputs = baseInputs
	}

	steps, producedBy, err := p.bind(goals, candidates)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, &EmptyPlanError{Query: query}
	}

	steps = p.wireDependencies(steps, producedBy)
	p.attachFallbacks(steps, candidates)
	markCritical(steps)

	builtPlan, err := plan.New(uuid.New().String(), steps, p.config.PlanTimeout)
	if err != nil {
		// A cycle here means dependency wiring introduced one; fall back to
		// clearing the dependencies of the step that closes it and rebuild
		// once. The step itself stays in the plan.
		steps = breakFirstCycle(steps)
		builtPlan, err = plan.New(uuid.New().String(), steps, p.config.PlanTimeout)
		if err != nil {
			return nil, err
		}
	}

	builtPlan.EstimatedCompletionMs = estimateCompletion(builtPlan, p.registry)
	return builtPlan, nil
}

// decompose splits query into one sub-goal per clause when the intent
// carries a compound marker or the text itself matches the "and then"/";"
// heuristic; otherwise it returns a single sub-goal for the whole query.
func decompose(query string, intent llm.Intent) []subGoal {
	if !intent.Compound && !compoundSplitPattern.MatchString(query) {
		return []subGoal{{text: query}}
	}

	clauses := compoundSplitPattern.Split(query, -1)
	goals := make([]subGoal, 0, len(clauses))
	for _, c := range clauses {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		goals = append(goals, subGoal{text: c})
	}
	if len(goals) == 0 {
		return []subGoal{{text: query}}
	}
	return goals
}

// bind selects, for each sub-goal, the highest-scoring candidate that is not
// already bound to another step. The candidate's declared input types are
// not checked against the sub-goal's available inputs. When the chosen
// candidate declares an input type that is neither among the raw
// available inputs nor yet produced by another bound step, bind recursively
// selects a producer for that type from the same candidate pool and adds it
// as its own step, which wireDependencies then chains in. This is how a
// single sub-goal like "summarize the front page" yields both a Fetch and a
// Summarize step even though decomposition only split on explicit clause
// markers. It returns the bound steps and a map from output type to the step
// id that produces it, used for dependency wiring.
func (p *Planner) bind(goals []subGoal, candidates []registry.Scored) ([]plan.Step, map[string]string, error) {
	steps := make([]plan.Step, 0, len(goals))
	producedBy := make(map[string]string)
	boundTool := make(map[string]bool, len(candidates))

	addStep := func(c registry.Scored, inputs map[string]interface{}) plan.Step {
		stepID := fmt.Sprintf("step-%d-%s", len(steps), c.Tool.ID)
		s := plan.Step{
			ID:       stepID,
			ToolID:   c.Tool.ID,
			ToolName: c.Tool.Name,
			Inputs:   inputs,
			Timeout:  p.config.DefaultStepTimeout,
			Retry:    plan.RetryPolicy{MaxAttempts: p.config.RetryBudgetPerStep},
			Critical: c.Tool.Critical,
		}
		steps = append(steps, s)
		boundTool[c.Tool.ID] = true
		for _, outType := range c.Tool.OutputTypes {
			producedBy[outType] = stepID
		}
		return s
	}

	var resolveProducer func(inType string)
	resolveProducer = func(inType string) {
		if _, ok := producedBy[inType]; ok {
			return
		}
		for _, c := range candidates {
			if boundTool[c.Tool.ID] || !containsAny(c.Tool.OutputTypes, inType) {
				continue
			}
			addStep(c, map[string]interface{}{"query": ""})
			return
		}
	}

	for _, g := range goals {
		scoredForGoal := p.registry.Recommend(g.text)
		if len(scoredForGoal) == 0 {
			scoredForGoal = candidates
		}

		var chosen *registry.Scored
		for idx := range scoredForGoal {
			if !boundTool[scoredForGoal[idx].Tool.ID] {
				chosen = &scoredForGoal[idx]
				break
			}
		}
		if chosen == nil {
			continue
		}

		addStep(*chosen, g.inputs)

		for _, inType := range chosen.Tool.InputTypes {
			if _, ok := g.inputs[inType]; ok {
				continue
			}
			resolveProducer(inType)
		}
	}

	return steps, producedBy, nil
}

func containsAny(haystack []string, target string) bool {
	for _, v := range haystack {
		if v == target {
			return true
		}
	}
	return false
}

// wireDependencies adds a dependency from a step to whichever other selected
// step produces a type in the dependent's declared input types. A step never
// depends on itself even if its own tool happens to produce a type it also
// consumes.
func (p *Planner) wireDependencies(steps []plan.Step, producedBy map[string]string) []plan.Step {
	for i := range steps {
		tool, ok := p.registry.Get(steps[i].ToolID)
		if !ok {
			continue
		}
		seen := make(map[string]bool, len(steps[i].Dependencies))
		for _, d := range steps[i].Dependencies {
			seen[d] = true
		}
		for _, inType := range tool.InputTypes {
			producerID, ok := producedBy[inType]
			if !ok || producerID == steps[i].ID || seen[producerID] {
				continue
			}
			steps[i].Dependencies = append(steps[i].Dependencies, producerID)
			seen[producerID] = true
		}
	}
	return steps
}

func markCritical(steps []plan.Step) {
	hasDependent := make(map[string]bool, len(steps))
	for _, s := range steps {
		for _, d := range s.Dependencies {
			hasDependent[d] = true
		}
	}
	for i := range steps {
		if !hasDependent[steps[i].ID] {
			steps[i].Critical = true
		}
	}
}

// attachFallbacks attaches up to two alternate tools (next-scoring
// candidates that produce at least one output type the bound tool also
// produces) to each step, for the Executor to substitute on failure without
// starving a dependent step of the input type it was wired to expect.
func (p *Planner) attachFallbacks(steps []plan.Step, candidates []registry.Scored) {
	for i := range steps {
		boundTool, ok := p.registry.Get(steps[i].ToolID)
		if !ok {
			continue
		}
		var alternates []string
		for _, c := range candidates {
			if len(alternates) >= 2 {
				break
			}
			if c.Tool.ID == steps[i].ToolID {
				continue
			}
			if !sharesOutputType(boundTool.OutputTypes, c.Tool.OutputTypes) {
				continue
			}
			alternates = append(alternates, c.Tool.ID)
		}
		steps[i].Fallbacks = alternates
	}
}

// sharesOutputType reports whether a and b have at least one output type in
// common.
func sharesOutputType(a, b []string) bool {
	for _, t := range a {
		if containsAny(b, t) {
			return true
		}
	}
	return false
}

// breakFirstCycle clears the dependencies of the first step (in plan order)
// whose cleared dependencies leave the plan acyclic. The step itself is kept.
// If no single step's dependencies break every cycle, steps is returned
// unchanged.
func breakFirstCycle(steps []plan.Step) []plan.Step {
	for i := range steps {
		saved := steps[i].Dependencies
		steps[i].Dependencies = nil
		if _, err := plan.New("cycle-check", steps, 0); err == nil {
			return steps
		}
		steps[i].Dependencies = saved
	}
	return steps
}

// estimateCompletion sums EWMA execution time across the longest chain of
// topological layers.
func estimateCompletion(p *plan.Plan, reg *registry.Registry) float64 {
	levels := p.ExecutionLevels()
	total := 0.0
	for _, level := range levels {
		levelMax := 0.0
		for _, id := range level {
			step, ok := p.Step(id)
			if !ok {
				continue
			}
			stats, ok := reg.Stats(step.ToolID)
			cost := 0.0
			if ok {
				cost = stats.EWMAExecMs
			}
			if cost > levelMax {
				levelMax = cost
			}
		}
		total += levelMax
	}
	return total
}
