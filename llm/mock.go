package llm

import (
	"context"
	"strings"
)

// MockCollaborator is a deterministic stub used throughout the test suite so
// Planner/Synthesizer behavior never depends on a live model provider.
// Analyze detects a compound query via "and then"/"; " separators; Synthesize
// joins the "text" output of every successful tool outcome with spaces.
// Unlike the Orchestrator's own fallback, a successful outcome without a
// "text" string contributes nothing to Text (it is still listed in Sources).
type MockCollaborator struct {
	// AnalyzeFn, when set, overrides the default heuristic analysis.
	AnalyzeFn func(ctx context.Context, text string) (AnalyzeResult, error)
	// SynthesizeFn, when set, overrides the default concatenation synthesis.
	SynthesizeFn func(ctx context.Context, query string, outcomes []ToolOutcome, history []ConversationTurn) (SynthesizeResult, error)
	// FailAnalyze/FailSynthesize force a Collaborator Error of the given kind.
	FailAnalyze    *Error
	FailSynthesize *Error
}

func (m *MockCollaborator) Analyze(ctx context.Context, text string) (AnalyzeResult, error) {
	if m.FailAnalyze != nil {
		return AnalyzeResult{}, m.FailAnalyze
	}
	if m.AnalyzeFn != nil {
		return m.AnalyzeFn(ctx, text)
	}

	compound := strings.Contains(strings.ToLower(text), " and then ") || strings.Contains(text, "; ")
	return AnalyzeResult{
		Intent: Intent{
			Primary:    "unknown",
			Confidence: 0.5,
			Compound:   compound,
		},
	}, nil
}

func (m *MockCollaborator) Synthesize(ctx context.Context, query string, outcomes []ToolOutcome, history []ConversationTurn) (SynthesizeResult, error) {
	if m.FailSynthesize != nil {
		return SynthesizeResult{}, m.FailSynthesize
	}
	if m.SynthesizeFn != nil {
		return m.SynthesizeFn(ctx, query, outcomes, history)
	}

	var parts []string
	var sources []Source
	for _, o := range outcomes {
		if !o.Succeeded {
			continue
		}
		if text, ok := o.Output["text"].(string); ok {
			parts = append(parts, text)
		}
		sources = append(sources, Source{Name: o.ToolName})
	}

	return SynthesizeResult{
		Text:    strings.Join(parts, " "),
		Sources: sources,
	}, nil
}
