package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockCollaboratorAnalyzeDetectsCompound(t *testing.T) {
	m := &MockCollaborator{}
	result, err := m.Analyze(context.Background(), "fetch the front page and then summarize it")
	require.NoError(t, err)
	assert.True(t, result.Intent.Compound)
}

func TestMockCollaboratorAnalyzeSimpleQuery(t *testing.T) {
	m := &MockCollaborator{}
	result, err := m.Analyze(context.Background(), "please echo hello")
	require.NoError(t, err)
	assert.False(t, result.Intent.Compound)
}

func TestMockCollaboratorSynthesizeConcatenatesSuccesses(t *testing.T) {
	m := &MockCollaborator{}
	outcomes := []ToolOutcome{
		{ToolName: "Fetch", Succeeded: true, Output: map[string]interface{}{"text": "hello"}},
		{ToolName: "Broken", Succeeded: false, Error: "boom"},
	}
	result, err := m.Synthesize(context.Background(), "q", outcomes, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Text)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "Fetch", result.Sources[0].Name)
}

func TestMockCollaboratorForcedFailureCarriesKind(t *testing.T) {
	m := &MockCollaborator{FailAnalyze: &Error{Kind: KindTransient, Message: "down"}}
	_, err := m.Analyze(context.Background(), "q")
	require.Error(t, err)
	var collabErr *Error
	require.ErrorAs(t, err, &collabErr)
	assert.Equal(t, KindTransient, collabErr.Kind)
}
