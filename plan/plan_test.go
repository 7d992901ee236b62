package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsCycle(t *testing.T) {
	steps := []Step{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	}
	_, err := New("p1", steps, 0)
	require.Error(t, err)
}

func TestNewRejectsUnknownDependency(t *testing.T) {
	steps := []Step{{ID: "a", Dependencies: []string{"ghost"}}}
	_, err := New("p1", steps, 0)
	require.Error(t, err)
}

func TestTopologicalOrderRespectsDependencies(t *testing.T) {
	steps := []Step{
		{ID: "fetch"},
		{ID: "summarize", Dependencies: []string{"fetch"}},
	}
	p, err := New("p1", steps, 0)
	require.NoError(t, err)

	order := p.TopologicalOrder()
	require.Len(t, order, 2)
	fetchIdx, summarizeIdx := -1, -1
	for i, id := range order {
		if id == "fetch" {
			fetchIdx = i
		}
		if id == "summarize" {
			summarizeIdx = i
		}
	}
	assert.Less(t, fetchIdx, summarizeIdx)
}

func TestExecutionLevelsGroupsIndependentSteps(t *testing.T) {
	steps := []Step{
		{ID: "a"},
		{ID: "b"},
		{ID: "c", Dependencies: []string{"a", "b"}},
	}
	p, err := New("p1", steps, 0)
	require.NoError(t, err)

	levels := p.ExecutionLevels()
	require.Len(t, levels, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, levels[0])
	assert.Equal(t, []string{"c"}, levels[1])
}

func TestDependents(t *testing.T) {
	steps := []Step{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"a"}},
	}
	p, err := New("p1", steps, 0)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"b", "c"}, p.Dependents("a"))
}
