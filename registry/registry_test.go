package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() Tool {
	return Tool{
		Name:        "Echo",
		Category:    "utility",
		Keywords:    []string{"echo"},
		Description: "repeats back whatever text it is given",
		InputTypes:  []string{"text/plain"},
		OutputTypes: []string{"text/plain"},
		Execute: func(ctx context.Context, input map[string]interface{}, stepCtx StepContext) (map[string]interface{}, error) {
			return input, nil
		},
	}
}

func TestRegisterAssignsIDAndIndexes(t *testing.T) {
	r := New(nil)
	registered, err := r.Register(echoTool())
	require.NoError(t, err)
	assert.NotEmpty(t, registered.ID)

	got, ok := r.Get("echo")
	assert.True(t, ok)
	assert.Equal(t, registered.ID, got.ID)

	found := r.Find(Criteria{Category: "utility"})
	assert.Len(t, found, 1)
}

func TestRegisterRejectsCaseInsensitiveNameCollision(t *testing.T) {
	r := New(nil)
	_, err := r.Register(echoTool())
	require.NoError(t, err)

	dup := echoTool()
	dup.Name = "ECHO"
	_, err = r.Register(dup)
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRegisterRequiresNameAndExecute(t *testing.T) {
	r := New(nil)
	_, err := r.Register(Tool{Execute: func(context.Context, map[string]interface{}, StepContext) (map[string]interface{}, error) { return nil, nil }})
	require.Error(t, err)

	_, err = r.Register(Tool{Name: "no-handler"})
	require.Error(t, err)
}

func TestUnregisterRemovesFromAllIndices(t *testing.T) {
	r := New(nil)
	tool := echoTool()
	registered, err := r.Register(tool)
	require.NoError(t, err)

	ok := r.Unregister(registered.ID)
	assert.True(t, ok)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Find(Criteria{Category: "utility"}))

	assert.False(t, r.Unregister("does-not-exist"))
}

func TestFindEmptyCriteriaReturnsEverything(t *testing.T) {
	r := New(nil)
	_, _ = r.Register(echoTool())
	fetch := echoTool()
	fetch.Name = "Fetch"
	fetch.Keywords = []string{"fetch"}
	_, _ = r.Register(fetch)

	all := r.Find(Criteria{})
	assert.Len(t, all, r.Len())
	assert.Len(t, all, 2)
}

func TestRecommendScoresAndOmitsZero(t *testing.T) {
	r := New(nil)
	_, _ = r.Register(echoTool())
	unrelated := echoTool()
	unrelated.Name = "Weather"
	unrelated.Keywords = []string{"forecast"}
	unrelated.Description = "checks the current forecast for a city"
	_, _ = r.Register(unrelated)

	scored := r.Recommend("please echo hello back to me")
	require.Len(t, scored, 1)
	assert.Equal(t, "Echo", scored[0].Tool.Name)
	assert.Greater(t, scored[0].Score, 0.0)
}

func TestRecommendRanksHigherSuccessRateFirst(t *testing.T) {
	r := New(nil)
	a := echoTool()
	a.Name = "Alpha"
	a.Keywords = []string{"echo"}
	regA, _ := r.Register(a)

	b := echoTool()
	b.Name = "Beta"
	b.Keywords = []string{"echo"}
	regB, _ := r.Register(b)

	r.RecordUsage(regA.ID, true, 10)
	r.RecordUsage(regB.ID, false, 10)

	scored := r.Recommend("echo")
	require.Len(t, scored, 2)
	assert.Equal(t, "Alpha", scored[0].Tool.Name, "the success-rate factor should rank the tool with a recorded success first")
}

func TestRecordUsageUpdatesEWMAAndCounts(t *testing.T) {
	r := New(nil)
	registered, _ := r.Register(echoTool())

	r.RecordUsage(registered.ID, true, 100)
	r.RecordUsage(registered.ID, false, 200)

	stats, ok := r.Stats(registered.ID)
	require.True(t, ok)
	assert.EqualValues(t, 1, stats.Successes)
	assert.EqualValues(t, 1, stats.Failures)
	assert.EqualValues(t, 2, stats.TotalInvocations())
	assert.InDelta(t, 150, stats.EWMAExecMs, 0.001)
}

func TestExportImportRoundTrip(t *testing.T) {
	r := New(nil)
	registered, _ := r.Register(echoTool())
	r.RecordUsage(registered.ID, true, 42)

	snap := r.Export()
	require.Len(t, snap.Tools, 1)

	r2 := New(nil)
	handlers := HandlerTable{"echo": echoTool().Execute}
	count := r2.Import(snap, handlers)

	assert.Equal(t, 1, count)
	assert.Equal(t, r.Len(), r2.Len())

	got, ok := r2.Get(registered.ID)
	require.True(t, ok)
	assert.Equal(t, registered.Name, got.Name)

	stats, ok := r2.Stats(registered.ID)
	require.True(t, ok)
	assert.EqualValues(t, 1, stats.Successes)
}

func TestImportSkipsToolsWithNoBoundHandler(t *testing.T) {
	r := New(nil)
	_, _ = r.Register(echoTool())
	snap := r.Export()

	r2 := New(nil)
	count := r2.Import(snap, HandlerTable{})
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, r2.Len())
}
