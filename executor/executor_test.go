package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexusmind/orchestrator/plan"
	"github.com/nexusmind/orchestrator/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReg(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New(nil)
}

func registerEcho(t *testing.T, r *registry.Registry, name string, exec registry.ExecuteFunc) registry.Tool {
	t.Helper()
	tool, err := r.Register(registry.Tool{Name: name, Keywords: []string{name}, Description: name, Execute: exec})
	require.NoError(t, err)
	return tool
}

func TestRunSingleStepSucceeds(t *testing.T) {
	r := newReg(t)
	tool := registerEcho(t, r, "Echo", func(ctx context.Context, input map[string]interface{}, sc registry.StepContext) (map[string]interface{}, error) {
		return map[string]interface{}{"text": "hi"}, nil
	})

	steps := []plan.Step{{ID: "s1", ToolID: tool.ID, ToolName: tool.Name, Timeout: time.Second, Critical: true}}
	p, err := plan.New("p1", steps, 5*time.Second)
	require.NoError(t, err)

	e := New(r, DefaultConfig(), nil)
	result, err := e.Run(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanSucceeded, result.Status)
	assert.Equal(t, plan.Succeeded, result.Outcomes["s1"].Status)
	assert.Equal(t, "hi", result.Outcomes["s1"].Output["text"])
}

func TestRunChainPassesPriorOutputs(t *testing.T) {
	r := newReg(t)
	fetch := registerEcho(t, r, "Fetch", func(ctx context.Context, input map[string]interface{}, sc registry.StepContext) (map[string]interface{}, error) {
		return map[string]interface{}{"body": "page content"}, nil
	})
	var seenPrior map[string]interface{}
	summarize := registerEcho(t, r, "Summarize", func(ctx context.Context, input map[string]interface{}, sc registry.StepContext) (map[string]interface{}, error) {
		seenPrior = sc.PriorOutputs["fetch-step"]
		return map[string]interface{}{"summary": "short"}, nil
	})

	steps := []plan.Step{
		{ID: "fetch-step", ToolID: fetch.ID, ToolName: fetch.Name, Timeout: time.Second},
		{ID: "summarize-step", ToolID: summarize.ID, ToolName: summarize.Name, Timeout: time.Second, Dependencies: []string{"fetch-step"}, Critical: true},
	}
	p, err := plan.New("p2", steps, 5*time.Second)
	require.NoError(t, err)

	e := New(r, DefaultConfig(), nil)
	result, err := e.Run(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanSucceeded, result.Status)
	require.NotNil(t, seenPrior)
	assert.Equal(t, "page content", seenPrior["body"])
}

func TestRunRetriesTransientFailureThenSucceeds(t *testing.T) {
	r := newReg(t)
	var attempts int32
	flaky := registerEcho(t, r, "Flaky", func(ctx context.Context, input map[string]interface{}, sc registry.StepContext) (map[string]interface{}, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			return nil, &Transient{Err: errors.New("connection reset")}
		}
		return map[string]interface{}{"ok": true}, nil
	})

	steps := []plan.Step{{ID: "s1", ToolID: flaky.ID, ToolName: flaky.Name, Timeout: time.Second, Retry: plan.RetryPolicy{MaxAttempts: 2}}}
	p, err := plan.New("p3", steps, 5*time.Second)
	require.NoError(t, err)

	e := New(r, DefaultConfig(), nil)
	result, err := e.Run(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, plan.Succeeded, result.Outcomes["s1"].Status)
	assert.Equal(t, 2, result.Outcomes["s1"].Attempts)
}

func TestRunSubstitutesFallbackOnPermanentFailure(t *testing.T) {
	r := newReg(t)
	broken := registerEcho(t, r, "Broken", func(ctx context.Context, input map[string]interface{}, sc registry.StepContext) (map[string]interface{}, error) {
		return nil, errors.New("always fails")
	})
	alt := registerEcho(t, r, "Alternate", func(ctx context.Context, input map[string]interface{}, sc registry.StepContext) (map[string]interface{}, error) {
		return map[string]interface{}{"ok": true}, nil
	})

	steps := []plan.Step{{ID: "s1", ToolID: broken.ID, ToolName: broken.Name, Timeout: time.Second, Fallbacks: []string{alt.ID}}}
	p, err := plan.New("p4", steps, 5*time.Second)
	require.NoError(t, err)

	e := New(r, DefaultConfig(), nil)
	result, err := e.Run(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, plan.Succeeded, result.Outcomes["s1"].Status)
	assert.Equal(t, alt.ID, result.Outcomes["s1"].UsedToolID)
}

func TestRunCascadesSkipOnFailedDependency(t *testing.T) {
	r := newReg(t)
	broken := registerEcho(t, r, "Broken", func(ctx context.Context, input map[string]interface{}, sc registry.StepContext) (map[string]interface{}, error) {
		return nil, errors.New("boom")
	})
	var downstreamRan int32
	downstream := registerEcho(t, r, "Downstream", func(ctx context.Context, input map[string]interface{}, sc registry.StepContext) (map[string]interface{}, error) {
		atomic.AddInt32(&downstreamRan, 1)
		return nil, nil
	})

	steps := []plan.Step{
		{ID: "s1", ToolID: broken.ID, ToolName: broken.Name, Timeout: time.Second},
		{ID: "s2", ToolID: downstream.ID, ToolName: downstream.Name, Timeout: time.Second, Dependencies: []string{"s1"}, Critical: true},
	}
	p, err := plan.New("p5", steps, 5*time.Second)
	require.NoError(t, err)

	e := New(r, DefaultConfig(), nil)
	result, err := e.Run(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanFailed, result.Status)
	assert.Equal(t, plan.Failed, result.Outcomes["s1"].Status)
	assert.Equal(t, plan.Skipped, result.Outcomes["s2"].Status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&downstreamRan))
}

func TestRunHonorsCancellationGraceWindow(t *testing.T) {
	r := newReg(t)
	slow := registerEcho(t, r, "Slow", func(ctx context.Context, input map[string]interface{}, sc registry.StepContext) (map[string]interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return map[string]interface{}{"ok": true}, nil
		}
	})

	steps := []plan.Step{{ID: "s1", ToolID: slow.ID, ToolName: slow.Name, Timeout: 5 * time.Second}}
	p, err := plan.New("p6", steps, 10*time.Second)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.CancellationGraceWindow = 50 * time.Millisecond
	e := New(r, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := e.Run(ctx, p, nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, plan.PlanCanceled, result.Status)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestRunSkipsRecordUsageWhenToolLearningDisabled(t *testing.T) {
	r := newReg(t)
	tool := registerEcho(t, r, "Echo", func(ctx context.Context, input map[string]interface{}, sc registry.StepContext) (map[string]interface{}, error) {
		return map[string]interface{}{"text": "hi"}, nil
	})
	steps := []plan.Step{{ID: "s1", ToolID: tool.ID, ToolName: tool.Name, Timeout: time.Second}}
	p, err := plan.New("p8", steps, 5*time.Second)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.EnableToolLearning = false
	e := New(r, cfg, nil)

	_, err = e.Run(context.Background(), p, nil)
	require.NoError(t, err)

	stats, ok := r.Stats(tool.ID)
	require.True(t, ok)
	assert.EqualValues(t, 0, stats.Successes)
}

func TestRunAbortsRetryOnCancellationWithoutTryingFallback(t *testing.T) {
	r := newReg(t)
	var fallbackCalled int32
	flaky := registerEcho(t, r, "Flaky", func(ctx context.Context, input map[string]interface{}, sc registry.StepContext) (map[string]interface{}, error) {
		return nil, &Transient{Err: errors.New("connection reset")}
	})
	alt := registerEcho(t, r, "Alternate", func(ctx context.Context, input map[string]interface{}, sc registry.StepContext) (map[string]interface{}, error) {
		atomic.AddInt32(&fallbackCalled, 1)
		return map[string]interface{}{"ok": true}, nil
	})

	steps := []plan.Step{{
		ID: "s1", ToolID: flaky.ID, ToolName: flaky.Name, Timeout: time.Second,
		Retry: plan.RetryPolicy{MaxAttempts: 2}, Fallbacks: []string{alt.ID},
	}}
	p, err := plan.New("p9", steps, 5*time.Second)
	require.NoError(t, err)

	e := New(r, DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, _ := e.Run(ctx, p, nil)
	assert.Equal(t, plan.Failed, result.Outcomes["s1"].Status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fallbackCalled))
}

func TestRunDropsProgressEventsUnderBackpressure(t *testing.T) {
	r := newReg(t)
	tool := registerEcho(t, r, "Echo", func(ctx context.Context, input map[string]interface{}, sc registry.StepContext) (map[string]interface{}, error) {
		return map[string]interface{}{"text": "hi"}, nil
	})
	steps := []plan.Step{{ID: "s1", ToolID: tool.ID, ToolName: tool.Name, Timeout: time.Second}}
	p, err := plan.New("p7", steps, 5*time.Second)
	require.NoError(t, err)

	progress := make(chan plan.ProgressEvent) // unbuffered, nobody reads it
	e := New(r, DefaultConfig(), nil)
	result, err := e.Run(context.Background(), p, progress)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanSucceeded, result.Status)
}
