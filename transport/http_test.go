package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/nexusmind/orchestrator/core"
	"github.com/nexusmind/orchestrator/executor"
	"github.com/nexusmind/orchestrator/llm"
	"github.com/nexusmind/orchestrator/orchestrator"
	"github.com/nexusmind/orchestrator/planner"
	"github.com/nexusmind/orchestrator/registry"
	"github.com/nexusmind/orchestrator/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	reg := registry.New(nil)
	_, err := reg.Register(registry.Tool{
		Name:        "Echo",
		Keywords:    []string{"echo"},
		Description: "repeats text",
		OutputTypes: []string{"text/plain"},
		Execute: func(ctx context.Context, input map[string]interface{}, sc registry.StepContext) (map[string]interface{}, error) {
			return map[string]interface{}{"text": "hello"}, nil
		},
	})
	require.NoError(t, err)

	pl := planner.New(reg, planner.DefaultConfig(), nil)
	ex := executor.New(reg, executor.DefaultConfig(), nil)
	sessions := session.New(nil, session.DefaultConfig(), nil)
	orch := orchestrator.New(reg, pl, ex, sessions, &llm.MockCollaborator{}, core.NewConfig())
	return NewHandler(orch, nil)
}

func TestServeQuerySucceeds(t *testing.T) {
	h := newTestHandler(t)
	body, _ := json.Marshal(QueryRequest{Text: "please echo hello"})
	req := httptest.NewRequest("POST", "/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeQuery(rec, req)

	assert.Equal(t, 200, rec.Code)
	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hello", resp.Text)
	assert.NotEmpty(t, resp.SessionID)
	require.Len(t, resp.ToolsUsed, 1)
	assert.Equal(t, "Echo", resp.ToolsUsed[0].Name)
}

func TestServeQueryRejectsEmptyText(t *testing.T) {
	h := newTestHandler(t)
	body, _ := json.Marshal(QueryRequest{Text: ""})
	req := httptest.NewRequest("POST", "/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeQuery(rec, req)

	assert.Equal(t, 400, rec.Code)
}

func TestServeQueryRejectsMalformedBody(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest("POST", "/query", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()

	h.ServeQuery(rec, req)

	assert.Equal(t, 400, rec.Code)
}

func TestServeQueryReturnsEmptyPlanAsGracefulFailure(t *testing.T) {
	h := newTestHandler(t)
	body, _ := json.Marshal(QueryRequest{Text: "do something nobody registered"})
	req := httptest.NewRequest("POST", "/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeQuery(rec, req)

	assert.Equal(t, 200, rec.Code)
	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "empty_plan", resp.Error.Type)
}
