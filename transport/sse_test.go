package transport

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeStreamEmitsStatusAndResponseFrames(t *testing.T) {
	h := newTestHandler(t)
	body, _ := json.Marshal(QueryRequest{Text: "please echo hello"})
	req := httptest.NewRequest("POST", "/stream", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeStream(rec, req)

	out := rec.Body.String()
	assert.True(t, strings.Contains(out, "event: agent:status"))
	assert.True(t, strings.Contains(out, "event: agent:response"))
}

func TestServeStreamRejectsEmptyText(t *testing.T) {
	h := newTestHandler(t)
	body, _ := json.Marshal(QueryRequest{Text: ""})
	req := httptest.NewRequest("POST", "/stream", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeStream(rec, req)

	require.Equal(t, 400, rec.Code)
}
