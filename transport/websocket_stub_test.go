//go:build !websocket

package transport

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServeWSReportsUnavailableWithoutBuildTag(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest("GET", "/ws", nil)
	rec := httptest.NewRecorder()

	h.ServeWS(rec, req)

	assert.Equal(t, 503, rec.Code)
}
