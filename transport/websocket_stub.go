//go:build !websocket

package transport

import "net/http"

// ServeWS reports that bidirectional streaming is unavailable in this
// build. Build with -tags websocket to enable it; SSE (ServeStream) works
// in every build and covers the same server-to-client progress frames.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusServiceUnavailable, QueryResponse{
		Error: &ErrorBody{
			Type:        "transport_unavailable",
			UserMessage: "WebSocket transport requires a binary built with -tags websocket; use the SSE endpoint instead",
		},
	})
}
