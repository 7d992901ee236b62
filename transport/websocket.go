//go:build websocket

package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nexusmind/orchestrator/plan"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientFrame is one message read from a WebSocket client. QueryID
// correlates an agent:query with a later agent:cancel.
type clientFrame struct {
	Type      string                 `json:"type"`
	QueryID   string                 `json:"queryId,omitempty"`
	Text      string                 `json:"text,omitempty"`
	SessionID string                 `json:"sessionId,omitempty"`
	UserID    string                 `json:"userId,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type serverFrame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ServeWS upgrades the connection and implements the duplex framing from
// spec §6: agent:query/agent:cancel in, agent:status/agent:progress/
// agent:response/agent:error out. Each connection can have multiple
// in-flight queries, tracked by queryId so a cancel frame can target one
// without affecting the others.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(frame serverFrame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(frame)
	}

	var inFlightMu sync.Mutex
	inFlight := make(map[string]context.CancelFunc)

	for {
		var cf clientFrame
		if err := conn.ReadJSON(&cf); err != nil {
			break
		}

		switch cf.Type {
		case "agent:cancel":
			inFlightMu.Lock()
			if cancel, ok := inFlight[cf.QueryID]; ok {
				cancel()
			}
			inFlightMu.Unlock()

		case "agent:query":
			ctx, cancel := context.WithCancel(r.Context())
			inFlightMu.Lock()
			inFlight[cf.QueryID] = cancel
			inFlightMu.Unlock()

			go h.runStreamedQuery(ctx, cf, send, func() {
				inFlightMu.Lock()
				delete(inFlight, cf.QueryID)
				inFlightMu.Unlock()
				cancel()
			})

		default:
			send(serverFrame{Type: "agent:error", Payload: errorFrame{Type: "validation", Message: "unknown frame type " + cf.Type}})
		}
	}

	inFlightMu.Lock()
	for _, cancel := range inFlight {
		cancel()
	}
	inFlightMu.Unlock()
}

func (h *Handler) runStreamedQuery(ctx context.Context, cf clientFrame, send func(serverFrame), done func()) {
	defer done()

	send(serverFrame{Type: "agent:status", Payload: statusFrame{Phase: "analyzing"}})

	progress := make(chan plan.ProgressEvent, 32)
	go func() {
		for ev := range progress {
			send(serverFrame{Type: "agent:progress", Payload: ev})
		}
	}()

	result, err := h.orch.ProcessQueryWithProgress(ctx, cf.SessionID, cf.UserID, cf.Text, progress)
	close(progress)

	if err != nil {
		_, body := classifyError(cf.SessionID, err)
		if body.Error != nil {
			send(serverFrame{Type: "agent:error", Payload: errorFrame{Type: body.Error.Type, Message: body.Error.UserMessage}})
		}
		return
	}
	send(serverFrame{Type: "agent:response", Payload: result})
}
