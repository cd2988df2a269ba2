package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// wsPollInterval is how often connected clients receive a status snapshot.
const wsPollInterval = 2 * time.Second

type wsEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// handleWS streams spool status snapshots to a WebSocket client until it
// disconnects. Dashboards poll this instead of hammering the MCP endpoint.
func (srv *HTTPServer) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer ws.CloseNow()

	ctx := r.Context()
	ticker := time.NewTicker(wsPollInterval)
	defer ticker.Stop()

	// First snapshot immediately, then on every tick.
	if !srv.sendSnapshot(ctx, ws) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			ws.Close(websocket.StatusNormalClosure, "done")
			return
		case <-ticker.C:
			if !srv.sendSnapshot(ctx, ws) {
				return
			}
		}
	}
}

func (srv *HTTPServer) sendSnapshot(ctx context.Context, ws *websocket.Conn) bool {
	summaries, err := srv.core.sup.List()
	if err != nil {
		data, _ := json.Marshal(wsEnvelope{Type: "error", Data: err.Error()})
		ws.Write(ctx, websocket.MessageText, data)
		return false
	}

	data, err := json.Marshal(wsEnvelope{Type: "spools", Data: summaries})
	if err != nil {
		return false
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		return false
	}
	return true
}
