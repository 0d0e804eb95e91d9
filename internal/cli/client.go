package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// dialClient opens a throwaway client connection to addr for one-shot
// request/response operational commands (token, sandboxes) — it never
// stays connected long enough to own a session's sandboxes.
func dialClient() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr+"/ws", nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// roundTrip writes req, then reads frames until one decodes with a "type"
// matching wantType or the deadline elapses.
func roundTrip(conn *websocket.Conn, req any, wantType string, deadline time.Duration) (map[string]any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame["type"] == wantType {
			return frame, nil
		}
		if frame["type"] == "error" {
			return nil, fmt.Errorf("core: %v", frame["error"])
		}
	}
}
