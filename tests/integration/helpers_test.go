// Package integration drives the router end-to-end over real websocket
// connections and the "process" Supervisor backend, mirroring the
// teacher's tests/integration package but against the WebSocket protocol
// instead of the teacher's REST API.
package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrouter/core/internal/server"
	"github.com/sandboxrouter/core/internal/supervisor"
	_ "github.com/sandboxrouter/core/internal/supervisor/process"
)

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	sup, err := supervisor.New("process", nil)
	require.NoError(t, err)

	s := server.New(sup)
	ts := httptest.NewServer(s.Echo)
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// recvType reads frames off conn until one with the given "type" field
// arrives, and decodes it into out. Fails the test if none arrives within
// 3 seconds.
func recvType(t *testing.T, conn *websocket.Conn, wantType string, out any) {
	t.Helper()
	recvTypeWithin(t, conn, wantType, out, 3*time.Second)
}

// recvTypeWithin is recvType with a caller-chosen deadline.
func recvTypeWithin(t *testing.T, conn *websocket.Conn, wantType string, out any, within time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(within))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var probe struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(data, &probe))
		if probe.Type != wantType {
			continue
		}
		require.NoError(t, json.Unmarshal(data, out))
		return
	}
}

func healthz(t *testing.T, ts *httptest.Server) int {
	t.Helper()
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}
