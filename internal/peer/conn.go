// Package peer implements the Peer Multiplexer: one duplex WebSocket
// connection per peer, with a framed-JSON inbound reader dispatched by
// message `type`, a queued outbound writer, and one-shot role
// classification (client, portal, sandbox-bridge-client).
package peer

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sandboxrouter/core/internal/proto"
)

// Role identifies what a connection has been classified as. A connection
// starts Unclassified and may only transition once.
type Role int32

const (
	RoleUnclassified Role = iota
	RoleClient
	RolePortal
	RoleSandboxBridge
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RolePortal:
		return "portal"
	case RoleSandboxBridge:
		return "sandbox_bridge_client"
	default:
		return "unclassified"
	}
}

const sendQueueSize = 256

// ErrSlowPeer is used to close a connection whose outbound queue overflowed.
var ErrSlowPeer = errors.New("peer: slow peer, send queue overflow")

// Conn wraps one WebSocket connection. It owns the connection's lifecycle;
// other components (Registry) hold only the narrow registry.Conn view of
// it (ID + Send), never the Conn itself, so disconnect detection always
// originates here.
type Conn struct {
	ws *websocket.Conn
	id string

	role     atomic.Int32
	roleID   atomic.Value // string, the id within that role (sessionId/portalId/instanceId)

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

// newConn wraps ws with connId as its multiplexer-assigned identity
// (distinct from any role-scoped id, used only for logging).
func newConn(ws *websocket.Conn, connID string) *Conn {
	c := &Conn{
		ws:   ws,
		id:   connID,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	c.roleID.Store("")
	return c
}

// ID returns the multiplexer connection id (not the role-scoped id).
func (c *Conn) ID() string { return c.id }

// Role returns the connection's current classification.
func (c *Conn) Role() Role { return Role(c.role.Load()) }

// RoleID returns the id assigned within the connection's role (sessionId
// for a client, portalId for a portal, instanceId for a sandbox-bridge
// connection), or "" if unclassified.
func (c *Conn) RoleID() string { return c.roleID.Load().(string) }

// Classify sets the connection's role exactly once. Returns false if the
// connection was already classified — a connection may not change role.
func (c *Conn) Classify(role Role, roleID string) bool {
	if !c.role.CompareAndSwap(int32(RoleUnclassified), int32(role)) {
		return false
	}
	c.roleID.Store(roleID)
	return true
}

// Send marshals v and enqueues it for the write pump. If the outbound
// queue is full the connection is terminated with ErrSlowPeer rather than
// blocking the caller — satisfies the bounded back-pressure policy.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.terminate(ErrSlowPeer)
		return ErrSlowPeer
	}
}

func (c *Conn) terminate(reason error) {
	c.closeOnce.Do(func() {
		log.Warn().Str("conn", c.id).Err(reason).Msg("peer: terminating connection")
		close(c.done)
		_ = c.ws.Close()
	})
}

// Close closes the connection gracefully (e.g. Router-initiated teardown).
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump drains the send queue to the wire until Close/terminate fires.
// Returns the write error that caused it to stop, or nil on a graceful
// Close/terminate.
func (c *Conn) writePump() error {
	for {
		select {
		case <-c.done:
			return nil
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.terminate(err)
				return err
			}
		}
	}
}

// readPump decodes one JSON frame per message and invokes dispatch for
// each, until the connection closes — at which point onDisconnect fires
// exactly once with the connection's final role/roleID. Returns the read
// error that ended the loop, or nil on a graceful close.
func (c *Conn) readPump(dispatch func(*Conn, proto.Envelope), onDisconnect func(*Conn)) error {
	var readErr error
	defer func() {
		c.terminate(readErr)
		onDisconnect(c)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				readErr = err
			}
			return readErr
		}
		var env proto.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = c.Send(proto.ErrorMessage{Type: "error", Error: "malformed JSON frame"})
			continue
		}
		dispatch(c, env)
	}
}
