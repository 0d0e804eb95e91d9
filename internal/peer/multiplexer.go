package peer

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sandboxrouter/core/internal/proto"
)

// Upgrader is shared by every accepted connection. Origin checking is left
// permissive: sandboxes and portals are expected to dial in from arbitrary
// hosts, and admission is actually enforced by the token/role handshake the
// Router runs once the frame loop starts, not by the HTTP handshake.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Multiplexer accepts inbound WebSocket connections and fans their frames
// out to a single dispatch function, decoupling the transport from the
// Router's protocol state machine.
type Multiplexer struct {
	Dispatch     func(*Conn, proto.Envelope)
	OnDisconnect func(*Conn)
}

// New builds a Multiplexer wired to dispatch/onDisconnect. Both are called
// from the connection's own read goroutine — callers needing to touch
// shared state (the Registry, the Router's tables) must synchronize
// themselves.
func New(dispatch func(*Conn, proto.Envelope), onDisconnect func(*Conn)) *Multiplexer {
	return &Multiplexer{Dispatch: dispatch, OnDisconnect: onDisconnect}
}

// Accept upgrades r's connection to a WebSocket and starts its read/write
// pumps under an errgroup, returning the new Conn. The caller does not
// need to do anything further — the connection drives itself until it
// disconnects.
//
// The two pumps are tied together by the group's context: if either one
// exits with an error (a failed write, an abnormal read), the group
// cancels its context, which tears the connection down and unblocks the
// other pump's wait, so a one-sided failure never leaves a pump goroutine
// running past the connection's own lifetime.
func (m *Multiplexer) Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	c := newConn(ws, uuid.NewString())

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(c.writePump)
	g.Go(func() error { return c.readPump(m.Dispatch, m.OnDisconnect) })

	go func() {
		<-ctx.Done()
		c.terminate(ctx.Err())
	}()
	go func() {
		if err := g.Wait(); err != nil {
			log.Debug().Str("conn", c.id).Err(err).Msg("peer: connection pumps exited")
		}
	}()

	return c, nil
}
