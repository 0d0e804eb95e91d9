// Package server wires the Peer Multiplexer and Router onto an HTTP
// listener, adapted from the teacher's cmd/boxed-server/main.go and
// internal/api/handler.go: one Echo instance, one upgrade endpoint, the
// same graceful-shutdown discipline — but tearing down every sandbox's
// process tree instead of a single sandbox API resource.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/sandboxrouter/core/internal/correlation"
	"github.com/sandboxrouter/core/internal/peer"
	"github.com/sandboxrouter/core/internal/registry"
	"github.com/sandboxrouter/core/internal/router"
	"github.com/sandboxrouter/core/internal/supervisor"
)

// Server owns the Echo instance, the shared Registry/Correlation Table,
// and the Router that drives every connection the Multiplexer accepts.
type Server struct {
	Echo *echo.Echo

	reg  *registry.Registry
	corr *correlation.Table
	sup  supervisor.Supervisor
	rt   *router.Router
	mux  *peer.Multiplexer

	startedAt time.Time
}

// New builds a Server around the given Process Supervisor backend. Reg
// and corr are constructed fresh — the core keeps no persistent state
// across restarts.
func New(sup supervisor.Supervisor) *Server {
	reg := registry.New()
	corr := correlation.New()
	rt := router.New(reg, corr, sup)
	mux := peer.New(rt.Dispatch, rt.OnDisconnect)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		Echo:      e,
		reg:       reg,
		corr:      corr,
		sup:       sup,
		rt:        rt,
		mux:       mux,
		startedAt: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.Echo.GET("/ws", s.handleWS)
	s.Echo.GET("/healthz", s.handleHealthz)
	s.Echo.GET("/v1/status", s.handleStatus)
}

// handleWS is the single upgrade endpoint every peer population dials:
// clients, portals, and sandbox-bridge-clients are indistinguishable
// until their first classifying message arrives — see internal/peer.
func (s *Server) handleWS(c echo.Context) error {
	conn, err := s.mux.Accept(c.Response(), c.Request())
	if err != nil {
		return err
	}
	log.Debug().Str("conn", conn.ID()).Str("remote", c.Request().RemoteAddr).Msg("server: connection accepted")
	return nil
}

func (s *Server) handleHealthz(c echo.Context) error {
	if err := s.sup.Healthy(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
		"supervisor":    s.sup.Name(),
		"portals":       s.reg.PortalStatusSnapshot(),
		"assignments":   s.reg.AssignmentsSnapshot(),
		"sandboxes":     s.reg.ConnectionsSnapshot(),
	})
}

// Start blocks serving on addr until the listener stops.
func (s *Server) Start(addr string) error {
	log.Info().Str("addr", addr).Str("supervisor", s.sup.Name()).Msg("server: listening")
	return s.Echo.Start(addr)
}

// Shutdown kills every sandbox's process tree, waits (bounded by ctx) for
// any forwarded call still in flight to finish replying, then drains the
// HTTP listener. Mirrors the core's §6 CLI contract: SIGINT/SIGTERM trigger
// killTree on all sandboxes before exit.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, child := range s.reg.AllChildren() {
		if err := s.sup.KillTree(child); err != nil {
			log.Warn().Err(err).Msg("server: killTree failed during shutdown")
		}
	}

	fwdDone := make(chan struct{})
	go func() {
		if err := s.rt.Wait(); err != nil {
			log.Debug().Err(err).Msg("server: forwarded call reply goroutine returned an error during shutdown")
		}
		close(fwdDone)
	}()
	select {
	case <-fwdDone:
	case <-ctx.Done():
		log.Warn().Msg("server: shutdown deadline reached with forwarded calls still in flight")
	}

	return s.Echo.Shutdown(ctx)
}
