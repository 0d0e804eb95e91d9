// Package registry holds the three indexed peer collections (admission
// tokens, portals, client sessions) plus the sandbox table, and enforces
// the invariants spec.md assigns to them: token single-consumption, portal
// uniqueness, sandbox ownership, and assignment stickiness.
//
// A single Registry value is held by the Router; every other component
// that needs it receives it explicitly — there are no package-level
// globals.
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/sandboxrouter/core/internal/supervisor"
)

// Conn is the minimal send capability the Registry needs back from a
// connection to broadcast snapshots. The Peer Multiplexer owns the real
// connection; the Registry only ever holds this narrow reference.
type Conn interface {
	Send(v any) error
	ID() string
}

var (
	ErrTokenInvalid       = errors.New("registry: admission token missing or expired")
	ErrPortalExists       = errors.New("registry: portal id already registered")
	ErrPortalNotFound     = errors.New("registry: portal not found")
	ErrSessionNotFound    = errors.New("registry: session not found")
	ErrSandboxNotFound    = errors.New("registry: sandbox not found")
	ErrSandboxKeyConflict = errors.New("registry: sandbox id already exists for session")
)

const (
	tokenTTL = 60 * time.Second
)

type token struct {
	createdAt time.Time
	expiresAt time.Time
	timer     *time.Timer
}

// Portal is a connected portal record.
type Portal struct {
	ID           string
	Platform     string
	Capabilities map[string]any
	Conn         Conn
	RegisteredAt time.Time
}

// Session is a connected client record.
type Session struct {
	ID        string
	Conn      Conn
	Sandboxes map[string]bool
}

// SandboxKey composite-identifies a sandbox by owning session and its
// client-chosen id.
type SandboxKey struct {
	SessionID string
	SandboxID string
}

// State is a sandbox's lifecycle stage, surfaced as ConnSummary.Status
// over connections_update and the CLI's sandboxes subcommand. Repurposed
// from the teacher's driver.SandboxState container-state enum for
// child-process state instead.
type State string

const (
	StateCreating State = "creating"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// Sandbox is a running-or-starting child under interception.
type Sandbox struct {
	Key         SandboxKey
	ScriptPath  string
	Env         map[string]string
	Interpreter string
	Labels      map[string]string
	Child       *supervisor.ChildHandle
	PortalID    string
	State       State
	CreatedAt   time.Time
}

// BridgeClient is a connected sandbox-bridge-client record.
type BridgeClient struct {
	InstanceID string
	SessionID  string
	SandboxID  string
	PortalID   string
	Conn       Conn
}

// Registry is safe for concurrent use; all mutations happen under a single
// lock per spec.md §5 ("Registry mutation may [not] span a suspension").
type Registry struct {
	mu sync.Mutex

	tokens map[string]*token

	portals     map[string]*Portal
	portalOrder []string

	sessions map[string]*Session

	sandboxes    map[SandboxKey]*Sandbox
	sandboxOrder []SandboxKey
	// sandboxIndex maps a bare sandbox-id to its composite key, since most
	// client messages (stop, command) address a sandbox by id alone.
	sandboxIndex map[string]SandboxKey

	// assignments is the sticky sandboxId -> portalId map broadcast as
	// bridge_assignments_update.
	assignments map[string]string

	bridgeClients map[string]*BridgeClient
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		tokens:        make(map[string]*token),
		portals:       make(map[string]*Portal),
		sessions:      make(map[string]*Session),
		sandboxes:     make(map[SandboxKey]*Sandbox),
		sandboxIndex:  make(map[string]SandboxKey),
		assignments:   make(map[string]string),
		bridgeClients: make(map[string]*BridgeClient),
	}
}

func randHex8() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// ClientConns returns a snapshot of every connected client's Conn, for
// broadcasting status/assignment/connections updates.
func (r *Registry) ClientConns() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conn, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Conn)
	}
	return out
}

func sandboxState(s *Sandbox) string {
	return string(s.State)
}
