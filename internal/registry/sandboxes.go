package registry

import (
	"time"

	"github.com/sandboxrouter/core/internal/supervisor"
)

// SandboxSpec is the caller-supplied shape of a sandbox to create —
// mirrors the teacher's SandboxConfig, generalized with an Interpreter
// override and free-form Labels.
type SandboxSpec struct {
	ScriptPath  string
	Env         map[string]string
	Interpreter string
	Labels      map[string]string
}

// CreateSandbox records a sandbox in StateCreating and resolves its
// initial portal assignment: the requested portal if one was given and is
// currently live, otherwise the first available portal. The resolved
// portal is recorded as the sandbox's assignment immediately; a later
// AssignSandboxToPortal naming a different portal (for example from the
// sandbox's bridge client) does not re-point it.
// Returns the created record and the resolved portal id (empty if none).
func (r *Registry) CreateSandbox(sessionID, sandboxID string, spec SandboxSpec, requestedPortal string) (*Sandbox, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, "", ErrSessionNotFound
	}

	key := SandboxKey{SessionID: sessionID, SandboxID: sandboxID}
	if _, exists := r.sandboxes[key]; exists {
		return nil, "", ErrSandboxKeyConflict
	}

	portalID := requestedPortal
	if portalID != "" {
		if _, live := r.portals[portalID]; !live {
			portalID = ""
		}
	}
	if portalID == "" && len(r.portalOrder) > 0 {
		portalID = r.portalOrder[0]
	}

	sb := &Sandbox{
		Key:         key,
		ScriptPath:  spec.ScriptPath,
		Env:         spec.Env,
		Interpreter: spec.Interpreter,
		Labels:      spec.Labels,
		PortalID:    portalID,
		State:       StateCreating,
		CreatedAt:   time.Now(),
	}
	r.sandboxes[key] = sb
	r.sandboxOrder = append(r.sandboxOrder, key)
	r.sandboxIndex[sandboxID] = key
	session.Sandboxes[sandboxID] = true

	if portalID != "" {
		r.assignments[sandboxID] = portalID
	}

	return sb, portalID, nil
}

// AttachChild completes a sandbox record once its child process has
// actually been spawned, moving it into StateRunning.
func (r *Registry) AttachChild(key SandboxKey, child *supervisor.ChildHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sb, ok := r.sandboxes[key]
	if !ok {
		return false
	}
	sb.Child = child
	sb.State = StateRunning
	return true
}

// SetSandboxState transitions sandboxID to state. Returns false if the
// sandbox is unknown.
func (r *Registry) SetSandboxState(sandboxID string, state State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.sandboxIndex[sandboxID]
	if !ok {
		return false
	}
	r.sandboxes[key].State = state
	return true
}

// AssignSandboxToPortal is idempotent: assigning the same portal again is
// a no-op that still reports success, and once set the mapping is sticky
// until the sandbox is destroyed — it is never silently overwritten by a
// later call naming a different portal.
func (r *Registry) AssignSandboxToPortal(sandboxID, portalID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.sandboxIndex[sandboxID]
	if !ok {
		return false
	}
	sb := r.sandboxes[key]
	if sb.PortalID != "" && sb.PortalID != portalID {
		// Sticky: a sandbox is only ever re-pointed by creating a new one.
		return sb.PortalID == portalID
	}
	sb.PortalID = portalID
	r.assignments[sandboxID] = portalID
	return true
}

// AssignOrphans assigns every currently-unassigned sandbox to portalID, in
// sandbox-creation order, and returns the sandbox ids that were assigned.
func (r *Registry) AssignOrphans(portalID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var assigned []string
	for _, key := range r.sandboxOrder {
		sb, ok := r.sandboxes[key]
		if !ok || sb.PortalID != "" {
			continue
		}
		sb.PortalID = portalID
		r.assignments[key.SandboxID] = portalID
		assigned = append(assigned, key.SandboxID)
	}
	return assigned
}

// SandboxByID looks up a sandbox by its bare id (the shape most client
// messages address it by).
func (r *Registry) SandboxByID(sandboxID string) (*Sandbox, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.sandboxIndex[sandboxID]
	if !ok {
		return nil, false
	}
	sb, ok := r.sandboxes[key]
	return sb, ok
}

// RemoveSandbox deletes a sandbox and its assignment, detaching it from
// its owning session. Returns the removed record.
func (r *Registry) RemoveSandbox(sandboxID string) (*Sandbox, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.sandboxIndex[sandboxID]
	if !ok {
		return nil, false
	}
	sb := r.sandboxes[key]
	delete(r.sandboxes, key)
	delete(r.sandboxIndex, sandboxID)
	delete(r.assignments, sandboxID)
	for i, k := range r.sandboxOrder {
		if k == key {
			r.sandboxOrder = append(r.sandboxOrder[:i], r.sandboxOrder[i+1:]...)
			break
		}
	}
	if session, ok := r.sessions[key.SessionID]; ok {
		delete(session.Sandboxes, sandboxID)
	}
	return sb, true
}

// AssignmentsSnapshot returns a copy of the current sandboxId -> portalId
// mapping.
func (r *Registry) AssignmentsSnapshot() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.assignments))
	for k, v := range r.assignments {
		out[k] = v
	}
	return out
}

// ConnectionsSnapshot returns every sandbox as a client-facing connection
// summary, for connections_update broadcasts.
func (r *Registry) ConnectionsSnapshot() []ConnSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnSummary, 0, len(r.sandboxOrder))
	for _, key := range r.sandboxOrder {
		sb := r.sandboxes[key]
		out = append(out, ConnSummary{
			ID:         sb.Key.SandboxID,
			Status:     sandboxState(sb),
			StartTime:  sb.CreatedAt.UnixMilli(),
			ScriptPath: sb.ScriptPath,
		})
	}
	return out
}

// ConnSummary is the Registry's neutral shape for a sandbox connection
// summary; internal/proto adapts it to the wire message.
type ConnSummary struct {
	ID         string
	Status     string
	StartTime  int64
	ScriptPath string
}

// AllChildren returns every spawned child handle currently tracked, for
// shutdown to kill every process tree before the listener stops.
func (r *Registry) AllChildren() []*supervisor.ChildHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*supervisor.ChildHandle, 0, len(r.sandboxOrder))
	for _, key := range r.sandboxOrder {
		if sb := r.sandboxes[key]; sb != nil && sb.Child != nil {
			out = append(out, sb.Child)
		}
	}
	return out
}
