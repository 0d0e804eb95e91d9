// Package proto defines the wire messages exchanged between the core and
// its three peer populations (clients, portals, sandbox-bridge-clients),
// plus the JSON-RPC 2.0 envelope used for client "command" passthrough and
// for classifying child stdout/stderr lines.
package proto

import "encoding/json"

// Envelope is the shape every inbound frame is first decoded into: only
// Type is trusted before the connection's role is known. Concrete payload
// fields are re-decoded from Raw by the handler responsible for Type.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the full frame in Raw so handlers can decode their
// specific fields without a second read of the connection.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type alias Envelope
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = Envelope(a)
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Forwardable is the closed set of intercepted-call types the Router will
// forward from a sandbox-bridge-client to a portal. Extending this set is
// the only sanctioned way to add a new virtualized effect.
var Forwardable = map[string]bool{
	"fs_read":      true,
	"fs_write":     true,
	"fs_stat":      true,
	"fs_list":      true,
	"fs_mkdir":     true,
	"fs_rmdir":     true,
	"fs_unlink":    true,
	"http_request": true,
}

// --- Client -> Core ---

type GenerateBridgeID struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

type StartConfig struct {
	ScriptPath          string            `json:"scriptPath"`
	Env                 map[string]string `json:"env,omitempty"`
	TargetFlutterBridge string            `json:"targetFlutterBridgeId,omitempty"`
	// Interpreter overrides the Process Supervisor's extension-based
	// command guess (e.g. "node", "python3").
	Interpreter string `json:"interpreter,omitempty"`
	// Labels is free-form metadata carried alongside the sandbox; the
	// Docker backend surfaces it as container labels.
	Labels map[string]string `json:"labels,omitempty"`
}

type Start struct {
	Type      string      `json:"type"`
	Config    StartConfig `json:"config"`
	SandboxID string      `json:"sandboxId"`
}

type Stop struct {
	Type      string `json:"type"`
	SandboxID string `json:"sandboxId"`
}

// Command carries a JSON-RPC request as either a pre-parsed object or a
// raw string the Router must parse before forwarding to the child.
type Command struct {
	Type      string          `json:"type"`
	SandboxID string          `json:"sandboxId"`
	Command   json.RawMessage `json:"command"`
}

type GetBridgeStatus struct {
	Type string `json:"type"`
}

type GetConnectedSandboxes struct {
	Type     string `json:"type"`
	BridgeID string `json:"bridgeId"`
}

// --- Core -> Client ---

type BridgeIDGenerated struct {
	Type      string `json:"type"`
	BridgeID  string `json:"bridgeId"`
	ExpiresAt int64  `json:"expiresAt"`
	RequestID string `json:"requestId"`
}

type SandboxConnection struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	StartTime  int64  `json:"startTime"`
	ScriptPath string `json:"scriptPath"`
}

type ConnectionsUpdate struct {
	Type        string              `json:"type"`
	Connections []SandboxConnection `json:"connections"`
}

type BridgeStatusEntry struct {
	BridgeID     string         `json:"bridgeId"`
	Platform     string         `json:"platform"`
	ConnectedAt  int64          `json:"connectedAt"`
	Status       string         `json:"status"`
	Capabilities map[string]any `json:"capabilities,omitempty"`
}

type BridgeStatusUpdate struct {
	Type    string              `json:"type"`
	Bridges []BridgeStatusEntry `json:"bridges"`
}

type BridgeValidationUpdate struct {
	Type          string   `json:"type"`
	ValidBridgeID []string `json:"validBridgeIds"`
}

type BridgeAssignmentsUpdate struct {
	Type        string            `json:"type"`
	Assignments map[string]string `json:"assignments"`
}

// SandboxSnapshot is the sandbox-shaped payload inside sandbox_updated. Nil
// (represented by Sandbox == nil) signals the sandbox was destroyed.
type SandboxSnapshot struct {
	ID         string `json:"id"`
	SessionID  string `json:"sessionId"`
	ScriptPath string `json:"scriptPath"`
	State      string `json:"state"`
	PortalID   string `json:"portalId,omitempty"`
}

type SandboxUpdated struct {
	Type         string           `json:"type"`
	ConnectionID string           `json:"connectionId"`
	Sandbox      *SandboxSnapshot `json:"sandbox"`
}

type StdStream struct {
	Type         string `json:"type"` // "stdout" | "stderr"
	ConnectionID string `json:"connectionId"`
	SandboxID    string `json:"sandboxId"`
	Message      string `json:"message"`
	IsJSON       bool   `json:"isJson"`
}

type CommandSent struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connectionId"`
	SandboxID    string          `json:"sandboxId"`
	Command      json.RawMessage `json:"command"`
}

type ConnectedSandboxesUpdate struct {
	Type      string              `json:"type"`
	Sandboxes []SandboxConnection `json:"sandboxes"`
}

type ErrorMessage struct {
	Type               string   `json:"type"`
	Error              string   `json:"error"`
	Details            string   `json:"details,omitempty"`
	AvailableSandboxes []string `json:"availableSandboxes,omitempty"`
}

// --- Portal -> Core ---

type BridgeRegisterPortal struct {
	Type         string         `json:"type"`
	Origin       string         `json:"origin"` // "flutter_bridge_portal"
	BridgeID     string         `json:"bridgeId"`
	Platform     string         `json:"platform,omitempty"`
	Capabilities map[string]any `json:"capabilities,omitempty"`
}

type BridgeCapabilitiesReport struct {
	Type         string         `json:"type"`
	BridgeID     string         `json:"bridgeId"`
	Capabilities map[string]any `json:"capabilities"`
}

type ResponsePayload struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

type BridgeResponseFromPortal struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Response  ResponsePayload `json:"response"`
}

// --- Sandbox-bridge-client -> Core ---

type BridgeRegisterSandbox struct {
	Type              string `json:"type"`
	Origin            string `json:"origin"` // "sandbox_bridge_client"
	BridgeID          string `json:"bridgeId"`
	SandboxSessionID  string `json:"sandboxSessionId"`
	ActualSandboxID   string `json:"actualSandboxId"`
	InstanceID        string `json:"instanceId"`
}

type BridgeRegistered struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// InterceptedCall is any forwardable effect arriving from a sandbox-bridge
// client. Type discriminates the effect; Payload is opaque to the core.
type InterceptedCall struct {
	Type                string          `json:"type"`
	TargetFlutterBridge string          `json:"targetFlutterBridgeId"`
	SandboxSessionID    string          `json:"sandboxSessionId"`
	ActualSandboxID     string          `json:"actualSandboxId"`
	RequestID           string          `json:"requestId"`
	Payload             json.RawMessage `json:"payload"`
}

// --- Core -> Portal ---

type RoutingInfo struct {
	TargetFlutterBridge string `json:"targetFlutterBridgeId"`
	SandboxSessionID    string `json:"sandboxSessionId"`
	ActualSandboxID     string `json:"actualSandboxId"`
}

type ForwardedCall struct {
	Type        string          `json:"type"`
	RequestID   string          `json:"requestId"`
	Payload     json.RawMessage `json:"payload"`
	RoutingInfo RoutingInfo     `json:"routingInfo"`
}

// --- Core -> Sandbox-bridge-client ---

type BridgeResponse struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Response  ResponsePayload `json:"response"`
}

// --- Out-of-band child channel ---

// ChildBridgeHint is written to a spawned child's stdin once, telling it
// which portal its own interception channel should connect to.
type ChildBridgeHint struct {
	Type                string `json:"type"`
	TargetFlutterBridge string `json:"targetFlutterBridgeId"`
	SandboxSessionID    string `json:"sandboxSessionId"`
	ActualSandboxID     string `json:"actualSandboxId"`
}
