package api

import "github.com/goccy/go-json"

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

type AuthRequest struct {
	ClientId   string `json:"clientId"`
	AssistCode string `json:"assistCode"`
	Role       Role   `json:"role"`
}

type AuthSuccessNotice struct {
	HasGuest bool `json:"hasGuest,omitempty"`
}

type AuthFailedNotice struct {
	Message string `json:"message"`
}

type SessionClosedNotice struct {
	Reason string `json:"reason,omitempty"`
}

// SDPSignal carries a session description (offer or answer) as produced by
// the peer-connection engine, JSON-encoded verbatim.
type SDPSignal struct {
	SDP json.RawMessage `json:"sdp"`
}

type IceSignal struct {
	Candidate json.RawMessage `json:"candidate"`
}

// Snapshot is the complete canvas state used by sync_data and full_sync.
// The node/edge/variable shapes belong to the canvas layer, this subsystem
// only moves them around.
type Snapshot struct {
	Nodes        json.RawMessage `json:"nodes"`
	Edges        json.RawMessage `json:"edges"`
	Variables    json.RawMessage `json:"variables"`
	WorkflowName string          `json:"workflowName"`
}

func (s Snapshot) Empty() bool {
	return len(s.Nodes) == 0 && len(s.Edges) == 0 && len(s.Variables) == 0 && s.WorkflowName == ""
}
