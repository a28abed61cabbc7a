// Package api defines the wire protocol of the remote assistance channel.
//
// Every frame, on both the signaling and the peer-to-peer path, is a
// JSON-encoded message of the following structure:
//
//	   type - (required) one of the predefined message types;
//	payload - (optional) message payload with arbitrary data.
//
// Messages differentiate by their type with which it is possible to unwrap
// the payload into distinct request/response data structures. Handshake and
// administrative types are pinned to the signaling path, application types
// ride whichever transport is alive.
//
// Example:
//
//	{"type":"auth","payload":{"clientId":"cfv68irdrc3ifu3jn6bg","assistCode":"AB12CD","role":"host"}}
package api

import (
	"errors"

	"github.com/goccy/go-json"
)

type PT string

// Signaling and administrative types.
const (
	Auth           PT = "auth"
	AuthSuccess    PT = "auth_success"
	AuthFailed     PT = "auth_failed"
	GuestConnected PT = "guest_connected"
	GuestLeft      PT = "guest_left"
	HostConnected  PT = "host_connected"
	SessionClosed  PT = "session_closed"
	Heartbeat      PT = "heartbeat"
	HeartbeatAck   PT = "heartbeat_ack"
)

// P2P handshake types, carried over signaling only.
const (
	Offer        PT = "offer"
	Answer       PT = "answer"
	IceCandidate PT = "ice_candidate"
)

// Application sync types.
const (
	SyncRequest PT = "sync_request"
	SyncData    PT = "sync_data"
	FullSync    PT = "full_sync"
)

// Application operation types. Payload shapes are owned by the canvas layer
// and pass through this subsystem opaque.
const (
	NodeAdd        PT = "node_add"
	NodeDelete     PT = "node_delete"
	NodeMove       PT = "node_move"
	NodeUpdate     PT = "node_update"
	NodesChange    PT = "nodes_change"
	EdgeAdd        PT = "edge_add"
	EdgeDelete     PT = "edge_delete"
	EdgesChange    PT = "edges_change"
	VariableAdd    PT = "variable_add"
	VariableUpdate PT = "variable_update"
	VariableDelete PT = "variable_delete"
	MouseMove      PT = "mouse_move"
	MouseClick     PT = "mouse_click"
)

// SignalingOnly reports whether t must never leave the signaling path,
// even when a peer-to-peer channel is available.
func (t PT) SignalingOnly() bool {
	switch t {
	case Auth, AuthSuccess, AuthFailed, GuestConnected, GuestLeft, HostConnected,
		SessionClosed, Heartbeat, HeartbeatAck, Offer, Answer, IceCandidate:
		return true
	}
	return false
}

// Operation reports whether t is a canvas edit or presence operation,
// i.e. subject to echo suppression.
func (t PT) Operation() bool {
	switch t {
	case NodeAdd, NodeDelete, NodeMove, NodeUpdate, NodesChange,
		EdgeAdd, EdgeDelete, EdgesChange,
		VariableAdd, VariableUpdate, VariableDelete,
		MouseMove, MouseClick:
		return true
	}
	return false
}

type Message struct {
	T       PT              `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var ErrMalformed = errors.New("malformed")

// New wraps a payload into a typed message. Marshalling errors surface here
// and not at send time, so a bad payload never reaches a transport.
func New(t PT, payload any) (*Message, error) {
	m := Message{T: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		m.Payload = raw
	}
	return &m, nil
}

func Parse(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.T == "" {
		return nil, ErrMalformed
	}
	return &m, nil
}

func (m *Message) Encode() ([]byte, error) { return json.Marshal(m) }

func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}
