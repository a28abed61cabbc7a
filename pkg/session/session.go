package session

import "github.com/flowpilot/assist/pkg/api"

// Status is the application-level connectivity of a session, independent of
// which transport currently carries the traffic.
type Status uint8

const (
	StatusNone Status = iota
	StatusConnecting
	StatusWaiting
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusConnecting:
		return "connecting"
	case StatusWaiting:
		return "waiting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// statusMoves is the legal transition table. Disconnected is terminal, the
// session value is discarded and never reused.
var statusMoves = map[Status][]Status{
	StatusNone:         {StatusWaiting, StatusConnecting},
	StatusWaiting:      {StatusConnected, StatusDisconnected},
	StatusConnecting:   {StatusConnected, StatusDisconnected},
	StatusConnected:    {StatusDisconnected},
	StatusDisconnected: {},
}

func (s Status) canMove(to Status) bool {
	for _, t := range statusMoves[s] {
		if t == to {
			return true
		}
	}
	return false
}

// ConnectionType names the currently preferred transport.
type ConnectionType string

const (
	ConnectionNone  ConnectionType = ""
	ConnectionP2P   ConnectionType = "p2p"
	ConnectionRelay ConnectionType = "relay"
)

// RemoteSession is the single per-client session value. It is owned and
// mutated exclusively by the Manager; components below it raise events but
// never touch session state.
type RemoteSession struct {
	AssistCode     string
	Role           api.Role
	Status         Status
	GuestConnected bool
	ConnectionType ConnectionType
}
