package peerlink

type State uint8

const (
	Idle State = iota
	Offering
	AwaitingOffer
	Negotiating
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Offering:
		return "offering"
	case AwaitingOffer:
		return "awaiting-offer"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// transitions is the legal move table. Connected back to Negotiating is
// the channel-failure demotion, Closed is terminal.
var transitions = map[State][]State{
	Idle:          {Offering, AwaitingOffer, Closed},
	Offering:      {Negotiating, Closed},
	AwaitingOffer: {Negotiating, Closed},
	Negotiating:   {Connected, Closed},
	Connected:     {Negotiating, Closed},
	Closed:        {},
}

func (s State) canMove(to State) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}
