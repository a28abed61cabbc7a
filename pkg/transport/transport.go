// Package transport hides the dual-path delivery of an assist session
// behind one interface: a message goes over the peer data channel when it
// is open, over the signaling relay otherwise. Call sites never check which
// path is live.
package transport

import (
	"errors"

	"github.com/flowpilot/assist/pkg/api"
	"github.com/flowpilot/assist/pkg/monitoring"
)

// Transport is a single delivery path for wire messages.
type Transport interface {
	Alive() bool
	Send(m *api.Message) error
}

const (
	KindP2P   = "p2p"
	KindRelay = "relay"
)

var ErrNoTransport = errors.New("transport: no path available")

// Route is a named delivery path.
type Route struct {
	Kind string
	Transport
}

// Router prefers the first alive route, re-evaluated per message so the
// active path can change mid-session without callers noticing.
// Signaling-pinned types always take the relay route.
type Router struct {
	routes []Route
}

// NewRouter builds a router from routes in preference order.
func NewRouter(routes ...Route) *Router { return &Router{routes: routes} }

func (r *Router) Send(m *api.Message) error {
	if m.T.SignalingOnly() {
		return r.sendVia(KindRelay, m)
	}
	for _, route := range r.routes {
		if route.Alive() {
			monitoring.MessagesSent.WithLabelValues(route.Kind).Inc()
			return route.Send(m)
		}
	}
	return ErrNoTransport
}

func (r *Router) sendVia(kind string, m *api.Message) error {
	for _, route := range r.routes {
		if route.Kind == kind && route.Alive() {
			monitoring.MessagesSent.WithLabelValues(route.Kind).Inc()
			return route.Send(m)
		}
	}
	return ErrNoTransport
}

// Kind names the currently preferred route, empty when nothing is alive.
func (r *Router) Kind() string {
	for _, route := range r.routes {
		if route.Alive() {
			return route.Kind
		}
	}
	return ""
}
