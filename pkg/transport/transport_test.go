package transport

import (
	"testing"

	"github.com/flowpilot/assist/pkg/api"
)

type fakePath struct {
	alive bool
	sent  []*api.Message
}

func (f *fakePath) Alive() bool               { return f.alive }
func (f *fakePath) Send(m *api.Message) error { f.sent = append(f.sent, m); return nil }

func newTestRouter() (*Router, *fakePath, *fakePath) {
	peer := &fakePath{}
	relay := &fakePath{alive: true}
	r := NewRouter(
		Route{Kind: KindP2P, Transport: peer},
		Route{Kind: KindRelay, Transport: relay},
	)
	return r, peer, relay
}

func msg(t *testing.T, pt api.PT) *api.Message {
	t.Helper()
	m, err := api.New(pt, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return m
}

func TestPrefersPeerWhenOpen(t *testing.T) {
	r, peer, relay := newTestRouter()
	peer.alive = true
	if err := r.Send(msg(t, api.NodeAdd)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(peer.sent) != 1 || len(relay.sent) != 0 {
		t.Errorf("operation should take the peer path, got peer=%d relay=%d", len(peer.sent), len(relay.sent))
	}
	if r.Kind() != KindP2P {
		t.Errorf("expected p2p preference, got %q", r.Kind())
	}
}

func TestFallsBackToRelay(t *testing.T) {
	r, peer, relay := newTestRouter()
	if err := r.Send(msg(t, api.NodeMove)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(relay.sent) != 1 || len(peer.sent) != 0 {
		t.Errorf("dead peer should route to relay, got peer=%d relay=%d", len(peer.sent), len(relay.sent))
	}
	if r.Kind() != KindRelay {
		t.Errorf("expected relay preference, got %q", r.Kind())
	}
}

// The active path is re-evaluated per message, so a mid-session channel
// closure flips routing without the caller noticing.
func TestReEvaluatesPerMessage(t *testing.T) {
	r, peer, relay := newTestRouter()
	peer.alive = true
	_ = r.Send(msg(t, api.NodeAdd))
	peer.alive = false
	_ = r.Send(msg(t, api.NodeDelete))
	peer.alive = true
	_ = r.Send(msg(t, api.EdgeAdd))
	if len(peer.sent) != 2 || len(relay.sent) != 1 {
		t.Errorf("expected 2 peer / 1 relay, got %d/%d", len(peer.sent), len(relay.sent))
	}
}

func TestSignalingTypesNeverLeaveRelay(t *testing.T) {
	r, peer, relay := newTestRouter()
	peer.alive = true
	for _, pt := range []api.PT{api.Offer, api.Answer, api.IceCandidate, api.Heartbeat, api.Auth} {
		if err := r.Send(msg(t, pt)); err != nil {
			t.Fatalf("expected no error for %v, got %v", pt, err)
		}
	}
	if len(peer.sent) != 0 {
		t.Errorf("signaling frames on the peer path: %d", len(peer.sent))
	}
	if len(relay.sent) != 5 {
		t.Errorf("expected 5 relay frames, got %d", len(relay.sent))
	}
}

func TestNoTransport(t *testing.T) {
	r, _, relay := newTestRouter()
	relay.alive = false
	if err := r.Send(msg(t, api.NodeAdd)); err != ErrNoTransport {
		t.Errorf("expected ErrNoTransport, got %v", err)
	}
	if err := r.Send(msg(t, api.Heartbeat)); err != ErrNoTransport {
		t.Errorf("expected ErrNoTransport, got %v", err)
	}
	if r.Kind() != "" {
		t.Errorf("expected no preference, got %q", r.Kind())
	}
}
