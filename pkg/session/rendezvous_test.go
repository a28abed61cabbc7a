package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flowpilot/assist/pkg/api"
	"github.com/flowpilot/assist/pkg/config"
	"github.com/flowpilot/assist/pkg/logger"
	"github.com/flowpilot/assist/pkg/network/websocket"
	"github.com/goccy/go-json"
)

// rendezvous is a miniature in-process stand-in for the backend: it issues
// one fixed assist code over REST and relays signaling frames between the
// host and the guest socket.
type rendezvous struct {
	*httptest.Server
	t *testing.T

	code       string
	rejectAuth string // when set, auth answers auth_failed with this message

	mu         sync.Mutex
	conns      map[api.Role]*websocket.WS
	closeCalls int
	relayed    map[api.PT]int
}

func newRendezvous(t *testing.T) *rendezvous {
	t.Helper()
	rv := &rendezvous{
		t:       t,
		code:    "AB12CD",
		conns:   make(map[api.Role]*websocket.WS, 2),
		relayed: make(map[api.PT]int, 8),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/assist/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"assistCode": rv.code})
	})
	mux.HandleFunc("/assist/sessions/join", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AssistCode string `json:"assistCode"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.AssistCode != rv.code {
			writeJSON(w, map[string]any{"error": "unknown assist code"})
			return
		}
		writeJSON(w, map[string]any{"success": true})
	})
	mux.HandleFunc("/assist/sessions/close", func(w http.ResponseWriter, r *http.Request) {
		rv.mu.Lock()
		rv.closeCalls++
		rv.mu.Unlock()
		writeJSON(w, map[string]string{})
	})
	mux.HandleFunc("/assist/ws", rv.handleWS)
	rv.Server = httptest.NewServer(mux)
	t.Cleanup(rv.Close)
	return rv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (rv *rendezvous) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.NewServer(w, r, logger.Default())
	if err != nil {
		rv.t.Errorf("upgrade fail: %v", err)
		return
	}
	defer conn.Close()

	in := make(chan []byte, 32)
	gone := make(chan struct{})
	defer close(gone)
	conn.OnMessage = func(data []byte, err error) {
		if err != nil {
			return
		}
		select {
		case in <- data:
		case <-gone:
		}
	}
	conn.Listen()

	var data []byte
	select {
	case data = <-in:
	case <-conn.Done:
		return
	case <-time.After(2 * time.Second):
		rv.t.Error("no auth frame")
		return
	}
	m, err := api.Parse(data)
	if err != nil || m.T != api.Auth {
		rv.t.Errorf("expected auth frame first, got %v (%v)", m, err)
		return
	}
	auth := api.Unwrap[api.AuthRequest](m.Payload)
	if auth == nil {
		rv.t.Error("malformed auth payload")
		return
	}
	if rv.rejectAuth != "" || auth.AssistCode != rv.code {
		rv.send(conn, api.AuthFailed, api.AuthFailedNotice{Message: rv.rejectAuth})
		// hold the socket open until the client reacts and hangs up
		select {
		case <-conn.Done:
		case <-time.After(2 * time.Second):
		}
		return
	}

	role := auth.Role
	rv.mu.Lock()
	rv.conns[role] = conn
	hasGuest := rv.conns[api.RoleGuest] != nil
	rv.mu.Unlock()

	if role == api.RoleHost {
		rv.send(conn, api.AuthSuccess, api.AuthSuccessNotice{HasGuest: hasGuest})
	} else {
		rv.send(conn, api.AuthSuccess, nil)
		rv.sendTo(api.RoleHost, api.HostConnected, nil) // informational echo for symmetry
		rv.sendTo(api.RoleHost, api.GuestConnected, nil)
	}

	other := api.RoleGuest
	if role == api.RoleGuest {
		other = api.RoleHost
	}
	for {
		select {
		case data := <-in:
			m, err := api.Parse(data)
			if err != nil {
				continue
			}
			if m.T == api.Heartbeat {
				rv.send(conn, api.HeartbeatAck, nil)
				continue
			}
			// swallow the peer handshake so the upgrade never completes and
			// traffic stays on the relay path for the whole test
			if m.T == api.Offer || m.T == api.Answer || m.T == api.IceCandidate {
				continue
			}
			rv.mu.Lock()
			rv.relayed[m.T]++
			peer := rv.conns[other]
			rv.mu.Unlock()
			if peer != nil {
				peer.Write(data)
			}
		case <-conn.Done:
			rv.mu.Lock()
			delete(rv.conns, role)
			rv.mu.Unlock()
			if role == api.RoleGuest {
				rv.sendTo(api.RoleHost, api.GuestLeft, nil)
			}
			return
		}
	}
}

func (rv *rendezvous) send(conn *websocket.WS, t api.PT, payload any) {
	m, err := api.New(t, payload)
	if err != nil {
		rv.t.Errorf("encode fail: %v", err)
		return
	}
	data, _ := m.Encode()
	conn.Write(data)
}

func (rv *rendezvous) sendTo(role api.Role, t api.PT, payload any) {
	// the caller may race the auth handshake that registers the conn
	deadline := time.Now().Add(2 * time.Second)
	for {
		rv.mu.Lock()
		conn := rv.conns[role]
		rv.mu.Unlock()
		if conn != nil {
			rv.send(conn, t, payload)
			return
		}
		if time.Now().After(deadline) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (rv *rendezvous) relayCount(t api.PT) int {
	rv.mu.Lock()
	defer rv.mu.Unlock()
	return rv.relayed[t]
}

func (rv *rendezvous) closeNotices() int {
	rv.mu.Lock()
	defer rv.mu.Unlock()
	return rv.closeCalls
}

func (rv *rendezvous) conf() config.Assist {
	return config.Assist{
		Api: config.Api{Address: rv.URL},
		Signaling: config.Signaling{
			Address:           strings.TrimPrefix(rv.URL, "http://"),
			Endpoint:          "/assist/ws",
			HeartbeatInterval: 200 * time.Millisecond,
		},
		Webrtc: config.Webrtc{LogLevel: 3},
	}
}
