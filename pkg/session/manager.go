// Package session orchestrates the lifecycle of a remote assistance
// session: create/join against the backend, the signaling connection, the
// P2P upgrade and the state synchronization riding on top.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/flowpilot/assist/pkg/api"
	"github.com/flowpilot/assist/pkg/config"
	"github.com/flowpilot/assist/pkg/logger"
	"github.com/flowpilot/assist/pkg/monitoring"
	"github.com/flowpilot/assist/pkg/network"
	"github.com/flowpilot/assist/pkg/peerlink"
	"github.com/flowpilot/assist/pkg/signaling"
	"github.com/flowpilot/assist/pkg/syncer"
	"github.com/flowpilot/assist/pkg/transport"
)

const codeLength = 6

var (
	ErrSessionActive = errors.New("session: another session is active")
	ErrNoSession     = errors.New("session: no active session")
	ErrBadCode       = errors.New("session: assist code must be 6 characters")
)

// Manager owns the single RemoteSession of a client and reacts to signaling
// and peer-link events to drive it. All session mutations happen here.
type Manager struct {
	conf     config.Assist
	log      *logger.Logger
	clientId network.Uid
	rest     *restClient
	peers    *peerlink.ApiFactory

	mu      sync.Mutex
	session *RemoteSession
	signal  *signaling.Client
	peer    *peerlink.Link
	router  *transport.Router
	sync    *syncer.Syncer
	ended   bool

	statusObs listeners[StatusEvent]
	guestObs  listeners[bool]
	snapObs   listeners[api.Snapshot]
	opObs     listeners[*api.Message]
	transObs  listeners[TransportEvent]
}

func NewManager(conf config.Assist, log *logger.Logger) (*Manager, error) {
	peers, err := peerlink.NewApiFactory(conf.Webrtc, log)
	if err != nil {
		return nil, err
	}
	return &Manager{
		conf:     conf,
		log:      log,
		clientId: network.NewUid(),
		rest:     newRestClient(conf.Api.Address),
		peers:    peers,
	}, nil
}

// NormalizeCode uppercases an assist code and checks its length. Codes are
// case-insensitive on input, the server sees them uppercase only.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != codeLength {
		return "", ErrBadCode
	}
	return code, nil
}

// Session returns a copy of the current session value, or nil.
func (m *Manager) Session() *RemoteSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// Syncer exposes the sync layer for the canvas collaborator, nil without an
// active session.
func (m *Manager) Syncer() *syncer.Syncer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sync
}

// SendOperation forwards a local canvas operation, subject to echo
// suppression.
func (m *Manager) SendOperation(msg *api.Message) error {
	s := m.Syncer()
	if s == nil {
		return ErrNoSession
	}
	return s.SendOperation(msg)
}

// Create requests a fresh assist code from the backend and opens the
// session as host. The host waits until a guest authenticates.
func (m *Manager) Create(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return "", ErrSessionActive
	}
	m.mu.Unlock()

	code, err := m.rest.CreateSession(ctx, m.clientId.String())
	if err != nil {
		return "", err
	}
	if code, err = NormalizeCode(code); err != nil {
		return "", err
	}
	if err = m.open(code, api.RoleHost, StatusWaiting); err != nil {
		return "", err
	}
	return code, nil
}

// Join validates the given code with the backend and opens the session as
// guest.
func (m *Manager) Join(ctx context.Context, code string) error {
	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return ErrSessionActive
	}
	m.mu.Unlock()

	code, err := NormalizeCode(code)
	if err != nil {
		return err
	}
	if err = m.rest.JoinSession(ctx, m.clientId.String(), code); err != nil {
		return err
	}
	return m.open(code, api.RoleGuest, StatusConnecting)
}

func (m *Manager) open(code string, role api.Role, status Status) error {
	peer := peerlink.New(m.peers, m.log)
	signal := signaling.New(m.conf.Signaling, api.AuthRequest{
		ClientId:   m.clientId.String(),
		AssistCode: code,
		Role:       role,
	}, m.log)

	router := transport.NewRouter(
		transport.Route{Kind: transport.KindP2P, Transport: peer},
		transport.Route{Kind: transport.KindRelay, Transport: signal},
	)
	sy := syncer.New(router, m.log)

	signal.OnMessage = m.dispatch
	signal.OnDisconnect = func() { m.terminate("signaling lost", false) }
	signal.PeerAlive = peer.Alive
	peer.OnSignal = func(msg *api.Message) {
		if err := signal.Send(msg); err != nil {
			m.log.Error().Err(err).Msgf("handshake %v send fail", msg.T)
		}
	}
	peer.OnUp = m.handlePeerUp
	peer.OnDemote = m.handlePeerDemote
	peer.OnMessage = m.dispatch

	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		peer.Close()
		return ErrSessionActive
	}
	m.session = &RemoteSession{AssistCode: code, Role: role, Status: status}
	m.signal, m.peer, m.router, m.sync = signal, peer, router, sy
	m.ended = false
	m.mu.Unlock()

	if err := signal.Connect(); err != nil {
		m.mu.Lock()
		m.session, m.signal, m.peer, m.router, m.sync = nil, nil, nil, nil, nil
		m.mu.Unlock()
		peer.Close()
		return err
	}
	monitoring.SessionsStarted.Inc()
	m.log.Info().Msgf("session %v opened as %v", code, role)
	// the initial status goes out before dispatch starts, so a fast
	// auth_failed can never emit its terminal event ahead of this one
	m.statusObs.emit(StatusEvent{Status: status})
	signal.Start()
	return nil
}

// Close tears the session down: peer link first, then heartbeat and
// signaling, then a best-effort backend notice. Safe to call from any state
// including already-closed, the terminal notification fires exactly once.
func (m *Manager) Close() { m.terminate("", true) }

func (m *Manager) terminate(reason string, notifyServer bool) {
	m.mu.Lock()
	if m.session == nil || m.ended {
		m.mu.Unlock()
		return
	}
	m.ended = true
	peer, signal := m.peer, m.signal
	m.session.Status = StatusDisconnected
	m.session, m.signal, m.peer, m.router, m.sync = nil, nil, nil, nil, nil
	m.mu.Unlock()

	if peer != nil {
		peer.Close()
	}
	if signal != nil {
		signal.Close()
	}
	if notifyServer {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := m.rest.CloseSession(ctx, m.clientId.String()); err != nil {
			m.log.Debug().Err(err).Msg("close notice fail")
		}
		cancel()
	}
	monitoring.SessionsClosed.Inc()
	monitoring.P2PActive.Set(0)
	m.log.Info().Msgf("session closed: %s", reasonOrDefault(reason))
	m.statusObs.emit(StatusEvent{Status: StatusDisconnected, Reason: reason})
}

func reasonOrDefault(reason string) string {
	if reason == "" {
		return "requested"
	}
	return reason
}

// dispatch is the single inbound handler. Both transports feed it, so the
// rest of the subsystem sees one normalized message stream.
func (m *Manager) dispatch(msg *api.Message) {
	switch msg.T {
	case api.AuthSuccess:
		dat := api.Unwrap[api.AuthSuccessNotice](msg.Payload)
		if dat == nil {
			dat = &api.AuthSuccessNotice{}
		}
		m.handleAuthSuccess(*dat)
	case api.AuthFailed:
		reason := "authentication failed"
		if dat := api.Unwrap[api.AuthFailedNotice](msg.Payload); dat != nil && dat.Message != "" {
			reason = dat.Message
		}
		m.log.Warn().Msgf("auth failed: %s", reason)
		m.terminate(reason, false)
	case api.GuestConnected:
		m.handleGuestPresence(true)
	case api.GuestLeft:
		m.handleGuestPresence(false)
	case api.HostConnected:
		m.log.Debug().Msg("host present")
	case api.SessionClosed:
		reason := "closed by server"
		if dat := api.Unwrap[api.SessionClosedNotice](msg.Payload); dat != nil && dat.Reason != "" {
			reason = dat.Reason
		}
		m.terminate(reason, false)
	case api.Offer:
		m.withPeer(func(p *peerlink.Link) error {
			dat := api.Unwrap[api.SDPSignal](msg.Payload)
			if dat == nil {
				return api.ErrMalformed
			}
			return p.HandleOffer(dat.SDP)
		}, "offer")
	case api.Answer:
		m.withPeer(func(p *peerlink.Link) error {
			dat := api.Unwrap[api.SDPSignal](msg.Payload)
			if dat == nil {
				return api.ErrMalformed
			}
			return p.HandleAnswer(dat.SDP)
		}, "answer")
	case api.IceCandidate:
		m.withPeer(func(p *peerlink.Link) error {
			dat := api.Unwrap[api.IceSignal](msg.Payload)
			if dat == nil {
				return api.ErrMalformed
			}
			return p.HandleCandidate(dat.Candidate)
		}, "ice candidate")
	case api.SyncRequest:
		if sy := m.Syncer(); sy != nil {
			if err := sy.PushSyncData(); err != nil {
				m.log.Error().Err(err).Msg("sync data push fail")
			}
		}
	case api.SyncData, api.FullSync:
		m.handleSnapshot(msg)
	case api.Heartbeat, api.HeartbeatAck:
		// liveness only
	default:
		if msg.T.Operation() {
			m.handleOperation(msg)
			return
		}
		m.log.Warn().Msgf("dropped unknown frame type %q", msg.T)
	}
}

func (m *Manager) handleAuthSuccess(notice api.AuthSuccessNotice) {
	m.mu.Lock()
	s := m.session
	if s == nil {
		m.mu.Unlock()
		return
	}
	role := s.Role
	moved := false
	if role == api.RoleGuest && s.Status.canMove(StatusConnected) {
		s.Status = StatusConnected
		s.ConnectionType = ConnectionRelay
		moved = true
	}
	peer, sy := m.peer, m.sync
	m.mu.Unlock()

	m.log.Debug().Msgf("authenticated as %v", role)
	if role == api.RoleGuest {
		if moved {
			m.statusObs.emit(StatusEvent{Status: StatusConnected})
		}
		// converge first, upgrade second
		if sy != nil {
			if err := sy.RequestSync(); err != nil {
				m.log.Error().Err(err).Msg("sync request fail")
			}
		}
		if peer != nil {
			if err := peer.AwaitOffer(); err != nil {
				m.log.Error().Err(err).Msg("peer await fail")
			}
		}
		return
	}
	if notice.HasGuest {
		m.handleGuestPresence(true)
	}
}

// handleGuestPresence is host-side bookkeeping. A newly present guest moves
// the session to connected, triggers the unsolicited full_sync over the
// relay path, and only then starts the P2P offer.
func (m *Manager) handleGuestPresence(present bool) {
	m.mu.Lock()
	s := m.session
	if s == nil || s.Role != api.RoleHost {
		m.mu.Unlock()
		return
	}
	changed := s.GuestConnected != present
	s.GuestConnected = present
	moved := false
	if present && s.Status.canMove(StatusConnected) {
		s.Status = StatusConnected
		s.ConnectionType = ConnectionRelay
		moved = true
	}
	peer, sy := m.peer, m.sync
	m.mu.Unlock()

	if changed {
		m.guestObs.emit(present)
	}
	if moved {
		m.statusObs.emit(StatusEvent{Status: StatusConnected})
	}
	if !present {
		m.log.Info().Msg("guest left")
		return
	}
	m.log.Info().Msg("guest connected")
	if sy != nil {
		if err := sy.PushFullSync(); err != nil {
			m.log.Error().Err(err).Msg("full sync push fail")
		}
	}
	if peer != nil && peer.State() == peerlink.Idle {
		if err := peer.Offer(); err != nil {
			m.log.Error().Err(err).Msg("peer offer fail")
		}
	}
}

func (m *Manager) handleSnapshot(msg *api.Message) {
	snap := api.Unwrap[api.Snapshot](msg.Payload)
	if snap == nil {
		m.log.Warn().Msgf("dropped malformed %v", msg.T)
		return
	}
	sy := m.Syncer()
	if sy == nil {
		return
	}
	// plain overwrite, last writer wins
	sy.Apply(*snap)
	sy.ApplyRemote(func() { m.snapObs.emit(*snap) })
}

func (m *Manager) handleOperation(msg *api.Message) {
	sy := m.Syncer()
	if sy == nil {
		return
	}
	sy.ApplyRemote(func() { m.opObs.emit(msg) })
}

func (m *Manager) handlePeerUp() {
	m.mu.Lock()
	if s := m.session; s != nil {
		s.ConnectionType = ConnectionP2P
	}
	m.mu.Unlock()
	monitoring.P2PActive.Set(1)
	m.transObs.emit(TransportEvent{Type: ConnectionP2P})
}

// handlePeerDemote flips the preferred transport back to relay. The session
// itself stays connected, a full close needs an explicit Close or a
// signaling-level termination.
func (m *Manager) handlePeerDemote() {
	m.mu.Lock()
	if s := m.session; s != nil {
		s.ConnectionType = ConnectionRelay
	}
	m.mu.Unlock()
	monitoring.P2PActive.Set(0)
	monitoring.TransportFallbacks.Inc()
	m.transObs.emit(TransportEvent{Type: ConnectionRelay})
}

func (m *Manager) withPeer(fn func(p *peerlink.Link) error, tag string) {
	m.mu.Lock()
	peer := m.peer
	m.mu.Unlock()
	if peer == nil {
		return
	}
	if err := fn(peer); err != nil {
		m.log.Error().Err(err).Msgf("%s handling fail", tag)
	}
}

func (m *Manager) String() string {
	s := m.Session()
	if s == nil {
		return "session::none"
	}
	return fmt.Sprintf("session::%s[%s,%s]", s.AssistCode, s.Role, s.Status)
}
