// Package peerlink negotiates and owns the direct peer-to-peer data channel
// of an assist session. The signaling connection is used purely for the
// offer/answer/ICE exchange; once the channel opens, application traffic
// moves off the rendezvous server entirely.
package peerlink

import (
	"errors"
	"fmt"
	"sync"

	"github.com/flowpilot/assist/pkg/api"
	"github.com/flowpilot/assist/pkg/logger"
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
)

const channelLabel = "canvas"

var (
	ErrClosed      = errors.New("peerlink: closed")
	ErrChannelDown = errors.New("peerlink: data channel is not open")
)

type Link struct {
	log *logger.Logger
	api *ApiFactory

	mu          sync.Mutex
	state       State
	conn        *webrtc.PeerConnection
	dc          *webrtc.DataChannel
	pending     []webrtc.ICECandidateInit
	remoteSet   bool
	dcOpen      bool
	pcConnected bool

	// applyCandidate applies a single remote ICE candidate, split out so the
	// buffering rules can be exercised without a live engine.
	applyCandidate func(webrtc.ICECandidateInit) error

	// OnSignal sends a handshake message (offer/answer/ice_candidate) over
	// the signaling path.
	OnSignal func(m *api.Message)
	// OnUp fires when the channel becomes usable, OnDemote when it stops
	// being usable without the session ending.
	OnUp     func()
	OnDemote func()
	// OnMessage receives parsed application messages from the data channel.
	OnMessage func(m *api.Message)
}

func New(apiFactory *ApiFactory, log *logger.Logger) *Link {
	l := &Link{log: log, api: apiFactory, state: Idle}
	l.applyCandidate = func(c webrtc.ICECandidateInit) error {
		return l.conn.AddICECandidate(c)
	}
	return l
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Alive reports whether the data channel is open and usable for traffic.
func (l *Link) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == Connected && l.dc != nil && l.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Offer starts the host-side negotiation. Callers must have observed the
// guest's presence first, offers are never sent speculatively.
func (l *Link) Offer() error {
	l.mu.Lock()
	if !l.state.canMove(Offering) {
		l.mu.Unlock()
		return fmt.Errorf("peerlink: can't offer from %v", l.state)
	}
	l.state = Offering
	l.mu.Unlock()

	conn, err := l.setupConn()
	if err != nil {
		return err
	}
	dc, err := conn.CreateDataChannel(channelLabel, nil)
	if err != nil {
		return err
	}
	l.watchChannel(dc)

	offer, err := conn.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err = conn.SetLocalDescription(offer); err != nil {
		return err
	}
	l.mu.Lock()
	l.state = Negotiating
	l.mu.Unlock()
	return l.signalSDP(api.Offer, offer)
}

// AwaitOffer prepares the guest side: the connection exists and listens for
// the host's channel, negotiation starts when the offer arrives.
func (l *Link) AwaitOffer() error {
	l.mu.Lock()
	if !l.state.canMove(AwaitingOffer) {
		l.mu.Unlock()
		return fmt.Errorf("peerlink: can't await offer from %v", l.state)
	}
	l.state = AwaitingOffer
	l.mu.Unlock()

	conn, err := l.setupConn()
	if err != nil {
		return err
	}
	conn.OnDataChannel(func(dc *webrtc.DataChannel) { l.watchChannel(dc) })
	return nil
}

// HandleOffer applies the host's offer and responds with an answer.
func (l *Link) HandleOffer(sdp []byte) error {
	l.mu.Lock()
	if !l.state.canMove(Negotiating) {
		l.mu.Unlock()
		return fmt.Errorf("peerlink: unexpected offer in %v", l.state)
	}
	l.state = Negotiating
	conn := l.conn
	l.mu.Unlock()

	if err := l.setRemote(sdp); err != nil {
		return err
	}
	answer, err := conn.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err = conn.SetLocalDescription(answer); err != nil {
		return err
	}
	return l.signalSDP(api.Answer, answer)
}

// HandleAnswer applies the guest's answer on the host side.
func (l *Link) HandleAnswer(sdp []byte) error { return l.setRemote(sdp) }

// HandleCandidate applies a remote ICE candidate, or buffers it when the
// remote description is not in place yet. Signaling does not guarantee the
// candidate trickle arrives after the description exchange.
func (l *Link) HandleCandidate(raw []byte) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return err
	}
	l.mu.Lock()
	if l.state == Closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if !l.remoteSet {
		l.pending = append(l.pending, candidate)
		n := len(l.pending)
		l.mu.Unlock()
		l.log.Debug().Msgf("buffered ice candidate #%d", n)
		return nil
	}
	l.mu.Unlock()
	return l.applyCandidate(candidate)
}

// Send writes an application message to the data channel.
func (l *Link) Send(m *api.Message) error {
	l.mu.Lock()
	dc := l.dc
	ok := l.state == Connected && dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen
	l.mu.Unlock()
	if !ok {
		return ErrChannelDown
	}
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return dc.Send(data)
}

// Close tears the peer connection down. Idempotent, terminal.
func (l *Link) Close() {
	l.mu.Lock()
	if l.state == Closed {
		l.mu.Unlock()
		return
	}
	l.state = Closed
	conn := l.conn
	l.conn, l.dc, l.pending = nil, nil, nil
	l.mu.Unlock()
	// engine close is idempotent and releases the ICE agent and transports
	// even from the disconnected and failed states
	if conn != nil {
		_ = conn.Close()
	}
	l.log.Debug().Msg("peerlink closed")
}

func (l *Link) setupConn() (*webrtc.PeerConnection, error) {
	conn, err := l.api.NewPeer()
	if err != nil {
		return nil, err
	}
	conn.OnICECandidate(func(ice *webrtc.ICECandidate) {
		if ice == nil {
			l.log.Debug().Msg("ice gathering complete")
			return
		}
		candidate := ice.ToJSON()
		raw, err := json.Marshal(candidate)
		if err != nil {
			l.log.Error().Err(err).Msg("ice candidate encode fail")
			return
		}
		l.signal(api.IceCandidate, api.IceSignal{Candidate: raw})
	})
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) { l.handleConnState(state) })
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	return conn, nil
}

func (l *Link) watchChannel(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()
	dc.OnOpen(func() {
		l.log.Debug().Str("label", dc.Label()).Msg("data channel open")
		l.mu.Lock()
		l.dcOpen = true
		l.mu.Unlock()
		l.maybePromote()
	})
	dc.OnClose(func() {
		l.log.Debug().Msg("data channel closed")
		l.mu.Lock()
		l.dcOpen = false
		l.mu.Unlock()
		l.demote()
	})
	dc.OnError(func(err error) { l.log.Error().Err(err).Msg("data channel fail") })
	dc.OnMessage(func(m webrtc.DataChannelMessage) {
		if len(m.Data) == 0 {
			return
		}
		msg, err := api.Parse(m.Data)
		if err != nil {
			l.log.Warn().Err(err).Msgf("dropped malformed peer frame: %.128s", m.Data)
			return
		}
		if l.OnMessage != nil {
			l.OnMessage(msg)
		}
	})
}

func (l *Link) handleConnState(state webrtc.PeerConnectionState) {
	l.log.Debug().Str(".state", state.String()).Msg("peer")
	switch state {
	case webrtc.PeerConnectionStateConnected:
		l.mu.Lock()
		l.pcConnected = true
		l.mu.Unlock()
		l.maybePromote()
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		// negotiation failure or a dead channel never ends the session,
		// traffic falls back to the relay path
		l.mu.Lock()
		l.pcConnected = false
		l.mu.Unlock()
		l.demote()
	case webrtc.PeerConnectionStateClosed:
		l.mu.Lock()
		terminal := l.state == Closed
		l.mu.Unlock()
		if !terminal {
			l.demote()
		}
	}
}

// maybePromote flips the link to Connected once both the engine reports a
// connected state and the data channel is open.
func (l *Link) maybePromote() {
	l.mu.Lock()
	ready := l.pcConnected && l.dcOpen && l.state.canMove(Connected)
	if ready {
		l.state = Connected
	}
	l.mu.Unlock()
	if ready {
		l.log.Info().Msg("p2p channel up")
		if l.OnUp != nil {
			l.OnUp()
		}
	}
}

func (l *Link) demote() {
	l.mu.Lock()
	was := l.state == Connected
	if was {
		l.state = Negotiating
	}
	l.mu.Unlock()
	if was {
		l.log.Info().Msg("p2p channel down, relay takes over")
		if l.OnDemote != nil {
			l.OnDemote()
		}
	}
}

// setRemote applies the remote description and flushes the candidate buffer
// in arrival order, each candidate exactly once.
func (l *Link) setRemote(sdp []byte) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(sdp, &desc); err != nil {
		return err
	}
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}
	if err := conn.SetRemoteDescription(desc); err != nil {
		return err
	}
	l.flushPending()
	return nil
}

func (l *Link) flushPending() {
	l.mu.Lock()
	l.remoteSet = true
	flush := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, candidate := range flush {
		if err := l.applyCandidate(candidate); err != nil {
			l.log.Error().Err(err).Msg("buffered candidate apply fail")
		}
	}
	if len(flush) > 0 {
		l.log.Debug().Msgf("flushed %d buffered candidates", len(flush))
	}
}

func (l *Link) signalSDP(t api.PT, desc webrtc.SessionDescription) error {
	raw, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	l.signal(t, api.SDPSignal{SDP: raw})
	return nil
}

func (l *Link) signal(t api.PT, payload any) {
	m, err := api.New(t, payload)
	if err != nil {
		l.log.Error().Err(err).Msgf("%v signal encode fail", t)
		return
	}
	if l.OnSignal != nil {
		l.OnSignal(m)
	}
}
