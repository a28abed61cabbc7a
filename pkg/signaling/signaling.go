// Package signaling maintains the persistent rendezvous connection of an
// assist session: authentication, liveness heartbeat and raw message
// dispatch. It is the negotiation path for the P2P upgrade and the relay
// path for application traffic when no peer channel is available.
package signaling

import (
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/flowpilot/assist/pkg/api"
	"github.com/flowpilot/assist/pkg/config"
	"github.com/flowpilot/assist/pkg/logger"
	"github.com/flowpilot/assist/pkg/network/websocket"
)

var ErrNotConnected = errors.New("signaling: not connected")

// defaultHeartbeatInterval backs a hand-built config with a zero interval.
const defaultHeartbeatInterval = 5 * time.Second

type Client struct {
	conf config.Signaling
	auth api.AuthRequest
	log  *logger.Logger

	mu     sync.Mutex
	conn   *websocket.WS
	hbStop chan struct{}
	closed bool

	// OnMessage receives every well-formed inbound frame. Malformed frames
	// are dropped before this point.
	OnMessage func(m *api.Message)
	// OnDisconnect fires when the socket closes while no P2P channel is
	// alive. With a live peer channel the closure is suppressed, signaling
	// is only required for negotiation.
	OnDisconnect func()
	// PeerAlive tells whether a P2P data channel currently exists.
	PeerAlive func() bool
}

func New(conf config.Signaling, auth api.AuthRequest, log *logger.Logger) *Client {
	if conf.HeartbeatInterval <= 0 {
		conf.HeartbeatInterval = defaultHeartbeatInterval
	}
	return &Client{conf: conf, auth: auth, log: log}
}

// Connect dials the rendezvous address and writes the auth frame. Inbound
// dispatch stays off until Start, so callers can finish their own setup
// before the server's responses land.
func (c *Client) Connect() error {
	scheme := "ws"
	if c.conf.Secure {
		scheme = "wss"
	}
	address := url.URL{Scheme: scheme, Host: c.conf.Address, Path: c.conf.Endpoint}
	conn, err := websocket.NewClient(address, c.log)
	if err != nil {
		return err
	}
	conn.OnMessage = c.handleMessage

	c.mu.Lock()
	c.conn = conn
	c.hbStop = make(chan struct{})
	c.mu.Unlock()

	m, err := api.New(api.Auth, c.auth)
	if err != nil {
		c.Close()
		return err
	}
	data, err := m.Encode()
	if err != nil {
		c.Close()
		return err
	}
	if err := conn.WriteNow(data); err != nil {
		c.Close()
		return err
	}
	c.log.Info().Msgf("signaling connected to %v", address.String())
	return nil
}

// Start begins inbound dispatch, the heartbeat and the closure watch.
func (c *Client) Start() {
	c.mu.Lock()
	conn, hbStop := c.conn, c.hbStop
	c.mu.Unlock()
	if conn == nil {
		return
	}
	conn.Listen()
	go c.heartbeat(conn, hbStop)
	go c.watch(conn)
}

// Alive reports whether the signaling socket is usable as a transport.
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

func (c *Client) Send(m *api.Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	ok := conn != nil && !c.closed
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	conn.Write(data)
	return nil
}

func (c *Client) send(t api.PT, payload any) error {
	m, err := api.New(t, payload)
	if err != nil {
		return err
	}
	return c.Send(m)
}

// Close stops the heartbeat and shuts the socket down. Safe to call twice.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn, hbStop := c.conn, c.hbStop
	c.mu.Unlock()
	if hbStop != nil {
		close(hbStop)
	}
	if conn != nil {
		conn.Close()
	}
	c.log.Debug().Msg("signaling closed")
}

func (c *Client) handleMessage(message []byte, err error) {
	if err != nil {
		c.log.Error().Err(err).Msg("signaling read fail")
		return
	}
	m, err := api.Parse(message)
	if err != nil {
		c.log.Warn().Err(err).Msgf("dropped malformed frame: %.128s", message)
		return
	}
	if m.T == api.HeartbeatAck {
		return
	}
	if c.OnMessage != nil {
		c.OnMessage(m)
	}
}

func (c *Client) heartbeat(conn *websocket.WS, stop chan struct{}) {
	ticker := time.NewTicker(c.conf.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.send(api.Heartbeat, nil); err != nil {
				return
			}
		case <-stop:
			return
		case <-conn.Done:
			return
		}
	}
}

// watch reports the socket closure unless a live peer channel makes
// signaling redundant or the closure was requested locally.
func (c *Client) watch(conn *websocket.WS) {
	<-conn.Done
	c.mu.Lock()
	requested := c.closed
	c.mu.Unlock()
	if requested {
		return
	}
	if c.PeerAlive != nil && c.PeerAlive() {
		c.log.Debug().Msg("signaling lost, peer channel is up, ignoring")
		return
	}
	if c.OnDisconnect != nil {
		c.OnDisconnect()
	}
}
