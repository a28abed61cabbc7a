package websocket

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/flowpilot/assist/pkg/logger"
	"github.com/flowpilot/assist/pkg/network"
	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 64 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second
)

type WS struct {
	id   network.Uid
	conn deadlinedConn
	send chan []byte
	log  *logger.Logger

	OnMessage MessageHandler

	pingPong  bool
	listening bool

	shutdown sync.WaitGroup
	closed   sync.Once
	stop     chan struct{}
	Done     chan struct{}
}

type MessageHandler func(message []byte, err error)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	WriteBufferPool: &sync.Pool{},
}

// NewServer upgrades an incoming HTTP request to a websocket connection.
// Server sockets ping their peers to track liveness.
func NewServer(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*WS, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, true, log), nil
}

func NewClient(address url.URL, log *logger.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address.String(), nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false, log), nil
}

func newSocket(conn *websocket.Conn, pingPong bool, log *logger.Logger) *WS {
	ws := &WS{
		id:       network.NewUid(),
		conn:     deadlinedConn{sock: conn, wt: writeWait},
		send:     make(chan []byte),
		pingPong: pingPong,
		log:      log,
		stop:     make(chan struct{}),
		Done:     make(chan struct{}),
	}
	ws.shutdown.Add(2)
	return ws
}

func (ws *WS) Id() network.Uid { return ws.id }

// Listen starts the read and write pumps. All reads and writes are
// serialized through them, callers only touch Write and OnMessage.
func (ws *WS) Listen() {
	ws.listening = true
	go ws.writer()
	go ws.reader()
}

// Write queues a message for sending. Messages are dropped silently once
// the socket is shutting down.
func (ws *WS) Write(data []byte) {
	select {
	case ws.send <- data:
	case <-ws.stop:
	}
}

// WriteNow writes a message straight to the connection. Only usable before
// Listen, once the pumps run all writes go through Write.
func (ws *WS) WriteNow(data []byte) error {
	return ws.conn.write(websocket.TextMessage, data)
}

func (ws *WS) Close() { ws.close() }

// reader pumps messages from the websocket connection to the OnMessage
// callback. Blocking, must be called as goroutine.
func (ws *WS) reader() {
	defer func() {
		ws.shutdown.Done()
		ws.close()
	}()
	ws.conn.setup(func(conn *websocket.Conn) {
		conn.SetReadLimit(maxMessageSize)
		if ws.pingPong {
			_ = conn.SetReadDeadline(time.Now().Add(pongTime))
			conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(pongTime)); return nil })
		}
	})
	for {
		message, err := ws.conn.read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				ws.log.Error().Err(err).Msgf("%v [ws] read fail", ws.id.Short())
			}
			break
		}
		if ws.OnMessage != nil {
			ws.OnMessage(message, err)
		}
	}
}

// writer pumps messages from the send channel to the websocket connection.
// Blocking, must be called as goroutine.
func (ws *WS) writer() {
	var ticker *time.Ticker
	if ws.pingPong {
		ticker = time.NewTicker(pingTime)
		defer ticker.Stop()
	} else {
		ticker = time.NewTicker(time.Hour)
		ticker.Stop()
	}
	defer func() {
		ws.shutdown.Done()
		ws.close()
	}()
	for {
		select {
		case message := <-ws.send:
			if err := ws.conn.write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.conn.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ws.stop:
			_ = ws.conn.write(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// close runs once, from Close or from whichever pump exits first. Closing
// stop drains the writer, closing the underlying connection unblocks the
// reader, Done fires after both pumps have stopped. A socket closed before
// Listen has no pumps to wait for.
func (ws *WS) close() {
	ws.closed.Do(func() {
		close(ws.stop)
		_ = ws.conn.close()
		if !ws.listening {
			close(ws.Done)
			return
		}
		go func() {
			ws.shutdown.Wait()
			close(ws.Done)
		}()
	})
}
