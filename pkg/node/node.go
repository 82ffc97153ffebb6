package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/protocol"
	"github.com/latoulicious/tarulink/pkg/rest"
)

const closeTimeout = 5 * time.Second

// State of a node's connection
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReady
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// socket is one connection attempt. It is "open" once the handshake succeeded.
type socket struct {
	conn       *websocket.Conn
	open       bool
	terminated bool
	cancel     context.CancelFunc
	dialDone   chan struct{}
	done       chan struct{}
}

// Node is a connection to one Lavalink server
type Node struct {
	name     string
	clientID string

	rest     *rest.Client
	listener Listener
	logger   logging.Logger

	socketURL      string
	statsInterval  time.Duration
	highestLatency time.Duration
	reconnectDelay time.Duration
	reconnectLimit int

	mu               sync.Mutex
	headers          http.Header
	handshakeTimeout time.Duration
	sock             *socket
	pingTimer        *time.Timer
	reconnectTimer   *time.Timer
	disconnecting    chan struct{}
	stats            *protocol.Stats
	ping             time.Duration
	lastPing         time.Time
	sessionID        string
	manual           bool
	reconnectInit    bool
	attempts         int
}

// New creates a node. It does not connect.
func New(opts Options, listener Listener) (*Node, error) {
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if listener == nil {
		listener = NopListener{}
	}

	client, err := rest.New(opts.Options)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", opts.Password)
	headers.Set("User-Id", opts.ClientID)
	headers.Set("Client-Name", opts.ClientName)
	headers.Set("User-Agent", opts.UserAgent)
	if opts.SessionID != "" {
		headers.Set("Session-Id", opts.SessionID)
	}
	// the REST session only exists once the node is ready
	client.SetSessionID("")

	return &Node{
		name:             opts.Name,
		clientID:         opts.ClientID,
		rest:             client,
		listener:         listener,
		logger:           opts.Logger.With(logging.String("component", "node"), logging.String("node", opts.Name)),
		socketURL:        client.WebsocketURL(),
		statsInterval:    opts.StatsInterval,
		highestLatency:   opts.HighestLatency,
		reconnectDelay:   opts.ReconnectDelay,
		reconnectLimit:   opts.ReconnectLimit,
		headers:          headers,
		handshakeTimeout: opts.HandshakeTimeout,
		ping:             -1,
	}, nil
}

func (n *Node) Name() string       { return n.name }
func (n *Node) ClientID() string   { return n.clientID }
func (n *Node) Rest() *rest.Client { return n.rest }
func (n *Node) String() string     { return n.name }

func (n *Node) SessionID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessionID
}

// Ping returns the last measured round trip, ok is false until a pong arrived
func (n *Node) Ping() (time.Duration, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ping, n.ping >= 0
}

// Stats returns a copy of the last stats frame, nil if none arrived on this connection
func (n *Node) Stats() *protocol.Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stats == nil {
		return nil
	}
	s := *n.stats
	if s.FrameStats != nil {
		fs := *s.FrameStats
		s.FrameStats = &fs
	}
	return &s
}

// ReconnectAttempts counts reconnect dials since the last ready frame
func (n *Node) ReconnectAttempts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attempts
}

// HandshakeTimeout bounds the WebSocket upgrade of each dial
func (n *Node) HandshakeTimeout() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.handshakeTimeout
}

// SetHandshakeTimeout applies to the next connection attempt, non-positive values are ignored
func (n *Node) SetHandshakeTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	n.mu.Lock()
	n.handshakeTimeout = d
	n.mu.Unlock()
}

// State is derived from the socket and the reconnect timer
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stateLocked()
}

func (n *Node) stateLocked() State {
	switch {
	case n.sock != nil && !n.sock.open:
		return StateConnecting
	case n.sock != nil && n.sessionID != "":
		return StateReady
	case n.sock != nil:
		return StateConnected
	case n.reconnectTimer != nil:
		return StateReconnecting
	default:
		return StateDisconnected
	}
}

// Connecting is true while a dial or handshake is in flight
func (n *Node) Connecting() bool { return n.State() == StateConnecting }

// Ready is true once the node sent its ready frame on the current socket
func (n *Node) Ready() bool { return n.State() == StateReady }

// Reconnecting is true while the socket is gone and a delayed retry is armed
func (n *Node) Reconnecting() bool { return n.State() == StateReconnecting }

// Disconnected is true when there is no socket and no retry pending
func (n *Node) Disconnected() bool { return n.State() == StateDisconnected }

// Connected is true for an open socket, ready or not
func (n *Node) Connected() bool {
	s := n.State()
	return s == StateConnected || s == StateReady
}

// Connect opens a session with the node and reports whether the handshake succeeded.
// A call while a handshake is in flight waits for that handshake.
func (n *Node) Connect(ctx context.Context) bool {
	n.mu.Lock()
	if s := n.sock; s != nil {
		n.mu.Unlock()
		select {
		case <-s.dialDone:
		case <-ctx.Done():
		}
		return n.Connected()
	}
	if n.stateLocked() == StateReconnecting {
		n.attempts++
		if !n.reconnectInit {
			n.stopReconnectingLocked(true)
		}
	}

	dialCtx, cancel := context.WithCancel(ctx)
	s := &socket{cancel: cancel, dialDone: make(chan struct{}), done: make(chan struct{})}
	n.sock = s
	headers := n.headers.Clone()
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: n.handshakeTimeout,
	}
	n.mu.Unlock()

	conn, res, err := dialer.DialContext(dialCtx, n.socketURL, headers)
	cancel()
	if res != nil && res.Body != nil {
		res.Body.Close()
	}

	if err != nil {
		close(s.dialDone)
		n.listener.OnError(n, fmt.Errorf("node %s: %w", n.name, err))
		n.handleClose(s, websocket.CloseAbnormalClosure, "")
		return false
	}

	n.mu.Lock()
	if s.terminated {
		n.mu.Unlock()
		conn.Close()
		close(s.dialDone)
		n.handleClose(s, websocket.CloseAbnormalClosure, "")
		return false
	}
	s.conn = conn
	s.open = true
	attempts := n.attempts
	n.mu.Unlock()
	close(s.dialDone)

	conn.SetPongHandler(func(string) error {
		n.mu.Lock()
		if n.sock == s && !n.lastPing.IsZero() {
			n.ping = max(0, time.Since(n.lastPing))
		}
		n.mu.Unlock()
		return nil
	})

	n.logger.Debug("Connected", logging.Int("reconnects", attempts))
	n.listener.OnConnect(n, attempts)
	go n.readLoop(s)
	return true
}

// Disconnect closes the connection and stops reconnecting. It waits for the
// close handshake unless the socket was still connecting.
func (n *Node) Disconnect(ctx context.Context, reason string) {
	if reason == "" {
		reason = "disconnected"
	}

	n.mu.Lock()
	if ch := n.disconnecting; ch != nil {
		n.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
		}
		return
	}
	n.stopReconnectingLocked(false)
	s := n.sock
	if s == nil {
		n.mu.Unlock()
		return
	}
	n.manual = true
	if !s.open {
		s.terminated = true
		s.cancel()
		n.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	n.disconnecting = ch
	n.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		s.conn.Close()
	}

	timer := time.NewTimer(closeTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-ctx.Done():
		s.conn.Close()
		<-s.done
	case <-timer.C:
		s.conn.Close()
		<-s.done
	}

	n.mu.Lock()
	n.disconnecting = nil
	n.mu.Unlock()
	close(ch)
}

func (n *Node) readLoop(s *socket) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.conn.Close()
			code, reason := websocket.CloseAbnormalClosure, ""
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code, reason = closeErr.Code, closeErr.Text
			} else if n.current(s) {
				n.listener.OnError(n, fmt.Errorf("node %s: %w", n.name, err))
			}
			n.handleClose(s, code, reason)
			return
		}
		n.handleMessage(s, data)
	}
}

func (n *Node) current(s *socket) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sock == s
}

func (n *Node) handleMessage(s *socket, data []byte) {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		n.logger.Debug("Dropping malformed frame", logging.Error(err))
		return
	}

	switch m := msg.(type) {
	case *protocol.StatsMessage:
		n.mu.Lock()
		if n.sock != s {
			n.mu.Unlock()
			return
		}
		stats := m.Stats
		n.stats = &stats
		n.keepAliveLocked(s)
		n.mu.Unlock()
	case *protocol.Ready:
		n.mu.Lock()
		if n.sock != s {
			n.mu.Unlock()
			return
		}
		n.stopReconnectingLocked(false)
		n.sessionID = m.SessionID
		n.headers.Set("Session-Id", m.SessionID)
		n.mu.Unlock()
		n.rest.SetSessionID(m.SessionID)
		n.logger.Info("Ready", logging.String("session_id", m.SessionID), logging.Bool("resumed", m.Resumed))
		n.listener.OnReady(n, m.Resumed, m.SessionID)
	}

	n.listener.OnDispatch(n, msg)
}

// keepAliveLocked re-arms the zombie timer and pings the node
func (n *Node) keepAliveLocked(s *socket) {
	window := n.statsInterval + n.highestLatency
	if n.pingTimer != nil {
		n.pingTimer.Reset(window)
	} else {
		n.pingTimer = time.AfterFunc(window, func() { n.zombie(s) })
	}
	n.lastPing = time.Now()
	if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(n.highestLatency)); err != nil {
		n.logger.Debug("Ping failed", logging.Error(err))
	}
}

// zombie tears down a socket that missed its keepalive window. It emits no close
// event, so listeners see the node again only on the delayed reconnect.
func (n *Node) zombie(s *socket) {
	n.mu.Lock()
	if n.sock != s {
		n.mu.Unlock()
		return
	}
	n.cleanupLocked()
	n.mu.Unlock()

	n.logger.Warn("No stats within keepalive window, terminating")
	s.conn.Close()
	n.rest.DropSessionRequests(fmt.Sprintf("Connection to node '%s' was zombie", n.name))

	n.mu.Lock()
	n.scheduleReconnectLocked()
	n.mu.Unlock()
}

// handleClose runs once per socket. Manual closes and an exhausted limit end in a
// disconnect, anything else reconnects.
func (n *Node) handleClose(s *socket, code int, reason string) {
	defer close(s.done)

	n.mu.Lock()
	if n.sock != s {
		n.mu.Unlock()
		return
	}
	n.cleanupLocked()
	n.mu.Unlock()
	n.rest.SetSessionID("")
	n.rest.DropSessionRequests(fmt.Sprintf("Connection to node '%s' closed", n.name))

	n.mu.Lock()
	switch {
	case n.manual || n.reconnectLimit >= 0 && n.attempts >= n.reconnectLimit:
		n.stopReconnectingLocked(false)
		n.headers.Del("Session-Id")
		byLocal := n.manual
		n.manual = false
		n.mu.Unlock()
		n.logger.Info("Disconnected",
			logging.Int("code", code),
			logging.String("reason", reason),
			logging.Bool("by_local", byLocal))
		n.listener.OnDisconnect(n, code, reason, byLocal)
	case n.reconnectInit:
		n.scheduleReconnectLocked()
		n.mu.Unlock()
		n.logger.Warn("Closed, reconnecting",
			logging.Int("code", code),
			logging.String("reason", reason),
			logging.Duration("delay", n.reconnectDelay))
		n.listener.OnClose(n, code, reason)
	default:
		// The first unexpected close retries at once, counted like a delayed attempt
		n.attempts++
		n.reconnectInit = true
		n.mu.Unlock()
		go n.Connect(context.Background())
	}
}

func (n *Node) cleanupLocked() {
	if n.pingTimer != nil {
		n.pingTimer.Stop()
		n.pingTimer = nil
	}
	n.sock = nil
	n.stats = nil
	n.sessionID = ""
	n.lastPing = time.Time{}
	n.ping = -1
}

func (n *Node) scheduleReconnectLocked() {
	n.reconnectInit = false
	if n.reconnectTimer != nil {
		n.reconnectTimer.Reset(n.reconnectDelay)
		return
	}
	var t *time.Timer
	t = time.AfterFunc(n.reconnectDelay, func() {
		n.mu.Lock()
		if n.reconnectTimer != t {
			n.mu.Unlock()
			return
		}
		n.reconnectInit = true
		n.mu.Unlock()
		n.Connect(context.Background())
	})
	n.reconnectTimer = t
}

// stopReconnectingLocked stops the reconnect timer and clears the retry state,
// the attempt count survives when keepCount is set
func (n *Node) stopReconnectingLocked(keepCount bool) {
	if n.reconnectTimer != nil {
		n.reconnectTimer.Stop()
		n.reconnectTimer = nil
	}
	n.reconnectInit = false
	if !keepCount {
		n.attempts = 0
	}
}
