package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"HouseholdTelemetryAPI/internal/logger"

	"github.com/gorilla/websocket"
)

// Close codes re-exported so callers don't need to import gorilla directly.
const (
	CloseNormalClosure   = websocket.CloseNormalClosure
	CloseGoingAway       = websocket.CloseGoingAway
	ClosePolicyViolation = websocket.ClosePolicyViolation
)

type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateDisconnected
	StateError
)

var stateNames = [...]string{"CONNECTING", "CONNECTED", "RECONNECTING", "DISCONNECTED", "ERROR"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transport is the subset of *websocket.Conn a Connection drives.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens outbound transports.
type Dialer interface {
	Dial(ctx context.Context, address string) (Transport, error)
}

// GorillaDialer dials with a gorilla websocket.Dialer.
type GorillaDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d GorillaDialer) Dial(ctx context.Context, address string) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, address, d.Header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Options struct {
	AutoReconnect        bool
	MaxReconnectAttempts int // <= 0 retries forever
	InitialDelay         time.Duration
	Multiplier           float64
	MaxDelay             time.Duration
	HeartbeatInterval    time.Duration // 0 disables pings
	HeartbeatTimeout     time.Duration
	QueueMessages        bool
	MaxQueueSize         int
	WriteWait            time.Duration
	ConnectTimeout       time.Duration
}

func DefaultOptions() Options {
	return Options{
		AutoReconnect:        true,
		MaxReconnectAttempts: 10,
		InitialDelay:         time.Second,
		Multiplier:           1.5,
		MaxDelay:             30 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     5 * time.Second,
		QueueMessages:        true,
		MaxQueueSize:         1000,
		WriteWait:            10 * time.Second,
		ConnectTimeout:       10 * time.Second,
	}
}

// BackoffDelay returns min(initial * multiplier^(attempt-1), maxDelay).
func BackoffDelay(attempt int, initial, maxDelay time.Duration, multiplier float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(d)
}

type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
	EventMessage      EventType = "message"
)

type Event struct {
	Type         EventType
	ConnectionID string
	Data         []byte
	Err          error
	Code         int
	Reconnecting bool
}

type EventHandler func(conn *Connection, ev Event)

type Info struct {
	ID                string        `json:"id"`
	Address           string        `json:"address,omitempty"`
	State             State         `json:"state"`
	QueueDepth        int           `json:"queue_depth"`
	ReconnectAttempts int           `json:"reconnect_attempts"`
	CurrentBackoff    time.Duration `json:"current_backoff"`
	LastHeartbeatAck  time.Time     `json:"last_heartbeat_ack"`
	ConnectedAt       time.Time     `json:"connected_at"`
}

// session is one attached transport. It lives until the transport drops
// or the connection is closed; a reconnect creates a new session.
type session struct {
	t         Transport
	done      chan struct{}
	wake      chan struct{}
	once      sync.Once
	pongTimer *time.Timer // guarded by Connection.mu
}

func newSession(t Transport) *session {
	return &session{
		t:    t,
		done: make(chan struct{}),
		wake: make(chan struct{}, 1),
	}
}

func (s *session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// stopLocked ends the session's pumps. Caller holds Connection.mu.
func (s *session) stopLocked() {
	s.once.Do(func() { close(s.done) })
	if s.pongTimer != nil {
		s.pongTimer.Stop()
		s.pongTimer = nil
	}
}

// Connection is one managed socket with reconnect, heartbeat and an
// outbound FIFO queue. All methods are safe for concurrent use.
type Connection struct {
	id     string
	opts   Options
	dialer Dialer
	log    *logger.Logger
	now    func() time.Time

	writeMu sync.Mutex

	mu                sync.Mutex
	address           string
	state             State
	session           *session
	queue             [][]byte
	reconnectAttempts int
	currentBackoff    time.Duration
	lastHeartbeatAck  time.Time
	connectedAt       time.Time
	reconnectTimer    *time.Timer
	autoReconnect     bool
	closed            bool

	handlersMu sync.RWMutex
	handlers   []EventHandler
}

func NewConnection(id string, dialer Dialer, opts Options, log *logger.Logger) *Connection {
	if log == nil {
		log = logger.Nop()
	}
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = DefaultOptions().MaxQueueSize
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = 1
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultOptions().WriteWait
	}
	return &Connection{
		id:             id,
		opts:           opts,
		dialer:         dialer,
		log:            log,
		now:            time.Now,
		state:          StateConnecting,
		currentBackoff: opts.InitialDelay,
		autoReconnect:  opts.AutoReconnect,
	}
}

func (c *Connection) ID() string {
	return c.id
}

// OnEvent registers a lifecycle handler. Handlers run synchronously on the
// goroutine that observed the transition; a panicking handler is logged.
func (c *Connection) OnEvent(h EventHandler) {
	c.handlersMu.Lock()
	c.handlers = append(c.handlers, h)
	c.handlersMu.Unlock()
}

// Connect dials address and returns once the handshake completes. On
// failure the connection enters ERROR and, if enabled, the reconnect path.
func (c *Connection) Connect(ctx context.Context, address string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if c.dialer == nil {
		c.mu.Unlock()
		return fmt.Errorf("connect %s: no dialer configured", address)
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.address = address
	c.state = StateConnecting
	c.mu.Unlock()

	if c.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ConnectTimeout)
		defer cancel()
	}

	t, err := c.dialer.Dial(ctx, address)
	if err != nil {
		c.fail(err)
		return fmt.Errorf("connect %s: %w", address, err)
	}

	if !c.attach(t) {
		_ = t.Close()
		return ErrConnectionClosed
	}
	return nil
}

// Attach adopts an already-open transport, e.g. one accepted by an HTTP
// upgrade. Without an address the connection never reconnects.
func (c *Connection) Attach(t Transport) error {
	if !c.attach(t) {
		return ErrConnectionClosed
	}
	return nil
}

func (c *Connection) attach(t Transport) bool {
	s := newSession(t)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	old := c.session
	if old != nil {
		old.stopLocked()
	}
	c.session = s
	c.state = StateConnected
	c.reconnectAttempts = 0
	c.currentBackoff = c.opts.InitialDelay
	c.lastHeartbeatAck = c.now()
	c.connectedAt = c.lastHeartbeatAck
	c.mu.Unlock()

	if old != nil {
		_ = old.t.Close()
	}

	t.SetPongHandler(func(string) error {
		c.handlePong(s)
		return nil
	})

	go c.writePump(s)
	s.signal()

	c.log.Debug("Connection %s connected", c.id)
	// connected handlers finish before the first inbound frame is dispatched
	c.emit(Event{Type: EventConnected})
	go c.readLoop(s)
	return true
}

func (c *Connection) readLoop(s *session) {
	for {
		mt, data, err := s.t.ReadMessage()
		if err != nil {
			c.handleDisconnect(s, err)
			return
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			c.emit(Event{Type: EventMessage, Data: data})
		}
	}
}

// writePump drains the queue in FIFO order and sends heartbeat pings.
func (c *Connection) writePump(s *session) {
	var tick <-chan time.Time
	if c.opts.HeartbeatInterval > 0 {
		ticker := time.NewTicker(c.opts.HeartbeatInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			if err := c.flush(s); err != nil {
				c.handleDisconnect(s, err)
				return
			}
		case <-tick:
			if err := c.ping(s); err != nil {
				c.handleDisconnect(s, err)
				return
			}
		}
	}
}

// flush writes queued payloads until the queue is empty. A payload is
// popped only after its write succeeds, so a failure leaves it queued.
// writeMu keeps one head write in flight across sessions, so a payload
// written on a session that was replaced mid-write is not sent again.
func (c *Connection) flush(s *session) error {
	for {
		sent, err := c.writeHead(s)
		if err != nil || !sent {
			return err
		}
	}
}

func (c *Connection) writeHead(s *session) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.session != s || len(c.queue) == 0 {
		c.mu.Unlock()
		return false, nil
	}
	msg := c.queue[0]
	c.mu.Unlock()

	_ = s.t.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := s.t.WriteMessage(websocket.TextMessage, msg); err != nil {
		return false, err
	}

	c.mu.Lock()
	if len(c.queue) > 0 {
		c.queue[0] = nil
		c.queue = c.queue[1:]
	}
	c.mu.Unlock()
	return true, nil
}

func (c *Connection) ping(s *session) error {
	if err := s.t.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}

	c.mu.Lock()
	// an unanswered ping keeps its original deadline
	if c.session == s && s.pongTimer == nil && c.opts.HeartbeatTimeout > 0 {
		s.pongTimer = time.AfterFunc(c.opts.HeartbeatTimeout, func() {
			c.log.Warn("Connection %s missed heartbeat, closing", c.id)
			c.handleDisconnect(s, ErrHeartbeatTimeout)
		})
	}
	c.mu.Unlock()
	return nil
}

func (c *Connection) handlePong(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.pongTimer != nil {
		s.pongTimer.Stop()
		s.pongTimer = nil
	}
	if c.session == s {
		c.lastHeartbeatAck = c.now()
	}
}

// handleDisconnect tears down s if it is still current and starts the
// reconnect path. Late calls from stale sessions are ignored.
func (c *Connection) handleDisconnect(s *session, cause error) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	c.session = nil
	s.stopLocked()

	next := StateError
	var closeErr *websocket.CloseError
	if errors.As(cause, &closeErr) || errors.Is(cause, ErrHeartbeatTimeout) {
		next = StateDisconnected
	}
	c.state = next

	reconnecting, exhausted := false, false
	if c.autoReconnect && c.address != "" {
		reconnecting = c.scheduleReconnectLocked()
		exhausted = !reconnecting
	}
	c.mu.Unlock()

	_ = s.t.Close()

	code := 0
	if closeErr != nil {
		code = closeErr.Code
	}
	if next == StateError {
		c.log.Warn("Connection %s transport error: %v", c.id, cause)
		c.emit(Event{Type: EventError, Err: cause})
	}
	c.emit(Event{Type: EventDisconnected, Err: cause, Code: code, Reconnecting: reconnecting})
	if exhausted {
		c.log.Error("Connection %s gave up reconnecting", c.id)
		c.emit(Event{Type: EventError, Err: ErrReconnectExhausted})
	}
}

// fail handles a failed dial.
func (c *Connection) fail(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateError
	exhausted := false
	if c.autoReconnect {
		exhausted = !c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	c.log.Warn("Connection %s failed to connect: %v", c.id, cause)
	c.emit(Event{Type: EventError, Err: cause})
	if exhausted {
		c.log.Error("Connection %s gave up reconnecting", c.id)
		c.emit(Event{Type: EventError, Err: ErrReconnectExhausted})
	}
}

// scheduleReconnectLocked arms the backoff timer and reports whether an
// attempt was scheduled. Caller holds c.mu.
func (c *Connection) scheduleReconnectLocked() bool {
	c.reconnectAttempts++
	if c.opts.MaxReconnectAttempts > 0 && c.reconnectAttempts > c.opts.MaxReconnectAttempts {
		c.state = StateError
		c.autoReconnect = false
		return false
	}

	delay := BackoffDelay(c.reconnectAttempts, c.opts.InitialDelay, c.opts.MaxDelay, c.opts.Multiplier)
	c.currentBackoff = delay
	c.state = StateReconnecting
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(delay, c.reconnect)
	c.log.Info("Connection %s reconnecting in %s (attempt %d)", c.id, delay, c.reconnectAttempts)
	return true
}

func (c *Connection) reconnect() {
	c.mu.Lock()
	if c.closed || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	address := c.address
	c.mu.Unlock()

	_ = c.Connect(context.Background(), address)
}

// Send transmits payload, queueing it while disconnected. It returns
// ErrQueueFull when the queue is at capacity.
func (c *Connection) Send(payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	connected := c.state == StateConnected
	if !connected && !c.opts.QueueMessages {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if len(c.queue) >= c.opts.MaxQueueSize {
		c.mu.Unlock()
		return ErrQueueFull
	}
	c.queue = append(c.queue, payload)
	s := c.session
	c.mu.Unlock()

	if connected && s != nil {
		s.signal()
	}
	return nil
}

func (c *Connection) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.Send(data)
}

// Close sends a close frame, disables auto-reconnect and releases timers.
// Calling it again is a no-op.
func (c *Connection) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.autoReconnect = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	s := c.session
	c.session = nil
	if s != nil {
		s.stopLocked()
	}
	c.state = StateDisconnected
	c.queue = nil
	c.mu.Unlock()

	if s != nil {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.t.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
		_ = s.t.Close()
	}

	c.log.Debug("Connection %s closed (%d %s)", c.id, code, reason)
	c.emit(Event{Type: EventDisconnected, Code: code})
	return nil
}

func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

func (c *Connection) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) LastHeartbeatAck() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeatAck
}

func (c *Connection) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		ID:                c.id,
		Address:           c.address,
		State:             c.state,
		QueueDepth:        len(c.queue),
		ReconnectAttempts: c.reconnectAttempts,
		CurrentBackoff:    c.currentBackoff,
		LastHeartbeatAck:  c.lastHeartbeatAck,
		ConnectedAt:       c.connectedAt,
	}
}

func (c *Connection) emit(ev Event) {
	ev.ConnectionID = c.id

	c.handlersMu.RLock()
	handlers := make([]EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		c.dispatch(h, ev)
	}
}

func (c *Connection) dispatch(h EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Connection %s %s handler panicked: %v", c.id, ev.Type, r)
		}
	}()
	h(c, ev)
}
