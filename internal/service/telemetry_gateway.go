package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"HouseholdTelemetryAPI/internal/logger"
	"HouseholdTelemetryAPI/internal/models"
	"HouseholdTelemetryAPI/internal/websocket"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
)

type GatewayConfig struct {
	MaxMessageSize int64
	SweepInterval  time.Duration
	IdleTimeout    time.Duration
	Connection     websocket.Options
}

func DefaultGatewayConfig() GatewayConfig {
	opts := websocket.DefaultOptions()
	opts.AutoReconnect = false
	return GatewayConfig{
		MaxMessageSize: 4096,
		SweepInterval:  time.Minute,
		IdleTimeout:    5 * time.Minute,
		Connection:     opts,
	}
}

type clientState struct {
	conn           *websocket.Connection
	subscriptionID string
	categories     []models.Category
	connectedAt    time.Time
	lastActivity   time.Time
}

type ClientInfo struct {
	ID           string            `json:"id"`
	Categories   []models.Category `json:"categories"`
	ConnectedAt  time.Time         `json:"connected_at"`
	LastActivity time.Time         `json:"last_activity"`
	Connection   websocket.Info    `json:"connection"`
}

// TelemetryGateway bridges pooled websocket clients and the sampler. Each
// client holds exactly one sampler subscription filtered by category.
type TelemetryGateway struct {
	sampler  *MetricsSampler
	pool     *websocket.Pool
	cfg      GatewayConfig
	upgrader gorilla.Upgrader
	instr    *Instrumentation
	log      *logger.Logger
	now      func() time.Time

	mu      sync.RWMutex
	clients map[string]*clientState

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewTelemetryGateway(sampler *MetricsSampler, pool *websocket.Pool, cfg GatewayConfig, instr *Instrumentation, log *logger.Logger) *TelemetryGateway {
	if log == nil {
		log = logger.Nop()
	}
	cfg.Connection.AutoReconnect = false
	return &TelemetryGateway{
		sampler: sampler,
		pool:    pool,
		cfg:     cfg,
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		instr:   instr,
		log:     log,
		now:     time.Now,
		clients: make(map[string]*clientState),
	}
}

// Start runs the idle sweep until Stop is called. Starting a running
// gateway is a no-op.
func (g *TelemetryGateway) Start() {
	if g.cfg.SweepInterval <= 0 || g.cfg.IdleTimeout <= 0 {
		return
	}
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()
	if g.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(g.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := g.SweepIdle(g.now()); n > 0 {
					g.log.Info("Disconnected %d idle telemetry clients", n)
				}
			}
		}
	}()
	g.log.Info("Telemetry gateway started")
}

func (g *TelemetryGateway) Stop() {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()
	if g.cancel != nil {
		g.cancel()
		g.wg.Wait()
		g.cancel = nil
	}
	g.log.Info("Telemetry gateway stopped")
}

// ServeWS upgrades the request and registers the socket with the pool.
func (g *TelemetryGateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Error("WS Upgrade Error: %v", err)
		return
	}
	if g.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(g.cfg.MaxMessageSize)
	}
	// the HTTP server's read timeout must not apply to the hijacked socket
	_ = conn.SetReadDeadline(time.Time{})

	id := uuid.NewString()
	if _, err := g.pool.Attach(id, conn, g.cfg.Connection, g.HandleEvent); err != nil {
		g.log.Warn("Rejecting telemetry client from %s: %v", r.RemoteAddr, err)
		msg := gorilla.FormatCloseMessage(gorilla.CloseTryAgainLater, "server at capacity")
		_ = conn.WriteControl(gorilla.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// HandleEvent wires connection lifecycle events into the gateway.
func (g *TelemetryGateway) HandleEvent(conn *websocket.Connection, ev websocket.Event) {
	switch ev.Type {
	case websocket.EventConnected:
		g.OnConnect(conn)
	case websocket.EventMessage:
		g.touch(conn)
		g.HandleMessage(conn, ev.Data)
	case websocket.EventDisconnected:
		g.OnDisconnect(conn)
		g.pool.Evict(conn)
	case websocket.EventError:
		g.log.Warn("Telemetry client %s error: %v", conn.ID(), ev.Err)
	}
}

// OnConnect pushes a full snapshot and subscribes the client to every category.
func (g *TelemetryGateway) OnConnect(conn *websocket.Connection) {
	now := g.now()
	st := &clientState{conn: conn, connectedAt: now, lastActivity: now}

	g.mu.Lock()
	prior := g.clients[conn.ID()]
	g.clients[conn.ID()] = st
	total := len(g.clients)
	g.mu.Unlock()

	if prior != nil && prior.subscriptionID != "" {
		g.sampler.Unsubscribe(prior.subscriptionID)
	}
	g.instr.setActiveClients(total)

	g.send(conn, Envelope{Type: MessageSnapshot, Data: g.sampler.Snapshot()})
	g.subscribe(conn, nil)
	g.log.Info("Telemetry client %s connected. Total: %d", conn.ID(), total)
}

func (g *TelemetryGateway) OnDisconnect(conn *websocket.Connection) {
	g.mu.Lock()
	st, ok := g.clients[conn.ID()]
	if !ok || st.conn != conn {
		g.mu.Unlock()
		return
	}
	delete(g.clients, conn.ID())
	subID := st.subscriptionID
	total := len(g.clients)
	g.mu.Unlock()

	if subID != "" {
		g.sampler.Unsubscribe(subID)
	}
	g.instr.setActiveClients(total)
	g.log.Info("Telemetry client %s disconnected. Total: %d", conn.ID(), total)
}

// subscribe replaces the client's subscription. It reports false when the
// client is no longer registered.
func (g *TelemetryGateway) subscribe(conn *websocket.Connection, categories []models.Category) bool {
	filter := make(map[models.Category]struct{}, len(categories))
	for _, cat := range categories {
		filter[cat] = struct{}{}
	}

	subID := g.sampler.Subscribe(func(u MetricUpdate) {
		if len(filter) > 0 {
			if _, ok := filter[u.Category]; !ok {
				return
			}
		}
		g.send(conn, Envelope{Type: MessageUpdate, Data: u})
	})

	g.mu.Lock()
	st, ok := g.clients[conn.ID()]
	if !ok || st.conn != conn {
		g.mu.Unlock()
		g.sampler.Unsubscribe(subID)
		return false
	}
	old := st.subscriptionID
	st.subscriptionID = subID
	st.categories = categories
	g.mu.Unlock()

	if old != "" {
		g.sampler.Unsubscribe(old)
	}
	return true
}

// HandleMessage decodes and answers one inbound frame. Bad frames are
// logged and dropped; the connection stays open.
func (g *TelemetryGateway) HandleMessage(conn *websocket.Connection, raw []byte) {
	msg, err := DecodeInbound(raw)
	if err != nil {
		g.instr.inbound("invalid")
		g.log.Warn("Discarding message from %s: %v", conn.ID(), err)
		return
	}
	g.instr.inbound(msg.inboundType())

	switch m := msg.(type) {
	case SubscribeRequest:
		metrics := m.Metrics
		if metrics == nil {
			metrics = []models.Category{}
		}
		if g.subscribe(conn, metrics) {
			g.send(conn, Envelope{Type: MessageSubscribed, Data: map[string]interface{}{"metrics": metrics}})
		}
	case SnapshotRequest:
		g.send(conn, Envelope{Type: MessageSnapshot, Data: g.sampler.Snapshot()})
	case HistoryRequest:
		g.send(conn, Envelope{Type: MessageHistory, Data: g.history(m)})
	}
}

// history filters the event log by age. Other metric types return the
// current payload regardless of the requested window.
func (g *TelemetryGateway) history(req HistoryRequest) interface{} {
	cat := models.Category(req.MetricType)
	if cat == models.CategoryEvents {
		return g.sampler.EventsSince(req.Window())
	}
	return g.sampler.Current(cat)
}

func (g *TelemetryGateway) touch(conn *websocket.Connection) {
	g.mu.Lock()
	if st, ok := g.clients[conn.ID()]; ok && st.conn == conn {
		st.lastActivity = g.now()
	}
	g.mu.Unlock()
}

func (g *TelemetryGateway) send(conn *websocket.Connection, env Envelope) {
	err := conn.SendJSON(env)
	g.instr.messageSent(env.Type, err)
	if err != nil && !errors.Is(err, websocket.ErrConnectionClosed) {
		g.log.Warn("Failed to send %s to %s: %v", env.Type, conn.ID(), err)
	}
}

// Broadcast sends env to every registered client and returns how many
// accepted it.
func (g *TelemetryGateway) Broadcast(env Envelope) int {
	payload, err := json.Marshal(env)
	if err != nil {
		g.log.Error("Failed to marshal %s broadcast: %v", env.Type, err)
		return 0
	}

	g.mu.RLock()
	conns := make([]*websocket.Connection, 0, len(g.clients))
	for _, st := range g.clients {
		conns = append(conns, st.conn)
	}
	g.mu.RUnlock()

	sent := 0
	for _, conn := range conns {
		err := conn.Send(payload)
		g.instr.messageSent(env.Type, err)
		if err != nil {
			g.log.Warn("Failed to broadcast %s to %s: %v", env.Type, conn.ID(), err)
			continue
		}
		sent++
	}
	return sent
}

// SweepIdle closes clients with no inbound traffic, including pong
// replies, for longer than the idle timeout.
func (g *TelemetryGateway) SweepIdle(now time.Time) int {
	type candidate struct {
		conn         *websocket.Connection
		lastActivity time.Time
	}

	g.mu.RLock()
	candidates := make([]candidate, 0, len(g.clients))
	for _, st := range g.clients {
		candidates = append(candidates, candidate{st.conn, st.lastActivity})
	}
	g.mu.RUnlock()

	closed := 0
	for _, c := range candidates {
		last := c.lastActivity
		if ack := c.conn.LastHeartbeatAck(); ack.After(last) {
			last = ack
		}
		if now.Sub(last) <= g.cfg.IdleTimeout {
			continue
		}
		g.log.Info("Telemetry client %s idle since %s, disconnecting", c.conn.ID(), last.Format(time.RFC3339))
		_ = c.conn.Close(websocket.ClosePolicyViolation, "idle timeout")
		closed++
	}
	return closed
}

func (g *TelemetryGateway) Running() bool {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()
	return g.cancel != nil
}

func (g *TelemetryGateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

func (g *TelemetryGateway) Clients() []ClientInfo {
	g.mu.RLock()
	states := make([]clientState, 0, len(g.clients))
	for _, st := range g.clients {
		states = append(states, *st)
	}
	g.mu.RUnlock()

	out := make([]ClientInfo, 0, len(states))
	for _, st := range states {
		out = append(out, ClientInfo{
			ID:           st.conn.ID(),
			Categories:   st.categories,
			ConnectedAt:  st.connectedAt,
			LastActivity: st.lastActivity,
			Connection:   st.conn.Info(),
		})
	}
	return out
}
