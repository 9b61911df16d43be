package websocket

import (
	"context"
	"sync"

	"HouseholdTelemetryAPI/internal/logger"
)

type PoolStatus struct {
	Total   int            `json:"total"`
	Max     int            `json:"max"`
	ByState map[string]int `json:"by_state"`
}

// Pool is a bounded registry of connections keyed by client id. An id that
// is already registered is replaced; the prior connection is closed.
type Pool struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	max    int
	dialer Dialer
	log    *logger.Logger
}

func NewPool(maxConnections int, dialer Dialer, log *logger.Logger) *Pool {
	if log == nil {
		log = logger.Nop()
	}
	return &Pool{
		conns:  make(map[string]*Connection),
		max:    maxConnections,
		dialer: dialer,
		log:    log,
	}
}

// register inserts conn and returns the connection it replaced, if any.
func (p *Pool) register(conn *Connection) (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prior, exists := p.conns[conn.id]
	if !exists && p.max > 0 && len(p.conns) >= p.max {
		return nil, ErrCapacityExceeded
	}
	p.conns[conn.id] = conn
	return prior, nil
}

// Create registers an outbound connection and dials address. The
// connection stays registered when the first dial fails so that its
// reconnect path can run. Handlers are registered before the first dial.
func (p *Pool) Create(ctx context.Context, id, address string, opts Options, handlers ...EventHandler) (*Connection, error) {
	conn := NewConnection(id, p.dialer, opts, p.log)
	for _, h := range handlers {
		conn.OnEvent(h)
	}
	prior, err := p.register(conn)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		p.log.Info("Replacing connection %s", id)
		_ = prior.Close(CloseNormalClosure, "replaced")
	}
	return conn, conn.Connect(ctx, address)
}

// Attach registers an accepted transport under id. Handlers are registered
// before the read loop starts so no inbound frame is missed.
func (p *Pool) Attach(id string, t Transport, opts Options, handlers ...EventHandler) (*Connection, error) {
	opts.AutoReconnect = false
	conn := NewConnection(id, nil, opts, p.log)
	for _, h := range handlers {
		conn.OnEvent(h)
	}
	prior, err := p.register(conn)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		p.log.Info("Replacing connection %s", id)
		_ = prior.Close(CloseNormalClosure, "replaced")
	}
	if err := conn.Attach(t); err != nil {
		p.Evict(conn)
		return nil, err
	}
	return conn, nil
}

func (p *Pool) Get(id string) (*Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.conns[id]
	return conn, ok
}

// Remove closes and evicts the connection registered under id.
func (p *Pool) Remove(id string) bool {
	p.mu.Lock()
	conn, ok := p.conns[id]
	if ok {
		delete(p.conns, id)
	}
	p.mu.Unlock()

	if ok {
		_ = conn.Close(CloseNormalClosure, "removed")
	}
	return ok
}

// Evict drops conn from the registry without closing it. It is a no-op if
// the id has since been taken by another connection.
func (p *Pool) Evict(conn *Connection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.conns[conn.id]; ok && cur == conn {
		delete(p.conns, conn.id)
		return true
	}
	return false
}

func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*Connection)
	p.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(CloseGoingAway, "server shutting down")
	}
	p.log.Info("Closed %d connections", len(conns))
}

func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// Connections returns a point-in-time copy of the registered connections.
func (p *Pool) Connections() []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Connection, 0, len(p.conns))
	for _, conn := range p.conns {
		out = append(out, conn)
	}
	return out
}

func (p *Pool) Status() PoolStatus {
	conns := p.Connections()
	status := PoolStatus{
		Total:   len(conns),
		Max:     p.max,
		ByState: make(map[string]int),
	}
	for _, conn := range conns {
		status.ByState[conn.State().String()]++
	}
	return status
}
