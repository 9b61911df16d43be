// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"HouseholdTelemetryAPI/internal/websocket"

	gorilla "github.com/gorilla/websocket"
)

// FakeTransport is an in-memory websocket.Transport.
type FakeTransport struct {
	mu          sync.Mutex
	written     [][]byte
	pings       int
	closeFrames int
	pongHandler func(string) error
	writeErr    error
	// AutoPong answers every ping immediately.
	AutoPong bool

	inbound   chan []byte
	dropped   chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		inbound: make(chan []byte, 64),
		dropped: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (f *FakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return gorilla.TextMessage, data, nil
	case err := <-f.dropped:
		return 0, nil, err
	case <-f.closed:
		return 0, nil, &gorilla.CloseError{Code: gorilla.CloseNormalClosure}
	}
}

func (f *FakeTransport) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if f.isClosed() {
		return errors.New("write on closed transport")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.written = append(f.written, cp)
	return nil
}

func (f *FakeTransport) WriteControl(messageType int, data []byte, deadline time.Time) error {
	f.mu.Lock()
	if f.isClosed() {
		f.mu.Unlock()
		return errors.New("write on closed transport")
	}
	var pong func(string) error
	switch messageType {
	case gorilla.PingMessage:
		f.pings++
		if f.AutoPong {
			pong = f.pongHandler
		}
	case gorilla.CloseMessage:
		f.closeFrames++
	}
	f.mu.Unlock()

	if pong != nil {
		go pong("")
	}
	return nil
}

func (f *FakeTransport) SetWriteDeadline(time.Time) error {
	return nil
}

func (f *FakeTransport) SetPongHandler(h func(string) error) {
	f.mu.Lock()
	f.pongHandler = h
	f.mu.Unlock()
}

func (f *FakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *FakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// Deliver queues an inbound text frame.
func (f *FakeTransport) Deliver(data []byte) {
	f.inbound <- data
}

// Drop makes the pending read fail with err, as if the peer went away.
func (f *FakeTransport) Drop(err error) {
	select {
	case f.dropped <- err:
	default:
	}
}

// Pong invokes the registered pong handler.
func (f *FakeTransport) Pong() {
	f.mu.Lock()
	h := f.pongHandler
	f.mu.Unlock()
	if h != nil {
		_ = h("")
	}
}

func (f *FakeTransport) FailWrites(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

func (f *FakeTransport) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

func (f *FakeTransport) WrittenStrings() []string {
	var out []string
	for _, b := range f.Written() {
		out = append(out, string(b))
	}
	return out
}

func (f *FakeTransport) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *FakeTransport) CloseFrames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeFrames
}

func (f *FakeTransport) Closed() bool {
	return f.isClosed()
}

// FakeDialer hands out FakeTransports or fails with Err.
type FakeDialer struct {
	mu         sync.Mutex
	Err        error
	dials      int
	transports []*FakeTransport
}

func (d *FakeDialer) Dial(ctx context.Context, address string) (websocket.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.Err != nil {
		return nil, d.Err
	}
	t := NewFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *FakeDialer) SetErr(err error) {
	d.mu.Lock()
	d.Err = err
	d.mu.Unlock()
}

func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Last returns the most recently dialed transport, or nil.
func (d *FakeDialer) Last() *FakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}
