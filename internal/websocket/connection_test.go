package websocket_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"HouseholdTelemetryAPI/internal/testutil"
	"HouseholdTelemetryAPI/internal/websocket"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func testOptions() websocket.Options {
	opts := websocket.DefaultOptions()
	opts.InitialDelay = 5 * time.Millisecond
	opts.MaxDelay = 20 * time.Millisecond
	opts.HeartbeatInterval = 0
	opts.ConnectTimeout = time.Second
	return opts
}

type eventRecorder struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (r *eventRecorder) handle(_ *websocket.Connection, ev websocket.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) count(t websocket.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *eventRecorder) hasError(target error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == websocket.EventError && errors.Is(ev.Err, target) {
			return true
		}
	}
	return false
}

func TestBackoffDelay_Sequence(t *testing.T) {
	expected := []time.Duration{
		1000 * time.Millisecond,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
		5062500 * time.Microsecond,
	}
	for i, want := range expected {
		got := websocket.BackoffDelay(i+1, time.Second, 30*time.Second, 1.5)
		assert.Equal(t, want, got, "attempt %d", i+1)
	}
}

func TestBackoffDelay_CappedAndMonotonic(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 50; attempt++ {
		d := websocket.BackoffDelay(attempt, time.Second, 30*time.Second, 1.5)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 30*time.Second)
		prev = d
	}
	assert.Equal(t, 30*time.Second, websocket.BackoffDelay(20, time.Second, 30*time.Second, 1.5))
}

func TestConnection_QueueFullWhileDisconnected(t *testing.T) {
	opts := testOptions()
	opts.MaxQueueSize = 3
	conn := websocket.NewConnection("c1", nil, opts, nil)

	require.NoError(t, conn.Send([]byte("one")))
	require.NoError(t, conn.Send([]byte("two")))
	require.NoError(t, conn.Send([]byte("three")))
	err := conn.Send([]byte("four"))
	assert.ErrorIs(t, err, websocket.ErrQueueFull)
	assert.Equal(t, 3, conn.QueueDepth())

	transport := testutil.NewFakeTransport()
	require.NoError(t, conn.Attach(transport))

	assert.Eventually(t, func() bool { return len(transport.Written()) == 3 }, waitFor, tick)
	assert.Equal(t, []string{"one", "two", "three"}, transport.WrittenStrings())
	assert.Equal(t, 0, conn.QueueDepth())
}

func TestConnection_SendWithoutQueueing(t *testing.T) {
	opts := testOptions()
	opts.QueueMessages = false
	conn := websocket.NewConnection("c1", nil, opts, nil)

	assert.ErrorIs(t, conn.Send([]byte("x")), websocket.ErrNotConnected)
}

func TestConnection_FailedDrainKeepsRemainder(t *testing.T) {
	conn := websocket.NewConnection("c1", nil, testOptions(), nil)
	require.NoError(t, conn.Send([]byte("a")))
	require.NoError(t, conn.Send([]byte("b")))

	transport := testutil.NewFakeTransport()
	transport.FailWrites(errors.New("broken pipe"))
	require.NoError(t, conn.Attach(transport))

	assert.Eventually(t, func() bool { return conn.State() == websocket.StateError }, waitFor, tick)
	assert.Equal(t, 2, conn.QueueDepth())
}

func TestConnection_ConnectAndReceive(t *testing.T) {
	dialer := &testutil.FakeDialer{}
	conn := websocket.NewConnection("c1", dialer, testOptions(), nil)

	received := make(chan []byte, 1)
	conn.OnEvent(func(_ *websocket.Connection, ev websocket.Event) {
		if ev.Type == websocket.EventMessage {
			received <- ev.Data
		}
	})

	require.NoError(t, conn.Connect(context.Background(), "ws://example/ws"))
	assert.True(t, conn.IsConnected())

	dialer.Last().Deliver([]byte(`{"type":"getSnapshot"}`))
	select {
	case data := <-received:
		assert.JSONEq(t, `{"type":"getSnapshot"}`, string(data))
	case <-time.After(waitFor):
		t.Fatal("message not delivered")
	}
}

func TestConnection_ReconnectsAfterDropAndResetsAttempts(t *testing.T) {
	dialer := &testutil.FakeDialer{}
	rec := &eventRecorder{}
	conn := websocket.NewConnection("c1", dialer, testOptions(), nil)
	conn.OnEvent(rec.handle)

	require.NoError(t, conn.Connect(context.Background(), "ws://example/ws"))
	first := dialer.Last()

	first.Drop(&gorilla.CloseError{Code: gorilla.CloseAbnormalClosure})

	assert.Eventually(t, func() bool { return dialer.Dials() == 2 && conn.IsConnected() }, waitFor, tick)
	assert.NotSame(t, first, dialer.Last())
	assert.True(t, first.Closed())

	info := conn.Info()
	assert.Equal(t, 0, info.ReconnectAttempts)
	assert.Equal(t, 5*time.Millisecond, info.CurrentBackoff)
	assert.Eventually(t, func() bool { return rec.count(websocket.EventConnected) == 2 }, waitFor, tick)
	assert.GreaterOrEqual(t, rec.count(websocket.EventDisconnected), 1)
}

func TestConnection_QueuedDuringOutageDeliveredInOrder(t *testing.T) {
	dialer := &testutil.FakeDialer{}
	opts := testOptions()
	opts.InitialDelay = 50 * time.Millisecond
	conn := websocket.NewConnection("c1", dialer, opts, nil)

	require.NoError(t, conn.Connect(context.Background(), "ws://example/ws"))
	dialer.Last().Drop(errors.New("connection reset"))
	assert.Eventually(t, func() bool { return !conn.IsConnected() }, waitFor, tick)

	for _, msg := range []string{"1", "2", "3"} {
		require.NoError(t, conn.Send([]byte(msg)))
	}

	assert.Eventually(t, func() bool {
		return dialer.Dials() == 2 && len(dialer.Last().Written()) == 3
	}, waitFor, tick)
	assert.Equal(t, []string{"1", "2", "3"}, dialer.Last().WrittenStrings())
}

func TestConnection_ReconnectExhausted(t *testing.T) {
	dialer := &testutil.FakeDialer{Err: errors.New("refused")}
	opts := testOptions()
	opts.MaxReconnectAttempts = 2
	rec := &eventRecorder{}
	conn := websocket.NewConnection("c1", dialer, opts, nil)
	conn.OnEvent(rec.handle)

	err := conn.Connect(context.Background(), "ws://example/ws")
	require.Error(t, err)

	assert.Eventually(t, func() bool { return rec.hasError(websocket.ErrReconnectExhausted) }, waitFor, tick)
	assert.Equal(t, websocket.StateError, conn.State())
	assert.Equal(t, 3, dialer.Dials())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 3, dialer.Dials())
}

func TestConnection_HeartbeatTimeoutForcesClose(t *testing.T) {
	opts := testOptions()
	opts.HeartbeatInterval = 20 * time.Millisecond
	opts.HeartbeatTimeout = 10 * time.Millisecond
	conn := websocket.NewConnection("c1", nil, opts, nil)

	transport := testutil.NewFakeTransport()
	require.NoError(t, conn.Attach(transport))
	require.True(t, conn.IsConnected())

	assert.Eventually(t, func() bool { return !conn.IsConnected() }, waitFor, tick)
	assert.Equal(t, websocket.StateDisconnected, conn.State())
	assert.GreaterOrEqual(t, transport.Pings(), 1)
	assert.True(t, transport.Closed())
}

func TestConnection_PongKeepsConnectionAlive(t *testing.T) {
	opts := testOptions()
	opts.HeartbeatInterval = 10 * time.Millisecond
	opts.HeartbeatTimeout = 30 * time.Millisecond
	conn := websocket.NewConnection("c1", nil, opts, nil)

	transport := testutil.NewFakeTransport()
	transport.AutoPong = true
	require.NoError(t, conn.Attach(transport))
	before := conn.LastHeartbeatAck()

	assert.Eventually(t, func() bool { return transport.Pings() >= 5 }, waitFor, tick)
	assert.True(t, conn.IsConnected())
	assert.True(t, conn.LastHeartbeatAck().After(before))
}

func TestConnection_CloseIsIdempotentAndStopsReconnect(t *testing.T) {
	dialer := &testutil.FakeDialer{}
	conn := websocket.NewConnection("c1", dialer, testOptions(), nil)
	require.NoError(t, conn.Connect(context.Background(), "ws://example/ws"))
	transport := dialer.Last()

	require.NoError(t, conn.Close(websocket.CloseNormalClosure, "bye"))
	require.NoError(t, conn.Close(websocket.CloseNormalClosure, "bye"))

	assert.Equal(t, websocket.StateDisconnected, conn.State())
	assert.Equal(t, 1, transport.CloseFrames())
	assert.True(t, transport.Closed())
	assert.ErrorIs(t, conn.Send([]byte("late")), websocket.ErrConnectionClosed)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, dialer.Dials())
}

func TestConnection_HandlerPanicIsIsolated(t *testing.T) {
	conn := websocket.NewConnection("c1", nil, testOptions(), nil)
	rec := &eventRecorder{}
	conn.OnEvent(func(*websocket.Connection, websocket.Event) { panic("boom") })
	conn.OnEvent(rec.handle)

	require.NoError(t, conn.Attach(testutil.NewFakeTransport()))
	assert.Equal(t, 1, rec.count(websocket.EventConnected))
}

func TestConnection_ConnectedHandlersRunBeforeFirstMessage(t *testing.T) {
	conn := websocket.NewConnection("c1", nil, testOptions(), nil)
	rec := &eventRecorder{}
	conn.OnEvent(func(_ *websocket.Connection, ev websocket.Event) {
		if ev.Type == websocket.EventConnected {
			time.Sleep(20 * time.Millisecond)
		}
		rec.handle(conn, ev)
	})

	transport := testutil.NewFakeTransport()
	transport.Deliver([]byte(`{"type":"getSnapshot"}`))
	require.NoError(t, conn.Attach(transport))

	assert.Eventually(t, func() bool { return rec.count(websocket.EventMessage) == 1 }, waitFor, tick)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, websocket.EventConnected, rec.events[0].Type)
}

// stallingTransport completes a write and then blocks until released.
type stallingTransport struct {
	*testutil.FakeTransport
	stalled chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stallingTransport) WriteMessage(messageType int, data []byte) error {
	if err := s.FakeTransport.WriteMessage(messageType, data); err != nil {
		return err
	}
	s.once.Do(func() {
		close(s.stalled)
		<-s.release
	})
	return nil
}

func TestConnection_WriteCompletedOnReplacedSessionIsNotResent(t *testing.T) {
	conn := websocket.NewConnection("c1", nil, testOptions(), nil)
	first := &stallingTransport{
		FakeTransport: testutil.NewFakeTransport(),
		stalled:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	require.NoError(t, conn.Attach(first))
	require.NoError(t, conn.Send([]byte("once")))

	select {
	case <-first.stalled:
	case <-time.After(waitFor):
		t.Fatal("write never started")
	}

	second := testutil.NewFakeTransport()
	require.NoError(t, conn.Attach(second))
	close(first.release)

	assert.Eventually(t, func() bool { return conn.QueueDepth() == 0 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"once"}, first.WrittenStrings())
	assert.Empty(t, second.Written())
}
