package websocket_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"HouseholdTelemetryAPI/internal/testutil"
	"HouseholdTelemetryAPI/internal/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_CapacityExceeded(t *testing.T) {
	pool := websocket.NewPool(2, &testutil.FakeDialer{}, nil)

	_, err := pool.Create(context.Background(), "a", "ws://x", testOptions())
	require.NoError(t, err)
	_, err = pool.Create(context.Background(), "b", "ws://x", testOptions())
	require.NoError(t, err)

	_, err = pool.Create(context.Background(), "c", "ws://x", testOptions())
	assert.ErrorIs(t, err, websocket.ErrCapacityExceeded)
	assert.Equal(t, 2, pool.Size())
}

func TestPool_DuplicateIDReplacesPrior(t *testing.T) {
	pool := websocket.NewPool(1, nil, nil)

	first := testutil.NewFakeTransport()
	prior, err := pool.Attach("client", first, testOptions())
	require.NoError(t, err)

	second := testutil.NewFakeTransport()
	replacement, err := pool.Attach("client", second, testOptions())
	require.NoError(t, err, "replacing an id must not count against capacity")

	got, ok := pool.Get("client")
	require.True(t, ok)
	assert.Same(t, replacement, got)
	assert.Equal(t, websocket.StateDisconnected, prior.State())
	assert.True(t, first.Closed())
	assert.Equal(t, 1, pool.Size())

	assert.False(t, pool.Evict(prior), "evicting a replaced connection is a no-op")
	assert.Equal(t, 1, pool.Size())
}

func TestPool_RemoveAndCloseAll(t *testing.T) {
	pool := websocket.NewPool(10, nil, nil)
	transports := make([]*testutil.FakeTransport, 3)
	for i := range transports {
		transports[i] = testutil.NewFakeTransport()
		_, err := pool.Attach(fmt.Sprintf("c%d", i), transports[i], testOptions())
		require.NoError(t, err)
	}

	assert.True(t, pool.Remove("c0"))
	assert.False(t, pool.Remove("c0"))
	assert.True(t, transports[0].Closed())
	assert.Equal(t, 2, pool.Size())

	pool.CloseAll()
	assert.Equal(t, 0, pool.Size())
	assert.True(t, transports[1].Closed())
	assert.True(t, transports[2].Closed())
}

func TestPool_StatusCountsSumToSize(t *testing.T) {
	dialer := &testutil.FakeDialer{}
	pool := websocket.NewPool(10, dialer, nil)

	_, err := pool.Attach("inbound", testutil.NewFakeTransport(), testOptions())
	require.NoError(t, err)
	_, err = pool.Create(context.Background(), "outbound", "ws://x", testOptions())
	require.NoError(t, err)

	opts := testOptions()
	opts.AutoReconnect = false
	dialer.SetErr(fmt.Errorf("refused"))
	_, err = pool.Create(context.Background(), "broken", "ws://x", opts)
	require.Error(t, err)

	status := pool.Status()
	assert.Equal(t, pool.Size(), status.Total)
	sum := 0
	for _, n := range status.ByState {
		sum += n
	}
	assert.Equal(t, status.Total, sum)
	assert.Equal(t, 2, status.ByState["CONNECTED"])
	assert.Equal(t, 1, status.ByState["ERROR"])
}

func TestPool_ConcurrentChurnRespectsCapacity(t *testing.T) {
	const limit = 5
	pool := websocket.NewPool(limit, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i%10)
			conn, err := pool.Attach(id, testutil.NewFakeTransport(), testOptions())
			if err == nil && i%3 == 0 {
				pool.Evict(conn)
				_ = conn.Close(websocket.CloseNormalClosure, "done")
			}
			assert.LessOrEqual(t, pool.Size(), limit)
		}(i)
	}
	wg.Wait()

	status := pool.Status()
	assert.LessOrEqual(t, status.Total, limit)
	sum := 0
	for _, n := range status.ByState {
		sum += n
	}
	assert.Equal(t, status.Total, sum)
}
