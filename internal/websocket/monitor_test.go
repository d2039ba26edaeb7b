package websocket

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backdateActivity(c *Connection, age time.Duration) {
	atomic.StoreInt64(&c.lastActivity, time.Now().Add(-age).UnixNano())
}

func TestSweepEvictsIdleConnections(t *testing.T) {
	registry := newTestRegistry()
	monitor := NewMonitor(registry, 30*time.Second, 60*time.Second)

	stale := admitConn(t, registry, "u1")
	fresh := admitConn(t, registry, "u1")
	backdateActivity(stale, 2*time.Minute)

	monitor.Sweep()

	assert.Nil(t, registry.Get(stale.ID()))
	assert.NotNil(t, registry.Get(fresh.ID()))

	remaining := registry.ConnectionsForIdentity("u1")
	require.Len(t, remaining, 1)
	assert.Equal(t, fresh.ID(), remaining[0].ID())

	sock := stale.conn.(*mockSocket)
	assert.True(t, sock.IsClosed())
	assert.Equal(t, CloseReasonTimeout, sock.CloseCode())
}

func TestSweepSparesActiveConnections(t *testing.T) {
	registry := newTestRegistry()
	monitor := NewMonitor(registry, 30*time.Second, 60*time.Second)

	c := admitConn(t, registry, "u1")
	backdateActivity(c, 30*time.Second)

	monitor.Sweep()

	assert.NotNil(t, registry.Get(c.ID()))
}

func TestHeartbeatKeepsConnectionAlive(t *testing.T) {
	registry := newTestRegistry()
	monitor := NewMonitor(registry, 30*time.Second, 60*time.Second)

	c := admitConn(t, registry, "u1")
	backdateActivity(c, 2*time.Minute)
	c.TouchHeartbeat()

	monitor.Sweep()

	assert.NotNil(t, registry.Get(c.ID()))
}

func TestSweepToleratesConcurrentRemoval(t *testing.T) {
	registry := newTestRegistry()
	monitor := NewMonitor(registry, 30*time.Second, 60*time.Second)

	conns := make([]*Connection, 10)
	for i := range conns {
		conns[i] = admitConn(t, registry, fmt.Sprintf("u%d", i))
		backdateActivity(conns[i], 2*time.Minute)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, c := range conns {
			registry.Remove(c.ID())
		}
	}()

	// Must not panic or double-remove
	monitor.Sweep()
	<-done

	assert.Equal(t, 0, registry.Len())
}
