package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	cfg := DefaultConfig()
	cfg.MaxConnectionsPerIdentity = 3
	cfg.SweepInterval = time.Hour // sweeps driven manually in tests
	return NewHub(cfg, nil)
}

// writtenEnvelope waits for the write pump to flush a frame of the given type
func writtenEnvelope(t *testing.T, sock *mockSocket, msgType MessageType) *Envelope {
	t.Helper()
	var found *Envelope
	require.Eventually(t, func() bool {
		for _, raw := range sock.WrittenFrames() {
			var env Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				continue
			}
			if env.Type == msgType {
				found = &env
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	return found
}

func TestAcceptSendsConnectionEstablished(t *testing.T) {
	hub := newTestHub()
	defer hub.Stop()
	sock := newMockSocket()

	c, err := hub.Accept("u1", sock)
	require.NoError(t, err)

	env := writtenEnvelope(t, sock, MessageTypeConnectionEstablished)
	assert.Equal(t, c.ID(), env.Data["connection_id"])
	assert.NotEmpty(t, env.Data["server_time"])
	assert.NotEmpty(t, env.Data["features"])
}

func TestAcceptRunsReceiveLoop(t *testing.T) {
	hub := newTestHub()
	defer hub.Stop()
	sock := newMockSocket()

	_, err := hub.Accept("u1", sock)
	require.NoError(t, err)

	ping, err := json.Marshal(NewEvent(MessageTypePing, map[string]interface{}{"pingId": "x1"}))
	require.NoError(t, err)
	sock.inbound <- ping

	pong := writtenEnvelope(t, sock, MessageTypePong)
	assert.Equal(t, "x1", pong.Data["pingId"])
}

func TestAcceptRefusesOverCapacity(t *testing.T) {
	hub := newTestHub()
	defer hub.Stop()

	for i := 0; i < 3; i++ {
		_, err := hub.Accept("u1", newMockSocket())
		require.NoError(t, err)
	}

	sock := newMockSocket()
	_, err := hub.Accept("u1", sock)
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.True(t, sock.IsClosed())
	assert.Equal(t, CloseReasonCapacity, sock.CloseCode())
}

func TestSocketCloseTearsDownBookkeeping(t *testing.T) {
	hub := newTestHub()
	defer hub.Stop()
	sock := newMockSocket()

	c, err := hub.Accept("u1", sock)
	require.NoError(t, err)

	sock.Close()

	require.Eventually(t, func() bool {
		return hub.Registry().Get(c.ID()) == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, hub.Registry().ConnectionsForIdentity("u1"))
}

func TestStopClosesAllConnections(t *testing.T) {
	hub := newTestHub()

	socks := make([]*mockSocket, 3)
	for i := range socks {
		socks[i] = newMockSocket()
		_, err := hub.Accept("u1", socks[i])
		require.NoError(t, err)
	}

	hub.Stop()

	assert.Equal(t, 0, hub.Registry().Len())
	for _, sock := range socks {
		assert.True(t, sock.IsClosed())
	}
}

func TestBroadcastSurface(t *testing.T) {
	hub := newTestHub()
	defer hub.Stop()

	sock := newMockSocket()
	c, err := hub.Accept("u1", sock)
	require.NoError(t, err)
	_, err = hub.Registry().Subscribe(c.ID(), []Topic{TopicUploadProgress})
	require.NoError(t, err)

	delivered := hub.BroadcastToTopic(TopicUploadProgress, NewTopicEvent(TopicUploadProgress, map[string]interface{}{
		"percent": 50,
	}))
	assert.Equal(t, 1, delivered)

	env := writtenEnvelope(t, sock, MessageType(TopicUploadProgress))
	assert.Equal(t, float64(50), env.Data["percent"])

	assert.Equal(t, 1, hub.BroadcastToIdentity("u1", NewEvent("review.assigned", nil)))
	assert.Equal(t, 1, hub.BroadcastToAll(NewTopicEvent(TopicSystemNotification, nil)))
	assert.True(t, hub.SendToConnection(c.ID(), NewEvent(MessageTypePong, nil)))
}
