package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockSocket is an in-memory implementation of the Socket interface so the
// registry, router, monitor and broadcaster can be tested without a network.
type mockSocket struct {
	mu          sync.Mutex
	frames      [][]byte
	closed      bool
	closeCode   int
	inbound     chan []byte
	closeSignal chan struct{}
	pongHandler func(string) error
	closeOnce   sync.Once
}

func newMockSocket() *mockSocket {
	return &mockSocket{
		inbound:     make(chan []byte, 16),
		closeSignal: make(chan struct{}),
	}
}

func (m *mockSocket) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-m.inbound:
		if !ok {
			return 0, nil, fmt.Errorf("socket closed")
		}
		return 1, data, nil
	case <-m.closeSignal:
		return 0, nil, fmt.Errorf("socket closed")
	}
}

func (m *mockSocket) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("write on closed socket")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.frames = append(m.frames, buf)
	return nil
}

func (m *mockSocket) WriteControl(messageType int, data []byte, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("write on closed socket")
	}
	if len(data) >= 2 {
		m.closeCode = int(data[0])<<8 | int(data[1])
	}
	return nil
}

func (m *mockSocket) SetReadLimit(limit int64)            {}
func (m *mockSocket) SetReadDeadline(t time.Time) error   { return nil }
func (m *mockSocket) SetWriteDeadline(t time.Time) error  { return nil }
func (m *mockSocket) SetPongHandler(h func(string) error) { m.pongHandler = h }

func (m *mockSocket) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.closeOnce.Do(func() { close(m.closeSignal) })
	return nil
}

func (m *mockSocket) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockSocket) CloseCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCode
}

func (m *mockSocket) WrittenFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]byte, len(m.frames))
	copy(result, m.frames)
	return result
}

// admitConn registers a test connection and fails the test on refusal
func admitConn(t *testing.T, r *Registry, identity string) *Connection {
	t.Helper()
	c, err := r.Admit(identity, newMockSocket())
	require.NoError(t, err)
	return c
}

// drainEnvelope pops the next queued outbound frame from a connection
func drainEnvelope(t *testing.T, c *Connection) *Envelope {
	t.Helper()
	select {
	case data := <-c.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return &env
	case <-time.After(time.Second):
		t.Fatal("no outbound frame queued")
		return nil
	}
}

// hasQueuedFrame reports whether a connection has an outbound frame waiting
func hasQueuedFrame(c *Connection) bool {
	select {
	case data := <-c.send:
		c.send <- data
		return true
	default:
		return false
	}
}
