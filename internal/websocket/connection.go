package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the lifecycle state of a Connection
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Socket is the subset of *websocket.Conn the gateway touches. Narrowing the
// surface keeps the registry, broadcaster and monitor testable with an
// in-memory fake.
type Socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Connection is one accepted, authenticated socket. It is created by
// Registry.Admit and destroyed only through Registry.Remove; nothing else
// closes the underlying socket.
type Connection struct {
	id        string
	userID    string
	conn      Socket
	send      chan []byte
	createdAt time.Time

	// Unix nanoseconds, updated by the router and the pong handler
	lastActivity  int64
	lastHeartbeat int64

	sentCount int64
	recvCount int64
	errCount  int64

	// Subscription set; mutated only by the Registry under its lock
	topics map[Topic]struct{}

	state      int32
	sendClosed int32
	closeOnce  sync.Once
	closeMu    sync.Mutex
	closeCode  int
	closeText  string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newConnection(userID string, sock Socket) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	return &Connection{
		id:            uuid.New().String(),
		userID:        userID,
		conn:          sock,
		send:          make(chan []byte, 256),
		createdAt:     now,
		lastActivity:  now.UnixNano(),
		lastHeartbeat: now.UnixNano(),
		topics:        make(map[Topic]struct{}),
		state:         int32(StateConnecting),
		closeCode:     CloseReasonNormal,
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) UserID() string {
	return c.userID
}

func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

// State returns the current lifecycle state
func (c *Connection) State() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Connection) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
}

// TouchActivity records inbound traffic for the liveness monitor
func (c *Connection) TouchActivity() {
	atomic.StoreInt64(&c.lastActivity, time.Now().UnixNano())
}

// TouchHeartbeat records an explicit heartbeat frame. Heartbeats also count
// as activity so a heartbeat-only client is not swept.
func (c *Connection) TouchHeartbeat() {
	now := time.Now().UnixNano()
	atomic.StoreInt64(&c.lastHeartbeat, now)
	atomic.StoreInt64(&c.lastActivity, now)
}

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastActivity))
}

func (c *Connection) LastHeartbeat() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastHeartbeat))
}

func (c *Connection) Counters() (sent, received, errors int64) {
	return atomic.LoadInt64(&c.sentCount), atomic.LoadInt64(&c.recvCount), atomic.LoadInt64(&c.errCount)
}

func (c *Connection) countError() {
	atomic.AddInt64(&c.errCount, 1)
}

// isClosed returns true if the connection has been torn down
func (c *Connection) isClosed() bool {
	return c.State() == StateClosed
}

// enqueue hands a serialized frame to the write pump. It never blocks: a full
// send buffer means the peer cannot keep up, so the connection is marked for
// teardown instead (the caller routes it through Registry.Remove).
func (c *Connection) enqueue(data []byte) error {
	if c.isClosed() || atomic.LoadInt32(&c.sendClosed) == 1 {
		return ErrClientDisconnected
	}

	select {
	case c.send <- data:
		atomic.AddInt64(&c.sentCount, 1)
		return nil
	case <-c.ctx.Done():
		return ErrClientDisconnected
	default:
		slog.Warn("Send buffer full, dropping connection", "connectionID", c.id, "userID", c.userID)
		c.closeSendChannel()
		return ErrClientDisconnected
	}
}

// closeSendChannel stops further enqueues. The channel itself is never
// closed; the write pump exits on context cancellation instead, so a
// concurrent enqueue can never panic on a closed channel.
func (c *Connection) closeSendChannel() {
	atomic.StoreInt32(&c.sendClosed, 1)
}

// setCloseReason records the close code sent to the peer when the connection
// is terminated. Must be called before Registry.Remove to take effect.
func (c *Connection) setCloseReason(code int, text string) {
	c.closeMu.Lock()
	c.closeCode = code
	c.closeText = text
	c.closeMu.Unlock()
}

// terminate closes the underlying socket exactly once, sending the recorded
// close reason best-effort. Only Registry.Remove calls this.
func (c *Connection) terminate() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		c.cancel()

		c.closeMu.Lock()
		code, text := c.closeCode, c.closeText
		c.closeMu.Unlock()

		deadline := time.Now().Add(time.Second)
		if err := c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text), deadline); err != nil {
			slog.Debug("Failed to write close frame", "connectionID", c.id, "error", err)
		}
		if err := c.conn.Close(); err != nil {
			slog.Debug("Error closing socket", "connectionID", c.id, "error", err)
		}

		slog.Debug("Connection terminated", "connectionID", c.id, "userID", c.userID, "closeCode", code)
	})
}

// waitForPumps waits for the read and write pumps to finish with a timeout
func (c *Connection) waitForPumps(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("Timeout waiting for connection pumps", "connectionID", c.id, "timeout", timeout)
	}
}
