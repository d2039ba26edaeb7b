package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Grace period for connection pumps to exit during shutdown
	shutdownGrace = 5 * time.Second
)

// Config is the recognized tuning surface of the gateway core
type Config struct {
	MaxConnectionsPerIdentity int
	MaxTotalConnections       int
	ConnectionTimeout         time.Duration
	SweepInterval             time.Duration
	RateLimitMaxMessages      int
	RateLimitWindow           time.Duration
	MaxFrameSize              int64
}

// DefaultConfig returns the documented defaults
func DefaultConfig() *Config {
	return &Config{
		MaxConnectionsPerIdentity: 3,
		MaxTotalConnections:       1000,
		ConnectionTimeout:         60 * time.Second,
		SweepInterval:             30 * time.Second,
		RateLimitMaxMessages:      100,
		RateLimitWindow:           60 * time.Second,
		MaxFrameSize:              64 * 1024,
	}
}

// PresenceTracker marks identities online and offline as their first
// connection arrives and their last one departs. Implemented by the Redis
// presence service; nil disables tracking.
type PresenceTracker interface {
	SetOnline(ctx context.Context, identity string) error
	SetOffline(ctx context.Context, identity string) error
}

// Hub wires the registry, rate limiter, router, liveness monitor and
// broadcast engine together and owns their lifecycle. Its Broadcast* methods
// are the only entry points exposed to business-layer code.
type Hub struct {
	cfg         *Config
	registry    *Registry
	limiter     *SlidingWindowLimiter
	router      *Router
	broadcaster *Broadcaster
	monitor     *Monitor
	presence    PresenceTracker

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(cfg *Config, presence PresenceTracker) *Hub {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())

	registry := NewRegistry(cfg.MaxTotalConnections, cfg.MaxConnectionsPerIdentity)
	limiter := NewSlidingWindowLimiter(cfg.RateLimitMaxMessages, cfg.RateLimitWindow)

	h := &Hub{
		cfg:         cfg,
		registry:    registry,
		limiter:     limiter,
		router:      NewRouter(registry, limiter, cfg.MaxFrameSize),
		broadcaster: NewBroadcaster(registry, cfg.MaxFrameSize),
		monitor:     NewMonitor(registry, cfg.SweepInterval, cfg.ConnectionTimeout),
		presence:    presence,
		ctx:         ctx,
		cancel:      cancel,
	}

	registry.SetIdentityHooks(h.identityOnline, h.identityOffline)
	return h
}

// Run starts the background liveness sweep
func (h *Hub) Run() {
	go h.monitor.Run(h.ctx)
}

// Stop signals all background work to finish and force-closes every
// connection through the registry within the shutdown grace period.
func (h *Hub) Stop() {
	slog.Info("Gateway hub shutting down")
	h.cancel()

	conns := h.registry.snapshotAll()
	h.registry.Shutdown()
	for _, c := range conns {
		c.waitForPumps(shutdownGrace)
	}
}

// Accept admits an authenticated socket: it enforces the connection caps,
// sends the connection.established event and hands the socket to the receive
// loop. The socket is closed with a distinguishable close code on refusal.
func (h *Hub) Accept(identity string, sock Socket) (*Connection, error) {
	c, err := h.registry.Admit(identity, sock)
	if err != nil {
		var capErr *CapacityError
		code := CloseReasonShuttingDown
		text := "server shutting down"
		if errors.As(err, &capErr) {
			code = CloseReasonCapacity
			text = "connection capacity reached"
		}
		deadline := time.Now().Add(time.Second)
		sock.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
		sock.Close()
		return nil, err
	}

	established := NewConnectionEstablished(c.ID(), AllTopics())
	if data, err := json.Marshal(established); err == nil {
		if err := c.enqueue(data); err != nil {
			h.registry.Remove(c.ID())
			return nil, err
		}
	}

	go h.writePump(c)
	go h.readPump(c)

	return c, nil
}

// RegisterDomainHandler exposes router registration of business action types
func (h *Hub) RegisterDomainHandler(msgType MessageType, handler DomainHandler) {
	h.router.RegisterDomainHandler(msgType, handler)
}

// SendToConnection delivers one event to one connection
func (h *Hub) SendToConnection(connectionID string, env *Envelope) bool {
	return h.broadcaster.SendToConnection(connectionID, env)
}

// BroadcastToIdentity delivers an event to every connection of an identity
func (h *Hub) BroadcastToIdentity(identity string, env *Envelope) int {
	return h.broadcaster.SendToIdentity(identity, env)
}

// BroadcastToTopic delivers an event to every subscriber of a topic
func (h *Hub) BroadcastToTopic(topic Topic, env *Envelope) int {
	return h.broadcaster.BroadcastToTopic(topic, env)
}

// BroadcastToAll delivers an event to every live connection
func (h *Hub) BroadcastToAll(env *Envelope) int {
	return h.broadcaster.BroadcastToAll(env)
}

// Registry exposes the registry for read access by handlers and tests
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Stats returns a snapshot of gateway statistics
func (h *Hub) Stats() RegistryStats {
	return h.registry.Stats()
}

// readPump pumps frames from the socket through the router. One goroutine
// per connection; frames from one connection are processed in receipt order.
func (h *Hub) readPump(c *Connection) {
	c.wg.Add(1)
	defer func() {
		c.wg.Done()
		// Idempotent: the router may already have removed the connection
		h.registry.Remove(c.ID())
	}()

	c.conn.SetReadLimit(h.cfg.MaxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(h.cfg.ConnectionTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.TouchActivity()
		c.conn.SetReadDeadline(time.Now().Add(h.cfg.ConnectionTimeout))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				c.setCloseReason(CloseReasonFrameTooBig, "frame too large")
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Debug("Read error", "connectionID", c.ID(), "userID", c.UserID(), "error", err)
			}
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(h.cfg.ConnectionTimeout))

		if err := h.router.HandleFrame(h.ctx, c, raw); err != nil {
			return
		}
	}
}

// writePump pumps frames from the send queue to the socket, interleaved with
// protocol-level pings. Write failures end the connection; the deferred
// Remove keeps bookkeeping consistent.
func (h *Hub) writePump(c *Connection) {
	c.wg.Add(1)
	pingPeriod := h.cfg.ConnectionTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		c.wg.Done()
		ticker.Stop()
		h.registry.Remove(c.ID())
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("Write error", "connectionID", c.ID(), "userID", c.UserID(), "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// identityOnline runs when an identity's first connection is admitted
func (h *Hub) identityOnline(identity string) {
	go func() {
		if h.presence != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.presence.SetOnline(ctx, identity); err != nil {
				slog.Error("Failed to set identity online", "userID", identity, "error", err)
			}
		}
		h.broadcaster.BroadcastToTopic(TopicUserStatus, NewTopicEvent(TopicUserStatus, map[string]interface{}{
			"user_id": identity,
			"status":  "online",
		}))
	}()
}

// identityOffline runs when an identity's last connection departs
func (h *Hub) identityOffline(identity string) {
	go func() {
		if h.presence != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.presence.SetOffline(ctx, identity); err != nil {
				slog.Error("Failed to set identity offline", "userID", identity, "error", err)
			}
		}
		h.broadcaster.BroadcastToTopic(TopicUserStatus, NewTopicEvent(TopicUserStatus, map[string]interface{}{
			"user_id": identity,
			"status":  "offline",
		}))
	}()
}
