package websocket

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"log/slog"
)

// Broadcaster is the outbound fan-out engine and the only surface the
// business layer uses to push events. Every operation snapshots its target
// set first, then delivers concurrently with per-target failure isolation:
// one broken socket never delays or fails delivery to the rest.
type Broadcaster struct {
	registry     *Registry
	maxFrameSize int64
}

func NewBroadcaster(registry *Registry, maxFrameSize int64) *Broadcaster {
	return &Broadcaster{
		registry:     registry,
		maxFrameSize: maxFrameSize,
	}
}

// SendToConnection delivers one event to one connection. A failed delivery
// removes the connection (a broken pipe is a disconnect) and returns false.
func (b *Broadcaster) SendToConnection(connectionID string, env *Envelope) bool {
	data, ok := b.marshal(env)
	if !ok {
		return false
	}

	c := b.registry.Get(connectionID)
	if c == nil {
		return false
	}
	return b.deliver(c, data)
}

// SendToIdentity fans out to every live connection owned by the identity and
// returns how many deliveries succeeded.
func (b *Broadcaster) SendToIdentity(identity string, env *Envelope) int {
	return b.fanOut(b.registry.ConnectionsForIdentity(identity), env)
}

// BroadcastToTopic fans out to the current subscribers of a topic. A
// connection subscribing concurrently with the broadcast may or may not
// receive it; the snapshot is the contract.
func (b *Broadcaster) BroadcastToTopic(topic Topic, env *Envelope) int {
	return b.fanOut(b.registry.snapshotTopic(topic), env)
}

// BroadcastToAll fans out to every live connection
func (b *Broadcaster) BroadcastToAll(env *Envelope) int {
	return b.fanOut(b.registry.snapshotAll(), env)
}

func (b *Broadcaster) fanOut(targets []*Connection, env *Envelope) int {
	if len(targets) == 0 {
		return 0
	}

	data, ok := b.marshal(env)
	if !ok {
		return 0
	}

	var delivered int64
	var wg sync.WaitGroup
	for _, c := range targets {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			if b.deliver(c, data) {
				atomic.AddInt64(&delivered, 1)
			}
		}(c)
	}
	wg.Wait()

	return int(delivered)
}

// deliver enqueues a serialized frame for one target. Failures are isolated
// here: the broken connection is removed and the fan-out carries on.
func (b *Broadcaster) deliver(c *Connection, data []byte) bool {
	if err := c.enqueue(data); err != nil {
		slog.Debug("Delivery failed, removing connection", "connectionID", c.ID(), "userID", c.UserID(), "error", err)
		c.countError()
		b.registry.Remove(c.ID())
		return false
	}
	return true
}

// marshal serializes an event, enforcing the same frame-size cap as inbound
func (b *Broadcaster) marshal(env *Envelope) ([]byte, bool) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to marshal outbound event", "type", env.Type, "error", err)
		return nil, false
	}
	if int64(len(data)) > b.maxFrameSize {
		slog.Error("Outbound event exceeds frame size limit", "type", env.Type, "size", len(data))
		return nil, false
	}
	return data, true
}
