package websocket

import (
	"sync"

	"log/slog"
)

// IdentityHook is invoked when an identity's first connection arrives or its
// last connection departs. Used for presence tracking; called outside the
// registry lock.
type IdentityHook func(identity string)

// RegistryStats is a point-in-time snapshot of registry bookkeeping. Brief
// staleness is fine here, membership queries go through the live maps.
type RegistryStats struct {
	TotalConnections int            `json:"total_connections"`
	Identities       int            `json:"identities"`
	TopicSubscribers map[string]int `json:"topic_subscribers"`
	MessagesSent     int64          `json:"messages_sent"`
	MessagesReceived int64          `json:"messages_received"`
	Errors           int64          `json:"errors"`
}

// Registry is the authoritative bookkeeping of live connections. It owns the
// connection table, the per-identity sets and the Subscription Index; every
// mutation goes through its methods under one lock, which is what makes the
// admission-cap check and the dual subscription update atomic.
type Registry struct {
	mu sync.RWMutex

	connections map[string]*Connection
	byIdentity  map[string]map[string]*Connection
	topicIndex  map[Topic]map[string]*Connection

	maxTotal       int
	maxPerIdentity int
	closed         bool

	onIdentityOnline  IdentityHook
	onIdentityOffline IdentityHook
}

func NewRegistry(maxTotal, maxPerIdentity int) *Registry {
	return &Registry{
		connections:    make(map[string]*Connection),
		byIdentity:     make(map[string]map[string]*Connection),
		topicIndex:     make(map[Topic]map[string]*Connection),
		maxTotal:       maxTotal,
		maxPerIdentity: maxPerIdentity,
	}
}

// SetIdentityHooks installs the presence callbacks. Must be called before the
// registry starts admitting connections.
func (r *Registry) SetIdentityHooks(online, offline IdentityHook) {
	r.onIdentityOnline = online
	r.onIdentityOffline = offline
}

// Admit registers a new connection for the given identity. The global cap,
// the per-identity cap and the insertion are a single atomic step: no two
// concurrent admits can both squeeze past a cap.
func (r *Registry) Admit(identity string, sock Socket) (*Connection, error) {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if len(r.connections) >= r.maxTotal {
		r.mu.Unlock()
		return nil, &CapacityError{Identity: identity, Scope: "global", Limit: r.maxTotal}
	}
	if len(r.byIdentity[identity]) >= r.maxPerIdentity {
		r.mu.Unlock()
		return nil, &CapacityError{Identity: identity, Scope: "identity", Limit: r.maxPerIdentity}
	}

	c := newConnection(identity, sock)
	c.setState(StateActive)

	r.connections[c.id] = c
	owned := r.byIdentity[identity]
	firstForIdentity := owned == nil
	if firstForIdentity {
		owned = make(map[string]*Connection)
		r.byIdentity[identity] = owned
	}
	owned[c.id] = c

	r.mu.Unlock()

	slog.Info("Connection admitted", "connectionID", c.id, "userID", identity)

	if firstForIdentity && r.onIdentityOnline != nil {
		r.onIdentityOnline(identity)
	}
	return c, nil
}

// Remove deletes a connection from the global table, its owner's set and
// every topic index entry, then closes the underlying socket. Idempotent and
// safe to call concurrently with itself; every teardown path in the gateway
// funnels through here.
func (r *Registry) Remove(connectionID string) bool {
	r.mu.Lock()

	c, ok := r.connections[connectionID]
	if !ok {
		r.mu.Unlock()
		return false
	}

	delete(r.connections, connectionID)

	lastForIdentity := false
	if owned := r.byIdentity[c.userID]; owned != nil {
		delete(owned, connectionID)
		if len(owned) == 0 {
			delete(r.byIdentity, c.userID)
			lastForIdentity = true
		}
	}

	for t := range c.topics {
		if subs := r.topicIndex[t]; subs != nil {
			delete(subs, connectionID)
			if len(subs) == 0 {
				delete(r.topicIndex, t)
			}
		}
	}

	r.mu.Unlock()

	c.terminate()
	slog.Info("Connection removed", "connectionID", connectionID, "userID", c.userID)

	if lastForIdentity && r.onIdentityOffline != nil {
		r.onIdentityOffline(c.userID)
	}
	return true
}

// Get returns the connection with the given id, or nil
func (r *Registry) Get(connectionID string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connections[connectionID]
}

// ConnectionsForIdentity returns the live connections owned by an identity
func (r *Registry) ConnectionsForIdentity(identity string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owned := r.byIdentity[identity]
	conns := make([]*Connection, 0, len(owned))
	for _, c := range owned {
		conns = append(conns, c)
	}
	return conns
}

// Subscribe adds the given topics to the connection's subscription set and
// the Subscription Index together. Invalid topics reject the whole request
// before any mutation; re-subscribing to a held topic is a no-op. Returns the
// resulting subscription set.
func (r *Registry) Subscribe(connectionID string, topics []Topic) ([]string, error) {
	for _, t := range topics {
		if !t.IsValid() {
			return nil, &InvalidTopicError{Topic: t.String()}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[connectionID]
	if !ok {
		return nil, ErrConnectionNotFound
	}

	for _, t := range topics {
		c.topics[t] = struct{}{}
		if r.topicIndex[t] == nil {
			r.topicIndex[t] = make(map[string]*Connection)
		}
		r.topicIndex[t][connectionID] = c
	}

	return sortedTopicNames(c.topics), nil
}

// Unsubscribe removes the given topics from both sides of the index. Topics
// the connection never held are ignored. Returns the resulting set.
func (r *Registry) Unsubscribe(connectionID string, topics []Topic) ([]string, error) {
	for _, t := range topics {
		if !t.IsValid() {
			return nil, &InvalidTopicError{Topic: t.String()}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[connectionID]
	if !ok {
		return nil, ErrConnectionNotFound
	}

	for _, t := range topics {
		delete(c.topics, t)
		if subs := r.topicIndex[t]; subs != nil {
			delete(subs, connectionID)
			if len(subs) == 0 {
				delete(r.topicIndex, t)
			}
		}
	}

	return sortedTopicNames(c.topics), nil
}

// Subscriptions returns the connection's current subscription set
func (r *Registry) Subscriptions(connectionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connections[connectionID]
	if !ok {
		return nil
	}
	return sortedTopicNames(c.topics)
}

// snapshotAll returns the current connections. Fan-out operations work from
// this snapshot, so joins and leaves during a broadcast are tolerated.
func (r *Registry) snapshotAll() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		conns = append(conns, c)
	}
	return conns
}

// snapshotTopic returns the current subscribers of a topic
func (r *Registry) snapshotTopic(topic Topic) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.topicIndex[topic]
	conns := make([]*Connection, 0, len(subs))
	for _, c := range subs {
		conns = append(conns, c)
	}
	return conns
}

// Len returns the number of live connections
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Stats returns a snapshot of registry statistics
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		TotalConnections: len(r.connections),
		Identities:       len(r.byIdentity),
		TopicSubscribers: make(map[string]int, len(r.topicIndex)),
	}
	for t, subs := range r.topicIndex {
		stats.TopicSubscribers[t.String()] = len(subs)
	}
	for _, c := range r.connections {
		sent, recv, errs := c.Counters()
		stats.MessagesSent += sent
		stats.MessagesReceived += recv
		stats.Errors += errs
	}
	return stats
}

// Shutdown refuses further admissions and removes every connection with the
// going-away close reason. Used during graceful server shutdown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.connections))
	for id, c := range r.connections {
		c.setCloseReason(CloseReasonShuttingDown, "server shutting down")
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Remove(id)
	}
}
