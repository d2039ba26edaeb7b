package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"log/slog"
)

// DomainHandler processes a business-layer action frame. The gateway relays
// its result or error back to the client without inspecting the semantics.
type DomainHandler func(ctx context.Context, conn *Connection, frame *Envelope) (map[string]interface{}, error)

// Router validates and dispatches inbound frames. Per-frame errors are
// answered with a structured error frame on the originating connection only;
// protocol abuse (oversized or unparseable frames, missing required fields)
// is fatal and tears the connection down through Registry.Remove.
type Router struct {
	registry     *Registry
	limiter      *SlidingWindowLimiter
	maxFrameSize int64

	mu     sync.RWMutex
	domain map[MessageType]DomainHandler
}

func NewRouter(registry *Registry, limiter *SlidingWindowLimiter, maxFrameSize int64) *Router {
	return &Router{
		registry:     registry,
		limiter:      limiter,
		maxFrameSize: maxFrameSize,
		domain:       make(map[MessageType]DomainHandler),
	}
}

// RegisterDomainHandler makes a business action type routable. Unregistered
// types keep getting the UnknownMessageType error reply.
func (r *Router) RegisterDomainHandler(msgType MessageType, handler DomainHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domain[msgType] = handler
}

func (r *Router) domainHandler(msgType MessageType) (DomainHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.domain[msgType]
	return h, ok
}

// HandleFrame runs one inbound frame through the validation pipeline and
// dispatches it. A non-nil return means the frame was fatal: bookkeeping has
// already been cleaned up via Registry.Remove and the receive loop must stop.
func (r *Router) HandleFrame(ctx context.Context, c *Connection, raw []byte) error {
	if int64(len(raw)) > r.maxFrameSize {
		c.countError()
		slog.Warn("Frame exceeds size limit", "connectionID", c.id, "userID", c.userID, "size", len(raw))
		c.setCloseReason(CloseReasonFrameTooBig, "frame too large")
		r.registry.Remove(c.id)
		return ErrFrameTooLarge
	}

	env, err := decodeEnvelope(raw)
	if err != nil {
		c.countError()
		slog.Warn("Unparseable frame", "connectionID", c.id, "userID", c.userID, "error", err)
		c.setCloseReason(CloseReasonProtocol, "invalid frame")
		r.registry.Remove(c.id)
		return fmt.Errorf("decode frame: %w", err)
	}

	if _, isDomain := r.domainHandler(env.Type); !env.Type.IsClientType() && !isDomain {
		c.countError()
		r.reply(c, NewErrorEvent(CodeUnknownMessageType, fmt.Sprintf("%s: %s", ErrUnknownMessageType, env.Type)))
		return nil
	}

	if allowed, retryAfter := r.limiter.Allow(c.userID); !allowed {
		slog.Debug("Dropping frame", "connectionID", c.id,
			"error", &RateLimitError{Identity: c.userID, RetryAfter: retryAfter})
		r.reply(c, NewRateLimitEvent(retryAfter))
		return nil
	}

	atomic.AddInt64(&c.recvCount, 1)
	c.TouchActivity()

	switch env.Type {
	case MessageTypePing:
		r.reply(c, NewPong(env.Data["pingId"]))
		return nil

	case MessageTypeHeartbeat:
		c.TouchHeartbeat()
		return nil

	case MessageTypeSubscribe:
		return r.handleSubscription(c, env, r.registry.Subscribe)

	case MessageTypeUnsubscribe:
		return r.handleSubscription(c, env, r.registry.Unsubscribe)

	default:
		handler, _ := r.domainHandler(env.Type)
		result, err := handler(ctx, c, env)
		if err != nil {
			c.countError()
			r.reply(c, NewErrorEvent(CodeInternalError, err.Error()))
			return nil
		}
		r.reply(c, NewEvent(env.Type+".result", result))
		return nil
	}
}

// handleSubscription covers subscribe and unsubscribe, which share shape: an
// "events" list mutated through the registry, answered with the resulting
// subscription set.
func (r *Router) handleSubscription(c *Connection, env *Envelope, mutate func(string, []Topic) ([]string, error)) error {
	names, err := eventNames(env)
	if err != nil {
		c.countError()
		slog.Warn("Subscription frame missing events field", "connectionID", c.id, "userID", c.userID)
		c.setCloseReason(CloseReasonProtocol, "missing required field: events")
		r.registry.Remove(c.id)
		return err
	}

	topics, err := ParseTopics(names)
	if err != nil {
		c.countError()
		r.reply(c, NewErrorEvent(CodeInvalidTopic, err.Error()))
		return nil
	}

	resulting, err := mutate(c.id, topics)
	if err != nil {
		c.countError()
		r.reply(c, NewErrorEvent(CodeInternalError, err.Error()))
		return nil
	}

	r.reply(c, NewSubscriptionConfirmed(resulting))
	return nil
}

// eventNames extracts the required "events" string list from a subscription
// frame. A missing or malformed field is a protocol violation.
func eventNames(env *Envelope) ([]string, error) {
	rawList, ok := env.Data["events"]
	if !ok {
		return nil, fmt.Errorf("missing required field: events")
	}

	items, ok := rawList.([]interface{})
	if !ok {
		return nil, fmt.Errorf("events must be a list of topic names")
	}

	names := make([]string, 0, len(items))
	for _, item := range items {
		name, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("events must be a list of topic names")
		}
		names = append(names, name)
	}
	return names, nil
}

// reply serializes an envelope onto the connection's send queue. An enqueue
// failure means the peer is gone or stalled; teardown goes through the
// registry so bookkeeping stays consistent.
func (r *Router) reply(c *Connection, env *Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to marshal reply", "connectionID", c.id, "type", env.Type, "error", err)
		return
	}
	if err := c.enqueue(data); err != nil {
		r.registry.Remove(c.id)
	}
}
