package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType represents the type of a WebSocket frame using a custom enum
// type for better type safety
type MessageType string

const (
	// Client -> server
	MessageTypePing        MessageType = "ping"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeHeartbeat   MessageType = "heartbeat"

	// Server -> client
	MessageTypeConnectionEstablished MessageType = "connection.established"
	MessageTypePong                  MessageType = "pong"
	MessageTypeSubscriptionConfirmed MessageType = "subscription.confirmed"
	MessageTypeError                 MessageType = "error"
)

// String returns the string representation of the MessageType
func (mt MessageType) String() string {
	return string(mt)
}

// IsClientType checks if the MessageType is one of the built-in frame types a
// client is allowed to send. Domain actions registered on the router extend
// this set at runtime.
func (mt MessageType) IsClientType() bool {
	switch mt {
	case MessageTypePing, MessageTypeSubscribe, MessageTypeUnsubscribe, MessageTypeHeartbeat:
		return true
	default:
		return false
	}
}

// Envelope is the wire format of every frame exchanged over the socket.
// Timestamps are serialized as RFC 3339 strings by encoding/json.
type Envelope struct {
	ID        string                 `json:"id"`
	Type      MessageType            `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// Validate validates the envelope structure and fills defaulted fields
func (e *Envelope) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("message type is required")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	return nil
}

// NewEvent creates an envelope with the specified type and data
func NewEvent(msgType MessageType, data map[string]interface{}) *Envelope {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Envelope{
		ID:        uuid.New().String(),
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// NewConnectionEstablished creates the single admission event sent after a
// successful handshake
func NewConnectionEstablished(connectionID string, features []Topic) *Envelope {
	names := make([]string, 0, len(features))
	for _, f := range features {
		names = append(names, f.String())
	}
	return NewEvent(MessageTypeConnectionEstablished, map[string]interface{}{
		"connection_id": connectionID,
		"server_time":   time.Now().UTC().Format(time.RFC3339),
		"features":      names,
	})
}

// NewPong creates the reply to a ping frame, echoing the client-supplied
// correlation id when present
func NewPong(pingID interface{}) *Envelope {
	data := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if pingID != nil {
		data["pingId"] = pingID
	}
	return NewEvent(MessageTypePong, data)
}

// NewSubscriptionConfirmed creates the confirmation frame listing the
// resulting subscription set after a subscribe or unsubscribe
func NewSubscriptionConfirmed(events []string) *Envelope {
	if events == nil {
		events = []string{}
	}
	return NewEvent(MessageTypeSubscriptionConfirmed, map[string]interface{}{
		"events": events,
	})
}

// NewErrorEvent creates a structured error frame
func NewErrorEvent(code, message string) *Envelope {
	return NewEvent(MessageTypeError, map[string]interface{}{
		"code":    code,
		"message": message,
	})
}

// NewRateLimitEvent creates the error frame for a rate-limited frame,
// carrying the suggested retry-after in whole seconds (at least 1)
func NewRateLimitEvent(retryAfter time.Duration) *Envelope {
	secs := int(retryAfter.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return NewEvent(MessageTypeError, map[string]interface{}{
		"code":        CodeRateLimitExceeded,
		"message":     "message rate limit exceeded",
		"retry_after": secs,
	})
}

// NewTopicEvent wraps an opaque business payload in an envelope typed after
// the topic it is broadcast on
func NewTopicEvent(topic Topic, data map[string]interface{}) *Envelope {
	return NewEvent(MessageType(topic), data)
}

func decodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}
