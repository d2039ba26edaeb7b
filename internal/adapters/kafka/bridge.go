package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"log/slog"

	"github.com/filip-herceg/reviewpoint-realtime/internal/config"
	"github.com/filip-herceg/reviewpoint-realtime/internal/websocket"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher is the slice of the hub's broadcast surface the bridge needs
type Publisher interface {
	BroadcastToIdentity(identity string, env *websocket.Envelope) int
	BroadcastToTopic(topic websocket.Topic, env *websocket.Envelope) int
	BroadcastToAll(env *websocket.Envelope) int
}

// platformEvent is the shape the business layer publishes to Kafka. Exactly
// one routing field is honored: user_id wins over topic, topic over
// broadcast-to-all. The payload stays opaque.
type platformEvent struct {
	Event  string                 `json:"event"`
	UserID string                 `json:"user_id,omitempty"`
	Topic  string                 `json:"topic,omitempty"`
	Data   map[string]interface{} `json:"data"`
}

// Bridge consumes business-originated events from Kafka and pushes them into
// the broadcast engine, so the CRUD layer can emit real-time notifications
// without linking against the gateway process.
type Bridge struct {
	reader *kafkago.Reader
	hub    Publisher
}

func NewBridge(cfg *config.KafkaConfig, hub Publisher) *Bridge {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})

	return &Bridge{
		reader: reader,
		hub:    hub,
	}
}

// Run consumes until the context is cancelled. Malformed or unroutable
// messages are logged and skipped; one bad event never stops the bridge.
func (b *Bridge) Run(ctx context.Context) {
	slog.Info("Kafka event bridge started", "topic", b.reader.Config().Topic)

	for {
		msg, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				slog.Info("Kafka event bridge stopped")
				return
			}
			slog.Error("Failed to read Kafka message", "error", err)
			continue
		}

		b.dispatch(msg.Value)
	}
}

func (b *Bridge) dispatch(raw []byte) {
	var ev platformEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		slog.Warn("Skipping malformed platform event", "error", err)
		return
	}
	if ev.Event == "" {
		slog.Warn("Skipping platform event without type")
		return
	}

	env := websocket.NewEvent(websocket.MessageType(ev.Event), ev.Data)

	switch {
	case ev.UserID != "":
		delivered := b.hub.BroadcastToIdentity(ev.UserID, env)
		slog.Debug("Bridged event to identity", "event", ev.Event, "userID", ev.UserID, "delivered", delivered)

	case ev.Topic != "":
		topic := websocket.Topic(ev.Topic)
		if !topic.IsValid() {
			slog.Warn("Skipping platform event with unknown topic", "event", ev.Event, "topic", ev.Topic)
			return
		}
		delivered := b.hub.BroadcastToTopic(topic, env)
		slog.Debug("Bridged event to topic", "event", ev.Event, "topic", ev.Topic, "delivered", delivered)

	default:
		delivered := b.hub.BroadcastToAll(env)
		slog.Debug("Bridged event to all connections", "event", ev.Event, "delivered", delivered)
	}
}

// Close releases the underlying Kafka reader
func (b *Bridge) Close() error {
	return b.reader.Close()
}
