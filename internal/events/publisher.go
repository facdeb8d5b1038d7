// Package events publishes chat activity to the platform's Kafka bus so
// downstream services (notifications, moderation) can react. Publishing is
// strictly best-effort: the chat core never fails a send because the broker
// was unreachable.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"marketchat/internal/chat"
)

// MessageSentEvent is the payload for chat.message_sent broker events.
type MessageSentEvent struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Sender         string `json:"sender"`
	Recipient      string `json:"recipient"`
	MessageType    string `json:"message_type"`
	PostID         string `json:"post_id,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// Publisher writes chat events to a Kafka topic. A nil Publisher is valid
// and publishes nothing, which is how the daemon runs when no brokers are
// configured.
type Publisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewPublisher creates a publisher for the given brokers and topic.
// Returns nil when brokers is empty.
func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
	return &Publisher{writer: w, logger: logger}
}

// MessageSent implements chat.Notifier. Failures are logged and swallowed.
func (p *Publisher) MessageSent(ctx context.Context, m *chat.Message, partnerUID string) {
	if p == nil || p.writer == nil {
		return
	}
	ev := MessageSentEvent{
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		Sender:         m.Sender,
		Recipient:      partnerUID,
		MessageType:    string(m.Type),
		Timestamp:      m.Timestamp,
	}
	if m.PostRef != nil {
		ev.PostID = m.PostRef.PostID
	}
	value, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("marshal message event", zap.Error(err))
		return
	}
	msg := kafka.Message{Key: []byte(m.ConversationID), Value: value, Time: time.Now()}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("publish message event", zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
