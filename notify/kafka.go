package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the Kafka provider uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures queued delivery. A downstream worker owns the actual
// SMS/email transmission.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Kafka publishes notifications to a topic, keyed by user so a user's
// messages stay ordered within a partition.
type Kafka struct {
	writer MessageWriter
	topic  string
}

type kafkaPayload struct {
	Channel string    `json:"channel"`
	UserID  string    `json:"user_id"`
	To      string    `json:"to"`
	Subject string    `json:"subject,omitempty"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// NewKafka builds a notifier that publishes one JSON record per message.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("notify: kafka brokers and topic are required")
	}
	return NewKafkaWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}, cfg.Topic), nil
}

// NewKafkaWithWriter wraps an existing writer. If the writer already has a
// topic configured, topic must be empty.
func NewKafkaWithWriter(w MessageWriter, topic string) *Kafka {
	if kw, ok := w.(*kafka.Writer); ok && kw.Topic != "" {
		topic = ""
	}
	return &Kafka{writer: w, topic: topic}
}

func (k *Kafka) Send(ctx context.Context, msg Message) error {
	now := time.Now().UTC()
	value, err := json.Marshal(kafkaPayload{
		Channel: msg.Channel,
		UserID:  msg.UserID,
		To:      msg.To,
		Subject: msg.Subject,
		Body:    msg.Body,
		SentAt:  now,
	})
	if err != nil {
		return fmt.Errorf("notify: kafka marshal: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic: k.topic,
		Key:   []byte(msg.UserID),
		Value: value,
		Time:  now,
	}); err != nil {
		return fmt.Errorf("notify: kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error { return k.writer.Close() }
