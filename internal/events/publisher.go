package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher delivers lifecycle events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, accountID, eventType string, payload any) error
	Close() error
}

// KafkaPublisher writes lifecycle events to a single topic, keyed by
// account so per-identity ordering is preserved downstream.
type KafkaPublisher struct {
	topic  string
	mu     sync.Mutex
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Snappy,
			Async:        false,
		},
	}
}

// Publish encodes the payload as JSON and writes it with event_type and
// account_id headers.
func (p *KafkaPublisher) Publish(ctx context.Context, accountID, eventType string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(accountID),
		Value: value,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "account_id", Value: []byte(accountID)},
		},
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		recordPublishError(p.topic, eventType)
		return err
	}
	recordPublished(p.topic, eventType)
	return nil
}

// Close releases the underlying writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer.Close()
}

// NopPublisher drops all events. Used when no brokers are configured and in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, any) error { return nil }
func (NopPublisher) Close() error                                       { return nil }
