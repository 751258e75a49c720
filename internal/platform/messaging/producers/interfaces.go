package producers

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// MessagePublisher writes JSON values to one topic. The key selects the partition,
// callers pass the tenant id so one tenant's messages stay in order.
type MessagePublisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
	Close() error
}

// KafkaWriter is the subset of *kafka.Writer the producers use
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var (
	_ MessagePublisher = (*TopicProducer)(nil)
	_ KafkaWriter      = (*kafka.Writer)(nil)
)
