package consumers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/settlement-reconciler/internal/config"
	"github.com/settlement-reconciler/internal/platform/messaging"
)

type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// ErrPermanent marks a handler failure that retrying cannot fix.
// The consumer skips retries and dead-letters the message at once.
var ErrPermanent = errors.New("permanent message failure")

// DeadLetterSink receives messages the handler gave up on
type DeadLetterSink interface {
	PublishToDLQ(ctx context.Context, letter messaging.DeadLetter) error
}

// Consumer defines the message queue consumer interface
type Consumer interface {
	Subscribe(ctx context.Context, handler MessageHandler) error
	Close() error
}

// messageReader is the subset of *kafka.Reader the consumer relies on
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RetryPolicy bounds how often a failing message is handed back to the handler
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration // doubled after every failed attempt
}

// KafkaConsumer implements Consumer using Kafka
type KafkaConsumer struct {
	reader  messageReader
	topic   string
	groupID string
	retry   RetryPolicy
	dlq     DeadLetterSink
	logger  *slog.Logger
}

func NewKafkaConsumer(logger *slog.Logger, cfg *config.KafkaConfig, topic string, retry RetryPolicy, dlq DeadLetterSink) *KafkaConsumer {
	if retry.Backoff <= 0 {
		retry.Backoff = time.Second
	}
	startOffset := kafka.FirstOffset
	if cfg.StartOffset == kafka.LastOffset {
		startOffset = kafka.LastOffset
	}
	return &KafkaConsumer{
		logger:  logger.With("topic", topic, "group_id", cfg.ConsumerGroup),
		topic:   topic,
		groupID: cfg.ConsumerGroup,
		retry:   retry,
		dlq:     dlq,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     []string{cfg.Brokers},
			Topic:       topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			MaxWait:     cfg.MaxWait,
			StartOffset: startOffset,
		}),
	}
}

// Subscribe starts consuming in the background until ctx is cancelled.
// A message is committed once the handler succeeds or it has been dead-lettered. Transient
// failures hold the partition: the same message is handed to the handler again.
func (c *KafkaConsumer) Subscribe(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Subscribed to Kafka topic")

	go c.run(ctx, handler)
	return nil
}

func (c *KafkaConsumer) run(ctx context.Context, handler MessageHandler) {
	for {
		if ctx.Err() != nil {
			c.logger.Info("Context canceled, stopping consumer")
			return
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Context canceled, stopping consumer")
				return
			}
			c.logger.Error("Failed to fetch message from Kafka", "error", err)
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}

		c.logger.Debug("Received message from Kafka",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
		)

		for !c.handle(ctx, handler, msg) {
			if !sleep(ctx, c.retry.Backoff) {
				c.logger.Info("Context canceled, stopping consumer with message uncommitted", "offset", msg.Offset)
				return
			}
			c.logger.Warn("Redelivering message that could not be handled",
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Failed to commit message after successful processing",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
				"error", err,
			)
		}
	}
}

// handle runs the handler under the retry policy and reports whether the message may be
// committed. Permanent failures are dead-lettered; transient ones are left for redelivery.
func (c *KafkaConsumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) bool {
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, messaging.NewHeaderCarrier(&msg.Headers))

	attempts := max(c.retry.Attempts, 1)
	backoff := c.retry.Backoff
	for attempt := 1; attempt <= attempts; attempt++ {
		err := handler(msgCtx, msg.Key, msg.Value)
		if err == nil {
			return true
		}
		if errors.Is(err, ErrPermanent) {
			return c.deadLetter(ctx, msg, err)
		}
		c.logger.Warn("Failed to process message, will not commit offset",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
			"error", err,
		)
		if attempt < attempts {
			if !sleep(ctx, backoff) {
				return false
			}
			backoff *= 2
		}
	}
	return false
}

func (c *KafkaConsumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) bool {
	if c.dlq == nil {
		c.logger.Error("Dropping unprocessable message, no DLQ configured",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"error", cause,
		)
		return true
	}
	letter := messaging.DeadLetter{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Reason:    cause.Error(),
	}
	if letter.Topic == "" {
		letter.Topic = c.topic
	}
	if err := c.dlq.PublishToDLQ(ctx, letter); err != nil {
		c.logger.Error("Failed to publish message to DLQ",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"dlq_error", err,
			"original_error", cause,
		)
		return false
	}
	return true
}

func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
