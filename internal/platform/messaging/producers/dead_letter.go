package producers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/settlement-reconciler/internal/config"
	"github.com/settlement-reconciler/internal/platform/messaging"
)

var ErrDLQDisabled = errors.New("DLQ producer not initialized")

// Headers stamped on every dead letter so tooling can filter without decoding the value
const (
	HeaderDLQReason      = "dlq-reason"
	HeaderDLQOriginTopic = "dlq-origin-topic"
)

// DLQProducer writes reconcile jobs and ingestion batches the worker could not handle
type DLQProducer struct {
	logger   *slog.Logger
	writer   KafkaWriter
	dlqTopic string
}

// DLQMessage is the envelope written to the dead letter topic
type DLQMessage struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int    `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	DLQReason         string `json:"dlq_reason"`
	Timestamp         string `json:"timestamp"`
}

// NewDLQProducer returns a nil producer when cfg.DLQTopic is empty
func NewDLQProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*DLQProducer, error) {
	if cfg.DLQTopic == "" {
		logger.Info("DLQ topic is not configured. DLQProducer will not be initialized.")
		return nil, nil
	}

	if err := EnsureTopic(ctx, logger, cfg, cfg.DLQTopic); err != nil {
		return nil, fmt.Errorf("failed to ensure DLQ topic for dlq producer: %w", err)
	}

	return &DLQProducer{
		logger: logger.With("dlq_topic", cfg.DLQTopic),
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers),
			Topic:        cfg.DLQTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: cfg.MaxWait,
		},
		dlqTopic: cfg.DLQTopic,
	}, nil
}

// PublishToDLQ keeps the original key so a tenant's dead letters land on one partition
func (p *DLQProducer) PublishToDLQ(ctx context.Context, letter messaging.DeadLetter) error {
	if p == nil || p.writer == nil {
		return ErrDLQDisabled
	}

	value, err := json.Marshal(DLQMessage{
		OriginalTopic:     letter.Topic,
		OriginalPartition: letter.Partition,
		OriginalOffset:    letter.Offset,
		OriginalKey:       string(letter.Key),
		OriginalValue:     string(letter.Value),
		DLQReason:         letter.Reason,
		Timestamp:         time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message value: %w", err)
	}

	msg := kafka.Message{
		Key:   letter.Key,
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderDLQReason, Value: []byte(letter.Reason)},
			{Key: HeaderDLQOriginTopic, Value: []byte(letter.Topic)},
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, messaging.NewHeaderCarrier(&msg.Headers))

	logger := p.logger.With(
		"origin_topic", letter.Topic,
		"origin_offset", strconv.FormatInt(letter.Offset, 10),
		"key", string(letter.Key),
	)
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logger.Error("Failed to publish message to DLQ", "error", err)
		return fmt.Errorf("failed to publish message to DLQ %s: %w", p.dlqTopic, err)
	}

	logger.Warn("Dead-lettered message", "reason", letter.Reason)
	return nil
}

func (p *DLQProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	p.logger.Info("Closing DLQ Kafka message producer")
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close dlq kafka writer for topic %s: %w", p.dlqTopic, err)
	}
	return nil
}
