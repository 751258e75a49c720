package consumers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlement-reconciler/internal/config"
	"github.com/settlement-reconciler/internal/platform/messaging"
)

// fakeReader serves queued messages and records commits
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeDLQ struct {
	mu      sync.Mutex
	letters []messaging.DeadLetter
	err     error
}

func (d *fakeDLQ) PublishToDLQ(_ context.Context, letter messaging.DeadLetter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.letters = append(d.letters, letter)
	return d.err
}

func newTestConsumer(reader *fakeReader, dlq DeadLetterSink) *KafkaConsumer {
	return &KafkaConsumer{
		reader: reader,
		topic:  "reconciliation_requests",
		retry:  RetryPolicy{Attempts: 2, Backoff: time.Millisecond},
		dlq:    dlq,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, nil)),
	}
}

func messages(n int) []kafka.Message {
	out := make([]kafka.Message, n)
	for i := range out {
		out[i] = kafka.Message{Offset: int64(i), Key: []byte(fmt.Sprintf("k%d", i)), Value: []byte(`{}`)}
	}
	return out
}

func TestNewKafkaConsumer(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := &config.KafkaConfig{
		Brokers:       "localhost:9092",
		ConsumerGroup: "test-group",
		MinBytes:      1024,
		MaxBytes:      10240,
		MaxWait:       time.Second,
	}

	consumer := NewKafkaConsumer(logger, cfg, "reconciliation_requests", RetryPolicy{Attempts: 3}, nil)
	require.NotNil(t, consumer)
	require.NotNil(t, consumer.reader)
	assert.Equal(t, "reconciliation_requests", consumer.topic)
	assert.Equal(t, time.Second, consumer.retry.Backoff, "zero backoff defaults to a second")
	require.NoError(t, consumer.Close())
}

func TestKafkaConsumer_CommitsHandledMessages(t *testing.T) {
	reader := &fakeReader{queue: messages(3)}
	consumer := newTestConsumer(reader, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled sync.WaitGroup
	handled.Add(3)
	require.NoError(t, consumer.Subscribe(ctx, func(context.Context, []byte, []byte) error {
		handled.Done()
		return nil
	}))
	handled.Wait()

	assert.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{0, 1, 2}, reader.commits())
}

func TestKafkaConsumer_RetriesTransientFailures(t *testing.T) {
	reader := &fakeReader{queue: messages(1)}
	consumer := newTestConsumer(reader, &fakeDLQ{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	require.NoError(t, consumer.Subscribe(ctx, func(context.Context, []byte, []byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 4 {
			return errors.New("reconciliation already in progress")
		}
		return nil
	}))

	assert.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 4, calls, "the same message is redelivered until it succeeds")
	mu.Unlock()
}

func TestKafkaConsumer_DeadLettersPermanentFailures(t *testing.T) {
	reader := &fakeReader{queue: messages(2)}
	dlq := &fakeDLQ{}
	consumer := newTestConsumer(reader, dlq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, consumer.Subscribe(ctx, func(_ context.Context, key []byte, _ []byte) error {
		if string(key) == "k0" {
			return fmt.Errorf("%w: invalid json", ErrPermanent)
		}
		return nil
	}))

	assert.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, 5*time.Millisecond)
	dlq.mu.Lock()
	defer dlq.mu.Unlock()
	require.Len(t, dlq.letters, 1)
	assert.Contains(t, dlq.letters[0].Reason, "invalid json")
	assert.Equal(t, "reconciliation_requests", dlq.letters[0].Topic)
	assert.Equal(t, "k0", string(dlq.letters[0].Key))
	assert.Equal(t, int64(0), dlq.letters[0].Offset)
}

func TestKafkaConsumer_StopsOnCancel(t *testing.T) {
	reader := &fakeReader{queue: messages(1)}
	consumer := newTestConsumer(reader, nil)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var once sync.Once
	require.NoError(t, consumer.Subscribe(ctx, func(context.Context, []byte, []byte) error {
		once.Do(func() { close(started) })
		return errors.New("storage unavailable")
	}))

	<-started
	cancel()
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, reader.commits())
}

func TestKafkaConsumer_Close(t *testing.T) {
	consumer := &KafkaConsumer{reader: nil, logger: slog.New(slog.NewJSONHandler(os.Stdout, nil))}
	require.NoError(t, consumer.Close())

	reader := &fakeReader{}
	consumer = newTestConsumer(reader, nil)
	require.NoError(t, consumer.Close())
	assert.True(t, reader.closed)
}
