// Package queue provides the Queue Adapter: a one-way, best-effort hand-off
// from admission to workers. It is never the system of record — enqueue
// failures are logged and swallowed, and consumers must fall back to
// polling the Run Store when no hint arrives (see store.ScanCandidate).
package queue

import (
	"context"
	"errors"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// ErrEmpty indicates no hint was available within the poll window; the
// caller should fall back to scanning the Run Store directly.
var ErrEmpty = errors.New("queue: no hint available")

// Adapter publishes and consumes run-id hints.
type Adapter struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

// Config configures the Kafka-backed queue hint.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// New constructs an Adapter. The writer and reader are independent; a
// worker process only needs the reader, the admission process only needs
// the writer, but both directions share the same Config/topic.
func New(cfg Config) *Adapter {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}

	var reader *kafka.Reader
	if cfg.GroupID != "" {
		reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
			GroupID: cfg.GroupID,
		})
	}

	return &Adapter{writer: writer, reader: reader}
}

// Enqueue publishes a best-effort hint that runID should be attempted. The
// admission path must treat a failure here as non-fatal: it is logged, not
// surfaced to the HTTP client, because the Run Store row already committed.
func (a *Adapter) Enqueue(ctx context.Context, runID string) error {
	return a.writer.WriteMessages(ctx, kafka.Message{
		Value: []byte(runID),
		Time:  time.Now(),
	})
}

// Consume waits up to timeout for the next hint. Returns ErrEmpty on
// timeout so callers fall back to polling, rather than blocking workers
// indefinitely on a queue that may never deliver.
func (a *Adapter) Consume(ctx context.Context, timeout time.Duration) (string, error) {
	if a.reader == nil {
		return "", ErrEmpty
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := a.reader.FetchMessage(cctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrEmpty
		}
		return "", err
	}

	if err := a.reader.CommitMessages(ctx, msg); err != nil {
		return "", err
	}

	return string(msg.Value), nil
}

// Close releases the writer and reader's underlying connections.
func (a *Adapter) Close() error {
	var firstErr error
	if a.reader != nil {
		if err := a.reader.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
