package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
)

// Handler processes one decoded event.
type Handler func(ctx context.Context, event *Event) error

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig holds Kafka consumer settings. All Topics are read by one
// consumer group.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topics   []string
	MinBytes int
	MaxBytes int

	// MaxAttempts bounds handler attempts per message. Zero means 3.
	MaxAttempts uint
	// RetryInterval is the first wait between attempts. Zero means 100ms.
	RetryInterval time.Duration
}

// Consumer reads messages, runs the handler with bounded retries and commits
// the offset. Messages that keep failing go to the DLQ when one is set,
// otherwise they are logged and skipped.
type Consumer struct {
	reader    messageReader
	group     string
	handler   Handler
	dlq       DLQPublisher
	attempts  uint
	interval  time.Duration
	logger    *slog.Logger
	closeOnce sync.Once
}

// NewConsumer creates a consumer group reader over cfg.Topics. dlq may be nil.
func NewConsumer(cfg ConsumerConfig, handler Handler, dlq DLQPublisher, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
	})
	return newConsumer(r, cfg, handler, dlq, logger)
}

func newConsumer(r messageReader, cfg ConsumerConfig, handler Handler, dlq DLQPublisher, logger *slog.Logger) *Consumer {
	c := &Consumer{
		reader:   r,
		group:    cfg.GroupID,
		handler:  handler,
		dlq:      dlq,
		attempts: cfg.MaxAttempts,
		interval: cfg.RetryInterval,
		logger:   logger,
	}
	if c.attempts == 0 {
		c.attempts = 3
	}
	if c.interval <= 0 {
		c.interval = 100 * time.Millisecond
	}
	return c
}

// Start consumes until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", slog.String("group", c.group))
	defer c.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("consumer stopping", slog.String("group", c.group))
				return nil
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			continue
		}

		if err := c.process(ctx, msg); err != nil && ctx.Err() != nil {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				slog.String("topic", msg.Topic),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

// process returns an error only when ctx ended before the message was settled.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		c.logger.Error("dropping undecodable message",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		c.deadLetter(ctx, msg, err)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.interval

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.handler(ctx, event)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.attempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("handler failed, will retry",
				slog.String("event_type", event.EventType),
				slog.String("aggregate_id", event.AggregateID),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err == nil {
		consumerProcessed.WithLabelValues(msg.Topic, c.group).Inc()
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	consumerFailed.WithLabelValues(msg.Topic, c.group).Inc()
	c.logger.Error("handler failed after all retries",
		slog.String("event_type", event.EventType),
		slog.String("aggregate_id", event.AggregateID),
		slog.String("topic", msg.Topic),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
		slog.String("error", err.Error()),
	)
	c.deadLetter(ctx, msg, err)
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	if c.dlq == nil {
		return
	}
	if err := c.dlq.Publish(ctx, msg, cause, c.group); err != nil {
		c.logger.Error("failed to dead-letter message",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
	}
}

// Close closes the reader. Safe to call more than once.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
	})
	return err
}
