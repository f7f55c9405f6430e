// Package kafka implements the change-feed consumer over a Kafka topic.
// Events are JSON-encoded ChangeEvent values; offsets are committed only
// after successful handling.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/supportal/kbsearch/internal/domain"
	"github.com/supportal/kbsearch/internal/feed"
)

// Config holds broker and topic parameters.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads change events from a Kafka topic.
type Consumer struct {
	reader  *kafka.Reader
	handler feed.Handler
	logger  *zap.Logger
}

var _ feed.Consumer = (*Consumer)(nil)

// NewConsumer creates a Consumer for the given topic and handler.
func NewConsumer(cfg Config, handler feed.Handler, logger *zap.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "kbsearch"
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return &Consumer{reader: r, handler: handler, logger: logger}, nil
}

// Run enters the consume loop, fetching and processing messages until ctx
// is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("kafka feed consumer started", zap.String("topic", c.reader.Config().Topic))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka feed consumer stopping")
			return nil
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to fetch message", zap.Error(err))
			continue
		}

		var ev domain.ChangeEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			// Malformed messages would redeliver forever; commit and log.
			c.logger.Error("malformed change event",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			c.commit(ctx, msg)
			continue
		}

		if err := c.handler(ctx, ev); err != nil {
			c.logger.Error("failed to process change event",
				zap.Int64("offset", msg.Offset),
				zap.String("doc", domain.DocID(ev.Type, ev.ID)),
				zap.Error(err),
			)
			continue
		}
		c.commit(ctx, msg)
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("failed to commit message",
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
	}
}

// Ping reports readiness. The segmentio reader dials lazily; a consumer
// that exists is considered reachable, and fetch errors surface in Run.
func (c *Consumer) Ping(_ context.Context) error {
	if c.reader == nil {
		return fmt.Errorf("reader closed")
	}
	return nil
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("close reader: %w", err)
	}
	return nil
}
