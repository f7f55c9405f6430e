// Package redis implements the change-feed consumer over a Redis Stream
// using a consumer group, so multiple service instances share the feed
// and unacknowledged events are redelivered.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/supportal/kbsearch/internal/domain"
	"github.com/supportal/kbsearch/internal/feed"
)

// Config holds connection and stream parameters.
type Config struct {
	Addrs    []string
	Password string
	Stream   string
	Group    string
	Consumer string
	// BlockMillis bounds how long one XREADGROUP call waits for events.
	BlockMillis int64
	Count       int64
}

// Consumer reads change events from a Redis Stream.
type Consumer struct {
	client  rueidis.Client
	cfg     Config
	handler feed.Handler
	logger  *zap.Logger
}

var _ feed.Consumer = (*Consumer)(nil)

// NewConsumer connects to Redis and ensures the consumer group exists.
func NewConsumer(cfg Config, handler feed.Handler, logger *zap.Logger) (*Consumer, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}
	if cfg.Stream == "" {
		return nil, fmt.Errorf("stream is required")
	}
	if cfg.Group == "" {
		cfg.Group = "kbsearch"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "kbsearch-1"
	}
	if cfg.BlockMillis <= 0 {
		cfg.BlockMillis = 5000
	}
	if cfg.Count <= 0 {
		cfg.Count = 100
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Password:     cfg.Password,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	c := &Consumer{client: client, cfg: cfg, handler: handler, logger: logger}
	if err := c.ensureGroup(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

// ensureGroup creates the consumer group, tolerating one that already
// exists.
func (c *Consumer) ensureGroup(ctx context.Context) error {
	cmd := c.client.B().XgroupCreate().Key(c.cfg.Stream).Group(c.cfg.Group).Id("$").Mkstream().Build()
	err := c.client.Do(ctx, cmd).Error()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	re, ok := rueidis.IsRedisErr(err)
	return ok && strings.Contains(re.Error(), "BUSYGROUP")
}

// Run consumes events until ctx is cancelled. Events that fail handling
// stay unacknowledged for redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("redis feed consumer started",
		zap.String("stream", c.cfg.Stream),
		zap.String("group", c.cfg.Group),
	)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("redis feed consumer stopping")
			return nil
		default:
		}

		cmd := c.client.B().Xreadgroup().
			Group(c.cfg.Group, c.cfg.Consumer).
			Count(c.cfg.Count).
			Block(c.cfg.BlockMillis).
			Streams().Key(c.cfg.Stream).Id(">").
			Build()
		res := c.client.Do(ctx, cmd)
		streams, err := res.AsXRead()
		if err != nil {
			if rueidis.IsRedisNil(err) || ctx.Err() != nil {
				continue
			}
			c.logger.Error("failed to read change feed", zap.Error(err))
			continue
		}

		for _, entries := range streams {
			for _, entry := range entries {
				c.process(ctx, entry)
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, entry rueidis.XRangeEntry) {
	ev, err := eventFromFields(entry.FieldValues)
	if err != nil {
		// Malformed entries would redeliver forever; ack and log instead.
		c.logger.Error("malformed change event",
			zap.String("entry", entry.ID),
			zap.Error(err),
		)
		c.ack(ctx, entry.ID)
		return
	}

	if err := c.handler(ctx, ev); err != nil {
		c.logger.Error("failed to process change event",
			zap.String("entry", entry.ID),
			zap.String("doc", domain.DocID(ev.Type, ev.ID)),
			zap.Error(err),
		)
		return
	}
	c.ack(ctx, entry.ID)
}

func (c *Consumer) ack(ctx context.Context, entryID string) {
	cmd := c.client.B().Xack().Key(c.cfg.Stream).Group(c.cfg.Group).Id(entryID).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		c.logger.Error("failed to ack change event",
			zap.String("entry", entryID),
			zap.Error(err),
		)
	}
}

// eventFromFields decodes the flat stream entry fields.
func eventFromFields(fields map[string]string) (domain.ChangeEvent, error) {
	ev := domain.ChangeEvent{
		Type: domain.DocType(fields["type"]),
		ID:   fields["id"],
		Op:   domain.ChangeOp(fields["op"]),
	}
	if !ev.Type.Valid() {
		return domain.ChangeEvent{}, fmt.Errorf("unknown doc type %q", fields["type"])
	}
	if ev.ID == "" {
		return domain.ChangeEvent{}, fmt.Errorf("missing id")
	}
	switch ev.Op {
	case domain.OpCreate, domain.OpUpdate, domain.OpDelete:
	default:
		return domain.ChangeEvent{}, fmt.Errorf("unknown op %q", fields["op"])
	}
	if raw := fields["revision"]; raw != "" {
		rev, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("bad revision %q: %w", raw, err)
		}
		ev.Revision = rev
	}
	return ev, nil
}

// Ping checks Redis connectivity.
func (c *Consumer) Ping(ctx context.Context) error {
	if err := c.client.Do(ctx, c.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}
