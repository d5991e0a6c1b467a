package redisbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lifehub/essence/internal/domain"
	"github.com/lifehub/essence/internal/infra/observability"
	"github.com/lifehub/essence/internal/platform/logger"
)

// Sink accepts a decoded event. It returns synchronously for rejections
// (invalid, backpressure, closed) and later calls done with the final outcome.
type Sink func(ev domain.DomainEvent, done func(error)) error

// Consumer reads the event stream through a consumer group.
type Consumer struct {
	rdb  *goredis.Client
	cfg  Config
	name string
	sink Sink
	log  *logger.Logger

	// ack is XACK by default; replaced in tests.
	ack func(ctx context.Context, ids ...string) error
}

// NewConsumer creates a stream consumer feeding sink.
func NewConsumer(rdb *goredis.Client, cfg Config, sink Sink, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.NewNop()
	}
	c := &Consumer{
		rdb:  rdb,
		cfg:  cfg,
		name: cfg.consumer(),
		sink: sink,
		log:  log.With("component", "redis_consumer", "stream", cfg.Stream, "group", cfg.Group),
	}
	c.ack = func(ctx context.Context, ids ...string) error {
		return c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, ids...).Err()
	}
	return c
}

// EnsureGroup creates the stream and consumer group if missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Run reads until ctx is cancelled. Pending entries idle longer than
// ClaimIdle are reclaimed between reads.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	c.log.Info("consumer started", "consumer", c.name)

	lastClaim := time.Time{}
	for {
		if ctx.Err() != nil {
			c.log.Info("consumer stopped")
			return nil
		}

		if c.cfg.ClaimIdle > 0 && time.Since(lastClaim) >= c.cfg.ClaimIdle {
			lastClaim = time.Now()
			if err := c.reclaim(ctx); err != nil && ctx.Err() == nil {
				c.log.Warn("reclaim pending entries", "error", err)
			}
		}

		streams, err := c.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.name,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.BatchSize,
			Block:    c.cfg.Block,
		}).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			c.log.Warn("read stream", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				c.handle(ctx, msg)
			}
		}
	}
}

// reclaim takes over entries pending longer than ClaimIdle, from any
// consumer in the group including this one.
func (c *Consumer) reclaim(ctx context.Context) error {
	start := "0-0"
	for {
		msgs, next, err := c.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.name,
			MinIdle:  c.cfg.ClaimIdle,
			Start:    start,
			Count:    c.cfg.BatchSize,
		}).Result()
		if err != nil {
			return err
		}
		if len(msgs) > 0 {
			c.log.Info("reclaimed pending entries", "count", len(msgs))
		}
		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
		if next == "0-0" || next == "" || len(msgs) == 0 {
			return nil
		}
		start = next
	}
}

// handle decodes one entry and hands it to the sink. Acknowledgement
// follows the event's outcome.
func (c *Consumer) handle(ctx context.Context, msg goredis.XMessage) {
	ev, err := DecodeEvent(msg.Values)
	if err != nil {
		c.log.Warn("dropping malformed entry", "id", msg.ID, "error", err)
		observability.StreamMessages.WithLabelValues("invalid").Inc()
		c.ackID(msg.ID)
		return
	}

	err = c.sink(ev, func(err error) {
		if err != nil {
			observability.StreamMessages.WithLabelValues("failed").Inc()
			c.log.Warn("event failed, left pending", "id", msg.ID, "event_id", ev.EventID, "error", err)
			return
		}
		observability.StreamMessages.WithLabelValues("acked").Inc()
		c.ackID(msg.ID)
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidEvent):
		observability.StreamMessages.WithLabelValues("invalid").Inc()
		c.log.Warn("rejecting invalid event", "id", msg.ID, "event_id", ev.EventID, "error", err)
		c.ackID(msg.ID)
	case errors.Is(err, domain.ErrBackpressure):
		observability.StreamMessages.WithLabelValues("backpressure").Inc()
		c.log.Debug("backpressure, left pending", "id", msg.ID, "event_id", ev.EventID)
	default:
		observability.StreamMessages.WithLabelValues("failed").Inc()
		if ctx.Err() == nil {
			c.log.Warn("submit failed, left pending", "id", msg.ID, "event_id", ev.EventID, "error", err)
		}
	}
}

// ackID acknowledges with its own deadline; done callbacks may fire after
// the read context has ended.
func (c *Consumer) ackID(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.ack(ctx, id); err != nil {
		c.log.Warn("ack entry", "id", id, "error", err)
	}
}
