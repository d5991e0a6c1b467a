package redisbus

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lifehub/essence/internal/domain"
	"github.com/lifehub/essence/internal/infra/observability"
	"github.com/lifehub/essence/internal/platform/logger"
)

// Producer appends events to the inbound stream.
type Producer struct {
	rdb *goredis.Client
	cfg Config
}

// NewProducer creates a stream producer.
func NewProducer(rdb *goredis.Client, cfg Config) *Producer {
	return &Producer{rdb: rdb, cfg: cfg}
}

// Publish appends ev and returns the entry ID.
func (p *Producer) Publish(ctx context.Context, ev domain.DomainEvent) (string, error) {
	values, err := EncodeEvent(ev)
	if err != nil {
		return "", err
	}
	id, err := p.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: p.cfg.Stream,
		MaxLen: p.cfg.MaxLen,
		Approx: p.cfg.MaxLen > 0,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", p.cfg.Stream, err)
	}
	return id, nil
}

// ─── Notifications ──────────────────────────────────────────────────────────

// Publisher pushes committed notifications to the pub/sub channel so every
// API instance can forward them to live subscribers.
type Publisher struct {
	rdb *goredis.Client
	cfg Config
	log *logger.Logger
}

// NewPublisher creates a notification publisher.
func NewPublisher(rdb *goredis.Client, cfg Config, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Publisher{rdb: rdb, cfg: cfg, log: log.With("component", "redis_publisher", "channel", cfg.Channel)}
}

// Notify implements domain.Notifier. Failures are logged; the notification
// stays persisted for polling.
func (p *Publisher) Notify(ctx context.Context, n domain.Notification) {
	raw, err := EncodeNotification(n)
	if err != nil {
		p.log.Warn("encode notification", "error", err)
		return
	}
	if err := p.rdb.Publish(ctx, p.cfg.Channel, raw).Err(); err != nil {
		observability.NotificationsPublished.WithLabelValues("redis", "error").Inc()
		p.log.Warn("publish notification", "user_id", n.UserID, "error", err)
		return
	}
	observability.NotificationsPublished.WithLabelValues("redis", "ok").Inc()
}

// Forward subscribes to the channel and calls onMsg for every notification
// until ctx is cancelled. It returns once the subscription is confirmed.
func (p *Publisher) Forward(ctx context.Context, onMsg func(domain.Notification)) error {
	sub := p.rdb.Subscribe(ctx, p.cfg.Channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				n, err := DecodeNotification(m.Payload)
				if err != nil {
					p.log.Warn("bad notification payload", "error", err)
					continue
				}
				onMsg(n)
			}
		}
	}()
	return nil
}
