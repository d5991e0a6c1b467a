// Package redisbus carries domain events in over a Redis stream and
// notifications out over Redis pub/sub.
//
// Inbound entries hold one field, "event", whose value is the JSON event
// contract. A consumer group gives at-least-once delivery: an entry is
// acknowledged only once the engine has finished with it or rejected it as
// invalid. Entries left pending (backpressure, failures, crashes) are
// reclaimed after ClaimIdle and delivered again; the engine's processed set
// makes the redelivery harmless.
package redisbus

import (
	"context"
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config names the Redis resources.
type Config struct {
	Addr      string // host:port; empty disables Redis
	Password  string
	DB        int
	Stream    string        // inbound event stream
	Group     string        // consumer group
	Consumer  string        // this process's consumer name (default: hostname)
	Channel   string        // notification pub/sub channel
	BatchSize int64         // entries per read
	Block     time.Duration // read block timeout
	ClaimIdle time.Duration // reclaim entries pending longer than this
	MaxLen    int64         // approximate stream trim length on produce; 0 = unbounded
}

// DefaultConfig returns the stock stream and group names.
func DefaultConfig() Config {
	return Config{
		Stream:    "essence:events",
		Group:     "essence-engine",
		Channel:   "essence:notifications",
		BatchSize: 32,
		Block:     2 * time.Second,
		ClaimIdle: time.Minute,
		MaxLen:    100_000,
	}
}

// Enabled reports whether an address is configured.
func (c Config) Enabled() bool { return c.Addr != "" }

func (c Config) consumer() string {
	if c.Consumer != "" {
		return c.Consumer
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "essence"
}

// Connect opens a client and verifies it with PING.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("redis: no address configured")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
