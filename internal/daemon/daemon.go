package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/lifehub/essence/internal/api"
	"github.com/lifehub/essence/internal/app/achievement"
	"github.com/lifehub/essence/internal/app/anticheat"
	"github.com/lifehub/essence/internal/app/engine"
	"github.com/lifehub/essence/internal/app/leveling"
	"github.com/lifehub/essence/internal/app/normalizer"
	"github.com/lifehub/essence/internal/app/reward"
	"github.com/lifehub/essence/internal/domain"
	"github.com/lifehub/essence/internal/infra/observability"
	"github.com/lifehub/essence/internal/infra/redisbus"
	"github.com/lifehub/essence/internal/infra/sqlite"
	"github.com/lifehub/essence/internal/platform/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// Daemon wiring
// ═══════════════════════════════════════════════════════════════════════════

// Daemon owns every long-lived component of a running essence service.
type Daemon struct {
	Config *Config
	Log    *logger.Logger
	DB     *sqlite.DB
	Engine *engine.Engine
	Server *api.Server

	redis     *goredis.Client
	publisher *redisbus.Publisher
	consumer  *redisbus.Consumer
	tracing   func(context.Context) error
}

// NewLogger builds the service logger from the log section.
func NewLogger(cfg *Config) (*logger.Logger, error) {
	return logger.New(cfg.Log.Mode, logger.Options{Level: cfg.Log.Level, HashSalt: cfg.Log.Salt})
}

// BuildEngine assembles an engine over store from cfg. The caller runs it.
func BuildEngine(cfg *Config, store engine.Store, notifier domain.Notifier, log *logger.Logger) (*engine.Engine, error) {
	ec, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	nc, err := cfg.NormalizerConfig()
	if err != nil {
		return nil, err
	}
	ac, err := cfg.AntiCheatConfig()
	if err != nil {
		return nil, err
	}
	guard, err := anticheat.New(ac)
	if err != nil {
		return nil, err
	}
	titles, err := cfg.TitleTable()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	eval, err := achievement.NewEvaluator(cfg.Achievements, loc)
	if err != nil {
		return nil, fmt.Errorf("achievement catalog: %w", err)
	}
	cat, err := reward.NewCatalog(cfg.Rewards)
	if err != nil {
		return nil, fmt.Errorf("reward catalog: %w", err)
	}

	for _, ref := range cfg.UnresolvedRewards() {
		log.Warn("achievement references unknown reward; grants will be deferred", "ref", ref)
	}

	return engine.New(ec, engine.Deps{
		Store:        store,
		Normalizer:   normalizer.New(nc),
		Guard:        guard,
		Leveling:     leveling.New(leveling.NewTitles(titles)),
		Achievements: eval,
		Rewards:      reward.NewManager(cat),
		Notifier:     notifier,
		Logger:       log,
	})
}

// New opens the store, connects Redis when configured and wires the engine
// and API server. Close releases what New acquired.
func New(ctx context.Context, cfg *Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	d := &Daemon{Config: cfg, Log: log}

	shutdown, err := observability.SetupTracing(ctx, cfg.TracingConfig())
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	d.tracing = shutdown

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath()), 0o755); err != nil {
		d.Close()
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sqlite.OpenFile(cfg.DBPath())
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	d.DB = db

	hub := api.NewNotificationHub()
	var notifier domain.Notifier = hub

	rcfg, err := cfg.RedisConfig()
	if err != nil {
		d.Close()
		return nil, err
	}
	if rcfg.Enabled() {
		rdb, err := redisbus.Connect(ctx, rcfg)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.redis = rdb
		// Notifications go out over pub/sub and come back into the local hub,
		// so every API instance serves every user's live feed.
		d.publisher = redisbus.NewPublisher(rdb, rcfg, log)
		notifier = d.publisher
	}

	eng, err := BuildEngine(cfg, db, notifier, log)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Engine = eng

	if d.redis != nil {
		d.consumer = redisbus.NewConsumer(d.redis, rcfg, d.sink, log)
	}

	d.Server = api.NewServer(eng, hub, log)
	if cfg.API.Metrics {
		d.Server.EnableMetrics()
	}
	d.Server.SetHealthCheck(d.health)
	return d, nil
}

// sink adapts the engine to the stream consumer.
func (d *Daemon) sink(ev domain.DomainEvent, done func(error)) error {
	return d.Engine.Submit(ev, func(_ engine.Result, err error) { done(err) })
}

func (d *Daemon) health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := d.DB.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if d.redis != nil {
		if err := d.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Run serves until ctx is cancelled or a component fails.
func (d *Daemon) Run(ctx context.Context) error {
	if rep, err := d.Engine.Reconcile(ctx, 0); err != nil {
		d.Log.Warn("startup reconcile failed", "error", err)
	} else if rep.Checked > 0 {
		d.Log.Info("startup reconcile", "checked", rep.Checked, "granted", rep.Granted, "retained", rep.Retained)
	}

	if d.publisher != nil {
		if err := d.publisher.Forward(ctx, d.Server.Hub().Broadcast); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.Engine.Run(gctx) })
	if d.consumer != nil {
		g.Go(func() error { return d.consumer.Run(gctx) })
	}

	srv := &http.Server{
		Addr:              d.Config.Addr(),
		Handler:           d.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		d.Log.Info("api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the store, Redis and tracing exporter.
func (d *Daemon) Close() error {
	var errs []error
	if d.redis != nil {
		errs = append(errs, d.redis.Close())
	}
	if d.DB != nil {
		errs = append(errs, d.DB.Close())
	}
	if d.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, d.tracing(ctx))
		cancel()
	}
	return errors.Join(errs...)
}
