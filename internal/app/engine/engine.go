// Package engine runs the gamification pipeline: normalize, guard, credit,
// evaluate achievements, grant rewards, commit atomically, notify.
//
// Ingestion is fire-and-forget. Submit validates the event and hands it to
// the user's lane; each lane is a single goroutine, so one user's events are
// applied in arrival order while different users proceed in parallel.
// Version conflicts are retried with a fresh snapshot, then requeued through
// a delay queue with exponential backoff.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lifehub/essence/internal/app/achievement"
	"github.com/lifehub/essence/internal/app/anticheat"
	"github.com/lifehub/essence/internal/app/leveling"
	"github.com/lifehub/essence/internal/app/normalizer"
	"github.com/lifehub/essence/internal/app/reward"
	"github.com/lifehub/essence/internal/domain"
	"github.com/lifehub/essence/internal/infra/dsa"
	"github.com/lifehub/essence/internal/infra/observability"
	"github.com/lifehub/essence/internal/platform/logger"
)

// Config controls lanes, retries and housekeeping.
type Config struct {
	Lanes              int           // worker goroutines (default: 8)
	LaneBuffer         int           // queued events per lane before backpressure (default: 256)
	MaxRetries         int           // immediate reloads after a stale write (default: 3)
	RequeueDelay       time.Duration // first delayed retry (default: 250ms)
	MaxRequeueDelay    time.Duration // backoff ceiling (default: 30s)
	MaxRequeues        int           // delayed retries for store failures; stale writes are never dropped (default: 10)
	ProcessedRetention time.Duration // idempotency window (default: 7 days)
	PruneInterval      time.Duration // processed-set pruning period (default: 1h)
	Bloom              dsa.BloomConfig
}

// DefaultConfig returns safe engine defaults.
func DefaultConfig() Config {
	return Config{
		Lanes:              8,
		LaneBuffer:         256,
		MaxRetries:         3,
		RequeueDelay:       250 * time.Millisecond,
		MaxRequeueDelay:    30 * time.Second,
		MaxRequeues:        10,
		ProcessedRetention: 7 * 24 * time.Hour,
		PruneInterval:      time.Hour,
		Bloom:              dsa.DefaultBloomConfig(),
	}
}

// Store is everything the engine needs from persistence.
type Store interface {
	domain.ProgressionStore
	domain.ProgressionQueries
}

// Deps are the collaborators the engine is assembled from.
type Deps struct {
	Store        Store
	Normalizer   *normalizer.Normalizer
	Guard        *anticheat.Guard
	Leveling     *leveling.Engine
	Achievements *achievement.Evaluator
	Rewards      *reward.Manager
	Notifier     domain.Notifier // optional
	Logger       *logger.Logger  // optional
}

// Callback receives the final result of a submitted event.
type Callback func(Result, error)

type job struct {
	event   domain.CanonicalEvent
	done    Callback
	requeue int
}

// Engine is the event pipeline plus its query surface.
type Engine struct {
	cfg      Config
	store    Store
	norm     *normalizer.Normalizer
	guard    *anticheat.Guard
	leveling *leveling.Engine
	achieve  *achievement.Evaluator
	rewards  *reward.Manager
	notifier domain.Notifier
	log      *logger.Logger
	tracer   trace.Tracer

	ring    *dsa.LaneRing
	lanes   []chan job
	delayed *dsa.DelayQueue
	seen    *dsa.SeenFilter

	mu      sync.RWMutex
	closed  bool
	running bool

	now func() time.Time // injectable clock for testing
}

// New assembles an engine. Lanes are created immediately, so Submit may be
// called before Run; events wait in their lane until Run starts the workers.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil || deps.Normalizer == nil || deps.Guard == nil ||
		deps.Leveling == nil || deps.Achievements == nil || deps.Rewards == nil {
		return nil, errors.New("engine: missing dependency")
	}
	def := DefaultConfig()
	if cfg.Lanes <= 0 {
		cfg.Lanes = def.Lanes
	}
	if cfg.LaneBuffer <= 0 {
		cfg.LaneBuffer = def.LaneBuffer
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = def.RequeueDelay
	}
	if cfg.MaxRequeueDelay < cfg.RequeueDelay {
		cfg.MaxRequeueDelay = cfg.RequeueDelay
	}
	if cfg.ProcessedRetention <= 0 {
		cfg.ProcessedRetention = def.ProcessedRetention
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = def.PruneInterval
	}
	if cfg.Bloom.ExpectedItems <= 0 {
		cfg.Bloom = def.Bloom
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = MultiNotifier{}
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}

	e := &Engine{
		cfg:      cfg,
		store:    deps.Store,
		norm:     deps.Normalizer,
		guard:    deps.Guard,
		leveling: deps.Leveling,
		achieve:  deps.Achievements,
		rewards:  deps.Rewards,
		notifier: notifier,
		log:      log.With("component", "engine"),
		tracer:   otel.Tracer("github.com/lifehub/essence/internal/app/engine"),
		ring:     dsa.NewLaneRing(dsa.LaneRingConfig{Lanes: cfg.Lanes, VirtualNodes: dsa.DefaultLaneRingConfig().VirtualNodes}),
		lanes:    make([]chan job, cfg.Lanes),
		delayed:  dsa.NewDelayQueue(),
		seen:     dsa.NewSeenFilter(cfg.Bloom),
		now:      time.Now,
	}
	for i := range e.lanes {
		e.lanes[i] = make(chan job, cfg.LaneBuffer)
	}
	return e, nil
}

// SetClock overrides the clock used for decisions, ledger rows and backoff.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.delayed.SetClock(now)
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// ─── Ingestion ──────────────────────────────────────────────────────────────

// Submit validates ev and enqueues it on its user's lane. It returns
// immediately: *domain.InvalidEventError for malformed events,
// domain.ErrBackpressure when the lane is full, domain.ErrEngineClosed after
// shutdown. done, if non-nil, is called once with the final outcome.
func (e *Engine) Submit(ev domain.DomainEvent, done Callback) error {
	ce, err := e.norm.Normalize(ev)
	if err != nil {
		observability.EventsTotal.WithLabelValues(string(OutcomeInvalid)).Inc()
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return domain.ErrEngineClosed
	}

	lane := e.ring.LaneFor(ce.UserID)
	depth := observability.LaneDepth.WithLabelValues(strconv.Itoa(lane))
	depth.Inc()
	select {
	case e.lanes[lane] <- job{event: ce, done: done}:
		return nil
	default:
		depth.Dec()
		observability.EventsTotal.WithLabelValues(string(OutcomeBackpressure)).Inc()
		return domain.ErrBackpressure
	}
}

// SubmitAndWait submits ev and blocks until it completes or ctx ends.
func (e *Engine) SubmitAndWait(ctx context.Context, ev domain.DomainEvent) (Result, error) {
	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 1)
	if err := e.Submit(ev, func(r Result, err error) { ch <- outcome{r, err} }); err != nil {
		return Result{}, err
	}
	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Run starts the lane workers, the requeue poller and the processed-set
// pruner, and blocks until ctx is cancelled. Events still queued at shutdown
// are completed with ctx's error.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running || e.closed {
		e.mu.Unlock()
		return fmt.Errorf("engine: already started")
	}
	e.running = true
	e.mu.Unlock()

	e.log.Info("engine started", "lanes", e.cfg.Lanes, "lane_buffer", e.cfg.LaneBuffer)

	g, gctx := errgroup.WithContext(ctx)
	for i := range e.lanes {
		lane := i
		g.Go(func() error {
			e.runLane(gctx, lane)
			return nil
		})
	}
	g.Go(func() error {
		e.runRequeue(gctx)
		return nil
	})
	g.Go(func() error {
		e.runPruner(gctx)
		return nil
	})

	<-gctx.Done()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	err := g.Wait()

	e.drain(ctx.Err())
	e.log.Info("engine stopped")
	return err
}

func (e *Engine) runLane(ctx context.Context, lane int) {
	depth := observability.LaneDepth.WithLabelValues(strconv.Itoa(lane))
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.lanes[lane]:
			depth.Dec()
			e.handle(ctx, j)
		}
	}
}

// handle processes one job and routes failures to the delay queue.
func (e *Engine) handle(ctx context.Context, j job) {
	res, err := e.Process(ctx, j.event)
	if err == nil {
		if j.done != nil {
			j.done(res, nil)
		}
		return
	}
	if ctx.Err() != nil {
		if j.done != nil {
			j.done(res, ctx.Err())
		}
		return
	}

	stale := errors.Is(err, domain.ErrStaleWrite)
	if !stale && j.requeue >= e.cfg.MaxRequeues {
		observability.EventsTotal.WithLabelValues(string(OutcomeFailed)).Inc()
		e.log.Error("event failed", "event_id", j.event.EventID, "user_id", j.event.UserID,
			"requeues", j.requeue, "error", err)
		if j.done != nil {
			j.done(res, err)
		}
		return
	}

	j.requeue++
	delay := e.backoff(j.requeue)
	e.delayed.Push(dsa.DelayItem{
		Key:     j.event.EventID,
		Due:     e.now().Add(delay),
		Attempt: j.requeue,
		Value:   j,
	})
	observability.Requeues.Inc()
	observability.DelayQueueDepth.Set(float64(e.delayed.Len()))
	observability.EventsTotal.WithLabelValues(string(OutcomeRequeued)).Inc()
	e.log.Warn("event requeued", "event_id", j.event.EventID, "user_id", j.event.UserID,
		"attempt", j.requeue, "delay", delay, "error", err)
}

// backoff doubles RequeueDelay per attempt up to MaxRequeueDelay.
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.cfg.RequeueDelay
	for i := 1; i < attempt && d < e.cfg.MaxRequeueDelay; i++ {
		d *= 2
	}
	if d > e.cfg.MaxRequeueDelay {
		d = e.cfg.MaxRequeueDelay
	}
	return d
}

// runRequeue moves due items from the delay queue back onto their lanes.
// A requeued event waits for lane space rather than being dropped.
func (e *Engine) runRequeue(ctx context.Context) {
	tick := e.cfg.RequeueDelay / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		due := e.delayed.PopDue()
		for i, item := range due {
			j := item.Value.(job)
			lane := e.ring.LaneFor(j.event.UserID)
			depth := observability.LaneDepth.WithLabelValues(strconv.Itoa(lane))
			depth.Inc()
			select {
			case e.lanes[lane] <- j:
			case <-ctx.Done():
				depth.Dec()
				for _, rest := range due[i:] {
					e.delayed.Push(rest)
				}
				return
			}
		}
		observability.DelayQueueDepth.Set(float64(e.delayed.Len()))
	}
}

func (e *Engine) runPruner(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Prune(ctx); err != nil {
				e.log.Warn("prune processed events", "error", err)
			}
		}
	}
}

// Prune drops processed-set entries older than the retention window.
func (e *Engine) Prune(ctx context.Context) (int64, error) {
	before := e.now().Add(-e.cfg.ProcessedRetention)
	n, err := e.store.PruneProcessed(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("prune processed: %w", err)
	}
	if n > 0 {
		e.log.Info("pruned processed events", "count", n, "before", before)
	}
	return n, nil
}

// drain completes every job left in lanes or the delay queue with err.
func (e *Engine) drain(err error) {
	if err == nil {
		err = domain.ErrEngineClosed
	}
	for i, ch := range e.lanes {
		for {
			select {
			case j := <-ch:
				observability.LaneDepth.WithLabelValues(strconv.Itoa(i)).Dec()
				if j.done != nil {
					j.done(Result{EventID: j.event.EventID, UserID: j.event.UserID}, err)
				}
				continue
			default:
			}
			break
		}
	}
	for _, item := range e.delayed.Drain() {
		j := item.Value.(job)
		if j.done != nil {
			j.done(Result{EventID: j.event.EventID, UserID: j.event.UserID}, err)
		}
	}
	observability.DelayQueueDepth.Set(0)
}
