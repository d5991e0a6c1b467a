package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lifehub/essence/internal/app/achievement"
	"github.com/lifehub/essence/internal/app/anticheat"
	"github.com/lifehub/essence/internal/app/leveling"
	"github.com/lifehub/essence/internal/app/normalizer"
	"github.com/lifehub/essence/internal/app/reward"
	"github.com/lifehub/essence/internal/domain"
	"github.com/lifehub/essence/internal/infra/sqlite"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

// ─── Fixtures ───────────────────────────────────────────────────────────────

type fixture struct {
	cfg     Config
	guard   anticheat.Config
	essence map[string]int64
	defs    []domain.AchievementDefinition
	rewards []domain.RewardDefinition
}

func defaultFixture() fixture {
	cfg := DefaultConfig()
	cfg.Lanes = 2
	cfg.LaneBuffer = 64
	cfg.RequeueDelay = 10 * time.Millisecond
	cfg.MaxRequeueDelay = 40 * time.Millisecond
	return fixture{
		cfg:     cfg,
		guard:   anticheat.DefaultConfig(),
		essence: normalizer.DefaultConfig().EssenceBase,
		defs:    achievement.DefaultCatalog(),
		rewards: reward.DefaultCatalog(),
	}
}

// plainGuard has a generous rate limit and no decay, cap or instant check.
func plainGuard() anticheat.Config {
	return anticheat.Config{
		RateLimits: map[string]anticheat.RateLimit{"*": {Limit: 100, Window: time.Hour}},
		Decay:      anticheat.Decay{Kind: anticheat.DecayNone},
	}
}

type recorder struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *recorder) Notify(_ context.Context, n domain.Notification) {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
}

func (r *recorder) count(typ domain.NotificationType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.sent {
		if x.Type == typ {
			n++
		}
	}
	return n
}

type harness struct {
	e     *Engine
	db    *sqlite.DB
	notes *recorder
	now   time.Time
}

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func (f fixture) build(t *testing.T, db *sqlite.DB, store Store) *harness {
	t.Helper()
	if store == nil {
		store = db
	}
	h := &harness{db: db, notes: &recorder{}, now: t0}

	ncfg := normalizer.DefaultConfig()
	ncfg.EssenceBase = f.essence
	norm := normalizer.New(ncfg)
	norm.SetClock(func() time.Time { return h.now })

	guard, err := anticheat.New(f.guard)
	if err != nil {
		t.Fatalf("anticheat.New() error: %v", err)
	}
	eval, err := achievement.NewEvaluator(f.defs, time.UTC)
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}
	cat, err := reward.NewCatalog(f.rewards)
	if err != nil {
		t.Fatalf("NewCatalog() error: %v", err)
	}

	e, err := New(f.cfg, Deps{
		Store:        store,
		Normalizer:   norm,
		Guard:        guard,
		Leveling:     leveling.New(leveling.NewTitles(leveling.DefaultTitleTable())),
		Achievements: eval,
		Rewards:      reward.NewManager(cat),
		Notifier:     h.notes,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	e.SetClock(func() time.Time { return h.now })
	h.e = e
	return h
}

func taskEvent(id string, at time.Time) domain.DomainEvent {
	return domain.DomainEvent{
		EventID: id, UserID: "u1", SourceDomain: domain.DomainTodo, EventType: "task_completed", OccurredAt: at,
	}
}

func habitEvent(id string, at time.Time) domain.DomainEvent {
	return domain.DomainEvent{
		EventID: id, UserID: "u1", SourceDomain: domain.DomainHabits, EventType: "habit_completed", OccurredAt: at,
	}
}

// process normalizes and applies ev synchronously at ev's time plus one minute.
func (h *harness) process(t *testing.T, ev domain.DomainEvent) Result {
	t.Helper()
	h.now = ev.OccurredAt.Add(time.Minute)
	ce, err := h.e.norm.Normalize(ev)
	if err != nil {
		t.Fatalf("Normalize(%s) error: %v", ev.EventID, err)
	}
	res, err := h.e.Process(context.Background(), ce)
	if err != nil {
		t.Fatalf("Process(%s) error: %v", ev.EventID, err)
	}
	return res
}

func hasUnlock(res Result, id string) bool {
	for _, u := range res.Unlocks {
		if u.AchievementID == id {
			return true
		}
	}
	return false
}

// ─── Config Tests ───────────────────────────────────────────────────────────

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Lanes != 8 {
		t.Errorf("Lanes = %d, want 8", cfg.Lanes)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.ProcessedRetention != 7*24*time.Hour {
		t.Errorf("ProcessedRetention = %v, want 168h", cfg.ProcessedRetention)
	}
}

func TestNew_MissingDependency(t *testing.T) {
	if _, err := New(DefaultConfig(), Deps{}); err == nil {
		t.Error("New() with no deps should fail")
	}
}

func TestBackoff(t *testing.T) {
	f := defaultFixture()
	h := f.build(t, newTestDB(t), nil)
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{9, 40 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := h.e.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

// ─── Pipeline Tests ─────────────────────────────────────────────────────────

func TestProcess_FirstTask(t *testing.T) {
	f := defaultFixture()
	h := f.build(t, newTestDB(t), nil)

	res := h.process(t, taskEvent("e1", t0))
	if res.Outcome != OutcomeApplied {
		t.Fatalf("Outcome = %s, want applied", res.Outcome)
	}
	// 20 base + 50 first_task bonus.
	if res.EssenceCredited != 70 || res.TotalEssence != 70 {
		t.Errorf("credited = %d total = %d, want 70/70", res.EssenceCredited, res.TotalEssence)
	}
	if !hasUnlock(res, "first_task") {
		t.Errorf("Unlocks = %+v, want first_task", res.Unlocks)
	}
	if len(res.RewardsGranted) != 1 || res.RewardsGranted[0] != "emoji_fire" {
		t.Errorf("RewardsGranted = %v, want [emoji_fire]", res.RewardsGranted)
	}

	for typ, want := range map[domain.NotificationType]int{
		domain.NotifyEssenceGained:       1,
		domain.NotifyAchievementUnlocked: 1,
		domain.NotifyRewardUnlocked:      1,
		domain.NotifyLevelUp:             0,
	} {
		if got := h.notes.count(typ); got != want {
			t.Errorf("%s notifications = %d, want %d", typ, got, want)
		}
	}

	ctx := context.Background()
	ledger, err := h.e.ListTransactions(ctx, "u1")
	if err != nil {
		t.Fatalf("ListTransactions() error: %v", err)
	}
	if len(ledger) != 2 {
		t.Fatalf("ledger rows = %d, want 2", len(ledger))
	}
	pending, err := h.e.PendingNotifications(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("PendingNotifications() error: %v", err)
	}
	if len(pending) != 3 {
		t.Errorf("persisted notifications = %d, want 3", len(pending))
	}
	decisions, err := h.e.ListDecisions(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListDecisions() error: %v", err)
	}
	if len(decisions) != 1 || !decisions[0].CountsTowardProgress {
		t.Errorf("decisions = %+v", decisions)
	}
}

func TestProcess_Idempotent(t *testing.T) {
	f := defaultFixture()
	db := newTestDB(t)
	h := f.build(t, db, nil)

	first := h.process(t, taskEvent("e1", t0))
	second := h.process(t, taskEvent("e1", t0))
	if second.Outcome != OutcomeDuplicate {
		t.Errorf("replay Outcome = %s, want duplicate", second.Outcome)
	}

	// A fresh engine has an empty filter; the store still rejects the replay.
	h2 := f.build(t, db, nil)
	third := h2.process(t, taskEvent("e1", t0))
	if third.Outcome != OutcomeDuplicate {
		t.Errorf("replay on fresh engine Outcome = %s, want duplicate", third.Outcome)
	}

	prof, err := h.e.GetProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetProfile() error: %v", err)
	}
	if prof.Essence != first.TotalEssence {
		t.Errorf("Essence = %d, want %d", prof.Essence, first.TotalEssence)
	}
	ledger, _ := h.e.ListTransactions(context.Background(), "u1")
	if len(ledger) != 2 {
		t.Errorf("ledger rows = %d, want 2", len(ledger))
	}
}

func TestProcess_ScenarioA_LevelUp(t *testing.T) {
	f := defaultFixture()
	f.guard = plainGuard()
	f.essence = map[string]int64{"todo:task_completed": 250}
	f.defs = nil
	h := f.build(t, newTestDB(t), nil)

	r1 := h.process(t, taskEvent("e1", t0))
	if r1.TotalEssence != 250 || r1.Level != 1 || r1.LeveledUp {
		t.Errorf("after e1: total=%d level=%d up=%v, want 250/1/false", r1.TotalEssence, r1.Level, r1.LeveledUp)
	}
	r2 := h.process(t, taskEvent("e2", t0.Add(time.Minute)))
	if r2.TotalEssence != 500 || r2.Level != 2 || !r2.LeveledUp {
		t.Errorf("after e2: total=%d level=%d up=%v, want 500/2/true", r2.TotalEssence, r2.Level, r2.LeveledUp)
	}
	if got := h.notes.count(domain.NotifyLevelUp); got != 1 {
		t.Errorf("level-up notifications = %d, want 1", got)
	}

	prof, err := h.e.GetProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetProfile() error: %v", err)
	}
	if prof.Level != 2 || prof.Progress.EssenceToNext != 400 {
		t.Errorf("profile level=%d toNext=%d, want 2/400", prof.Level, prof.Progress.EssenceToNext)
	}
	if prof.Title != leveling.NewTitles(leveling.DefaultTitleTable()).For(2) {
		t.Errorf("Title = %q", prof.Title)
	}
}

func TestProcess_ScenarioB_SevenDayStreak(t *testing.T) {
	f := defaultFixture()
	h := f.build(t, newTestDB(t), nil)

	for day := 1; day <= 8; day++ {
		res := h.process(t, habitEvent(fmt.Sprintf("h%d", day), t0.AddDate(0, 0, day-1)))
		got := hasUnlock(res, "habit_streak")
		if got != (day == 7) {
			t.Errorf("day %d habit_streak unlocked = %v, want %v", day, got, day == 7)
		}
	}

	views, err := h.e.ListAchievements(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListAchievements() error: %v", err)
	}
	for _, v := range views {
		if v.AchievementID != "habit_streak" {
			continue
		}
		if !v.Unlocked || v.TiersUnlocked != 1 || v.Progress != 8 || v.Target != 30 {
			t.Errorf("habit_streak view = %+v, want unlocked tier 1, progress 8/30", v)
		}
		return
	}
	t.Error("habit_streak missing from ListAchievements")
}

func TestProcess_RateLimitedEventDoesNotProgress(t *testing.T) {
	f := defaultFixture()
	f.guard = plainGuard()
	f.guard.RateLimits = map[string]anticheat.RateLimit{"todo": {Limit: 1, Window: time.Hour}}
	h := f.build(t, newTestDB(t), nil)

	h.process(t, taskEvent("e1", t0))
	res := h.process(t, taskEvent("e2", t0.Add(time.Minute)))
	if res.Decision.CountsTowardProgress || !res.Decision.Has(domain.ReasonRateLimited) {
		t.Errorf("decision = %+v, want rate limited", res.Decision)
	}
	if res.EssenceCredited != 0 {
		t.Errorf("EssenceCredited = %d, want 0", res.EssenceCredited)
	}

	views, _ := h.e.ListAchievements(context.Background(), "u1")
	for _, v := range views {
		if v.AchievementID == "task_10" && v.Progress != 1 {
			t.Errorf("task_10 progress = %d, want 1", v.Progress)
		}
	}
}

func TestProcess_UnknownRewardDeferred(t *testing.T) {
	f := defaultFixture()
	f.guard = plainGuard()
	f.defs = []domain.AchievementDefinition{{
		ID: "crowned", Name: "Crowned", Type: domain.AchievementMilestone,
		Criteria: domain.Criteria{Condition: domain.ConditionFirstEvent},
		RewardID: "title_crown", EssenceReward: 10,
	}}
	db := newTestDB(t)
	h := f.build(t, db, nil)

	res := h.process(t, taskEvent("e1", t0))
	if !hasUnlock(res, "crowned") {
		t.Fatalf("Unlocks = %+v, want crowned", res.Unlocks)
	}
	if len(res.RewardsGranted) != 0 {
		t.Errorf("RewardsGranted = %v, want none", res.RewardsGranted)
	}
	if res.EssenceCredited != 30 {
		t.Errorf("EssenceCredited = %d, want 30", res.EssenceCredited)
	}

	ctx := context.Background()
	rep, err := h.e.Reconcile(ctx, 0)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if rep.Checked != 1 || rep.Retained != 1 {
		t.Errorf("report = %+v, want 1 checked 1 retained", rep)
	}

	// The catalog gains the reward; reconciliation grants it.
	f.rewards = append(f.rewards, domain.RewardDefinition{ID: "title_crown", Name: "The Crowned", Type: domain.RewardTitle, Payload: "The Crowned"})
	h2 := f.build(t, db, nil)
	rep, err = h2.e.Reconcile(ctx, 0)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if rep.Granted != 1 {
		t.Errorf("report = %+v, want 1 granted", rep)
	}
	rewards, err := h2.e.ListRewards(ctx, "u1")
	if err != nil {
		t.Fatalf("ListRewards() error: %v", err)
	}
	if len(rewards) != len(f.rewards) || rewards[0].ID != "title_crown" || !rewards[0].Owned {
		t.Errorf("rewards = %+v, want owned title_crown first", rewards)
	}
	for _, r := range rewards[1:] {
		if r.Owned {
			t.Errorf("reward %s owned, want locked", r.ID)
		}
	}
	if grants, _ := db.ListPendingGrants(ctx, 0); len(grants) != 0 {
		t.Errorf("pending grants = %d, want 0", len(grants))
	}
}

// ─── Concurrency Tests ──────────────────────────────────────────────────────

// flakyStore fails the first stale AtomicApply calls with ErrStaleWrite.
type flakyStore struct {
	*sqlite.DB
	mu    sync.Mutex
	stale int
	calls int
}

func (f *flakyStore) AtomicApply(ctx context.Context, userID string, m domain.MutationSet) (*domain.UserProgression, error) {
	f.mu.Lock()
	f.calls++
	if f.stale > 0 {
		f.stale--
		f.mu.Unlock()
		return nil, domain.ErrStaleWrite
	}
	f.mu.Unlock()
	return f.DB.AtomicApply(ctx, userID, m)
}

func TestProcess_StaleWriteRetried(t *testing.T) {
	f := defaultFixture()
	db := newTestDB(t)
	store := &flakyStore{DB: db, stale: 2}
	h := f.build(t, db, store)

	res := h.process(t, taskEvent("e1", t0))
	if res.Outcome != OutcomeApplied || res.Attempts != 3 {
		t.Errorf("Outcome = %s Attempts = %d, want applied after 3", res.Outcome, res.Attempts)
	}
}

func TestProcess_StaleWriteExhausted(t *testing.T) {
	f := defaultFixture()
	f.cfg.MaxRetries = 1
	db := newTestDB(t)
	store := &flakyStore{DB: db, stale: 5}
	h := f.build(t, db, store)

	ce, err := h.e.norm.Normalize(taskEvent("e1", t0))
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	h.now = t0.Add(time.Minute)
	if _, err := h.e.Process(context.Background(), ce); !errors.Is(err, domain.ErrStaleWrite) {
		t.Errorf("Process() error = %v, want ErrStaleWrite", err)
	}
	if store.calls != 2 {
		t.Errorf("AtomicApply calls = %d, want 2", store.calls)
	}
}

func runEngine(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRun_StaleWriteRequeued(t *testing.T) {
	f := defaultFixture()
	f.cfg.MaxRetries = 1
	db := newTestDB(t)
	store := &flakyStore{DB: db, stale: 3}
	h := f.build(t, db, store)
	h.now = t0.Add(time.Minute)
	h.e.SetClock(time.Now) // the delay queue must see real time pass
	runEngine(t, h.e)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.e.SubmitAndWait(ctx, taskEvent("e1", t0))
	if err != nil {
		t.Fatalf("SubmitAndWait() error: %v", err)
	}
	if res.Outcome != OutcomeApplied {
		t.Errorf("Outcome = %s, want applied", res.Outcome)
	}
	store.mu.Lock()
	calls := store.calls
	store.mu.Unlock()
	if calls != 4 {
		t.Errorf("AtomicApply calls = %d, want 4", calls)
	}
}

func TestRun_ScenarioC_RateLimit(t *testing.T) {
	f := defaultFixture()
	f.guard = anticheat.Config{
		RateLimits: map[string]anticheat.RateLimit{"*": {Limit: 10, Window: time.Minute}},
		Decay:      anticheat.Decay{Kind: anticheat.DecayNone},
	}
	f.defs = nil
	h := f.build(t, newTestDB(t), nil)
	h.now = t0.Add(2 * time.Minute)
	runEngine(t, h.e)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	credited := 0
	for i := 0; i < 50; i++ {
		res, err := h.e.SubmitAndWait(ctx, taskEvent(fmt.Sprintf("c%02d", i), t0.Add(time.Duration(i)*time.Second)))
		if err != nil {
			t.Fatalf("SubmitAndWait(%d) error: %v", i, err)
		}
		if res.Decision.CountsTowardProgress {
			credited++
		}
	}
	if credited != 10 {
		t.Errorf("credited events = %d, want 10", credited)
	}
	prof, err := h.e.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile() error: %v", err)
	}
	if prof.Essence != 200 {
		t.Errorf("Essence = %d, want 200", prof.Essence)
	}
}

func TestSubmit_InvalidEvent(t *testing.T) {
	h := defaultFixture().build(t, newTestDB(t), nil)
	err := h.e.Submit(domain.DomainEvent{UserID: "u1"}, nil)
	var inv *domain.InvalidEventError
	if !errors.As(err, &inv) || inv.Field != "event_id" {
		t.Errorf("Submit() error = %v, want InvalidEventError on event_id", err)
	}
}

func TestSubmit_Backpressure(t *testing.T) {
	f := defaultFixture()
	f.cfg.Lanes = 1
	f.cfg.LaneBuffer = 1
	h := f.build(t, newTestDB(t), nil)

	if err := h.e.Submit(taskEvent("e1", t0), nil); err != nil {
		t.Fatalf("first Submit() error: %v", err)
	}
	if err := h.e.Submit(taskEvent("e2", t0), nil); !errors.Is(err, domain.ErrBackpressure) {
		t.Errorf("second Submit() error = %v, want ErrBackpressure", err)
	}
}

func TestRun_ShutdownDrainsQueued(t *testing.T) {
	f := defaultFixture()
	h := f.build(t, newTestDB(t), nil)

	got := make(chan error, 1)
	if err := h.e.Submit(taskEvent("e1", t0), func(_ Result, err error) { got <- err }); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = h.e.Run(ctx)

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("queued event never completed")
	}
	if err := h.e.Submit(taskEvent("e2", t0), nil); !errors.Is(err, domain.ErrEngineClosed) {
		t.Errorf("Submit after shutdown error = %v, want ErrEngineClosed", err)
	}
}

// ─── Query Tests ────────────────────────────────────────────────────────────

func TestEquipReward(t *testing.T) {
	f := defaultFixture()
	h := f.build(t, newTestDB(t), nil)
	h.process(t, taskEvent("e1", t0)) // first_task grants emoji_fire
	ctx := context.Background()

	if _, err := h.e.EquipReward(ctx, "u1", "nope"); !errors.Is(err, domain.ErrUnknownReward) {
		t.Errorf("equip unknown error = %v, want ErrUnknownReward", err)
	}
	if _, err := h.e.EquipReward(ctx, "u1", "emoji_star"); !errors.Is(err, domain.ErrRewardNotOwned) {
		t.Errorf("equip unowned error = %v, want ErrRewardNotOwned", err)
	}
	if _, err := h.e.EquipReward(ctx, "u1", "emoji_fire"); err != nil {
		t.Fatalf("EquipReward() error: %v", err)
	}

	prof, err := h.e.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile() error: %v", err)
	}
	if len(prof.ActiveRewards) != 1 || prof.ActiveRewards[0].RewardID != "emoji_fire" {
		t.Errorf("ActiveRewards = %+v, want emoji_fire", prof.ActiveRewards)
	}
	if prof.Achievements != 1 {
		t.Errorf("Achievements = %d, want 1", prof.Achievements)
	}
}

func TestGetProfile_UnknownUser(t *testing.T) {
	h := defaultFixture().build(t, newTestDB(t), nil)
	prof, err := h.e.GetProfile(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetProfile() error: %v", err)
	}
	if prof.Essence != 0 || prof.Level != 1 || prof.Title == "" || len(prof.ActiveRewards) != 0 {
		t.Errorf("profile = %+v, want level 1 starter", prof)
	}
}

func TestMarkNotificationShown(t *testing.T) {
	h := defaultFixture().build(t, newTestDB(t), nil)
	h.process(t, taskEvent("e1", t0))
	ctx := context.Background()

	pending, _ := h.e.PendingNotifications(ctx, "u1", 0)
	if len(pending) == 0 {
		t.Fatal("no pending notifications")
	}
	if err := h.e.MarkNotificationShown(ctx, "u1", pending[0].ID); err != nil {
		t.Fatalf("MarkNotificationShown() error: %v", err)
	}
	after, _ := h.e.PendingNotifications(ctx, "u1", 0)
	if len(after) != len(pending)-1 {
		t.Errorf("pending after = %d, want %d", len(after), len(pending)-1)
	}
	if err := h.e.MarkNotificationShown(ctx, "u1", "missing"); !errors.Is(err, domain.ErrNotificationNotFound) {
		t.Errorf("missing notification error = %v, want ErrNotificationNotFound", err)
	}
}

func TestPrune(t *testing.T) {
	h := defaultFixture().build(t, newTestDB(t), nil)
	h.process(t, taskEvent("e1", t0))

	h.now = t0.Add(8 * 24 * time.Hour)
	n, err := h.e.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
}
