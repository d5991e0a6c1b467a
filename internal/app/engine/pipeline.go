package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lifehub/essence/internal/app/achievement"
	"github.com/lifehub/essence/internal/app/leveling"
	"github.com/lifehub/essence/internal/domain"
	"github.com/lifehub/essence/internal/infra/observability"
)

// Outcome is the terminal state of one event.
type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeRequeued     Outcome = "requeued"
	OutcomeInvalid      Outcome = "invalid"
	OutcomeBackpressure Outcome = "backpressure"
	OutcomeFailed       Outcome = "failed"
)

// Result describes what one event did to its user's progression.
type Result struct {
	Outcome         Outcome                   `json:"outcome"`
	EventID         string                    `json:"event_id"`
	UserID          string                    `json:"user_id"`
	Decision        domain.AcceptanceDecision `json:"decision"`
	EssenceCredited int64                     `json:"essence_credited"` // earned plus bonus
	TotalEssence    int64                     `json:"total_essence"`
	Level           int                       `json:"level"`
	Title           string                    `json:"title"`
	LeveledUp       bool                      `json:"leveled_up"`
	Unlocks         []achievement.Unlock      `json:"unlocks,omitempty"`
	RewardsGranted  []string                  `json:"rewards_granted,omitempty"`
	Attempts        int                       `json:"attempts"`
}

// idNamespace scopes derived row IDs so a retried plan produces the same IDs.
var idNamespace = uuid.MustParse("6f0c2a4e-8d3b-5e7a-9c1f-2b4d6e8a0c13")

// ─── Process ────────────────────────────────────────────────────────────────

// Process applies one canonical event: idempotency check, plan against a fresh
// snapshot, atomic commit, post-commit notification. A stale write reloads and
// replans up to MaxRetries times before returning domain.ErrStaleWrite.
//
// Lanes call Process serially per user; direct callers must do the same or
// rely on the store's version check.
func (e *Engine) Process(ctx context.Context, ev domain.CanonicalEvent) (res Result, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.process")
	span.SetAttributes(
		attribute.String("event.id", ev.EventID),
		attribute.String("event.key", ev.Key()),
	)
	start := time.Now()
	defer func() {
		span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	res = Result{EventID: ev.EventID, UserID: ev.UserID}

	// The filter never misses a processed event; a hit is confirmed by the store.
	if e.seen.MaybeSeen(ev.UserID, ev.EventID) {
		done, err := e.store.IsProcessed(ctx, ev.UserID, ev.EventID)
		if err != nil {
			return res, fmt.Errorf("check processed: %w", err)
		}
		if done {
			return e.duplicate(res), nil
		}
	}

	for attempt := 1; attempt <= e.cfg.MaxRetries+1; attempt++ {
		res.Attempts = attempt

		snap, err := e.store.LoadProgression(ctx, ev.UserID)
		if err != nil {
			return res, fmt.Errorf("load progression: %w", err)
		}
		p := e.plan(snap, ev)

		out, err := e.store.AtomicApply(ctx, ev.UserID, p.mutations)
		switch {
		case err == nil:
			e.seen.Add(ev.UserID, ev.EventID)
			e.committed(ctx, p)
			observability.ObserveApply(start)
			return p.result(res, out), nil
		case errors.Is(err, domain.ErrDuplicateEvent):
			e.seen.Add(ev.UserID, ev.EventID)
			return e.duplicate(res), nil
		case errors.Is(err, domain.ErrStaleWrite):
			observability.StaleWriteRetries.Inc()
			e.log.Debug("stale write, reloading", "event_id", ev.EventID, "user_id", ev.UserID, "attempt", attempt)
			continue
		default:
			return res, fmt.Errorf("apply event %s: %w", ev.EventID, err)
		}
	}
	return res, domain.ErrStaleWrite
}

func (e *Engine) duplicate(res Result) Result {
	res.Outcome = OutcomeDuplicate
	observability.EventsTotal.WithLabelValues(string(OutcomeDuplicate)).Inc()
	e.log.Debug("duplicate event ignored", "event_id", res.EventID, "user_id", res.UserID)
	return res
}

// ─── Plan ───────────────────────────────────────────────────────────────────

// plan is one event's effect computed against one snapshot.
type plan struct {
	mutations domain.MutationSet
	decision  domain.AcceptanceDecision
	unlocks   []achievement.Unlock
	granted   []string
	credited  int64
	levelUp   leveling.LevelChange
}

func (p plan) result(res Result, out *domain.UserProgression) Result {
	res.Outcome = OutcomeApplied
	res.Decision = p.decision
	res.EssenceCredited = p.credited
	res.Unlocks = p.unlocks
	res.RewardsGranted = p.granted
	res.LeveledUp = p.levelUp.LeveledUp()
	if out != nil {
		res.TotalEssence = out.TotalEssence
		res.Level = out.Level
		res.Title = out.Title
	}
	return res
}

// plan computes the full mutation set for ev without touching the store.
// snap is not modified.
func (e *Engine) plan(snap *domain.UserProgression, ev domain.CanonicalEvent) plan {
	now := e.now().UTC()
	work := snap.Clone()
	if work.Level < 1 {
		work.Level = 1
	}
	if work.Title == "" {
		work.Title = e.leveling.Title(work.Level)
	}
	fromLevel := work.Level

	decision, windows := e.guard.Evaluate(snap, ev)
	p := plan{
		decision: decision,
		mutations: domain.MutationSet{
			EventID:         ev.EventID,
			ExpectedVersion: snap.Version,
			AppliedAt:       now,
			GuardWindows:    windows,
		},
	}
	m := &p.mutations

	if decision.AdjustedEssence > 0 {
		e.credit(work, m, ev, domain.EntryEarn, decision.AdjustedEssence, ev.Key(), "", now)
		p.credited += decision.AdjustedEssence
		e.notify(m, ev, domain.NotifyEssenceGained, "earn", now, "", fmt.Sprintf("+%d essence for %s", decision.AdjustedEssence, ev.EventType),
			map[string]string{"amount": strconv.FormatInt(decision.AdjustedEssence, 10), "key": ev.Key()})
	}
	if last, ok := work.LastEventAt[ev.SourceDomain]; !ok || ev.OccurredAt.After(last) {
		work.LastEventAt[ev.SourceDomain] = ev.OccurredAt
	}

	if decision.CountsTowardProgress {
		changed, unlocks := e.achieve.EvaluateAll(work, ev)
		m.Achievements = changed
		for _, ap := range changed {
			work.Achievements[ap.AchievementID] = ap
		}
		p.unlocks = unlocks
		for _, u := range unlocks {
			e.applyUnlock(work, &p, ev, u, now)
		}
	}

	if work.Level > fromLevel {
		p.levelUp = leveling.LevelChange{From: fromLevel, To: work.Level, Title: work.Title}
		e.notify(m, ev, domain.NotifyLevelUp, "level", now, "", fmt.Sprintf("You reached level %d: %s", work.Level, work.Title),
			map[string]string{"from": strconv.Itoa(fromLevel), "to": strconv.Itoa(work.Level), "title": work.Title})
	}

	m.Progression = *work
	m.Decision = domain.Decision{
		EventID:            ev.EventID,
		UserID:             ev.UserID,
		OccurredAt:         ev.OccurredAt,
		DecidedAt:          now,
		AcceptanceDecision: decision,
	}
	return p
}

// applyUnlock records one achievement tier: notification, essence bonus and reward.
func (e *Engine) applyUnlock(work *domain.UserProgression, p *plan, ev domain.CanonicalEvent, u achievement.Unlock, now time.Time) {
	m := &p.mutations
	suffix := "ach:" + u.AchievementID + ":" + strconv.Itoa(u.Tier)
	name := u.Name
	if u.Tier > 1 {
		name = fmt.Sprintf("%s (tier %d)", u.Name, u.Tier)
	}
	e.notify(m, ev, domain.NotifyAchievementUnlocked, suffix, now, u.Icon, name,
		map[string]string{"achievement_id": u.AchievementID, "tier": strconv.Itoa(u.Tier)})

	if u.EssenceReward > 0 {
		e.credit(work, m, ev, domain.EntryBonus, u.EssenceReward, "achievement:"+u.AchievementID, u.AchievementID, now)
		p.credited += u.EssenceReward
	}
	if u.RewardID == "" {
		return
	}

	g, err := e.rewards.Grant(u.GrantRequest(work.UserID), work.Rewards)
	if err != nil {
		m.PendingGrants = append(m.PendingGrants, domain.PendingGrant{
			UserID:        work.UserID,
			AchievementID: u.AchievementID,
			RewardID:      u.RewardID,
			Reason:        err.Error(),
			CreatedAt:     now,
		})
		return
	}
	if !g.Granted {
		return
	}
	g.Unlock.UnlockedAt = now
	m.RewardUnlocks = append(m.RewardUnlocks, g.Unlock)
	work.Rewards[g.Unlock.RewardID] = true
	p.granted = append(p.granted, g.Unlock.RewardID)
	e.notify(m, ev, domain.NotifyRewardUnlocked, "reward:"+g.Reward.ID, now, "", fmt.Sprintf("You unlocked %s", g.Reward.Name),
		map[string]string{"reward_id": g.Reward.ID, "type": string(g.Reward.Type), "payload": g.Reward.Payload})
}

// credit adds amount to work and appends the matching ledger entry.
func (e *Engine) credit(work *domain.UserProgression, m *domain.MutationSet, ev domain.CanonicalEvent, kind domain.EntryKind, amount int64, source, achievementID string, now time.Time) {
	e.leveling.Credit(work, amount)
	m.Ledger = append(m.Ledger, domain.LedgerEntry{
		ID:            rowID(ev, "ledger:"+strconv.Itoa(len(m.Ledger))),
		UserID:        ev.UserID,
		EventID:       ev.EventID,
		Kind:          kind,
		Amount:        amount,
		Source:        source,
		AchievementID: achievementID,
		Balance:       work.TotalEssence,
		CreatedAt:     now,
	})
}

func (e *Engine) notify(m *domain.MutationSet, ev domain.CanonicalEvent, typ domain.NotificationType, suffix string, now time.Time, icon, message string, data map[string]string) {
	title, defIcon := typ.Headline()
	if icon == "" {
		icon = defIcon
	}
	m.Notifications = append(m.Notifications, domain.Notification{
		ID:        rowID(ev, "notify:"+suffix),
		UserID:    ev.UserID,
		EventID:   ev.EventID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Icon:      icon,
		Data:      data,
		CreatedAt: now,
	})
}

// rowID derives a stable ID from the event and a per-row discriminator.
func rowID(ev domain.CanonicalEvent, suffix string) string {
	return uuid.NewSHA1(idNamespace, []byte(ev.UserID+"\x00"+ev.EventID+"\x00"+suffix)).String()
}

// ─── Post-Commit ────────────────────────────────────────────────────────────

// committed runs side effects that must only happen once the mutation set is
// durable: metrics, logs, live notifications.
func (e *Engine) committed(ctx context.Context, p plan) {
	m := p.mutations
	observability.EventsTotal.WithLabelValues(string(OutcomeApplied)).Inc()
	observability.RecordDecision(p.decision)
	for _, l := range m.Ledger {
		observability.EssenceCredited.WithLabelValues(string(l.Kind)).Add(float64(l.Amount))
	}
	for _, u := range p.unlocks {
		observability.RecordUnlock(u.AchievementID, u.Tier)
		e.log.Info("achievement unlocked", "user_id", m.Decision.UserID, "achievement_id", u.AchievementID, "tier", u.Tier)
	}
	for _, r := range m.RewardUnlocks {
		if def, ok := e.rewards.Catalog().Get(r.RewardID); ok {
			observability.RewardGrants.WithLabelValues(string(def.Type)).Inc()
		}
	}
	for _, g := range m.PendingGrants {
		observability.UnknownRewards.Inc()
		e.log.Error("reward grant deferred", "user_id", g.UserID, "achievement_id", g.AchievementID,
			"reward_id", g.RewardID, "error", g.Reason)
	}
	if p.levelUp.LeveledUp() {
		observability.LevelUps.Inc()
		e.log.Info("level up", "user_id", m.Decision.UserID, "from", p.levelUp.From, "to", p.levelUp.To)
	}
	if len(p.decision.Reasons) > 0 {
		e.log.Debug("anti-cheat decision", "event_id", m.EventID, "user_id", m.Decision.UserID,
			"reasons", p.decision.Reasons, "essence", p.decision.AdjustedEssence)
	}

	for _, n := range m.Notifications {
		e.notifier.Notify(ctx, n)
	}
}
