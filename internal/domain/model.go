// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import (
	"sort"
	"strings"
	"time"
)

// ─── Source Domains ─────────────────────────────────────────────────────────

// SourceDomain names the producing domain that emitted an event.
type SourceDomain string

const (
	DomainTodo       SourceDomain = "todo"
	DomainAccounting SourceDomain = "accounting"
	DomainHabits     SourceDomain = "habits"
	DomainIdentity   SourceDomain = "identity"
)

// DefaultDomains returns the producing domains known out of the box.
func DefaultDomains() []SourceDomain {
	return []SourceDomain{DomainTodo, DomainAccounting, DomainHabits, DomainIdentity}
}

// ─── Events ─────────────────────────────────────────────────────────────────

// DomainEvent is the inbound contract emitted by producing domains.
// Immutable once emitted; the engine only consumes these.
type DomainEvent struct {
	EventID      string         `json:"event_id"`
	UserID       string         `json:"user_id"`
	SourceDomain SourceDomain   `json:"source_domain"`
	EventType    string         `json:"event_type"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Key returns the "domain:eventType" key used for essence lookup and guard windows.
func (e DomainEvent) Key() string {
	return EventKey(e.SourceDomain, e.EventType)
}

// EventKey formats a guard/essence table key.
func EventKey(d SourceDomain, eventType string) string {
	return string(d) + ":" + eventType
}

// CanonicalEvent is a validated event with its derived base essence.
type CanonicalEvent struct {
	DomainEvent
	EssenceWeight int64 `json:"essence_weight"`
}

// EventMatcher selects qualifying events: "*", "habits" or "habits:habit_completed".
type EventMatcher string

// Matches reports whether the matcher selects the given domain/event type.
func (m EventMatcher) Matches(d SourceDomain, eventType string) bool {
	s := string(m)
	if s == "" || s == "*" {
		return true
	}
	dom, typ, hasType := strings.Cut(s, ":")
	if dom != string(d) {
		return false
	}
	return !hasType || typ == "*" || typ == eventType
}

// ─── Anti-Cheat ─────────────────────────────────────────────────────────────

// GuardState is the per-key rate limit state: Idle → Counting → Throttled → Idle.
type GuardState string

const (
	GuardIdle      GuardState = "IDLE"
	GuardCounting  GuardState = "COUNTING"
	GuardThrottled GuardState = "THROTTLED"
)

// EssenceCapKey is the guard window key holding the per-user essence cap.
const EssenceCapKey = "*essence_cap"

// GuardWindow is the persisted anti-cheat state for one (user, key).
// CountInWindow doubles as the essence sum for the EssenceCapKey window.
type GuardWindow struct {
	Key              string    `json:"key"`
	WindowStart      time.Time `json:"window_start"`
	CountInWindow    int64     `json:"count_in_window"`
	DecayPeriodStart time.Time `json:"decay_period_start"`
	DecayCount       int       `json:"decay_count"`
	LastQualifyingAt time.Time `json:"last_qualifying_at"`
}

// State derives the state machine position at time now.
func (w GuardWindow) State(now time.Time, limit int, window time.Duration) GuardState {
	if w.WindowStart.IsZero() || w.CountInWindow == 0 || !now.Before(w.WindowStart.Add(window)) {
		return GuardIdle
	}
	if limit > 0 && w.CountInWindow >= int64(limit) {
		return GuardThrottled
	}
	return GuardCounting
}

// DecisionReason explains why a decision reduced or denied a reward.
type DecisionReason string

const (
	ReasonRateLimited        DecisionReason = "rate_limited"
	ReasonCooldown           DecisionReason = "cooldown"
	ReasonInstantCompletion  DecisionReason = "instant_completion"
	ReasonDiminishingReturns DecisionReason = "diminishing_returns"
	ReasonEssenceCapped      DecisionReason = "essence_capped"
)

// AcceptanceDecision is the Anti-Cheat Guard's verdict for one event.
// Throttled events are still Accepted: the domain write stands, the reward does not.
type AcceptanceDecision struct {
	Accepted             bool             `json:"accepted"`
	Key                  string           `json:"key"`
	BaseEssence          int64            `json:"base_essence"`
	AdjustedEssence      int64            `json:"adjusted_essence"`
	CountsTowardProgress bool             `json:"counts_toward_progress"`
	Reasons              []DecisionReason `json:"reasons,omitempty"`
}

// Has reports whether the decision carries the given reason.
func (d AcceptanceDecision) Has(r DecisionReason) bool {
	for _, x := range d.Reasons {
		if x == r {
			return true
		}
	}
	return false
}

// Decision is the audit-trail record of an AcceptanceDecision.
type Decision struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
	DecidedAt  time.Time `json:"decided_at"`
	AcceptanceDecision
}

// ─── Achievements ───────────────────────────────────────────────────────────

// AchievementType selects the evaluation rule set.
type AchievementType string

const (
	AchievementMilestone     AchievementType = "MILESTONE"
	AchievementStreak        AchievementType = "STREAK"
	AchievementDomainMastery AchievementType = "DOMAIN_MASTERY"
	AchievementCumulative    AchievementType = "CUMULATIVE"
)

// Valid reports whether t is a known achievement type.
func (t AchievementType) Valid() bool {
	switch t {
	case AchievementMilestone, AchievementStreak, AchievementDomainMastery, AchievementCumulative:
		return true
	}
	return false
}

// Tiered reports whether the type supports successive tier thresholds.
func (t AchievementType) Tiered() bool {
	return t == AchievementStreak || t == AchievementCumulative
}

// MilestoneCondition names what a MILESTONE achievement waits for.
type MilestoneCondition string

const (
	ConditionFirstEvent     MilestoneCondition = "first_event"
	ConditionLevelReached   MilestoneCondition = "level_reached"
	ConditionEssenceReached MilestoneCondition = "essence_reached"
)

// Criteria holds the type-specific rule parameters of an achievement.
type Criteria struct {
	Events    []EventMatcher     `json:"events,omitempty" toml:"events"`
	Condition MilestoneCondition `json:"condition,omitempty" toml:"condition"`
	Threshold int64              `json:"threshold,omitempty" toml:"threshold"`
	Domains   []SourceDomain     `json:"domains,omitempty" toml:"domains"`
}

// Qualifies reports whether an event counts for this criteria's event filter.
// No matchers means every event qualifies.
func (c Criteria) Qualifies(d SourceDomain, eventType string) bool {
	if len(c.Events) == 0 {
		return true
	}
	for _, m := range c.Events {
		if m.Matches(d, eventType) {
			return true
		}
	}
	return false
}

// Tier is one unlock step of a STREAK or CUMULATIVE achievement.
type Tier struct {
	Threshold     int64  `json:"threshold" toml:"threshold"`
	RewardID      string `json:"reward_id,omitempty" toml:"reward_id"`
	EssenceReward int64  `json:"essence_reward,omitempty" toml:"essence_reward"`
}

// AchievementDefinition is static catalog data, read-only at runtime.
type AchievementDefinition struct {
	ID            string          `json:"id" toml:"id"`
	Name          string          `json:"name" toml:"name"`
	Description   string          `json:"description,omitempty" toml:"description"`
	Icon          string          `json:"icon,omitempty" toml:"icon"`
	Type          AchievementType `json:"type" toml:"type"`
	Criteria      Criteria        `json:"criteria" toml:"criteria"`
	RewardID      string          `json:"reward_id,omitempty" toml:"reward_id"`
	EssenceReward int64           `json:"essence_reward,omitempty" toml:"essence_reward"`
	Tiers         []Tier          `json:"tiers,omitempty" toml:"tiers"`
}

// EffectiveTiers returns the configured tiers, or the single implicit tier
// built from Threshold/RewardID/EssenceReward.
func (d AchievementDefinition) EffectiveTiers() []Tier {
	if d.Type.Tiered() && len(d.Tiers) > 0 {
		return d.Tiers
	}
	threshold := d.Criteria.Threshold
	if threshold <= 0 {
		threshold = 1
	}
	return []Tier{{Threshold: threshold, RewardID: d.RewardID, EssenceReward: d.EssenceReward}}
}

// Counter is the type-specific accumulator of an AchievementProgress.
type Counter struct {
	Count              int64          `json:"count,omitempty"`
	StreakLength       int            `json:"streak_length,omitempty"`
	LongestStreak      int            `json:"longest_streak,omitempty"`
	LastQualifyingDate string         `json:"last_qualifying_date,omitempty"` // time.DateOnly
	Domains            []SourceDomain `json:"domains,omitempty"`              // sorted set
}

// HasDomain reports whether d is in the domain set.
func (c Counter) HasDomain(d SourceDomain) bool {
	i := sort.Search(len(c.Domains), func(i int) bool { return c.Domains[i] >= d })
	return i < len(c.Domains) && c.Domains[i] == d
}

// WithDomain returns a copy of the counter with d added to the domain set.
func (c Counter) WithDomain(d SourceDomain) Counter {
	if c.HasDomain(d) {
		return c
	}
	out := make([]SourceDomain, 0, len(c.Domains)+1)
	out = append(out, c.Domains...)
	out = append(out, d)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	c.Domains = out
	return c
}

// AchievementProgress is a user's accumulator for one achievement.
type AchievementProgress struct {
	UserID        string     `json:"user_id"`
	AchievementID string     `json:"achievement_id"`
	Counter       Counter    `json:"counter"`
	TiersUnlocked int        `json:"tiers_unlocked"`
	UnlockedAt    *time.Time `json:"unlocked_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Unlocked reports whether at least the first tier has been reached.
func (p AchievementProgress) Unlocked() bool {
	return p.UnlockedAt != nil
}

// ─── Rewards ────────────────────────────────────────────────────────────────

// RewardType classifies a cosmetic reward.
type RewardType string

const (
	RewardTitle     RewardType = "TITLE"
	RewardBorder    RewardType = "BORDER"
	RewardEmoji     RewardType = "EMOJI"
	RewardNameFont  RewardType = "NAME_FONT"
	RewardNameColor RewardType = "NAME_COLOR"
)

// Valid reports whether t is a known reward type.
func (t RewardType) Valid() bool {
	switch t {
	case RewardTitle, RewardBorder, RewardEmoji, RewardNameFont, RewardNameColor:
		return true
	}
	return false
}

// RewardDefinition is static catalog data for a cosmetic reward.
type RewardDefinition struct {
	ID          string     `json:"id" toml:"id"`
	Name        string     `json:"name" toml:"name"`
	Description string     `json:"description,omitempty" toml:"description"`
	Type        RewardType `json:"type" toml:"type"`
	Payload     string     `json:"payload" toml:"payload"`
}

// UserRewardUnlock is an append-only ownership record, unique on (UserID, RewardID).
type UserRewardUnlock struct {
	UserID        string    `json:"user_id"`
	RewardID      string    `json:"reward_id"`
	AchievementID string    `json:"achievement_id,omitempty"`
	UnlockedAt    time.Time `json:"unlocked_at"`
	Equipped      bool      `json:"equipped"`
}

// RewardGrantRequest asks the reward manager to grant an achievement's reward.
type RewardGrantRequest struct {
	UserID        string `json:"user_id"`
	AchievementID string `json:"achievement_id"`
	RewardID      string `json:"reward_id"`
	Tier          int    `json:"tier"`
}

// PendingGrant is a grant that failed against the catalog and awaits reconciliation.
type PendingGrant struct {
	ID            int64     `json:"id"`
	UserID        string    `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	RewardID      string    `json:"reward_id"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}

// ─── Progression ────────────────────────────────────────────────────────────

// UserProgression is the per-user snapshot the engine loads and mutates.
// Version is the optimistic concurrency token; 0 means never persisted.
type UserProgression struct {
	UserID       string                         `json:"user_id"`
	TotalEssence int64                          `json:"total_essence"`
	Level        int                            `json:"level"`
	Title        string                         `json:"title"`
	LastEventAt  map[SourceDomain]time.Time     `json:"last_event_at"`
	Version      int64                          `json:"version"`
	CreatedAt    time.Time                      `json:"created_at"`
	UpdatedAt    time.Time                      `json:"updated_at"`
	Guard        map[string]GuardWindow         `json:"-"`
	Achievements map[string]AchievementProgress `json:"-"`
	Rewards      map[string]bool                `json:"-"`
}

// NewUserProgression returns the starting state for a user with no history.
func NewUserProgression(userID string) *UserProgression {
	return &UserProgression{
		UserID:       userID,
		Level:        1,
		LastEventAt:  make(map[SourceDomain]time.Time),
		Guard:        make(map[string]GuardWindow),
		Achievements: make(map[string]AchievementProgress),
		Rewards:      make(map[string]bool),
	}
}

// IsNew reports whether the progression has never been committed.
func (p *UserProgression) IsNew() bool { return p.Version == 0 }

// Clone returns a deep copy safe to mutate as a working snapshot.
func (p *UserProgression) Clone() *UserProgression {
	out := *p
	out.LastEventAt = make(map[SourceDomain]time.Time, len(p.LastEventAt))
	for k, v := range p.LastEventAt {
		out.LastEventAt[k] = v
	}
	out.Guard = make(map[string]GuardWindow, len(p.Guard))
	for k, v := range p.Guard {
		out.Guard[k] = v
	}
	out.Achievements = make(map[string]AchievementProgress, len(p.Achievements))
	for k, v := range p.Achievements {
		if len(v.Counter.Domains) > 0 {
			v.Counter.Domains = append([]SourceDomain(nil), v.Counter.Domains...)
		}
		out.Achievements[k] = v
	}
	out.Rewards = make(map[string]bool, len(p.Rewards))
	for k, v := range p.Rewards {
		out.Rewards[k] = v
	}
	return &out
}

// MutationSet is everything one event changes, committed as a single unit.
type MutationSet struct {
	EventID         string
	ExpectedVersion int64
	AppliedAt       time.Time
	Progression     UserProgression // header fields only
	GuardWindows    []GuardWindow
	Achievements    []AchievementProgress
	RewardUnlocks   []UserRewardUnlock
	Ledger          []LedgerEntry
	Decision        Decision
	Notifications   []Notification
	PendingGrants   []PendingGrant
}
