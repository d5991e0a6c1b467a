package domain

import (
	"errors"
	"testing"
	"time"
)

// ─── EventMatcher Tests ─────────────────────────────────────────────────────

func TestEventMatcher_Matches(t *testing.T) {
	tests := []struct {
		name      string
		matcher   EventMatcher
		domain    SourceDomain
		eventType string
		want      bool
	}{
		{"wildcard", "*", DomainTodo, "task_completed", true},
		{"empty matches all", "", DomainHabits, "habit_completed", true},
		{"domain only", "habits", DomainHabits, "habit_completed", true},
		{"domain mismatch", "habits", DomainTodo, "task_completed", false},
		{"exact key", "todo:task_completed", DomainTodo, "task_completed", true},
		{"type mismatch", "todo:task_completed", DomainTodo, "task_created", false},
		{"type wildcard", "todo:*", DomainTodo, "task_created", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.matcher.Matches(tt.domain, tt.eventType); got != tt.want {
				t.Errorf("Matches(%s, %s) = %v, want %v", tt.domain, tt.eventType, got, tt.want)
			}
		})
	}
}

func TestCriteria_Qualifies(t *testing.T) {
	c := Criteria{Events: []EventMatcher{"todo:task_completed", "habits"}}
	if !c.Qualifies(DomainTodo, "task_completed") {
		t.Error("task_completed should qualify")
	}
	if !c.Qualifies(DomainHabits, "habit_streak_advanced") {
		t.Error("any habits event should qualify")
	}
	if c.Qualifies(DomainAccounting, "transaction_logged") {
		t.Error("accounting should not qualify")
	}
	if !(Criteria{}).Qualifies(DomainIdentity, "profile_completed") {
		t.Error("empty criteria should qualify everything")
	}
}

func TestDomainEvent_Key(t *testing.T) {
	ev := DomainEvent{SourceDomain: DomainTodo, EventType: "task_completed"}
	if got := ev.Key(); got != "todo:task_completed" {
		t.Errorf("Key() = %q, want %q", got, "todo:task_completed")
	}
}

// ─── Achievement Tests ──────────────────────────────────────────────────────

func TestEffectiveTiers(t *testing.T) {
	streak := AchievementDefinition{
		Type:  AchievementStreak,
		Tiers: []Tier{{Threshold: 7}, {Threshold: 30}},
	}
	if got := len(streak.EffectiveTiers()); got != 2 {
		t.Errorf("streak tiers = %d, want 2", got)
	}

	milestone := AchievementDefinition{
		Type:          AchievementMilestone,
		RewardID:      "emoji_fire",
		EssenceReward: 50,
		Tiers:         []Tier{{Threshold: 5}},
	}
	tiers := milestone.EffectiveTiers()
	if len(tiers) != 1 {
		t.Fatalf("milestone tiers = %d, want 1", len(tiers))
	}
	if tiers[0].Threshold != 1 || tiers[0].RewardID != "emoji_fire" || tiers[0].EssenceReward != 50 {
		t.Errorf("implicit tier = %+v", tiers[0])
	}
}

func TestAchievementType_Valid(t *testing.T) {
	for _, at := range []AchievementType{AchievementMilestone, AchievementStreak, AchievementDomainMastery, AchievementCumulative} {
		if !at.Valid() {
			t.Errorf("%s should be valid", at)
		}
	}
	if AchievementType("LEADERBOARD").Valid() {
		t.Error("unknown type should be invalid")
	}
	if AchievementMilestone.Tiered() || AchievementDomainMastery.Tiered() {
		t.Error("one-shot types must not be tiered")
	}
}

func TestCounter_WithDomain(t *testing.T) {
	var c Counter
	c = c.WithDomain(DomainTodo)
	c = c.WithDomain(DomainAccounting)
	c = c.WithDomain(DomainTodo)

	if len(c.Domains) != 2 {
		t.Fatalf("domains = %v, want 2 entries", c.Domains)
	}
	if c.Domains[0] != DomainAccounting || c.Domains[1] != DomainTodo {
		t.Errorf("domains not sorted: %v", c.Domains)
	}
	if !c.HasDomain(DomainTodo) || c.HasDomain(DomainHabits) {
		t.Error("HasDomain mismatch")
	}
}

// ─── Guard Window Tests ─────────────────────────────────────────────────────

func TestGuardWindow_State(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := GuardWindow{Key: "todo:task_completed", WindowStart: start, CountInWindow: 3}

	tests := []struct {
		name  string
		w     GuardWindow
		now   time.Time
		limit int
		want  GuardState
	}{
		{"empty window", GuardWindow{}, start, 3, GuardIdle},
		{"at limit inside window", w, start.Add(30 * time.Second), 3, GuardThrottled},
		{"below limit", w, start.Add(30 * time.Second), 5, GuardCounting},
		{"window elapsed", w, start.Add(time.Minute), 3, GuardIdle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.State(tt.now, tt.limit, time.Minute); got != tt.want {
				t.Errorf("State() = %s, want %s", got, tt.want)
			}
		})
	}
}

// ─── Progression Tests ──────────────────────────────────────────────────────

func TestNewUserProgression(t *testing.T) {
	p := NewUserProgression("u1")
	if !p.IsNew() {
		t.Error("fresh progression should be new")
	}
	if p.Level != 1 {
		t.Errorf("Level = %d, want 1", p.Level)
	}
	if p.TotalEssence != 0 {
		t.Errorf("TotalEssence = %d, want 0", p.TotalEssence)
	}
}

func TestUserProgression_CloneIsDeep(t *testing.T) {
	p := NewUserProgression("u1")
	p.Rewards["emoji_fire"] = true
	p.Achievements["balanced"] = AchievementProgress{
		AchievementID: "balanced",
		Counter:       Counter{Domains: []SourceDomain{DomainTodo}},
	}

	c := p.Clone()
	c.Rewards["border_gold"] = true
	c.Guard["x"] = GuardWindow{Key: "x"}
	ap := c.Achievements["balanced"]
	ap.Counter.Domains[0] = DomainHabits
	c.Achievements["balanced"] = ap

	if p.Rewards["border_gold"] {
		t.Error("clone rewards leaked into original")
	}
	if _, ok := p.Guard["x"]; ok {
		t.Error("clone guard leaked into original")
	}
	if p.Achievements["balanced"].Counter.Domains[0] != DomainTodo {
		t.Error("clone domain set aliased original")
	}
}

// ─── Error Tests ────────────────────────────────────────────────────────────

func TestTypedErrorsUnwrap(t *testing.T) {
	var err error = &InvalidEventError{Field: "event_id", Reason: "required"}
	if !errors.Is(err, ErrInvalidEvent) {
		t.Error("InvalidEventError should unwrap to ErrInvalidEvent")
	}
	err = &UnknownRewardError{RewardID: "border_mythic", AchievementID: "task_100"}
	if !errors.Is(err, ErrUnknownReward) {
		t.Error("UnknownRewardError should unwrap to ErrUnknownReward")
	}
	var ure *UnknownRewardError
	if !errors.As(err, &ure) || ure.RewardID != "border_mythic" {
		t.Error("errors.As should recover the reward ID")
	}
}

func TestNotificationType_Headline(t *testing.T) {
	title, icon := NotifyLevelUp.Headline()
	if title != "Level Up!" || icon != "🎉" {
		t.Errorf("Headline() = %q %q", title, icon)
	}
}
