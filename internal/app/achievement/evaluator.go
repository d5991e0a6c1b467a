// Package achievement evaluates the achievement catalog against accepted
// events. Evaluation is pure: it takes the prior progress and returns the
// next progress plus any unlocks, and never decrements counters.
package achievement

import (
	"fmt"
	"time"

	"github.com/lifehub/essence/internal/domain"
)

// Snapshot is the progression state an evaluation may consult.
// Level and TotalEssence include the current event's credit.
type Snapshot struct {
	UserID       string
	Level        int
	TotalEssence int64
}

// Unlock is one tier reached by one event.
type Unlock struct {
	AchievementID string `json:"achievement_id"`
	Name          string `json:"name"`
	Icon          string `json:"icon,omitempty"`
	Tier          int    `json:"tier"` // 1-based
	RewardID      string `json:"reward_id,omitempty"`
	EssenceReward int64  `json:"essence_reward,omitempty"`
}

// GrantRequest converts the unlock into a reward grant request.
func (u Unlock) GrantRequest(userID string) domain.RewardGrantRequest {
	return domain.RewardGrantRequest{
		UserID:        userID,
		AchievementID: u.AchievementID,
		RewardID:      u.RewardID,
		Tier:          u.Tier,
	}
}

// Evaluate applies one event to one achievement. The returned bool reports
// whether progress changed and needs persisting.
func Evaluate(def domain.AchievementDefinition, prog domain.AchievementProgress, ev domain.CanonicalEvent, snap Snapshot, loc *time.Location) (domain.AchievementProgress, []Unlock, bool) {
	prog.UserID = snap.UserID
	prog.AchievementID = def.ID
	if terminal(def, prog) {
		return prog, nil, false
	}
	if !def.Criteria.Qualifies(ev.SourceDomain, ev.EventType) {
		return prog, nil, false
	}

	before := prog.Counter
	var value int64
	switch def.Type {
	case domain.AchievementMilestone:
		value = milestoneValue(def, &prog, snap)
	case domain.AchievementStreak:
		value = advanceStreak(&prog, ev.OccurredAt, loc)
	case domain.AchievementDomainMastery:
		value = advanceMastery(def, &prog, ev.SourceDomain)
	case domain.AchievementCumulative:
		prog.Counter.Count++
		value = prog.Counter.Count
	default:
		return prog, nil, false
	}

	unlocks := unlockTiers(def, &prog, value, ev.OccurredAt)
	changed := len(unlocks) > 0 || !counterEqual(before, prog.Counter)
	if changed {
		prog.UpdatedAt = ev.OccurredAt
	}
	return prog, unlocks, changed
}

// terminal reports whether nothing more can happen to this progress.
func terminal(def domain.AchievementDefinition, prog domain.AchievementProgress) bool {
	if def.Type.Tiered() {
		return false
	}
	return prog.Unlocked()
}

func milestoneValue(def domain.AchievementDefinition, prog *domain.AchievementProgress, snap Snapshot) int64 {
	switch def.Criteria.Condition {
	case domain.ConditionLevelReached:
		return int64(snap.Level)
	case domain.ConditionEssenceReached:
		return snap.TotalEssence
	default:
		prog.Counter.Count++
		return prog.Counter.Count
	}
}

// advanceStreak moves a calendar-day streak. Same day is a no-op, the next
// day extends, a gap restarts at 1. Out-of-order days are ignored.
func advanceStreak(prog *domain.AchievementProgress, at time.Time, loc *time.Location) int64 {
	c := &prog.Counter
	day := at.In(loc).Format(time.DateOnly)
	switch {
	case c.LastQualifyingDate == "":
		c.StreakLength = 1
	case day == c.LastQualifyingDate:
		return int64(c.StreakLength)
	case day < c.LastQualifyingDate:
		return int64(c.StreakLength)
	case day == nextDay(c.LastQualifyingDate, loc):
		c.StreakLength++
	default:
		c.StreakLength = 1
	}
	c.LastQualifyingDate = day
	if c.StreakLength > c.LongestStreak {
		c.LongestStreak = c.StreakLength
	}
	return int64(c.StreakLength)
}

func nextDay(date string, loc *time.Location) string {
	d, err := time.ParseInLocation(time.DateOnly, date, loc)
	if err != nil {
		return ""
	}
	return d.AddDate(0, 0, 1).Format(time.DateOnly)
}

// advanceMastery tracks distinct domains. With a required set the value is
// the number of required domains covered.
func advanceMastery(def domain.AchievementDefinition, prog *domain.AchievementProgress, d domain.SourceDomain) int64 {
	prog.Counter = prog.Counter.WithDomain(d)
	if len(def.Criteria.Domains) == 0 {
		return int64(len(prog.Counter.Domains))
	}
	var covered int64
	for _, req := range def.Criteria.Domains {
		if prog.Counter.HasDomain(req) {
			covered++
		}
	}
	return covered
}

// Target returns the value that unlocks the next tier, or the last tier's
// threshold when all are unlocked.
func Target(def domain.AchievementDefinition, prog domain.AchievementProgress) int64 {
	tiers := def.EffectiveTiers()
	if def.Type == domain.AchievementDomainMastery && len(def.Criteria.Domains) > 0 {
		return int64(len(def.Criteria.Domains))
	}
	i := prog.TiersUnlocked
	if i >= len(tiers) {
		i = len(tiers) - 1
	}
	return tiers[i].Threshold
}

// Current returns the progress value compared against Target.
func Current(def domain.AchievementDefinition, prog domain.AchievementProgress, snap Snapshot) int64 {
	switch def.Type {
	case domain.AchievementMilestone:
		switch def.Criteria.Condition {
		case domain.ConditionLevelReached:
			return int64(snap.Level)
		case domain.ConditionEssenceReached:
			return snap.TotalEssence
		}
		return prog.Counter.Count
	case domain.AchievementStreak:
		return int64(prog.Counter.StreakLength)
	case domain.AchievementDomainMastery:
		if len(def.Criteria.Domains) == 0 {
			return int64(len(prog.Counter.Domains))
		}
		var covered int64
		for _, req := range def.Criteria.Domains {
			if prog.Counter.HasDomain(req) {
				covered++
			}
		}
		return covered
	}
	return prog.Counter.Count
}

func unlockTiers(def domain.AchievementDefinition, prog *domain.AchievementProgress, value int64, at time.Time) []Unlock {
	tiers := def.EffectiveTiers()
	var out []Unlock
	for prog.TiersUnlocked < len(tiers) {
		target := tiers[prog.TiersUnlocked].Threshold
		if def.Type == domain.AchievementDomainMastery && len(def.Criteria.Domains) > 0 {
			target = int64(len(def.Criteria.Domains))
		}
		if value < target {
			break
		}
		tier := tiers[prog.TiersUnlocked]
		prog.TiersUnlocked++
		if prog.UnlockedAt == nil {
			ts := at
			prog.UnlockedAt = &ts
		}
		out = append(out, Unlock{
			AchievementID: def.ID,
			Name:          def.Name,
			Icon:          def.Icon,
			Tier:          prog.TiersUnlocked,
			RewardID:      tier.RewardID,
			EssenceReward: tier.EssenceReward,
		})
	}
	return out
}

func counterEqual(a, b domain.Counter) bool {
	if a.Count != b.Count || a.StreakLength != b.StreakLength || a.LongestStreak != b.LongestStreak ||
		a.LastQualifyingDate != b.LastQualifyingDate || len(a.Domains) != len(b.Domains) {
		return false
	}
	for i := range a.Domains {
		if a.Domains[i] != b.Domains[i] {
			return false
		}
	}
	return true
}

// ─── Evaluator ──────────────────────────────────────────────────────────────

// Evaluator runs the whole catalog in definition order.
type Evaluator struct {
	defs []domain.AchievementDefinition
	byID map[string]int
	loc  *time.Location
}

// NewEvaluator validates the catalog. loc is the streak day boundary zone.
func NewEvaluator(defs []domain.AchievementDefinition, loc *time.Location) (*Evaluator, error) {
	if loc == nil {
		loc = time.UTC
	}
	e := &Evaluator{byID: make(map[string]int, len(defs)), loc: loc}
	for _, d := range defs {
		if err := ValidateDefinition(d); err != nil {
			return nil, err
		}
		if _, dup := e.byID[d.ID]; dup {
			return nil, fmt.Errorf("achievement %q defined twice", d.ID)
		}
		e.byID[d.ID] = len(e.defs)
		e.defs = append(e.defs, d)
	}
	return e, nil
}

// ValidateDefinition checks a single catalog entry.
func ValidateDefinition(d domain.AchievementDefinition) error {
	if d.ID == "" {
		return fmt.Errorf("achievement: empty id")
	}
	if !d.Type.Valid() {
		return fmt.Errorf("achievement %q: unknown type %q", d.ID, d.Type)
	}
	if d.Type == domain.AchievementMilestone {
		switch d.Criteria.Condition {
		case "", domain.ConditionFirstEvent, domain.ConditionLevelReached, domain.ConditionEssenceReached:
		default:
			return fmt.Errorf("achievement %q: unknown condition %q", d.ID, d.Criteria.Condition)
		}
	}
	if len(d.Tiers) > 0 && !d.Type.Tiered() {
		return fmt.Errorf("achievement %q: tiers only apply to STREAK and CUMULATIVE", d.ID)
	}
	var prev int64
	for i, t := range d.EffectiveTiers() {
		if t.Threshold <= prev {
			return fmt.Errorf("achievement %q: tier %d threshold %d not increasing", d.ID, i+1, t.Threshold)
		}
		if t.EssenceReward < 0 {
			return fmt.Errorf("achievement %q: negative essence reward", d.ID)
		}
		prev = t.Threshold
	}
	return nil
}

// Definitions returns the catalog in definition order.
func (e *Evaluator) Definitions() []domain.AchievementDefinition {
	out := make([]domain.AchievementDefinition, len(e.defs))
	copy(out, e.defs)
	return out
}

// Definition looks up a definition by ID.
func (e *Evaluator) Definition(id string) (domain.AchievementDefinition, bool) {
	i, ok := e.byID[id]
	if !ok {
		return domain.AchievementDefinition{}, false
	}
	return e.defs[i], true
}

// EvaluateAll applies ev to every definition and returns changed progress
// and unlocks. p is read, not modified.
func (e *Evaluator) EvaluateAll(p *domain.UserProgression, ev domain.CanonicalEvent) ([]domain.AchievementProgress, []Unlock) {
	snap := Snapshot{UserID: p.UserID, Level: p.Level, TotalEssence: p.TotalEssence}
	var (
		changed []domain.AchievementProgress
		unlocks []Unlock
	)
	for _, def := range e.defs {
		next, u, ok := Evaluate(def, p.Achievements[def.ID], ev, snap, e.loc)
		if !ok {
			continue
		}
		changed = append(changed, next)
		unlocks = append(unlocks, u...)
	}
	return changed, unlocks
}
