// Package anticheat implements the Anti-Cheat Guard: per user+key rate
// limiting, diminishing returns, cooldowns, instant-completion detection and
// a per-user essence cap.
//
// The guard is a pure transition over persisted GuardWindows. Time is the
// event's OccurredAt, never the wall clock, so replays decide identically.
// Throttling is not an error: the domain write stands, the reward does not.
package anticheat

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lifehub/essence/internal/domain"
)

// RateLimit allows at most Limit counted events per fixed Window.
type RateLimit struct {
	Limit  int
	Window time.Duration
}

// EssenceCap bounds essence credited per user per Window. Max 0 disables it.
type EssenceCap struct {
	Max    int64
	Window time.Duration
}

// Config is the guard policy. Map keys are "*", "domain" or "domain:eventType";
// the most specific key wins.
type Config struct {
	RateLimits        map[string]RateLimit
	Cooldowns         map[string]time.Duration
	InstantCompletion time.Duration // min gap between payload created_at and completion
	EssenceCap        EssenceCap
	Decay             Decay
}

// DefaultConfig mirrors the stock abuse limits.
func DefaultConfig() Config {
	return Config{
		RateLimits: map[string]RateLimit{
			"*": {Limit: 20, Window: time.Hour},
		},
		Cooldowns:         map[string]time.Duration{},
		InstantCompletion: time.Minute,
		EssenceCap:        EssenceCap{Max: 500, Window: time.Hour},
		Decay: Decay{
			Kind:   DecaySteps,
			Period: 24 * time.Hour,
			Floor:  0.25,
			Steps: []DecayStep{
				{After: 5, Multiplier: 0.75},
				{After: 10, Multiplier: 0.5},
				{After: 15, Multiplier: 0.25},
			},
		},
	}
}

// Validate rejects policies that cannot be enforced.
func (c Config) Validate() error {
	for k, rl := range c.RateLimits {
		if rl.Limit <= 0 || rl.Window <= 0 {
			return fmt.Errorf("rate limit %q: limit and window must be positive", k)
		}
	}
	for k, cd := range c.Cooldowns {
		if cd < 0 {
			return fmt.Errorf("cooldown %q: negative duration", k)
		}
	}
	if c.EssenceCap.Max < 0 || (c.EssenceCap.Max > 0 && c.EssenceCap.Window <= 0) {
		return fmt.Errorf("essence cap: max and window must be positive")
	}
	return c.Decay.Validate()
}

// Guard applies the policy.
type Guard struct {
	cfg Config
}

// New validates cfg and returns a guard.
func New(cfg Config) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("anticheat: %w", err)
	}
	return &Guard{cfg: cfg}, nil
}

// RateLimitFor returns the most specific rate limit for an event key.
func (g *Guard) RateLimitFor(d domain.SourceDomain, eventType string) (RateLimit, bool) {
	return lookup(g.cfg.RateLimits, d, eventType)
}

// Evaluate decides ev against the user's snapshot and returns the windows to persist.
// The snapshot is not modified.
func (g *Guard) Evaluate(snap *domain.UserProgression, ev domain.CanonicalEvent) (domain.AcceptanceDecision, []domain.GuardWindow) {
	key := ev.Key()
	w, ok := snap.Guard[key]
	if !ok {
		w = domain.GuardWindow{Key: key}
	}
	d, w := g.Decide(w, ev)
	windows := []domain.GuardWindow{w}

	if g.cfg.EssenceCap.Max > 0 && d.AdjustedEssence > 0 {
		cw, ok := snap.Guard[domain.EssenceCapKey]
		if !ok {
			cw = domain.GuardWindow{Key: domain.EssenceCapKey}
		}
		d, cw = g.ApplyCap(cw, d, ev.OccurredAt)
		windows = append(windows, cw)
	}
	return d, windows
}

// Decide is the per-key transition: rate limit, cooldown, instant completion,
// then diminishing returns.
func (g *Guard) Decide(w domain.GuardWindow, ev domain.CanonicalEvent) (domain.AcceptanceDecision, domain.GuardWindow) {
	at := ev.OccurredAt
	d := domain.AcceptanceDecision{
		Accepted:             true,
		Key:                  ev.Key(),
		BaseEssence:          ev.EssenceWeight,
		CountsTowardProgress: true,
	}

	// Rate limit: Idle → Counting → Throttled → Idle on window roll.
	rl, limited := g.RateLimitFor(ev.SourceDomain, ev.EventType)
	if limited {
		if w.WindowStart.IsZero() || !at.Before(w.WindowStart.Add(rl.Window)) {
			w.WindowStart = at
			w.CountInWindow = 0
		}
		if w.CountInWindow >= int64(rl.Limit) {
			return deny(d, domain.ReasonRateLimited), w
		}
	}

	if cd, ok := lookup(g.cfg.Cooldowns, ev.SourceDomain, ev.EventType); ok && cd > 0 && !w.LastQualifyingAt.IsZero() {
		if at.Sub(w.LastQualifyingAt) < cd {
			return deny(d, domain.ReasonCooldown), w
		}
	}

	if g.cfg.InstantCompletion > 0 {
		if created, ok := payloadTime(ev.Payload, "created_at"); ok && at.Sub(created) < g.cfg.InstantCompletion {
			return deny(d, domain.ReasonInstantCompletion), w
		}
	}

	// Qualifying event from here on.
	if limited {
		w.CountInWindow++
	}
	if at.After(w.LastQualifyingAt) {
		w.LastQualifyingAt = at
	}

	n := 1
	if g.cfg.Decay.Kind == DecaySteps || g.cfg.Decay.Kind == DecayHalving {
		if w.DecayPeriodStart.IsZero() || !at.Before(w.DecayPeriodStart.Add(g.cfg.Decay.Period)) {
			w.DecayPeriodStart = at
			w.DecayCount = 0
		}
		w.DecayCount++
		n = w.DecayCount
	}

	d.AdjustedEssence = g.cfg.Decay.Apply(d.BaseEssence, n)
	if d.BaseEssence > 0 && d.AdjustedEssence < d.BaseEssence {
		d.Reasons = append(d.Reasons, domain.ReasonDiminishingReturns)
	}
	return d, w
}

// ApplyCap clips d.AdjustedEssence to what remains of the user's essence cap.
func (g *Guard) ApplyCap(w domain.GuardWindow, d domain.AcceptanceDecision, at time.Time) (domain.AcceptanceDecision, domain.GuardWindow) {
	c := g.cfg.EssenceCap
	if c.Max <= 0 || d.AdjustedEssence <= 0 {
		return d, w
	}
	if w.WindowStart.IsZero() || !at.Before(w.WindowStart.Add(c.Window)) {
		w.WindowStart = at
		w.CountInWindow = 0
	}
	remaining := c.Max - w.CountInWindow
	if remaining < 0 {
		remaining = 0
	}
	if d.AdjustedEssence > remaining {
		d.AdjustedEssence = remaining
		d.Reasons = append(d.Reasons, domain.ReasonEssenceCapped)
	}
	w.CountInWindow += d.AdjustedEssence
	return d, w
}

func deny(d domain.AcceptanceDecision, r domain.DecisionReason) domain.AcceptanceDecision {
	d.AdjustedEssence = 0
	d.CountsTowardProgress = false
	d.Reasons = append(d.Reasons, r)
	return d
}

// lookup resolves "domain:eventType", then "domain", then "*".
func lookup[T any](m map[string]T, d domain.SourceDomain, eventType string) (T, bool) {
	if v, ok := m[domain.EventKey(d, eventType)]; ok {
		return v, true
	}
	if v, ok := m[string(d)]; ok {
		return v, true
	}
	v, ok := m["*"]
	return v, ok
}

// payloadTime reads an RFC3339 string or unix seconds from the payload.
func payloadTime(p map[string]any, key string) (time.Time, bool) {
	switch v := p[key].(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v)); err == nil {
			return ts, true
		}
		if secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return time.Unix(secs, 0), true
		}
	case float64:
		return time.Unix(int64(v), 0), true
	case int64:
		return time.Unix(v, 0), true
	case int:
		return time.Unix(int64(v), 0), true
	}
	return time.Time{}, false
}
