// Package normalizer validates inbound domain events and maps them to a
// canonical shape with a base essence weight.
//
// Normalization is pure: no store access, no side effects. Anything that
// fails here is rejected at ingress and never retried.
package normalizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/lifehub/essence/internal/domain"
)

// Config controls event acceptance and the base essence table.
type Config struct {
	Domains     []domain.SourceDomain // accepted producing domains
	ClockSkew   time.Duration         // tolerated future drift of OccurredAt
	MaxEventAge time.Duration         // 0 = unbounded; must not exceed idempotency retention
	EssenceBase map[string]int64      // "domain:eventType" → base essence
}

// DefaultConfig returns the built-in domains and essence table.
func DefaultConfig() Config {
	return Config{
		Domains:     domain.DefaultDomains(),
		ClockSkew:   2 * time.Minute,
		MaxEventAge: 72 * time.Hour,
		EssenceBase: map[string]int64{
			"todo:task_completed":           20,
			"habits:habit_completed":        15,
			"habits:habit_streak_advanced":  5,
			"accounting:transaction_logged": 10,
			"accounting:budget_met":         25,
			"identity:profile_completed":    50,
		},
	}
}

// Normalizer turns DomainEvents into CanonicalEvents.
type Normalizer struct {
	domains map[domain.SourceDomain]bool
	base    map[string]int64
	skew    time.Duration
	maxAge  time.Duration
	now     func() time.Time
}

// New creates a normalizer. Table keys are canonicalized the same way events are.
func New(cfg Config) *Normalizer {
	n := &Normalizer{
		domains: make(map[domain.SourceDomain]bool, len(cfg.Domains)),
		base:    make(map[string]int64, len(cfg.EssenceBase)),
		skew:    cfg.ClockSkew,
		maxAge:  cfg.MaxEventAge,
		now:     time.Now,
	}
	for _, d := range cfg.Domains {
		n.domains[domain.SourceDomain(canon(string(d)))] = true
	}
	for k, v := range cfg.EssenceBase {
		d, typ, _ := strings.Cut(k, ":")
		n.base[domain.EventKey(domain.SourceDomain(canon(d)), canon(typ))] = v
	}
	return n
}

// SetClock overrides the wall clock used for skew and age checks.
func (n *Normalizer) SetClock(now func() time.Time) { n.now = now }

// Normalize validates ev and derives its essence weight.
func (n *Normalizer) Normalize(ev domain.DomainEvent) (domain.CanonicalEvent, error) {
	ev.EventID = strings.TrimSpace(ev.EventID)
	ev.UserID = strings.TrimSpace(ev.UserID)
	ev.SourceDomain = domain.SourceDomain(canon(string(ev.SourceDomain)))
	ev.EventType = canon(ev.EventType)

	switch {
	case ev.EventID == "":
		return domain.CanonicalEvent{}, invalid("event_id", "required")
	case ev.UserID == "":
		return domain.CanonicalEvent{}, invalid("user_id", "required")
	case ev.SourceDomain == "":
		return domain.CanonicalEvent{}, invalid("source_domain", "required")
	case ev.EventType == "":
		return domain.CanonicalEvent{}, invalid("event_type", "required")
	case ev.OccurredAt.IsZero():
		return domain.CanonicalEvent{}, invalid("occurred_at", "required")
	}
	if !n.domains[ev.SourceDomain] {
		return domain.CanonicalEvent{}, invalid("source_domain", fmt.Sprintf("unknown domain %q", ev.SourceDomain))
	}

	now := n.now()
	ev.OccurredAt = ev.OccurredAt.UTC()
	if ev.OccurredAt.After(now.Add(n.skew)) {
		return domain.CanonicalEvent{}, invalid("occurred_at", "in the future beyond clock skew")
	}
	if n.maxAge > 0 && ev.OccurredAt.Before(now.Add(-n.maxAge)) {
		return domain.CanonicalEvent{}, invalid("occurred_at", "older than max event age")
	}

	payload, err := canonPayload(ev.Payload)
	if err != nil {
		return domain.CanonicalEvent{}, err
	}
	ev.Payload = payload

	return domain.CanonicalEvent{
		DomainEvent:   ev,
		EssenceWeight: n.base[ev.Key()],
	}, nil
}

// BaseEssence returns the configured weight for a key, 0 when absent.
func (n *Normalizer) BaseEssence(d domain.SourceDomain, eventType string) int64 {
	return n.base[domain.EventKey(d, eventType)]
}

// canonPayload checks every value is a scalar. JSON numbers arrive as float64.
func canonPayload(in map[string]any) (map[string]any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case nil, string, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
			out[k] = t
		case time.Time:
			out[k] = t.UTC().Format(time.RFC3339Nano)
		default:
			return nil, invalid("payload."+k, fmt.Sprintf("non-scalar value of type %T", v))
		}
	}
	return out, nil
}

func canon(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func invalid(field, reason string) error {
	return &domain.InvalidEventError{Field: field, Reason: reason}
}
