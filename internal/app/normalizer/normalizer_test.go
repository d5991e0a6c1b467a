package normalizer

import (
	"errors"
	"testing"
	"time"

	"github.com/lifehub/essence/internal/domain"
)

var fixedNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	n := New(DefaultConfig())
	n.SetClock(func() time.Time { return fixedNow })
	return n
}

func validEvent() domain.DomainEvent {
	return domain.DomainEvent{
		EventID:      "evt-1",
		UserID:       "user-1",
		SourceDomain: domain.DomainTodo,
		EventType:    "task_completed",
		OccurredAt:   fixedNow.Add(-time.Minute),
		Payload:      map[string]any{"task_id": "t1", "priority": float64(2)},
	}
}

func TestNormalize_Valid(t *testing.T) {
	n := newTestNormalizer()
	ce, err := n.Normalize(validEvent())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ce.EssenceWeight != 20 {
		t.Errorf("EssenceWeight = %d, want 20", ce.EssenceWeight)
	}
	if ce.Key() != "todo:task_completed" {
		t.Errorf("Key() = %q", ce.Key())
	}
}

func TestNormalize_Canonicalizes(t *testing.T) {
	n := newTestNormalizer()
	ev := validEvent()
	ev.SourceDomain = " Habits "
	ev.EventType = "HABIT_Completed"
	ev.UserID = "  user-1 "
	ev.OccurredAt = fixedNow.In(time.FixedZone("PDT", -7*3600)).Add(-time.Hour)

	ce, err := n.Normalize(ev)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ce.SourceDomain != domain.DomainHabits || ce.EventType != "habit_completed" {
		t.Errorf("canonical = %s:%s", ce.SourceDomain, ce.EventType)
	}
	if ce.UserID != "user-1" {
		t.Errorf("UserID = %q, want trimmed", ce.UserID)
	}
	if ce.OccurredAt.Location() != time.UTC {
		t.Errorf("OccurredAt not UTC: %v", ce.OccurredAt)
	}
	if ce.EssenceWeight != 15 {
		t.Errorf("EssenceWeight = %d, want 15", ce.EssenceWeight)
	}
}

func TestNormalize_UnknownTypeHasZeroWeight(t *testing.T) {
	n := newTestNormalizer()
	ev := validEvent()
	ev.EventType = "task_renamed"
	ce, err := n.Normalize(ev)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ce.EssenceWeight != 0 {
		t.Errorf("EssenceWeight = %d, want 0", ce.EssenceWeight)
	}
}

func TestNormalize_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.DomainEvent)
		field  string
	}{
		{"missing event id", func(e *domain.DomainEvent) { e.EventID = " " }, "event_id"},
		{"missing user id", func(e *domain.DomainEvent) { e.UserID = "" }, "user_id"},
		{"missing domain", func(e *domain.DomainEvent) { e.SourceDomain = "" }, "source_domain"},
		{"unknown domain", func(e *domain.DomainEvent) { e.SourceDomain = "payroll" }, "source_domain"},
		{"missing type", func(e *domain.DomainEvent) { e.EventType = "" }, "event_type"},
		{"missing time", func(e *domain.DomainEvent) { e.OccurredAt = time.Time{} }, "occurred_at"},
		{"future beyond skew", func(e *domain.DomainEvent) { e.OccurredAt = fixedNow.Add(5 * time.Minute) }, "occurred_at"},
		{"too old", func(e *domain.DomainEvent) { e.OccurredAt = fixedNow.Add(-100 * time.Hour) }, "occurred_at"},
		{"nested payload", func(e *domain.DomainEvent) { e.Payload = map[string]any{"tags": []any{"a"}} }, "payload.tags"},
	}
	n := newTestNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent()
			tt.mutate(&ev)
			_, err := n.Normalize(ev)
			if !errors.Is(err, domain.ErrInvalidEvent) {
				t.Fatalf("err = %v, want ErrInvalidEvent", err)
			}
			var ie *domain.InvalidEventError
			if !errors.As(err, &ie) || ie.Field != tt.field {
				t.Errorf("field = %v, want %q", ie, tt.field)
			}
		})
	}
}

func TestNormalize_FutureWithinSkew(t *testing.T) {
	n := newTestNormalizer()
	ev := validEvent()
	ev.OccurredAt = fixedNow.Add(90 * time.Second)
	if _, err := n.Normalize(ev); err != nil {
		t.Errorf("event inside clock skew rejected: %v", err)
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	n := newTestNormalizer()
	ev := validEvent()
	ev.EventType = "TASK_COMPLETED"
	if _, err := n.Normalize(ev); err != nil {
		t.Fatal(err)
	}
	if ev.EventType != "TASK_COMPLETED" {
		t.Error("Normalize mutated its input")
	}
}
