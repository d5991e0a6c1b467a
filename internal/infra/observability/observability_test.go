package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lifehub/essence/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Observability Tests
// ═══════════════════════════════════════════════════════════════════════════

// ─── Tracing ────────────────────────────────────────────────────────────────

func TestSetupTracing_NoopWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracingConfig{})
	if err != nil {
		t.Fatalf("SetupTracing() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Errorf("noop shutdown error: %v", err)
	}
}

func TestSetupTracing_WithEndpoint(t *testing.T) {
	// Non-routable address: nothing is exported, shutdown still flushes cleanly.
	shutdown, err := SetupTracing(context.Background(), TracingConfig{
		Endpoint:    "http://192.0.2.1:4318",
		ServiceName: "essence-test",
		SampleRatio: 0.5,
	})
	if err != nil {
		t.Fatalf("SetupTracing() error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error: %v", err)
	}
}

// ─── Metrics ────────────────────────────────────────────────────────────────

func TestRecordDecision(t *testing.T) {
	before := testutil.ToFloat64(DecisionsTotal.WithLabelValues("rate_limited"))
	cleanBefore := testutil.ToFloat64(DecisionsTotal.WithLabelValues("clean"))

	RecordDecision(domain.AcceptanceDecision{Reasons: []domain.DecisionReason{domain.ReasonRateLimited}})
	RecordDecision(domain.AcceptanceDecision{})

	if got := testutil.ToFloat64(DecisionsTotal.WithLabelValues("rate_limited")) - before; got != 1 {
		t.Errorf("rate_limited delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(DecisionsTotal.WithLabelValues("clean")) - cleanBefore; got != 1 {
		t.Errorf("clean delta = %v, want 1", got)
	}
}

func TestRecordUnlock(t *testing.T) {
	before := testutil.ToFloat64(AchievementUnlocks.WithLabelValues("habit_streak", "2"))
	RecordUnlock("habit_streak", 2)
	if got := testutil.ToFloat64(AchievementUnlocks.WithLabelValues("habit_streak", "2")) - before; got != 1 {
		t.Errorf("unlock delta = %v, want 1", got)
	}
}
