// Package observability holds the engine's Prometheus metrics and the
// OpenTelemetry tracer provider setup.
//
// Metrics are registered on the default registry via promauto and served
// by promhttp on /metrics. Tracing is opt-in through an OTLP endpoint.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lifehub/essence/internal/domain"
)

const namespace = "essence"

// ═══════════════════════════════════════════════════════════════════════════
// Pipeline Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Ingestion ──────────────────────────────────────────────────────────────

// EventsTotal counts processed events by outcome.
var EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "engine",
	Name:      "events_total",
	Help:      "Events handled by the engine, by outcome (applied, duplicate, requeued, invalid, backpressure, failed).",
}, []string{"outcome"})

// LaneDepth tracks queued events per ingestion lane.
var LaneDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "engine",
	Name:      "lane_depth",
	Help:      "Events waiting in each ingestion lane.",
}, []string{"lane"})

// ApplyDuration observes end-to-end processing time of one event.
var ApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "engine",
	Name:      "apply_duration_seconds",
	Help:      "Time from snapshot load to committed mutation set.",
	Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
})

// StaleWriteRetries counts optimistic concurrency retries.
var StaleWriteRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "engine",
	Name:      "stale_write_retries_total",
	Help:      "Snapshot reloads after a version conflict.",
})

// Requeues counts events moved to the delay queue after exhausting retries.
var Requeues = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "engine",
	Name:      "requeues_total",
	Help:      "Events requeued after exhausting immediate retries.",
})

// DelayQueueDepth tracks events waiting for a delayed retry.
var DelayQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "engine",
	Name:      "delay_queue_depth",
	Help:      "Events waiting in the requeue delay queue.",
})

// ─── Anti-Cheat ─────────────────────────────────────────────────────────────

// DecisionsTotal counts guard decisions by reason; "clean" when none applied.
var DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "anticheat",
	Name:      "decisions_total",
	Help:      "Anti-cheat decisions by reason.",
}, []string{"reason"})

// ─── Progression ────────────────────────────────────────────────────────────

// EssenceCredited counts essence granted by ledger entry kind.
var EssenceCredited = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "progression",
	Name:      "essence_credited_total",
	Help:      "Essence credited, by ledger entry kind.",
}, []string{"kind"})

// LevelUps counts level-up notifications.
var LevelUps = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "progression",
	Name:      "level_ups_total",
	Help:      "Credits that crossed at least one level.",
})

// AchievementUnlocks counts tier unlocks per achievement.
var AchievementUnlocks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "progression",
	Name:      "achievement_unlocks_total",
	Help:      "Achievement tier unlocks.",
}, []string{"achievement", "tier"})

// UnknownRewards counts grants that referenced a reward missing from the catalog.
var UnknownRewards = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "progression",
	Name:      "unknown_rewards_total",
	Help:      "Reward grants deferred because the reward is not in the catalog.",
})

// RewardGrants counts rewards granted.
var RewardGrants = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "progression",
	Name:      "reward_grants_total",
	Help:      "Cosmetic rewards granted, by type.",
}, []string{"type"})

// ─── Delivery ───────────────────────────────────────────────────────────────

// NotificationsPublished counts notifications pushed to live sinks.
var NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "delivery",
	Name:      "notifications_published_total",
	Help:      "Notifications pushed to live subscribers, by sink and result.",
}, []string{"sink", "result"})

// StreamMessages counts Redis stream entries by handling result.
var StreamMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "delivery",
	Name:      "stream_messages_total",
	Help:      "Inbound stream entries by result (acked, invalid, backpressure, failed).",
}, []string{"result"})

// ─── Helpers ────────────────────────────────────────────────────────────────

// RecordDecision counts every reason on d, or "clean" when there are none.
func RecordDecision(d domain.AcceptanceDecision) {
	if len(d.Reasons) == 0 {
		DecisionsTotal.WithLabelValues("clean").Inc()
		return
	}
	for _, r := range d.Reasons {
		DecisionsTotal.WithLabelValues(string(r)).Inc()
	}
}

// RecordUnlock counts one achievement tier unlock.
func RecordUnlock(achievementID string, tier int) {
	AchievementUnlocks.WithLabelValues(achievementID, strconv.Itoa(tier)).Inc()
}

// ObserveApply records processing latency since start.
func ObserveApply(start time.Time) {
	ApplyDuration.Observe(time.Since(start).Seconds())
}
