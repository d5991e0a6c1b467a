package dsa

import (
	"fmt"
	"testing"
	"time"
)

// ─── Lane Ring Tests ────────────────────────────────────────────────────────

func TestLaneRing_Stable(t *testing.T) {
	r := NewLaneRing(DefaultLaneRingConfig())
	for i := 0; i < 100; i++ {
		u := fmt.Sprintf("user-%d", i)
		if r.LaneFor(u) != r.LaneFor(u) {
			t.Fatalf("lane for %s not stable", u)
		}
	}
}

func TestLaneRing_Distribution(t *testing.T) {
	r := NewLaneRing(LaneRingConfig{Lanes: 4, VirtualNodes: 150})
	counts := make([]int, 4)
	for i := 0; i < 4000; i++ {
		lane := r.LaneFor(fmt.Sprintf("user-%d", i))
		if lane < 0 || lane >= 4 {
			t.Fatalf("lane %d out of range", lane)
		}
		counts[lane]++
	}
	for lane, c := range counts {
		if c < 500 || c > 1500 {
			t.Errorf("lane %d got %d users, distribution too skewed", lane, c)
		}
	}
}

func TestLaneRing_ResizeMovesFewUsers(t *testing.T) {
	r := NewLaneRing(LaneRingConfig{Lanes: 8, VirtualNodes: 150})
	before := map[string]int{}
	for i := 0; i < 2000; i++ {
		u := fmt.Sprintf("user-%d", i)
		before[u] = r.LaneFor(u)
	}
	r.Resize(9)
	moved := 0
	for u, lane := range before {
		if r.LaneFor(u) != lane {
			moved++
		}
	}
	if moved > 600 {
		t.Errorf("moved %d of 2000 users, want roughly 1/9", moved)
	}
	if r.Lanes() != 9 {
		t.Errorf("Lanes() = %d, want 9", r.Lanes())
	}
}

// ─── Seen Filter Tests ──────────────────────────────────────────────────────

func TestSeenFilter_NoFalseNegatives(t *testing.T) {
	f := NewSeenFilter(BloomConfig{ExpectedItems: 1000, FPRate: 0.01})
	for i := 0; i < 1000; i++ {
		f.Add("u1", fmt.Sprintf("evt-%d", i))
	}
	for i := 0; i < 1000; i++ {
		if !f.MaybeSeen("u1", fmt.Sprintf("evt-%d", i)) {
			t.Fatalf("evt-%d reported unseen", i)
		}
	}
}

func TestSeenFilter_FalsePositiveRate(t *testing.T) {
	f := NewSeenFilter(BloomConfig{ExpectedItems: 5000, FPRate: 0.01})
	for i := 0; i < 5000; i++ {
		f.Add("u1", fmt.Sprintf("evt-%d", i))
	}
	fp := 0
	for i := 0; i < 10000; i++ {
		if f.MaybeSeen("u2", fmt.Sprintf("other-%d", i)) {
			fp++
		}
	}
	if rate := float64(fp) / 10000; rate > 0.03 {
		t.Errorf("false positive rate %.4f too high", rate)
	}
}

func TestSeenFilter_KeyedByUser(t *testing.T) {
	f := NewSeenFilter(BloomConfig{ExpectedItems: 100, FPRate: 0.001})
	f.Add("u1", "evt-1")
	if f.MaybeSeen("u2", "evt-1") {
		t.Error("event seen for a different user")
	}
}

func TestSeenFilter_Rotation(t *testing.T) {
	f := NewSeenFilter(BloomConfig{ExpectedItems: 10, FPRate: 0.01})
	for i := 0; i < 15; i++ {
		f.Add("u1", fmt.Sprintf("evt-%d", i))
	}
	if f.Rotations() != 1 {
		t.Errorf("Rotations() = %d, want 1", f.Rotations())
	}
	if !f.MaybeSeen("u1", "evt-0") {
		t.Error("previous generation must still answer")
	}
	if f.Count() != 5 {
		t.Errorf("Count() = %d, want 5", f.Count())
	}
}

// ─── Delay Queue Tests ──────────────────────────────────────────────────────

func TestDelayQueue_PopDueInOrder(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := NewDelayQueue()
	q.SetClock(func() time.Time { return now })

	q.Push(DelayItem{Key: "c", Due: now.Add(3 * time.Second)})
	q.Push(DelayItem{Key: "a", Due: now.Add(-time.Second)})
	q.Push(DelayItem{Key: "b", Due: now})
	q.Push(DelayItem{Key: "b2", Due: now})

	due := q.PopDue()
	if len(due) != 3 {
		t.Fatalf("PopDue returned %d items, want 3", len(due))
	}
	want := []string{"a", "b", "b2"}
	for i := range want {
		if due[i].Key != want[i] {
			t.Errorf("due[%d] = %s, want %s", i, due[i].Key, want[i])
		}
	}
	next, ok := q.NextDue()
	if !ok || !next.Equal(now.Add(3*time.Second)) {
		t.Errorf("NextDue = %v %v", next, ok)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

func TestDelayQueue_Empty(t *testing.T) {
	q := NewDelayQueue()
	if items := q.PopDue(); len(items) != 0 {
		t.Errorf("PopDue on empty = %v", items)
	}
	if _, ok := q.NextDue(); ok {
		t.Error("NextDue on empty should be false")
	}
}

func TestDelayQueue_Drain(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := NewDelayQueue()
	q.SetClock(func() time.Time { return now })
	q.Push(DelayItem{Key: "later", Due: now.Add(time.Hour)})
	q.Push(DelayItem{Key: "soon", Due: now.Add(time.Minute)})

	items := q.Drain()
	if len(items) != 2 || items[0].Key != "soon" || items[1].Key != "later" {
		t.Errorf("Drain() = %+v, want [soon later]", items)
	}
	if q.Len() != 0 {
		t.Errorf("Len() after Drain = %d, want 0", q.Len())
	}
}
