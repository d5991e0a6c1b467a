package dsa

import (
	"sync"
	"time"
)

// ─── Delay Queue (Min-Heap) ─────────────────────────────────────────────────
// Holds events that exhausted their immediate retries. Ordered by Due time;
// ties break by insertion order so a user's requeued events keep their order.
//
//   Push:    O(log n) — sift up
//   PopDue:  O(k log n) for k due items
//   NextDue: O(1)

// DelayItem is an element waiting for its due time.
type DelayItem struct {
	Key     string    // event ID, for logging
	Due     time.Time // earliest time to retry
	Attempt int       // requeue attempts so far
	Value   any       // caller payload
	seq     uint64
}

// DelayQueue is a thread-safe min-heap keyed by due time.
type DelayQueue struct {
	mu   sync.Mutex
	heap []DelayItem
	seq  uint64
	now  func() time.Time // injectable clock for testing
}

// NewDelayQueue creates an empty delay queue.
func NewDelayQueue() *DelayQueue {
	return &DelayQueue{now: time.Now}
}

// SetClock overrides the clock used by PopDue.
func (q *DelayQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

// Push schedules item for its Due time.
func (q *DelayQueue) Push(item DelayItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	item.seq = q.seq
	q.heap = append(q.heap, item)
	q.siftUp(len(q.heap) - 1)
}

// PopDue removes and returns every item whose Due time has passed, earliest first.
func (q *DelayQueue) PopDue() []DelayItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []DelayItem
	for len(q.heap) > 0 && !q.heap[0].Due.After(now) {
		out = append(out, q.pop())
	}
	return out
}

// Drain removes and returns every item regardless of due time, earliest first.
func (q *DelayQueue) Drain() []DelayItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DelayItem, 0, len(q.heap))
	for len(q.heap) > 0 {
		out = append(out, q.pop())
	}
	return out
}

// NextDue returns the earliest due time, or false when empty.
func (q *DelayQueue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return time.Time{}, false
	}
	return q.heap[0].Due, true
}

// Len returns the number of waiting items.
func (q *DelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

func (q *DelayQueue) pop() DelayItem {
	top := q.heap[0]
	last := len(q.heap) - 1
	q.heap[0] = q.heap[last]
	q.heap = q.heap[:last]
	if len(q.heap) > 0 {
		q.siftDown(0)
	}
	return top
}

func (q *DelayQueue) less(i, j int) bool {
	a, b := q.heap[i], q.heap[j]
	if !a.Due.Equal(b.Due) {
		return a.Due.Before(b.Due)
	}
	return a.seq < b.seq
}

func (q *DelayQueue) siftUp(idx int) {
	for idx > 0 {
		parent := (idx - 1) / 2
		if !q.less(idx, parent) {
			break
		}
		q.heap[idx], q.heap[parent] = q.heap[parent], q.heap[idx]
		idx = parent
	}
}

func (q *DelayQueue) siftDown(idx int) {
	n := len(q.heap)
	for {
		smallest := idx
		left, right := 2*idx+1, 2*idx+2
		if left < n && q.less(left, smallest) {
			smallest = left
		}
		if right < n && q.less(right, smallest) {
			smallest = right
		}
		if smallest == idx {
			return
		}
		q.heap[idx], q.heap[smallest] = q.heap[smallest], q.heap[idx]
		idx = smallest
	}
}
