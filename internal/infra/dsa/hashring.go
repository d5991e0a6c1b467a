// Package dsa implements the data structures behind the ingestion pipeline.
//
// This package provides three structures:
//  1. LaneRing   — consistent hash ring mapping a user to one ingestion lane
//  2. SeenFilter — generational Bloom filter over processed event IDs
//  3. DelayQueue — min-heap of events waiting to be retried
package dsa

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
)

// ─── Lane Ring ──────────────────────────────────────────────────────────────
// Maps user IDs → lane indexes. Every event of one user lands on the same
// lane, which serializes that user's processing. Each lane owns
// VirtualNodes positions on the ring; lookup is a binary search.

// LaneRingConfig configures the lane ring.
type LaneRingConfig struct {
	Lanes        int // number of lanes (default 8)
	VirtualNodes int // positions per lane (default 150)
}

// DefaultLaneRingConfig returns production defaults.
// 150 virtual nodes gives < 5% standard deviation in load distribution.
func DefaultLaneRingConfig() LaneRingConfig {
	return LaneRingConfig{Lanes: 8, VirtualNodes: 150}
}

// LaneRing is a consistent hash ring over lane indexes.
type LaneRing struct {
	mu    sync.RWMutex
	ring  []ringPoint // sorted by hash
	lanes int
	vn    int
}

type ringPoint struct {
	hash uint32
	lane int
}

// NewLaneRing builds a ring with cfg.Lanes lanes.
func NewLaneRing(cfg LaneRingConfig) *LaneRing {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 8
	}
	if cfg.VirtualNodes <= 0 {
		cfg.VirtualNodes = 150
	}
	r := &LaneRing{vn: cfg.VirtualNodes}
	r.Resize(cfg.Lanes)
	return r
}

// Resize rebuilds the ring for n lanes. Only ~1/n of users move lanes.
// Callers must drain lanes before resizing a running engine.
func (r *LaneRing) Resize(n int) {
	if n <= 0 {
		n = 1
	}
	ring := make([]ringPoint, 0, n*r.vn)
	for lane := 0; lane < n; lane++ {
		for i := 0; i < r.vn; i++ {
			ring = append(ring, ringPoint{hash: hashKey(fmt.Sprintf("lane-%d#%d", lane, i)), lane: lane})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })

	r.mu.Lock()
	r.ring = ring
	r.lanes = n
	r.mu.Unlock()
}

// LaneFor returns the lane owning userID. O(log n).
func (r *LaneRing) LaneFor(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hash := hashKey(userID)
	idx := sort.Search(len(r.ring), func(i int) bool {
		return r.ring[i].hash >= hash
	})
	if idx >= len(r.ring) {
		idx = 0
	}
	return r.ring[idx].lane
}

// Lanes returns the number of lanes.
func (r *LaneRing) Lanes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lanes
}

// hashKey produces a 32-bit hash of a key using SHA-256 truncation.
func hashKey(key string) uint32 {
	h := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint32(h[:4])
}
