package dsa

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
)

// ─── Seen Filter ────────────────────────────────────────────────────────────
// Probabilistic "was this event already applied?" check in front of the store:
//   - No  → definitely not applied by this process, skip the store lookup
//   - Yes → maybe; confirm against the processed-events table
//
// Two generations bound memory: when the active generation reaches
// ExpectedItems it becomes the previous one and a fresh generation starts.
// Lookups consult both, so an entry survives at least ExpectedItems inserts.

// BloomConfig configures the seen filter.
type BloomConfig struct {
	ExpectedItems int     // items per generation
	FPRate        float64 // target false positive rate per generation
}

// DefaultBloomConfig returns defaults for 100k events at 0.1% FP rate.
func DefaultBloomConfig() BloomConfig {
	return BloomConfig{
		ExpectedItems: 100_000,
		FPRate:        0.001,
	}
}

type bitset struct {
	bits  []uint64
	count int
}

// SeenFilter is a rotating Bloom filter keyed by user and event ID.
type SeenFilter struct {
	mu       sync.RWMutex
	active   *bitset
	previous *bitset
	numBits  uint
	numHash  uint
	capacity int
	rotated  int
}

// NewSeenFilter sizes each generation for the target FP rate:
//
//	m = -(n * ln(p)) / (ln(2)^2)   — total bits
//	k = (m/n) * ln(2)              — hash functions
func NewSeenFilter(cfg BloomConfig) *SeenFilter {
	if cfg.ExpectedItems <= 0 {
		cfg.ExpectedItems = 100_000
	}
	if cfg.FPRate <= 0 || cfg.FPRate >= 1 {
		cfg.FPRate = 0.001
	}
	n := float64(cfg.ExpectedItems)
	m := uint(math.Ceil(-(n * math.Log(cfg.FPRate)) / (math.Ln2 * math.Ln2)))
	if m < 64 {
		m = 64
	}
	k := uint(math.Ceil(float64(m) / n * math.Ln2))
	if k == 0 {
		k = 1
	}
	f := &SeenFilter{numBits: m, numHash: k, capacity: cfg.ExpectedItems}
	f.active = f.newBitset()
	return f
}

func (f *SeenFilter) newBitset() *bitset {
	return &bitset{bits: make([]uint64, (f.numBits+63)/64)}
}

// Add records an applied event.
func (f *SeenFilter) Add(userID, eventID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active.count >= f.capacity {
		f.previous = f.active
		f.active = f.newBitset()
		f.rotated++
	}
	h1, h2 := baseHashes(userID, eventID)
	for i := uint(0); i < f.numHash; i++ {
		pos := f.nthHash(h1, h2, i)
		f.active.bits[pos/64] |= 1 << (pos % 64)
	}
	f.active.count++
}

// MaybeSeen reports whether the event might have been applied.
func (f *SeenFilter) MaybeSeen(userID, eventID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	h1, h2 := baseHashes(userID, eventID)
	return f.test(f.active, h1, h2) || (f.previous != nil && f.test(f.previous, h1, h2))
}

func (f *SeenFilter) test(b *bitset, h1, h2 uint32) bool {
	for i := uint(0); i < f.numHash; i++ {
		pos := f.nthHash(h1, h2, i)
		if b.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns items in the active generation.
func (f *SeenFilter) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.active.count
}

// Rotations returns how many generations have been retired.
func (f *SeenFilter) Rotations() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.rotated
}

// EstimatedFPRate returns (1 - e^(-kn/m))^k for the active generation.
func (f *SeenFilter) EstimatedFPRate() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, k, n := float64(f.numBits), float64(f.numHash), float64(f.active.count)
	return math.Pow(1-math.Exp(-k*n/m), k)
}

// baseHashes derives two 32-bit hashes (Kirsch-Mitzenmacker double hashing).
func baseHashes(userID, eventID string) (uint32, uint32) {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(eventID))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint32(sum[0:4]), binary.BigEndian.Uint32(sum[4:8])
}

func (f *SeenFilter) nthHash(h1, h2 uint32, i uint) uint {
	return uint((uint64(h1) + uint64(i)*uint64(h2)) % uint64(f.numBits))
}
