package anticheat

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// ─── Diminishing Returns ────────────────────────────────────────────────────
// The decay function is data: either a step table or periodic halving,
// always bounded below by Floor.

// DecayKind selects the shape of the decay function.
type DecayKind string

const (
	DecayNone    DecayKind = "none"
	DecaySteps   DecayKind = "steps"
	DecayHalving DecayKind = "halving"
)

// DecayStep applies Multiplier once After qualifying events already happened
// in the current period.
type DecayStep struct {
	After      int
	Multiplier float64
}

// Decay is the diminishing-returns policy.
type Decay struct {
	Kind   DecayKind
	Period time.Duration // counter resets after this long
	Floor  float64       // lowest multiplier, in (0, 1]
	Steps  []DecayStep   // DecaySteps only, sorted by After
	Every  int           // DecayHalving only: halve every Every events
}

// Validate checks the function is non-increasing and bounded below.
func (d Decay) Validate() error {
	switch d.Kind {
	case "", DecayNone:
		return nil
	case DecaySteps, DecayHalving:
	default:
		return fmt.Errorf("decay: unknown kind %q", d.Kind)
	}
	if d.Period <= 0 {
		return fmt.Errorf("decay: period must be positive")
	}
	if d.Floor <= 0 || d.Floor > 1 {
		return fmt.Errorf("decay: floor %.3f must be in (0, 1]", d.Floor)
	}
	if d.Kind == DecayHalving {
		if d.Every <= 0 {
			return fmt.Errorf("decay: halving needs every > 0")
		}
		return nil
	}
	prevAfter, prevMult := 0, 1.0
	for i, s := range d.Steps {
		if s.After <= 0 {
			return fmt.Errorf("decay: step %d: after must be positive", i)
		}
		if i > 0 && s.After <= prevAfter {
			return fmt.Errorf("decay: step %d: after %d not increasing", i, s.After)
		}
		if s.Multiplier <= 0 || s.Multiplier > prevMult {
			return fmt.Errorf("decay: step %d: multiplier %.3f must be in (0, %.3f]", i, s.Multiplier, prevMult)
		}
		prevAfter, prevMult = s.After, s.Multiplier
	}
	return nil
}

// Factor returns the multiplier for the nth (1-based) qualifying event in a period.
func (d Decay) Factor(n int) float64 {
	f := 1.0
	switch d.Kind {
	case DecaySteps:
		prior := n - 1
		i := sort.Search(len(d.Steps), func(i int) bool { return d.Steps[i].After > prior })
		if i > 0 {
			f = d.Steps[i-1].Multiplier
		}
	case DecayHalving:
		if n > 1 && d.Every > 0 {
			f = math.Pow(0.5, float64((n-1)/d.Every))
		}
	default:
		return 1.0
	}
	return math.Max(f, d.Floor)
}

// Apply scales base by the nth factor. A positive base never yields less than 1.
func (d Decay) Apply(base int64, n int) int64 {
	if base <= 0 {
		return 0
	}
	out := int64(math.Floor(float64(base) * d.Factor(n)))
	if out < 1 {
		out = 1
	}
	return out
}
