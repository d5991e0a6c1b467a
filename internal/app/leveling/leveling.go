// Package leveling owns the essence → level curve and the title table.
//
//	RequiredEssence(L) = 0            for L ≤ 1
//	RequiredEssence(L) = 100 × L²     otherwise
//
// Level is always derived from TotalEssence; it is cached on the
// progression only for reads.
package leveling

import (
	"math"
	"sort"

	"github.com/lifehub/essence/internal/domain"
)

// CurveFactor is the multiplier of the quadratic level curve.
const CurveFactor = 100

// RequiredEssence returns the total essence needed to reach level.
func RequiredEssence(level int) int64 {
	if level <= 1 {
		return 0
	}
	l := int64(level)
	return CurveFactor * l * l
}

// LevelFor returns the largest L with total ≥ RequiredEssence(L).
func LevelFor(total int64) int {
	if total < RequiredEssence(2) {
		return 1
	}
	l := int(math.Sqrt(float64(total) / CurveFactor))
	for RequiredEssence(l+1) <= total {
		l++
	}
	for l > 1 && RequiredEssence(l) > total {
		l--
	}
	return l
}

// Progress is the position of a total inside its level band.
type Progress struct {
	Level            int     `json:"level"`
	LevelEssence     int64   `json:"level_essence"`      // RequiredEssence(Level)
	NextLevelEssence int64   `json:"next_level_essence"` // RequiredEssence(Level+1)
	EssenceIntoLevel int64   `json:"essence_into_level"`
	EssenceToNext    int64   `json:"essence_to_next"`
	Percent          float64 `json:"percent"`
}

// ProgressFor computes progress toward the next level.
func ProgressFor(total int64) Progress {
	l := LevelFor(total)
	cur, next := RequiredEssence(l), RequiredEssence(l+1)
	p := Progress{
		Level:            l,
		LevelEssence:     cur,
		NextLevelEssence: next,
		EssenceIntoLevel: total - cur,
		EssenceToNext:    next - total,
	}
	if band := next - cur; band > 0 {
		p.Percent = math.Round(float64(total-cur)/float64(band)*10000) / 100
	}
	return p
}

// ─── Titles ─────────────────────────────────────────────────────────────────

// Titles maps a level to the greatest configured title at or below it.
type Titles struct {
	levels []int
	names  map[int]string
}

// DefaultTitleTable is the stock level → title table.
func DefaultTitleTable() map[int]string {
	return map[int]string{
		1:  "Freshman",
		2:  "Novice",
		3:  "Apprentice",
		4:  "Adept",
		5:  "Journeyman",
		6:  "Expert",
		7:  "Master",
		8:  "Grandmaster",
		9:  "Legend",
		10: "Sage",
		11: "Ascended",
	}
}

// NewTitles builds a lookup from a level → title table.
func NewTitles(table map[int]string) Titles {
	t := Titles{names: make(map[int]string, len(table))}
	for l, name := range table {
		t.levels = append(t.levels, l)
		t.names[l] = name
	}
	sort.Ints(t.levels)
	return t
}

// For returns the title for level, or "" when no entry is ≤ level.
func (t Titles) For(level int) string {
	i := sort.SearchInts(t.levels, level+1)
	if i == 0 {
		return ""
	}
	return t.names[t.levels[i-1]]
}

// ─── Engine ─────────────────────────────────────────────────────────────────

// LevelChange reports the effect of a credit on level and title.
type LevelChange struct {
	From  int    `json:"from"`
	To    int    `json:"to"`
	Title string `json:"title"`
}

// LeveledUp reports whether at least one level was crossed.
func (c LevelChange) LeveledUp() bool { return c.To > c.From }

// Engine credits essence and keeps level and title consistent with it.
type Engine struct {
	titles Titles
}

// New creates a leveling engine with the given title table.
func New(titles Titles) *Engine {
	return &Engine{titles: titles}
}

// Title returns the title for level.
func (e *Engine) Title(level int) string { return e.titles.For(level) }

// Credit adds amount to p and recomputes Level and Title. Non-positive
// amounts leave the total unchanged. Crossing several levels yields one change.
func (e *Engine) Credit(p *domain.UserProgression, amount int64) LevelChange {
	from := p.Level
	if from < 1 {
		from = 1
	}
	if amount > 0 {
		p.TotalEssence += amount
	}
	p.Level = LevelFor(p.TotalEssence)
	p.Title = e.titles.For(p.Level)
	return LevelChange{From: from, To: p.Level, Title: p.Title}
}
