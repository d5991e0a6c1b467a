package domain

import "time"

// ─── Essence Ledger ─────────────────────────────────────────────────────────
// Every increase of TotalEssence is one ledger row tied to exactly one event.

// EntryKind is the business reason for a ledger entry.
type EntryKind string

const (
	EntryEarn  EntryKind = "EARN"  // base essence for an accepted event
	EntryBonus EntryKind = "BONUS" // achievement essence reward
)

// LedgerEntry is a single essence credit.
type LedgerEntry struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	EventID       string    `json:"event_id"`
	Kind          EntryKind `json:"kind"`
	Amount        int64     `json:"amount"`
	Source        string    `json:"source"`
	AchievementID string    `json:"achievement_id,omitempty"`
	Balance       int64     `json:"balance"`
	CreatedAt     time.Time `json:"created_at"`
}
