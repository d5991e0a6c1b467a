package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// ProgressionStore is the gateway through which the engine reads and commits
// per-user progression. Implementations must apply a MutationSet atomically.
type ProgressionStore interface {
	// LoadProgression returns the user's snapshot, or a fresh progression
	// with Version 0 when the user has no history.
	LoadProgression(ctx context.Context, userID string) (*UserProgression, error)

	// AtomicApply commits every mutation or none. It returns ErrDuplicateEvent
	// when m.EventID was already applied and ErrStaleWrite when the stored
	// version no longer equals m.ExpectedVersion.
	AtomicApply(ctx context.Context, userID string, m MutationSet) (*UserProgression, error)
}

// ProgressionQueries is the read side used by the query surface and reconciliation.
type ProgressionQueries interface {
	IsProcessed(ctx context.Context, userID, eventID string) (bool, error)
	PruneProcessed(ctx context.Context, before time.Time) (int64, error)

	ListRewardUnlocks(ctx context.Context, userID string) ([]UserRewardUnlock, error)
	EquipReward(ctx context.Context, userID, rewardID string, unequip []string) error

	ListLedger(ctx context.Context, userID string, limit int) ([]LedgerEntry, error)
	ListDecisions(ctx context.Context, userID string, limit int) ([]Decision, error)

	PendingNotifications(ctx context.Context, userID string, limit int) ([]Notification, error)
	MarkNotificationShown(ctx context.Context, userID, notificationID string) error

	ListPendingGrants(ctx context.Context, limit int) ([]PendingGrant, error)
	ResolvePendingGrant(ctx context.Context, grant PendingGrant, unlock *UserRewardUnlock) error
}

// Notifier receives notifications after their mutation set has committed.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}
