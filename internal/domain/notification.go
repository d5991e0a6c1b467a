package domain

import "time"

// ─── Notifications ──────────────────────────────────────────────────────────
// Persisted with the mutation set, pushed to live subscribers after commit.

// NotificationType classifies a user-facing notification.
type NotificationType string

const (
	NotifyEssenceGained       NotificationType = "ESSENCE_GAINED"
	NotifyLevelUp             NotificationType = "LEVEL_UP"
	NotifyAchievementUnlocked NotificationType = "ACHIEVEMENT_UNLOCKED"
	NotifyRewardUnlocked      NotificationType = "REWARD_UNLOCKED"
)

// Headline returns the default title and icon for the type.
func (t NotificationType) Headline() (title, icon string) {
	switch t {
	case NotifyEssenceGained:
		return "Essence Gained!", "✨"
	case NotifyLevelUp:
		return "Level Up!", "🎉"
	case NotifyAchievementUnlocked:
		return "Achievement Unlocked!", "🏆"
	case NotifyRewardUnlocked:
		return "Reward Unlocked!", "🎁"
	}
	return "Notification", "🔔"
}

// Notification is a user-facing message produced by the pipeline.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	EventID   string            `json:"event_id"`
	Type      NotificationType  `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Icon      string            `json:"icon"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Shown     bool              `json:"shown"`
}
