package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Ingestion errors
	ErrInvalidEvent   = errors.New("invalid domain event")
	ErrDuplicateEvent = errors.New("event already processed")
	ErrBackpressure   = errors.New("ingestion lane full, redeliver later")
	ErrEngineClosed   = errors.New("engine is shut down")

	// Store errors
	ErrStaleWrite           = errors.New("progression changed since snapshot was loaded")
	ErrNotificationNotFound = errors.New("notification not found")

	// Catalog errors
	ErrUnknownReward      = errors.New("reward not in catalog")
	ErrUnknownAchievement = errors.New("achievement not in catalog")
	ErrRewardNotOwned     = errors.New("reward not owned by user")
)

// InvalidEventError describes why an event was rejected at ingress.
type InvalidEventError struct {
	Field  string
	Reason string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid domain event: %s: %s", e.Field, e.Reason)
}

func (e *InvalidEventError) Unwrap() error { return ErrInvalidEvent }

// UnknownRewardError is returned when an achievement references a reward
// the catalog does not contain.
type UnknownRewardError struct {
	RewardID      string
	AchievementID string
}

func (e *UnknownRewardError) Error() string {
	return fmt.Sprintf("reward %q referenced by achievement %q not in catalog", e.RewardID, e.AchievementID)
}

func (e *UnknownRewardError) Unwrap() error { return ErrUnknownReward }
