package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lifehub/essence/internal/app/achievement"
	"github.com/lifehub/essence/internal/app/leveling"
	"github.com/lifehub/essence/internal/domain"
)

// TransactionLimit is the number of ledger rows ListTransactions returns.
const TransactionLimit = 50

// ─── Views ──────────────────────────────────────────────────────────────────

// ActiveReward is an equipped cosmetic shown on the profile.
type ActiveReward struct {
	RewardID string            `json:"reward_id"`
	Name     string            `json:"name"`
	Type     domain.RewardType `json:"type"`
	Payload  string            `json:"payload"`
}

// Profile is the read model behind GetProfile.
type Profile struct {
	UserID        string            `json:"user_id"`
	Essence       int64             `json:"essence"`
	Level         int               `json:"level"`
	Title         string            `json:"title"`
	ActiveRewards []ActiveReward    `json:"active_rewards"`
	Progress      leveling.Progress `json:"progress"`
	Achievements  int               `json:"achievements_unlocked"`
	UpdatedAt     time.Time         `json:"updated_at,omitempty"`
}

// AchievementView is one catalog entry with the user's progress.
type AchievementView struct {
	AchievementID string                 `json:"achievement_id"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description,omitempty"`
	Icon          string                 `json:"icon,omitempty"`
	Type          domain.AchievementType `json:"type"`
	Progress      int64                  `json:"progress"`
	Target        int64                  `json:"target"`
	TiersUnlocked int                    `json:"tiers_unlocked"`
	Tiers         int                    `json:"tiers"`
	Unlocked      bool                   `json:"unlocked"`
	UnlockedAt    *time.Time             `json:"unlocked_at,omitempty"`
}

// RewardView is a catalog reward with the user's ownership state.
type RewardView struct {
	domain.RewardDefinition
	AchievementID string     `json:"achievement_id,omitempty"`
	Owned         bool       `json:"owned"`
	UnlockedAt    *time.Time `json:"unlocked_at,omitempty"`
	Equipped      bool       `json:"equipped"`
}

// ─── Queries ────────────────────────────────────────────────────────────────

// GetProfile returns essence, level, title, equipped rewards and level progress.
// Unknown users get the starting profile.
func (e *Engine) GetProfile(ctx context.Context, userID string) (Profile, error) {
	p, err := e.store.LoadProgression(ctx, userID)
	if err != nil {
		return Profile{}, fmt.Errorf("load progression: %w", err)
	}
	rewards, err := e.ListRewards(ctx, userID)
	if err != nil {
		return Profile{}, err
	}

	prof := Profile{
		UserID:        userID,
		Essence:       p.TotalEssence,
		Level:         leveling.LevelFor(p.TotalEssence),
		ActiveRewards: []ActiveReward{},
		Progress:      leveling.ProgressFor(p.TotalEssence),
		UpdatedAt:     p.UpdatedAt,
	}
	prof.Title = e.leveling.Title(prof.Level)
	for _, r := range rewards {
		if r.Equipped {
			prof.ActiveRewards = append(prof.ActiveRewards, ActiveReward{
				RewardID: r.ID, Name: r.Name, Type: r.Type, Payload: r.Payload,
			})
		}
	}
	for _, ap := range p.Achievements {
		if ap.Unlocked() {
			prof.Achievements++
		}
	}
	return prof, nil
}

// ListAchievements returns every catalog achievement in definition order with
// the user's progress toward it.
func (e *Engine) ListAchievements(ctx context.Context, userID string) ([]AchievementView, error) {
	p, err := e.store.LoadProgression(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load progression: %w", err)
	}
	snap := achievement.Snapshot{UserID: userID, Level: leveling.LevelFor(p.TotalEssence), TotalEssence: p.TotalEssence}

	defs := e.achieve.Definitions()
	out := make([]AchievementView, 0, len(defs))
	for _, def := range defs {
		prog := p.Achievements[def.ID]
		out = append(out, AchievementView{
			AchievementID: def.ID,
			Name:          def.Name,
			Description:   def.Description,
			Icon:          def.Icon,
			Type:          def.Type,
			Progress:      achievement.Current(def, prog, snap),
			Target:        achievement.Target(def, prog),
			TiersUnlocked: prog.TiersUnlocked,
			Tiers:         len(def.EffectiveTiers()),
			Unlocked:      prog.Unlocked(),
			UnlockedAt:    prog.UnlockedAt,
		})
	}
	return out, nil
}

// ListRewards returns the whole reward catalog with ownership flags: owned
// rewards first in unlock order, then locked rewards in catalog order.
// Owned rewards since removed from the catalog are listed with their ID only.
func (e *Engine) ListRewards(ctx context.Context, userID string) ([]RewardView, error) {
	unlocks, err := e.store.ListRewardUnlocks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	sort.SliceStable(unlocks, func(i, j int) bool { return unlocks[i].UnlockedAt.Before(unlocks[j].UnlockedAt) })

	catalog := e.rewards.Catalog()
	all := catalog.All()
	out := make([]RewardView, 0, len(all)+len(unlocks))
	owned := make(map[string]bool, len(unlocks))
	for _, u := range unlocks {
		def, ok := catalog.Get(u.RewardID)
		if !ok {
			def = domain.RewardDefinition{ID: u.RewardID, Name: u.RewardID}
		}
		at := u.UnlockedAt
		owned[u.RewardID] = true
		out = append(out, RewardView{
			RewardDefinition: def,
			AchievementID:    u.AchievementID,
			Owned:            true,
			UnlockedAt:       &at,
			Equipped:         u.Equipped,
		})
	}
	for _, def := range all {
		if !owned[def.ID] {
			out = append(out, RewardView{RewardDefinition: def})
		}
	}
	return out, nil
}

// EquipReward marks an owned reward equipped and unequips the user's other
// rewards of the same type.
func (e *Engine) EquipReward(ctx context.Context, userID, rewardID string) (domain.RewardDefinition, error) {
	unlocks, err := e.store.ListRewardUnlocks(ctx, userID)
	if err != nil {
		return domain.RewardDefinition{}, fmt.Errorf("list rewards: %w", err)
	}
	owned := make(map[string]bool, len(unlocks))
	for _, u := range unlocks {
		owned[u.RewardID] = true
	}
	def, unequip, err := e.rewards.EquipPlan(rewardID, owned)
	if err != nil {
		return domain.RewardDefinition{}, err
	}
	if err := e.store.EquipReward(ctx, userID, rewardID, unequip); err != nil {
		return domain.RewardDefinition{}, fmt.Errorf("equip %q: %w", rewardID, err)
	}
	e.log.Info("reward equipped", "user_id", userID, "reward_id", rewardID, "type", def.Type)
	return def, nil
}

// ListTransactions returns the user's most recent ledger entries, newest first.
func (e *Engine) ListTransactions(ctx context.Context, userID string) ([]domain.LedgerEntry, error) {
	return e.store.ListLedger(ctx, userID, TransactionLimit)
}

// ListDecisions returns the anti-cheat audit trail, newest first.
func (e *Engine) ListDecisions(ctx context.Context, userID string, limit int) ([]domain.Decision, error) {
	return e.store.ListDecisions(ctx, userID, limit)
}

// PendingNotifications returns notifications not yet marked shown.
func (e *Engine) PendingNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	return e.store.PendingNotifications(ctx, userID, limit)
}

// MarkNotificationShown acknowledges a notification.
func (e *Engine) MarkNotificationShown(ctx context.Context, userID, notificationID string) error {
	return e.store.MarkNotificationShown(ctx, userID, notificationID)
}

// ─── Reconciliation ─────────────────────────────────────────────────────────

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Checked  int `json:"checked"`
	Granted  int `json:"granted"`
	Owned    int `json:"already_owned"`
	Retained int `json:"retained"`
}

// Reconcile retries pending grants against the current reward catalog.
// Grants whose reward now exists are recorded; the rest stay pending.
func (e *Engine) Reconcile(ctx context.Context, limit int) (ReconcileReport, error) {
	pending, err := e.store.ListPendingGrants(ctx, limit)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list pending grants: %w", err)
	}

	var rep ReconcileReport
	owned := make(map[string]map[string]bool)
	for _, g := range pending {
		rep.Checked++
		if owned[g.UserID] == nil {
			unlocks, err := e.store.ListRewardUnlocks(ctx, g.UserID)
			if err != nil {
				return rep, fmt.Errorf("list rewards for %s: %w", g.UserID, err)
			}
			owned[g.UserID] = make(map[string]bool, len(unlocks))
			for _, u := range unlocks {
				owned[g.UserID][u.RewardID] = true
			}
		}

		res, err := e.rewards.Grant(domain.RewardGrantRequest{
			UserID: g.UserID, AchievementID: g.AchievementID, RewardID: g.RewardID,
		}, owned[g.UserID])
		if errors.Is(err, domain.ErrUnknownReward) {
			rep.Retained++
			continue
		}
		if err != nil {
			return rep, err
		}

		var unlock *domain.UserRewardUnlock
		if res.Granted {
			res.Unlock.UnlockedAt = e.now().UTC()
			unlock = &res.Unlock
		}
		if err := e.store.ResolvePendingGrant(ctx, g, unlock); err != nil {
			return rep, fmt.Errorf("resolve grant %d: %w", g.ID, err)
		}
		if res.Granted {
			rep.Granted++
			owned[g.UserID][g.RewardID] = true
			e.log.Info("pending grant resolved", "user_id", g.UserID, "reward_id", g.RewardID, "achievement_id", g.AchievementID)
		} else {
			rep.Owned++
		}
	}
	return rep, nil
}
