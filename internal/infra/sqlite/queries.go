package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lifehub/essence/internal/domain"
)

// ─── Idempotency ────────────────────────────────────────────────────────────

// IsProcessed reports whether eventID was already applied for userID.
func (db *DB) IsProcessed(ctx context.Context, userID, eventID string) (bool, error) {
	var one int
	err := db.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_events WHERE user_id = ? AND event_id = ?`, userID, eventID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}
	return true, nil
}

// PruneProcessed deletes idempotency records older than before.
func (db *DB) PruneProcessed(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.db.ExecContext(ctx, `DELETE FROM processed_events WHERE processed_at < ?`, fmtTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune processed: %w", err)
	}
	return res.RowsAffected()
}

// ─── Rewards ────────────────────────────────────────────────────────────────

// ListRewardUnlocks returns the user's owned rewards, oldest first.
func (db *DB) ListRewardUnlocks(ctx context.Context, userID string) ([]domain.UserRewardUnlock, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT reward_id, achievement_id, unlocked_at, equipped
		FROM user_rewards WHERE user_id = ?
		ORDER BY unlocked_at, reward_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	defer rows.Close()

	var out []domain.UserRewardUnlock
	for rows.Next() {
		u := domain.UserRewardUnlock{UserID: userID}
		var unlockedAt string
		var equipped int
		if err := rows.Scan(&u.RewardID, &u.AchievementID, &unlockedAt, &equipped); err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		u.UnlockedAt = parseTime(unlockedAt)
		u.Equipped = equipped == 1
		out = append(out, u)
	}
	return out, rows.Err()
}

// EquipReward marks rewardID equipped and clears the equipped flag on unequip.
func (db *DB) EquipReward(ctx context.Context, userID, rewardID string, unequip []string) (err error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE user_rewards SET equipped = 1 WHERE user_id = ? AND reward_id = ?`, userID, rewardID)
	if err != nil {
		return fmt.Errorf("equip: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRewardNotOwned
	}
	if len(unequip) > 0 {
		args := make([]any, 0, len(unequip)+1)
		args = append(args, userID)
		for _, id := range unequip {
			args = append(args, id)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(unequip)), ",")
		if _, err = tx.ExecContext(ctx,
			`UPDATE user_rewards SET equipped = 0 WHERE user_id = ? AND reward_id IN (`+placeholders+`)`, args...); err != nil {
			return fmt.Errorf("unequip: %w", err)
		}
	}
	return tx.Commit()
}

// ─── Ledger & Decisions ─────────────────────────────────────────────────────

// ListLedger returns the user's most recent essence credits, newest first.
func (db *DB) ListLedger(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, event_id, kind, amount, source, achievement_id, balance, created_at
		FROM essence_ledger WHERE user_id = ?
		ORDER BY created_at DESC, balance DESC
		LIMIT ?
	`, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		e := domain.LedgerEntry{UserID: userID}
		var kind, createdAt string
		if err := rows.Scan(&e.ID, &e.EventID, &kind, &e.Amount, &e.Source, &e.AchievementID, &e.Balance, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Kind = domain.EntryKind(kind)
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListDecisions returns the user's anti-cheat audit trail, newest first.
func (db *DB) ListDecisions(ctx context.Context, userID string, limit int) ([]domain.Decision, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT event_id, event_key, accepted, counts, base_essence, adjusted_essence, reasons, occurred_at, decided_at
		FROM decision_audit WHERE user_id = ?
		ORDER BY decided_at DESC, occurred_at DESC
		LIMIT ?
	`, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []domain.Decision
	for rows.Next() {
		d := domain.Decision{UserID: userID}
		var accepted, counts int
		var reasons, occurredAt, decidedAt string
		if err := rows.Scan(&d.EventID, &d.Key, &accepted, &counts, &d.BaseEssence, &d.AdjustedEssence, &reasons, &occurredAt, &decidedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Accepted = accepted == 1
		d.CountsTowardProgress = counts == 1
		if reasons != "" {
			for _, r := range strings.Split(reasons, ",") {
				d.Reasons = append(d.Reasons, domain.DecisionReason(r))
			}
		}
		d.OccurredAt = parseTime(occurredAt)
		d.DecidedAt = parseTime(decidedAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ─── Notifications ──────────────────────────────────────────────────────────

// PendingNotifications returns unshown notifications, oldest first.
func (db *DB) PendingNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, event_id, type, title, message, icon, data_json, created_at
		FROM notifications WHERE user_id = ? AND shown = 0
		ORDER BY created_at, id
		LIMIT ?
	`, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n := domain.Notification{UserID: userID}
		var typ, data, createdAt string
		if err := rows.Scan(&n.ID, &n.EventID, &typ, &n.Title, &n.Message, &n.Icon, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = domain.NotificationType(typ)
		n.CreatedAt = parseTime(createdAt)
		if data != "" && data != "null" {
			if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
				return nil, fmt.Errorf("decode notification data: %w", err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationShown flags a notification as delivered.
func (db *DB) MarkNotificationShown(ctx context.Context, userID, notificationID string) error {
	res, err := db.db.ExecContext(ctx,
		`UPDATE notifications SET shown = 1 WHERE id = ? AND user_id = ?`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark shown: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

// ─── Pending Grants ─────────────────────────────────────────────────────────

// ListPendingGrants returns grants awaiting reconciliation, oldest first.
func (db *DB) ListPendingGrants(ctx context.Context, limit int) ([]domain.PendingGrant, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, user_id, achievement_id, reward_id, reason, created_at
		FROM pending_grants ORDER BY id LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending grants: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingGrant
	for rows.Next() {
		var g domain.PendingGrant
		var createdAt string
		if err := rows.Scan(&g.ID, &g.UserID, &g.AchievementID, &g.RewardID, &g.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pending grant: %w", err)
		}
		g.CreatedAt = parseTime(createdAt)
		out = append(out, g)
	}
	return out, rows.Err()
}

// ResolvePendingGrant removes a pending grant and, when unlock is non-nil,
// records the ownership in the same transaction.
func (db *DB) ResolvePendingGrant(ctx context.Context, grant domain.PendingGrant, unlock *domain.UserRewardUnlock) (err error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if unlock != nil {
		if err = insertRewardUnlocks(ctx, tx, []domain.UserRewardUnlock{*unlock}); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM pending_grants WHERE id = ?`, grant.ID); err != nil {
		return fmt.Errorf("delete pending grant: %w", err)
	}
	return tx.Commit()
}

// ─── Stats ──────────────────────────────────────────────────────────────────

// Stats summarizes store contents for health reporting.
type Stats struct {
	Users           int64 `json:"users"`
	ProcessedEvents int64 `json:"processed_events"`
	PendingGrants   int64 `json:"pending_grants"`
}

// Stats returns row counts of the main tables.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := db.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM user_progression),
			(SELECT COUNT(*) FROM processed_events),
			(SELECT COUNT(*) FROM pending_grants)
	`).Scan(&s.Users, &s.ProcessedEvents, &s.PendingGrants)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return s, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	}
	return limit
}
