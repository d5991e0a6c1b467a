package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lifehub/essence/internal/domain"
)

// ─── Progression Store Gateway ──────────────────────────────────────────────

// LoadProgression returns the user's full snapshot, or a fresh progression
// with Version 0 when the user has never been committed.
func (db *DB) LoadProgression(ctx context.Context, userID string) (*domain.UserProgression, error) {
	return loadProgression(ctx, db.db, userID)
}

func loadProgression(ctx context.Context, q queryer, userID string) (*domain.UserProgression, error) {
	p := domain.NewUserProgression(userID)

	var lastJSON, createdAt, updatedAt string
	err := q.QueryRowContext(ctx, `
		SELECT total_essence, current_level, title, last_event_json, version, created_at, updated_at
		FROM user_progression WHERE user_id = ?
	`, userID).Scan(&p.TotalEssence, &p.Level, &p.Title, &lastJSON, &p.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load progression: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	if lastJSON != "" {
		if err := json.Unmarshal([]byte(lastJSON), &p.LastEventAt); err != nil {
			return nil, fmt.Errorf("decode last events: %w", err)
		}
	}
	if p.LastEventAt == nil {
		p.LastEventAt = make(map[domain.SourceDomain]time.Time)
	}

	if err := loadGuardWindows(ctx, q, p); err != nil {
		return nil, err
	}
	if err := loadAchievementProgress(ctx, q, p); err != nil {
		return nil, err
	}
	if err := loadOwnedRewards(ctx, q, p); err != nil {
		return nil, err
	}
	return p, nil
}

func loadGuardWindows(ctx context.Context, q queryer, p *domain.UserProgression) error {
	rows, err := q.QueryContext(ctx, `
		SELECT key, window_start, count_in_window, decay_period_start, decay_count, last_qualifying_at
		FROM guard_windows WHERE user_id = ?
	`, p.UserID)
	if err != nil {
		return fmt.Errorf("load guard windows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			w                              domain.GuardWindow
			windowStart, decayStart, lastQ string
		)
		if err := rows.Scan(&w.Key, &windowStart, &w.CountInWindow, &decayStart, &w.DecayCount, &lastQ); err != nil {
			return fmt.Errorf("scan guard window: %w", err)
		}
		w.WindowStart = parseTime(windowStart)
		w.DecayPeriodStart = parseTime(decayStart)
		w.LastQualifyingAt = parseTime(lastQ)
		p.Guard[w.Key] = w
	}
	return rows.Err()
}

func loadAchievementProgress(ctx context.Context, q queryer, p *domain.UserProgression) error {
	rows, err := q.QueryContext(ctx, `
		SELECT achievement_id, counter_json, tiers_unlocked, unlocked_at, updated_at
		FROM achievement_progress WHERE user_id = ?
	`, p.UserID)
	if err != nil {
		return fmt.Errorf("load achievement progress: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ap                   domain.AchievementProgress
			counterJSON, updated string
			unlocked             sql.NullString
		)
		if err := rows.Scan(&ap.AchievementID, &counterJSON, &ap.TiersUnlocked, &unlocked, &updated); err != nil {
			return fmt.Errorf("scan achievement progress: %w", err)
		}
		if err := json.Unmarshal([]byte(counterJSON), &ap.Counter); err != nil {
			return fmt.Errorf("decode counter for %s: %w", ap.AchievementID, err)
		}
		ap.UserID = p.UserID
		ap.UpdatedAt = parseTime(updated)
		if unlocked.Valid && unlocked.String != "" {
			ts := parseTime(unlocked.String)
			ap.UnlockedAt = &ts
		}
		p.Achievements[ap.AchievementID] = ap
	}
	return rows.Err()
}

func loadOwnedRewards(ctx context.Context, q queryer, p *domain.UserProgression) error {
	rows, err := q.QueryContext(ctx, `SELECT reward_id FROM user_rewards WHERE user_id = ?`, p.UserID)
	if err != nil {
		return fmt.Errorf("load rewards: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan reward: %w", err)
		}
		p.Rewards[id] = true
	}
	return rows.Err()
}

// AtomicApply commits m in one transaction. Order matters: the processed-set
// insert detects duplicates before the version CAS detects stale snapshots.
func (db *DB) AtomicApply(ctx context.Context, userID string, m domain.MutationSet) (_ *domain.UserProgression, err error) {
	ctx, span := db.tracer.Start(ctx, "store.atomic_apply")
	span.SetAttributes(attribute.String("event.id", m.EventID), attribute.Int64("expected_version", m.ExpectedVersion))
	defer func() {
		if err != nil && !errors.Is(err, domain.ErrDuplicateEvent) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if m.EventID == "" {
		return nil, fmt.Errorf("atomic apply: empty event id")
	}
	if m.Progression.UserID != "" && m.Progression.UserID != userID {
		return nil, fmt.Errorf("atomic apply: mutation for %q applied to %q", m.Progression.UserID, userID)
	}
	at := fmtTime(m.AppliedAt)

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO processed_events (user_id, event_id, processed_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, event_id) DO NOTHING
	`, userID, m.EventID, at)
	if err != nil {
		return nil, fmt.Errorf("record processed event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrDuplicateEvent
	}

	if err = casProgression(ctx, tx, userID, m, at); err != nil {
		return nil, err
	}
	if err = upsertGuardWindows(ctx, tx, userID, m.GuardWindows); err != nil {
		return nil, err
	}
	if err = upsertAchievements(ctx, tx, userID, m.Achievements); err != nil {
		return nil, err
	}
	if err = insertRewardUnlocks(ctx, tx, m.RewardUnlocks); err != nil {
		return nil, err
	}
	if err = insertLedger(ctx, tx, m.Ledger); err != nil {
		return nil, err
	}
	if err = insertDecision(ctx, tx, m.Decision); err != nil {
		return nil, err
	}
	if err = insertNotifications(ctx, tx, m.Notifications); err != nil {
		return nil, err
	}
	if err = insertPendingGrants(ctx, tx, m.PendingGrants); err != nil {
		return nil, err
	}

	out, err := loadProgression(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func casProgression(ctx context.Context, tx *sql.Tx, userID string, m domain.MutationSet, at string) error {
	p := m.Progression
	lastJSON, err := json.Marshal(p.LastEventAt)
	if err != nil {
		return fmt.Errorf("encode last events: %w", err)
	}

	var res sql.Result
	if m.ExpectedVersion == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO user_progression (user_id, total_essence, current_level, title, last_event_json, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT(user_id) DO NOTHING
		`, userID, p.TotalEssence, p.Level, p.Title, string(lastJSON), at, at)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE user_progression SET
				total_essence   = ?,
				current_level   = ?,
				title           = ?,
				last_event_json = ?,
				version         = version + 1,
				updated_at      = ?
			WHERE user_id = ? AND version = ? AND total_essence <= ?
		`, p.TotalEssence, p.Level, p.Title, string(lastJSON), at, userID, m.ExpectedVersion, p.TotalEssence)
	}
	if err != nil {
		return fmt.Errorf("write progression: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrStaleWrite
	}
	return nil
}

func upsertGuardWindows(ctx context.Context, tx *sql.Tx, userID string, windows []domain.GuardWindow) error {
	for _, w := range windows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO guard_windows (user_id, key, window_start, count_in_window, decay_period_start, decay_count, last_qualifying_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, key) DO UPDATE SET
				window_start       = excluded.window_start,
				count_in_window    = excluded.count_in_window,
				decay_period_start = excluded.decay_period_start,
				decay_count        = excluded.decay_count,
				last_qualifying_at = excluded.last_qualifying_at
		`, userID, w.Key, fmtTime(w.WindowStart), w.CountInWindow, fmtTime(w.DecayPeriodStart), w.DecayCount, fmtTime(w.LastQualifyingAt))
		if err != nil {
			return fmt.Errorf("upsert guard window %s: %w", w.Key, err)
		}
	}
	return nil
}

func upsertAchievements(ctx context.Context, tx *sql.Tx, userID string, progress []domain.AchievementProgress) error {
	for _, ap := range progress {
		counter, err := json.Marshal(ap.Counter)
		if err != nil {
			return fmt.Errorf("encode counter %s: %w", ap.AchievementID, err)
		}
		// unlocked_at is write-once; tiers never go backwards.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO achievement_progress (user_id, achievement_id, counter_json, tiers_unlocked, unlocked_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, achievement_id) DO UPDATE SET
				counter_json   = excluded.counter_json,
				tiers_unlocked = MAX(tiers_unlocked, excluded.tiers_unlocked),
				unlocked_at    = COALESCE(unlocked_at, excluded.unlocked_at),
				updated_at     = excluded.updated_at
		`, userID, ap.AchievementID, string(counter), ap.TiersUnlocked, nullTime(ap.UnlockedAt), fmtTime(ap.UpdatedAt))
		if err != nil {
			return fmt.Errorf("upsert achievement %s: %w", ap.AchievementID, err)
		}
	}
	return nil
}

func insertRewardUnlocks(ctx context.Context, tx *sql.Tx, unlocks []domain.UserRewardUnlock) error {
	for _, u := range unlocks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_rewards (user_id, reward_id, achievement_id, unlocked_at, equipped)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_id, reward_id) DO NOTHING
		`, u.UserID, u.RewardID, u.AchievementID, fmtTime(u.UnlockedAt), boolInt(u.Equipped))
		if err != nil {
			return fmt.Errorf("insert reward %s: %w", u.RewardID, err)
		}
	}
	return nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, entries []domain.LedgerEntry) error {
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO essence_ledger (id, user_id, event_id, kind, amount, source, achievement_id, balance, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.UserID, e.EventID, string(e.Kind), e.Amount, e.Source, e.AchievementID, e.Balance, fmtTime(e.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
	}
	return nil
}

func insertDecision(ctx context.Context, tx *sql.Tx, d domain.Decision) error {
	if d.EventID == "" {
		return nil
	}
	reasons := make([]string, len(d.Reasons))
	for i, r := range d.Reasons {
		reasons[i] = string(r)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO decision_audit (user_id, event_id, event_key, accepted, counts, base_essence, adjusted_essence, reasons, occurred_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.UserID, d.EventID, d.Key, boolInt(d.Accepted), boolInt(d.CountsTowardProgress),
		d.BaseEssence, d.AdjustedEssence, strings.Join(reasons, ","), fmtTime(d.OccurredAt), fmtTime(d.DecidedAt))
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func insertNotifications(ctx context.Context, tx *sql.Tx, ns []domain.Notification) error {
	for _, n := range ns {
		data, err := json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("encode notification data: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO notifications (id, user_id, event_id, type, title, message, icon, data_json, created_at, shown)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, n.ID, n.UserID, n.EventID, string(n.Type), n.Title, n.Message, n.Icon, string(data), fmtTime(n.CreatedAt), boolInt(n.Shown))
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}
	return nil
}

func insertPendingGrants(ctx context.Context, tx *sql.Tx, grants []domain.PendingGrant) error {
	for _, g := range grants {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pending_grants (user_id, achievement_id, reward_id, reason, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_id, achievement_id, reward_id) DO NOTHING
		`, g.UserID, g.AchievementID, g.RewardID, g.Reason, fmtTime(g.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert pending grant: %w", err)
		}
	}
	return nil
}
