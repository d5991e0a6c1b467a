package sqlite

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Per-user progression header; version is the CAS token
		`CREATE TABLE IF NOT EXISTS user_progression (
			user_id         TEXT PRIMARY KEY,
			total_essence   INTEGER NOT NULL DEFAULT 0,
			current_level   INTEGER NOT NULL DEFAULT 1,
			title           TEXT NOT NULL DEFAULT '',
			last_event_json TEXT NOT NULL DEFAULT '{}',
			version         INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		)`,

		// Idempotency set, pruned after the retention window
		`CREATE TABLE IF NOT EXISTS processed_events (
			user_id      TEXT NOT NULL,
			event_id     TEXT NOT NULL,
			processed_at TEXT NOT NULL,
			PRIMARY KEY (user_id, event_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_at ON processed_events(processed_at)`,

		// Anti-cheat state per user + key
		`CREATE TABLE IF NOT EXISTS guard_windows (
			user_id            TEXT NOT NULL,
			key                TEXT NOT NULL,
			window_start       TEXT NOT NULL DEFAULT '',
			count_in_window    INTEGER NOT NULL DEFAULT 0,
			decay_period_start TEXT NOT NULL DEFAULT '',
			decay_count        INTEGER NOT NULL DEFAULT 0,
			last_qualifying_at TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (user_id, key)
		)`,

		`CREATE TABLE IF NOT EXISTS achievement_progress (
			user_id        TEXT NOT NULL,
			achievement_id TEXT NOT NULL,
			counter_json   TEXT NOT NULL DEFAULT '{}',
			tiers_unlocked INTEGER NOT NULL DEFAULT 0,
			unlocked_at    TEXT,
			updated_at     TEXT NOT NULL,
			PRIMARY KEY (user_id, achievement_id)
		)`,

		// Append-only ownership
		`CREATE TABLE IF NOT EXISTS user_rewards (
			user_id        TEXT NOT NULL,
			reward_id      TEXT NOT NULL,
			achievement_id TEXT NOT NULL DEFAULT '',
			unlocked_at    TEXT NOT NULL,
			equipped       INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, reward_id)
		)`,

		`CREATE TABLE IF NOT EXISTS essence_ledger (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			event_id       TEXT NOT NULL,
			kind           TEXT NOT NULL,
			amount         INTEGER NOT NULL,
			source         TEXT NOT NULL DEFAULT '',
			achievement_id TEXT NOT NULL DEFAULT '',
			balance        INTEGER NOT NULL,
			created_at     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_user ON essence_ledger(user_id, created_at)`,

		// Anti-cheat audit trail
		`CREATE TABLE IF NOT EXISTS decision_audit (
			user_id          TEXT NOT NULL,
			event_id         TEXT NOT NULL,
			event_key        TEXT NOT NULL,
			accepted         INTEGER NOT NULL,
			counts           INTEGER NOT NULL,
			base_essence     INTEGER NOT NULL,
			adjusted_essence INTEGER NOT NULL,
			reasons          TEXT NOT NULL DEFAULT '',
			occurred_at      TEXT NOT NULL,
			decided_at       TEXT NOT NULL,
			PRIMARY KEY (user_id, event_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_user ON decision_audit(user_id, decided_at)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			event_id   TEXT NOT NULL,
			type       TEXT NOT NULL,
			title      TEXT NOT NULL,
			message    TEXT NOT NULL,
			icon       TEXT NOT NULL DEFAULT '',
			data_json  TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			shown      INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_pending ON notifications(user_id, shown, created_at)`,

		// Grants that referenced a reward missing from the catalog
		`CREATE TABLE IF NOT EXISTS pending_grants (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id        TEXT NOT NULL,
			achievement_id TEXT NOT NULL,
			reward_id      TEXT NOT NULL,
			reason         TEXT NOT NULL DEFAULT '',
			created_at     TEXT NOT NULL,
			UNIQUE(user_id, achievement_id, reward_id)
		)`,
	}
}
