package sqlite

// Timestamps are unix milliseconds. open_key holds the submission id while
// a session is open and NULL once it completes, so the UNIQUE constraint
// allows exactly one open session per submission.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		submission_id TEXT NOT NULL,
		open_key TEXT UNIQUE,
		buffer_agent_id TEXT NOT NULL DEFAULT '',
		licensed_agent_id TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		owner_role TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		total_fields INTEGER NOT NULL DEFAULT 0,
		verified_fields INTEGER NOT NULL DEFAULT 0,
		progress_percentage INTEGER NOT NULL DEFAULT 0,
		is_retention_call INTEGER NOT NULL DEFAULT 0,
		retention_type TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_submission ON sessions(submission_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		field_name TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		original_value TEXT NOT NULL,
		verified_value TEXT NOT NULL,
		is_verified INTEGER NOT NULL DEFAULT 0,
		is_modified INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		UNIQUE (session_id, field_name)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		old_status TEXT NOT NULL DEFAULT '',
		new_status TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		idem_key TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	)`,
}
