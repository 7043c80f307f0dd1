package mysql

// Same shape as the SQLite schema. TEXT columns carry no defaults because
// older MySQL versions reject them; every insert supplies a value.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id VARCHAR(32) NOT NULL PRIMARY KEY,
		submission_id VARCHAR(128) NOT NULL,
		open_key VARCHAR(128) NULL,
		buffer_agent_id VARCHAR(128) NOT NULL DEFAULT '',
		licensed_agent_id VARCHAR(128) NOT NULL DEFAULT '',
		owner_id VARCHAR(128) NOT NULL DEFAULT '',
		owner_role VARCHAR(16) NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL,
		total_fields INT NOT NULL DEFAULT 0,
		verified_fields INT NOT NULL DEFAULT 0,
		progress_percentage INT NOT NULL DEFAULT 0,
		is_retention_call TINYINT(1) NOT NULL DEFAULT 0,
		retention_type VARCHAR(64) NOT NULL DEFAULT '',
		notes TEXT NOT NULL,
		started_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		completed_at BIGINT NULL,
		UNIQUE KEY uq_sessions_open (open_key),
		KEY idx_sessions_submission (submission_id),
		KEY idx_sessions_status (status, updated_at)
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		session_id VARCHAR(32) NOT NULL,
		field_name VARCHAR(64) NOT NULL,
		ordinal INT NOT NULL,
		original_value TEXT NOT NULL,
		verified_value TEXT NOT NULL,
		is_verified TINYINT(1) NOT NULL DEFAULT 0,
		is_modified TINYINT(1) NOT NULL DEFAULT 0,
		updated_at BIGINT NOT NULL,
		UNIQUE KEY uq_items_field (session_id, field_name),
		CONSTRAINT fk_items_session FOREIGN KEY (session_id) REFERENCES sessions(id)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		session_id VARCHAR(32) NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		actor VARCHAR(128) NOT NULL DEFAULT '',
		old_status VARCHAR(32) NOT NULL DEFAULT '',
		new_status VARCHAR(32) NOT NULL DEFAULT '',
		detail TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		KEY idx_events_session (session_id, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		idem_key VARCHAR(255) NOT NULL PRIMARY KEY,
		created_at BIGINT NOT NULL
	)`,
}
