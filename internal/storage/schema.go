package storage

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	tier         TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	last_used_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	metric     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	old_value  TEXT,
	new_value  TEXT,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
CREATE INDEX IF NOT EXISTS idx_events_metric ON events(metric);
`
