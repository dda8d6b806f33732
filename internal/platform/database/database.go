package database

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"mailaudit/internal/platform/config"
)

// Open connects to the event store. When custom_url is configured the
// alternate target is selected here, once, at composition time; callers
// never re-read the target per call.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.URL
	if cfg.CustomURL != "" {
		dsn = cfg.CustomURL
	}

	// Strip "file:" prefixes for the sqlite3 driver
	if len(dsn) > 5 && dsn[:5] == "file:" {
		dsn = dsn[5:]
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}

// EnsureSchema creates the event tables if they do not exist yet. The user
// table is external and never created here.
func EnsureSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		uuid TEXT NOT NULL,
		recipient_domain TEXT,
		recipient_user TEXT,
		msg_to TEXT,
		msg_from TEXT,
		msg_subject TEXT,
		msg_id TEXT,
		msg_code INTEGER,
		msg_message TEXT,
		attempt_number INTEGER NOT NULL DEFAULT 1,
		attachments INTEGER NOT NULL DEFAULT 1,
		user_id TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_uuid ON events(uuid);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	CREATE INDEX IF NOT EXISTS idx_events_recipient_domain ON events(recipient_domain);

	CREATE TABLE IF NOT EXISTS event_contents (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		subject TEXT,
		recipient TEXT,
		content_type TEXT,
		message_id TEXT,
		stripped_text TEXT,
		stripped_html TEXT,
		body_html TEXT,
		body_plain TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_event_contents_event ON event_contents(event_id);

	CREATE TABLE IF NOT EXISTS event_flags (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		flag_name TEXT NOT NULL,
		flag_value INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_event_flags_event ON event_flags(event_id);

	CREATE TABLE IF NOT EXISTS event_tags (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_event_tags_event ON event_tags(event_id);

	CREATE TABLE IF NOT EXISTS event_variables (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		name TEXT NOT NULL,
		value TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_event_variables_event ON event_variables(event_id);
	`

	_, err := db.Exec(schema)
	return err
}
