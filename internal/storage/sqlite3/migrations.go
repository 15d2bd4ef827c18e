package sqlite3

import (
	"database/sql"
	"fmt"
)

const (
	currentSchemaVersion = 1
)

const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		email       TEXT NOT NULL UNIQUE, -- deterministic ciphertext, looked up by equality
		first_name  TEXT,
		last_name   TEXT,
		password    TEXT,                 -- bcrypt hash, NULL for shadow users
		created_at  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS threads (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		title       TEXT NOT NULL,
		class       TEXT NOT NULL DEFAULT 'normal' CHECK (class IN ('normal', 'spam', 'star')),
		sender_id   INTEGER NOT NULL,
		receiver_id INTEGER,
		is_external BOOLEAN NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL,
		FOREIGN KEY (sender_id) REFERENCES users(id),
		FOREIGN KEY (receiver_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS threads_title ON threads(title);
	CREATE INDEX IF NOT EXISTS threads_pair ON threads(sender_id, receiver_id);

	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id  INTEGER NOT NULL,
		sender_id  INTEGER NOT NULL,
		body       TEXT NOT NULL,         -- ciphertext
		is_read    BOOLEAN NOT NULL DEFAULT 0,
		sent_at    INTEGER NOT NULL,
		FOREIGN KEY (thread_id) REFERENCES threads(id),
		FOREIGN KEY (sender_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS messages_thread ON messages(thread_id);

	CREATE TABLE IF NOT EXISTS thread_status (
		thread_id INTEGER NOT NULL,
		user_id   INTEGER NOT NULL,
		class     TEXT NOT NULL CHECK (class IN ('normal', 'spam', 'star')),
		PRIMARY KEY (thread_id, user_id),
		FOREIGN KEY (thread_id) REFERENCES threads(id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS trash (
		user_id        INTEGER NOT NULL,
		thread_id      INTEGER NOT NULL,
		delete_forever BOOLEAN NOT NULL DEFAULT 0,
		created_at     INTEGER NOT NULL,
		PRIMARY KEY (user_id, thread_id),
		FOREIGN KEY (thread_id) REFERENCES threads(id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS files (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id INTEGER NOT NULL,
		file_name  TEXT,
		file_path  TEXT,
		file_size  INTEGER,
		mime_type  TEXT,
		FOREIGN KEY (message_id) REFERENCES messages(id)
	);

	CREATE INDEX IF NOT EXISTS files_message ON files(message_id);

	CREATE TABLE IF NOT EXISTS external_log (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id     INTEGER NOT NULL,
		thread_id      INTEGER NOT NULL,
		sender_email   TEXT NOT NULL,
		receiver_email TEXT NOT NULL,
		tracking_token TEXT UNIQUE,
		status         TEXT NOT NULL DEFAULT 'sent',
		created_at     INTEGER NOT NULL,
		FOREIGN KEY (message_id) REFERENCES messages(id),
		FOREIGN KEY (thread_id) REFERENCES threads(id)
	);
`

// GetSchemaVersion returns the schema version recorded in the
// database, or 0 for a fresh database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query schema version: %w", err)
	}
	return version, nil
}

// SetSchemaVersion records the schema version in the database.
func SetSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}
	_, err = db.Exec("INSERT INTO schema_version (version, applied_at) VALUES (?, strftime('%s', 'now'))", version)
	if err != nil {
		return fmt.Errorf("failed to insert schema version: %w", err)
	}
	return nil
}

// RunMigrations brings the database up to the current schema version.
func RunMigrations(db *sql.DB) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}
	for v := version; v < currentSchemaVersion; v++ {
		switch v {
		case 0:
			if _, err := db.Exec(schema); err != nil {
				return fmt.Errorf("failed to create schema: %w", err)
			}
			if err := SetSchemaVersion(db, 1); err != nil {
				return fmt.Errorf("failed to set schema version to 1: %w", err)
			}
		default:
			return fmt.Errorf("unknown migration version: %d", v)
		}
	}
	return nil
}
