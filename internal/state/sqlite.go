package state

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps the rate-limit table in a SQLite database.
// Save replaces the table inside a single transaction.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	query := `
	CREATE TABLE IF NOT EXISTS rate_limits (
		key TEXT PRIMARY KEY,
		last_notified INTEGER NOT NULL
	);`
	if _, err = db.Exec(query); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create rate_limits table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(entries map[string]int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM rate_limits`); err != nil {
		return fmt.Errorf("failed to clear rate_limits: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO rate_limits (key, last_notified) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for k, ts := range entries {
		if _, err := stmt.Exec(k, ts); err != nil {
			return fmt.Errorf("failed to save %s: %w", k, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Load() (map[string]int64, error) {
	rows, err := s.db.Query("SELECT key, last_notified FROM rate_limits")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[string]int64)
	for rows.Next() {
		var key string
		var ts int64
		if err := rows.Scan(&key, &ts); err != nil {
			continue
		}
		entries[key] = ts
	}

	return entries, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
