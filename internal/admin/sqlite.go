package admin

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite for persistence
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed admin store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS whitelist (
			user_id INTEGER PRIMARY KEY,
			added_at DATETIME NOT NULL,
			added_by INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create whitelist table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS blacklist (
			user_id INTEGER PRIMARY KEY,
			added_at DATETIME NOT NULL,
			added_by INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create blacklist table: %w", err)
	}

	// Users who ever started the bot; broadcast audience
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS known_users (
			user_id INTEGER PRIMARY KEY,
			first_seen DATETIME NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create known_users table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) exists(table string, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM "+table+" WHERE user_id = ?",
		userID,
	).Scan(&one)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check %s membership: %w", table, err)
	}
	return true, nil
}

// IsWhitelisted checks if a user may be manually approved
func (s *SQLiteStore) IsWhitelisted(userID int64) (bool, error) {
	return s.exists("whitelist", userID)
}

// IsBlacklisted checks if a user is banned from the pipeline
func (s *SQLiteStore) IsBlacklisted(userID int64) (bool, error) {
	return s.exists("blacklist", userID)
}

func (s *SQLiteStore) add(table string, entry ListEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO `+table+` (user_id, added_at, added_by)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			added_at = excluded.added_at,
			added_by = excluded.added_by
	`, entry.UserID, entry.AddedAt, entry.AddedBy)

	if err != nil {
		return fmt.Errorf("add %s entry: %w", table, err)
	}
	return nil
}

// AddWhitelist adds a user to the whitelist
func (s *SQLiteStore) AddWhitelist(entry ListEntry) error {
	return s.add("whitelist", entry)
}

// AddBlacklist adds a user to the blacklist
func (s *SQLiteStore) AddBlacklist(entry ListEntry) error {
	return s.add("blacklist", entry)
}

// RemoveWhitelist removes a user from the whitelist
func (s *SQLiteStore) RemoveWhitelist(userID int64) error {
	_, err := s.db.Exec("DELETE FROM whitelist WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("remove whitelist entry: %w", err)
	}
	return nil
}

// RemoveBlacklist removes a user from the blacklist
func (s *SQLiteStore) RemoveBlacklist(userID int64) error {
	_, err := s.db.Exec("DELETE FROM blacklist WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("remove blacklist entry: %w", err)
	}
	return nil
}

// RecordUser remembers a user who started the bot, for broadcasts
func (s *SQLiteStore) RecordUser(userID int64, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO known_users (user_id, first_seen)
		VALUES (?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, at)

	if err != nil {
		return fmt.Errorf("record user: %w", err)
	}
	return nil
}

// ListUsers returns every recorded user ID
func (s *SQLiteStore) ListUsers() ([]int64, error) {
	rows, err := s.db.Query("SELECT user_id FROM known_users ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases database resources
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
