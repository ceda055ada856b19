package settings

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite for persistence
type SQLiteStore struct {
	db       *sql.DB
	defaults Values
}

// NewSQLiteStore creates a new SQLite-backed settings store. The given
// defaults come from configuration and apply for every key not yet
// overridden by an admin command.
func NewSQLiteStore(dbPath string, defaults Values) (*SQLiteStore, error) {
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
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create settings table: %w", err)
	}

	return &SQLiteStore{db: db, defaults: defaults}, nil
}

const (
	keyMaxAttempts     = "max_attempts"
	keyVerifyTimeout   = "verify_timeout"
	keyLanguageTimeout = "lang_timeout"
	keyFailureAction   = "failure_action"
)

func (s *SQLiteStore) getString(key, fallback string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("query setting %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) getInt(key string, fallback int) (int, error) {
	raw, err := s.getString(key, strconv.Itoa(fallback))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		// A corrupt row falls back to the configured default
		return fallback, nil
	}
	return n, nil
}

func (s *SQLiteStore) set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}

// Get returns the current effective settings
func (s *SQLiteStore) Get() (Values, error) {
	var v Values
	var err error

	if v.MaxAttempts, err = s.getInt(keyMaxAttempts, s.defaults.MaxAttempts); err != nil {
		return Values{}, err
	}
	if v.VerifySeconds, err = s.getInt(keyVerifyTimeout, s.defaults.VerifySeconds); err != nil {
		return Values{}, err
	}
	if v.LanguageSeconds, err = s.getInt(keyLanguageTimeout, s.defaults.LanguageSeconds); err != nil {
		return Values{}, err
	}
	raw, err := s.getString(keyFailureAction, string(s.defaults.FailureAction))
	if err != nil {
		return Values{}, err
	}
	v.FailureAction = FailureAction(raw)
	if ValidateFailureAction(v.FailureAction) != nil {
		v.FailureAction = s.defaults.FailureAction
	}
	return v, nil
}

// SetMaxAttempts updates the verification attempt ceiling
func (s *SQLiteStore) SetMaxAttempts(n int) error {
	if err := ValidateAttempts(n); err != nil {
		return err
	}
	return s.set(keyMaxAttempts, strconv.Itoa(n))
}

// SetVerifySeconds updates the challenge-response timeout
func (s *SQLiteStore) SetVerifySeconds(sec int) error {
	if err := ValidateTimeout(sec); err != nil {
		return err
	}
	return s.set(keyVerifyTimeout, strconv.Itoa(sec))
}

// SetLanguageSeconds updates the language-selection timeout
func (s *SQLiteStore) SetLanguageSeconds(sec int) error {
	if err := ValidateTimeout(sec); err != nil {
		return err
	}
	return s.set(keyLanguageTimeout, strconv.Itoa(sec))
}

// SetFailureAction updates the failure outcome
func (s *SQLiteStore) SetFailureAction(a FailureAction) error {
	if err := ValidateFailureAction(a); err != nil {
		return err
	}
	return s.set(keyFailureAction, string(a))
}

// Close releases database resources
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
