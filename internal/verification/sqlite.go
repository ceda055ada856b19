package verification

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

// NewSQLiteStore creates a new SQLite-backed record store
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
		CREATE TABLE IF NOT EXISTS join_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			language_token TEXT NOT NULL DEFAULT '',
			language_deadline INTEGER NOT NULL DEFAULT 0,
			verification_token TEXT NOT NULL DEFAULT '',
			verification_deadline INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create join_requests table: %w", err)
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_join_req_chat_user ON join_requests(chat_id, user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_join_req_lang_token ON join_requests(language_token)`,
		`CREATE INDEX IF NOT EXISTS idx_join_req_ver_token ON join_requests(verification_token)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create index: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

const recordColumns = `id, chat_id, user_id, status, language, attempts, max_attempts,
	language_token, language_deadline, verification_token, verification_deadline,
	created_at, updated_at, version`

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var r Record
	var langDeadline, verDeadline, createdAt, updatedAt int64

	err := row.Scan(
		&r.ID, &r.ChatID, &r.UserID, &r.Status, &r.Language,
		&r.Attempts, &r.MaxAttempts,
		&r.LanguageToken, &langDeadline,
		&r.VerificationToken, &verDeadline,
		&createdAt, &updatedAt, &r.Version,
	)
	if err != nil {
		return nil, err
	}

	r.LanguageDeadline = fromUnix(langDeadline)
	r.VerificationDeadline = fromUnix(verDeadline)
	r.CreatedAt = fromUnix(createdAt)
	r.UpdatedAt = fromUnix(updatedAt)
	return &r, nil
}

func fromUnix(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// Create inserts a fresh record and fills in its ID and Version
func (s *SQLiteStore) Create(r *Record) error {
	res, err := s.db.Exec(`
		INSERT INTO join_requests (
			chat_id, user_id, status, language, attempts, max_attempts,
			language_token, language_deadline, verification_token, verification_deadline,
			created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`,
		r.ChatID, r.UserID, r.Status, r.Language, r.Attempts, r.MaxAttempts,
		r.LanguageToken, toUnix(r.LanguageDeadline),
		r.VerificationToken, toUnix(r.VerificationDeadline),
		toUnix(r.CreatedAt), toUnix(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("record id: %w", err)
	}
	r.ID = id
	r.Version = 1
	return nil
}

// Update writes r if its Version is still current, then bumps it
func (s *SQLiteStore) Update(r *Record) error {
	res, err := s.db.Exec(`
		UPDATE join_requests SET
			status = ?, language = ?, attempts = ?, max_attempts = ?,
			language_token = ?, language_deadline = ?,
			verification_token = ?, verification_deadline = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`,
		r.Status, r.Language, r.Attempts, r.MaxAttempts,
		r.LanguageToken, toUnix(r.LanguageDeadline),
		r.VerificationToken, toUnix(r.VerificationDeadline),
		toUnix(r.UpdatedAt),
		r.ID, r.Version,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record rows: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	r.Version++
	return nil
}

// GetLatest returns the newest record for a (chat, user) key
func (s *SQLiteStore) GetLatest(chatID, userID int64) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT `+recordColumns+`
		FROM join_requests
		WHERE chat_id = ? AND user_id = ?
		ORDER BY id DESC LIMIT 1
	`, chatID, userID)

	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest record: %w", err)
	}
	return r, nil
}

// GetByToken resolves a live phase token to its record
func (s *SQLiteStore) GetByToken(phase Phase, token string) (*Record, error) {
	if token == "" {
		return nil, ErrNotFound
	}

	column := "language_token"
	if phase == PhaseVerify {
		column = "verification_token"
	}

	row := s.db.QueryRow(`
		SELECT `+recordColumns+`
		FROM join_requests
		WHERE `+column+` = ?
	`, token)

	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record by token: %w", err)
	}
	return r, nil
}

// ListExpired returns active records whose phase deadline has passed
func (s *SQLiteStore) ListExpired(phase Phase, now time.Time) ([]*Record, error) {
	status := StatusAwaitingLanguage
	column := "language_deadline"
	if phase == PhaseVerify {
		status = StatusAwaitingVerification
		column = "verification_deadline"
	}

	rows, err := s.db.Query(`
		SELECT `+recordColumns+`
		FROM join_requests
		WHERE status = ? AND `+column+` > 0 AND `+column+` <= ?
	`, status, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("list expired records: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// ListActive returns every record still in the pipeline
func (s *SQLiteStore) ListActive() ([]*Record, error) {
	rows, err := s.db.Query(`
		SELECT `+recordColumns+`
		FROM join_requests
		WHERE status IN (?, ?)
	`, StatusAwaitingLanguage, StatusAwaitingVerification)
	if err != nil {
		return nil, fmt.Errorf("list active records: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// PendingForUser returns the user's active records, newest first
func (s *SQLiteStore) PendingForUser(userID int64) ([]*Record, error) {
	rows, err := s.db.Query(`
		SELECT `+recordColumns+`
		FROM join_requests
		WHERE user_id = ? AND status IN (?, ?)
		ORDER BY updated_at DESC
	`, userID, StatusAwaitingLanguage, StatusAwaitingVerification)
	if err != nil {
		return nil, fmt.Errorf("list pending records: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

func collect(rows *sql.Rows) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Counts aggregates record counts by status; chatID of 0 means all chats
func (s *SQLiteStore) Counts(chatID int64) (map[Status]int, error) {
	var rows *sql.Rows
	var err error

	if chatID == 0 {
		rows, err = s.db.Query(`SELECT status, COUNT(1) FROM join_requests GROUP BY status`)
	} else {
		rows, err = s.db.Query(
			`SELECT status, COUNT(1) FROM join_requests WHERE chat_id = ? GROUP BY status`,
			chatID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// PurgeTerminalBefore deletes terminal records last touched before cutoff
func (s *SQLiteStore) PurgeTerminalBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM join_requests
		WHERE status NOT IN (?, ?) AND updated_at < ?
	`, StatusAwaitingLanguage, StatusAwaitingVerification, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("purge records: %w", err)
	}
	return res.RowsAffected()
}

// Close releases database resources
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
