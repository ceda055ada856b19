package verification

import (
	"errors"
	"time"
)

// ErrVersionConflict is returned by Update when another writer advanced
// the record first; the losing event must not be applied.
var ErrVersionConflict = errors.New("record version conflict")

// ErrNotFound is returned when no matching record exists.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for verification-record persistence.
// Update must be atomic per key: of two concurrent writers, exactly one
// wins and the other observes ErrVersionConflict.
type Store interface {
	// Create inserts a fresh record and fills in its ID and Version
	Create(r *Record) error

	// Update writes r if its Version is still current, then bumps it
	Update(r *Record) error

	// GetLatest returns the newest record for a (chat, user) key
	GetLatest(chatID, userID int64) (*Record, error)

	// GetByToken resolves a live phase token to its record
	GetByToken(phase Phase, token string) (*Record, error)

	// ListExpired returns active records whose phase deadline has passed
	ListExpired(phase Phase, now time.Time) ([]*Record, error)

	// ListActive returns every record still in the pipeline
	ListActive() ([]*Record, error)

	// PendingForUser returns the user's active records, newest first
	PendingForUser(userID int64) ([]*Record, error)

	// Counts aggregates record counts by status; chatID of 0 means all chats
	Counts(chatID int64) (map[Status]int, error)

	// PurgeTerminalBefore deletes terminal records last touched before cutoff
	PurgeTerminalBefore(cutoff time.Time) (int64, error)

	// Close releases resources
	Close() error
}
