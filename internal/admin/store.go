package admin

import "time"

// ListEntry represents a whitelist or blacklist membership
type ListEntry struct {
	UserID  int64
	AddedAt time.Time
	AddedBy int64
}

// Store defines the interface for admin-list persistence
type Store interface {
	// IsWhitelisted checks if a user may be manually approved
	IsWhitelisted(userID int64) (bool, error)

	// IsBlacklisted checks if a user is banned from the pipeline
	IsBlacklisted(userID int64) (bool, error)

	// AddWhitelist adds a user to the whitelist
	AddWhitelist(entry ListEntry) error

	// AddBlacklist adds a user to the blacklist
	AddBlacklist(entry ListEntry) error

	// RemoveWhitelist removes a user from the whitelist
	RemoveWhitelist(userID int64) error

	// RemoveBlacklist removes a user from the blacklist
	RemoveBlacklist(userID int64) error

	// RecordUser remembers a user who started the bot, for broadcasts
	RecordUser(userID int64, at time.Time) error

	// ListUsers returns every recorded user ID
	ListUsers() ([]int64, error)

	// Close releases resources
	Close() error
}
