package telegram

import (
	"log/slog"
)

// AdminSet holds the user IDs allowed to run admin commands.
type AdminSet struct {
	ids    map[int64]struct{}
	logger *slog.Logger
}

// NewAdminSet creates an admin set from a slice of user IDs.
func NewAdminSet(userIDs []int64, logger *slog.Logger) *AdminSet {
	ids := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		ids[id] = struct{}{}
	}
	return &AdminSet{ids: ids, logger: logger}
}

// IsAdmin checks if a user may run admin commands.
func (a *AdminSet) IsAdmin(userID int64) bool {
	_, ok := a.ids[userID]
	if !ok {
		a.logger.Warn("unauthorized admin command attempt", "user_id", userID)
	}
	return ok
}
