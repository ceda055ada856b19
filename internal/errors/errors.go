package errors

import (
	"errors"
)

// UserError represents an error with both technical and user-friendly messages
type UserError struct {
	Err       error
	UserMsg   string
	Retryable bool
}

func (e *UserError) Error() string {
	return e.Err.Error()
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// Predefined errors
var (
	ErrNotAdmin = &UserError{
		Err:       errors.New("caller is not an admin"),
		UserMsg:   "You are not allowed to use this command.",
		Retryable: false,
	}

	ErrNotWhitelisted = &UserError{
		Err:       errors.New("target user is not whitelisted"),
		UserMsg:   "User is not whitelisted for manual approval.",
		Retryable: false,
	}

	ErrStaleToken = &UserError{
		Err:       errors.New("stale or unknown token"),
		UserMsg:   "This button has expired. Send /start to get a fresh one.",
		Retryable: false,
	}

	ErrStorage = &UserError{
		Err:       errors.New("storage operation failed"),
		UserMsg:   "Something went wrong on our side. Please try again.",
		Retryable: true,
	}

	ErrDMUnreachable = &UserError{
		Err:       errors.New("cannot open a direct message channel"),
		UserMsg:   "I could not message you. Start the bot first, then request to join again.",
		Retryable: false,
	}

	ErrInvalidSetting = &UserError{
		Err:       errors.New("invalid settings value"),
		UserMsg:   "Invalid value, the previous setting was kept.",
		Retryable: false,
	}
)

// Wrap wraps a technical error with a user message
func Wrap(err error, userMsg string, retryable bool) *UserError {
	return &UserError{
		Err:       err,
		UserMsg:   userMsg,
		Retryable: retryable,
	}
}

// GetUserMessage extracts user-friendly message from error
func GetUserMessage(err error) string {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.UserMsg
	}
	// Default message for unexpected errors
	return "An unexpected error occurred. Please try again later."
}

// IsRetryable checks if an error can be retried
func IsRetryable(err error) bool {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.Retryable
	}
	return false
}
