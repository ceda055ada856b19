package settings

import "errors"

// FailureAction decides what happens when verification cannot complete.
type FailureAction string

const (
	// FailureReject declines the join request outright.
	FailureReject FailureAction = "reject"
	// FailurePending holds the request for manual admin review.
	FailurePending FailureAction = "pending"
)

// Validation errors
var (
	ErrAttemptsOutOfRange = errors.New("max attempts must be at least 1")
	ErrTimeoutTooShort    = errors.New("timeout must be at least 30 seconds")
	ErrBadFailureAction   = errors.New("failure action must be reject or pending")
)

// Values holds the runtime-mutable verification settings. Changes apply
// to records created or re-prompted afterwards, never retroactively to a
// deadline already scheduled.
type Values struct {
	MaxAttempts     int
	VerifySeconds   int
	LanguageSeconds int
	FailureAction   FailureAction
}

// Store defines the interface for settings persistence
type Store interface {
	// Get returns the current effective settings
	Get() (Values, error)
	// SetMaxAttempts updates the verification attempt ceiling
	SetMaxAttempts(n int) error
	// SetVerifySeconds updates the challenge-response timeout
	SetVerifySeconds(s int) error
	// SetLanguageSeconds updates the language-selection timeout
	SetLanguageSeconds(s int) error
	// SetFailureAction updates the failure outcome
	SetFailureAction(a FailureAction) error
	// Close releases resources
	Close() error
}

const minTimeoutSeconds = 30

// ValidateAttempts rejects non-positive attempt ceilings.
func ValidateAttempts(n int) error {
	if n < 1 {
		return ErrAttemptsOutOfRange
	}
	return nil
}

// ValidateTimeout rejects timeouts short enough to make every challenge
// expire before a human can answer it.
func ValidateTimeout(s int) error {
	if s < minTimeoutSeconds {
		return ErrTimeoutTooShort
	}
	return nil
}

// ValidateFailureAction rejects unknown failure actions.
func ValidateFailureAction(a FailureAction) error {
	if a != FailureReject && a != FailurePending {
		return ErrBadFailureAction
	}
	return nil
}
