// Package verification owns the join-request verification state machine:
// join intake, language selection, the human-verification challenge,
// timeouts, and admin overrides.
package verification

import (
	"time"
)

// Status is the lifecycle state of a verification record.
type Status string

const (
	// StatusAwaitingLanguage means the language prompt is out.
	StatusAwaitingLanguage Status = "awaiting_language"
	// StatusAwaitingVerification means the challenge prompt is out.
	StatusAwaitingVerification Status = "awaiting_verification"
	// StatusApproved means the join request was approved.
	StatusApproved Status = "approved"
	// StatusRejected means verification failed and the request was declined.
	StatusRejected Status = "rejected"
	// StatusPendingReview means verification failed but the request is
	// held for manual admin review instead of being declined.
	StatusPendingReview Status = "pending_review"
	// StatusExpired means a phase deadline lapsed without a valid answer.
	StatusExpired Status = "expired"
	// StatusDMFailed means the bot could not open a direct message
	// channel to the user; the request is never approved from here.
	StatusDMFailed Status = "dm_failed"
	// StatusVerifiedPending means the challenge was passed but the
	// platform approve call failed; the next join request for the same
	// key is approved without re-running the pipeline.
	StatusVerifiedPending Status = "verified_pending"
	// StatusBlocked means the request was declined because the user is
	// blacklisted.
	StatusBlocked Status = "blocked"
)

// Active reports whether the status still accepts pipeline events.
func (s Status) Active() bool {
	return s == StatusAwaitingLanguage || s == StatusAwaitingVerification
}

// Terminal reports whether automatic processing is done with the record.
func (s Status) Terminal() bool {
	return !s.Active()
}

// Phase names which token/deadline pair an event or timer refers to.
type Phase string

const (
	// PhaseLanguage covers the language-selection prompt.
	PhaseLanguage Phase = "language"
	// PhaseVerify covers the challenge prompt.
	PhaseVerify Phase = "verify"
)

// Record is one verification pipeline run for a (chat, user) pair. At
// most one record per key is active at a time; terminal records are only
// superseded by a fresh run, never mutated back into the pipeline.
type Record struct {
	ID     int64
	ChatID int64
	UserID int64

	Status   Status
	Language string // empty until chosen

	Attempts    int
	MaxAttempts int // snapshot of the setting at creation

	LanguageToken    string
	LanguageDeadline time.Time

	VerificationToken    string
	VerificationDeadline time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	// Version backs the store's compare-and-swap; a stale writer loses.
	Version int64
}

// Token returns the live token for the given phase, empty if none.
func (r *Record) Token(phase Phase) string {
	if phase == PhaseLanguage {
		return r.LanguageToken
	}
	return r.VerificationToken
}

// Deadline returns the live deadline for the given phase.
func (r *Record) Deadline(phase Phase) time.Time {
	if phase == PhaseLanguage {
		return r.LanguageDeadline
	}
	return r.VerificationDeadline
}

// CurrentPhase maps an active status to its phase.
func (r *Record) CurrentPhase() (Phase, bool) {
	switch r.Status {
	case StatusAwaitingLanguage:
		return PhaseLanguage, true
	case StatusAwaitingVerification:
		return PhaseVerify, true
	}
	return "", false
}
