package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gatekeeper-tg-bot/internal/admin"
	"gatekeeper-tg-bot/internal/keylock"
	"gatekeeper-tg-bot/internal/schedule"
	"gatekeeper-tg-bot/internal/settings"
	"gatekeeper-tg-bot/internal/texts"
)

// Gateway delivers the engine's directives. It renders and sends; it
// never decides.
type Gateway interface {
	// PromptLanguage sends the language-selection keyboard to the user
	PromptLanguage(ctx context.Context, userID int64, token string) error

	// PromptChallenge sends the challenge keyboard in the engine's option order
	PromptChallenge(ctx context.Context, userID int64, lang string, ch Challenge) error

	// ApproveJoin approves the join request on the platform
	ApproveJoin(ctx context.Context, chatID, userID int64) error

	// DeclineJoin declines the join request on the platform
	DeclineJoin(ctx context.Context, chatID, userID int64) error

	// SendNotice sends a plain text message to the user
	SendNotice(ctx context.Context, userID int64, text string) error
}

// TimerScheduler registers deadline callbacks keyed by (chat, user,
// phase, token). Firing with a stale token is harmless; the engine
// discards it.
type TimerScheduler interface {
	Schedule(key schedule.Key, at time.Time)
}

// ErrNotWhitelisted is returned by Approve for a non-whitelisted target.
var ErrNotWhitelisted = errors.New("user is not whitelisted for manual approval")

// Outcome tells the transport how to answer the interaction.
type Outcome int

const (
	// OutcomeOK means the event advanced the state machine.
	OutcomeOK Outcome = iota
	// OutcomeStale means the token is unknown or superseded; no-op.
	OutcomeStale
	// OutcomeWrongUser means someone else pressed the button; no-op.
	OutcomeWrongUser
	// OutcomeAlreadyHandled means the record left this phase already; no-op.
	OutcomeAlreadyHandled
	// OutcomeExpired means the phase deadline had lapsed; failure applied.
	OutcomeExpired
	// OutcomeWrongAnswer means attempts remain; the challenge was reissued.
	OutcomeWrongAnswer
	// OutcomeFailed means the attempt ceiling was hit; failure applied.
	OutcomeFailed
)

// Result is the engine's answer to a button interaction.
type Result struct {
	Outcome   Outcome
	Language  string
	Remaining int
}

// Engine owns the verification state machine. Every handler serializes
// on the (chat, user) key and performs one read-decide-write; the
// store's version CAS drops any event that lost a race anyway.
type Engine struct {
	store    Store
	lists    admin.Store
	settings settings.Store
	gateway  Gateway
	timers   TimerScheduler
	locks    *keylock.KeyLock
	logger   *slog.Logger

	// Overridable in tests
	Now      func() time.Time
	NewToken func() string
}

// New creates a verification engine.
func New(
	store Store,
	lists admin.Store,
	sets settings.Store,
	gateway Gateway,
	timers TimerScheduler,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		store:    store,
		lists:    lists,
		settings: sets,
		gateway:  gateway,
		timers:   timers,
		locks:    keylock.New(),
		logger:   logger,
		Now:      time.Now,
		NewToken: uuid.NewString,
	}
}

func (e *Engine) lock(chatID, userID int64) func() {
	key := keylock.Key{ChatID: chatID, UserID: userID}
	e.locks.Lock(key)
	return func() { e.locks.Unlock(key) }
}

// HandleJoinRequest runs the intake step for a join request.
func (e *Engine) HandleJoinRequest(ctx context.Context, chatID, userID int64) error {
	defer e.lock(chatID, userID)()

	blocked, err := e.lists.IsBlacklisted(userID)
	if err != nil {
		return fmt.Errorf("blacklist check: %w", err)
	}
	if blocked {
		return e.declineBlacklisted(ctx, chatID, userID)
	}

	latest, err := e.store.GetLatest(chatID, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	if latest != nil {
		switch {
		case latest.Status == StatusVerifiedPending:
			// Challenge already passed; the earlier approve call failed
			return e.approveRecord(ctx, latest)
		case latest.Status.Active():
			// One active pipeline per key; point the user at it
			if err := e.gateway.SendNotice(ctx, userID,
				"Join request received. Please complete verification in this chat."); err != nil {
				e.logger.Warn("could not notify user about pending verification",
					"user_id", userID, "error", err)
			}
			return nil
		}
	}

	return e.startPipeline(ctx, chatID, userID)
}

func (e *Engine) declineBlacklisted(ctx context.Context, chatID, userID int64) error {
	now := e.Now()
	rec := &Record{
		ChatID:    chatID,
		UserID:    userID,
		Status:    StatusBlocked,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Create(rec); err != nil {
		return err
	}
	if err := e.gateway.DeclineJoin(ctx, chatID, userID); err != nil {
		e.logger.Error("failed to decline blacklisted join request",
			"chat_id", chatID, "user_id", userID, "error", err)
	}
	e.logger.Info("blacklisted join request declined", "chat_id", chatID, "user_id", userID)
	return nil
}

// startPipeline creates a fresh record and sends the language prompt.
// The first DM doubles as the deliverability probe: if it cannot be
// sent, the request is never approved automatically.
func (e *Engine) startPipeline(ctx context.Context, chatID, userID int64) error {
	cfg, err := e.settings.Get()
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	now := e.Now()
	rec := &Record{
		ChatID:           chatID,
		UserID:           userID,
		Status:           StatusAwaitingLanguage,
		MaxAttempts:      cfg.MaxAttempts,
		LanguageToken:    e.NewToken(),
		LanguageDeadline: now.Add(time.Duration(cfg.LanguageSeconds) * time.Second),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.store.Create(rec); err != nil {
		return err
	}

	if err := e.gateway.PromptLanguage(ctx, userID, rec.LanguageToken); err != nil {
		e.logger.Warn("could not DM user, marking request unverifiable",
			"chat_id", chatID, "user_id", userID, "error", err)
		return e.failRecord(ctx, rec, StatusDMFailed, "")
	}

	e.scheduleDeadline(rec, PhaseLanguage)
	e.logger.Info("verification started", "chat_id", chatID, "user_id", userID)
	return nil
}

// HandleLanguageChoice applies a language-selection button press.
func (e *Engine) HandleLanguageChoice(ctx context.Context, actorID int64, token, lang string) (Result, error) {
	rec, err := e.store.GetByToken(PhaseLanguage, token)
	if errors.Is(err, ErrNotFound) {
		return Result{Outcome: OutcomeStale}, nil
	}
	if err != nil {
		return Result{}, err
	}

	defer e.lock(rec.ChatID, rec.UserID)()

	// Re-read under the lock; the button may have raced another event
	rec, err = e.store.GetByToken(PhaseLanguage, token)
	if errors.Is(err, ErrNotFound) {
		return Result{Outcome: OutcomeStale}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if actorID != rec.UserID {
		return Result{Outcome: OutcomeWrongUser}, nil
	}
	if rec.Status != StatusAwaitingLanguage {
		return Result{Outcome: OutcomeAlreadyHandled}, nil
	}
	if e.pastDeadline(rec, PhaseLanguage) {
		if err := e.failRecord(ctx, rec, StatusExpired, rec.Language); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeExpired}, nil
	}

	cfg, err := e.settings.Get()
	if err != nil {
		return Result{}, fmt.Errorf("read settings: %w", err)
	}

	now := e.Now()
	rec.Language = texts.SafeLanguage(lang)
	rec.Status = StatusAwaitingVerification
	rec.LanguageToken = ""
	rec.LanguageDeadline = time.Time{}
	rec.VerificationToken = e.NewToken()
	rec.VerificationDeadline = now.Add(time.Duration(cfg.VerifySeconds) * time.Second)
	rec.UpdatedAt = now

	if err := e.store.Update(rec); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return Result{Outcome: OutcomeStale}, nil
		}
		return Result{}, err
	}

	e.scheduleDeadline(rec, PhaseVerify)

	ch := newChallenge(rec.VerificationToken)
	if err := e.gateway.PromptChallenge(ctx, rec.UserID, rec.Language, ch); err != nil {
		e.logger.Error("failed to send challenge prompt",
			"user_id", rec.UserID, "error", err)
	}

	return Result{Outcome: OutcomeOK, Language: rec.Language}, nil
}

// HandleChallengeAnswer applies a challenge button press.
func (e *Engine) HandleChallengeAnswer(ctx context.Context, actorID int64, token, choice string) (Result, error) {
	rec, err := e.store.GetByToken(PhaseVerify, token)
	if errors.Is(err, ErrNotFound) {
		return Result{Outcome: OutcomeStale}, nil
	}
	if err != nil {
		return Result{}, err
	}

	defer e.lock(rec.ChatID, rec.UserID)()

	rec, err = e.store.GetByToken(PhaseVerify, token)
	if errors.Is(err, ErrNotFound) {
		return Result{Outcome: OutcomeStale}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if actorID != rec.UserID {
		return Result{Outcome: OutcomeWrongUser}, nil
	}
	if rec.Status != StatusAwaitingVerification {
		return Result{Outcome: OutcomeAlreadyHandled}, nil
	}
	if e.pastDeadline(rec, PhaseVerify) {
		if err := e.failRecord(ctx, rec, StatusExpired, rec.Language); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeExpired, Language: rec.Language}, nil
	}

	if IsCorrect(choice) {
		if err := e.approveRecord(ctx, rec); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeOK, Language: rec.Language}, nil
	}

	rec.Attempts++
	if rec.Attempts >= rec.MaxAttempts {
		if err := e.failRecord(ctx, rec, StatusRejected, rec.Language); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeFailed, Language: rec.Language}, nil
	}

	// Attempts remain: reissue with a fresh token and a fresh shuffle so
	// the stale keyboard cannot be replayed
	cfg, err := e.settings.Get()
	if err != nil {
		return Result{}, fmt.Errorf("read settings: %w", err)
	}

	now := e.Now()
	rec.VerificationToken = e.NewToken()
	rec.VerificationDeadline = now.Add(time.Duration(cfg.VerifySeconds) * time.Second)
	rec.UpdatedAt = now

	if err := e.store.Update(rec); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return Result{Outcome: OutcomeStale}, nil
		}
		return Result{}, err
	}

	e.scheduleDeadline(rec, PhaseVerify)

	ch := newChallenge(rec.VerificationToken)
	if err := e.gateway.PromptChallenge(ctx, rec.UserID, rec.Language, ch); err != nil {
		e.logger.Error("failed to reissue challenge", "user_id", rec.UserID, "error", err)
	}

	return Result{
		Outcome:   OutcomeWrongAnswer,
		Language:  rec.Language,
		Remaining: rec.MaxAttempts - rec.Attempts,
	}, nil
}

// HandleTimeout is the scheduler callback for an elapsed deadline.
func (e *Engine) HandleTimeout(ctx context.Context, key schedule.Key) {
	defer e.lock(key.ChatID, key.UserID)()

	rec, err := e.store.GetLatest(key.ChatID, key.UserID)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		e.logger.Error("timeout lookup failed",
			"chat_id", key.ChatID, "user_id", key.UserID, "error", err)
		return
	}

	phase, active := rec.CurrentPhase()
	if !active || string(phase) != key.Phase || rec.Token(phase) != key.Token {
		// Stale timer for a superseded prompt
		e.logger.Debug("discarding stale timer",
			"chat_id", key.ChatID, "user_id", key.UserID, "phase", key.Phase)
		return
	}

	if err := e.failRecord(ctx, rec, StatusExpired, rec.Language); err != nil {
		e.logger.Error("timeout handling failed",
			"chat_id", key.ChatID, "user_id", key.UserID, "error", err)
	}
}

// approveRecord finalizes a passed verification: persist first, then
// approve on the platform. A failed approve call parks the record as
// verified-pending so the next join request is approved directly.
func (e *Engine) approveRecord(ctx context.Context, rec *Record) error {
	lang := rec.Language

	rec.Status = StatusApproved
	rec.LanguageToken = ""
	rec.LanguageDeadline = time.Time{}
	rec.VerificationToken = ""
	rec.VerificationDeadline = time.Time{}
	rec.UpdatedAt = e.Now()

	if err := e.store.Update(rec); err != nil {
		return err
	}

	if err := e.gateway.ApproveJoin(ctx, rec.ChatID, rec.UserID); err != nil {
		e.logger.Error("failed to approve join request",
			"chat_id", rec.ChatID, "user_id", rec.UserID, "error", err)
		rec.Status = StatusVerifiedPending
		rec.UpdatedAt = e.Now()
		if uerr := e.store.Update(rec); uerr != nil {
			return uerr
		}
		e.notify(ctx, rec.UserID, "You are verified. Please request to join the chat now.")
		return nil
	}

	e.notify(ctx, rec.UserID, texts.Success(lang))
	e.logger.Info("join request approved", "chat_id", rec.ChatID, "user_id", rec.UserID)
	return nil
}

// failRecord applies the configured failure action. failStatus is the
// terminal status for the reject path (expired, rejected, dm_failed);
// with the pending action the record is held for review instead and the
// request is not declined.
func (e *Engine) failRecord(ctx context.Context, rec *Record, failStatus Status, lang string) error {
	cfg, err := e.settings.Get()
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	status := failStatus
	if cfg.FailureAction == settings.FailurePending && failStatus != StatusDMFailed {
		status = StatusPendingReview
	}

	rec.Status = status
	rec.LanguageToken = ""
	rec.LanguageDeadline = time.Time{}
	rec.VerificationToken = ""
	rec.VerificationDeadline = time.Time{}
	rec.UpdatedAt = e.Now()

	if err := e.store.Update(rec); err != nil {
		return err
	}

	if cfg.FailureAction == settings.FailureReject {
		if err := e.gateway.DeclineJoin(ctx, rec.ChatID, rec.UserID); err != nil {
			e.logger.Error("failed to decline join request",
				"chat_id", rec.ChatID, "user_id", rec.UserID, "error", err)
		}
	}

	switch failStatus {
	case StatusExpired:
		e.notify(ctx, rec.UserID, texts.Expired(lang))
	case StatusRejected:
		e.notify(ctx, rec.UserID, texts.Fail(lang))
	}

	e.logger.Info("verification failed",
		"chat_id", rec.ChatID, "user_id", rec.UserID,
		"status", status, "action", cfg.FailureAction)
	return nil
}

// Approve is the manual admin override. Only whitelisted users may be
// approved by hand; the caller has already been authenticated as admin.
func (e *Engine) Approve(ctx context.Context, chatID, userID int64) error {
	listed, err := e.lists.IsWhitelisted(userID)
	if err != nil {
		return fmt.Errorf("whitelist check: %w", err)
	}
	if !listed {
		return ErrNotWhitelisted
	}

	defer e.lock(chatID, userID)()

	if err := e.gateway.ApproveJoin(ctx, chatID, userID); err != nil {
		return fmt.Errorf("approve join request: %w", err)
	}
	return e.overrideStatus(chatID, userID, StatusApproved)
}

// Reject is the manual admin override that declines a join request.
func (e *Engine) Reject(ctx context.Context, chatID, userID int64) error {
	defer e.lock(chatID, userID)()

	if err := e.gateway.DeclineJoin(ctx, chatID, userID); err != nil {
		return fmt.Errorf("decline join request: %w", err)
	}
	return e.overrideStatus(chatID, userID, StatusRejected)
}

func (e *Engine) overrideStatus(chatID, userID int64, status Status) error {
	now := e.Now()
	rec, err := e.store.GetLatest(chatID, userID)
	if errors.Is(err, ErrNotFound) {
		rec = &Record{
			ChatID:    chatID,
			UserID:    userID,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return e.store.Create(rec)
	}
	if err != nil {
		return err
	}

	rec.Status = status
	rec.LanguageToken = ""
	rec.LanguageDeadline = time.Time{}
	rec.VerificationToken = ""
	rec.VerificationDeadline = time.Time{}
	rec.UpdatedAt = now
	return e.store.Update(rec)
}

// Resume re-delivers the prompt for the user's pipeline in chatID,
// starting a fresh one when the previous run ended in failure. Backs the
// /start deep link.
func (e *Engine) Resume(ctx context.Context, chatID, userID int64) error {
	defer e.lock(chatID, userID)()

	rec, err := e.store.GetLatest(chatID, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	if rec == nil || isRestartable(rec.Status) {
		blocked, err := e.lists.IsBlacklisted(userID)
		if err != nil {
			return fmt.Errorf("blacklist check: %w", err)
		}
		if blocked {
			return nil
		}
		return e.startPipeline(ctx, chatID, userID)
	}

	switch rec.Status {
	case StatusAwaitingLanguage, StatusAwaitingVerification:
		return e.reissuePrompt(ctx, rec)
	case StatusVerifiedPending:
		e.notify(ctx, userID, "You are verified. Please request to join the chat now.")
	case StatusApproved:
		e.notify(ctx, userID, "You are already verified.")
	}
	return nil
}

// isRestartable reports whether a new join attempt may replace the record.
func isRestartable(s Status) bool {
	switch s {
	case StatusRejected, StatusExpired, StatusBlocked, StatusDMFailed:
		return true
	}
	return false
}

// ResumeAll re-delivers prompts for every active pipeline the user has,
// minting fresh tokens where the old ones lapsed. Returns how many
// prompts were sent.
func (e *Engine) ResumeAll(ctx context.Context, userID int64) (int, error) {
	pending, err := e.store.PendingForUser(userID)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, rec := range pending {
		if err := func() error {
			defer e.lock(rec.ChatID, rec.UserID)()

			fresh, err := e.store.GetLatest(rec.ChatID, rec.UserID)
			if err != nil {
				return err
			}
			if !fresh.Status.Active() {
				return nil
			}
			if err := e.reissuePrompt(ctx, fresh); err != nil {
				return err
			}
			sent++
			return nil
		}(); err != nil {
			e.logger.Error("resume failed",
				"chat_id", rec.ChatID, "user_id", rec.UserID, "error", err)
		}
	}
	return sent, nil
}

// reissuePrompt re-sends the prompt for the record's current phase,
// rotating the token and deadline if the old ones lapsed. Caller holds
// the key lock.
func (e *Engine) reissuePrompt(ctx context.Context, rec *Record) error {
	phase, ok := rec.CurrentPhase()
	if !ok {
		return nil
	}

	cfg, err := e.settings.Get()
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	now := e.Now()
	if rec.Token(phase) == "" || now.After(rec.Deadline(phase)) {
		token := e.NewToken()
		if phase == PhaseLanguage {
			rec.LanguageToken = token
			rec.LanguageDeadline = now.Add(time.Duration(cfg.LanguageSeconds) * time.Second)
		} else {
			rec.VerificationToken = token
			rec.VerificationDeadline = now.Add(time.Duration(cfg.VerifySeconds) * time.Second)
		}
		rec.UpdatedAt = now
		if err := e.store.Update(rec); err != nil {
			return err
		}
		e.scheduleDeadline(rec, phase)
	}

	if phase == PhaseLanguage {
		return e.gateway.PromptLanguage(ctx, rec.UserID, rec.LanguageToken)
	}
	return e.gateway.PromptChallenge(ctx, rec.UserID, rec.Language, newChallenge(rec.VerificationToken))
}

// RestoreTimers reschedules deadlines for every active record. Called
// once at startup; deadlines already in the past fire immediately.
func (e *Engine) RestoreTimers(ctx context.Context) error {
	active, err := e.store.ListActive()
	if err != nil {
		return err
	}
	for _, rec := range active {
		if phase, ok := rec.CurrentPhase(); ok && rec.Token(phase) != "" {
			e.scheduleDeadline(rec, phase)
		}
	}
	e.logger.Info("restored verification timers", "count", len(active))
	return nil
}

// Counts returns aggregate status counts; chatID of 0 covers all chats.
func (e *Engine) Counts(chatID int64) (map[Status]int, error) {
	return e.store.Counts(chatID)
}

func (e *Engine) scheduleDeadline(rec *Record, phase Phase) {
	e.timers.Schedule(schedule.Key{
		ChatID: rec.ChatID,
		UserID: rec.UserID,
		Phase:  string(phase),
		Token:  rec.Token(phase),
	}, rec.Deadline(phase))
}

func (e *Engine) pastDeadline(rec *Record, phase Phase) bool {
	deadline := rec.Deadline(phase)
	return !deadline.IsZero() && e.Now().After(deadline)
}

func (e *Engine) notify(ctx context.Context, userID int64, text string) {
	if err := e.gateway.SendNotice(ctx, userID, text); err != nil {
		e.logger.Warn("failed to notify user", "user_id", userID, "error", err)
	}
}
