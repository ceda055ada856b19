package verification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper-tg-bot/internal/admin"
	"gatekeeper-tg-bot/internal/schedule"
	"gatekeeper-tg-bot/internal/settings"
)

// --- fakes ---

type memStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[int64]*Record)}
}

func clone(r *Record) *Record {
	c := *r
	return &c
}

func (s *memStore) Create(r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r.ID = s.nextID
	r.Version = 1
	s.records[r.ID] = clone(r)
	return nil
}

func (s *memStore) Update(r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[r.ID]
	if !ok || cur.Version != r.Version {
		return ErrVersionConflict
	}
	r.Version++
	s.records[r.ID] = clone(r)
	return nil
}

func (s *memStore) GetLatest(chatID, userID int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Record
	for _, r := range s.records {
		if r.ChatID == chatID && r.UserID == userID {
			if latest == nil || r.ID > latest.ID {
				latest = r
			}
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return clone(latest), nil
}

func (s *memStore) GetByToken(phase Phase, token string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" {
		return nil, ErrNotFound
	}
	for _, r := range s.records {
		if r.Token(phase) == token {
			return clone(r), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) ListExpired(phase Phase, now time.Time) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, r := range s.records {
		p, ok := r.CurrentPhase()
		if ok && p == phase && !r.Deadline(phase).IsZero() && !r.Deadline(phase).After(now) {
			out = append(out, clone(r))
		}
	}
	return out, nil
}

func (s *memStore) ListActive() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, r := range s.records {
		if r.Status.Active() {
			out = append(out, clone(r))
		}
	}
	return out, nil
}

func (s *memStore) PendingForUser(userID int64) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, r := range s.records {
		if r.UserID == userID && r.Status.Active() {
			out = append(out, clone(r))
		}
	}
	return out, nil
}

func (s *memStore) Counts(chatID int64) (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[Status]int)
	for _, r := range s.records {
		if chatID == 0 || r.ChatID == chatID {
			counts[r.Status]++
		}
	}
	return counts, nil
}

func (s *memStore) PurgeTerminalBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.records {
		if r.Status.Terminal() && r.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) Close() error { return nil }

type fakeLists struct {
	whitelisted map[int64]bool
	blacklisted map[int64]bool
}

func newFakeLists() *fakeLists {
	return &fakeLists{whitelisted: map[int64]bool{}, blacklisted: map[int64]bool{}}
}

func (f *fakeLists) IsWhitelisted(id int64) (bool, error)  { return f.whitelisted[id], nil }
func (f *fakeLists) IsBlacklisted(id int64) (bool, error)  { return f.blacklisted[id], nil }
func (f *fakeLists) AddWhitelist(e admin.ListEntry) error  { f.whitelisted[e.UserID] = true; return nil }
func (f *fakeLists) AddBlacklist(e admin.ListEntry) error  { f.blacklisted[e.UserID] = true; return nil }
func (f *fakeLists) RemoveWhitelist(id int64) error        { delete(f.whitelisted, id); return nil }
func (f *fakeLists) RemoveBlacklist(id int64) error        { delete(f.blacklisted, id); return nil }
func (f *fakeLists) RecordUser(int64, time.Time) error     { return nil }
func (f *fakeLists) ListUsers() ([]int64, error)           { return nil, nil }
func (f *fakeLists) Close() error                          { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSettings struct {
	values settings.Values
}

func (f *fakeSettings) Get() (settings.Values, error)             { return f.values, nil }
func (f *fakeSettings) SetMaxAttempts(n int) error                { f.values.MaxAttempts = n; return nil }
func (f *fakeSettings) SetVerifySeconds(s int) error              { f.values.VerifySeconds = s; return nil }
func (f *fakeSettings) SetLanguageSeconds(s int) error            { f.values.LanguageSeconds = s; return nil }
func (f *fakeSettings) SetFailureAction(a settings.FailureAction) error { f.values.FailureAction = a; return nil }
func (f *fakeSettings) Close() error                              { return nil }

type gatewayCall struct {
	method string
	chatID int64
	userID int64
	token  string
	text   string
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []gatewayCall

	failLanguagePrompt bool
	failApprove        bool
}

func (g *fakeGateway) record(c gatewayCall) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, c)
}

func (g *fakeGateway) PromptLanguage(_ context.Context, userID int64, token string) error {
	if g.failLanguagePrompt {
		return errors.New("blocked by user")
	}
	g.record(gatewayCall{method: "PromptLanguage", userID: userID, token: token})
	return nil
}

func (g *fakeGateway) PromptChallenge(_ context.Context, userID int64, lang string, ch Challenge) error {
	g.record(gatewayCall{method: "PromptChallenge", userID: userID, token: ch.Token, text: lang})
	return nil
}

func (g *fakeGateway) ApproveJoin(_ context.Context, chatID, userID int64) error {
	if g.failApprove {
		return errors.New("USER_ALREADY_PARTICIPANT")
	}
	g.record(gatewayCall{method: "ApproveJoin", chatID: chatID, userID: userID})
	return nil
}

func (g *fakeGateway) DeclineJoin(_ context.Context, chatID, userID int64) error {
	g.record(gatewayCall{method: "DeclineJoin", chatID: chatID, userID: userID})
	return nil
}

func (g *fakeGateway) SendNotice(_ context.Context, userID int64, text string) error {
	g.record(gatewayCall{method: "SendNotice", userID: userID, text: text})
	return nil
}

func (g *fakeGateway) callsOf(method string) []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []gatewayCall
	for _, c := range g.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

type fakeTimers struct {
	mu        sync.Mutex
	scheduled []schedule.Key
}

func (f *fakeTimers) Schedule(key schedule.Key, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, key)
}

// --- harness ---

type harness struct {
	engine  *Engine
	store   *memStore
	lists   *fakeLists
	sets    *fakeSettings
	gateway *fakeGateway
	timers  *fakeTimers
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:   newMemStore(),
		lists:   newFakeLists(),
		gateway: &fakeGateway{},
		timers:  &fakeTimers{},
		now:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	h.sets = &fakeSettings{values: settings.Values{
		MaxAttempts:     3,
		VerifySeconds:   120,
		LanguageSeconds: 120,
		FailureAction:   settings.FailureReject,
	}}

	h.engine = New(h.store, h.lists, h.sets, h.gateway, h.timers, testLogger())
	h.engine.Now = func() time.Time { return h.now }

	tokenSeq := 0
	h.engine.NewToken = func() string {
		tokenSeq++
		return fmt.Sprintf("token-%d", tokenSeq)
	}
	return h
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func (h *harness) latest(t *testing.T, chatID, userID int64) *Record {
	t.Helper()
	rec, err := h.store.GetLatest(chatID, userID)
	require.NoError(t, err)
	return rec
}

// join runs intake and returns the issued language token.
func (h *harness) join(t *testing.T, chatID, userID int64) string {
	t.Helper()
	require.NoError(t, h.engine.HandleJoinRequest(context.Background(), chatID, userID))
	rec := h.latest(t, chatID, userID)
	require.Equal(t, StatusAwaitingLanguage, rec.Status)
	return rec.LanguageToken
}

// selectLanguage advances to the challenge phase and returns its token.
func (h *harness) selectLanguage(t *testing.T, chatID, userID int64, token, lang string) string {
	t.Helper()
	res, err := h.engine.HandleLanguageChoice(context.Background(), userID, token, lang)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, res.Outcome)
	return h.latest(t, chatID, userID).VerificationToken
}

const (
	chatID = int64(-100123)
	userID = int64(777)
)

// --- scenarios ---

func TestHappyPathApprovesOnFirstTry(t *testing.T) {
	h := newHarness(t)

	langToken := h.join(t, chatID, userID)
	verToken := h.selectLanguage(t, chatID, userID, langToken, "hi")

	res, err := h.engine.HandleChallengeAnswer(context.Background(), userID, verToken, ChoiceHuman)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, res.Outcome)

	rec := h.latest(t, chatID, userID)
	assert.Equal(t, StatusApproved, rec.Status)
	assert.Equal(t, "hi", rec.Language)
	assert.Equal(t, 0, rec.Attempts)
	assert.Empty(t, rec.VerificationToken)

	require.Len(t, h.gateway.callsOf("ApproveJoin"), 1)
	assert.Empty(t, h.gateway.callsOf("DeclineJoin"))
}

func TestApprovalRequiresChallengePassage(t *testing.T) {
	h := newHarness(t)

	langToken := h.join(t, chatID, userID)

	// A challenge answer sent while still awaiting language must not approve
	res, err := h.engine.HandleChallengeAnswer(context.Background(), userID, langToken, ChoiceHuman)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, res.Outcome)

	rec := h.latest(t, chatID, userID)
	assert.Equal(t, StatusAwaitingLanguage, rec.Status)
	assert.Empty(t, h.gateway.callsOf("ApproveJoin"))
}

func TestWrongAnswersExhaustAttempts(t *testing.T) {
	h := newHarness(t)
	h.sets.values.MaxAttempts = 2

	langToken := h.join(t, chatID, userID)
	verToken := h.selectLanguage(t, chatID, userID, langToken, "en")

	res, err := h.engine.HandleChallengeAnswer(context.Background(), userID, verToken, "bot")
	require.NoError(t, err)
	assert.Equal(t, OutcomeWrongAnswer, res.Outcome)
	assert.Equal(t, 1, res.Remaining)

	// The challenge was reissued with a fresh token
	rec := h.latest(t, chatID, userID)
	require.Equal(t, StatusAwaitingVerification, rec.Status)
	assert.NotEqual(t, verToken, rec.VerificationToken)
	assert.Equal(t, 1, rec.Attempts)

	res, err = h.engine.HandleChallengeAnswer(context.Background(), userID, rec.VerificationToken, "skip")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	rec = h.latest(t, chatID, userID)
	assert.Equal(t, StatusRejected, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
	assert.LessOrEqual(t, rec.Attempts, rec.MaxAttempts)
	require.Len(t, h.gateway.callsOf("DeclineJoin"), 1)
	assert.Empty(t, h.gateway.callsOf("ApproveJoin"))
}

func TestExhaustedAttemptsWithPendingAction(t *testing.T) {
	h := newHarness(t)
	h.sets.values.MaxAttempts = 1
	h.sets.values.FailureAction = settings.FailurePending

	langToken := h.join(t, chatID, userID)
	verToken := h.selectLanguage(t, chatID, userID, langToken, "en")

	res, err := h.engine.HandleChallengeAnswer(context.Background(), userID, verToken, "auto")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	rec := h.latest(t, chatID, userID)
	assert.Equal(t, StatusPendingReview, rec.Status)
	// Pending means held for review, not declined
	assert.Empty(t, h.gateway.callsOf("DeclineJoin"))
}

func TestStaleTokenReplayIsNoOp(t *testing.T) {
	h := newHarness(t)

	langToken := h.join(t, chatID, userID)
	h.selectLanguage(t, chatID, userID, langToken, "en")

	// Replaying the language button after the phase advanced
	res, err := h.engine.HandleLanguageChoice(context.Background(), userID, langToken, "hi")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, res.Outcome)

	rec := h.latest(t, chatID, userID)
	assert.Equal(t, StatusAwaitingVerification, rec.Status)
	assert.Equal(t, "en", rec.Language)
}

func TestReissuedChallengeInvalidatesOldToken(t *testing.T) {
	h := newHarness(t)

	langToken := h.join(t, chatID, userID)
	verToken := h.selectLanguage(t, chatID, userID, langToken, "en")

	_, err := h.engine.HandleChallengeAnswer(context.Background(), userID, verToken, "bot")
	require.NoError(t, err)

	// The pre-reissue token must no longer do anything, even with the
	// correct answer
	res, err := h.engine.HandleChallengeAnswer(context.Background(), userID, verToken, ChoiceHuman)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, res.Outcome)
	assert.Empty(t, h.gateway.callsOf("ApproveJoin"))
}

func TestWrongUserPressingButtonIsNoOp(t *testing.T) {
	h := newHarness(t)

	langToken := h.join(t, chatID, userID)

	res, err := h.engine.HandleLanguageChoice(context.Background(), userID+1, langToken, "en")
	require.NoError(t, err)
	assert.Equal(t, OutcomeWrongUser, res.Outcome)
	assert.Equal(t, StatusAwaitingLanguage, h.latest(t, chatID, userID).Status)
}

func TestTimeoutExpiresChallenge(t *testing.T) {
	h := newHarness(t)

	langToken := h.join(t, chatID, userID)
	verToken := h.selectLanguage(t, chatID, userID, langToken, "hinglish")

	h.advance(121 * time.Second)
	h.engine.HandleTimeout(context.Background(), schedule.Key{
		ChatID: chatID, UserID: userID, Phase: string(PhaseVerify), Token: verToken,
	})

	rec := h.latest(t, chatID, userID)
	assert.Equal(t, StatusExpired, rec.Status)
	require.Len(t, h.gateway.callsOf("DeclineJoin"), 1)
}

func TestTimeoutWithPendingActionHoldsForReview(t *testing.T) {
	h := newHarness(t)
	h.sets.values.FailureAction = settings.FailurePending

	langToken := h.join(t, chatID, userID)

	h.advance(121 * time.Second)
	h.engine.HandleTimeout(context.Background(), schedule.Key{
		ChatID: chatID, UserID: userID, Phase: string(PhaseLanguage), Token: langToken,
	})

	rec := h.latest(t, chatID, userID)
	assert.Equal(t, StatusPendingReview, rec.Status)
	assert.Empty(t, h.gateway.callsOf("DeclineJoin"))
}

func TestLateTimerAfterCompletionIsNoOp(t *testing.T) {
	h := newHarness(t)

	langToken := h.join(t, chatID, userID)
	verToken := h.selectLanguage(t, chatID, userID, langToken, "en")

	res, err := h.engine.HandleChallengeAnswer(context.Background(), userID, verToken, ChoiceHuman)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, res.Outcome)

	// The verify timer fires after the record is already approved
	h.advance(200 * time.Second)
	h.engine.HandleTimeout(context.Background(), schedule.Key{
		ChatID: chatID, UserID: userID, Phase: string(PhaseVerify), Token: verToken,
	})

	assert.Equal(t, StatusApproved, h.latest(t, chatID, userID).Status)
	assert.Empty(t, h.gateway.callsOf("DeclineJoin"))
}

func TestStaleTimerForSupersededTokenIsNoOp(t *testing.T) {
	h := newHarness(t)

	langToken := h.join(t, chatID, userID)
	verToken := h.selectLanguage(t, chatID, userID, langToken, "en")

	// Wrong answer rotates the token; the timer for the old one fires late
	_, err := h.engine.HandleChallengeAnswer(context.Background(), userID, verToken, "bot")
	require.NoError(t, err)

	h.advance(300 * time.Second)
	h.engine.HandleTimeout(context.Background(), schedule.Key{
		ChatID: chatID, UserID: userID, Phase: string(PhaseVerify), Token: verToken,
	})

	// Only the current token may expire the record; the stale one did not
	rec := h.latest(t, chatID, userID)
	assert.Equal(t, StatusAwaitingVerification, rec.Status)
}

func TestExpiredAnswerAppliesFailureAction(t *testing.T) {
	h := newHarness(t)

	langToken := h.join(t, chatID, userID)
	verToken := h.selectLanguage(t, chatID, userID, langToken, "en")

	h.advance(121 * time.Second)
	res, err := h.engine.HandleChallengeAnswer(context.Background(), userID, verToken, ChoiceHuman)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, res.Outcome)

	rec := h.latest(t, chatID, userID)
	assert.Equal(t, StatusExpired, rec.Status)
	assert.Empty(t, h.gateway.callsOf("ApproveJoin"))
}

func TestBlacklistedJoinDeclinedWithoutPrompts(t *testing.T) {
	h := newHarness(t)
	h.lists.blacklisted[userID] = true

	require.NoError(t, h.engine.HandleJoinRequest(context.Background(), chatID, userID))

	rec := h.latest(t, chatID, userID)
	assert.Equal(t, StatusBlocked, rec.Status)
	require.Len(t, h.gateway.callsOf("DeclineJoin"), 1)
	assert.Empty(t, h.gateway.callsOf("PromptLanguage"))
}

func TestDMFailureNeverApproves(t *testing.T) {
	h := newHarness(t)
	h.gateway.failLanguagePrompt = true

	require.NoError(t, h.engine.HandleJoinRequest(context.Background(), chatID, userID))

	rec := h.latest(t, chatID, userID)
	assert.Equal(t, StatusDMFailed, rec.Status)
	require.Len(t, h.gateway.callsOf("DeclineJoin"), 1)
	assert.Empty(t, h.gateway.callsOf("ApproveJoin"))
}

func TestJoinWhileActiveDoesNotRestartPipeline(t *testing.T) {
	h := newHarness(t)

	langToken := h.join(t, chatID, userID)

	require.NoError(t, h.engine.HandleJoinRequest(context.Background(), chatID, userID))

	// Still the same record with the same token
	rec := h.latest(t, chatID, userID)
	assert.Equal(t, langToken, rec.LanguageToken)
	assert.Len(t, h.gateway.callsOf("PromptLanguage"), 1)
}

func TestVerifiedPendingApprovedOnNextJoin(t *testing.T) {
	h := newHarness(t)
	h.gateway.failApprove = true

	langToken := h.join(t, chatID, userID)
	verToken := h.selectLanguage(t, chatID, userID, langToken, "en")

	res, err := h.engine.HandleChallengeAnswer(context.Background(), userID, verToken, ChoiceHuman)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, res.Outcome)
	require.Equal(t, StatusVerifiedPending, h.latest(t, chatID, userID).Status)

	// The platform call recovers; a new join request completes directly
	h.gateway.failApprove = false
	require.NoError(t, h.engine.HandleJoinRequest(context.Background(), chatID, userID))

	assert.Equal(t, StatusApproved, h.latest(t, chatID, userID).Status)
	require.Len(t, h.gateway.callsOf("ApproveJoin"), 1)
}

func TestAdminApproveRequiresWhitelist(t *testing.T) {
	h := newHarness(t)

	langToken := h.join(t, chatID, userID)

	err := h.engine.Approve(context.Background(), chatID, userID)
	require.ErrorIs(t, err, ErrNotWhitelisted)

	// No state change and no platform call
	rec := h.latest(t, chatID, userID)
	assert.Equal(t, StatusAwaitingLanguage, rec.Status)
	assert.Equal(t, langToken, rec.LanguageToken)
	assert.Empty(t, h.gateway.callsOf("ApproveJoin"))
}

func TestAdminApproveWhitelistedOverridesPhase(t *testing.T) {
	h := newHarness(t)
	h.lists.whitelisted[userID] = true

	h.join(t, chatID, userID)

	require.NoError(t, h.engine.Approve(context.Background(), chatID, userID))

	rec := h.latest(t, chatID, userID)
	assert.Equal(t, StatusApproved, rec.Status)
	assert.Empty(t, rec.LanguageToken)
	require.Len(t, h.gateway.callsOf("ApproveJoin"), 1)
}

func TestAdminRejectOverridesPhase(t *testing.T) {
	h := newHarness(t)

	langToken := h.join(t, chatID, userID)
	h.selectLanguage(t, chatID, userID, langToken, "en")

	require.NoError(t, h.engine.Reject(context.Background(), chatID, userID))

	rec := h.latest(t, chatID, userID)
	assert.Equal(t, StatusRejected, rec.Status)
	require.Len(t, h.gateway.callsOf("DeclineJoin"), 1)
}

func TestSettingsChangeAppliesToNewRecordsOnly(t *testing.T) {
	h := newHarness(t)

	h.join(t, chatID, userID)
	require.Equal(t, 3, h.latest(t, chatID, userID).MaxAttempts)

	h.sets.values.MaxAttempts = 5

	// In-flight record keeps its snapshot
	assert.Equal(t, 3, h.latest(t, chatID, userID).MaxAttempts)

	// A new pipeline picks up the new ceiling
	otherUser := userID + 1
	h.join(t, chatID, otherUser)
	assert.Equal(t, 5, h.latest(t, chatID, otherUser).MaxAttempts)
}

func TestResumeRotatesLapsedToken(t *testing.T) {
	h := newHarness(t)

	langToken := h.join(t, chatID, userID)

	h.advance(200 * time.Second)
	require.NoError(t, h.engine.Resume(context.Background(), chatID, userID))

	rec := h.latest(t, chatID, userID)
	require.Equal(t, StatusAwaitingLanguage, rec.Status)
	assert.NotEqual(t, langToken, rec.LanguageToken)
	assert.True(t, rec.LanguageDeadline.After(h.now))
	assert.Len(t, h.gateway.callsOf("PromptLanguage"), 2)
}

func TestResumeRestartsAfterFailure(t *testing.T) {
	h := newHarness(t)

	langToken := h.join(t, chatID, userID)
	h.advance(121 * time.Second)
	h.engine.HandleTimeout(context.Background(), schedule.Key{
		ChatID: chatID, UserID: userID, Phase: string(PhaseLanguage), Token: langToken,
	})
	require.Equal(t, StatusExpired, h.latest(t, chatID, userID).Status)

	require.NoError(t, h.engine.Resume(context.Background(), chatID, userID))

	rec := h.latest(t, chatID, userID)
	assert.Equal(t, StatusAwaitingLanguage, rec.Status)
	assert.Equal(t, 0, rec.Attempts)
}

func TestRestoreTimersSchedulesActiveRecords(t *testing.T) {
	h := newHarness(t)

	langToken := h.join(t, chatID, userID)
	before := len(h.timers.scheduled)

	require.NoError(t, h.engine.RestoreTimers(context.Background()))

	require.Len(t, h.timers.scheduled, before+1)
	key := h.timers.scheduled[len(h.timers.scheduled)-1]
	assert.Equal(t, langToken, key.Token)
	assert.Equal(t, string(PhaseLanguage), key.Phase)
}

func TestConcurrentAnswersApproveOnce(t *testing.T) {
	h := newHarness(t)

	langToken := h.join(t, chatID, userID)
	verToken := h.selectLanguage(t, chatID, userID, langToken, "en")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.engine.HandleChallengeAnswer(context.Background(), userID, verToken, ChoiceHuman)
		}()
	}
	wg.Wait()

	assert.Equal(t, StatusApproved, h.latest(t, chatID, userID).Status)
	assert.Len(t, h.gateway.callsOf("ApproveJoin"), 1)
}
