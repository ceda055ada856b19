package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gatekeeper-tg-bot/internal/admin"
	apperrors "gatekeeper-tg-bot/internal/errors"
	"gatekeeper-tg-bot/internal/settings"
	"gatekeeper-tg-bot/internal/texts"
	"gatekeeper-tg-bot/internal/verification"
)

// Handler processes Telegram updates
type Handler struct {
	bot      *tgbotapi.BotAPI
	engine   *verification.Engine
	settings settings.Store
	lists    admin.Store
	admins   *AdminSet
	logger   *slog.Logger
}

// NewHandler creates a new update handler
func NewHandler(
	bot *tgbotapi.BotAPI,
	engine *verification.Engine,
	sets settings.Store,
	lists admin.Store,
	admins *AdminSet,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		bot:      bot,
		engine:   engine,
		settings: sets,
		lists:    lists,
		admins:   admins,
		logger:   logger,
	}
}

// HandleUpdate processes a single update
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.ChatJoinRequest != nil:
		h.handleJoinRequest(ctx, update.ChatJoinRequest)

	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)

	case update.MyChatMember != nil:
		h.handlePromotion(ctx, update.MyChatMember)

	case update.Message != nil && update.Message.IsCommand():
		h.handleCommand(ctx, update.Message)
	}
}

func (h *Handler) handleJoinRequest(ctx context.Context, req *tgbotapi.ChatJoinRequest) {
	if err := h.engine.HandleJoinRequest(ctx, req.Chat.ID, req.From.ID); err != nil {
		h.logger.Error("join request handling failed",
			"chat_id", req.Chat.ID, "user_id", req.From.ID, "error", err)
	}
}

func (h *Handler) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	parts := strings.Split(query.Data, ":")
	if len(parts) != 3 {
		h.answerCallback(query.ID, "Invalid selection.", true)
		return
	}
	kind, token, value := parts[0], parts[1], parts[2]

	var res verification.Result
	var err error
	switch kind {
	case "lang":
		res, err = h.engine.HandleLanguageChoice(ctx, query.From.ID, token, value)
	case "verify":
		res, err = h.engine.HandleChallengeAnswer(ctx, query.From.ID, token, value)
	default:
		h.answerCallback(query.ID, "Invalid selection.", true)
		return
	}

	if err != nil {
		h.logger.Error("callback handling failed",
			"user_id", query.From.ID, "kind", kind, "error", err)
		h.answerCallback(query.ID, apperrors.ErrStorage.UserMsg, true)
		return
	}

	switch res.Outcome {
	case verification.OutcomeOK:
		if kind == "lang" {
			h.answerCallback(query.ID, "Language saved.", false)
		} else {
			h.answerCallback(query.ID, "Verified.", false)
		}
	case verification.OutcomeStale:
		h.answerCallback(query.ID, "Expired.", true)
	case verification.OutcomeWrongUser:
		h.answerCallback(query.ID, "Not for you.", true)
	case verification.OutcomeAlreadyHandled:
		h.answerCallback(query.ID, "Already handled.", true)
	case verification.OutcomeExpired:
		h.answerCallback(query.ID, "Expired.", true)
	case verification.OutcomeWrongAnswer:
		h.answerCallback(query.ID,
			fmt.Sprintf(texts.AttemptsLeft(res.Language), res.Remaining), true)
	case verification.OutcomeFailed:
		h.answerCallback(query.ID, "Failed.", true)
	}
}

// handlePromotion DMs the promoting admin a deep link users can open to
// start the bot before sending a join request.
func (h *Handler) handlePromotion(ctx context.Context, event *tgbotapi.ChatMemberUpdated) {
	newStatus := event.NewChatMember.Status
	oldStatus := event.OldChatMember.Status
	if newStatus != "administrator" && newStatus != "creator" {
		return
	}
	if oldStatus == "administrator" || oldStatus == "creator" {
		return
	}

	chatTitle := event.Chat.Title
	if chatTitle == "" {
		chatTitle = "this chat"
	}
	link := fmt.Sprintf("https://t.me/%s?start=join_%d", h.bot.Self.UserName, event.Chat.ID)
	text := "Thanks for adding me as an admin.\n" +
		fmt.Sprintf("Chat: %s\n", chatTitle) +
		"Share this link with users so they can start the bot before requesting to join:\n" +
		link

	if _, err := h.bot.Send(tgbotapi.NewMessage(event.From.ID, text)); err != nil {
		h.logger.Error("failed to DM join link to admin",
			"user_id", event.From.ID, "error", err)
	}
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}

	switch msg.Command() {
	case "start":
		h.handleStart(ctx, msg)
	case "help":
		h.sendText(msg.Chat.ID,
			"I guard join requests for this chat.\n\n"+
				"Request to join and I will message you a short verification.\n"+
				"Send /start if you lost the buttons.")
	case "status":
		h.handleStatus(ctx, msg)
	case "setattempts":
		h.handleSetAttempts(msg)
	case "settimeout":
		h.handleSetTimeout(msg)
	case "approve":
		h.handleApprove(ctx, msg)
	case "reject":
		h.handleReject(ctx, msg)
	case "whitelist":
		h.handleList(msg, "whitelist")
	case "blacklist":
		h.handleList(msg, "blacklist")
	case "broadcast":
		h.handleBroadcast(ctx, msg)
	default:
		h.sendText(msg.Chat.ID, "Unknown command. Use /help for available commands.")
	}
}

func (h *Handler) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	if err := h.lists.RecordUser(userID, time.Now()); err != nil {
		h.logger.Error("failed to record user", "user_id", userID, "error", err)
	}

	payload := strings.TrimSpace(msg.CommandArguments())
	if chatIDStr, ok := strings.CutPrefix(payload, "join_"); ok {
		chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			h.sendText(msg.Chat.ID, "Invalid link payload.")
			return
		}
		if err := h.engine.Resume(ctx, chatID, userID); err != nil {
			h.logger.Error("resume failed", "chat_id", chatID, "user_id", userID, "error", err)
			h.sendText(msg.Chat.ID, apperrors.ErrStorage.UserMsg)
		}
		return
	}

	sent, err := h.engine.ResumeAll(ctx, userID)
	if err != nil {
		h.logger.Error("resume-all failed", "user_id", userID, "error", err)
		h.sendText(msg.Chat.ID, apperrors.ErrStorage.UserMsg)
		return
	}
	if sent == 0 {
		h.sendText(msg.Chat.ID, "No pending join requests found.")
	}
}

func (h *Handler) handleStatus(ctx context.Context, msg *tgbotapi.Message) {
	if !h.admins.IsAdmin(msg.From.ID) {
		h.sendText(msg.Chat.ID, apperrors.ErrNotAdmin.UserMsg)
		return
	}

	var chatID int64
	if !msg.Chat.IsPrivate() {
		chatID = msg.Chat.ID
	}

	counts, err := h.engine.Counts(chatID)
	if err != nil {
		h.logger.Error("status counts failed", "error", err)
		h.sendText(msg.Chat.ID, apperrors.ErrStorage.UserMsg)
		return
	}

	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)

	lines := []string{"Status counts:"}
	for _, s := range statuses {
		lines = append(lines, fmt.Sprintf("%s: %d", s, counts[verification.Status(s)]))
	}
	h.sendText(msg.Chat.ID, strings.Join(lines, "\n"))
}

func (h *Handler) handleSetAttempts(msg *tgbotapi.Message) {
	if !h.admins.IsAdmin(msg.From.ID) {
		h.sendText(msg.Chat.ID, apperrors.ErrNotAdmin.UserMsg)
		return
	}

	n, err := strconv.Atoi(strings.TrimSpace(msg.CommandArguments()))
	if err != nil {
		h.sendText(msg.Chat.ID, "Usage: /setattempts <number>")
		return
	}
	if err := h.settings.SetMaxAttempts(n); err != nil {
		h.sendText(msg.Chat.ID, apperrors.ErrInvalidSetting.UserMsg)
		return
	}
	h.sendText(msg.Chat.ID, fmt.Sprintf("Max attempts set to %d.", n))
}

func (h *Handler) handleSetTimeout(msg *tgbotapi.Message) {
	if !h.admins.IsAdmin(msg.From.ID) {
		h.sendText(msg.Chat.ID, apperrors.ErrNotAdmin.UserMsg)
		return
	}

	s, err := strconv.Atoi(strings.TrimSpace(msg.CommandArguments()))
	if err != nil {
		h.sendText(msg.Chat.ID, "Usage: /settimeout <seconds>")
		return
	}
	if err := h.settings.SetVerifySeconds(s); err != nil {
		h.sendText(msg.Chat.ID, apperrors.ErrInvalidSetting.UserMsg)
		return
	}
	h.sendText(msg.Chat.ID, fmt.Sprintf("Verification timeout set to %d seconds.", s))
}

// parseTarget reads "<user_id> [chat_id]" command arguments, defaulting
// the chat to where the command was sent.
func parseTarget(msg *tgbotapi.Message) (userID, chatID int64, err error) {
	parts := strings.Fields(msg.CommandArguments())
	if len(parts) < 1 {
		return 0, 0, errors.New("missing user id")
	}
	userID, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	chatID = msg.Chat.ID
	if len(parts) > 1 {
		chatID, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, err
		}
	}
	return userID, chatID, nil
}

func (h *Handler) handleApprove(ctx context.Context, msg *tgbotapi.Message) {
	if !h.admins.IsAdmin(msg.From.ID) {
		h.sendText(msg.Chat.ID, apperrors.ErrNotAdmin.UserMsg)
		return
	}

	userID, chatID, err := parseTarget(msg)
	if err != nil {
		h.sendText(msg.Chat.ID, "Usage: /approve <user_id> [chat_id]")
		return
	}

	err = h.engine.Approve(ctx, chatID, userID)
	switch {
	case errors.Is(err, verification.ErrNotWhitelisted):
		h.sendText(msg.Chat.ID, apperrors.ErrNotWhitelisted.UserMsg)
	case err != nil:
		h.logger.Error("manual approve failed", "chat_id", chatID, "user_id", userID, "error", err)
		h.sendText(msg.Chat.ID, "Failed to approve.")
	default:
		h.sendText(msg.Chat.ID, "Approved.")
	}
}

func (h *Handler) handleReject(ctx context.Context, msg *tgbotapi.Message) {
	if !h.admins.IsAdmin(msg.From.ID) {
		h.sendText(msg.Chat.ID, apperrors.ErrNotAdmin.UserMsg)
		return
	}

	userID, chatID, err := parseTarget(msg)
	if err != nil {
		h.sendText(msg.Chat.ID, "Usage: /reject <user_id> [chat_id]")
		return
	}

	if err := h.engine.Reject(ctx, chatID, userID); err != nil {
		h.logger.Error("manual reject failed", "chat_id", chatID, "user_id", userID, "error", err)
		h.sendText(msg.Chat.ID, "Failed to reject.")
		return
	}
	h.sendText(msg.Chat.ID, "Rejected.")
}

func (h *Handler) handleList(msg *tgbotapi.Message, list string) {
	if !h.admins.IsAdmin(msg.From.ID) {
		h.sendText(msg.Chat.ID, apperrors.ErrNotAdmin.UserMsg)
		return
	}

	parts := strings.Fields(msg.CommandArguments())
	if len(parts) != 2 || parts[0] != "add" {
		h.sendText(msg.Chat.ID, fmt.Sprintf("Usage: /%s add <user_id>", list))
		return
	}
	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		h.sendText(msg.Chat.ID, fmt.Sprintf("Usage: /%s add <user_id>", list))
		return
	}

	entry := admin.ListEntry{UserID: userID, AddedAt: time.Now(), AddedBy: msg.From.ID}
	if list == "whitelist" {
		err = h.lists.AddWhitelist(entry)
	} else {
		err = h.lists.AddBlacklist(entry)
	}
	if err != nil {
		h.logger.Error("list update failed", "list", list, "user_id", userID, "error", err)
		h.sendText(msg.Chat.ID, apperrors.ErrStorage.UserMsg)
		return
	}

	if list == "whitelist" {
		h.sendText(msg.Chat.ID, "Whitelisted.")
	} else {
		h.sendText(msg.Chat.ID, "Blacklisted.")
	}
}

func (h *Handler) handleBroadcast(ctx context.Context, msg *tgbotapi.Message) {
	if !h.admins.IsAdmin(msg.From.ID) {
		h.sendText(msg.Chat.ID, apperrors.ErrNotAdmin.UserMsg)
		return
	}
	if !msg.Chat.IsPrivate() {
		h.sendText(msg.Chat.ID, "Please use /broadcast in private chat with the bot.")
		return
	}

	text := strings.TrimSpace(msg.CommandArguments())
	if text == "" {
		h.sendText(msg.Chat.ID, "Usage: /broadcast <message>")
		return
	}

	userIDs, err := h.lists.ListUsers()
	if err != nil {
		h.logger.Error("broadcast audience lookup failed", "error", err)
		h.sendText(msg.Chat.ID, apperrors.ErrStorage.UserMsg)
		return
	}
	if len(userIDs) == 0 {
		h.sendText(msg.Chat.ID, "No users to broadcast to.")
		return
	}

	sent, failed := 0, 0
	for _, id := range userIDs {
		if ctx.Err() != nil {
			break
		}
		if _, err := h.bot.Send(tgbotapi.NewMessage(id, text)); err != nil {
			failed++
		} else {
			sent++
		}
		// Stay under Telegram's flood limits
		time.Sleep(50 * time.Millisecond)
	}
	h.sendText(msg.Chat.ID, fmt.Sprintf("Broadcast done. Sent: %d, Failed: %d.", sent, failed))
}

func (h *Handler) answerCallback(id, text string, alert bool) {
	var cb tgbotapi.CallbackConfig
	if alert {
		cb = tgbotapi.NewCallbackWithAlert(id, text)
	} else {
		cb = tgbotapi.NewCallback(id, text)
	}
	if _, err := h.bot.Request(cb); err != nil {
		h.logger.Error("failed to answer callback", "error", err)
	}
}

func (h *Handler) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.bot.Send(msg); err != nil {
		h.logger.Error("failed to send message", "error", err, "chat_id", chatID)
	}
}
