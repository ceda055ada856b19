package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gatekeeper-tg-bot/internal/texts"
	"gatekeeper-tg-bot/internal/verification"
)

// Gateway implements verification.Gateway on top of the Bot API. It
// renders keyboards and relays approve/decline calls; all decisions stay
// in the engine.
type Gateway struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

// NewGateway creates a gateway bound to an API client.
func NewGateway(bot *tgbotapi.BotAPI, logger *slog.Logger) *Gateway {
	return &Gateway{bot: bot, logger: logger}
}

// PromptLanguage sends the language-selection keyboard. Callback payloads
// carry the phase token so stale buttons are rejected by the engine.
func (g *Gateway) PromptLanguage(ctx context.Context, userID int64, token string) error {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(texts.LanguageLabels))
	for _, lang := range texts.LanguageLabels {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				lang.Label,
				fmt.Sprintf("lang:%s:%s", token, lang.Code),
			),
		))
	}

	msg := tgbotapi.NewMessage(userID, texts.Welcome(texts.LangEnglish))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)

	if _, err := g.bot.Send(msg); err != nil {
		return fmt.Errorf("send language prompt: %w", err)
	}
	return nil
}

// PromptChallenge sends the challenge keyboard with the options in the
// order the engine decided, two per row.
func (g *Gateway) PromptChallenge(ctx context.Context, userID int64, lang string, ch verification.Challenge) error {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, choice := range ch.Options {
		label, ok := texts.ChallengeLabels[choice]
		if !ok {
			label = choice
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			label,
			fmt.Sprintf("verify:%s:%s", ch.Token, choice),
		))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	msg := tgbotapi.NewMessage(userID, texts.Verify(lang))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)

	if _, err := g.bot.Send(msg); err != nil {
		return fmt.Errorf("send challenge prompt: %w", err)
	}
	return nil
}

// ApproveJoin approves the join request on Telegram.
func (g *Gateway) ApproveJoin(ctx context.Context, chatID, userID int64) error {
	_, err := g.bot.Request(tgbotapi.ApproveChatJoinRequestConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
		UserID:     userID,
	})
	if err != nil {
		return fmt.Errorf("approve chat join request: %w", err)
	}
	return nil
}

// DeclineJoin declines the join request on Telegram.
func (g *Gateway) DeclineJoin(ctx context.Context, chatID, userID int64) error {
	_, err := g.bot.Request(tgbotapi.DeclineChatJoinRequest{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
		UserID:     userID,
	})
	if err != nil {
		return fmt.Errorf("decline chat join request: %w", err)
	}
	return nil
}

// SendNotice delivers a plain text message to the user.
func (g *Gateway) SendNotice(ctx context.Context, userID int64, text string) error {
	if _, err := g.bot.Send(tgbotapi.NewMessage(userID, text)); err != nil {
		return fmt.Errorf("send notice: %w", err)
	}
	return nil
}
