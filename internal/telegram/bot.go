package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gatekeeper-tg-bot/internal/config"
)

// Bot represents the Telegram bot
type Bot struct {
	api     *tgbotapi.BotAPI
	gateway *Gateway
	handler *Handler
	cfg     config.TelegramConfig
	logger  *slog.Logger

	// Track active update processing
	activeRequests sync.WaitGroup
}

// NewBot creates a new Telegram bot. The handler is attached separately
// because the verification engine needs the bot's gateway first.
func NewBot(cfg config.TelegramConfig, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:     api,
		gateway: NewGateway(api, logger),
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// API exposes the underlying client
func (b *Bot) API() *tgbotapi.BotAPI {
	return b.api
}

// Gateway returns the directive sink for the verification engine
func (b *Bot) Gateway() *Gateway {
	return b.gateway
}

// SetHandler attaches the update handler; must be called before Run
func (b *Bot) SetHandler(h *Handler) {
	b.handler = h
}

// Run starts the bot and blocks until context is cancelled
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollingTimeout
	// chat_join_request must be requested explicitly
	u.AllowedUpdates = []string{"message", "callback_query", "chat_join_request", "my_chat_member"}

	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("bot started", "username", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("stopping bot, waiting for active requests")

			// Stop receiving updates
			b.api.StopReceivingUpdates()

			// Wait for active requests with timeout
			done := make(chan struct{})
			go func() {
				b.activeRequests.Wait()
				close(done)
			}()

			select {
			case <-done:
				b.logger.Info("all active requests completed")
			case <-time.After(25 * time.Second):
				b.logger.Warn("some requests may not have completed")
			}

			return ctx.Err()

		case update, ok := <-updates:
			if !ok {
				return nil
			}

			// Process update in goroutine
			b.activeRequests.Add(1)
			go func(upd tgbotapi.Update) {
				defer b.activeRequests.Done()

				// Create request context with timeout
				reqCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
				defer cancel()

				b.handler.HandleUpdate(reqCtx, upd)
			}(update)
		}
	}
}
