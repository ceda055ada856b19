package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gatekeeper-tg-bot/internal/admin"
	"gatekeeper-tg-bot/internal/config"
	"gatekeeper-tg-bot/internal/schedule"
	"gatekeeper-tg-bot/internal/settings"
	"gatekeeper-tg-bot/internal/telegram"
	"gatekeeper-tg-bot/internal/verification"
)

func main() {
	// .env is optional; real env vars win either way
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	var logLevel slog.Level
	switch cfg.Logging.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if cfg.Logging.JSONFormat {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Create root context with cancellation
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// WaitGroup for tracking active goroutines
	var wg sync.WaitGroup

	// Initialize stores
	recordStore, err := verification.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		logger.Error("failed to open record store", "error", err)
		os.Exit(1)
	}
	defer recordStore.Close()

	listStore, err := admin.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		logger.Error("failed to open admin store", "error", err)
		os.Exit(1)
	}
	defer listStore.Close()

	settingsStore, err := settings.NewSQLiteStore(cfg.Storage.DBPath, settings.Values{
		MaxAttempts:     cfg.Verification.MaxAttempts,
		VerifySeconds:   cfg.Verification.VerifyTimeout,
		LanguageSeconds: cfg.Verification.LanguageTimeout,
		FailureAction:   settings.FailureAction(cfg.Verification.FailureAction),
	})
	if err != nil {
		logger.Error("failed to open settings store", "error", err)
		os.Exit(1)
	}
	defer settingsStore.Close()

	// Initialize Telegram bot
	bot, err := telegram.NewBot(cfg.Telegram, logger)
	if err != nil {
		logger.Error("failed to create telegram bot", "error", err)
		os.Exit(1)
	}

	// Initialize verification engine and its deadline scheduler
	var engine *verification.Engine
	scheduler := schedule.New(func(ctx context.Context, key schedule.Key) {
		engine.HandleTimeout(ctx, key)
	}, logger)

	engine = verification.New(recordStore, listStore, settingsStore, bot.Gateway(), scheduler, logger)

	admins := telegram.NewAdminSet(cfg.Telegram.AdminIDs, logger)
	bot.SetHandler(telegram.NewHandler(bot.API(), engine, settingsStore, listStore, admins, logger))

	// Pick up deadlines that were pending before the restart
	if err := engine.RestoreTimers(rootCtx); err != nil {
		logger.Error("failed to restore timers", "error", err)
		os.Exit(1)
	}

	// Start scheduler loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Run(rootCtx); err != nil && err != context.Canceled {
			logger.Error("scheduler error", "error", err)
		}
	}()

	// Janitor: evict terminal records past the retention window
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-cfg.Storage.Retention)
				n, err := recordStore.PurgeTerminalBefore(cutoff)
				if err != nil {
					logger.Error("retention purge failed", "error", err)
				} else if n > 0 {
					logger.Info("purged terminal records", "count", n)
				}
			}
		}
	}()

	// Start bot in goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bot.Run(rootCtx); err != nil && err != context.Canceled {
			logger.Error("bot error", "error", err)
		}
	}()

	logger.Info("bot started",
		"admin_ids", cfg.Telegram.AdminIDs,
		"db_path", cfg.Storage.DBPath,
		"failure_action", cfg.Verification.FailureAction,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig)

	// Cancel root context to signal all goroutines
	rootCancel()

	// Wait for graceful shutdown with timeout
	shutdownTimeout := 30 * time.Second
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("graceful shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}
}
