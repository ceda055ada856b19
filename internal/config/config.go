package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Verification VerificationConfig `mapstructure:"verification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	AdminIDs       []int64       `mapstructure:"admin_ids"`
	PollingTimeout int           `mapstructure:"polling_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type StorageConfig struct {
	DBPath    string        `mapstructure:"db_path"`
	Retention time.Duration `mapstructure:"retention"`
}

type VerificationConfig struct {
	MaxAttempts     int    `mapstructure:"max_attempts"`
	VerifyTimeout   int    `mapstructure:"verify_timeout_seconds"`
	LanguageTimeout int    `mapstructure:"language_timeout_seconds"`
	FailureAction   string `mapstructure:"failure_action"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	JSONFormat bool   `mapstructure:"json_format"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("telegram.polling_timeout", 60)
	v.SetDefault("telegram.request_timeout", "30s")
	v.SetDefault("storage.db_path", "data/gatekeeper.db")
	v.SetDefault("storage.retention", "720h")
	v.SetDefault("verification.max_attempts", 3)
	v.SetDefault("verification.verify_timeout_seconds", 120)
	v.SetDefault("verification.language_timeout_seconds", 120)
	v.SetDefault("verification.failure_action", "reject")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json_format", false)

	// Config file locations
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/gatekeeper-bot")

	// Environment variables
	v.SetEnvPrefix("GATEKEEPER_BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found is OK, use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if len(c.Telegram.AdminIDs) == 0 {
		return fmt.Errorf("telegram.admin_ids must contain at least one user ID")
	}
	if c.Verification.MaxAttempts < 1 {
		return fmt.Errorf("verification.max_attempts must be at least 1")
	}
	if c.Verification.VerifyTimeout < 1 || c.Verification.LanguageTimeout < 1 {
		return fmt.Errorf("verification timeouts must be positive")
	}
	if a := c.Verification.FailureAction; a != "reject" && a != "pending" {
		return fmt.Errorf("verification.failure_action must be reject or pending")
	}
	if c.Storage.Retention < time.Hour {
		return fmt.Errorf("storage.retention must be at least 1h")
	}
	return nil
}
