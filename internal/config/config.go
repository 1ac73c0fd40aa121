package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the configuration for the application.
type Config struct {
	GeminiAPIKey string
	GeminiModel  string

	// Storage. DatabaseURL selects the Postgres store; when empty the sqlite
	// store at DatabasePath is used.
	DatabaseURL  string
	DatabasePath string

	InviteSigningKey string

	// Telegram Config
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramAllowedUserIDs []int64
	AdminTelegramID        int64
}

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	geminiAPIKey := os.Getenv("GEMINI_API_KEY")
	if geminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	geminiModel := os.Getenv("GEMINI_MODEL")
	if geminiModel == "" {
		geminiModel = "gemini-2.5-flash"
	}

	inviteSigningKey := os.Getenv("INVITE_SIGNING_KEY")
	if inviteSigningKey == "" {
		return nil, fmt.Errorf("INVITE_SIGNING_KEY environment variable not set")
	}

	databasePath := os.Getenv("DATABASE_PATH")
	if databasePath == "" {
		databasePath = "data/shoplist.db"
	}

	// Telegram Config (optional for the CLI, required for the bot)
	var allowedIDs []int64
	if raw := os.Getenv("TELEGRAM_ALLOWED_USER_IDS"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid TELEGRAM_ALLOWED_USER_IDS entry %q: %w", part, err)
			}
			allowedIDs = append(allowedIDs, id)
		}
	}

	var adminID int64
	if raw := os.Getenv("ADMIN_TELEGRAM_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
		adminID = id
	}

	return &Config{
		GeminiAPIKey:           geminiAPIKey,
		GeminiModel:            geminiModel,
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		DatabasePath:           databasePath,
		InviteSigningKey:       inviteSigningKey,
		TelegramBotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL:     os.Getenv("TELEGRAM_WEBHOOK_URL"),
		TelegramAllowedUserIDs: allowedIDs,
		AdminTelegramID:        adminID,
	}, nil
}
