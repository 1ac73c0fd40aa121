package config

import (
	"os"
	"testing"
)

func TestNewFromEnv(t *testing.T) {
	setEnv := func(key, value string) {
		t.Helper()
		t.Setenv(key, value)
	}

	t.Run("Success", func(t *testing.T) {
		setEnv("GEMINI_API_KEY", "gemini_key")
		setEnv("INVITE_SIGNING_KEY", "invite_key")
		setEnv("TELEGRAM_ALLOWED_USER_IDS", "100, 200")
		setEnv("ADMIN_TELEGRAM_ID", "100")

		cfg, err := NewFromEnv()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cfg.GeminiAPIKey != "gemini_key" {
			t.Errorf("Expected GeminiAPIKey to be 'gemini_key', got '%s'", cfg.GeminiAPIKey)
		}
		if cfg.GeminiModel != "gemini-2.5-flash" {
			t.Errorf("Expected default model 'gemini-2.5-flash', got '%s'", cfg.GeminiModel)
		}
		if cfg.DatabasePath != "data/shoplist.db" {
			t.Errorf("Expected default database path, got '%s'", cfg.DatabasePath)
		}
		if len(cfg.TelegramAllowedUserIDs) != 2 || cfg.TelegramAllowedUserIDs[1] != 200 {
			t.Errorf("Expected allowed ids [100 200], got %v", cfg.TelegramAllowedUserIDs)
		}
		if cfg.AdminTelegramID != 100 {
			t.Errorf("Expected admin id 100, got %d", cfg.AdminTelegramID)
		}
	})

	t.Run("MissingGeminiAPIKey", func(t *testing.T) {
		setEnv("INVITE_SIGNING_KEY", "invite_key")
		os.Unsetenv("GEMINI_API_KEY")

		_, err := NewFromEnv()
		if err == nil {
			t.Fatal("Expected an error for missing GEMINI_API_KEY, got nil")
		}
		expectedError := "GEMINI_API_KEY environment variable not set"
		if err.Error() != expectedError {
			t.Errorf("Expected error '%s', got '%s'", expectedError, err.Error())
		}
	})

	t.Run("MissingInviteSigningKey", func(t *testing.T) {
		setEnv("GEMINI_API_KEY", "gemini_key")
		os.Unsetenv("INVITE_SIGNING_KEY")

		_, err := NewFromEnv()
		if err == nil {
			t.Fatal("Expected an error for missing INVITE_SIGNING_KEY, got nil")
		}
		expectedError := "INVITE_SIGNING_KEY environment variable not set"
		if err.Error() != expectedError {
			t.Errorf("Expected error '%s', got '%s'", expectedError, err.Error())
		}
	})

	t.Run("InvalidAllowedUserIDs", func(t *testing.T) {
		setEnv("GEMINI_API_KEY", "gemini_key")
		setEnv("INVITE_SIGNING_KEY", "invite_key")
		setEnv("TELEGRAM_ALLOWED_USER_IDS", "100,abc")

		_, err := NewFromEnv()
		if err == nil {
			t.Fatal("Expected an error for malformed allowed ids, got nil")
		}
	})
}
