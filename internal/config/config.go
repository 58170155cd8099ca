// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultDatabasePath = "./data/agent.db"
	DefaultHTTPAddr     = ":8080"
	DefaultPollInterval = 900 * time.Second
)

// Config holds the application configuration. It is read once at
// process start and treated as static afterwards.
type Config struct {
	DatabasePath     string
	HTTPAddr         string
	PollInterval     time.Duration
	TelegramBotToken string
	AllowedUsers     []int64
	LogLevel         string
}

// Load reads configuration from environment variables. A missing,
// unparsable or non-positive POLL_INTERVAL falls back to the default.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:     envOrDefault("DATABASE_PATH", DefaultDatabasePath),
		HTTPAddr:         envOrDefault("HTTP_ADDR", DefaultHTTPAddr),
		PollInterval:     DefaultPollInterval,
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
	}

	if raw := os.Getenv("POLL_INTERVAL"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			cfg.PollInterval = time.Duration(secs) * time.Second
		}
	}

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			cfg.AllowedUsers = append(cfg.AllowedUsers, uid)
		}
	}

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
