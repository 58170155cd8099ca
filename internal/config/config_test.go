package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := &Config{
		DatabasePath: DefaultDatabasePath,
		HTTPAddr:     DefaultHTTPAddr,
		PollInterval: DefaultPollInterval,
		LogLevel:     "info",
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/tmp/feeds.db")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("POLL_INTERVAL", "60")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token123")
	t.Setenv("ALLOWED_USERS", "100, 200,300")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := &Config{
		DatabasePath:     "/tmp/feeds.db",
		HTTPAddr:         ":9090",
		PollInterval:     60 * time.Second,
		TelegramBotToken: "token123",
		AllowedUsers:     []int64{100, 200, 300},
		LogLevel:         "debug",
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadPollInterval(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "valid", value: "300", want: 300 * time.Second},
		{name: "zero falls back", value: "0", want: DefaultPollInterval},
		{name: "negative falls back", value: "-5", want: DefaultPollInterval},
		{name: "garbage falls back", value: "soon", want: DefaultPollInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("POLL_INTERVAL", tt.value)
			cfg, err := Load()
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if cfg.PollInterval != tt.want {
				t.Errorf("expected %v, got %v", tt.want, cfg.PollInterval)
			}
		})
	}
}

func TestLoadAllowedUsersInvalid(t *testing.T) {
	t.Setenv("ALLOWED_USERS", "100,abc")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric user ID")
	}
}

func TestIsUserAllowed(t *testing.T) {
	open := &Config{}
	if !open.IsUserAllowed(42) {
		t.Error("empty allow list should permit everyone")
	}

	restricted := &Config{AllowedUsers: []int64{100, 200}}
	if !restricted.IsUserAllowed(100) {
		t.Error("listed user should be allowed")
	}
	if restricted.IsUserAllowed(42) {
		t.Error("unlisted user should be rejected")
	}
}
