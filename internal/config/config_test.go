package config

import (
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_ToolIterations(t *testing.T) {
	cfg := Defaults()
	cfg.General.MaxToolIterations = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxToolIterations=0")
	}

	cfg.General.MaxToolIterations = 999
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxToolIterations=999")
	}

	cfg.General.MaxToolIterations = 5
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxToolIterations=5 should be valid: %v", err)
	}
}

func TestValidate_ResponseRate(t *testing.T) {
	cfg := Defaults()
	cfg.Group.ResponseRate = 101
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for responseRate=101")
	}

	cfg.Group.ResponseRate = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("responseRate=0 should be valid (disables responding): %v", err)
	}

	cfg.Group.ResponseRate = 100
	if err := Validate(cfg); err != nil {
		t.Fatalf("responseRate=100 should be valid: %v", err)
	}
}

func TestValidate_ChatOverrideResponseRate(t *testing.T) {
	cfg := Defaults()
	bad := 150
	cfg.Group.Chats = map[string]GroupChatConfig{
		"123@g.us": {ResponseRate: &bad},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for chat override responseRate=150")
	}
}

func TestValidate_RateLimit(t *testing.T) {
	cfg := Defaults()
	cfg.Admission.RateLimitMax = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for rateLimitMax=0")
	}
}

// --- ForChat ---

func TestForChat_NoOverride(t *testing.T) {
	g := Defaults().Group
	got := g.ForChat("unknown@g.us")
	if got.ResponseRate != g.ResponseRate {
		t.Fatalf("expected default responseRate %d, got %d", g.ResponseRate, got.ResponseRate)
	}
}

func TestForChat_Override(t *testing.T) {
	g := Defaults().Group
	rate := 100
	links := true
	g.Chats = map[string]GroupChatConfig{
		"42@g.us": {ResponseRate: &rate, BlockLinks: &links},
	}

	got := g.ForChat("42@g.us")
	if got.ResponseRate != 100 {
		t.Fatalf("expected overridden responseRate 100, got %d", got.ResponseRate)
	}
	if !got.BlockLinks {
		t.Fatal("expected overridden blockLinks=true")
	}
	if got.SpamDetection != g.SpamDetection {
		t.Fatal("non-overridden field should keep the default")
	}
}

// --- Load / Save roundtrip ---

func TestLoadSave_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Defaults()
	cfg.Group.ResponseRate = 42
	cfg.Features[FlagPolls] = false
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Group.ResponseRate != 42 {
		t.Fatalf("expected responseRate 42, got %d", loaded.Group.ResponseRate)
	}
	if loaded.IsEnabled(FlagPolls) {
		t.Fatal("polls flag should be disabled after roundtrip")
	}
	if !loaded.IsEnabled(FlagReminders) {
		t.Fatal("reminders flag should stay enabled")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	os.Setenv("CHAPERONE_TEST_TOKEN", "tok-123")
	defer os.Unsetenv("CHAPERONE_TEST_TOKEN")

	raw := `{"channels": {"telegram": {"enabled": false, "token": "${CHAPERONE_TEST_TOKEN}"}}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Channels.Telegram.Token != "tok-123" {
		t.Fatalf("expected env-expanded token, got %q", cfg.Channels.Telegram.Token)
	}
}

func TestExpandEnvVars_Default(t *testing.T) {
	got := ExpandEnvVars("${CHAPERONE_MISSING_VAR:-fallback}")
	if got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

// --- accessor ---

func TestGetSetByPath(t *testing.T) {
	cfg := Defaults()

	if err := SetByPath(cfg, "group.responseRate", "77"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Group.ResponseRate != 77 {
		t.Fatalf("expected 77, got %d", cfg.Group.ResponseRate)
	}

	val, err := GetByPath(cfg, "group.responseRate")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if n, ok := val.(float64); !ok || n != 77 {
		t.Fatalf("expected 77, got %v", val)
	}
}

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "1234567890:AAElongbottoken"
	cfg.Providers["openai"] = ProviderConfig{Enabled: true, APIBase: "https://api.openai.com/v1", APIKey: "sk-verysecretkey"}

	out := Sanitize(cfg)
	if out.Channels.Telegram.Token == cfg.Channels.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if out.Providers["openai"].APIKey == "sk-verysecretkey" {
		t.Fatal("provider API key should be masked")
	}
	// Original untouched.
	if cfg.Channels.Telegram.Token != "1234567890:AAElongbottoken" {
		t.Fatal("sanitize must not mutate the original")
	}
}
