package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration for Chaperone.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Channels  ChannelsConfig            `json:"channels"`
	Admission AdmissionConfig           `json:"admission"`
	Group     GroupConfig               `json:"group"`
	Features  map[string]bool           `json:"features"`
	Memory    MemoryConfig              `json:"memory"`
	Tools     ToolsConfig               `json:"tools"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	Workspace             string `json:"workspace"`
	LogLevel              string `json:"logLevel"`
	LogFile               string `json:"logFile,omitempty"`
	BotName               string `json:"botName"`
	DefaultProvider       string `json:"defaultProvider"`
	MaxToolIterations     int    `json:"maxToolIterations"`
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
	SystemPromptExtra     string `json:"systemPromptExtra,omitempty"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Slack    SlackConfig    `json:"slack,omitempty"`
	CLI      CLIConfig      `json:"cli"`
}

type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled"`
	AppSecret     string `json:"appSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	BotJID        string `json:"botJid,omitempty"` // bot's own identifier for self-message detection
	WebhookPath   string `json:"webhookPath,omitempty"`
	ListenAddr    string `json:"listenAddr,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	ParseMode string         `json:"parseMode"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

// AdmissionConfig holds the pre-filter thresholds: whitelist and per-sender
// rate limiting. The whitelist check runs before the rate-limit counter so
// denied senders never consume quota.
type AdmissionConfig struct {
	Whitelist         FlexStringList `json:"whitelist"` // allowed sender or chat IDs; empty = allow all
	RateLimitWindowMs int            `json:"rateLimitWindowMs"`
	RateLimitMax      int            `json:"rateLimitMax"`
}

// GroupConfig holds moderation and etiquette thresholds for group chats.
// Chats may override individual values per chat ID.
type GroupConfig struct {
	ResponseRate     int                        `json:"responseRate"` // 0-100 percent
	MinMessageLength int                        `json:"minMessageLength"`
	SpamDetection    bool                       `json:"spamDetection"`
	SpamWindowMs     int                        `json:"spamWindowMs"`
	SpamMax          int                        `json:"spamMax"`     // messages per window before a violation
	SpamStrikes      int                        `json:"spamStrikes"` // violations before removal verdict
	DeleteOnWarn     bool                       `json:"deleteOnWarn"`
	BlockLinks       bool                       `json:"blockLinks"`
	BlockForwards    bool                       `json:"blockForwards"`
	LexiconPath      string                     `json:"lexiconPath,omitempty"`
	Chats            map[string]GroupChatConfig `json:"chats,omitempty"`
}

// GroupChatConfig overrides GroupConfig values for one chat. Nil fields fall
// back to the group defaults.
type GroupChatConfig struct {
	ResponseRate  *int  `json:"responseRate,omitempty"`
	SpamDetection *bool `json:"spamDetection,omitempty"`
	BlockLinks    *bool `json:"blockLinks,omitempty"`
	BlockForwards *bool `json:"blockForwards,omitempty"`
}

// ForChat resolves the effective group settings for a chat ID.
func (g GroupConfig) ForChat(chatID string) GroupConfig {
	o, ok := g.Chats[chatID]
	if !ok {
		return g
	}
	out := g
	if o.ResponseRate != nil {
		out.ResponseRate = *o.ResponseRate
	}
	if o.SpamDetection != nil {
		out.SpamDetection = *o.SpamDetection
	}
	if o.BlockLinks != nil {
		out.BlockLinks = *o.BlockLinks
	}
	if o.BlockForwards != nil {
		out.BlockForwards = *o.BlockForwards
	}
	return out
}

type MemoryConfig struct {
	Enabled           bool   `json:"enabled"`
	DBPath            string `json:"dbPath"`
	MaxHistoryPerChat int    `json:"maxHistoryPerChat"`
}

type ToolsConfig struct {
	Web     WebToolConfig     `json:"web"`
	Browser BrowserToolConfig `json:"browser"`
	Sandbox SandboxToolConfig `json:"sandbox"`
}

type WebToolConfig struct {
	SearchProvider string `json:"searchProvider"`
	SearchAPIKey   string `json:"searchApiKey,omitempty"`
}

type BrowserToolConfig struct {
	Enabled        bool `json:"enabled"`
	TimeoutSeconds int  `json:"timeoutSeconds"`
}

// SandboxToolConfig controls whether code execution runs inside a Docker
// container instead of a bare subprocess.
type SandboxToolConfig struct {
	Enabled        bool   `json:"enabled"`
	Image          string `json:"image"`
	MaxMemory      string `json:"maxMemory"`
	MaxCPU         string `json:"maxCpu"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// IsEnabled implements the feature-flag lookup. Unknown flags are disabled.
func (c *Config) IsEnabled(name string) bool {
	return c.Features[name]
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.chaperone).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chaperone"
	}
	return filepath.Join(home, ".chaperone")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	// Pick up a local .env first so ${VAR} expansion sees it.
	_ = godotenv.Load()

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.Workspace = expandPath(cfg.General.Workspace)
	cfg.General.LogFile = expandPath(cfg.General.LogFile)
	cfg.Memory.DBPath = expandPath(cfg.Memory.DBPath)
	cfg.Group.LexiconPath = expandPath(cfg.Group.LexiconPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxToolIterations < 1 || cfg.General.MaxToolIterations > 50 {
		errs = append(errs, "general.maxToolIterations must be between 1 and 50")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}

	if cfg.Admission.RateLimitWindowMs < 1 {
		errs = append(errs, "admission.rateLimitWindowMs must be >= 1")
	}
	if cfg.Admission.RateLimitMax < 1 {
		errs = append(errs, "admission.rateLimitMax must be >= 1")
	}

	if cfg.Group.ResponseRate < 0 || cfg.Group.ResponseRate > 100 {
		errs = append(errs, "group.responseRate must be between 0 and 100")
	}
	if cfg.Group.MinMessageLength < 0 {
		errs = append(errs, "group.minMessageLength must be >= 0")
	}
	if cfg.Group.SpamStrikes < 1 {
		errs = append(errs, "group.spamStrikes must be >= 1")
	}
	for chatID, o := range cfg.Group.Chats {
		if o.ResponseRate != nil && (*o.ResponseRate < 0 || *o.ResponseRate > 100) {
			errs = append(errs, fmt.Sprintf("group.chats.%s.responseRate must be between 0 and 100", chatID))
		}
	}

	if cfg.Memory.MaxHistoryPerChat < 1 {
		errs = append(errs, "memory.maxHistoryPerChat must be >= 1")
	}

	for name, pc := range cfg.Providers {
		if pc.Enabled && pc.APIBase == "" && name != "ollama" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
