package config

// Feature flag names understood by the waterfall and the tool catalog.
const (
	FlagAgentic         = "agentic"
	FlagMediaGeneration = "mediaGeneration"
	FlagURLSummary      = "urlSummary"
	FlagWebSearch       = "webSearch"
	FlagPolls           = "polls"
	FlagReminders       = "reminders"
	FlagMemorySearch    = "memorySearch"
	FlagChatSummary     = "chatSummary"
	FlagCodeExecution   = "codeExecution"
	FlagCalendar        = "calendar"
	FlagGroupAdmin      = "groupAdmin"
	FlagKnowledge       = "knowledge"
	FlagStickers        = "stickers"
	FlagVoiceReplies    = "voiceReplies"
	FlagWelcome         = "welcome"
	FlagModeration      = "moderation"
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:             "~/.chaperone/workspace",
			LogLevel:              "info",
			BotName:               "chaperone",
			DefaultProvider:       "ollama",
			MaxToolIterations:     5,
			MaxConcurrentMessages: 5,
		},
		Providers: map[string]ProviderConfig{
			"ollama": {
				Enabled:      true,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				Enabled:     false,
				WebhookPath: "/webhook/whatsapp",
				ListenAddr:  "127.0.0.1:8090",
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
			CLI: CLIConfig{Enabled: true},
		},
		Admission: AdmissionConfig{
			RateLimitWindowMs: 10_000,
			RateLimitMax:      5,
		},
		Group: GroupConfig{
			ResponseRate:     15,
			MinMessageLength: 5,
			SpamDetection:    true,
			SpamWindowMs:     60_000,
			SpamMax:          8,
			SpamStrikes:      3,
			DeleteOnWarn:     false,
			BlockLinks:       false,
			BlockForwards:    false,
		},
		Features: map[string]bool{
			FlagAgentic:         true,
			FlagMediaGeneration: false,
			FlagURLSummary:      true,
			FlagWebSearch:       true,
			FlagPolls:           true,
			FlagReminders:       true,
			FlagMemorySearch:    true,
			FlagChatSummary:     true,
			FlagCodeExecution:   false,
			FlagCalendar:        false,
			FlagGroupAdmin:      true,
			FlagKnowledge:       false,
			FlagStickers:        false,
			FlagVoiceReplies:    true,
			FlagWelcome:         true,
			FlagModeration:      true,
		},
		Memory: MemoryConfig{
			Enabled:           true,
			DBPath:            "~/.chaperone/history.db",
			MaxHistoryPerChat: 50,
		},
		Tools: ToolsConfig{
			Web: WebToolConfig{
				SearchProvider: "duckduckgo",
			},
			Browser: BrowserToolConfig{
				Enabled:        false,
				TimeoutSeconds: 25,
			},
			Sandbox: SandboxToolConfig{
				Enabled:        false,
				Image:          "python:3.12-alpine",
				MaxMemory:      "256m",
				MaxCPU:         "0.5",
				TimeoutSeconds: 30,
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
