package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"chaperone/internal/agent"
	"chaperone/internal/bus"
	"chaperone/internal/capability"
	"chaperone/internal/channel"
	"chaperone/internal/config"
	"chaperone/internal/dispatch"
	"chaperone/internal/domain"
	"chaperone/internal/engine"
	"chaperone/internal/gate"
	"chaperone/internal/groupgate"
	"chaperone/internal/memory"
	"chaperone/internal/metrics"
	"chaperone/internal/provider"
	"chaperone/internal/sandbox"
	"chaperone/internal/tool"
	"chaperone/internal/waterfall"

	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "chaperone",
		Short: "Chaperone: a chat assistant for groups and direct messages",
		Long:  "Chaperone is a chat assistant that moderates groups, answers questions, and runs tools across WhatsApp, Telegram, Discord, Slack, and the terminal.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.chaperone/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(wizardCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	daemon := &cobra.Command{Use: "daemon", Short: "Manage the background service"}
	daemon.AddCommand(installDaemonCmd())
	daemon.AddCommand(uninstallDaemonCmd())
	root.AddCommand(daemon)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "workspace", cfg.General.Workspace)
			return nil
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		return config.Defaults()
	}
	return cfg
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat in the terminal",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	cfg.Channels.CLI.Enabled = true
	cfg.Channels.WhatsApp.Enabled = false
	cfg.Channels.Telegram.Enabled = false
	cfg.Channels.Discord.Enabled = false
	cfg.Channels.Slack.Enabled = false
	return runWith(cfg)
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start all enabled channels and the message engine",
		Long:  "Starts every enabled channel (WhatsApp, Telegram, Discord, Slack, CLI) and the message pipeline. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runWith(cfg)
		},
	}
}

// runWith wires the whole pipeline from a loaded config and blocks until a
// shutdown signal arrives or the only channel exits.
func runWith(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)
	defer messageBus.Close()

	store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, cfg.Memory.MaxHistoryPerChat, logger)
	if err != nil {
		return fmt.Errorf("memory store: %w", err)
	}
	defer store.Close()

	factory := provider.NewFactory(cfg, logger)
	prov, err := factory.DefaultProvider()
	if err != nil || prov == nil {
		logger.Warn("no default provider, falling back to ollama")
		prov = provider.NewOllama(provider.OllamaConfig{Logger: logger})
	}
	if err := prov.Healthy(ctx); err != nil {
		logger.Warn("default provider unhealthy at startup", "provider", prov.Name(), "err", err)
	} else {
		logger.Info("provider healthy", "provider", prov.Name())
	}

	// Shared capability backends. Image generation, vision, transcription,
	// and speech ride on the OpenAI key when one is configured; the
	// handlers that need a missing backend decline on their own.
	searcher := tool.NewSearchTool()
	browserTimeout := time.Duration(cfg.Tools.Browser.TimeoutSeconds) * time.Second
	fetcher := tool.NewPageFetchTool(browserTimeout)

	var images capability.ImageGenerator
	var vision capability.ImageDescriber
	var transcriber capability.Transcriber
	var speaker capability.Speaker
	if oa, ok := cfg.Providers["openai"]; ok && oa.APIKey != "" {
		client := provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:  oa.APIKey,
			APIBase: oa.APIBase,
			Model:   oa.DefaultModel,
			Logger:  logger,
		})
		images = client
		vision = client
		transcriber = provider.NewWhisper(provider.WhisperConfig{
			APIBase: oa.APIBase,
			APIKey:  oa.APIKey,
			Logger:  logger,
		})
		speaker = provider.NewSpeech(provider.SpeechConfig{
			APIBase: oa.APIBase,
			APIKey:  oa.APIKey,
			Logger:  logger,
		})
	}

	var box *sandbox.Docker
	if cfg.Tools.Sandbox.Enabled {
		box = sandbox.NewDocker(sandbox.DockerConfig{
			Image:     cfg.Tools.Sandbox.Image,
			Timeout:   time.Duration(cfg.Tools.Sandbox.TimeoutSeconds) * time.Second,
			MaxMemory: cfg.Tools.Sandbox.MaxMemory,
			MaxCPU:    cfg.Tools.Sandbox.MaxCPU,
			Logger:    logger,
		})
		if !box.Available(ctx) {
			logger.Warn("sandbox enabled but docker unavailable, code runs unsandboxed")
			box = nil
		}
	}

	// Tool registry for the orchestration loop. The capability-backed tools
	// share storage with the waterfall handlers, so a reminder set through
	// the loop shows up in "list my reminders" and vice versa.
	polls := capability.NewPollStore()
	loopDeps := &capability.Deps{
		Provider: prov,
		Flags:    cfg,
		Store:    store,
		Config:   cfg,
		Logger:   logger,
		Search:   searcher,
		Fetch:    fetcher,
		Sandbox:  box,
	}
	reminders := capability.NewReminders(loopDeps, nil)
	kbDir := filepath.Join(cfg.General.Workspace, "knowledge")

	registry := tool.NewRegistry(logger)
	registry.Register(searcher, config.FlagWebSearch)
	registry.Register(fetcher, config.FlagURLSummary)
	registry.Register(tool.NewMemoryTool(store), config.FlagMemorySearch)
	registry.Register(tool.NewRecallTool(store), config.FlagMemorySearch)
	registry.Register(tool.NewReminderTool(reminders), config.FlagReminders)
	registry.Register(tool.NewReminderListTool(reminders), config.FlagReminders)
	registry.Register(tool.NewPollTool(capability.NewPollCreate(loopDeps, polls)), config.FlagPolls)
	registry.Register(tool.NewShellTool(tool.ShellConfig{WorkingDir: cfg.General.Workspace, Sandbox: box}), config.FlagCodeExecution)
	registry.Register(tool.NewReadNoteTool(kbDir), config.FlagKnowledge)
	registry.Register(tool.NewSaveNoteTool(kbDir), config.FlagKnowledge)
	registry.Register(tool.NewListNotesTool(kbDir), config.FlagKnowledge)

	loop := agent.NewLoop(agent.LoopConfig{
		Provider:      prov,
		Registry:      registry,
		Prompt:        agent.NewPromptBuilder(agent.PromptConfig{BotName: cfg.General.BotName, Extra: cfg.General.SystemPromptExtra}),
		Store:         store,
		Flags:         cfg,
		Logger:        logger,
		MaxIterations: cfg.General.MaxToolIterations,
		Compactor:     agent.NewCompactor(agent.CompactorConfig{Provider: prov, Logger: logger}),
		Limiter:       agent.NewRateLimiter(0, 0),
	})
	loop.OnIteration(func() { metrics.LLMRequestsTotal.Inc() })
	loop.OnToolCall(func() { metrics.ToolExecutions.Inc() })
	loop.OnRunDone(func(iterations int) { metrics.LoopIterations.Observe(float64(iterations)) })

	// One pipeline per enabled channel, each bound to its own transport.
	newPipeline := func(tr domain.Transport, dl capability.MediaDownloader) *engine.Pipeline {
		deps := &capability.Deps{
			Provider:   prov,
			Flags:      cfg,
			Store:      store,
			Transport:  tr,
			Config:     cfg,
			Logger:     logger,
			Agent:      loop,
			Search:     searcher,
			Fetch:      fetcher,
			Images:     images,
			Vision:     vision,
			Transcribe: transcriber,
			Speech:     speaker,
			Download:   dl,
			Sandbox:    box,
		}
		return &engine.Pipeline{
			Transport:  tr,
			Chain:      waterfall.New(logger, capability.TextHandlers(deps, polls, nil)...),
			NonText:    capability.NewNonText(deps, capability.NewSticker(deps), capability.NewFallback(deps)),
			Dispatcher: dispatch.New(dispatch.Config{Transport: tr, Logger: logger}),
		}
	}

	type startable interface {
		Name() string
		SelfID() string
		Start(ctx context.Context, bus domain.MessageBus) error
	}

	pipelines := make(map[string]*engine.Pipeline)
	transports := make(map[string]domain.Transport)
	var channels []startable

	if cfg.Channels.WhatsApp.Enabled {
		wa := channel.NewWhatsApp(channel.WhatsAppChannelConfig{Config: cfg.Channels.WhatsApp, Logger: logger})
		pipelines["whatsapp"] = newPipeline(wa, wa)
		transports["whatsapp"] = wa
		channels = append(channels, wa)
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg := channel.NewTelegram(channel.TelegramChannelConfig{Config: cfg.Channels.Telegram, Logger: logger})
		pipelines["telegram"] = newPipeline(tg, tg)
		transports["telegram"] = tg
		channels = append(channels, tg)
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		dc := channel.NewDiscord(channel.DiscordChannelConfig{Config: cfg.Channels.Discord, Logger: logger})
		pipelines["discord"] = newPipeline(dc, dc)
		transports["discord"] = dc
		channels = append(channels, dc)
	}
	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken != "" {
		sl := channel.NewSlack(channel.SlackChannelConfig{Config: cfg.Channels.Slack, Logger: logger})
		pipelines["slack"] = newPipeline(sl, sl)
		transports["slack"] = sl
		channels = append(channels, sl)
	}
	if cfg.Channels.CLI.Enabled {
		cli := channel.NewCLI(channel.CLIChannelConfig{Logger: logger})
		pipelines["cli"] = newPipeline(cli, nil)
		transports["cli"] = cli
		channels = append(channels, cli)
	}
	if len(channels) == 0 {
		return fmt.Errorf("no channels enabled")
	}

	selfIDs := make(map[string]func() string, len(channels))
	for _, ch := range channels {
		selfIDs[ch.Name()] = ch.SelfID
	}
	selfID := func(ch string) string {
		if fn, ok := selfIDs[ch]; ok {
			return fn()
		}
		return ""
	}

	var limiter *gate.Window
	if cfg.Admission.RateLimitMax > 0 {
		limiter = gate.NewWindow(time.Duration(cfg.Admission.RateLimitWindowMs)*time.Millisecond, cfg.Admission.RateLimitMax, nil)
	}
	admission := gate.New(gate.GateConfig{
		SelfID:    selfID,
		Whitelist: cfg.Admission.Whitelist,
		Limiter:   limiter,
		Logger:    logger,
	})

	var spam *gate.Window
	if cfg.Group.SpamDetection {
		spam = gate.NewWindow(time.Duration(cfg.Group.SpamWindowMs)*time.Millisecond, cfg.Group.SpamMax, nil)
	}

	lexicon := groupgate.DefaultLexicon()
	if cfg.Group.LexiconPath != "" {
		lexicon, err = groupgate.LoadLexicon(cfg.Group.LexiconPath)
		if err != nil {
			return fmt.Errorf("lexicon %s: %w", cfg.Group.LexiconPath, err)
		}
	}

	eng := engine.New(engine.Config{
		Cfg:       cfg,
		Gate:      admission,
		Etiquette: groupgate.NewEtiquette(groupgate.EtiquetteConfig{Logger: logger, Lexicon: lexicon}),
		Moderator: groupgate.NewModerator(groupgate.ModeratorConfig{
			Spam:       spam,
			Store:      store,
			Logger:     logger,
			MaxStrikes: cfg.Group.SpamStrikes,
			Lexicon:    lexicon,
		}),
		Bus:       messageBus,
		Flags:     cfg,
		Logger:    logger,
		Pipelines: pipelines,
		BotID:     selfID,
	})

	// The WhatsApp webhook delivers batches straight into the engine rather
	// than through the bus, so a whole delivery is acknowledged only after
	// every message in it has been handled.
	if wa, ok := transports["whatsapp"].(*channel.WhatsApp); ok {
		wa.OnBatch = eng.HandleBatch
	}

	go eng.Run(ctx)

	scheduler := capability.NewScheduler(store, transports, logger)
	go scheduler.Run(ctx)

	if cfg.Metrics.Enabled {
		endpoint := cfg.Metrics.Endpoint
		if endpoint == "" {
			endpoint = ":9090"
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Collector.Handler())
		srv := &http.Server{Addr: endpoint, Handler: mux}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "err", err)
			}
		}()
		logger.Info("metrics endpoint enabled", "addr", endpoint)
	}

	// A single interactive channel (chat mode) should end the process when
	// it exits; background channels run until a signal.
	single := len(channels) == 1
	errCh := make(chan error, len(channels))
	for _, ch := range channels {
		ch := ch
		go func() {
			err := ch.Start(ctx, messageBus)
			if err != nil {
				logger.Error("channel error", "channel", ch.Name(), "err", err)
			}
			errCh <- err
		}()
		logger.Info("channel enabled", "channel", ch.Name())
	}

	logger.Info("chaperone started", "version", version)

	if single {
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
	} else {
		<-ctx.Done()
	}
	logger.Info("shutting down")
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}
			ctx := context.Background()
			factory := provider.NewFactory(cfg, logger)
			prov := factory.HealthyProvider(ctx)
			if prov != nil {
				logger.Info("provider", "name", prov.Name(), "healthy", true)
			} else {
				logger.Info("provider", "healthy", false)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. general.defaultProvider)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. general.defaultProvider ollama)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
