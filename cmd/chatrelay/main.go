package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/gateway"
	"chatrelay/internal/metrics"
	"chatrelay/internal/model"
	"chatrelay/internal/platform"
	"chatrelay/internal/ratelimit"
	"chatrelay/internal/store"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// .env is optional; config env expansion picks the variables up.
	godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "chatrelay",
		Short:   "chatrelay: chat platform message routing gateway",
		Long:    "chatrelay receives webhooks from chat platforms, routes messages through an AI provider, and delivers the replies.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.chatrelay/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := os.MkdirAll(config.DefaultConfigDir(), 0o755); err != nil {
				return err
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook gateway",
		Long:  "Starts the HTTP server, registers all enabled platform adapters, and routes messages until interrupted.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Server.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLiteStore(config.ExpandPath(cfg.Store.DBPath), logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if cfg.Store.RetentionDays > 0 {
		if pruned, err := st.Prune(ctx, cfg.Store.RetentionDays); err != nil {
			logger.Warn("retention sweep failed", "err", err)
		} else if pruned > 0 {
			logger.Info("retention sweep", "turns_removed", pruned)
		}
	}

	m := metrics.New()

	models := model.NewRegistry(cfg, model.Deps{
		Store:      st,
		Threads:    st,
		Poll:       cfg.Poll,
		MaxHistory: cfg.Store.MaxHistory,
		Logger:     logger,
	})
	active, err := models.Active()
	if err != nil {
		return fmt.Errorf("model provider: %w", err)
	}
	if err := active.CheckConnection(ctx); err != nil {
		logger.Warn("model provider unhealthy at startup", "provider", active.Name(), "err", err)
	} else {
		logger.Info("model provider healthy", "provider", active.Name())
	}

	platforms, err := buildPlatforms(cfg)
	if err != nil {
		return err
	}
	if len(platforms.Names()) == 0 {
		logger.Warn("no platforms enabled; only /test/send will route messages")
	}

	coord := gateway.NewCoordinator(gateway.CoordinatorConfig{
		Model:          active,
		Store:          st,
		Metrics:        m,
		Logger:         logger,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		MaxConcurrent:  cfg.Server.MaxConcurrentMessages,
	})

	limiter := buildLimiter(cfg)
	// Drop limiter keys idle for an hour; webhook requests consume a key per
	// requested platform name before any authentication.
	go limiter.SweepLoop(ctx, 10*time.Minute, time.Hour)

	srv := gateway.NewServer(gateway.ServerConfig{
		Config:    cfg,
		Platforms: platforms,
		Coord:     coord,
		Limiter:   limiter,
		Model:     active,
		Store:     st,
		Metrics:   m,
		Logger:    logger,
	})
	return srv.Start(ctx)
}

// buildPlatforms registers an adapter for every enabled platform.
func buildPlatforms(cfg *config.Config) (*platform.Registry, error) {
	reg := platform.NewRegistry()
	p := cfg.Platforms

	if p.Line.Enabled {
		reg.Register(platform.NewLine(platform.LineConfig{
			ChannelSecret: p.Line.ChannelSecret,
			AccessToken:   p.Line.AccessToken,
			Logger:        logger,
		}))
	}
	if p.WhatsApp.Enabled {
		reg.Register(platform.NewWhatsApp(platform.WhatsAppConfig{
			AppSecret:     p.WhatsApp.AppSecret,
			AccessToken:   p.WhatsApp.AccessToken,
			VerifyToken:   p.WhatsApp.VerifyToken,
			PhoneNumberID: p.WhatsApp.PhoneNumberID,
			Logger:        logger,
		}))
	}
	if p.Messenger.Enabled {
		reg.Register(platform.NewMessenger(platform.MessengerConfig{
			AppSecret:   p.Messenger.AppSecret,
			AccessToken: p.Messenger.AccessToken,
			VerifyToken: p.Messenger.VerifyToken,
			Logger:      logger,
		}))
	}
	if p.Telegram.Enabled {
		tg, err := platform.NewTelegram(platform.TelegramConfig{
			Token:       p.Telegram.Token,
			SecretToken: p.Telegram.SecretToken,
			AllowFrom:   p.Telegram.AllowFrom,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		reg.Register(tg)
	}
	if p.Slack.Enabled {
		sl, err := platform.NewSlack(platform.SlackConfig{
			SigningSecret: p.Slack.SigningSecret,
			BotToken:      p.Slack.BotToken,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("slack: %w", err)
		}
		reg.Register(sl)
	}
	return reg, nil
}

func buildLimiter(cfg *config.Config) *ratelimit.ClassLimiter {
	classes := make(map[string]ratelimit.Class, len(cfg.RateLimits))
	for name, rl := range cfg.RateLimits {
		classes[name] = ratelimit.Class{
			Limit:  rl.Limit,
			Window: time.Duration(rl.WindowSeconds) * time.Second,
		}
	}
	return ratelimit.NewClassLimiter(classes)
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check provider and store health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			sqlite, err := store.NewSQLiteStore(config.ExpandPath(cfg.Store.DBPath), logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer sqlite.Close()
			logger.Info("store", "healthy", sqlite.Ping(ctx) == nil, "path", cfg.Store.DBPath)

			models := model.NewRegistry(cfg, model.Deps{
				Store:   sqlite,
				Threads: sqlite,
				Poll:    cfg.Poll,
				Logger:  logger,
			})
			active, err := models.Active()
			if err != nil {
				return err
			}
			if err := active.CheckConnection(ctx); err != nil {
				logger.Error("model provider", "name", active.Name(), "healthy", false, "err", err)
			} else {
				logger.Info("model provider", "name", active.Name(), "healthy", true)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(maskSecrets(cfg), "", "  ")
			if err != nil {
				return err
			}
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

// maskSecrets returns a copy safe to print.
func maskSecrets(cfg *config.Config) *config.Config {
	out := *cfg

	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}

	out.Platforms.Line.ChannelSecret = mask(out.Platforms.Line.ChannelSecret)
	out.Platforms.Line.AccessToken = mask(out.Platforms.Line.AccessToken)
	out.Platforms.WhatsApp.AppSecret = mask(out.Platforms.WhatsApp.AppSecret)
	out.Platforms.WhatsApp.AccessToken = mask(out.Platforms.WhatsApp.AccessToken)
	out.Platforms.Messenger.AppSecret = mask(out.Platforms.Messenger.AppSecret)
	out.Platforms.Messenger.AccessToken = mask(out.Platforms.Messenger.AccessToken)
	out.Platforms.Telegram.Token = mask(out.Platforms.Telegram.Token)
	out.Platforms.Telegram.SecretToken = mask(out.Platforms.Telegram.SecretToken)
	out.Platforms.Slack.SigningSecret = mask(out.Platforms.Slack.SigningSecret)
	out.Platforms.Slack.BotToken = mask(out.Platforms.Slack.BotToken)

	providers := make(map[string]config.ProviderConfig, len(out.Model.Providers))
	for name, pc := range out.Model.Providers {
		pc.APIKey = mask(pc.APIKey)
		providers[name] = pc
	}
	out.Model.Providers = providers

	return &out
}
