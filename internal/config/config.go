package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for the gateway. Loaded once at startup;
// hot reload is not supported.
type Config struct {
	Server     ServerConfig               `json:"server"`
	Model      ModelConfig                `json:"model"`
	Platforms  PlatformsConfig            `json:"platforms"`
	RateLimits map[string]RateLimitConfig `json:"rateLimits"`
	Poll       PollConfig                 `json:"poll"`
	Store      StoreConfig                `json:"store"`
}

type ServerConfig struct {
	Host                  string `json:"host"`
	Port                  int    `json:"port"`
	LogLevel              string `json:"logLevel"`
	RequestTimeoutSeconds int    `json:"requestTimeoutSeconds"` // per-message coordinator deadline
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
}

// ModelConfig selects the single active provider and holds per-provider
// credentials.
type ModelConfig struct {
	Active    string                    `json:"active"`
	Providers map[string]ProviderConfig `json:"providers"`
}

type ProviderConfig struct {
	APIKey          string `json:"apiKey,omitempty"`
	APIBase         string `json:"apiBase,omitempty"`
	Model           string `json:"model,omitempty"`
	TranscribeModel string `json:"transcribeModel,omitempty"`
	AssistantID     string `json:"assistantId,omitempty"` // assistant provider only
	SystemPrompt    string `json:"systemPrompt,omitempty"`
}

type PlatformsConfig struct {
	Line      LineConfig      `json:"line"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	Messenger MessengerConfig `json:"messenger"`
	Telegram  TelegramConfig  `json:"telegram"`
	Slack     SlackConfig     `json:"slack"`
}

type LineConfig struct {
	Enabled       bool   `json:"enabled"`
	ChannelSecret string `json:"channelSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
}

type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled"`
	AppSecret     string `json:"appSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
}

type MessengerConfig struct {
	Enabled     bool   `json:"enabled"`
	AppSecret   string `json:"appSecret,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	VerifyToken string `json:"verifyToken,omitempty"`
}

type TelegramConfig struct {
	Enabled     bool     `json:"enabled"`
	Token       string   `json:"token,omitempty"`
	SecretToken string   `json:"secretToken,omitempty"` // webhook secret header
	AllowFrom   []string `json:"allowFrom,omitempty"`   // sender IDs; empty = allow all
}

type SlackConfig struct {
	Enabled       bool   `json:"enabled"`
	SigningSecret string `json:"signingSecret,omitempty"`
	BotToken      string `json:"botToken,omitempty"`
}

type RateLimitConfig struct {
	Limit         int `json:"limit"`
	WindowSeconds int `json:"windowSeconds"`
}

type PollConfig struct {
	DeadlineSeconds   int    `json:"deadlineSeconds"`
	InitialIntervalMs int    `json:"initialIntervalMs"`
	MaxIntervalMs     int    `json:"maxIntervalMs"`
	Strategy          string `json:"strategy"` // "exponential" | "fixed"
}

type StoreConfig struct {
	DBPath        string `json:"dbPath"`
	MaxHistory    int    `json:"maxHistory"` // recent-turn window handed to providers
	RetentionDays int    `json:"retentionDays"`
}

// Rate limit class names used by the HTTP layer.
const (
	ClassGeneral = "general"
	ClassWebhook = "webhook"
	ClassTest    = "test"
)

// DefaultConfigDir returns the default config directory (~/.chatrelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatrelay"
	}
	return filepath.Join(home, ".chatrelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)

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
			return match // Keep original if no env var and no default
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

// Validate checks that the config has valid values. Violations here are
// fatal at startup; nothing else in the gateway treats config as an error
// source after this point.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.RequestTimeoutSeconds < 1 {
		errs = append(errs, "server.requestTimeoutSeconds must be >= 1")
	}
	if cfg.Server.MaxConcurrentMessages < 1 || cfg.Server.MaxConcurrentMessages > 1000 {
		errs = append(errs, "server.maxConcurrentMessages must be between 1 and 1000")
	}
	switch cfg.Server.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "server.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Model.Active == "" {
		errs = append(errs, "model.active is required")
	} else if _, ok := cfg.Model.Providers[cfg.Model.Active]; !ok {
		errs = append(errs, fmt.Sprintf("model.active references unknown provider: %s", cfg.Model.Active))
	}

	for name, rl := range cfg.RateLimits {
		if rl.Limit < 1 {
			errs = append(errs, fmt.Sprintf("rateLimits.%s.limit must be >= 1", name))
		}
		if rl.WindowSeconds < 1 {
			errs = append(errs, fmt.Sprintf("rateLimits.%s.windowSeconds must be >= 1", name))
		}
	}

	if cfg.Poll.DeadlineSeconds < 1 {
		errs = append(errs, "poll.deadlineSeconds must be >= 1")
	}
	if cfg.Poll.InitialIntervalMs < 1 {
		errs = append(errs, "poll.initialIntervalMs must be >= 1")
	}
	if cfg.Poll.MaxIntervalMs < cfg.Poll.InitialIntervalMs {
		errs = append(errs, "poll.maxIntervalMs must be >= poll.initialIntervalMs")
	}
	switch cfg.Poll.Strategy {
	case "exponential", "fixed":
		// valid
	default:
		errs = append(errs, "poll.strategy must be one of: exponential, fixed")
	}

	if cfg.Store.MaxHistory < 1 {
		errs = append(errs, "store.maxHistory must be >= 1")
	}
	if cfg.Store.RetentionDays < 1 {
		errs = append(errs, "store.retentionDays must be >= 1")
	}

	// Enabled platforms need their credentials present up front; a missing
	// secret must fail at startup, not on the first webhook.
	p := cfg.Platforms
	if p.Line.Enabled && (p.Line.ChannelSecret == "" || p.Line.AccessToken == "") {
		errs = append(errs, "platforms.line: channelSecret and accessToken are required when enabled")
	}
	if p.WhatsApp.Enabled && (p.WhatsApp.AppSecret == "" || p.WhatsApp.AccessToken == "" || p.WhatsApp.PhoneNumberID == "") {
		errs = append(errs, "platforms.whatsapp: appSecret, accessToken and phoneNumberId are required when enabled")
	}
	if p.Messenger.Enabled && (p.Messenger.AppSecret == "" || p.Messenger.AccessToken == "") {
		errs = append(errs, "platforms.messenger: appSecret and accessToken are required when enabled")
	}
	if p.Telegram.Enabled && p.Telegram.Token == "" {
		errs = append(errs, "platforms.telegram: token is required when enabled")
	}
	if p.Slack.Enabled && (p.Slack.SigningSecret == "" || p.Slack.BotToken == "") {
		errs = append(errs, "platforms.slack: signingSecret and botToken are required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
