package config

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                  "127.0.0.1",
			Port:                  8080,
			LogLevel:              "info",
			RequestTimeoutSeconds: 90,
			MaxConcurrentMessages: 10,
		},
		Model: ModelConfig{
			Active: "ollama",
			Providers: map[string]ProviderConfig{
				"ollama": {
					APIBase: "http://localhost:11434",
					Model:   "llama3.1:8b",
				},
				"openai": {
					APIBase:         "https://api.openai.com/v1",
					Model:           "gpt-4o-mini",
					TranscribeModel: "whisper-1",
				},
				"assistant": {
					APIBase:         "https://api.openai.com/v1",
					TranscribeModel: "whisper-1",
				},
			},
		},
		Platforms: PlatformsConfig{},
		RateLimits: map[string]RateLimitConfig{
			ClassGeneral: {Limit: 60, WindowSeconds: 60},
			ClassWebhook: {Limit: 120, WindowSeconds: 60},
			ClassTest:    {Limit: 10, WindowSeconds: 60},
		},
		Poll: PollConfig{
			DeadlineSeconds:   60,
			InitialIntervalMs: 500,
			MaxIntervalMs:     5000,
			Strategy:          "exponential",
		},
		Store: StoreConfig{
			DBPath:        "~/.chatrelay/conversations.db",
			MaxHistory:    40,
			RetentionDays: 365,
		},
	}
}
