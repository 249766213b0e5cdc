package config

import "time"

// Default returns the baseline configuration before file and environment
// overrides are applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 10000,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "logs",
			File:  "server.log",
		},
		Telegram: TelegramConfig{
			WebhookRetries: 5,
			WebhookBackoff: 2 * time.Second,
		},
		Upstream: UpstreamConfig{
			Model:   "gpt-image-1",
			Policy:  "round_robin",
			Timeout: 120 * time.Second,
		},
		Limits: LimitsConfig{
			MaxConcurrency:   3,
			CooldownSeconds:  300,
			ArmWindowSeconds: 120,
			RetryAttempts:    0,
		},
		Card: CardConfig{
			Width:  1024,
			Height: 1536,
		},
		Stamp: StampConfig{
			Path:  "assets/Foil_stamp.png",
			Scale: 0.13,
		},
		Session: SessionConfig{
			Driver:  "memory",
			TTL:     30 * time.Minute,
			Cleanup: 10 * time.Minute,
		},
		Storage: StorageConfig{
			DSN: "rizo.db",
		},
	}
}
