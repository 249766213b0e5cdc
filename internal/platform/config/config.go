package config

import "time"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Limits    LimitsConfig    `yaml:"limits"`
	Card      CardConfig      `yaml:"card"`
	Stamp     StampConfig     `yaml:"stamp"`
	Session   SessionConfig   `yaml:"session"`
	Storage   StorageConfig   `yaml:"storage"`
}

type ServerConfig struct {
	IP          string `yaml:"ip"`
	Port        int    `yaml:"port"`
	ExternalURL string `yaml:"external_url"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	// WebhookRetries bounds the setWebhook attempts made at startup.
	WebhookRetries int           `yaml:"webhook_retries"`
	WebhookBackoff time.Duration `yaml:"webhook_backoff"`
}

type UpstreamConfig struct {
	// APIKeys is the rotation pool; at least one key is required.
	APIKeys []string      `yaml:"api_keys"`
	BaseURL string        `yaml:"url"`
	Model   string        `yaml:"model"`
	Policy  string        `yaml:"policy"` // round_robin or random
	Timeout time.Duration `yaml:"timeout"`
}

type LimitsConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
	// CooldownSeconds is the minimum wait between completed generations per user.
	CooldownSeconds int `yaml:"user_cooldown_seconds"`
	// ArmWindowSeconds is how long an armed user may take to submit an image.
	ArmWindowSeconds int `yaml:"arm_window_seconds"`
	// RetryAttempts overrides the dispatcher attempt count; 0 means pool size.
	RetryAttempts int `yaml:"retry_attempts"`
}

type CardConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type StampConfig struct {
	Path    string  `yaml:"path"`
	Scale   float64 `yaml:"scale"`
	XOffset float64 `yaml:"x_offset"`
	YOffset float64 `yaml:"y_offset"`
}

type SessionConfig struct {
	// Driver selects the session store backend: memory or redis.
	Driver  string             `yaml:"driver"`
	TTL     time.Duration      `yaml:"ttl"`
	Cleanup time.Duration      `yaml:"cleanup"`
	Redis   SessionRedisConfig `yaml:"redis"`
}

type SessionRedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

// Cooldown returns the per-user cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Limits.CooldownSeconds) * time.Second
}

// ArmWindow returns the armed-state TTL as a duration.
func (c *Config) ArmWindow() time.Duration {
	return time.Duration(c.Limits.ArmWindowSeconds) * time.Second
}
