package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"rizo-card-bot/internal/platform/errors"
)

// Loader assembles configuration from defaults, an optional YAML file and
// environment variables, in that order of precedence.
type Loader struct {
	useDotEnv bool
	path      string
	lookup    func(string) (string, bool)
}

// NewLoader creates a loader reading config.yaml (when present) and the
// process environment.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		path:      "config.yaml",
		lookup:    os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file first.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath overrides the YAML config file location.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// WithLookup overrides the environment source (useful for tests).
func (l *Loader) WithLookup(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookup = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin.
type Result struct {
	Config *Config
	Path   string
}

// Load builds the effective configuration and validates it.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		_ = godotenv.Load()
	}

	cfg := Default()
	origin := "defaults"

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(errors.KindConfig, "config.load",
					fmt.Sprintf("parse %s", l.path), err)
			}
			origin = l.path
		case os.IsNotExist(err):
			// config file is optional, environment alone is enough
		default:
			return nil, errors.Wrap(errors.KindConfig, "config.load",
				fmt.Sprintf("read %s", l.path), err)
		}
	}

	l.applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: origin}, nil
}

func (l *Loader) applyEnv(cfg *Config) {
	l.envString("BOT_TOKEN", &cfg.Telegram.BotToken)
	l.envString("RENDER_EXTERNAL_URL", &cfg.Server.ExternalURL)
	l.envInt("PORT", &cfg.Server.Port)

	if keys, ok := l.lookup("OPENAI_API_KEYS"); ok {
		cfg.Upstream.APIKeys = splitKeys(keys)
	} else if key, ok := l.lookup("OPENAI_API_KEY"); ok {
		cfg.Upstream.APIKeys = splitKeys(key)
	}
	l.envString("OPENAI_BASE_URL", &cfg.Upstream.BaseURL)
	l.envString("CREDENTIAL_POLICY", &cfg.Upstream.Policy)
	l.envSeconds("UPSTREAM_TIMEOUT_SECONDS", &cfg.Upstream.Timeout)

	l.envInt("MAX_CONCURRENCY", &cfg.Limits.MaxConcurrency)
	l.envInt("USER_COOLDOWN_SECONDS", &cfg.Limits.CooldownSeconds)
	l.envInt("ARM_WINDOW_SECONDS", &cfg.Limits.ArmWindowSeconds)
	l.envInt("RETRY_ATTEMPTS", &cfg.Limits.RetryAttempts)

	l.envInt("CARD_WIDTH", &cfg.Card.Width)
	l.envInt("CARD_HEIGHT", &cfg.Card.Height)

	l.envString("FOIL_STAMP_PATH", &cfg.Stamp.Path)
	l.envFloat("FOIL_SCALE", &cfg.Stamp.Scale)
	l.envFloat("FOIL_X_OFFSET", &cfg.Stamp.XOffset)
	l.envFloat("FOIL_Y_OFFSET", &cfg.Stamp.YOffset)

	l.envString("SESSION_STORE", &cfg.Session.Driver)
	l.envString("REDIS_ADDR", &cfg.Session.Redis.Addr)
	l.envString("REDIS_PASSWORD", &cfg.Session.Redis.Password)
	l.envInt("REDIS_DB", &cfg.Session.Redis.DB)

	l.envString("DATABASE_DSN", &cfg.Storage.DSN)

	l.envString("LOG_LEVEL", &cfg.Log.Level)
	l.envString("LOG_DIR", &cfg.Log.Dir)
	l.envString("LOG_FILE", &cfg.Log.File)
}

func (l *Loader) envString(name string, target *string) {
	if v, ok := l.lookup(name); ok && strings.TrimSpace(v) != "" {
		*target = strings.TrimSpace(v)
	}
}

func (l *Loader) envInt(name string, target *int) {
	if v, ok := l.lookup(name); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*target = n
		}
	}
}

func (l *Loader) envFloat(name string, target *float64) {
	if v, ok := l.lookup(name); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*target = f
		}
	}
}

func (l *Loader) envSeconds(name string, target *time.Duration) {
	if v, ok := l.lookup(name); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			*target = time.Duration(n) * time.Second
		}
	}
}

func splitKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}

// Validate enforces the startup invariants: a bot token, at least one
// upstream credential and sane limit values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.KindConfig, "config.validate", "nil config")
	}
	if strings.TrimSpace(cfg.Telegram.BotToken) == "" {
		return errors.New(errors.KindConfig, "config.validate",
			"BOT_TOKEN is required")
	}
	if len(cfg.Upstream.APIKeys) == 0 {
		return errors.New(errors.KindConfig, "config.validate",
			"OPENAI_API_KEYS (or OPENAI_API_KEY) must be set, comma separated")
	}
	if cfg.Limits.MaxConcurrency < 1 {
		return errors.New(errors.KindConfig, "config.validate",
			"max_concurrency must be >= 1")
	}
	if cfg.Limits.CooldownSeconds < 0 {
		return errors.New(errors.KindConfig, "config.validate",
			"user_cooldown_seconds must be >= 0")
	}
	if cfg.Limits.RetryAttempts < 0 {
		return errors.New(errors.KindConfig, "config.validate",
			"retry_attempts must be >= 0")
	}
	switch cfg.Upstream.Policy {
	case "round_robin", "random":
	default:
		return errors.New(errors.KindConfig, "config.validate",
			fmt.Sprintf("unsupported credential policy %q", cfg.Upstream.Policy))
	}
	if cfg.Card.Width <= 0 || cfg.Card.Height <= 0 {
		return errors.New(errors.KindConfig, "config.validate",
			"card dimensions must be positive")
	}
	return nil
}

// WebhookURL derives the full webhook target from the external URL, matching
// the original deployment convention of a bare hostname defaulting to https.
func (c *Config) WebhookURL() string {
	base := strings.TrimRight(strings.TrimSpace(c.Server.ExternalURL), "/")
	if base == "" {
		return ""
	}
	lower := strings.ToLower(base)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		base = "https://" + base
	}
	return fmt.Sprintf("%s/webhook/%s", base, c.Telegram.BotToken)
}
