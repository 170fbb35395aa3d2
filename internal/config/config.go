package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server" envPrefix:"KIOSKD_SERVER_"`
	Devices     DevicesConfig     `yaml:"devices" envPrefix:"KIOSKD_DEVICES_"`
	Queue       QueueConfig       `yaml:"queue" envPrefix:"KIOSKD_QUEUE_"`
	Correlation CorrelationConfig `yaml:"correlation" envPrefix:"KIOSKD_CORRELATION_"`
	Vendor      VendorConfig      `yaml:"vendor" envPrefix:"KIOSKD_VENDOR_"`
	History     HistoryConfig     `yaml:"history" envPrefix:"KIOSKD_HISTORY_"`
	Notify      NotifyConfig      `yaml:"notify" envPrefix:"KIOSKD_NOTIFY_"`
	Auth        AuthConfig        `yaml:"auth" envPrefix:"KIOSKD_AUTH_"`
	Logging     LoggingConfig     `yaml:"logging" envPrefix:"KIOSKD_LOG_"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" env:"PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

type DevicesConfig struct {
	IDs           []string `yaml:"ids" env:"IDS"`
	SkipUnhealthy bool     `yaml:"skip_unhealthy" env:"SKIP_UNHEALTHY"`
}

type QueueConfig struct {
	DispatchTick    time.Duration `yaml:"dispatch_tick" env:"DISPATCH_TICK"`
	MaxConcurrent   int           `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	SubmitSpacing   time.Duration `yaml:"submit_spacing" env:"SUBMIT_SPACING"`
	SubmitTimeout   time.Duration `yaml:"submit_timeout" env:"SUBMIT_TIMEOUT"`
	MaxAttempts     int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	DedupeWindow    time.Duration `yaml:"dedupe_window" env:"DEDUPE_WINDOW"`
	SweepInterval   time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	CompletedGrace  time.Duration `yaml:"completed_grace" env:"COMPLETED_GRACE"`
	DefaultPriority int           `yaml:"default_priority" env:"DEFAULT_PRIORITY"`
	PremiumPriority int           `yaml:"premium_priority" env:"PREMIUM_PRIORITY"`
}

type CorrelationConfig struct {
	Retention    time.Duration `yaml:"retention" env:"RETENTION"`
	ReapInterval time.Duration `yaml:"reap_interval" env:"REAP_INTERVAL"`
}

type VendorConfig struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Token   string        `yaml:"token" env:"TOKEN"`
	GoodsID string        `yaml:"goods_id" env:"GOODS_ID"`
	UserID  int64         `yaml:"user_id" env:"USER_ID"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type HistoryConfig struct {
	Path          string        `yaml:"path" env:"PATH"`
	RetentionDays int           `yaml:"retention_days" env:"RETENTION_DAYS"`
	PruneInterval time.Duration `yaml:"prune_interval" env:"PRUNE_INTERVAL"`
}

type NotifyConfig struct {
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	ChannelPrefix string `yaml:"channel_prefix" env:"CHANNEL_PREFIX"`
}

type AuthConfig struct {
	OperatorPasswordHash string        `yaml:"operator_password_hash" env:"OPERATOR_PASSWORD_HASH"`
	SessionSecret        string        `yaml:"session_secret" env:"SESSION_SECRET"`
	TokenTTL             time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			ReadTimeout: 30 * time.Second,
			// Zero keeps long-lived event streams alive.
			WriteTimeout: 0,
		},
		Devices: DevicesConfig{
			IDs:           []string{},
			SkipUnhealthy: false,
		},
		Queue: QueueConfig{
			DispatchTick:    2 * time.Second,
			MaxConcurrent:   3,
			SubmitSpacing:   1 * time.Second,
			SubmitTimeout:   0,
			MaxAttempts:     3,
			DedupeWindow:    10 * time.Second,
			SweepInterval:   30 * time.Second,
			CompletedGrace:  5 * time.Minute,
			DefaultPriority: 100,
			PremiumPriority: 10,
		},
		Correlation: CorrelationConfig{
			Retention:    24 * time.Hour,
			ReapInterval: 1 * time.Hour,
		},
		Vendor: VendorConfig{
			BaseURL: "https://h5.colorpark.cn/api/userphoneapplets/index",
			Timeout: 30 * time.Second,
		},
		History: HistoryConfig{
			Path:          "./data/kioskd.db",
			RetentionDays: 30,
			PruneInterval: 6 * time.Hour,
		},
		Notify: NotifyConfig{
			ChannelPrefix: "kioskd",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Environment wins over file values.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	// Tokens must never be signed with an empty key. A generated secret
	// lasts one boot; configure one to keep sessions across restarts.
	if cfg.Auth.SessionSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		cfg.Auth.SessionSecret = secret
	}

	return cfg, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if len(c.Devices.IDs) == 0 {
		return fmt.Errorf("at least one device id is required")
	}

	seen := make(map[string]bool, len(c.Devices.IDs))
	for _, id := range c.Devices.IDs {
		if id == "" {
			return fmt.Errorf("device ids must be non-empty")
		}
		if seen[id] {
			return fmt.Errorf("duplicate device id: %s", id)
		}
		seen[id] = true
	}

	if c.Queue.DispatchTick <= 0 {
		return fmt.Errorf("dispatch tick must be positive")
	}

	if c.Queue.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent must be at least 1")
	}

	if c.Queue.SubmitSpacing < 0 {
		return fmt.Errorf("submit spacing must be non-negative")
	}

	if c.Queue.SubmitTimeout < 0 {
		return fmt.Errorf("submit timeout must be non-negative")
	}

	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}

	if c.Queue.DedupeWindow <= 0 {
		return fmt.Errorf("dedupe window must be positive")
	}

	if c.Queue.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	if c.Queue.CompletedGrace < 0 {
		return fmt.Errorf("completed grace must be non-negative")
	}

	if c.Queue.PremiumPriority >= c.Queue.DefaultPriority {
		return fmt.Errorf("premium priority (%d) must be lower than default priority (%d)",
			c.Queue.PremiumPriority, c.Queue.DefaultPriority)
	}

	if c.Correlation.Retention <= 0 {
		return fmt.Errorf("correlation retention must be positive")
	}

	if c.Correlation.ReapInterval <= 0 {
		return fmt.Errorf("correlation reap interval must be positive")
	}

	if c.Vendor.BaseURL == "" {
		return fmt.Errorf("vendor base url is required")
	}

	if c.Vendor.Timeout <= 0 {
		return fmt.Errorf("vendor timeout must be positive")
	}

	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history retention days must be non-negative")
	}

	if c.History.Path != "" && c.History.PruneInterval <= 0 {
		return fmt.Errorf("history prune interval must be positive")
	}

	if c.Auth.SessionSecret == "" {
		return fmt.Errorf("auth session secret is required")
	}

	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token ttl must be positive")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}

	return nil
}
