package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for collard.
type Config struct {
	ListenAddress  string          `yaml:"listen"`
	ProtocolConfig string          `yaml:"protocol_config"`
	Log            LogConfig       `yaml:"log"`
	Telemetry      TelemetryConfig `yaml:"telemetry"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Keeper         KeeperConfig    `yaml:"keeper"`
	Stream         StreamConfig    `yaml:"stream"`
	Auth           AuthConfig      `yaml:"auth"`
	ShutdownGrace  Duration        `yaml:"shutdown_grace"`
}

// LogConfig controls the slog handler and optional rotated file output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig enables the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// RateLimitConfig bounds requests per client address.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// KeeperConfig drives the settlement sweep.
type KeeperConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Address  string   `yaml:"address"`
	Interval Duration `yaml:"interval"`
	// LockKey is the Redis key guarding the sweep across replicas. An empty
	// value uses a process-local lock.
	LockKey string   `yaml:"lock_key"`
	LockTTL Duration `yaml:"lock_ttl"`
	// BatchSize caps settlements per sweep.
	BatchSize int `yaml:"batch_size"`
}

// StreamConfig tunes the websocket event stream.
type StreamConfig struct {
	Buffer       int      `yaml:"buffer"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// AuthConfig validates operator bearer tokens. HMACSecret may be left empty
// and supplied through COLLARD_AUTH_SECRET.
type AuthConfig struct {
	HMACSecret string   `yaml:"hmac_secret"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	ScopeClaim string   `yaml:"scope_claim"`
	ClockSkew  Duration `yaml:"clock_skew"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.ProtocolConfig == "" {
		cfg.ProtocolConfig = "services/collard/collarfi.toml"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 60
	}
	if cfg.Keeper.Interval.Duration == 0 {
		cfg.Keeper.Interval.Duration = 30 * time.Second
	}
	if cfg.Keeper.LockTTL.Duration == 0 {
		cfg.Keeper.LockTTL.Duration = 2 * cfg.Keeper.Interval.Duration
	}
	if cfg.Keeper.BatchSize <= 0 {
		cfg.Keeper.BatchSize = 100
	}
	if cfg.Stream.Buffer <= 0 {
		cfg.Stream.Buffer = 256
	}
	if cfg.Stream.WriteTimeout.Duration == 0 {
		cfg.Stream.WriteTimeout.Duration = 10 * time.Second
	}
	if cfg.Auth.ScopeClaim == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.ShutdownGrace.Duration == 0 {
		cfg.ShutdownGrace.Duration = 5 * time.Second
	}
}

func validate(cfg Config) error {
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if cfg.Auth.ClockSkew.Duration < 0 {
		return fmt.Errorf("auth.clock_skew must not be negative")
	}
	if cfg.Keeper.Enabled {
		addr := strings.TrimSpace(cfg.Keeper.Address)
		if !ethcommon.IsHexAddress(addr) || ethcommon.HexToAddress(addr) == (ethcommon.Address{}) {
			return fmt.Errorf("keeper.address must be a non-zero hex address when the keeper is enabled")
		}
		if cfg.Keeper.LockTTL.Duration < cfg.Keeper.Interval.Duration {
			return fmt.Errorf("keeper.lock_ttl must cover keeper.interval")
		}
	}
	return nil
}

// KeeperAddress returns the account the keeper settles as.
func (c Config) KeeperAddress() ethcommon.Address {
	return ethcommon.HexToAddress(strings.TrimSpace(c.Keeper.Address))
}
