package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk description of one market deployment.
type Config struct {
	DataDir string  `toml:"DataDir"`
	Storage Storage `toml:"storage"`
	Market  Market  `toml:"market"`
	Oracle  Oracle  `toml:"oracle"`
	Redis   Redis   `toml:"redis"`
	Genesis Genesis `toml:"genesis"`
	Swapper Swapper `toml:"swapper"`
}

// Load loads the configuration from the given path. A missing file is
// created with development defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the development configuration written by Load when no file
// exists: an in-memory store, a manual price feed and an inventory swapper.
func Default() *Config {
	cfg := &Config{
		DataDir: "./collarfi-data",
		Storage: Storage{Backend: "memory"},
		Market: Market{
			Owner:      "0x00000000000000000000000000000000000c0001",
			Underlying: "0x00000000000000000000000000000000000b0001",
			Cash:       "0x00000000000000000000000000000000000b0002",
		},
		Oracle: Oracle{
			Source:       "manual",
			InitialPrice: "1000000000",
		},
		Genesis: Genesis{
			EnableEscrow: true,
		},
		Swapper: Swapper{Enabled: true},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./collarfi-data"
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.Path == "" && c.Storage.Backend != "memory" {
		c.Storage.Path = filepath.Join(c.DataDir, "state."+c.Storage.Backend)
	}
	c.Oracle.Source = strings.ToLower(strings.TrimSpace(c.Oracle.Source))
	if c.Oracle.Source == "" {
		c.Oracle.Source = "manual"
	}
	if c.Oracle.Pair == "" {
		c.Oracle.Pair = "underlying-cash"
	}
	if c.Oracle.BaseUnitAmount == "" {
		c.Oracle.BaseUnitAmount = "1000000000000000000"
	}
	if c.Oracle.MaxAgeSeconds == 0 {
		c.Oracle.MaxAgeSeconds = 3600
	}
	if c.Oracle.RedisTimeoutMs == 0 {
		c.Oracle.RedisTimeoutMs = 2000
	}
	if c.Redis.Addr == "" && c.Redis.URL == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	g := &c.Genesis
	if g.MinLTV == 0 && g.MaxLTV == 0 {
		g.MinLTV, g.MaxLTV = 5_000, 9_500
	}
	if g.MinDurationSecs == 0 && g.MaxDurationSecs == 0 {
		g.MinDurationSecs, g.MaxDurationSecs = 300, 365*24*3600
	}
	if g.Swappers == nil {
		g.Swappers = []string{}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
