package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collard.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "listen: \":9000\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
	if cfg.Keeper.Interval.Duration != 30*time.Second || cfg.Keeper.LockTTL.Duration != time.Minute {
		t.Fatalf("unexpected keeper defaults %+v", cfg.Keeper)
	}
	if cfg.RateLimit.RequestsPerMinute != 600 || cfg.RateLimit.Burst != 60 {
		t.Fatalf("unexpected rate limit defaults %+v", cfg.RateLimit)
	}
	if cfg.Stream.WriteTimeout.Duration != 10*time.Second {
		t.Fatalf("unexpected stream timeout %s", cfg.Stream.WriteTimeout)
	}
}

func TestLoadParsesKeeper(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
keeper:
  enabled: true
  address: "0x00000000000000000000000000000000000c0009"
  interval: 10s
  lock_key: collard:keeper
  batch_size: 5
log:
  level: debug
  file: /var/log/collard.log
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Keeper.Enabled || cfg.Keeper.LockKey != "collard:keeper" || cfg.Keeper.BatchSize != 5 {
		t.Fatalf("unexpected keeper config %+v", cfg.Keeper)
	}
	if cfg.Keeper.LockTTL.Duration != 20*time.Second {
		t.Fatalf("expected lock ttl derived from interval, got %s", cfg.Keeper.LockTTL)
	}
	if cfg.KeeperAddress() != ethcommon.HexToAddress("0x00000000000000000000000000000000000c0009") {
		t.Fatalf("unexpected keeper address %s", cfg.KeeperAddress().Hex())
	}
}

func TestLoadParsesAuth(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
auth:
  hmac_secret: s3cret
  issuer: collarfi-ops
  audience: collard
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.HMACSecret != "s3cret" || cfg.Auth.Issuer != "collarfi-ops" || cfg.Auth.Audience != "collard" {
		t.Fatalf("unexpected auth config %+v", cfg.Auth)
	}
	if cfg.Auth.ScopeClaim != "scope" || cfg.Auth.ClockSkew.Duration != 2*time.Minute {
		t.Fatalf("unexpected auth defaults %+v", cfg.Auth)
	}
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"keeper address": "keeper:\n  enabled: true\n",
		"short lock":     "keeper:\n  enabled: true\n  address: \"0x00000000000000000000000000000000000c0009\"\n  interval: 1m\n  lock_ttl: 10s\n",
		"sample ratio":   "telemetry:\n  sample_ratio: 2\n",
		"unknown field":  "listen: \":1\"\nbogus: true\n",
		"bad duration":   "keeper:\n  interval: soon\n",
		"negative skew":  "auth:\n  clock_skew: -1m\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, contents)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "open config") {
		t.Fatalf("expected open error, got %v", err)
	}
}
