package infra

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"twamm_go/internal/domain"
)

const validYAML = `
app:
  name: twammd
pool:
  token0: ETH
  token1: USDC
  order_block_interval: 10
  custodian: pool
engine:
  inbox_size: 16
  block_duration_ms: 500
gateway:
  listen: ":0"
  path: /ws
logging:
  level: debug
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Pool.Token0 != "ETH" || cfg.Pool.OrderBlockInterval != 10 {
		t.Errorf("unexpected pool config: %+v", cfg.Pool)
	}
	if cfg.Engine.BlockDurationMS != 500 {
		t.Errorf("block duration = %d, want 500", cfg.Engine.BlockDurationMS)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("TWAMM_ORDER_BLOCK_INTERVAL", "25")
	t.Setenv("TWAMM_STORAGE_PATH", "/tmp/wal.db")

	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Pool.OrderBlockInterval != 25 {
		t.Errorf("interval = %d, want 25", cfg.Pool.OrderBlockInterval)
	}
	if cfg.Storage.Path != "/tmp/wal.db" {
		t.Errorf("storage path = %q", cfg.Storage.Path)
	}

	t.Setenv("TWAMM_ORDER_BLOCK_INTERVAL", "ten")
	_, err = LoadConfig(writeConfig(t, validYAML))
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigError for bad env value, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig(writeConfig(t, validYAML))
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"zero interval", func(c *Config) { c.Pool.OrderBlockInterval = 0 }, "pool.order_block_interval"},
		{"same tokens", func(c *Config) { c.Pool.Token1 = c.Pool.Token0 }, "pool.token1"},
		{"missing token", func(c *Config) { c.Pool.Token0 = "" }, "pool.token0/token1"},
		{"no inbox", func(c *Config) { c.Engine.InboxSize = 0 }, "engine.inbox_size"},
		{"relative ws path", func(c *Config) { c.Gateway.Path = "ws" }, "gateway.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mut(cfg)
			err := cfg.Validate()
			var cfgErr *domain.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("field = %q, want %q", cfgErr.Field, tt.field)
			}
			if domain.IsRetriable(err) {
				t.Error("config errors must not be retriable")
			}
		})
	}
}

func TestShippedConfig_GatewayOnLoopback(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	// The gateway trusts client-named callers, so the default stays local.
	if !strings.HasPrefix(cfg.Gateway.Listen, "127.0.0.1:") {
		t.Errorf("gateway.listen = %q, want a loopback address", cfg.Gateway.Listen)
	}
}
