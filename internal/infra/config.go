package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"twamm_go/internal/domain"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수로 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Pool struct {
		Token0             string `yaml:"token0"`
		Token1             string `yaml:"token1"`
		OrderBlockInterval uint64 `yaml:"order_block_interval"`
		Custodian          string `yaml:"custodian"`
	} `yaml:"pool"`

	Engine struct {
		InboxSize       int    `yaml:"inbox_size"`
		BlockDurationMS int    `yaml:"block_duration_ms"`
		GenesisUnix     int64  `yaml:"genesis_unix"`
		DumpFile        string `yaml:"dump_file"`
	} `yaml:"engine"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Gateway struct {
		Listen          string `yaml:"listen"`
		Path            string `yaml:"path"`
		ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
		MaxMessageBytes int64  `yaml:"max_message_bytes"`
	} `yaml:"gateway"`

	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrConfigNotFound)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// 환경 변수 오버라이드 지원
	if err := overrideWithEnv(&cfg); err != nil {
		return nil, err
	}

	// 설정 유효성 검사
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	// Pool
	if c.Pool.Token0 == "" || c.Pool.Token1 == "" {
		return &domain.ConfigError{Field: "pool.token0/token1", Err: errors.New("both tokens are required")}
	}
	if c.Pool.Token0 == c.Pool.Token1 {
		return &domain.ConfigError{Field: "pool.token1", Err: fmt.Errorf("must differ from token0 %q", c.Pool.Token0)}
	}
	if c.Pool.OrderBlockInterval == 0 {
		return &domain.ConfigError{Field: "pool.order_block_interval", Err: errors.New("must be positive")}
	}
	if c.Pool.Custodian == "" {
		return &domain.ConfigError{Field: "pool.custodian", Err: errors.New("required")}
	}

	// Engine
	if c.Engine.InboxSize <= 0 {
		return &domain.ConfigError{Field: "engine.inbox_size", Err: errors.New("must be positive")}
	}
	if c.Engine.BlockDurationMS <= 0 {
		return &domain.ConfigError{Field: "engine.block_duration_ms", Err: errors.New("must be positive")}
	}

	// Gateway
	if c.Gateway.Listen == "" {
		return &domain.ConfigError{Field: "gateway.listen", Err: errors.New("required")}
	}
	if !strings.HasPrefix(c.Gateway.Path, "/") {
		return &domain.ConfigError{Field: "gateway.path", Err: fmt.Errorf("must start with /: %q", c.Gateway.Path)}
	}

	return nil
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) error {
	if v := os.Getenv("TWAMM_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("TWAMM_GATEWAY_LISTEN"); v != "" {
		cfg.Gateway.Listen = v
	}
	if v := os.Getenv("TWAMM_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
	if v := os.Getenv("TWAMM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TWAMM_ORDER_BLOCK_INTERVAL"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return &domain.ConfigError{Field: "TWAMM_ORDER_BLOCK_INTERVAL", Err: err}
		}
		cfg.Pool.OrderBlockInterval = n
	}
	return nil
}
