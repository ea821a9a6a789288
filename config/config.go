package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

func (cfg *Client) AdjustConfig() {
	if cfg.Retry.Enabled() {
		if cfg.Retry.MaxAttempts < 1 {
			cfg.Retry.MaxAttempts = 1
		}
		if cfg.Retry.Multiplier < 1 {
			cfg.Retry.Multiplier = 1
		}
		if cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
			cfg.Retry.MaxInterval = cfg.Retry.InitialInterval
		}
	}

	if cfg.Eviction.Enabled() && cfg.Eviction.SweepsPerSec < 1 {
		const defaultSweepsPerSec = 10
		cfg.Eviction.SweepsPerSec = defaultSweepsPerSec
	}

	if cfg.Telemetry.IsLogsEnabled && cfg.Telemetry.LogsInterval <= 0 {
		cfg.Telemetry.LogsInterval = time.Second * 5
	}
}

func LoadConfig(path string) (*Client, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat config path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config yaml file %s: %w", path, err)
	}

	var cfg *Client
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml from %s: %w", path, err)
	}
	cfg.AdjustConfig()

	return cfg, nil
}
