package config

import "time"

// Client configures an operation client and the defaults its stores inherit.
// Pointer sections are optional: a nil section disables the feature.
type Client struct {
	// Retry is the default retry policy applied to stores that do not carry
	// an explicit retry modifier. Nil disables default retries.
	Retry *RetryCfg `yaml:"retry"`

	// Staleness is the default staleness window applied to stores that do
	// not carry an explicit staleness modifier. Nil means values only count
	// as stale before their first terminal outcome.
	Staleness *StalenessCfg `yaml:"staleness"`

	// Eviction configures pressure-driven eviction sweeps. Nil disables the
	// background sweeper; explicit eviction calls still work.
	Eviction *EvictionCfg `yaml:"eviction"`

	// Telemetry configures the periodic counters log.
	Telemetry TelemetryCfg `yaml:"telemetry"`
}

type TelemetryCfg struct {
	IsLogsEnabled bool          `yaml:"logs_enabled"`
	LogsInterval  time.Duration `yaml:"logs_interval"`
}
