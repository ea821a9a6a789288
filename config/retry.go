package config

import "time"

// RetryCfg bounds transparent in-task retries with exponential backoff.
type RetryCfg struct {
	// MaxAttempts is the total attempt budget per run, including the first
	// attempt. Values below 1 are normalized to 1 during init.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialInterval is the wait before the first retry.
	InitialInterval time.Duration `yaml:"initial_interval"`

	// MaxInterval caps the backoff growth.
	MaxInterval time.Duration `yaml:"max_interval"`

	// Multiplier scales the interval between consecutive retries.
	// Normalized to at least 1.0 during init.
	Multiplier float64 `yaml:"multiplier"`
}

func (cfg *RetryCfg) Enabled() bool {
	return cfg != nil
}
