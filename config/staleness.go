package config

import "time"

// StalenessCfg controls when cached values become eligible for automatic
// refetch.
type StalenessCfg struct {
	// DefaultStaleAfter marks a value outdated once this duration has passed
	// since its last terminal update. Zero means never, in which case only
	// never-resolved entries count as stale.
	DefaultStaleAfter time.Duration `yaml:"default_stale_after"`
}

func (cfg *StalenessCfg) Enabled() bool {
	return cfg != nil
}
