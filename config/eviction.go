package config

// EvictionCfg configures pressure-driven eviction of subscriber-less stores.
// Stores with at least one non-temporary subscriber are never swept.
type EvictionCfg struct {
	// SweepsPerSec paces pressure-driven sweeps over the registry. One sweep
	// drops every currently subscriber-less store, so pacing bounds how much
	// registry churn a noisy pressure source can cause.
	SweepsPerSec int `yaml:"sweeps_per_sec"`
}

func (cfg *EvictionCfg) Enabled() bool {
	return cfg != nil
}
