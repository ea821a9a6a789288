package telemetry

import "sync/atomic"

// Counters accumulates engine-wide run and lifecycle metrics. One instance is
// shared between a client and every store it registers; detached stores carry
// their own.
type Counters struct {
	StoresCreated atomic.Int64 // stores registered or built detached
	StoresEvicted atomic.Int64 // stores dropped from the registry
	RunsStarted   atomic.Int64 // tasks actually started
	RunsJoined    atomic.Int64 // Run calls that joined an in-flight task
	AutoRuns      atomic.Int64 // tasks started by a satisfied run condition
	Retries       atomic.Int64 // non-terminal attempts inside tasks
	Successes     atomic.Int64 // terminal success outcomes
	Failures      atomic.Int64 // terminal failure outcomes
	Cancelled     atomic.Int64 // tasks cancelled before a terminal outcome
}

func NewCounters() *Counters { return &Counters{} }

// Snapshot returns the cumulative counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		StoresCreated: uint64(max(c.StoresCreated.Load(), 0)),
		StoresEvicted: uint64(max(c.StoresEvicted.Load(), 0)),
		RunsStarted:   uint64(max(c.RunsStarted.Load(), 0)),
		RunsJoined:    uint64(max(c.RunsJoined.Load(), 0)),
		AutoRuns:      uint64(max(c.AutoRuns.Load(), 0)),
		Retries:       uint64(max(c.Retries.Load(), 0)),
		Successes:     uint64(max(c.Successes.Load(), 0)),
		Failures:      uint64(max(c.Failures.Load(), 0)),
		Cancelled:     uint64(max(c.Cancelled.Load(), 0)),
	}
}
