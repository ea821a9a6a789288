package telemetry

// Snapshot holds cumulative counters (monotonic).
type Snapshot struct {
	StoresCreated uint64
	StoresEvicted uint64
	RunsStarted   uint64
	RunsJoined    uint64
	AutoRuns      uint64
	Retries       uint64
	Successes     uint64
	Failures      uint64
	Cancelled     uint64
}

// DeltaSnapshot converts cumulative snapshots to per-interval deltas.
// If counters reset (cur < prev), it treats cur as the delta.
func DeltaSnapshot(prev, cur Snapshot) Snapshot {
	return Snapshot{
		StoresCreated: delta(prev.StoresCreated, cur.StoresCreated),
		StoresEvicted: delta(prev.StoresEvicted, cur.StoresEvicted),
		RunsStarted:   delta(prev.RunsStarted, cur.RunsStarted),
		RunsJoined:    delta(prev.RunsJoined, cur.RunsJoined),
		AutoRuns:      delta(prev.AutoRuns, cur.AutoRuns),
		Retries:       delta(prev.Retries, cur.Retries),
		Successes:     delta(prev.Successes, cur.Successes),
		Failures:      delta(prev.Failures, cur.Failures),
		Cancelled:     delta(prev.Cancelled, cur.Cancelled),
	}
}

func delta(prev, cur uint64) uint64 {
	if cur >= prev {
		return cur - prev
	}
	return cur
}
