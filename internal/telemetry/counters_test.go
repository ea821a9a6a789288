package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounters_SnapshotReflectsAccumulation(t *testing.T) {
	c := NewCounters()
	c.RunsStarted.Add(5)
	c.RunsJoined.Add(2)
	c.Successes.Add(4)
	c.Failures.Add(1)

	snap := c.Snapshot()
	require.Equal(t, uint64(5), snap.RunsStarted)
	require.Equal(t, uint64(2), snap.RunsJoined)
	require.Equal(t, uint64(4), snap.Successes)
	require.Equal(t, uint64(1), snap.Failures)
	require.Equal(t, uint64(0), snap.Cancelled)
}

func TestDeltaSnapshot_PerIntervalValues(t *testing.T) {
	prev := Snapshot{RunsStarted: 10, Successes: 8}
	cur := Snapshot{RunsStarted: 15, Successes: 11, Failures: 2}

	d := DeltaSnapshot(prev, cur)
	require.Equal(t, uint64(5), d.RunsStarted)
	require.Equal(t, uint64(3), d.Successes)
	require.Equal(t, uint64(2), d.Failures)
}

func TestDeltaSnapshot_ResetFallsBackToCurrent(t *testing.T) {
	prev := Snapshot{RunsStarted: 100}
	cur := Snapshot{RunsStarted: 3}

	d := DeltaSnapshot(prev, cur)
	require.Equal(t, uint64(3), d.RunsStarted)
}
