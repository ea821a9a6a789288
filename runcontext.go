package ashquery

import (
	"log/slog"
	"time"

	"github.com/Borislavv/go-ash-query/internal/telemetry"
	"github.com/benbjohnson/clock"
)

// RunContext is the execution context threaded through a single logical run:
// the clock and policy objects every layer may consult, plus a typed-key bag
// for open-ended extension. A fresh context is created per top-level run and
// cloned whenever a modifier edits it, so concurrent runs of different
// operations never share one mutably.
type RunContext struct {
	// Clock is the time source for staleness evaluation and backoff waits.
	Clock clock.Clock

	// Logger is the store's logger, available to fetch logic and wrappers.
	Logger *slog.Logger

	// IsAutomatic marks runs triggered by a satisfied run condition rather
	// than an explicit Run/Fetch call.
	IsAutomatic bool

	// Attempt is the 1-based attempt number within the current run. It stays
	// at 1 unless a retry modifier is applied.
	Attempt int

	// Retry is the resolved retry policy for this run, nil when retries are
	// not configured.
	Retry *RetryPolicy

	// StaleAfter is the resolved staleness window, zero when none applies.
	StaleAfter time.Duration

	counters *telemetry.Counters
	values   map[any]any
}

func (rc *RunContext) clone() *RunContext {
	dup := *rc
	if rc.values != nil {
		dup.values = make(map[any]any, len(rc.values))
		for k, v := range rc.values {
			dup.values[k] = v
		}
	}
	return &dup
}

// ContextKey is a typed key into a RunContext's extension bag. Lookups for
// unset keys never fail, they yield the key's fallback value.
type ContextKey[T any] struct {
	name     string
	fallback T
}

// NewContextKey declares a context key with a fallback value.
func NewContextKey[T any](name string, fallback T) *ContextKey[T] {
	return &ContextKey[T]{name: name, fallback: fallback}
}

func (k *ContextKey[T]) String() string { return k.name }

// ContextValue reads a typed value from the context, returning the key's
// fallback when unset.
func ContextValue[T any](rc *RunContext, key *ContextKey[T]) T {
	if rc == nil || rc.values == nil {
		return key.fallback
	}
	if v, ok := rc.values[key]; ok {
		return v.(T)
	}
	return key.fallback
}

// SetContextValue stores a typed value on the context.
func SetContextValue[T any](rc *RunContext, key *ContextKey[T], value T) {
	if rc.values == nil {
		rc.values = make(map[any]any, 2)
	}
	rc.values[key] = value
}
