package ashquery

import (
	"context"
	"log/slog"
	"time"

	"github.com/Borislavv/go-ash-query/config"
)

// Modifier layers cross-cutting behavior onto an operation without touching
// its identity path or its value/error types. Side-effecting modifiers
// (retry, logging, delay) wrap the fetch call positionally, in the order they
// are listed: the first listed wrapper is outermost. Context-contributing
// modifiers (staleness, run condition, dedup, refetch triggers) accumulate
// commutatively into the resolved options.
type Modifier[V any] func(o *StoreOptions[V])

// FetchWrapper decorates fetch logic.
type FetchWrapper[V any] func(next FetchFunc[V]) FetchFunc[V]

// StalePredicate reports whether a state should be considered outdated.
// Predicates are OR-combined: state is stale if any applied predicate says so.
type StalePredicate[V any] func(state State[V], rc *RunContext) bool

// StoreOptions is the resolved accumulation of a modifier chain. Custom
// modifiers contribute through its methods.
type StoreOptions[V any] struct {
	wrappers   []FetchWrapper[V]
	stalePreds []StalePredicate[V]
	condition  Condition
	triggers   []Condition
	edits      []func(rc *RunContext)
	retry      *RetryPolicy
	staleAfter time.Duration
	dedup      bool
	manual     bool
}

// AddWrapper appends a positional fetch wrapper.
func (o *StoreOptions[V]) AddWrapper(w FetchWrapper[V]) { o.wrappers = append(o.wrappers, w) }

// AddStalePredicate registers an OR-combined staleness predicate.
func (o *StoreOptions[V]) AddStalePredicate(p StalePredicate[V]) {
	o.stalePreds = append(o.stalePreds, p)
}

// SetCondition replaces the automatic-run gate.
func (o *StoreOptions[V]) SetCondition(c Condition) { o.condition = c }

// AddTrigger registers a condition whose satisfied emissions re-run the
// operation while subscribers are attached.
func (o *StoreOptions[V]) AddTrigger(c Condition) { o.triggers = append(o.triggers, c) }

// AddContextEdit registers an edit applied to every fresh run context.
func (o *StoreOptions[V]) AddContextEdit(edit func(rc *RunContext)) {
	o.edits = append(o.edits, edit)
}

// resolveOptions folds a modifier chain over client-level defaults.
func resolveOptions[V any](cfg *config.Client, manual bool, modifiers []Modifier[V]) *StoreOptions[V] {
	o := &StoreOptions[V]{dedup: true, manual: manual}
	if manual {
		o.condition = AlwaysSilent(false)
		o.dedup = false
	} else {
		o.condition = Always(true)
	}

	if cfg != nil {
		if cfg.Retry.Enabled() {
			o.retry = PolicyFromConfig(cfg.Retry)
		}
		if cfg.Staleness.Enabled() {
			o.staleAfter = cfg.Staleness.DefaultStaleAfter
		}
	}

	for _, m := range modifiers {
		m(o)
	}

	if o.retry != nil {
		o.wrappers = append(o.wrappers, retryWrapper[V](o.retry))
	}
	if o.staleAfter > 0 {
		window := o.staleAfter
		o.stalePreds = append(o.stalePreds, func(state State[V], rc *RunContext) bool {
			return state.HasValue && rc.Clock.Now().Sub(state.LastUpdatedAt) >= window
		})
	}
	return o
}

// compose wraps fn with the resolved wrapper list, first listed outermost.
func (o *StoreOptions[V]) compose(fn FetchFunc[V]) FetchFunc[V] {
	for i := len(o.wrappers) - 1; i >= 0; i-- {
		fn = o.wrappers[i](fn)
	}
	return fn
}

/**
 * Built-in modifiers.
 */

// WithRetry retries failed attempts inside the task before it reaches a
// terminal state. Intermediate attempts never increment update counters; the
// current attempt number is visible as RunContext.Attempt.
func WithRetry[V any](policy *RetryPolicy) Modifier[V] {
	return func(o *StoreOptions[V]) { o.retry = policy }
}

// StaleWhen registers a staleness predicate.
func StaleWhen[V any](pred StalePredicate[V]) Modifier[V] {
	return func(o *StoreOptions[V]) { o.stalePreds = append(o.stalePreds, pred) }
}

// StaleAfter marks the cached value outdated once the given duration has
// passed since the last terminal update, measured on the injected clock.
func StaleAfter[V any](d time.Duration) Modifier[V] {
	return func(o *StoreOptions[V]) { o.staleAfter = d }
}

// WithCondition gates automatic runs on the given condition.
func WithCondition[V any](c Condition) Modifier[V] {
	return func(o *StoreOptions[V]) { o.condition = c }
}

// RefetchOnChange re-runs the operation every time the condition emits a
// satisfied value while a non-temporary subscriber is attached.
func RefetchOnChange[V any](c Condition) Modifier[V] {
	return func(o *StoreOptions[V]) { o.triggers = append(o.triggers, c) }
}

// WithDedup toggles joining of concurrent runs for the same path. Enabled by
// default; disabling makes every Run start its own task.
func WithDedup[V any](enabled bool) Modifier[V] {
	return func(o *StoreOptions[V]) { o.dedup = enabled }
}

// WithContextValue seeds a typed extension value on every run context.
func WithContextValue[V, T any](key *ContextKey[T], value T) Modifier[V] {
	return func(o *StoreOptions[V]) {
		o.edits = append(o.edits, func(rc *RunContext) { SetContextValue(rc, key, value) })
	}
}

// WithLogging logs each attempt with its measured latency. List it last to
// wrap the innermost fetch, so the latency excludes outer wrappers.
func WithLogging[V any](logger *slog.Logger) Modifier[V] {
	return func(o *StoreOptions[V]) {
		o.wrappers = append(o.wrappers, func(next FetchFunc[V]) FetchFunc[V] {
			return func(ctx context.Context, rc *RunContext) (V, error) {
				start := rc.Clock.Now()
				value, err := next(ctx, rc)
				elapsed := rc.Clock.Now().Sub(start)
				if err != nil {
					logger.Error("fetch failed", "attempt", rc.Attempt, "elapsed", elapsed.String(), "error", err)
				} else {
					logger.Info("fetch succeeded", "attempt", rc.Attempt, "elapsed", elapsed.String())
				}
				return value, err
			}
		})
	}
}

// WithDelay injects artificial latency before delegating, for previews and
// tests. The wait runs on the injected clock and honors cancellation.
func WithDelay[V any](d time.Duration) Modifier[V] {
	return func(o *StoreOptions[V]) {
		o.wrappers = append(o.wrappers, func(next FetchFunc[V]) FetchFunc[V] {
			return func(ctx context.Context, rc *RunContext) (V, error) {
				timer := rc.Clock.Timer(d)
				select {
				case <-ctx.Done():
					timer.Stop()
					var zero V
					return zero, ctx.Err()
				case <-timer.C:
				}
				return next(ctx, rc)
			}
		})
	}
}
