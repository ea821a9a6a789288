package ashquery

import (
	"context"

	"github.com/Borislavv/go-ash-query/internal/telemetry"
	"github.com/Borislavv/go-ash-query/model"
)

// Mutation declares a write operation. Mutations never run automatically and
// never join each other: every Mutate starts its own task. Effects on read
// caches are explicit side-effect hooks, not implicit coupling.
type Mutation[A, V any] struct {
	Path    model.Path
	Execute func(ctx context.Context, rc *RunContext, args A) (V, error)

	// OnSuccess and OnFailure run once per mutation, on the terminal outcome,
	// before any awaiting caller observes it. Cancellation invokes neither.
	OnSuccess func(args A, value V)
	OnFailure func(args A, err error)

	Modifiers []Modifier[V]
}

// MutationStore is a store variant for the write path. Its embedded store
// tracks loading/success/failure state exactly like a query store; only the
// execution entry points differ.
type MutationStore[A, V any] struct {
	*Store[V]
	def Mutation[A, V]
}

// DetachedMutation builds a mutation store outside any client registry.
func DetachedMutation[A, V any](ctx context.Context, m Mutation[A, V], opts ...Option) *MutationStore[A, V] {
	st := newSettings(opts...)
	resolved := resolveOptions(st.cfg, true, m.Modifiers)
	store := newStore(ctx, m.Path, manualFetch[V](), resolved, st.clk, st.logger, telemetry.NewCounters())
	return &MutationStore[A, V]{Store: store, def: m}
}

// manualFetch is the base fetch of a mutation store: mutations carry their
// arguments per call, so running one without them is a misuse.
func manualFetch[V any]() FetchFunc[V] {
	return func(context.Context, *RunContext) (V, error) {
		var zero V
		return zero, ErrManualOnly
	}
}

// Mutate executes the write and awaits its terminal outcome.
func (ms *MutationStore[A, V]) Mutate(ctx context.Context, args A) (V, error) {
	return ms.run(ctx, args, nil)
}

func (ms *MutationStore[A, V]) run(ctx context.Context, args A, terminal func(V, error, bool)) (V, error) {
	def := ms.def
	h := ms.Store.runWith(func(tctx context.Context, rc *RunContext) (V, error) {
		return def.Execute(tctx, rc, args)
	}, false, true, func(value V, err error, cancelled bool) {
		if !cancelled {
			if err != nil {
				if def.OnFailure != nil {
					def.OnFailure(args, err)
				}
			} else if def.OnSuccess != nil {
				def.OnSuccess(args, value)
			}
		}
		if terminal != nil {
			terminal(value, err, cancelled)
		}
	}, nil)
	return h.Wait(ctx)
}

// MutateOptimistic applies a local transform to the target store before the
// write executes. The pre-transform snapshot is recorded; on failure or
// cancellation it is restored to the target before the error surfaces, on
// success the authoritative handling is left to the mutation's hooks.
//
// Optimistic windows targeting the same store serialize: a second mutation
// blocks until the first one's apply/rollback cycle finishes, so rollbacks
// never clobber each other's snapshots.
func MutateOptimistic[A, V, T any](
	ctx context.Context,
	ms *MutationStore[A, V],
	args A,
	target *Store[T],
	apply func(current T, hasValue bool, args A) T,
) (V, error) {
	select {
	case target.optGate <- struct{}{}:
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}

	prevValue, prevHas := target.valueSnapshot()
	target.SetValue(apply(prevValue, prevHas, args))

	return ms.run(ctx, args, func(_ V, err error, cancelled bool) {
		if err != nil || cancelled {
			target.restoreValue(prevValue, prevHas)
		}
		<-target.optGate
	})
}
