package ashquery

import "context"

// task is one in-flight execution owned by a store. All joiners of the same
// task share its terminal outcome.
type task[V any] struct {
	id        uint64
	automatic bool
	cancel    context.CancelFunc
	done      chan struct{}

	// written once before done is closed, immutable afterwards
	value     V
	err       error
	cancelled bool

	// invoked with the terminal outcome before subscribers and joiners are
	// released; mutation stores hang rollback and side-effect hooks here
	terminal func(value V, err error, cancelled bool)

	// folds the fetched value into the current cached one under the store
	// lock at settle time; paginated stores merge pages here so concurrent
	// page fetches never clobber each other
	merge func(current V, hasCurrent bool, fetched V) V
}

// TaskHandle is a caller's reference to an in-flight (or finished) task.
// Concurrent Run calls without forceNew hand out handles to the same task.
type TaskHandle[V any] struct {
	t *task[V]
}

// ID identifies the underlying task within its store.
func (h *TaskHandle[V]) ID() uint64 { return h.t.id }

// Done is closed when the task reaches a terminal outcome or is cancelled.
func (h *TaskHandle[V]) Done() <-chan struct{} { return h.t.done }

// Cancel requests cooperative cancellation: the fetch logic observes it at
// its next suspension point. Cancellation is not a terminal failure; the
// store's state keeps its last terminal value.
func (h *TaskHandle[V]) Cancel() { h.t.cancel() }

// Wait blocks until the task finishes or ctx is done and returns the task's
// outcome. A cancelled task yields context.Canceled.
func (h *TaskHandle[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-h.t.done:
		return h.t.value, h.t.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
