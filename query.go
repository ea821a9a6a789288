package ashquery

import (
	"context"

	"github.com/Borislavv/go-ash-query/model"
)

// FetchFunc is caller-supplied fetch logic: it receives the cancellable task
// context plus the run's execution context and yields a value or an error.
// The engine performs no transport itself.
type FetchFunc[V any] func(ctx context.Context, rc *RunContext) (V, error)

// Query declares a read operation: its structural identity, its fetch logic
// and the modifiers layered on top. Modifiers never change the path, so two
// queries differing only in modifiers resolve to the same cache entry.
type Query[V any] struct {
	Path      model.Path
	Fetch     FetchFunc[V]
	Modifiers []Modifier[V]
}
