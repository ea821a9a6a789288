// Package ashquery is a client-side asynchronous data-fetching and caching
// engine: declarative queries, mutations and paginated queries are executed
// inside cancellable tasks, cached by structural identity, deduplicated while
// in flight, tracked for staleness and automatically re-fetched under
// composable conditions. The engine performs no transport and no persistence;
// callers supply the fetch logic.
package ashquery

import (
	"errors"
	"log/slog"

	"github.com/Borislavv/go-ash-query/config"
	"github.com/benbjohnson/clock"
)

var (
	// ErrStoreShapeMismatch reports a cache-key collision: one path resolved
	// with two different state shapes.
	ErrStoreShapeMismatch = errors.New("store shape mismatch")

	// ErrStoreEvicted is returned by runs on a force-evicted store.
	ErrStoreEvicted = errors.New("store evicted")

	// ErrManualOnly is returned when a mutation store is run without
	// arguments, i.e. through the plain query surface.
	ErrManualOnly = errors.New("manual-only operation requires arguments")

	// ErrNoNextPage is returned by FetchNextPage once the last fetched page
	// reported no successor.
	ErrNoNextPage = errors.New("no next page")
)

type settings struct {
	clk      clock.Clock
	logger   *slog.Logger
	pressure PressureSource
	cfg      *config.Client
}

// Option tunes a client or a detached store.
type Option func(*settings)

// WithClock swaps the time source, usually for a deterministic test clock.
func WithClock(clk clock.Clock) Option {
	return func(s *settings) { s.clk = clk }
}

// WithPressureSource attaches a memory-pressure stream to the client's
// eviction policy.
func WithPressureSource(src PressureSource) Option {
	return func(s *settings) { s.pressure = src }
}

// WithLogger sets the logger of a detached store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithConfig supplies client-level defaults to a detached store.
func WithConfig(cfg *config.Client) Option {
	return func(s *settings) { s.cfg = cfg }
}

func newSettings(opts ...Option) *settings {
	s := &settings{clk: clock.New(), logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
