package ashquery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Borislavv/go-ash-query/config"
	"github.com/Borislavv/go-ash-query/internal/shared/rate"
	"github.com/Borislavv/go-ash-query/internal/telemetry"
	"github.com/Borislavv/go-ash-query/model"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// AnyStore is the type-erased surface a client exposes for bulk operations
// over registered stores.
type AnyStore interface {
	Path() model.Path
	SubscriberCount() int
	IsStale() bool
	Invalidate()
	Refetch(ctx context.Context) error
}

// registeredStore adds the client-only lifecycle surface.
type registeredStore interface {
	AnyStore
	isManual() bool
	evict()
}

type registration struct {
	path  model.Path
	store registeredStore
	typed any
}

// Client is the keyed registry and lifecycle authority for operation stores:
// lazy creation, prefix lookup and broadcast, and eviction of subscriber-less
// stores under memory pressure. One client per application scope.
type Client struct {
	ctx      context.Context
	cls      context.CancelFunc
	cfg      *config.Client
	logger   *slog.Logger
	settings *settings
	counters *telemetry.Counters

	mu      sync.Mutex
	buckets map[uint64][]*registration

	pressureSub *Subscription
	invokeCh    chan struct{}
	telemeter   telemetry.Logger
}

func New(ctx context.Context, cfg *config.Client, logger *slog.Logger, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(ctx)
	st := newSettings(opts...)
	st.cfg = cfg
	st.logger = logger

	c := &Client{
		ctx:      ctx,
		cls:      cancel,
		cfg:      cfg,
		logger:   logger,
		settings: st,
		counters: telemetry.NewCounters(),
		buckets:  make(map[uint64][]*registration),
		invokeCh: make(chan struct{}, 1),
	}
	c.telemeter = telemetry.New(ctx, cfg, logger, c.counters, c)

	if st.pressure != nil && cfg != nil && cfg.Eviction.Enabled() {
		go c.sweeper(cfg.Eviction)
		c.pressureSub = st.pressure.Subscribe(c.onPressure)
	}

	return c
}

// Close tears the client down: every registered store's context is cancelled
// and background loops stop.
func (c *Client) Close() error {
	var errs error
	if c.pressureSub != nil {
		c.pressureSub.Cancel()
	}
	errs = multierr.Append(errs, c.telemeter.Close())
	c.cls()
	return errs
}

// Len reports the number of registered stores.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, bucket := range c.buckets {
		n += len(bucket)
	}
	return n
}

// StoreFor returns the registered store for the query's path, creating one on
// first access. Re-resolving an existing path with a different state shape is
// a cache-key collision bug: it is reported, never coerced.
func StoreFor[V any](c *Client, q Query[V]) (*Store[V], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if reg, ok := c.lookupLocked(q.Path); ok {
		typed, ok := reg.typed.(*Store[V])
		if !ok {
			return nil, c.shapeMismatch(q.Path, reg.typed, (*Store[V])(nil))
		}
		return typed, nil
	}

	resolved := resolveOptions(c.cfg, false, q.Modifiers)
	store := newStore(c.ctx, q.Path, q.Fetch, resolved, c.settings.clk, c.logger, c.counters)
	c.registerLocked(&registration{path: q.Path, store: store, typed: store})
	return store, nil
}

// PaginatedFor returns the registered paginated store for the query's path,
// creating one on first access.
func PaginatedFor[C comparable, I any](c *Client, q PaginatedQuery[C, I]) (*PaginatedStore[C, I], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if reg, ok := c.lookupLocked(q.Path); ok {
		typed, ok := reg.typed.(*PaginatedStore[C, I])
		if !ok {
			return nil, c.shapeMismatch(q.Path, reg.typed, (*PaginatedStore[C, I])(nil))
		}
		return typed, nil
	}

	store := newPaginatedStore(c.ctx, q, c.settings, c.counters)
	c.registerLocked(&registration{path: q.Path, store: store, typed: store})
	return store, nil
}

// MutationFor returns the registered mutation store for the mutation's path,
// creating one on first access.
func MutationFor[A, V any](c *Client, m Mutation[A, V]) (*MutationStore[A, V], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if reg, ok := c.lookupLocked(m.Path); ok {
		typed, ok := reg.typed.(*MutationStore[A, V])
		if !ok {
			return nil, c.shapeMismatch(m.Path, reg.typed, (*MutationStore[A, V])(nil))
		}
		return typed, nil
	}

	resolved := resolveOptions(c.cfg, true, m.Modifiers)
	store := newStore(c.ctx, m.Path, manualFetch[V](), resolved, c.settings.clk, c.logger, c.counters)
	ms := &MutationStore[A, V]{Store: store, def: m}
	c.registerLocked(&registration{path: m.Path, store: ms, typed: ms})
	return ms, nil
}

// StoresMatching returns every registered store whose path starts with the
// given prefix. Detached stores never appear.
func (c *Client) StoresMatching(prefix model.Path) []AnyStore {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []AnyStore
	for _, bucket := range c.buckets {
		for _, reg := range bucket {
			if reg.path.HasPrefix(prefix) {
				out = append(out, reg.store)
			}
		}
	}
	return out
}

// InvalidateMatching marks every store under the prefix stale. Stores with
// attached subscribers and a satisfied run condition refetch immediately.
func (c *Client) InvalidateMatching(prefix model.Path) int {
	stores := c.StoresMatching(prefix)
	for _, st := range stores {
		st.Invalidate()
	}
	return len(stores)
}

// RefetchMatching refetches every non-manual store under the prefix
// concurrently and aggregates the failures.
func (c *Client) RefetchMatching(ctx context.Context, prefix model.Path) error {
	c.mu.Lock()
	var targets []registeredStore
	for _, bucket := range c.buckets {
		for _, reg := range bucket {
			if reg.path.HasPrefix(prefix) && !reg.store.isManual() {
				targets = append(targets, reg.store)
			}
		}
	}
	c.mu.Unlock()

	var (
		errsMu sync.Mutex
		errs   error
		grp    errgroup.Group
	)
	for _, st := range targets {
		st := st
		grp.Go(func() error {
			if err := st.Refetch(ctx); err != nil {
				errsMu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("refetch %s: %w", st.Path(), err))
				errsMu.Unlock()
			}
			return nil
		})
	}
	_ = grp.Wait()
	return errs
}

// Evict force-removes the store for the given path: its tasks are cancelled
// and its subscribers get a final notification.
func (c *Client) Evict(path model.Path) bool {
	c.mu.Lock()
	reg, ok := c.removeLocked(path)
	c.mu.Unlock()
	if !ok {
		return false
	}
	reg.store.evict()
	c.counters.StoresEvicted.Add(1)
	return true
}

// EvictMatching force-removes every store under the prefix.
func (c *Client) EvictMatching(prefix model.Path) int {
	c.mu.Lock()
	var victims []*registration
	for hash, bucket := range c.buckets {
		kept := bucket[:0]
		for _, reg := range bucket {
			if reg.path.HasPrefix(prefix) {
				victims = append(victims, reg)
			} else {
				kept = append(kept, reg)
			}
		}
		if len(kept) == 0 {
			delete(c.buckets, hash)
		} else {
			c.buckets[hash] = kept
		}
	}
	c.mu.Unlock()

	for _, reg := range victims {
		reg.store.evict()
	}
	c.counters.StoresEvicted.Add(int64(len(victims)))
	return len(victims)
}

// EvictUnsubscribed drops every registered store with zero non-temporary
// subscribers. Stores with a live subscriber are never touched; dropped
// stores stay usable for callers still holding them, they just no longer
// receive broadcasts.
func (c *Client) EvictUnsubscribed() int {
	c.mu.Lock()
	evicted := 0
	for hash, bucket := range c.buckets {
		kept := bucket[:0]
		for _, reg := range bucket {
			if reg.store.SubscriberCount() == 0 {
				evicted++
			} else {
				kept = append(kept, reg)
			}
		}
		if len(kept) == 0 {
			delete(c.buckets, hash)
		} else {
			c.buckets[hash] = kept
		}
	}
	c.mu.Unlock()

	c.counters.StoresEvicted.Add(int64(evicted))
	return evicted
}

/**
 * Private API.
 */

func (c *Client) lookupLocked(path model.Path) (*registration, bool) {
	for _, reg := range c.buckets[path.Hash()] {
		if reg.path.IsTheSame(path) {
			return reg, true
		}
		// hash collision
	}
	return nil, false
}

func (c *Client) registerLocked(reg *registration) {
	c.buckets[reg.path.Hash()] = append(c.buckets[reg.path.Hash()], reg)
}

func (c *Client) removeLocked(path model.Path) (*registration, bool) {
	bucket := c.buckets[path.Hash()]
	for i, reg := range bucket {
		if reg.path.IsTheSame(path) {
			bucket = append(bucket[:i], bucket[i+1:]...)
			if len(bucket) == 0 {
				delete(c.buckets, path.Hash())
			} else {
				c.buckets[path.Hash()] = bucket
			}
			return reg, true
		}
	}
	return nil, false
}

func (c *Client) shapeMismatch(path model.Path, existing, requested any) error {
	err := fmt.Errorf("%w: path %s already holds %T, requested %T", ErrStoreShapeMismatch, path, existing, requested)
	c.logger.Error("store shape mismatch", "path", path.String(), "error", err)
	return err
}

// onPressure enqueues a sweep on warning and critical levels. Signals arriving
// while a sweep is pending coalesce.
func (c *Client) onPressure(level PressureLevel) {
	if level < PressureWarning {
		return
	}
	select {
	case c.invokeCh <- struct{}{}:
	default:
	}
}

// sweeper drains pressure signals, paced by a jittered rate limit so a noisy
// source cannot thrash the registry.
func (c *Client) sweeper(cfg *config.EvictionCfg) {
	jitter := rate.NewJitter(c.ctx, cfg.SweepsPerSec)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.invokeCh:
			jitter.Take()
			if evicted := c.EvictUnsubscribed(); evicted > 0 {
				log.Debug().Int("evicted", evicted).Msg("pressure sweep dropped unsubscribed stores")
			}
		}
	}
}
