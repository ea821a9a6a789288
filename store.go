package ashquery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Borislavv/go-ash-query/internal/telemetry"
	"github.com/Borislavv/go-ash-query/model"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Handler receives a state snapshot and the run context of the transition
// that produced it. Handlers run on the store's notification path, in
// transition order, without the store lock held, so they may re-enter the
// store (subscribe, unsubscribe, run).
type Handler[V any] func(state State[V], rc *RunContext)

type subscriber[V any] struct {
	handler   Handler[V]
	temporary bool
}

type notification[V any] struct {
	state    State[V]
	rc       *RunContext
	handlers []Handler[V]
}

// Store owns one operation state for one identity path: the per-key state
// machine and task coordinator. Concurrent runs without forceNew join one
// in-flight task, so fetch logic is never invoked twice concurrently for the
// same path unless explicitly requested.
type Store[V any] struct {
	ctx      context.Context
	cancel   context.CancelFunc
	path     model.Path
	fetch    FetchFunc[V]
	opts     *StoreOptions[V]
	clk      clock.Clock
	logger   *slog.Logger
	counters *telemetry.Counters

	mu           sync.Mutex
	state        State[V]
	lastTerminal Status
	subs         map[uuid.UUID]*subscriber[V]
	permanent    int
	tasks        map[uint64]*task[V]
	shared       *task[V]
	taskSeq      uint64
	invalidated  bool
	closed       bool
	pending      []notification[V]
	notifying    bool
	condSub      *Subscription
	triggerSubs  []*Subscription

	// serializes optimistic apply/rollback windows targeting this store;
	// held across the awaited write, which is why it is a channel and not
	// the state mutex
	optGate chan struct{}
}

func newStore[V any](
	ctx context.Context,
	path model.Path,
	fetch FetchFunc[V],
	opts *StoreOptions[V],
	clk clock.Clock,
	logger *slog.Logger,
	counters *telemetry.Counters,
) *Store[V] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Store[V]{
		ctx:      ctx,
		cancel:   cancel,
		path:     path,
		fetch:    fetch,
		opts:     opts,
		clk:      clk,
		logger:   logger,
		counters: counters,
		subs:     make(map[uuid.UUID]*subscriber[V]),
		tasks:    make(map[uint64]*task[V]),
		optGate:  make(chan struct{}, 1),
	}
	counters.StoresCreated.Add(1)
	return s
}

// Detached builds a store that bypasses any client: it is never registered,
// never swept, and never receives broadcast invalidations. Used for isolated
// and test execution.
func Detached[V any](ctx context.Context, q Query[V], opts ...Option) *Store[V] {
	st := newSettings(opts...)
	resolved := resolveOptions(st.cfg, false, q.Modifiers)
	return newStore(ctx, q.Path, q.Fetch, resolved, st.clk, st.logger, telemetry.NewCounters())
}

// Path returns the store's identity path.
func (s *Store[V]) Path() model.Path { return s.path }

// CurrentState returns a lock-guarded snapshot; it never blocks on in-flight
// work.
func (s *Store[V]) CurrentState() State[V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SubscriberCount reports attached non-temporary subscribers.
func (s *Store[V]) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permanent
}

// IsStale reports whether the cached value is eligible for automatic
// refetch: never-resolved entries are always stale, otherwise any applied
// staleness predicate suffices.
func (s *Store[V]) IsStale() bool {
	rc := s.freshContext(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isStaleLocked(rc)
}

func (s *Store[V]) isStaleLocked(rc *RunContext) bool {
	if s.invalidated || s.state.neverResolved() {
		return true
	}
	for _, pred := range s.opts.stalePreds {
		if pred(s.state, rc) {
			return true
		}
	}
	return false
}

// Invalidate marks the cached value stale. If a non-temporary subscriber is
// attached and the run condition is satisfied, a refetch starts immediately.
func (s *Store[V]) Invalidate() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.invalidated = true
	hasSubs := s.permanent > 0
	s.mu.Unlock()

	if hasSubs && s.opts.condition.IsSatisfied(s.freshContext(true)) {
		s.maybeAutoRun()
	}
}

// Run starts or joins an execution. Without forceNew, an in-flight task for
// this path is joined instead of invoking fetch logic again; with forceNew a
// fresh task always starts.
func (s *Store[V]) Run(forceNew bool) *TaskHandle[V] {
	return s.runWith(s.fetch, false, forceNew, nil, nil)
}

func (s *Store[V]) runWith(
	base FetchFunc[V],
	automatic, forceNew bool,
	terminal func(V, error, bool),
	merge func(current V, hasCurrent bool, fetched V) V,
) *TaskHandle[V] {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if terminal != nil {
			var zero V
			terminal(zero, ErrStoreEvicted, false)
		}
		return settledHandle[V](ErrStoreEvicted)
	}
	if !forceNew && s.opts.dedup && s.shared != nil {
		t := s.shared
		s.mu.Unlock()
		s.counters.RunsJoined.Add(1)
		return &TaskHandle[V]{t: t}
	}
	t, flush := s.startTaskLocked(base, automatic, terminal, merge)
	s.mu.Unlock()
	if flush {
		s.flush()
	}
	return &TaskHandle[V]{t: t}
}

// startTaskLocked creates the task, flips state to loading and spawns the
// worker. Caller holds s.mu and must flush afterwards when told so.
func (s *Store[V]) startTaskLocked(
	base FetchFunc[V],
	automatic bool,
	terminal func(V, error, bool),
	merge func(current V, hasCurrent bool, fetched V) V,
) (*task[V], bool) {
	s.taskSeq++
	tctx, cancel := context.WithCancel(s.ctx)
	t := &task[V]{
		id:        s.taskSeq,
		automatic: automatic,
		cancel:    cancel,
		done:      make(chan struct{}),
		terminal:  terminal,
		merge:     merge,
	}
	s.tasks[t.id] = t
	if s.opts.dedup {
		s.shared = t
	}
	s.state.Status = StatusLoading
	s.state.ActiveTasks = len(s.tasks)

	s.counters.RunsStarted.Add(1)
	if automatic {
		s.counters.AutoRuns.Add(1)
	}

	rc := s.freshContext(automatic)
	// the running task mutates its context (attempt number); notified
	// handlers get their own copy
	flush := s.enqueueLocked(rc.clone())

	go s.execute(tctx, t, base, rc)
	return t, flush
}

func (s *Store[V]) execute(ctx context.Context, t *task[V], base FetchFunc[V], rc *RunContext) {
	fn := s.opts.compose(base)
	value, err := fn(ctx, rc)

	cancelled := ctx.Err() != nil &&
		(err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))

	switch {
	case cancelled:
		s.counters.Cancelled.Add(1)
		s.settle(t, value, context.Canceled, true, rc)
	case err != nil:
		s.counters.Failures.Add(1)
		s.settle(t, value, err, false, rc)
	default:
		s.counters.Successes.Add(1)
		s.settle(t, value, nil, false, rc)
	}
}

// settle applies the terminal (or cancelled) outcome atomically, invokes the
// task's terminal hook, releases joiners and notifies subscribers.
func (s *Store[V]) settle(t *task[V], value V, err error, cancelled bool, rc *RunContext) {
	s.mu.Lock()
	delete(s.tasks, t.id)
	if s.shared == t {
		s.shared = nil
	}
	s.state.ActiveTasks = len(s.tasks)

	switch {
	case cancelled:
		// not a terminal failure: with no other task in flight the state
		// keeps its last terminal shape
		if len(s.tasks) == 0 {
			s.state.Status = s.lastTerminal
		}
	case err != nil:
		s.state.Err = err
		s.state.Status = StatusFailure
		s.state.ErrorUpdateCount++
		s.state.LastUpdatedAt = s.clk.Now()
		s.lastTerminal = StatusFailure
	default:
		if t.merge != nil {
			value = t.merge(s.state.Value, s.state.HasValue, value)
		}
		s.state.Value = value
		s.state.HasValue = true
		s.state.Err = nil
		s.state.Status = StatusSuccess
		s.state.ValueUpdateCount++
		s.state.LastUpdatedAt = s.clk.Now()
		s.invalidated = false
		s.lastTerminal = StatusSuccess
	}

	flush := s.enqueueLocked(rc)
	s.mu.Unlock()

	// rollback and side-effect hooks complete before joiners observe the
	// outcome
	if t.terminal != nil {
		t.terminal(value, err, cancelled)
	}

	t.value = value
	t.err = err
	t.cancelled = cancelled
	close(t.done)

	if flush {
		s.flush()
	}
}

// Subscribe registers a handler invoked for every subsequent state change.
// The first non-temporary subscriber attaches the run condition; if it is
// satisfied and the state is stale, an automatic run starts.
func (s *Store[V]) Subscribe(handler Handler[V]) *Subscription {
	return s.subscribe(handler, false)
}

func (s *Store[V]) subscribe(handler Handler[V], temporary bool) *Subscription {
	sub := newSubscription(nil)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return sub
	}
	s.subs[sub.ID()] = &subscriber[V]{handler: handler, temporary: temporary}
	first := false
	if !temporary {
		s.permanent++
		first = s.permanent == 1
	}
	s.mu.Unlock()

	sub.cancel = func() { s.unsubscribe(sub.ID(), temporary) }

	if first {
		s.attachConditions()
	}
	return sub
}

func (s *Store[V]) unsubscribe(id uuid.UUID, temporary bool) {
	s.mu.Lock()
	if _, ok := s.subs[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, id)
	last := false
	if !temporary {
		s.permanent--
		last = s.permanent == 0
	}
	condSub, triggers := s.condSub, s.triggerSubs
	if last {
		s.condSub, s.triggerSubs = nil, nil
	}
	s.mu.Unlock()

	if last {
		if condSub != nil {
			condSub.Cancel()
		}
		for _, tr := range triggers {
			tr.Cancel()
		}
	}
}

func (s *Store[V]) attachConditions() {
	rc := s.freshContext(true)

	condSub := s.opts.condition.Subscribe(rc, s.onConditionChange)

	triggers := make([]*Subscription, 0, len(s.opts.triggers))
	for _, trig := range s.opts.triggers {
		var initial atomic.Bool
		initial.Store(true)
		triggers = append(triggers, trig.Subscribe(rc, func(sat bool) {
			// the immediate emission reports the current value, it is not a
			// notification
			if initial.CompareAndSwap(true, false) {
				return
			}
			if sat {
				s.triggerRun()
			}
		}))
	}

	s.mu.Lock()
	if s.permanent == 0 || s.closed {
		// raced with the last unsubscribe, release immediately
		s.mu.Unlock()
		condSub.Cancel()
		for _, tr := range triggers {
			tr.Cancel()
		}
		return
	}
	s.condSub = condSub
	s.triggerSubs = triggers
	s.mu.Unlock()
}

func (s *Store[V]) onConditionChange(satisfied bool) {
	if satisfied {
		s.maybeAutoRun()
		return
	}

	// unsatisfied while automatic work is in flight cancels it
	s.mu.Lock()
	var cancels []context.CancelFunc
	for _, t := range s.tasks {
		if t.automatic {
			cancels = append(cancels, t.cancel)
		}
	}
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// maybeAutoRun starts an automatic task when a non-temporary subscriber is
// attached, nothing is in flight and the state is stale.
func (s *Store[V]) maybeAutoRun() {
	rc := s.freshContext(true)

	s.mu.Lock()
	if s.closed || s.permanent == 0 || len(s.tasks) > 0 || !s.isStaleLocked(rc) {
		s.mu.Unlock()
		return
	}
	_, flush := s.startTaskLocked(s.fetch, true, nil, nil)
	s.mu.Unlock()
	if flush {
		s.flush()
	}
}

// triggerRun re-executes on a trigger notification regardless of staleness.
func (s *Store[V]) triggerRun() {
	s.mu.Lock()
	if s.closed || s.permanent == 0 || len(s.tasks) > 0 {
		s.mu.Unlock()
		return
	}
	_, flush := s.startTaskLocked(s.fetch, true, nil, nil)
	s.mu.Unlock()
	if flush {
		s.flush()
	}
}

// Fetch subscribes temporarily, runs (joining any in-flight task), awaits the
// outcome and unsubscribes. Temporary subscriptions never count toward
// eviction or automatic runs.
func (s *Store[V]) Fetch(ctx context.Context) (V, error) {
	sub := s.subscribe(func(State[V], *RunContext) {}, true)
	defer sub.Cancel()
	return s.Run(false).Wait(ctx)
}

// Refetch runs and awaits, discarding the value. Used by client broadcasts.
func (s *Store[V]) Refetch(ctx context.Context) error {
	_, err := s.Fetch(ctx)
	return err
}

// SetValue applies a local write: subscribers observe it like any other
// transition. Optimistic mutations use it to apply and roll back transforms.
func (s *Store[V]) SetValue(value V) {
	rc := s.freshContext(false)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state.Value = value
	s.state.HasValue = true
	s.state.Err = nil
	if len(s.tasks) == 0 {
		s.state.Status = StatusSuccess
	}
	s.state.ValueUpdateCount++
	s.state.LastUpdatedAt = s.clk.Now()
	s.lastTerminal = StatusSuccess
	flush := s.enqueueLocked(rc)
	s.mu.Unlock()
	if flush {
		s.flush()
	}
}

func (s *Store[V]) valueSnapshot() (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Value, s.state.HasValue
}

// restoreValue puts back a recorded pre-transform snapshot, including the
// no-value shape.
func (s *Store[V]) restoreValue(value V, hasValue bool) {
	rc := s.freshContext(false)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state.Value = value
	s.state.HasValue = hasValue
	if len(s.tasks) == 0 {
		switch {
		case hasValue:
			s.state.Status = StatusSuccess
		case s.state.Err != nil:
			s.state.Status = StatusFailure
		default:
			s.state.Status = StatusIdle
		}
	}
	s.state.ValueUpdateCount++
	s.state.LastUpdatedAt = s.clk.Now()
	flush := s.enqueueLocked(rc)
	s.mu.Unlock()
	if flush {
		s.flush()
	}
}

// evict force-closes the store: every task is cancelled, condition observers
// are released and subscribers get one final notification. Automatic client
// eviction never calls this on a store with subscribers.
func (s *Store[V]) evict() {
	rc := s.freshContext(false)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancels := make([]context.CancelFunc, 0, len(s.tasks))
	for _, t := range s.tasks {
		cancels = append(cancels, t.cancel)
	}
	condSub, triggers := s.condSub, s.triggerSubs
	s.condSub, s.triggerSubs = nil, nil
	flush := s.enqueueLocked(rc)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if condSub != nil {
		condSub.Cancel()
	}
	for _, tr := range triggers {
		tr.Cancel()
	}
	s.cancel()

	if flush {
		s.flush()
	}
}

func (s *Store[V]) isManual() bool { return s.opts.manual }

func (s *Store[V]) freshContext(automatic bool) *RunContext {
	rc := &RunContext{
		Clock:       s.clk,
		Logger:      s.logger,
		IsAutomatic: automatic,
		Attempt:     1,
		Retry:       s.opts.retry,
		StaleAfter:  s.opts.staleAfter,
		counters:    s.counters,
	}
	for _, edit := range s.opts.edits {
		edit(rc)
	}
	return rc
}

/**
 * Notification path: transitions enqueue ordered snapshots under the state
 * lock; one drainer at a time delivers them without it, so handlers observe
 * transitions in order and may safely re-enter the store.
 */

func (s *Store[V]) enqueueLocked(rc *RunContext) bool {
	if len(s.subs) == 0 {
		return false
	}
	handlers := make([]Handler[V], 0, len(s.subs))
	for _, sub := range s.subs {
		handlers = append(handlers, sub.handler)
	}
	s.pending = append(s.pending, notification[V]{state: s.state, rc: rc, handlers: handlers})
	if s.notifying {
		return false
	}
	s.notifying = true
	return true
}

func (s *Store[V]) flush() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.notifying = false
			s.mu.Unlock()
			return
		}
		n := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		for _, h := range n.handlers {
			h(n.state, n.rc)
		}
	}
}

func settledHandle[V any](err error) *TaskHandle[V] {
	t := &task[V]{done: make(chan struct{}), err: err, cancel: func() {}}
	close(t.done)
	return &TaskHandle[V]{t: t}
}
