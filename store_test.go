package ashquery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Borislavv/go-ash-query/model"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestStore_FetchResolvesAndCaches(t *testing.T) {
	ctx := context.Background()
	var invokes atomic.Int64

	s := Detached(ctx, Query[string]{
		Path: model.NewPath("mountains", "list"),
		Fetch: func(context.Context, *RunContext) (string, error) {
			invokes.Add(1)
			return "alps", nil
		},
	})

	value, err := s.Fetch(ctx)
	require.NoError(t, err)
	require.Equal(t, "alps", value)

	state := s.CurrentState()
	require.True(t, state.IsSuccess())
	require.True(t, state.HasValue)
	require.Equal(t, int64(1), state.ValueUpdateCount)
	require.Equal(t, int64(1), invokes.Load())

	// resolved state is not stale and temporary subscriptions do not linger
	require.False(t, s.IsStale())
	require.Equal(t, 0, s.SubscriberCount())
}

func TestStore_ConcurrentRunsJoinOneTask(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	var invokes atomic.Int64

	s := Detached(ctx, Query[int]{
		Path: model.NewPath("mountains", "count"),
		Fetch: func(context.Context, *RunContext) (int, error) {
			invokes.Add(1)
			<-release
			return 42, nil
		},
	})

	handles := make([]*TaskHandle[int], 0, 10)
	for i := 0; i < 10; i++ {
		handles = append(handles, s.Run(false))
	}
	close(release)

	for _, h := range handles {
		value, err := h.Wait(ctx)
		require.NoError(t, err)
		require.Equal(t, 42, value)
	}
	require.Equal(t, int64(1), invokes.Load())
	require.Equal(t, int64(1), s.CurrentState().ValueUpdateCount)
}

func TestStore_ForceNewBypassesDedup(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	var invokes atomic.Int64

	s := Detached(ctx, Query[int]{
		Path: model.NewPath("mountains", "count"),
		Fetch: func(context.Context, *RunContext) (int, error) {
			n := invokes.Add(1)
			<-release
			return int(n), nil
		},
	})

	first := s.Run(false)
	second := s.Run(true)
	require.NotEqual(t, first.ID(), second.ID())
	close(release)

	_, err := first.Wait(ctx)
	require.NoError(t, err)
	_, err = second.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), invokes.Load())
}

func TestStore_RetryStaysInsideOneRun(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	var (
		mu       sync.Mutex
		attempts []int
	)

	s := Detached(ctx, Query[string]{
		Path: model.NewPath("flaky"),
		Fetch: func(_ context.Context, rc *RunContext) (string, error) {
			mu.Lock()
			attempts = append(attempts, rc.Attempt)
			n := len(attempts)
			mu.Unlock()
			if n < 3 {
				return "", boom
			}
			return "finally", nil
		},
		Modifiers: []Modifier[string]{
			WithRetry[string](&RetryPolicy{MaxAttempts: 3}),
		},
	})

	value, err := s.Fetch(ctx)
	require.NoError(t, err)
	require.Equal(t, "finally", value)

	mu.Lock()
	require.Equal(t, []int{1, 2, 3}, attempts)
	mu.Unlock()

	// intermediate failures never reach the state, only the terminal outcome
	state := s.CurrentState()
	require.Equal(t, int64(1), state.ValueUpdateCount)
	require.Equal(t, int64(0), state.ErrorUpdateCount)
}

func TestStore_RetryBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	var invokes atomic.Int64

	s := Detached(ctx, Query[string]{
		Path: model.NewPath("flaky"),
		Fetch: func(context.Context, *RunContext) (string, error) {
			invokes.Add(1)
			return "", boom
		},
		Modifiers: []Modifier[string]{
			WithRetry[string](&RetryPolicy{MaxAttempts: 2}),
		},
	})

	_, err := s.Fetch(ctx)
	require.ErrorIs(t, err, boom)
	require.Equal(t, int64(2), invokes.Load())

	state := s.CurrentState()
	require.True(t, state.IsFailure())
	require.Equal(t, int64(1), state.ErrorUpdateCount)
}

func TestStore_CancellationIsNotTerminalFailure(t *testing.T) {
	ctx := context.Background()
	results := make(chan int, 1)

	s := Detached(ctx, Query[int]{
		Path: model.NewPath("mountains", "height"),
		Fetch: func(fctx context.Context, _ *RunContext) (int, error) {
			select {
			case v := <-results:
				return v, nil
			case <-fctx.Done():
				return 0, fctx.Err()
			}
		},
	})

	results <- 4810
	value, err := s.Fetch(ctx)
	require.NoError(t, err)
	require.Equal(t, 4810, value)

	h := s.Run(false)
	h.Cancel()
	_, err = h.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// the state keeps its last terminal shape once the cancelled task settles
	require.Eventually(t, func() bool {
		state := s.CurrentState()
		return state.IsSuccess() && state.ActiveTasks == 0
	}, time.Second, 5*time.Millisecond)

	state := s.CurrentState()
	require.Equal(t, 4810, state.Value)
	require.Equal(t, int64(1), state.ValueUpdateCount)
	require.Equal(t, int64(0), state.ErrorUpdateCount)
}

func TestStore_SubscribersObserveOrderedTransitions(t *testing.T) {
	ctx := context.Background()

	s := Detached(ctx, Query[string]{
		Path: model.NewPath("mountains", "list"),
		Fetch: func(context.Context, *RunContext) (string, error) {
			return "alps", nil
		},
		Modifiers: []Modifier[string]{
			// keep the store quiet until we run explicitly
			WithCondition[string](AlwaysSilent(false)),
		},
	})

	var (
		mu       sync.Mutex
		statuses []Status
	)
	sub := s.Subscribe(func(state State[string], _ *RunContext) {
		mu.Lock()
		statuses = append(statuses, state.Status)
		mu.Unlock()
	})
	defer sub.Cancel()

	_, err := s.Run(false).Wait(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Equal(t, []Status{StatusLoading, StatusSuccess}, statuses)
	mu.Unlock()
}

func TestStore_ConditionGatesAutomaticRun(t *testing.T) {
	ctx := context.Background()
	gate := NewObserved(false)
	var invokes atomic.Int64

	s := Detached(ctx, Query[string]{
		Path: model.NewPath("mountains", "list"),
		Fetch: func(context.Context, *RunContext) (string, error) {
			invokes.Add(1)
			return "alps", nil
		},
		Modifiers: []Modifier[string]{WithCondition[string](gate)},
	})

	sub := s.Subscribe(func(State[string], *RunContext) {})
	defer sub.Cancel()

	// subscriber attached, condition unsatisfied: nothing runs
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int64(0), invokes.Load())
	require.True(t, s.CurrentState().IsIdle())

	gate.Set(true)
	require.Eventually(t, func() bool {
		return s.CurrentState().IsSuccess()
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, int64(1), invokes.Load())
}

func TestStore_SatisfiedConditionRunsOnSubscribe(t *testing.T) {
	ctx := context.Background()

	s := Detached(ctx, Query[string]{
		Path: model.NewPath("mountains", "list"),
		Fetch: func(context.Context, *RunContext) (string, error) {
			return "alps", nil
		},
	})

	sub := s.Subscribe(func(State[string], *RunContext) {})
	defer sub.Cancel()

	// default condition is satisfied and the state never resolved, so the
	// first subscriber starts a run by itself
	require.Eventually(t, func() bool {
		state := s.CurrentState()
		return state.IsSuccess() && state.Value == "alps"
	}, time.Second, 5*time.Millisecond)
}

func TestStore_UnsatisfiedConditionCancelsAutomaticWork(t *testing.T) {
	ctx := context.Background()
	gate := NewObserved(true)
	started := make(chan struct{}, 1)

	s := Detached(ctx, Query[int]{
		Path: model.NewPath("slow"),
		Fetch: func(fctx context.Context, _ *RunContext) (int, error) {
			started <- struct{}{}
			<-fctx.Done()
			return 0, fctx.Err()
		},
		Modifiers: []Modifier[int]{WithCondition[int](gate)},
	})

	sub := s.Subscribe(func(State[int], *RunContext) {})
	defer sub.Cancel()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("automatic run never started")
	}

	gate.Set(false)
	require.Eventually(t, func() bool {
		return s.CurrentState().ActiveTasks == 0
	}, time.Second, 5*time.Millisecond)
	require.True(t, s.CurrentState().IsIdle())
}

func TestStore_InvalidateRefetchesWithSubscriber(t *testing.T) {
	ctx := context.Background()
	var invokes atomic.Int64

	s := Detached(ctx, Query[int]{
		Path: model.NewPath("mountains", "count"),
		Fetch: func(context.Context, *RunContext) (int, error) {
			return int(invokes.Add(1)), nil
		},
	})

	sub := s.Subscribe(func(State[int], *RunContext) {})
	defer sub.Cancel()

	require.Eventually(t, func() bool {
		return s.CurrentState().ValueUpdateCount == 1
	}, time.Second, 5*time.Millisecond)

	s.Invalidate()
	require.Eventually(t, func() bool {
		return s.CurrentState().ValueUpdateCount == 2
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 2, s.CurrentState().Value)
}

func TestStore_InvalidateWithoutSubscriberStaysLazy(t *testing.T) {
	ctx := context.Background()
	var invokes atomic.Int64

	s := Detached(ctx, Query[int]{
		Path: model.NewPath("mountains", "count"),
		Fetch: func(context.Context, *RunContext) (int, error) {
			return int(invokes.Add(1)), nil
		},
	})

	_, err := s.Fetch(ctx)
	require.NoError(t, err)
	require.False(t, s.IsStale())

	s.Invalidate()
	require.True(t, s.IsStale())

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int64(1), invokes.Load())
}

func TestStore_RefetchOnChangeTrigger(t *testing.T) {
	ctx := context.Background()
	trig := NewObserved(false)
	var invokes atomic.Int64

	s := Detached(ctx, Query[int]{
		Path: model.NewPath("mountains", "count"),
		Fetch: func(context.Context, *RunContext) (int, error) {
			return int(invokes.Add(1)), nil
		},
		Modifiers: []Modifier[int]{RefetchOnChange[int](trig)},
	})

	sub := s.Subscribe(func(State[int], *RunContext) {})
	defer sub.Cancel()

	require.Eventually(t, func() bool {
		return s.CurrentState().ValueUpdateCount == 1
	}, time.Second, 5*time.Millisecond)

	// a trigger re-runs even though the cached value is fresh
	trig.Set(true)
	require.Eventually(t, func() bool {
		return s.CurrentState().ValueUpdateCount == 2
	}, time.Second, 5*time.Millisecond)
}

func TestStore_StaleAfterOnMockClock(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()

	s := Detached(ctx, Query[string]{
		Path: model.NewPath("weather"),
		Fetch: func(context.Context, *RunContext) (string, error) {
			return "sunny", nil
		},
		Modifiers: []Modifier[string]{StaleAfter[string](time.Minute)},
	}, WithClock(mock))

	_, err := s.Fetch(ctx)
	require.NoError(t, err)
	require.False(t, s.IsStale())

	mock.Add(59 * time.Second)
	require.False(t, s.IsStale())

	mock.Add(time.Second)
	require.True(t, s.IsStale())
}

func TestStore_StaleWhenPredicatesAreORCombined(t *testing.T) {
	ctx := context.Background()
	flag := &atomic.Bool{}

	s := Detached(ctx, Query[int]{
		Path: model.NewPath("mountains", "count"),
		Fetch: func(context.Context, *RunContext) (int, error) {
			return 7, nil
		},
		Modifiers: []Modifier[int]{
			StaleWhen[int](func(State[int], *RunContext) bool { return false }),
			StaleWhen[int](func(State[int], *RunContext) bool { return flag.Load() }),
		},
	})

	_, err := s.Fetch(ctx)
	require.NoError(t, err)
	require.False(t, s.IsStale())

	flag.Store(true)
	require.True(t, s.IsStale())
}

func TestStore_SetValueBehavesLikeATransition(t *testing.T) {
	ctx := context.Background()

	s := Detached(ctx, Query[int]{
		Path: model.NewPath("local"),
		Fetch: func(context.Context, *RunContext) (int, error) {
			return 0, nil
		},
		Modifiers: []Modifier[int]{WithCondition[int](AlwaysSilent(false))},
	})

	seen := make(chan State[int], 1)
	sub := s.Subscribe(func(state State[int], _ *RunContext) { seen <- state })
	defer sub.Cancel()

	s.SetValue(99)

	select {
	case state := <-seen:
		require.Equal(t, 99, state.Value)
		require.True(t, state.IsSuccess())
	case <-time.After(time.Second):
		t.Fatal("subscriber never notified")
	}
	require.False(t, s.IsStale())
	require.Equal(t, int64(1), s.CurrentState().ValueUpdateCount)
}

func TestStore_EvictedStoreRejectsRuns(t *testing.T) {
	ctx := context.Background()

	s := Detached(ctx, Query[int]{
		Path: model.NewPath("gone"),
		Fetch: func(context.Context, *RunContext) (int, error) {
			return 1, nil
		},
	})

	s.evict()

	_, err := s.Run(false).Wait(ctx)
	require.ErrorIs(t, err, ErrStoreEvicted)
	_, err = s.Fetch(ctx)
	require.ErrorIs(t, err, ErrStoreEvicted)
}

func TestStore_HandlerMayReenterTheStore(t *testing.T) {
	ctx := context.Background()

	s := Detached(ctx, Query[int]{
		Path: model.NewPath("reentrant"),
		Fetch: func(context.Context, *RunContext) (int, error) {
			return 5, nil
		},
		Modifiers: []Modifier[int]{WithCondition[int](AlwaysSilent(false))},
	})

	done := make(chan State[int], 4)
	sub := s.Subscribe(func(state State[int], _ *RunContext) {
		// reading state from inside a handler must not deadlock
		_ = s.CurrentState()
		done <- state
	})
	defer sub.Cancel()

	_, err := s.Run(false).Wait(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(done) == 2 }, time.Second, 5*time.Millisecond)
}
