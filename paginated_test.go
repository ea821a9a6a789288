package ashquery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Borislavv/go-ash-query/model"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

// threePageFeed serves cursors 0 -> 1 -> 2, the last page has no successor.
func threePageFeed(invokes *atomic.Int64) func(context.Context, *RunContext, int) (Page[int, string], error) {
	feed := map[int]Page[int, string]{
		0: {Param: 0, Items: []string{"alps", "andes"}, Next: ptr(1)},
		1: {Param: 1, Items: []string{"rockies"}, Next: ptr(2)},
		2: {Param: 2, Items: []string{"urals"}},
	}
	return func(_ context.Context, _ *RunContext, param int) (Page[int, string], error) {
		if invokes != nil {
			invokes.Add(1)
		}
		page, ok := feed[param]
		if !ok {
			return Page[int, string]{}, errors.New("unknown cursor")
		}
		return page, nil
	}
}

func TestPaginated_FetchNextPageWalksTheFeed(t *testing.T) {
	ctx := context.Background()

	p := DetachedPaginated(ctx, PaginatedQuery[int, string]{
		Path:         model.NewPath("mountains", "paged"),
		InitialParam: 0,
		FetchPage:    threePageFeed(nil),
	})

	first, err := p.FetchNextPage(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, first.Param)

	second, err := p.FetchNextPage(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, second.Param)

	third, err := p.FetchNextPage(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, third.Param)

	// the coalesced value keeps fetch order
	pages := p.CurrentState().Value
	require.Equal(t, []string{"alps", "andes", "rockies", "urals"}, pages.Items())
	require.False(t, pages.HasNextPage())

	_, err = p.FetchNextPage(ctx)
	require.ErrorIs(t, err, ErrNoNextPage)
}

func TestPaginated_RefetchedPageReplacesItsSlot(t *testing.T) {
	ctx := context.Background()
	var flipped atomic.Bool

	p := DetachedPaginated(ctx, PaginatedQuery[int, string]{
		Path:         model.NewPath("mountains", "paged"),
		InitialParam: 0,
		FetchPage: func(_ context.Context, _ *RunContext, param int) (Page[int, string], error) {
			if param == 0 && flipped.Load() {
				return Page[int, string]{Param: 0, Items: []string{"alps-v2"}, Next: ptr(1)}, nil
			}
			base := threePageFeed(nil)
			return base(nil, nil, param)
		},
	})

	_, err := p.FetchNextPage(ctx)
	require.NoError(t, err)
	_, err = p.FetchNextPage(ctx)
	require.NoError(t, err)

	flipped.Store(true)
	refetched, err := p.FetchPage(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"alps-v2"}, refetched.Items)

	// slot 0 is replaced in place, order and later pages survive
	pages := p.CurrentState().Value
	require.Len(t, pages, 2)
	require.Equal(t, []string{"alps-v2", "rockies"}, pages.Items())
}

func TestPaginated_ConcurrentSameParamFetchesJoin(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	var invokes atomic.Int64

	p := DetachedPaginated(ctx, PaginatedQuery[int, string]{
		Path:         model.NewPath("mountains", "paged"),
		InitialParam: 0,
		FetchPage: func(_ context.Context, _ *RunContext, param int) (Page[int, string], error) {
			invokes.Add(1)
			<-release
			return Page[int, string]{Param: param, Items: []string{"alps"}}, nil
		},
	})

	var wg sync.WaitGroup
	results := make([]Page[int, string], 4)
	fetchErrs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], fetchErrs[i] = p.FetchNextPage(ctx)
		}(i)
	}

	require.Eventually(t, func() bool { return invokes.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int64(1), invokes.Load())

	close(release)
	wg.Wait()
	for i, page := range results {
		require.NoError(t, fetchErrs[i])
		require.Equal(t, 0, page.Param)
	}
	require.Len(t, p.CurrentState().Value, 1)
}

func TestPaginated_DifferentParamsFetchConcurrently(t *testing.T) {
	ctx := context.Background()
	started := make(chan int, 2)
	release := make(chan struct{})

	p := DetachedPaginated(ctx, PaginatedQuery[int, string]{
		Path:         model.NewPath("mountains", "paged"),
		InitialParam: 0,
		FetchPage: func(_ context.Context, _ *RunContext, param int) (Page[int, string], error) {
			started <- param
			<-release
			return Page[int, string]{Param: param, Items: []string{"x"}}, nil
		},
	})

	var wg sync.WaitGroup
	fetchErrs := make([]error, 2)
	for i, param := range []int{0, 1} {
		wg.Add(1)
		go func(i, param int) {
			defer wg.Done()
			_, fetchErrs[i] = p.FetchPage(ctx, param)
		}(i, param)
	}

	// both parameters are in flight at once, dedup is per parameter
	seen := map[int]bool{}
	for i := 0; i < 2; i++ {
		select {
		case param := <-started:
			seen[param] = true
		case <-time.After(time.Second):
			t.Fatal("second parameter never started")
		}
	}
	require.True(t, seen[0] && seen[1])

	close(release)
	wg.Wait()
	require.NoError(t, fetchErrs[0])
	require.NoError(t, fetchErrs[1])
	require.Len(t, p.CurrentState().Value, 2)
}

func TestPaginated_RunResetsToFreshInitialPage(t *testing.T) {
	ctx := context.Background()

	p := DetachedPaginated(ctx, PaginatedQuery[int, string]{
		Path:         model.NewPath("mountains", "paged"),
		InitialParam: 0,
		FetchPage:    threePageFeed(nil),
	})

	_, err := p.FetchNextPage(ctx)
	require.NoError(t, err)
	_, err = p.FetchNextPage(ctx)
	require.NoError(t, err)
	require.Len(t, p.CurrentState().Value, 2)

	// a plain run discards accumulated pages and restarts from the front
	_, err = p.Store.Fetch(ctx)
	require.NoError(t, err)

	pages := p.CurrentState().Value
	require.Len(t, pages, 1)
	require.Equal(t, 0, pages[0].Param)
	require.True(t, pages.HasNextPage())
}

func TestPaginated_FailedPageLeavesSequenceIntact(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	p := DetachedPaginated(ctx, PaginatedQuery[int, string]{
		Path:         model.NewPath("mountains", "paged"),
		InitialParam: 0,
		FetchPage: func(_ context.Context, _ *RunContext, param int) (Page[int, string], error) {
			if param == 1 {
				return Page[int, string]{}, boom
			}
			return Page[int, string]{Param: 0, Items: []string{"alps"}, Next: ptr(1)}, nil
		},
	})

	_, err := p.FetchNextPage(ctx)
	require.NoError(t, err)

	_, err = p.FetchNextPage(ctx)
	require.ErrorIs(t, err, boom)

	pages := p.CurrentState().Value
	require.Len(t, pages, 1)
	require.True(t, pages.HasNextPage())
	require.Equal(t, 1, pages.NextParam(0))
}

func TestPages_HasNextPageAndNextParam(t *testing.T) {
	var empty Pages[int, string]
	require.True(t, empty.HasNextPage())
	require.Equal(t, 7, empty.NextParam(7))

	open := Pages[int, string]{{Param: 0, Next: ptr(1)}}
	require.True(t, open.HasNextPage())
	require.Equal(t, 1, open.NextParam(0))

	closed := Pages[int, string]{{Param: 0}}
	require.False(t, closed.HasNextPage())
}
