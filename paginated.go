package ashquery

import (
	"context"
	"fmt"

	"github.com/Borislavv/go-ash-query/internal/telemetry"
	"github.com/Borislavv/go-ash-query/model"
	"golang.org/x/sync/singleflight"
)

// Page is one fetched slice of a paginated result set. Next carries the
// parameter of the following page, nil when this is the last one.
type Page[C comparable, I any] struct {
	Param C   `json:"param"`
	Items []I `json:"items"`
	Next  *C  `json:"next,omitempty"`
}

// Pages is the ordered, growing sequence a paginated store caches: the full
// coalesced value is the concatenation of pages in fetch order.
type Pages[C comparable, I any] []Page[C, I]

// HasNextPage derives from the most recently fetched page. An empty sequence
// always has a next page (the initial one).
func (p Pages[C, I]) HasNextPage() bool {
	if len(p) == 0 {
		return true
	}
	return p[len(p)-1].Next != nil
}

// NextParam returns the parameter the next fetch should use.
func (p Pages[C, I]) NextParam(initial C) C {
	if len(p) == 0 {
		return initial
	}
	if next := p[len(p)-1].Next; next != nil {
		return *next
	}
	return initial
}

// Items flattens the pages in fetch order.
func (p Pages[C, I]) Items() []I {
	var out []I
	for _, page := range p {
		out = append(out, page.Items...)
	}
	return out
}

func (p Pages[C, I]) indexOf(param C) int {
	for i, page := range p {
		if page.Param == param {
			return i
		}
	}
	return -1
}

// PaginatedQuery declares an ordered, appendable read keyed by one path.
type PaginatedQuery[C comparable, I any] struct {
	Path         model.Path
	InitialParam C
	FetchPage    func(ctx context.Context, rc *RunContext, param C) (Page[C, I], error)
	Modifiers    []Modifier[Pages[C, I]]
}

// PaginatedStore extends the store model with request-level dedup: two
// concurrent fetches of the same page parameter join one task, fetches of
// different parameters proceed concurrently.
type PaginatedStore[C comparable, I any] struct {
	*Store[Pages[C, I]]
	def   PaginatedQuery[C, I]
	group singleflight.Group
}

// DetachedPaginated builds a paginated store outside any client registry.
func DetachedPaginated[C comparable, I any](ctx context.Context, q PaginatedQuery[C, I], opts ...Option) *PaginatedStore[C, I] {
	st := newSettings(opts...)
	return newPaginatedStore(ctx, q, st, telemetry.NewCounters())
}

func newPaginatedStore[C comparable, I any](
	ctx context.Context,
	q PaginatedQuery[C, I],
	st *settings,
	counters *telemetry.Counters,
) *PaginatedStore[C, I] {
	resolved := resolveOptions(st.cfg, false, q.Modifiers)
	p := &PaginatedStore[C, I]{def: q}
	// the base fetch backs Run/Fetch/automatic refetch: it resets the
	// sequence to a fresh initial page
	base := func(tctx context.Context, rc *RunContext) (Pages[C, I], error) {
		page, err := q.FetchPage(tctx, rc, q.InitialParam)
		if err != nil {
			return nil, err
		}
		return Pages[C, I]{page}, nil
	}
	p.Store = newStore(ctx, q.Path, base, resolved, st.clk, st.logger, counters)
	return p
}

// FetchNextPage fetches the page after the most recently fetched one and
// appends it in order. Concurrent calls for the same next parameter issue
// exactly one fetch and share its outcome.
func (p *PaginatedStore[C, I]) FetchNextPage(ctx context.Context) (Page[C, I], error) {
	pages, _ := p.valueSnapshot()
	if !pages.HasNextPage() {
		return Page[C, I]{}, ErrNoNextPage
	}
	return p.fetchParam(ctx, pages.NextParam(p.def.InitialParam))
}

// FetchPage fetches (or refetches) the page with the given parameter. A
// refetched page replaces its slot instead of appending.
func (p *PaginatedStore[C, I]) FetchPage(ctx context.Context, param C) (Page[C, I], error) {
	return p.fetchParam(ctx, param)
}

func (p *PaginatedStore[C, I]) fetchParam(ctx context.Context, param C) (Page[C, I], error) {
	key := fmt.Sprintf("%v", param)

	ch := p.group.DoChan(key, func() (any, error) {
		var fetched Page[C, I]
		def := p.def

		fetch := func(tctx context.Context, rc *RunContext) (Pages[C, I], error) {
			page, err := def.FetchPage(tctx, rc, param)
			if err != nil {
				return nil, err
			}
			fetched = page
			return Pages[C, I]{page}, nil
		}

		// merging runs under the store lock at settle time, so concurrent
		// fetches of different parameters never clobber each other
		merge := func(current Pages[C, I], hasCurrent bool, _ Pages[C, I]) Pages[C, I] {
			merged := make(Pages[C, I], len(current), len(current)+1)
			copy(merged, current)
			if i := merged.indexOf(param); i >= 0 {
				merged[i] = fetched
			} else {
				merged = append(merged, fetched)
			}
			return merged
		}

		h := p.Store.runWith(fetch, false, true, nil, merge)
		if _, err := h.Wait(p.Store.ctx); err != nil {
			return Page[C, I]{}, err
		}
		return fetched, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Page[C, I]{}, res.Err
		}
		return res.Val.(Page[C, I]), nil
	case <-ctx.Done():
		return Page[C, I]{}, ctx.Err()
	}
}
