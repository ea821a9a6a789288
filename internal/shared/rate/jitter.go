package rate

import (
	"context"

	"go.uber.org/ratelimit"
)

// Jitter converts a per-second rate limit into a channel of permits with a
// small burst buffer, so consumers can pace work with a plain select.
type Jitter struct {
	ch    chan struct{}
	l     ratelimit.Limiter
	limit int
}

func NewJitter(ctx context.Context, limit int) *Jitter {
	if limit < 1 {
		limit = 1
	}
	burst := limit / 10
	if burst < 1 {
		burst = 1
	}
	jitter := &Jitter{
		limit: limit,
		ch:    make(chan struct{}, burst),
		l:     ratelimit.New(limit),
	}
	go jitter.provider(ctx)
	return jitter
}

func (j *Jitter) provider(ctx context.Context) {
	defer close(j.ch)
	for {
		j.l.Take()
		select {
		case <-ctx.Done():
			return
		case j.ch <- struct{}{}:
		}
	}
}

// Take blocks until a permit is available.
func (j *Jitter) Take() {
	<-j.ch
}

// Chan exposes the permit stream for use in select loops.
func (j *Jitter) Chan() <-chan struct{} {
	return j.ch
}
