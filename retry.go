package ashquery

import (
	"context"
	"time"

	"github.com/Borislavv/go-ash-query/config"
	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds transparent in-task retries. NewBackOff produces a fresh
// interval source per run; intervals are slept on the run's clock so mock
// time drives backoff in tests.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget including the first one.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// NewBackOff yields the interval source for one run. Nil means no wait
	// between attempts.
	NewBackOff func() backoff.BackOff
}

// PolicyFromConfig builds an exponential policy from a config section.
func PolicyFromConfig(cfg *config.RetryCfg) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = cfg.InitialInterval
			b.MaxInterval = cfg.MaxInterval
			b.Multiplier = cfg.Multiplier
			b.MaxElapsedTime = 0
			return b
		},
	}
}

func retryWrapper[V any](p *RetryPolicy) FetchWrapper[V] {
	return func(next FetchFunc[V]) FetchFunc[V] {
		return func(ctx context.Context, rc *RunContext) (V, error) {
			max := p.MaxAttempts
			if max < 1 {
				max = 1
			}

			var b backoff.BackOff
			if p.NewBackOff != nil {
				b = p.NewBackOff()
			}

			for attempt := 1; ; attempt++ {
				rc.Attempt = attempt
				value, err := next(ctx, rc)
				if err == nil || attempt >= max || ctx.Err() != nil {
					return value, err
				}

				var wait time.Duration
				if b != nil {
					wait = b.NextBackOff()
					if wait == backoff.Stop {
						return value, err
					}
				}

				if rc.counters != nil {
					rc.counters.Retries.Add(1)
				}

				if wait > 0 {
					timer := rc.Clock.Timer(wait)
					select {
					case <-ctx.Done():
						timer.Stop()
						return value, ctx.Err()
					case <-timer.C:
					}
				}
			}
		}
	}
}
