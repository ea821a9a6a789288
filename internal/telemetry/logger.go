package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/Borislavv/go-ash-query/config"
)

// Registry exposes the size of the store registry to the telemetry loop.
type Registry interface {
	Len() int
}

type Logger interface {
	Interval() time.Duration
	Close() error
}

type Logs struct {
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      *config.Client
	logger   *slog.Logger
	counters *Counters
	registry Registry
	interval time.Duration
}

func New(
	ctx context.Context,
	cfg *config.Client,
	logger *slog.Logger,
	counters *Counters,
	registry Registry,
) *Logs {
	ctx, cancel := context.WithCancel(ctx)
	interval := time.Second * 5
	if cfg != nil && cfg.Telemetry.LogsInterval > 0 {
		interval = cfg.Telemetry.LogsInterval
	}
	return (&Logs{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		logger:   logger,
		counters: counters,
		registry: registry,
		interval: interval,
	}).run()
}

func (l *Logs) Interval() time.Duration {
	return l.interval
}

func (l *Logs) Close() error {
	l.cancel()
	return nil
}

func (l *Logs) run() *Logs {
	if l.cfg != nil && l.cfg.Telemetry.IsLogsEnabled {
		go l.loop()
	}
	return l
}

func (l *Logs) loop() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	prev := l.counters.Snapshot()

	for {
		select {
		case <-l.ctx.Done():
			return

		case <-ticker.C:
			cur := l.counters.Snapshot()
			d := DeltaSnapshot(prev, cur)
			prev = cur

			common := []any{"interval", l.interval.String()}

			l.logger.Info("runs",
				append(common,
					"started", int64(d.RunsStarted),
					"joined", int64(d.RunsJoined),
					"automatic", int64(d.AutoRuns),
					"retries", int64(d.Retries),
					"successes", int64(d.Successes),
					"failures", int64(d.Failures),
					"cancelled", int64(d.Cancelled),
				)...,
			)

			if d.StoresEvicted > 0 {
				l.logger.Info("evictor",
					append(common,
						"evicted", int64(d.StoresEvicted),
					)...,
				)
			}

			l.logger.Info("registry",
				append(common,
					"stores", l.registry.Len(),
					"created_total", int64(cur.StoresCreated),
				)...,
			)
		}
	}
}
