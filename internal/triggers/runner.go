package triggers

import (
	"context"
	"log/slog"
	"time"

	"tradearena/internal/lock"
)

// Runner invokes a sweep on a fixed cadence. Each tick takes a lease on key
// first, so only one replica sweeps at a time; a tick that cannot get the
// lease is skipped.
type Runner struct {
	key      string
	interval time.Duration
	locker   lock.Locker
	sweep    func(ctx context.Context) error
	log      *slog.Logger
}

func NewRunner(key string, interval time.Duration, locker lock.Locker, sweep func(ctx context.Context) error, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = lock.NewNopLock()
	}
	return &Runner{
		key:      key,
		interval: interval,
		locker:   locker,
		sweep:    sweep,
		log:      logger.With("component", key),
	}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one sweep under the lease. The lease outlives the tick deadline.
func (r *Runner) Tick(ctx context.Context) bool {
	ttl := 2 * r.interval
	if ttl < 10*time.Second {
		ttl = 10 * time.Second
	}
	ok, err := r.locker.TryLock(ctx, r.key, ttl)
	if err != nil {
		r.log.Warn("lease failed", "error", err)
		return false
	}
	if !ok {
		return false
	}
	defer func() {
		if err := r.locker.Unlock(context.WithoutCancel(ctx), r.key); err != nil {
			r.log.Warn("release failed", "error", err)
		}
	}()

	tctx, cancel := context.WithTimeout(ctx, ttl/2)
	defer cancel()
	if err := r.sweep(tctx); err != nil {
		r.log.Error("sweep failed", "error", err)
	}
	return true
}
