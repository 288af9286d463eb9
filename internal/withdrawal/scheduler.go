package withdrawal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kita-pay/kita_pay/internal/ledger"
	"github.com/kita-pay/kita_pay/internal/metrics"
)

// Scheduler periodically claims due withdrawals and hands each one to the
// executor. Claiming skips rows locked by concurrent sweeps, so multiple
// instances can run against the same store without double execution.
type Scheduler struct {
	store    ledger.Store
	executor *Executor
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

// NewScheduler builds a sweep scheduler. Interval defaults to one minute.
func NewScheduler(store ledger.Store, executor *Executor, logger *slog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		store:    store,
		executor: executor,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps until the context is cancelled. The first sweep happens
// immediately; subsequent sweeps fire aligned to interval boundaries, so with
// the default interval every sweep lands just after a minute rollover.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("withdrawal scheduler started", "interval", s.interval.String())
	for {
		if err := s.Sweep(ctx); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}

		next := s.now().Truncate(s.interval).Add(s.interval)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("withdrawal scheduler stopped")
			return
		case <-timer.C:
		}
	}
}

// Sweep claims withdrawals due in the current minute window and processes
// them sequentially. The window spans from the start of the current minute to
// one minute later, inclusive on both ends, so a row scheduled on the exact
// boundary is picked up by the earlier sweep. One withdrawal failing does not
// stop the rest of the batch.
func (s *Scheduler) Sweep(ctx context.Context) error {
	started := s.now()
	windowStart := started.UTC().Truncate(time.Minute)
	windowEnd := windowStart.Add(time.Minute)

	ids, err := s.store.ClaimDueWithdrawals(ctx, windowStart, windowEnd)
	if err != nil {
		return fmt.Errorf("claim due withdrawals: %w", err)
	}
	metrics.SweepClaimed.Observe(float64(len(ids)))
	if len(ids) > 0 {
		s.logger.Info("claimed withdrawals", "count", len(ids),
			"window_start", windowStart, "window_end", windowEnd)
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.executor.Process(ctx, id); err != nil {
			s.logger.Error("withdrawal execution failed", "withdrawal_id", id, "error", err)
		}
	}

	metrics.SweepDuration.Observe(time.Since(started).Seconds())
	return nil
}
