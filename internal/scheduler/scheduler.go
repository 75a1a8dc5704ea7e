// Package scheduler runs the recurring background work: scanning due
// review questions, closing ended exam periods and opening remedial retry
// windows. It is constructed and owned by the process entry point and
// handed to the engines by reference, so there is no shared global timer.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// reviewScanner delivers due review questions.
type reviewScanner interface {
	ScanDue(ctx context.Context) error
}

// periodCloser applies bonuses to ended periods and opens remedial
// retries.
type periodCloser interface {
	CloseDuePeriods(ctx context.Context) error
}

type remedialEnsurer interface {
	EnsureRemedialPeriods(ctx context.Context) error
}

// Scheduler ticks the background flows on fixed intervals. Every tick is
// re-entrant safe because the underlying operations are idempotent: review
// delivery is gated per student and period close is gated by the
// bonuses-applied flag.
type Scheduler struct {
	reviews        reviewScanner
	periods        periodCloser
	remedial       remedialEnsurer
	reviewInterval time.Duration
	periodInterval time.Duration
	logger         *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a stopped scheduler.
func New(
	reviews reviewScanner,
	periods periodCloser,
	remedial remedialEnsurer,
	reviewInterval, periodInterval time.Duration,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reviewInterval <= 0 {
		reviewInterval = time.Minute
	}
	if periodInterval <= 0 {
		periodInterval = time.Minute
	}
	return &Scheduler{
		reviews:        reviews,
		periods:        periods,
		remedial:       remedial,
		reviewInterval: reviewInterval,
		periodInterval: periodInterval,
		logger:         logger,
	}
}

// Start launches the tick loops. Call Stop to shut them down.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.loop(ctx, s.reviewInterval, "review-scan", func(ctx context.Context) error {
		return s.reviews.ScanDue(ctx)
	})
	go s.loop(ctx, s.periodInterval, "period-maintenance", func(ctx context.Context) error {
		if err := s.remedial.EnsureRemedialPeriods(ctx); err != nil {
			s.logger.Sugar().Errorw("remedial period scan failed", "error", err)
		}
		return s.periods.CloseDuePeriods(ctx)
	})
	s.logger.Sugar().Infow("scheduler started",
		"review_interval", s.reviewInterval, "period_interval", s.periodInterval)
}

// Stop cancels the loops and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Sugar().Infow("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, name string, tick func(context.Context) error) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tick(ctx); err != nil {
				s.logger.Sugar().Errorw("scheduled tick failed", "loop", name, "error", err)
			}
		}
	}
}
