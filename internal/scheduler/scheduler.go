// Package scheduler drives the ingestion cycle on a fixed interval.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"feedagent/internal/model"
)

// DefaultInterval is used when the configured poll interval is missing
// or non-positive.
const DefaultInterval = 15 * time.Minute

// CycleRunner runs one ingestion pass. *engine.Engine satisfies this.
type CycleRunner interface {
	RunCycle(ctx context.Context) []model.CycleResult
}

// Scheduler runs cycles on a fixed interval with at most one cycle in
// flight. Ticks that elapse while a cycle is running are dropped, not
// queued.
type Scheduler struct {
	runner   CycleRunner
	log      *slog.Logger
	interval time.Duration
	trigger  chan struct{}
}

// New creates a Scheduler. A non-positive interval falls back to
// DefaultInterval.
func New(runner CycleRunner, interval time.Duration, log *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		runner:   runner,
		log:      log,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an immediate cycle. If one is already pending or
// running, the request is coalesced.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run starts the scheduling loop, blocking until ctx is cancelled. One
// cycle runs immediately on start. Cancellation lets the in-flight
// feed finish its fetch/commit unit; remaining feeds in the cycle are
// skipped.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started", "interval", s.interval)

	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-s.trigger:
			s.runCycle(ctx)
		case <-ticker.C:
			s.runCycle(ctx)
		}
		// A tick that elapsed while the cycle was running is dropped
		// rather than queued.
		select {
		case <-ticker.C:
		default:
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	results := s.runner.RunCycle(ctx)

	var newItems, failures int
	for _, r := range results {
		newItems += r.NewItems
		if r.Err != nil {
			failures++
		}
	}
	s.log.Info("cycle complete",
		"feeds", len(results),
		"new_items", newItems,
		"failures", failures,
		"took", time.Since(start),
	)
}
