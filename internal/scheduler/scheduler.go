// Package scheduler runs the pipeline stages as independently timed
// cooperative loops over one shared store. No stage failure is fatal;
// errors are logged and the loop waits for its next tick.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type job struct {
	name string
	run  func(context.Context) error
	// interval-driven when interval > 0, otherwise daily at hour:minute
	interval time.Duration
	hour     int
	minute   int
}

// Scheduler owns the registered loops.
type Scheduler struct {
	jobs   []job
	clock  Clock
	logger *slog.Logger
}

func New() *Scheduler {
	return &Scheduler{clock: realClock{}, logger: slog.Default()}
}

// NewWithClock creates a Scheduler with a custom clock (for testing).
func NewWithClock(clock Clock) *Scheduler {
	s := New()
	s.clock = clock
	return s
}

// Every registers a loop that runs once immediately and then on a fixed
// interval.
func (s *Scheduler) Every(name string, interval time.Duration, run func(context.Context) error) {
	s.jobs = append(s.jobs, job{name: name, interval: interval, run: run})
}

// DailyAt registers a loop that fires once a day at the given local
// wall-clock time.
func (s *Scheduler) DailyAt(name string, hour, minute int, run func(context.Context) error) {
	s.jobs = append(s.jobs, job{name: name, hour: hour, minute: minute, run: run})
}

// Run starts every registered loop and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			if j.interval > 0 {
				s.runInterval(gctx, j)
			} else {
				s.runDaily(gctx, j)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) runInterval(ctx context.Context, j job) {
	s.tick(ctx, j)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, j)
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context, j job) {
	for {
		timer := time.NewTimer(s.untilNext(j.hour, j.minute))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx, j)
		}
	}
}

// untilNext returns the wait until the next occurrence of hour:minute,
// never zero so a tick cannot refire within the same second.
func (s *Scheduler) untilNext(hour, minute int) time.Duration {
	now := s.clock.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

func (s *Scheduler) tick(ctx context.Context, j job) {
	if ctx.Err() != nil {
		return
	}
	start := s.clock.Now()
	if err := j.run(ctx); err != nil {
		s.logger.Error("pipeline stage failed", "stage", j.name, "error", err)
		return
	}
	s.logger.Debug("pipeline stage done", "stage", j.name, "elapsed", time.Since(start))
}
