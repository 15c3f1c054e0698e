package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SweepFunc is invoked on every scheduled interval.
type SweepFunc func(ctx context.Context, startedAt time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives periodic execution of evaluation sweeps. A sweep that
// overruns its slot does not stack: the next tick fires relative to wall
// clock, and the CAS in the store keeps overlapping sweeps safe anyway.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the sweep function at each interval until ctx is
// cancelled. Sweep errors are logged, never fatal to the loop.
func (s *Scheduler) Run(ctx context.Context, sweep SweepFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_sweep", next).Msg("waiting for next sweep")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		startedAt := time.Now().UTC()
		s.logger.Info().Time("started_at", startedAt).Msg("executing scheduled sweep")

		if err := sweep(ctx, startedAt); err != nil {
			s.logger.Error().Err(err).Time("started_at", startedAt).Msg("sweep execution failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	aligned := now.Truncate(s.opts.Interval)
	if !aligned.After(now) {
		aligned = aligned.Add(s.opts.Interval)
	}
	return aligned
}
