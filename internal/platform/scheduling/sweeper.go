// Package scheduling runs the periodic background jobs of the engine.
// Jobs run on a single-owner ticker so a given deployment never executes
// the same sweep concurrently with itself.
package scheduling

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SweepFunc performs one sweep pass and reports how many records it
// touched.
type SweepFunc func(ctx context.Context) (int, error)

// Sweeper drives a SweepFunc on a fixed interval. A pass that fails is
// logged and the ticker keeps going; the next pass retries naturally.
type Sweeper struct {
	name     string
	interval time.Duration
	sweep    SweepFunc
	logger   zerolog.Logger
}

func NewSweeper(name string, interval time.Duration, sweep SweepFunc, logger zerolog.Logger) *Sweeper {
	return &Sweeper{name: name, interval: interval, sweep: sweep, logger: logger}
}

// Run blocks until ctx is cancelled, executing one pass per interval.
// The first pass runs after one full interval, not immediately, so a
// restarting process does not double-sweep.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Str("job", s.name).Dur("interval", s.interval).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Str("job", s.name).Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Sweeper) pass(ctx context.Context) {
	start := time.Now()
	n, err := s.sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("job", s.name).Msg("sweep pass failed")
		return
	}
	if n > 0 {
		s.logger.Info().Str("job", s.name).Int("touched", n).Dur("took", time.Since(start)).Msg("sweep pass complete")
	}
}
