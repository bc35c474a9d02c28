package aggregate

import (
	"context"
	"time"

	apperrors "github.com/jrsteele09/go-visit-sessions/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Runner is anything that performs a rotation
type Runner interface {
	Run(ctx context.Context) (Report, error)
}

// Scheduler triggers a rotation once a day, delay after midnight in loc
type Scheduler struct {
	runner Runner
	loc    *time.Location
	delay  time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

func NewScheduler(runner Runner, loc *time.Location, delay time.Duration) *Scheduler {
	return &Scheduler{
		runner: runner,
		loc:    loc,
		delay:  delay,
		now:    time.Now,
		logger: log.Logger,
	}
}

// NextRun is the first daily trigger strictly after now
func NextRun(now time.Time, loc *time.Location, delay time.Duration) time.Time {
	y, m, d := now.In(loc).Date()
	next := time.Date(y, m, d, 0, 0, 0, 0, loc).Add(delay)
	for !next.After(now) {
		d++
		next = time.Date(y, m, d, 0, 0, 0, 0, loc).Add(delay)
	}
	return next
}

// Start blocks, running the rotation daily until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) {
	for {
		next := NextRun(s.now(), s.loc, s.delay)
		s.logger.Info().Time("next_run", next).Msg("aggregation scheduled")

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.runner.Run(ctx); err != nil {
			if apperrors.Is(err, apperrors.ErrRotationInProgress) {
				s.logger.Warn().Msg("skipping scheduled aggregation, a run is already in progress")
				continue
			}
			s.logger.Error().Err(err).Msg("scheduled aggregation failed")
		}
	}
}
