package aggregate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-visit-sessions/internal/errors"
	"github.com/jrsteele09/go-visit-sessions/internal/metrics"
	"github.com/jrsteele09/go-visit-sessions/tracking"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Report summarises one rotation
type Report struct {
	RunID            string             `json:"run_id"`
	Boundary         time.Time          `json:"boundary"`
	Current          tracking.Partition `json:"current"`
	Truncated        tracking.Partition `json:"truncated"`
	ClosedSessions   int                `json:"closed_sessions"`
	InsertedSessions int                `json:"inserted_sessions"`
	CarriedEvents    int                `json:"carried_events"`
	DiscardedEvents  int                `json:"discarded_events"`
	Duration         time.Duration      `json:"duration"`
}

// Aggregator runs the close-out, carry-forward and truncate passes
type Aggregator struct {
	store    tracking.Store
	loc      *time.Location
	now      func() time.Time
	recorder metrics.Recorder
	logger   zerolog.Logger
	running  sync.Mutex
}

type Option func(*Aggregator)

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func WithRecorder(recorder metrics.Recorder) Option {
	return func(a *Aggregator) { a.recorder = recorder }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Aggregator) { a.logger = logger }
}

// New creates an aggregator whose processing day starts at midnight in loc
func New(store tracking.Store, loc *time.Location, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:    store,
		loc:      loc,
		now:      time.Now,
		recorder: metrics.Nop{},
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run performs one rotation. The passes run in order inside a single store
// transaction, so a failure leaves both buffers and the session table as
// they were. A second Run while one is active fails with ErrRotationInProgress.
func (a *Aggregator) Run(ctx context.Context) (Report, error) {
	if !a.running.TryLock() {
		return Report{}, apperrors.ErrRotationInProgress
	}
	defer a.running.Unlock()

	started := a.now()
	current := tracking.PartitionFor(started, a.loc)
	report := Report{
		RunID:     uuid.NewString(),
		Boundary:  tracking.DayStart(started, a.loc),
		Current:   current,
		Truncated: current.Other(),
	}
	logger := a.logger.With().Str("run_id", report.RunID).Logger()

	err := a.store.WithinTx(ctx, func(tx tracking.Store) error {
		return a.rotate(ctx, tx, &report)
	})
	report.Duration = a.now().Sub(started)
	if err != nil {
		a.recorder.RecordAggregationFailure()
		logger.Error().Err(err).Msg("aggregation failed")
		return report, fmt.Errorf("[aggregate Run] %w", err)
	}

	a.recorder.RecordAggregation(report.ClosedSessions, report.InsertedSessions, report.CarriedEvents, report.DiscardedEvents, report.Duration)
	logger.Info().
		Time("boundary", report.Boundary).
		Str("current", report.Current.Table()).
		Str("truncated", report.Truncated.Table()).
		Int("closed", report.ClosedSessions).
		Int("inserted", report.InsertedSessions).
		Int("carried", report.CarriedEvents).
		Int("discarded", report.DiscardedEvents).
		Dur("duration", report.Duration).
		Msg("aggregation complete")
	return report, nil
}

func (a *Aggregator) rotate(ctx context.Context, tx tracking.Store, report *Report) error {
	var all []tracking.StoredEvent
	for _, p := range tracking.Partitions {
		events, err := tx.Events(ctx, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p.Table(), err)
		}
		for _, e := range events {
			all = append(all, tracking.StoredEvent{Event: e, Partition: p})
		}
	}
	groups := GroupEvents(all)

	// 1. close out finished visits whose events all sit in the old buffer
	sessions := CloseOut(groups, report.Boundary, report.Current)
	inserted, err := tx.InsertSessions(ctx, sessions)
	if err != nil {
		return fmt.Errorf("inserting sessions: %w", err)
	}
	report.ClosedSessions = len(sessions)
	report.InsertedSessions = inserted

	// 2. copy every other visit out of the buffer that is about to go
	carried := CarryForward(groups, report.Boundary, report.Current)
	if len(carried) > 0 {
		if err := tx.InsertEvents(ctx, report.Current, carried); err != nil {
			return fmt.Errorf("carrying events into %s: %w", report.Current.Table(), err)
		}
	}
	report.CarriedEvents = len(carried)

	// 3. recycle the old buffer
	truncated := 0
	for _, g := range groups {
		truncated += g.InPartition(report.Truncated)
	}
	if err := tx.TruncatePartition(ctx, report.Truncated); err != nil {
		return fmt.Errorf("truncating %s: %w", report.Truncated.Table(), err)
	}
	report.DiscardedEvents = truncated - len(carried)
	return nil
}
