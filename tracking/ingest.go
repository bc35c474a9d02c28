package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-visit-sessions/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Ingester writes incoming events into the current partition
type Ingester struct {
	store    EventStore
	loc      *time.Location
	now      func() time.Time
	recorder metrics.Recorder
	logger   zerolog.Logger
}

type IngesterOption func(*Ingester)

func WithIngesterClock(now func() time.Time) IngesterOption {
	return func(i *Ingester) { i.now = now }
}

func WithIngesterRecorder(recorder metrics.Recorder) IngesterOption {
	return func(i *Ingester) { i.recorder = recorder }
}

func WithIngesterLogger(logger zerolog.Logger) IngesterOption {
	return func(i *Ingester) { i.logger = logger }
}

// NewIngester creates an ingester whose day boundaries are in loc
func NewIngester(store EventStore, loc *time.Location, opts ...IngesterOption) *Ingester {
	i := &Ingester{
		store:    store,
		loc:      loc,
		now:      time.Now,
		recorder: metrics.Nop{},
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest validates every event and writes the batch into today's partition.
// One invalid event rejects the whole batch.
func (i *Ingester) Ingest(ctx context.Context, events []Event) (Partition, error) {
	current := PartitionFor(i.now(), i.loc)
	if len(events) == 0 {
		return current, nil
	}

	for n, e := range events {
		if err := e.Validate(); err != nil {
			return current, fmt.Errorf("event %d: %w", n, err)
		}
	}

	if err := i.store.InsertEvents(ctx, current, events); err != nil {
		return current, fmt.Errorf("[tracking Ingest] %w", err)
	}

	i.recorder.RecordEventsIngested(len(events))
	i.logger.Debug().Int("events", len(events)).Str("partition", current.Table()).Msg("events ingested")
	return current, nil
}
