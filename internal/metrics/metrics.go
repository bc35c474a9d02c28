// Package metrics exposes Prometheus metrics for login and aggregation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the auth and tracking layers report into
type Recorder interface {
	RecordAuthOutcome(source, outcome string)
	RecordKeySetFetched(at time.Time, keys int)
	RecordEventsIngested(count int)
	RecordAggregation(closed, inserted, carried, discarded int, duration time.Duration)
	RecordAggregationFailure()
}

// Collector is the Prometheus implementation of Recorder
type Collector struct {
	authOutcomes      *prometheus.CounterVec
	keySetFetched     prometheus.Gauge
	keySetSize        prometheus.Gauge
	eventsIngested    prometheus.Counter
	aggregationRuns   prometheus.Counter
	aggregationFails  prometheus.Counter
	sessionsClosed    prometheus.Counter
	sessionsInserted  prometheus.Counter
	eventsCarried     prometheus.Counter
	eventsDiscarded   prometheus.Counter
	aggregationLength prometheus.Histogram
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers it with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visits_auth_outcomes_total",
			Help: "Credential resolution outcomes by credential source.",
		}, []string{"source", "outcome"}),
		keySetFetched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "visits_keyset_fetched_timestamp_seconds",
			Help: "Unix time of the last successful signing key set fetch.",
		}),
		keySetSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "visits_keyset_keys",
			Help: "Number of signing keys in the cached key set.",
		}),
		eventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visits_events_ingested_total",
			Help: "Events written into the current partition.",
		}),
		aggregationRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visits_aggregation_runs_total",
			Help: "Completed aggregation runs.",
		}),
		aggregationFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visits_aggregation_failures_total",
			Help: "Failed aggregation runs.",
		}),
		sessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visits_sessions_closed_total",
			Help: "Closed sessions found by the close-out pass.",
		}),
		sessionsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visits_sessions_inserted_total",
			Help: "Session rows newly written to the session table.",
		}),
		eventsCarried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visits_events_carried_total",
			Help: "Events copied forward into the current partition.",
		}),
		eventsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visits_events_discarded_total",
			Help: "Events removed by partition truncation.",
		}),
		aggregationLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "visits_aggregation_duration_seconds",
			Help:    "Aggregation run duration.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.authOutcomes,
		c.keySetFetched,
		c.keySetSize,
		c.eventsIngested,
		c.aggregationRuns,
		c.aggregationFails,
		c.sessionsClosed,
		c.sessionsInserted,
		c.eventsCarried,
		c.eventsDiscarded,
		c.aggregationLength,
	)
	return c
}

func (c *Collector) RecordAuthOutcome(source, outcome string) {
	c.authOutcomes.WithLabelValues(source, outcome).Inc()
}

func (c *Collector) RecordKeySetFetched(at time.Time, keys int) {
	c.keySetFetched.Set(float64(at.Unix()))
	c.keySetSize.Set(float64(keys))
}

func (c *Collector) RecordEventsIngested(count int) {
	c.eventsIngested.Add(float64(count))
}

func (c *Collector) RecordAggregation(closed, inserted, carried, discarded int, duration time.Duration) {
	c.aggregationRuns.Inc()
	c.sessionsClosed.Add(float64(closed))
	c.sessionsInserted.Add(float64(inserted))
	c.eventsCarried.Add(float64(carried))
	c.eventsDiscarded.Add(float64(discarded))
	c.aggregationLength.Observe(duration.Seconds())
}

func (c *Collector) RecordAggregationFailure() {
	c.aggregationFails.Inc()
}

// Handler serves the registry for Prometheus scraping
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordAuthOutcome(string, string)                    {}
func (Nop) RecordKeySetFetched(time.Time, int)                  {}
func (Nop) RecordEventsIngested(int)                            {}
func (Nop) RecordAggregation(int, int, int, int, time.Duration) {}
func (Nop) RecordAggregationFailure()                           {}
