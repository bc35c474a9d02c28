// Package demo fills the event buffers with a day and a half of plausible traffic.
package demo

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jrsteele09/go-visit-sessions/tracking"
)

const (
	ChannelID   = "bobs-door-knobs"
	hitInterval = 30 * time.Minute
	demoOffset  = -60
	referrer    = "https://door.knobsfrombobs.za/lister/cellar"
)

// Summary describes what Seed wrote
type Summary struct {
	Visitors     int                          `json:"visitors"`
	Events       int                          `json:"events"`
	PerPartition [tracking.PartitionCount]int `json:"per_partition"`
}

// Seed writes four visits yesterday at noon, a short "previous day" visit at
// 22:00, a "not closed" visit from 23:00 that runs past midnight and four
// visits today at noon. Each hit goes into the partition of its own day.
func Seed(ctx context.Context, store tracking.EventStore, now time.Time, loc *time.Location, rng *rand.Rand) (Summary, error) {
	today := tracking.DayStart(now, loc)
	y, m, d := today.Date()
	yesterday := time.Date(y, m, d-1, 0, 0, 0, 0, loc)

	type visit struct {
		start  time.Time
		hits   int
		prefix string
	}
	var visits []visit
	for i := 0; i < 4; i++ {
		visits = append(visits, visit{yesterday.Add(12*time.Hour + time.Duration(i)*time.Second), 5 + rng.IntN(13), "visitor"})
	}
	visits = append(visits,
		visit{yesterday.Add(22 * time.Hour), 3, "previous day"},
		visit{yesterday.Add(23 * time.Hour), 4, "not closed"},
	)
	for i := 0; i < 4; i++ {
		visits = append(visits, visit{today.Add(12*time.Hour + time.Duration(i)*time.Second), 5 + rng.IntN(13), "visitor"})
	}

	var summary Summary
	used := make(map[string]bool, len(visits))
	for _, v := range visits {
		visitorID := fmt.Sprintf("%s-%d", v.prefix, rng.IntN(10000))
		for used[visitorID] {
			visitorID = fmt.Sprintf("%s-%d", v.prefix, rng.IntN(10000))
		}
		used[visitorID] = true

		var byPartition [tracking.PartitionCount][]tracking.Event
		for k := 0; k < v.hits; k++ {
			ts := v.start.Add(time.Duration(k) * hitInterval)
			p := tracking.PartitionFor(ts, loc)
			byPartition[p] = append(byPartition[p], tracking.Event{
				ChannelID:      ChannelID,
				VisitorID:      visitorID,
				Timestamp:      ts.UTC(),
				TimezoneOffset: demoOffset,
				URL:            fmt.Sprintf("https://door.knobsfrombobs.za/product/p%d", 10+rng.IntN(291)),
				ReferrerURL:    referrer,
			})
		}

		for p, events := range byPartition {
			if len(events) == 0 {
				continue
			}
			if err := store.InsertEvents(ctx, tracking.Partition(p), events); err != nil {
				return summary, fmt.Errorf("[demo Seed] %w", err)
			}
			summary.PerPartition[p] += len(events)
			summary.Events += len(events)
		}
		summary.Visitors++
	}
	return summary, nil
}
