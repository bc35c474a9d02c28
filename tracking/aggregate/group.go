// Package aggregate folds raw events into sessions and rotates the event buffers.
package aggregate

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/jrsteele09/go-visit-sessions/tracking"
)

// Group is every stored event of one (channel, visitor) pair, oldest first
type Group struct {
	Key    tracking.GroupKey
	First  time.Time
	Last   time.Time
	Events []tracking.StoredEvent
}

// Closed reports whether nothing happened on or after boundary
func (g Group) Closed(boundary time.Time) bool {
	return g.Last.Before(boundary)
}

// Spans reports whether the group started before boundary and is still active after it
func (g Group) Spans(boundary time.Time) bool {
	return g.First.Before(boundary) && !g.Last.Before(boundary)
}

// Settled reports whether the group can become a session: it is closed and
// every one of its events sits in the buffer being truncated.
func (g Group) Settled(boundary time.Time, current tracking.Partition) bool {
	return g.Closed(boundary) && g.InPartition(current) == 0
}

// InPartition counts the group's events held in p
func (g Group) InPartition(p tracking.Partition) int {
	n := 0
	for _, e := range g.Events {
		if e.Partition == p {
			n++
		}
	}
	return n
}

// GroupEvents buckets events by (channel, visitor). Groups come back sorted
// by key and each group's events by timestamp.
func GroupEvents(events []tracking.StoredEvent) []Group {
	index := make(map[tracking.GroupKey]int)
	var groups []Group

	for _, e := range events {
		key := e.Key()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key, First: e.Timestamp, Last: e.Timestamp})
		}
		g := &groups[i]
		g.Events = append(g.Events, e)
		if e.Timestamp.Before(g.First) {
			g.First = e.Timestamp
		}
		if e.Timestamp.After(g.Last) {
			g.Last = e.Timestamp
		}
	}

	for i := range groups {
		slices.SortStableFunc(groups[i].Events, func(a, b tracking.StoredEvent) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
	}
	slices.SortFunc(groups, func(a, b Group) int {
		return cmp.Or(
			strings.Compare(a.Key.ChannelID, b.Key.ChannelID),
			strings.Compare(a.Key.VisitorID, b.Key.VisitorID),
		)
	})
	return groups
}

// CloseOut builds one session per settled group. Closed groups with late
// events in current wait for the run that truncates current.
func CloseOut(groups []Group, boundary time.Time, current tracking.Partition) []tracking.Session {
	var sessions []tracking.Session
	for _, g := range groups {
		if !g.Settled(boundary, current) {
			continue
		}
		sessions = append(sessions, toSession(g))
	}
	return sessions
}

func toSession(g Group) tracking.Session {
	s := tracking.Session{
		ChannelID: g.Key.ChannelID,
		VisitorID: g.Key.VisitorID,
		StartTime: g.First.UTC(),
		EndTime:   g.Last.UTC(),
		HitCount:  len(g.Events),
		Hits:      make([]tracking.Hit, 0, len(g.Events)),
	}
	for i, e := range g.Events {
		if i == 0 || e.TimezoneOffset > s.TimezoneOffset {
			s.TimezoneOffset = e.TimezoneOffset
		}
		s.Hits = append(s.Hits, tracking.Hit{
			Timestamp:   e.Timestamp.UTC(),
			URL:         e.URL,
			ReferrerURL: e.ReferrerURL,
		})
	}
	return s
}

// CarryForward returns the events every unsettled group holds in the
// partition about to be truncated. Besides visits spanning boundary this
// catches closed groups still waiting on late events in current.
func CarryForward(groups []Group, boundary time.Time, current tracking.Partition) []tracking.Event {
	previous := current.Other()
	var carried []tracking.Event
	for _, g := range groups {
		if g.Settled(boundary, current) {
			continue
		}
		for _, e := range g.Events {
			if e.Partition == previous {
				carried = append(carried, e.Event)
			}
		}
	}
	return carried
}
