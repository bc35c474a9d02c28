// Package memstore is an in-memory tracking.Store for tests and local runs.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/jrsteele09/go-visit-sessions/tracking"
)

type state struct {
	events   [tracking.PartitionCount][]tracking.Event
	sessions []tracking.Session
	keys     map[tracking.SessionKey]struct{}
}

func newState() *state {
	return &state{keys: make(map[tracking.SessionKey]struct{})}
}

func (s *state) clone() *state {
	c := newState()
	for p := range s.events {
		c.events[p] = slices.Clone(s.events[p])
	}
	c.sessions = slices.Clone(s.sessions)
	for k := range s.keys {
		c.keys[k] = struct{}{}
	}
	return c
}

// Store keeps both partitions and the session table in memory.
// A transaction holds the store lock for its whole duration.
type Store struct {
	mu    sync.Mutex
	state *state
	inTx  bool
}

var _ tracking.Store = (*Store)(nil)

func New() *Store {
	return &Store{state: newState()}
}

func checkPartition(p tracking.Partition) error {
	if !p.Valid() {
		return fmt.Errorf("unknown partition %d", int(p))
	}
	return nil
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Init(context.Context) error {
	return nil
}

func (s *Store) Events(_ context.Context, p tracking.Partition) ([]tracking.Event, error) {
	if err := checkPartition(p); err != nil {
		return nil, err
	}
	defer s.lock()()
	return slices.Clone(s.state.events[p]), nil
}

func (s *Store) InsertEvents(_ context.Context, p tracking.Partition, events []tracking.Event) error {
	if err := checkPartition(p); err != nil {
		return err
	}
	defer s.lock()()
	s.state.events[p] = append(s.state.events[p], events...)
	return nil
}

func (s *Store) TruncatePartition(_ context.Context, p tracking.Partition) error {
	if err := checkPartition(p); err != nil {
		return err
	}
	defer s.lock()()
	s.state.events[p] = nil
	return nil
}

func (s *Store) InsertSessions(_ context.Context, sessions []tracking.Session) (int, error) {
	defer s.lock()()
	inserted := 0
	for _, session := range sessions {
		key := session.Key()
		if _, exists := s.state.keys[key]; exists {
			continue
		}
		s.state.keys[key] = struct{}{}
		s.state.sessions = append(s.state.sessions, session)
		inserted++
	}
	return inserted, nil
}

// Sessions returns matches ordered by start time, newest first
func (s *Store) Sessions(_ context.Context, filter tracking.SessionFilter) ([]tracking.Session, error) {
	filter = filter.Normalize()
	defer s.lock()()

	var out []tracking.Session
	for _, session := range s.state.sessions {
		if filter.Matches(session) {
			out = append(out, session)
		}
	}
	slices.SortStableFunc(out, func(a, b tracking.Session) int {
		return b.StartTime.Compare(a.StartTime)
	})
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// WithinTx runs fn on a copy of the data and installs the copy only when fn succeeds
func (s *Store) WithinTx(ctx context.Context, fn func(tx tracking.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{state: s.state.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}
