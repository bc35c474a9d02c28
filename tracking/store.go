package tracking

import (
	"context"
	"time"
)

const (
	DefaultSessionLimit = 100
	MaxSessionLimit     = 1000
)

// EventStore holds the two rotating event partitions
type EventStore interface {
	Events(ctx context.Context, p Partition) ([]Event, error)
	InsertEvents(ctx context.Context, p Partition, events []Event) error
	TruncatePartition(ctx context.Context, p Partition) error
}

// SessionStore is the append-only session table
type SessionStore interface {
	// InsertSessions skips sessions whose key already exists and
	// returns how many rows were written
	InsertSessions(ctx context.Context, sessions []Session) (int, error)
	Sessions(ctx context.Context, filter SessionFilter) ([]Session, error)
}

// Store is a warehouse holding both tables
type Store interface {
	EventStore
	SessionStore

	// WithinTx runs fn against a transactional view of the store.
	// Nothing fn writes is visible to others unless fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	// Init provisions the tables. It is safe to call repeatedly.
	Init(ctx context.Context) error
}

// SessionFilter narrows a session listing. Zero values match everything.
type SessionFilter struct {
	ChannelID string
	VisitorID string
	From      time.Time // start_time >= From
	To        time.Time // start_time < To
	Limit     int
}

// Normalize applies the default and maximum limit
func (f SessionFilter) Normalize() SessionFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultSessionLimit
	}
	if f.Limit > MaxSessionLimit {
		f.Limit = MaxSessionLimit
	}
	return f
}

// Matches reports whether s passes the filter, ignoring Limit
func (f SessionFilter) Matches(s Session) bool {
	if f.ChannelID != "" && s.ChannelID != f.ChannelID {
		return false
	}
	if f.VisitorID != "" && s.VisitorID != f.VisitorID {
		return false
	}
	if !f.From.IsZero() && s.StartTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !s.StartTime.Before(f.To) {
		return false
	}
	return true
}
