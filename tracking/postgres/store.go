// Package postgres stores events and sessions in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"github.com/jrsteele09/go-visit-sessions/tracking"
)

// insertBatchSize keeps multi-row inserts under the 65535 parameter limit
const insertBatchSize = 1000

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var (
	eventColumns   = []string{"channel_id", "visitor_id", "timestamp", "timezone_offset", "url", "referrer_url"}
	sessionColumns = []string{"channel_id", "visitor_id", "timezone_offset", "start_time", "end_time", "hit_count", "hits"}
)

const sessionsTable = "sessions"

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store implements tracking.Store on PostgreSQL
type Store struct {
	db      *sql.DB
	q       querier
	tx      *sql.Tx
	migrate func(*sql.DB) error
}

var _ tracking.Store = (*Store)(nil)

// New creates a store on an open database handle
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db, migrate: Migrate}
}

// Open connects to databaseURL and checks the connection
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

func tableFor(p tracking.Partition) (string, error) {
	if !p.Valid() {
		return "", fmt.Errorf("unknown partition %d", int(p))
	}
	return p.Table(), nil
}

// Init runs the embedded migrations
func (s *Store) Init(context.Context) error {
	if s.tx != nil {
		return errors.New("cannot migrate inside a transaction")
	}
	return s.migrate(s.db)
}

func (s *Store) Events(ctx context.Context, p tracking.Partition) ([]tracking.Event, error) {
	table, err := tableFor(p)
	if err != nil {
		return nil, err
	}

	query, args, err := psq.Select(eventColumns...).From(table).OrderBy("timestamp").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building events query: %w", err)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var events []tracking.Event
	for rows.Next() {
		var e tracking.Event
		if err := rows.Scan(&e.ChannelID, &e.VisitorID, &e.Timestamp, &e.TimezoneOffset, &e.URL, &e.ReferrerURL); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", table, err)
		}
		e.Timestamp = e.Timestamp.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s rows: %w", table, err)
	}
	return events, nil
}

func (s *Store) InsertEvents(ctx context.Context, p tracking.Partition, events []tracking.Event) error {
	table, err := tableFor(p)
	if err != nil {
		return err
	}

	for start := 0; start < len(events); start += insertBatchSize {
		end := min(start+insertBatchSize, len(events))
		qb := psq.Insert(table).Columns(eventColumns...)
		for _, e := range events[start:end] {
			qb = qb.Values(e.ChannelID, e.VisitorID, e.Timestamp.UTC(), e.TimezoneOffset, e.URL, e.ReferrerURL)
		}

		query, args, err := qb.ToSql()
		if err != nil {
			return fmt.Errorf("building insert: %w", err)
		}
		if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting into %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) TruncatePartition(ctx context.Context, p tracking.Partition) error {
	table, err := tableFor(p)
	if err != nil {
		return err
	}
	if _, err := s.q.ExecContext(ctx, "TRUNCATE TABLE "+table); err != nil {
		return fmt.Errorf("truncating %s: %w", table, err)
	}
	return nil
}

// InsertSessions relies on the primary key to skip sessions already written
func (s *Store) InsertSessions(ctx context.Context, sessions []tracking.Session) (int, error) {
	inserted := 0
	for start := 0; start < len(sessions); start += insertBatchSize {
		end := min(start+insertBatchSize, len(sessions))
		qb := psq.Insert(sessionsTable).Columns(sessionColumns...)
		for _, session := range sessions[start:end] {
			// jsonb takes text; lib/pq would send []byte as bytea
			hits, err := json.Marshal(session.Hits)
			if err != nil {
				return inserted, fmt.Errorf("encoding hits: %w", err)
			}
			qb = qb.Values(session.ChannelID, session.VisitorID, session.TimezoneOffset,
				session.StartTime.UTC(), session.EndTime.UTC(), session.HitCount, string(hits))
		}
		qb = qb.Suffix("ON CONFLICT (channel_id, visitor_id, start_time) DO NOTHING")

		query, args, err := qb.ToSql()
		if err != nil {
			return inserted, fmt.Errorf("building session insert: %w", err)
		}
		result, err := s.q.ExecContext(ctx, query, args...)
		if err != nil {
			return inserted, fmt.Errorf("inserting sessions: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("counting inserted sessions: %w", err)
		}
		inserted += int(n)
	}
	return inserted, nil
}

// applySessionFilter adds filter conditions to a SELECT builder.
func applySessionFilter(qb sq.SelectBuilder, filter tracking.SessionFilter) sq.SelectBuilder {
	if filter.ChannelID != "" {
		qb = qb.Where(sq.Eq{"channel_id": filter.ChannelID})
	}
	if filter.VisitorID != "" {
		qb = qb.Where(sq.Eq{"visitor_id": filter.VisitorID})
	}
	if !filter.From.IsZero() {
		qb = qb.Where(sq.GtOrEq{"start_time": filter.From.UTC()})
	}
	if !filter.To.IsZero() {
		qb = qb.Where(sq.Lt{"start_time": filter.To.UTC()})
	}
	return qb
}

func (s *Store) Sessions(ctx context.Context, filter tracking.SessionFilter) ([]tracking.Session, error) {
	filter = filter.Normalize()
	qb := applySessionFilter(psq.Select(sessionColumns...).From(sessionsTable), filter).
		OrderBy("start_time DESC").
		Limit(uint64(filter.Limit))

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building sessions query: %w", err)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]tracking.Session, 0, filter.Limit)
	for rows.Next() {
		var session tracking.Session
		var hits []byte
		if err := rows.Scan(&session.ChannelID, &session.VisitorID, &session.TimezoneOffset,
			&session.StartTime, &session.EndTime, &session.HitCount, &hits); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		if len(hits) > 0 {
			if err := json.Unmarshal(hits, &session.Hits); err != nil {
				return nil, fmt.Errorf("decoding hits: %w", err)
			}
		}
		session.StartTime = session.StartTime.UTC()
		session.EndTime = session.EndTime.UTC()
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// WithinTx runs fn in a database transaction, committing only when fn succeeds
func (s *Store) WithinTx(ctx context.Context, fn func(tx tracking.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	txStore := &Store{db: s.db, q: tx, tx: tx, migrate: s.migrate}

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rolling back: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
