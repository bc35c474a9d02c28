package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-visit-sessions/tracking"
)

var t0 = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestStore_Events(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows(eventColumns).
		AddRow("web", "v1", t0, int64(-60), "/a", "/").
		AddRow("web", "v2", t0.Add(time.Minute), int64(0), "/b", "")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT channel_id, visitor_id, timestamp, timezone_offset, url, referrer_url FROM events_1 ORDER BY timestamp")).
		WillReturnRows(rows)

	events, err := s.Events(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, tracking.Event{ChannelID: "web", VisitorID: "v1", Timestamp: t0, TimezoneOffset: -60, URL: "/a", ReferrerURL: "/"}, events[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_EventsQueryError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM events_0").WillReturnError(errors.New("relation does not exist"))

	_, err := s.Events(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "querying events_0")
}

func TestStore_UnknownPartition(t *testing.T) {
	s, mock := newMockStore(t)

	_, err := s.Events(context.Background(), 2)
	require.Error(t, err)
	require.Error(t, s.InsertEvents(context.Background(), 5, []tracking.Event{{}}))
	require.Error(t, s.TruncatePartition(context.Background(), -1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertEvents(t *testing.T) {
	s, mock := newMockStore(t)
	events := []tracking.Event{
		{ChannelID: "web", VisitorID: "v1", Timestamp: t0, URL: "/a"},
		{ChannelID: "web", VisitorID: "v2", Timestamp: t0, TimezoneOffset: 120, URL: "/b", ReferrerURL: "/a"},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events_0 (channel_id,visitor_id,timestamp,timezone_offset,url,referrer_url) VALUES ($1,$2,$3,$4,$5,$6),($7,$8,$9,$10,$11,$12)")).
		WithArgs("web", "v1", t0, int64(0), "/a", "", "web", "v2", t0, int64(120), "/b", "/a").
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, s.InsertEvents(context.Background(), 0, events))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertEventsBatches(t *testing.T) {
	s, mock := newMockStore(t)
	events := make([]tracking.Event, insertBatchSize+1)
	for i := range events {
		events[i] = tracking.Event{ChannelID: "c", VisitorID: "v", Timestamp: t0}
	}

	mock.ExpectExec("INSERT INTO events_1").WillReturnResult(sqlmock.NewResult(0, insertBatchSize))
	mock.ExpectExec("INSERT INTO events_1").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.InsertEvents(context.Background(), 1, events))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertEventsEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	require.NoError(t, s.InsertEvents(context.Background(), 1, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_TruncatePartition(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("TRUNCATE TABLE events_1")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.TruncatePartition(context.Background(), 1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertSessions(t *testing.T) {
	s, mock := newMockStore(t)
	session := tracking.Session{
		ChannelID:      "web",
		VisitorID:      "v1",
		TimezoneOffset: 60,
		StartTime:      t0,
		EndTime:        t0.Add(time.Hour),
		HitCount:       1,
		Hits:           []tracking.Hit{{Timestamp: t0, URL: "/a"}},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions (channel_id,visitor_id,timezone_offset,start_time,end_time,hit_count,hits) VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (channel_id, visitor_id, start_time) DO NOTHING")).
		WithArgs("web", "v1", int64(60), t0, t0.Add(time.Hour), 1, `[{"timestamp":"2024-01-02T10:00:00Z","url":"/a","referrer_url":""}]`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := s.InsertSessions(context.Background(), []tracking.Session{session})
	require.NoError(t, err)
	assert.Zero(t, n, "conflicting row is skipped")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Sessions(t *testing.T) {
	s, mock := newMockStore(t)
	filter := tracking.SessionFilter{ChannelID: "web", From: t0, To: t0.Add(24 * time.Hour), Limit: 5}

	rows := sqlmock.NewRows(sessionColumns).
		AddRow("web", "v1", int64(0), t0, t0.Add(time.Minute), 2,
			[]byte(`[{"timestamp":"2024-01-02T10:00:00Z","url":"/a","referrer_url":""},{"timestamp":"2024-01-02T10:01:00Z","url":"/b","referrer_url":"/a"}]`))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT channel_id, visitor_id, timezone_offset, start_time, end_time, hit_count, hits FROM sessions WHERE channel_id = $1 AND start_time >= $2 AND start_time < $3 ORDER BY start_time DESC LIMIT 5")).
		WithArgs("web", t0, t0.Add(24*time.Hour)).
		WillReturnRows(rows)

	sessions, err := s.Sessions(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 2, sessions[0].HitCount)
	require.Len(t, sessions[0].Hits, 2)
	assert.Equal(t, "/b", sessions[0].Hits[1].URL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SessionsBadHits(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows(sessionColumns).AddRow("web", "v1", int64(0), t0, t0, 1, []byte(`{`))
	mock.ExpectQuery("FROM sessions").WillReturnRows(rows)

	_, err := s.Sessions(context.Background(), tracking.SessionFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding hits")
}

func TestStore_WithinTx(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("TRUNCATE TABLE events_0").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err := s.WithinTx(context.Background(), func(tx tracking.Store) error {
			return tx.TruncatePartition(context.Background(), 0)
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO events_1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectRollback()

		err := s.WithinTx(context.Background(), func(tx tracking.Store) error {
			if err := tx.InsertEvents(context.Background(), 1, []tracking.Event{{ChannelID: "c", VisitorID: "v", Timestamp: t0}}); err != nil {
				return err
			}
			return errors.New("later pass failed")
		})
		require.EqualError(t, err, "later pass failed")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested runs in the outer transaction", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		err := s.WithinTx(context.Background(), func(tx tracking.Store) error {
			return tx.WithinTx(context.Background(), func(inner tracking.Store) error {
				assert.Same(t, tx, inner)
				return nil
			})
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Init(t *testing.T) {
	s, mock := newMockStore(t)
	var migrated *sql.DB
	s.migrate = func(db *sql.DB) error {
		migrated = db
		return nil
	}

	require.NoError(t, s.Init(context.Background()))
	assert.Same(t, s.db, migrated)

	mock.ExpectBegin()
	mock.ExpectRollback()
	err := s.WithinTx(context.Background(), func(tx tracking.Store) error {
		return tx.Init(context.Background())
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrations_Embedded(t *testing.T) {
	source, err := iofs.New(migrations, "migrations")
	require.NoError(t, err)
	defer func() { _ = source.Close() }()

	version, err := source.First()
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)

	up, _, err := source.ReadUp(version)
	require.NoError(t, err)
	defer func() { _ = up.Close() }()

	_, err = source.Next(version)
	require.Error(t, err, "only one migration so far")
}
