// Package tracking holds the visit event and session model, the two
// rotating event partitions and the store contracts they live in.
package tracking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-visit-sessions/internal/errors"
)

// Event is one visitor interaction. Events are never modified once written.
type Event struct {
	ChannelID      string    `json:"channel_id"`
	VisitorID      string    `json:"visitor_id"`
	Timestamp      time.Time `json:"timestamp"`
	TimezoneOffset int64     `json:"timezone_offset"`
	URL            string    `json:"url"`
	ReferrerURL    string    `json:"referrer_url"`
}

// GroupKey identifies the visitor a set of events belongs to
type GroupKey struct {
	ChannelID string
	VisitorID string
}

func (e Event) Key() GroupKey {
	return GroupKey{ChannelID: e.ChannelID, VisitorID: e.VisitorID}
}

// Validate checks the fields every stored event needs
func (e Event) Validate() error {
	var missing []string
	if strings.TrimSpace(e.ChannelID) == "" {
		missing = append(missing, "channel_id")
	}
	if strings.TrimSpace(e.VisitorID) == "" {
		missing = append(missing, "visitor_id")
	}
	if e.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", apperrors.ErrInvalidEvent, strings.Join(missing, ", "))
	}
	return nil
}

// UnmarshalJSON accepts timestamps as RFC 3339 strings or epoch seconds
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var raw struct {
		plain
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidEvent, err)
	}
	*e = Event(raw.plain)
	e.Timestamp = ts
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if s == "" {
			return time.Time{}, nil
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC(), nil
		}
		// Numeric strings are epoch seconds too
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(secs), nil
		}
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}

	secs, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %s", raw)
	}
	return fromEpoch(secs), nil
}

func fromEpoch(secs float64) time.Time {
	whole := int64(secs)
	nanos := int64((secs - float64(whole)) * float64(time.Second))
	return time.Unix(whole, nanos).UTC().Truncate(time.Microsecond)
}

// Hit is one event as recorded inside a session
type Hit struct {
	Timestamp   time.Time `json:"timestamp"`
	URL         string    `json:"url"`
	ReferrerURL string    `json:"referrer_url"`
}

// Session is a closed visit. Rows are keyed by channel, visitor and start time
// and are never updated after insertion.
type Session struct {
	ChannelID      string    `json:"channel_id"`
	VisitorID      string    `json:"visitor_id"`
	TimezoneOffset int64     `json:"timezone_offset"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	HitCount       int       `json:"hit_count"`
	Hits           []Hit     `json:"hits"`
}

// SessionKey is the identity of a session row
type SessionKey struct {
	ChannelID string
	VisitorID string
	StartTime time.Time
}

func (s Session) Key() SessionKey {
	return SessionKey{ChannelID: s.ChannelID, VisitorID: s.VisitorID, StartTime: s.StartTime.UTC()}
}

// StoredEvent is an event together with the partition it was read from
type StoredEvent struct {
	Event
	Partition Partition
}
