package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/jrsteele09/go-visit-sessions/internal/errors"
	"github.com/jrsteele09/go-visit-sessions/tracking"
)

const (
	sanityText       = "hic sunt dracones"
	maxEventBodySize = 5 << 20
)

// IndexHandler is a sanity check for the dev server
func (s *Server) IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, sanityText)
	}
}

func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	}
}

type identityResponse struct {
	Source   string `json:"source"`
	Subject  string `json:"subject"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Verified bool   `json:"verified"`
}

// MeHandler describes the caller
func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFromContext(r.Context())
		resp := identityResponse{
			Source:   id.Source.String(),
			Subject:  id.Subject,
			Email:    id.Email,
			Verified: id.Verified(),
		}
		if id.Token != nil {
			resp.Name = id.Token.Claims.Name
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type ingestResponse struct {
	Accepted  int                `json:"accepted"`
	Partition tracking.Partition `json:"partition"`
}

// IngestEventsHandler accepts a single event object or an array of them.
// A batch is all or nothing.
func (s *Server) IngestEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := decodeEvents(http.MaxBytesReader(w, r.Body, maxEventBodySize))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		partition, err := s.ingester.Ingest(r.Context(), events)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrInvalidEvent):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		default:
			s.logger.Error().Err(err).Int("events", len(events)).Msg("event ingest failed")
			writeError(w, http.StatusInternalServerError, "failed to store events")
			return
		}

		writeJSON(w, http.StatusAccepted, ingestResponse{Accepted: len(events), Partition: partition})
	}
}

func decodeEvents(body io.Reader) ([]tracking.Event, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty request body", apperrors.ErrInvalidEvent)
	}

	if raw[0] == '[' {
		var events []tracking.Event
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidEvent, err)
		}
		if len(events) == 0 {
			return nil, fmt.Errorf("%w: empty batch", apperrors.ErrInvalidEvent)
		}
		return events, nil
	}

	var event tracking.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidEvent, err)
	}
	return []tracking.Event{event}, nil
}

type sessionsResponse struct {
	Sessions []tracking.Session `json:"sessions"`
	Count    int                `json:"count"`
}

// ListSessionsHandler returns closed sessions, newest first.
// Query parameters: channel_id, visitor_id, from, to (RFC 3339) and limit.
func (s *Server) ListSessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseSessionFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		sessions, err := s.store.Sessions(r.Context(), filter)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to list sessions")
			writeError(w, http.StatusInternalServerError, "failed to list sessions")
			return
		}
		if sessions == nil {
			sessions = []tracking.Session{}
		}
		writeJSON(w, http.StatusOK, sessionsResponse{Sessions: sessions, Count: len(sessions)})
	}
}

func parseSessionFilter(r *http.Request) (tracking.SessionFilter, error) {
	q := r.URL.Query()
	filter := tracking.SessionFilter{
		ChannelID: q.Get("channel_id"),
		VisitorID: q.Get("visitor_id"),
	}

	var err error
	if v := q.Get("from"); v != "" {
		if filter.From, err = time.Parse(time.RFC3339, v); err != nil {
			return filter, fmt.Errorf("invalid from: %q", v)
		}
	}
	if v := q.Get("to"); v != "" {
		if filter.To, err = time.Parse(time.RFC3339, v); err != nil {
			return filter, fmt.Errorf("invalid to: %q", v)
		}
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			return filter, fmt.Errorf("invalid limit: %q", v)
		}
	}
	return filter.Normalize(), nil
}

// AggregationHandler runs the daily rotation and reports what it did
func (s *Server) AggregationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := s.aggregator.Run(r.Context())
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, report)
		case errors.Is(err, apperrors.ErrRotationInProgress):
			writeError(w, http.StatusConflict, "aggregation already in progress")
		default:
			s.logger.Error().Err(err).Msg("aggregation failed")
			writeError(w, http.StatusInternalServerError, "aggregation failed")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
