package server

import (
	"context"
	"math/rand/v2"
	"net/http"

	apperrors "github.com/jrsteele09/go-visit-sessions/internal/errors"
	"github.com/jrsteele09/go-visit-sessions/tracking/demo"
)

type initResponse struct {
	Status string        `json:"status"`
	Seeded *demo.Summary `json:"seeded,omitempty"`
}

// InitialiseSystem provisions the event partitions and the session table.
// It is safe to call repeatedly.
func (s *Server) InitialiseSystem(ctx context.Context) error {
	return apperrors.Wrapf(s.store.Init(ctx), "[Server InitialiseSystem] failed to provision tracking tables")
}

// InitHandler provisions the tables
func (s *Server) InitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.InitialiseSystem(r.Context()); err != nil {
			s.logger.Error().Err(err).Msg("init failed")
			writeError(w, http.StatusInternalServerError, "init failed")
			return
		}
		writeJSON(w, http.StatusOK, initResponse{Status: "OK"})
	}
}

// DemoInitHandler provisions the tables and writes a day and a half of demo traffic
func (s *Server) DemoInitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.InitialiseSystem(r.Context()); err != nil {
			s.logger.Error().Err(err).Msg("demo init failed")
			writeError(w, http.StatusInternalServerError, "demo init failed")
			return
		}

		now := s.now()
		rng := rand.New(rand.NewPCG(uint64(now.UnixNano()), rand.Uint64()))
		summary, err := demo.Seed(r.Context(), s.store, now, s.loc, rng)
		if err != nil {
			s.logger.Error().Err(err).Msg("demo seeding failed")
			writeError(w, http.StatusInternalServerError, "demo init failed")
			return
		}

		s.logger.Info().Int("visitors", summary.Visitors).Int("events", summary.Events).Msg("demo data seeded")
		writeJSON(w, http.StatusOK, initResponse{Status: "OK", Seeded: &summary})
	}
}
