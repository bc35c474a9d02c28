package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-visit-sessions/auth"
	"github.com/jrsteele09/go-visit-sessions/auth/statestore"
	"github.com/jrsteele09/go-visit-sessions/internal/config"
	"github.com/jrsteele09/go-visit-sessions/token/jwt"
	"github.com/jrsteele09/go-visit-sessions/tracking"
	"github.com/jrsteele09/go-visit-sessions/tracking/aggregate"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AuthFlow is the login and identity side of auth.Controller
type AuthFlow interface {
	FakeAuth() bool
	Login(ctx context.Context, nextPath string) (*auth.LoginRedirect, error)
	HandleCallback(ctx context.Context, code, state string, pending *statestore.PendingLogin) (string, *jwt.IDToken, error)
	Resolve(ctx context.Context, creds auth.Credentials) (auth.Identity, error)
}

// Authorizer decides whether a resolved identity may use the protected routes
type Authorizer interface {
	Authorize(id auth.Identity) error
}

// Ingester writes validated events into the current partition
type Ingester interface {
	Ingest(ctx context.Context, events []tracking.Event) (tracking.Partition, error)
}

// Deps are the collaborators the HTTP layer is built from
type Deps struct {
	Config     config.Config
	Auth       AuthFlow
	Authorizer Authorizer
	Logins     statestore.Repo
	Store      tracking.Store
	Ingester   Ingester
	Aggregator aggregate.Runner
	Location   *time.Location
	Metrics    http.Handler
}

type Server struct {
	env        string
	router     chi.Router
	config     config.Config
	auth       AuthFlow
	authorizer Authorizer
	logins     statestore.Repo
	store      tracking.Store
	ingester   Ingester
	aggregator aggregate.Runner
	loc        *time.Location
	metrics    http.Handler
	limiter    *IngestLimiter
	now        func() time.Time
	logger     zerolog.Logger
}

type Option func(*Server)

// WithLogger overrides the global logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock overrides the time source used for demo seeding
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func New(deps Deps, opts ...Option) (*Server, error) {
	switch {
	case deps.Config == nil:
		return nil, fmt.Errorf("[Server New] config is required")
	case deps.Auth == nil || deps.Authorizer == nil:
		return nil, fmt.Errorf("[Server New] auth flow and authorizer are required")
	case deps.Logins == nil:
		return nil, fmt.Errorf("[Server New] pending login store is required")
	case deps.Store == nil || deps.Ingester == nil || deps.Aggregator == nil:
		return nil, fmt.Errorf("[Server New] tracking store, ingester and aggregator are required")
	}

	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}

	s := &Server{
		env:        deps.Config.GetEnv(),
		config:     deps.Config,
		auth:       deps.Auth,
		authorizer: deps.Authorizer,
		logins:     deps.Logins,
		store:      deps.Store,
		ingester:   deps.Ingester,
		aggregator: deps.Aggregator,
		loc:        loc,
		metrics:    deps.Metrics,
		limiter:    NewIngestLimiter(deps.Config.GetIngestRateLimit(), deps.Config.GetIngestBurst()),
		now:        time.Now,
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	_ = chi.Walk(s.router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		s.logger.Debug().Str("method", method).Str("path", route).Msg("route registered")
		return nil
	})
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
