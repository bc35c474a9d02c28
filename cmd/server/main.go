package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-visit-sessions/auth"
	"github.com/jrsteele09/go-visit-sessions/auth/statestore"
	"github.com/jrsteele09/go-visit-sessions/internal/config"
	"github.com/jrsteele09/go-visit-sessions/internal/logging"
	"github.com/jrsteele09/go-visit-sessions/internal/metrics"
	"github.com/jrsteele09/go-visit-sessions/server"
	"github.com/jrsteele09/go-visit-sessions/token/jwt"
	"github.com/jrsteele09/go-visit-sessions/token/keys"
	"github.com/jrsteele09/go-visit-sessions/tracking"
	"github.com/jrsteele09/go-visit-sessions/tracking/aggregate"
	"github.com/jrsteele09/go-visit-sessions/tracking/memstore"
	"github.com/jrsteele09/go-visit-sessions/tracking/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	c, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	logging.Setup(os.Stdout, c.GetEnv(), c.GetLogLevel())

	for {
		if err := run(c); err != nil {
			log.Error().Err(err).Msg("Error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("Server stopped")
}

func run(c config.Config) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	displayAppname(c.GetAppName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := c.GetLocation()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(registry)

	store, closeStore, err := openStore(ctx, c)
	if err != nil {
		return err
	}
	defer closeStore()

	logins, closeLogins, err := openLoginStore(ctx, c)
	if err != nil {
		return err
	}
	defer closeLogins()

	controller, err := newController(ctx, c, recorder)
	if err != nil {
		return err
	}

	aggregator := aggregate.New(store, loc, aggregate.WithRecorder(recorder))
	handler, err := server.New(server.Deps{
		Config:     c,
		Auth:       controller,
		Authorizer: auth.NewAuthorizer(c.GetAllowedEmails(), c.GetTrustedCallers()),
		Logins:     logins,
		Store:      store,
		Ingester:   tracking.NewIngester(store, loc, tracking.WithIngesterRecorder(recorder)),
		Aggregator: aggregator,
		Location:   loc,
		Metrics:    metrics.Handler(registry),
	})
	if err != nil {
		return err
	}

	if err := handler.InitialiseSystem(ctx); err != nil {
		return err
	}

	if c.GetScheduleEnabled() {
		go aggregate.NewScheduler(aggregator, loc, c.GetScheduleDelay()).Start(ctx)
	}

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(httpServer) }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	return shutdown(httpServer)
}

// openStore picks PostgreSQL when DATABASE_URL is set, memory otherwise
func openStore(ctx context.Context, c config.Config) (tracking.Store, func(), error) {
	if c.GetDatabaseURL() == "" {
		log.Warn().Msg("DATABASE_URL not set, events and sessions are kept in memory")
		return memstore.New(), func() {}, nil
	}
	db, err := postgres.Open(ctx, c.GetDatabaseURL())
	if err != nil {
		return nil, nil, fmt.Errorf("[main openStore] %w", err)
	}
	return postgres.New(db), func() { _ = db.Close() }, nil
}

// openLoginStore picks Redis when REDIS_URL is set, memory otherwise
func openLoginStore(ctx context.Context, c config.Config) (statestore.Repo, func(), error) {
	if c.GetRedisURL() == "" {
		return statestore.NewInMemoryRepo(), func() {}, nil
	}
	opts, err := redis.ParseURL(c.GetRedisURL())
	if err != nil {
		return nil, nil, fmt.Errorf("[main openLoginStore] invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("[main openLoginStore] %w", err)
	}
	return statestore.NewRedisRepo(client), func() { _ = client.Close() }, nil
}

func newController(ctx context.Context, c config.Config, recorder metrics.Recorder) (*auth.Controller, error) {
	cfg := auth.ControllerConfig{
		ClientID:     c.GetClientID(),
		ClientSecret: c.GetClientSecret(),
		RedirectURL:  c.GetRedirectURL(),
		Scopes:       c.GetScopes(),
		FakeAuth:     c.GetFakeAuth(),
		FakeUser:     c.GetFakeAuthUser(),
	}
	if cfg.FakeAuth {
		return auth.NewController(auth.Endpoints{}, nil, cfg, auth.WithRecorder(recorder)), nil
	}

	httpClient := &http.Client{Timeout: c.GetProviderTimeout()}
	endpoints, err := auth.Discover(ctx, c.GetIssuerURL(), httpClient)
	if err != nil {
		return nil, err
	}

	cache := keys.NewCache(
		&keys.HTTPFetcher{URL: endpoints.JWKSURL, Client: httpClient},
		keys.WithOnRefresh(func(ks *keys.KeySet) {
			recorder.RecordKeySetFetched(ks.FetchedAt, len(ks.Keys))
		}),
	)
	// A cold cache is filled by the first request if this fails
	if _, err := cache.Get(ctx); err != nil {
		log.Warn().Err(err).Str("jwks_uri", endpoints.JWKSURL).Msg("signing keys not loaded at startup")
	}

	verifier := jwt.NewVerifier(cache, endpoints.Issuer, c.GetClientID())
	return auth.NewController(endpoints, verifier, cfg,
		auth.WithHTTPClient(httpClient),
		auth.WithRecorder(recorder),
	), nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
