package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-visit-sessions/auth/statestore"
	apperrors "github.com/jrsteele09/go-visit-sessions/internal/errors"
	"github.com/jrsteele09/go-visit-sessions/internal/metrics"
	"github.com/jrsteele09/go-visit-sessions/token/jwt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// AuthHeaders are checked in order for a bearer ID token
var AuthHeaders = []string{"Authorization", "HTTP_AUTHORIZATION"}

const bearerPrefix = "Bearer "

// TokenVerifier checks an ID token
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*jwt.IDToken, error)
}

// ControllerConfig holds the client registration and development settings
type ControllerConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// FakeAuth short-circuits every request to FakeUser. Development only.
	FakeAuth bool
	FakeUser string
}

// LoginRedirect is where to send the browser and what to remember until the callback
type LoginRedirect struct {
	URL   string
	State string
	Nonce string
}

// Credentials are the raw values a request may authenticate with
type Credentials struct {
	Cookie        string
	Authorization []string
	Trusted       string
}

// Controller runs the authorization code flow and resolves request identities
type Controller struct {
	oauth      *oauth2.Config
	verifier   TokenVerifier
	fakeAuth   bool
	fakeUser   string
	fakeWarned sync.Once
	httpClient *http.Client
	recorder   metrics.Recorder
	logger     zerolog.Logger
}

type ControllerOption func(*Controller)

// WithHTTPClient sets the client used for the token exchange
func WithHTTPClient(client *http.Client) ControllerOption {
	return func(c *Controller) { c.httpClient = client }
}

// WithRecorder reports credential resolution outcomes
func WithRecorder(recorder metrics.Recorder) ControllerOption {
	return func(c *Controller) { c.recorder = recorder }
}

// WithLogger overrides the global logger
func WithLogger(logger zerolog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = logger }
}

// NewController creates a controller for the discovered provider endpoints
func NewController(endpoints Endpoints, verifier TokenVerifier, cfg ControllerConfig, opts ...ControllerOption) *Controller {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	c := &Controller{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  endpoints.AuthURL,
				TokenURL: endpoints.TokenURL,
				// client_id and client_secret travel in the form body
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		verifier: verifier,
		fakeAuth: cfg.FakeAuth,
		fakeUser: cfg.FakeUser,
		recorder: metrics.Nop{},
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FakeAuth reports whether the development bypass is on
func (c *Controller) FakeAuth() bool {
	return c.fakeAuth
}

func (c *Controller) warnFakeAuth() {
	c.fakeWarned.Do(func() {
		c.logger.Warn().Str("user", c.fakeUser).Msg("FAKE AUTH ENABLED: every request is authenticated as the development user")
	})
}

// Login starts a login that returns the browser to nextPath. The caller
// must persist State and Nonce until the callback.
func (c *Controller) Login(_ context.Context, nextPath string) (*LoginRedirect, error) {
	next := SanitizeNextPath(nextPath)

	if c.fakeAuth {
		c.warnFakeAuth()
		return &LoginRedirect{URL: next}, nil
	}

	csrf, err := NewCSRFToken()
	if err != nil {
		return nil, fmt.Errorf("[auth Login] %w", err)
	}
	state := State{CSRFToken: csrf, NextPath: next}.String()
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")

	return &LoginRedirect{
		URL:   c.oauth.AuthCodeURL(state, oidc.Nonce(nonce)),
		State: state,
		Nonce: nonce,
	}, nil
}

// HandleCallback validates the echoed state against the pending login,
// exchanges the code and verifies the returned ID token. It returns the
// path to send the browser to.
func (c *Controller) HandleCallback(ctx context.Context, code, state string, pending *statestore.PendingLogin) (string, *jwt.IDToken, error) {
	if pending == nil {
		c.logger.Warn().Msg("callback without a pending login")
		return "", nil, fmt.Errorf("%w: no pending login", apperrors.ErrBadState)
	}
	if state != pending.State {
		c.logger.Warn().Msg("callback state does not match the pending login")
		return "", nil, fmt.Errorf("%w: state mismatch", apperrors.ErrBadState)
	}
	parsed, err := ParseState(state)
	if err != nil {
		return "", nil, err
	}
	if code == "" {
		return "", nil, fmt.Errorf("%w: missing code", apperrors.ErrBadState)
	}

	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		c.logger.Warn().Err(err).Msg("authorization code exchange failed")
		return "", nil, fmt.Errorf("%w: token exchange failed: %w", apperrors.ErrTokenInvalid, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", nil, fmt.Errorf("%w: no id_token in token response", apperrors.ErrTokenInvalid)
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", apperrors.ErrTokenInvalid, err)
	}

	if pending.Nonce != "" && idToken.Claims.Nonce != pending.Nonce {
		c.logger.Warn().Str("sub", idToken.Claims.Subject).Msg("id token nonce does not match the pending login")
		return "", nil, fmt.Errorf("%w: nonce mismatch", apperrors.ErrTokenInvalid)
	}

	c.logger.Info().Str("sub", idToken.Claims.Subject).Str("email", idToken.Claims.Email).Msg("login completed")
	return parsed.NextPath, idToken, nil
}

// CredentialsFromRequest collects the credentials Resolve looks at
func CredentialsFromRequest(r *http.Request, cookieName, trustedHeader string) Credentials {
	var creds Credentials
	if cookie, err := r.Cookie(cookieName); err == nil {
		creds.Cookie = cookie.Value
	}
	for _, name := range AuthHeaders {
		creds.Authorization = append(creds.Authorization, r.Header.Values(name)...)
	}
	if trustedHeader != "" {
		creds.Trusted = strings.TrimSpace(r.Header.Get(trustedHeader))
	}
	return creds
}

// Resolve finds the caller's identity. Precedence is fake auth, then the
// trusted platform header, then the session cookie, then a bearer header.
// Invalid tokens are skipped; a zero Identity means nothing matched.
// Only a failure to load signing keys is returned as an error.
func (c *Controller) Resolve(ctx context.Context, creds Credentials) (Identity, error) {
	if c.fakeAuth {
		c.warnFakeAuth()
		c.recorder.RecordAuthOutcome(SourceFake.String(), "accepted")
		return Identity{Source: SourceFake, Subject: c.fakeUser, Email: c.fakeUser}, nil
	}

	if creds.Trusted != "" {
		c.recorder.RecordAuthOutcome(SourcePlatform.String(), "accepted")
		return Identity{Source: SourcePlatform, Subject: creds.Trusted}, nil
	}

	if creds.Cookie != "" {
		id, err := c.verify(ctx, SourceCookie, creds.Cookie)
		if err != nil || id.Authenticated() {
			return id, err
		}
	}

	for _, header := range creds.Authorization {
		raw, ok := bearerToken(header)
		if !ok {
			continue
		}
		id, err := c.verify(ctx, SourceBearer, raw)
		if err != nil || id.Authenticated() {
			return id, err
		}
	}

	c.recorder.RecordAuthOutcome(SourceNone.String(), "anonymous")
	return Identity{}, nil
}

func (c *Controller) verify(ctx context.Context, source CredentialSource, raw string) (Identity, error) {
	token, err := c.verifier.Verify(ctx, raw)
	switch {
	case err == nil:
		c.recorder.RecordAuthOutcome(source.String(), "accepted")
		return identityFromToken(source, token), nil
	case apperrors.Is(err, apperrors.ErrKeyFetch):
		c.recorder.RecordAuthOutcome(source.String(), "error")
		return Identity{}, fmt.Errorf("[auth Resolve] %w", err)
	default:
		c.recorder.RecordAuthOutcome(source.String(), "rejected")
		c.logger.Debug().Err(err).Str("source", source.String()).Msg("ignoring invalid credential")
		return Identity{}, nil
	}
}

func bearerToken(header string) (string, bool) {
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	raw := strings.TrimSpace(header[len(bearerPrefix):])
	return raw, raw != ""
}
