package auth_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/go-visit-sessions/auth"
	"github.com/jrsteele09/go-visit-sessions/auth/statestore"
	apperrors "github.com/jrsteele09/go-visit-sessions/internal/errors"
	"github.com/jrsteele09/go-visit-sessions/token/jwt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingFrom(login *auth.LoginRedirect) *statestore.PendingLogin {
	return &statestore.PendingLogin{State: login.State, Nonce: login.Nonce, CreatedAt: time.Now()}
}

func TestController_Login(t *testing.T) {
	p := newTestProvider(t)
	c := p.controller()

	login, err := c.Login(context.Background(), "/sessions?limit=10")
	require.NoError(t, err)

	u, err := url.Parse(login.URL)
	require.NoError(t, err)
	require.Equal(t, p.server.URL+"/authorize", u.Scheme+"://"+u.Host+u.Path)

	q := u.Query()
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, testRedirectURL, q.Get("redirect_uri"))
	assert.Equal(t, login.State, q.Get("state"))
	assert.Equal(t, login.Nonce, q.Get("nonce"))

	state, err := auth.ParseState(login.State)
	require.NoError(t, err)
	assert.Equal(t, "/sessions?limit=10", state.NextPath)
	assert.Len(t, state.CSRFToken, 64)
}

func TestController_LoginIsFreshEveryTime(t *testing.T) {
	c := newTestProvider(t).controller()

	first, err := c.Login(context.Background(), "/")
	require.NoError(t, err)
	second, err := c.Login(context.Background(), "/")
	require.NoError(t, err)

	assert.NotEqual(t, first.State, second.State)
	assert.NotEqual(t, first.Nonce, second.Nonce)
	assert.NotEmpty(t, first.Nonce)
}

func TestController_LoginRejectsForeignNextPath(t *testing.T) {
	c := newTestProvider(t).controller()

	login, err := c.Login(context.Background(), "https://evil.example.com/phish")
	require.NoError(t, err)

	state, err := auth.ParseState(login.State)
	require.NoError(t, err)
	assert.Equal(t, "/", state.NextPath)
}

func TestController_CallbackRoundTrip(t *testing.T) {
	for _, next := range []string{"/", "/sessions", "/reports/$latest?x=$y"} {
		t.Run(next, func(t *testing.T) {
			p := newTestProvider(t)
			c := p.controller()

			login, err := c.Login(context.Background(), next)
			require.NoError(t, err)
			p.registerCode("code-1", p.issue("user-1", "alice@example.com", login.Nonce))

			gotNext, token, err := c.HandleCallback(context.Background(), "code-1", login.State, pendingFrom(login))
			require.NoError(t, err)
			assert.Equal(t, next, gotNext)
			assert.Equal(t, "user-1", token.Claims.Subject)
			assert.Equal(t, "alice@example.com", token.Claims.Email)

			form := p.lastTokenForm()
			assert.Equal(t, "authorization_code", form["grant_type"])
			assert.Equal(t, "code-1", form["code"])
			assert.Equal(t, testClientID, form["client_id"])
			assert.Equal(t, testClientSecret, form["client_secret"])
			assert.Equal(t, testRedirectURL, form["redirect_uri"])
		})
	}
}

func TestController_CallbackBadState(t *testing.T) {
	p := newTestProvider(t)
	c := p.controller()
	p.registerCode("code-1", p.issue("user-1", "alice@example.com", ""))

	tests := []struct {
		name    string
		code    string
		state   string
		pending *statestore.PendingLogin
	}{
		{"suffix differs", "code-1", "abc$/", &statestore.PendingLogin{State: "abc$/foo"}},
		{"one character differs", "code-1", "abd$/foo", &statestore.PendingLogin{State: "abc$/foo"}},
		{"no pending login", "code-1", "abc$/foo", nil},
		{"empty state", "code-1", "", &statestore.PendingLogin{State: "abc$/foo"}},
		{"missing code", "", "abc$/foo", &statestore.PendingLogin{State: "abc$/foo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, token, err := c.HandleCallback(context.Background(), tt.code, tt.state, tt.pending)
			require.ErrorIs(t, err, apperrors.ErrBadState)
			assert.Empty(t, next)
			assert.Nil(t, token)
		})
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Empty(t, p.tokenForms, "no code exchange before state validation")
}

func TestController_CallbackTokenInvalid(t *testing.T) {
	t.Run("code rejected by provider", func(t *testing.T) {
		p := newTestProvider(t)
		c := p.controller()
		login, err := c.Login(context.Background(), "/")
		require.NoError(t, err)

		_, _, err = c.HandleCallback(context.Background(), "unknown-code", login.State, pendingFrom(login))
		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})

	t.Run("token for another client", func(t *testing.T) {
		p := newTestProvider(t)
		c := p.controller()
		login, err := c.Login(context.Background(), "/")
		require.NoError(t, err)

		raw, err := p.creator.CreateIDToken("user-1", "alice@example.com", "other-client", login.Nonce)
		require.NoError(t, err)
		p.registerCode("code-1", raw)

		_, _, err = c.HandleCallback(context.Background(), "code-1", login.State, pendingFrom(login))
		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		require.ErrorIs(t, err, apperrors.ErrInvalidToken)
	})

	t.Run("nonce mismatch", func(t *testing.T) {
		p := newTestProvider(t)
		c := p.controller()
		login, err := c.Login(context.Background(), "/")
		require.NoError(t, err)
		p.registerCode("code-1", p.issue("user-1", "alice@example.com", "replayed-nonce"))

		_, _, err = c.HandleCallback(context.Background(), "code-1", login.State, pendingFrom(login))
		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		require.Contains(t, err.Error(), "nonce")
	})
}

type stubVerifier struct {
	tokens map[string]*jwt.IDToken
	err    error
}

func (s *stubVerifier) Verify(_ context.Context, raw string) (*jwt.IDToken, error) {
	if s.err != nil {
		return nil, s.err
	}
	if token, ok := s.tokens[raw]; ok {
		return token, nil
	}
	return nil, apperrors.ErrInvalidToken
}

func newStubController(verifier auth.TokenVerifier, cfg auth.ControllerConfig, opts ...auth.ControllerOption) *auth.Controller {
	return auth.NewController(auth.Endpoints{AuthURL: "https://idp.example/auth", TokenURL: "https://idp.example/token"}, verifier, cfg, opts...)
}

func idToken(sub, email string) *jwt.IDToken {
	token := &jwt.IDToken{Raw: "raw-" + sub}
	token.Claims.Subject = sub
	token.Claims.Email = email
	return token
}

func TestController_ResolvePrecedence(t *testing.T) {
	verifier := &stubVerifier{tokens: map[string]*jwt.IDToken{
		"cookie-token": idToken("cookie-user", "cookie@example.com"),
		"bearer-token": idToken("bearer-user", "bearer@example.com"),
	}}
	c := newStubController(verifier, auth.ControllerConfig{ClientID: testClientID})
	ctx := context.Background()

	tests := []struct {
		name        string
		creds       auth.Credentials
		wantSource  auth.CredentialSource
		wantSubject string
	}{
		{
			name:        "trusted header beats a valid cookie",
			creds:       auth.Credentials{Trusted: "billing-service", Cookie: "cookie-token", Authorization: []string{"Bearer bearer-token"}},
			wantSource:  auth.SourcePlatform,
			wantSubject: "billing-service",
		},
		{
			name:        "cookie beats bearer",
			creds:       auth.Credentials{Cookie: "cookie-token", Authorization: []string{"Bearer bearer-token"}},
			wantSource:  auth.SourceCookie,
			wantSubject: "cookie-user",
		},
		{
			name:        "invalid cookie falls through to bearer",
			creds:       auth.Credentials{Cookie: "stale", Authorization: []string{"Bearer bearer-token"}},
			wantSource:  auth.SourceBearer,
			wantSubject: "bearer-user",
		},
		{
			name:        "second auth header is used when the first is invalid",
			creds:       auth.Credentials{Authorization: []string{"Bearer junk", "Bearer bearer-token"}},
			wantSource:  auth.SourceBearer,
			wantSubject: "bearer-user",
		},
		{
			name:        "lowercase scheme",
			creds:       auth.Credentials{Authorization: []string{"bearer bearer-token"}},
			wantSource:  auth.SourceBearer,
			wantSubject: "bearer-user",
		},
		{
			name:       "non-bearer scheme ignored",
			creds:      auth.Credentials{Authorization: []string{"Basic dXNlcjpwYXNz"}},
			wantSource: auth.SourceNone,
		},
		{
			name:       "nothing presented",
			creds:      auth.Credentials{},
			wantSource: auth.SourceNone,
		},
		{
			name:       "only invalid credentials",
			creds:      auth.Credentials{Cookie: "stale", Authorization: []string{"Bearer junk"}},
			wantSource: auth.SourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := c.Resolve(ctx, tt.creds)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSource, id.Source)
			assert.Equal(t, tt.wantSubject, id.Subject)
		})
	}
}

func TestController_ResolveIdentityVariants(t *testing.T) {
	verifier := &stubVerifier{tokens: map[string]*jwt.IDToken{"t": idToken("u", "u@example.com")}}
	c := newStubController(verifier, auth.ControllerConfig{})

	platform, err := c.Resolve(context.Background(), auth.Credentials{Trusted: "cron"})
	require.NoError(t, err)
	assert.True(t, platform.Authenticated())
	assert.False(t, platform.Verified())
	assert.Nil(t, platform.Token)

	cookie, err := c.Resolve(context.Background(), auth.Credentials{Cookie: "t"})
	require.NoError(t, err)
	assert.True(t, cookie.Verified())
	assert.Equal(t, "u@example.com", cookie.Email)
	assert.Same(t, verifier.tokens["t"], cookie.Token)
}

func TestController_ResolveKeyFetchFailure(t *testing.T) {
	verifier := &stubVerifier{err: errors.Join(apperrors.ErrKeyFetch, errors.New("dial tcp: refused"))}
	c := newStubController(verifier, auth.ControllerConfig{})

	_, err := c.Resolve(context.Background(), auth.Credentials{Cookie: "anything"})
	require.ErrorIs(t, err, apperrors.ErrKeyFetch)

	// The platform header never needs keys
	id, err := c.Resolve(context.Background(), auth.Credentials{Trusted: "cron", Cookie: "anything"})
	require.NoError(t, err)
	assert.Equal(t, auth.SourcePlatform, id.Source)
}

func TestController_FakeAuth(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	verifier := &stubVerifier{err: errors.New("verifier must not be called")}
	c := newStubController(verifier, auth.ControllerConfig{FakeAuth: true, FakeUser: "test@example.com"}, auth.WithLogger(logger))

	for range 3 {
		id, err := c.Resolve(context.Background(), auth.Credentials{Trusted: "cron", Cookie: "x"})
		require.NoError(t, err)
		assert.Equal(t, auth.SourceFake, id.Source)
		assert.Equal(t, "test@example.com", id.Email)
	}

	login, err := c.Login(context.Background(), "/sessions")
	require.NoError(t, err)
	assert.Equal(t, "/sessions", login.URL)
	assert.Empty(t, login.State)

	assert.Equal(t, 1, strings.Count(buf.String(), "FAKE AUTH ENABLED"))
	assert.True(t, c.FakeAuth())
}

func TestCredentialsFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	r.AddCookie(&http.Cookie{Name: "CID", Value: "cookie-token"})
	r.Header.Add("Authorization", "Bearer a")
	r.Header.Add("HTTP_AUTHORIZATION", "Bearer b")
	r.Header.Set("X-Appengine-Inbound-Appid", " billing ")

	creds := auth.CredentialsFromRequest(r, "CID", "X-Appengine-Inbound-Appid")
	assert.Equal(t, "cookie-token", creds.Cookie)
	assert.Equal(t, []string{"Bearer a", "Bearer b"}, creds.Authorization)
	assert.Equal(t, "billing", creds.Trusted)

	noTrust := auth.CredentialsFromRequest(r, "other-cookie", "")
	assert.Empty(t, noTrust.Cookie)
	assert.Empty(t, noTrust.Trusted)
}

func TestController_ResolveEndToEnd(t *testing.T) {
	p := newTestProvider(t)
	c := p.controller()

	raw := p.issue("user-1", "alice@example.com", "")
	id, err := c.Resolve(context.Background(), auth.Credentials{Authorization: []string{"Bearer " + raw}})
	require.NoError(t, err)
	assert.Equal(t, auth.SourceBearer, id.Source)
	assert.Equal(t, "alice@example.com", id.Email)

	_, err = c.Resolve(context.Background(), auth.Credentials{Cookie: raw})
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 1, p.jwksHits, "key set is fetched once")
}
