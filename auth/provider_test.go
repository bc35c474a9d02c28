package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-visit-sessions/auth"
	"github.com/jrsteele09/go-visit-sessions/token/jwt"
	"github.com/jrsteele09/go-visit-sessions/token/keys"
	"github.com/stretchr/testify/require"
)

const (
	testClientID     = "visits-client"
	testClientSecret = "visits-secret"
	testRedirectURL  = "https://visits.example.com/auth/redirect"
)

// testProvider is a minimal OpenID provider: discovery, JWKS and a token
// endpoint that returns whatever ID token was registered for a code
type testProvider struct {
	t       *testing.T
	server  *httptest.Server
	signer  *keys.KeyPairSigner
	creator *jwt.Creator

	mu         sync.Mutex
	codes      map[string]string
	tokenForms []map[string]string
	jwksHits   int
}

func newTestProvider(t *testing.T) *testProvider {
	t.Helper()
	kp, err := keys.GenerateRSAKeyPair("test-key", 2048)
	require.NoError(t, err)

	p := &testProvider{
		t:      t,
		signer: keys.NewKeyPairSigner(kp),
		codes:  make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"issuer":                                p.server.URL,
			"authorization_endpoint":                p.server.URL + "/authorize",
			"token_endpoint":                        p.server.URL + "/token",
			"jwks_uri":                              p.server.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.jwksHits++
		p.mu.Unlock()
		jwks, err := p.signer.GetJWKS()
		require.NoError(t, err)
		writeJSON(w, jwks)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}

		p.mu.Lock()
		p.tokenForms = append(p.tokenForms, form)
		idToken, ok := p.codes[form["code"]]
		p.mu.Unlock()

		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		writeJSON(w, map[string]any{
			"access_token": "opaque-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	p.creator = jwt.NewCreator(p.server.URL, time.Hour, p.signer)
	return p
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// issue mints a token for the configured client
func (p *testProvider) issue(subject, email, nonce string) string {
	p.t.Helper()
	raw, err := p.creator.CreateIDToken(subject, email, testClientID, nonce)
	require.NoError(p.t, err)
	return raw
}

// registerCode makes the token endpoint answer code with idToken
func (p *testProvider) registerCode(code, idToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes[code] = idToken
}

func (p *testProvider) lastTokenForm() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(p.t, p.tokenForms)
	return p.tokenForms[len(p.tokenForms)-1]
}

func (p *testProvider) endpoints() auth.Endpoints {
	p.t.Helper()
	endpoints, err := auth.Discover(context.Background(), p.server.URL, p.server.Client())
	require.NoError(p.t, err)
	return endpoints
}

func (p *testProvider) verifier() *jwt.Verifier {
	cache := keys.NewCache(&keys.HTTPFetcher{URL: p.server.URL + "/jwks", Client: p.server.Client()})
	return jwt.NewVerifier(cache, p.server.URL, testClientID)
}

func (p *testProvider) controller(opts ...auth.ControllerOption) *auth.Controller {
	opts = append([]auth.ControllerOption{auth.WithHTTPClient(p.server.Client())}, opts...)
	return auth.NewController(p.endpoints(), p.verifier(), auth.ControllerConfig{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURL:  testRedirectURL,
	}, opts...)
}

func TestDiscover(t *testing.T) {
	p := newTestProvider(t)

	endpoints := p.endpoints()
	require.Equal(t, p.server.URL, endpoints.Issuer)
	require.Equal(t, p.server.URL+"/authorize", endpoints.AuthURL)
	require.Equal(t, p.server.URL+"/token", endpoints.TokenURL)
	require.Equal(t, p.server.URL+"/jwks", endpoints.JWKSURL)
}

func TestDiscover_Failure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := auth.Discover(context.Background(), srv.URL, srv.Client())
	require.Error(t, err)
}
