package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-visit-sessions/auth"
	apperrors "github.com/jrsteele09/go-visit-sessions/internal/errors"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ContextKeyIdentity stores the resolved auth.Identity
const ContextKeyIdentity ContextKey = "identity"

// IdentityFromContext returns the identity resolved by IdentityMiddleware.
// A zero Identity means the request is anonymous.
func IdentityFromContext(ctx context.Context) auth.Identity {
	id, _ := ctx.Value(ContextKeyIdentity).(auth.Identity)
	return id
}

// IdentityMiddleware resolves the caller from the trusted header, the ID
// cookie or a bearer header. It never rejects an anonymous request; a
// failure to load signing keys is a 503.
func (s *Server) IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds := auth.CredentialsFromRequest(r, s.config.GetIDCookieName(), s.config.GetTrustedCallerHeader())
		id, err := s.auth.Resolve(r.Context(), creds)
		if err != nil {
			s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("identity resolution failed")
			writeError(w, http.StatusServiceUnavailable, "identity provider unavailable")
			return
		}
		ctx := context.WithValue(r.Context(), ContextKeyIdentity, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireIdentity rejects anonymous requests
func (s *Server) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IdentityFromContext(r.Context()).Authenticated() {
			s.unauthenticated(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuthorized rejects anonymous callers and callers the authorizer denies
func (s *Server) RequireAuthorized(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFromContext(r.Context())
		err := s.authorizer.Authorize(id)
		switch {
		case err == nil:
			next.ServeHTTP(w, r)
		case errors.Is(err, apperrors.ErrForbidden):
			s.logger.Warn().Str("source", id.Source.String()).Str("sub", id.Subject).Str("email", id.Email).Msg("access denied")
			writeError(w, http.StatusForbidden, "forbidden")
		default:
			s.unauthenticated(w, r)
		}
	})
}

// unauthenticated sends browsers through the login flow and API clients a 401
func (s *Server) unauthenticated(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	next := r.URL.Path
	if r.URL.RawQuery != "" {
		next += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, RouteAuthLogin+"?next="+url.QueryEscape(next), http.StatusFound)
}
