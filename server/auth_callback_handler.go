package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/jrsteele09/go-visit-sessions/auth/statestore"
	apperrors "github.com/jrsteele09/go-visit-sessions/internal/errors"
)

// LoginHandler stores a pending login under a fresh auth_session_id cookie and
// sends the browser to the identity provider
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		login, err := s.auth.Login(r.Context(), r.URL.Query().Get("next"))
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to start login")
			writeError(w, http.StatusInternalServerError, "failed to start login")
			return
		}

		// Fake auth has nothing to remember
		if login.State == "" {
			http.Redirect(w, r, login.URL, http.StatusFound)
			return
		}

		authSessionID := newAuthSessionID()
		pending := statestore.PendingLogin{
			State:     login.State,
			Nonce:     login.Nonce,
			CreatedAt: s.now().UTC(),
		}
		if err := s.logins.Put(r.Context(), authSessionID, pending, s.config.GetLoginStateTTL()); err != nil {
			s.logger.Error().Err(err).Msg("failed to store pending login")
			writeError(w, http.StatusInternalServerError, "failed to start login")
			return
		}

		s.SetAuthSessionCookie(w, authSessionID, r)
		http.Redirect(w, r, login.URL, http.StatusFound)
	}
}

// OAuthCallbackHandler completes the login: the pending login is consumed
// whatever the outcome, and on success the ID token becomes the session cookie
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		// Check for authorization errors
		if errorParam := query.Get("error"); errorParam != "" {
			s.logger.Warn().Str("error", errorParam).Str("description", query.Get("error_description")).Msg("provider returned an authorization error")
			s.discardPendingLogin(w, r)
			writeError(w, http.StatusUnauthorized, "authorization failed: "+errorParam)
			return
		}

		pending, err := s.takePendingLogin(r)
		s.ClearAuthSessionCookie(w, r)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to load pending login")
			writeError(w, http.StatusInternalServerError, "failed to complete login")
			return
		}

		nextPath, idToken, err := s.auth.HandleCallback(r.Context(), query.Get("code"), query.Get("state"), pending)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrBadState), errors.Is(err, apperrors.ErrTokenInvalid):
			s.logger.Warn().Err(err).Msg("login callback rejected")
			writeError(w, http.StatusUnauthorized, "login failed")
			return
		default:
			s.logger.Error().Err(err).Msg("login callback failed")
			writeError(w, http.StatusInternalServerError, "login failed")
			return
		}

		expiresAt := time.Time{}
		if idToken.Claims.ExpiresAt != nil {
			expiresAt = idToken.Claims.ExpiresAt.Time
		}
		s.SetIDCookie(w, idToken.Raw, expiresAt, r)
		http.Redirect(w, r, nextPath, http.StatusFound)
	}
}

// LogoutHandler drops the ID cookie
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.ClearIDCookie(w, r)
		http.Redirect(w, r, RouteIndex, http.StatusFound)
	}
}

// takePendingLogin returns nil, nil when there is no usable pending login
func (s *Server) takePendingLogin(r *http.Request) (*statestore.PendingLogin, error) {
	cookie, err := r.Cookie(authSessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	pending, err := s.logins.Take(r.Context(), cookie.Value)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return pending, err
}

func (s *Server) discardPendingLogin(w http.ResponseWriter, r *http.Request) {
	if _, err := s.takePendingLogin(r); err != nil {
		s.logger.Warn().Err(err).Msg("failed to discard pending login")
	}
	s.ClearAuthSessionCookie(w, r)
}
