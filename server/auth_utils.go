package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// authSessionCookieName is the name of the cookie used to track a pending login
	authSessionCookieName = "auth_session_id"
)

func newAuthSessionID() string {
	return uuid.NewString()
}

func (s *Server) SetAuthSessionCookie(w http.ResponseWriter, authSessionID string, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     authSessionCookieName,
		Value:    authSessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.config.GetLoginStateTTL() / time.Second),
	})
}

func (s *Server) ClearAuthSessionCookie(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, r, authSessionCookieName)
}

// SetIDCookie stores the raw ID token; it expires with the token
func (s *Server) SetIDCookie(w http.ResponseWriter, rawIDToken string, expiresAt time.Time, r *http.Request) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.GetIDCookieName(),
		Value:    rawIDToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func (s *Server) ClearIDCookie(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, r, s.config.GetIDCookieName())
}

func clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
