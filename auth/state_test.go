package auth_test

import (
	"encoding/hex"
	"testing"

	"github.com/jrsteele09/go-visit-sessions/auth"
	apperrors "github.com/jrsteele09/go-visit-sessions/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		raw      string
		wantCSRF string
		wantNext string
	}{
		{"abc$/", "abc", "/"},
		{"abc$/foo", "abc", "/foo"},
		{"abc$/reports?total=$5", "abc", "/reports?total=$5"},
		{"abc$/a$b$c", "abc", "/a$b$c"},
		{"abc$", "abc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			state, err := auth.ParseState(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCSRF, state.CSRFToken)
			assert.Equal(t, tt.wantNext, state.NextPath)
			assert.Equal(t, tt.raw, state.String())
		})
	}
}

func TestParseState_Malformed(t *testing.T) {
	for _, raw := range []string{"", "no-separator", "$/missing-csrf"} {
		_, err := auth.ParseState(raw)
		require.ErrorIs(t, err, apperrors.ErrBadState, raw)
	}
}

func TestSanitizeNextPath(t *testing.T) {
	tests := map[string]string{
		"":                     "/",
		"/":                    "/",
		"/sessions?limit=5":    "/sessions?limit=5",
		"/price/$10":           "/price/$10",
		"https://evil.example": "/",
		"//evil.example/path":  "/",
		"/\\evil.example":      "/",
		"relative/path":        "/",
		"javascript:alert(1)":  "/",
	}

	for in, want := range tests {
		assert.Equal(t, want, auth.SanitizeNextPath(in), in)
	}
}

func TestNewCSRFToken(t *testing.T) {
	seen := map[string]bool{}
	for range 50 {
		token, err := auth.NewCSRFToken()
		require.NoError(t, err)
		require.Len(t, token, 64)

		_, err = hex.DecodeString(token)
		require.NoError(t, err)

		require.False(t, seen[token], "duplicate csrf token")
		seen[token] = true
	}
}
