package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	apperrors "github.com/jrsteele09/go-visit-sessions/internal/errors"
	"golang.org/x/crypto/blake2b"
)

// StateSeparator joins the CSRF token and the return path
const StateSeparator = "$"

const csrfEntropyBytes = 1024

// State is the opaque value echoed through the provider's state parameter
type State struct {
	CSRFToken string
	NextPath  string
}

func (s State) String() string {
	return s.CSRFToken + StateSeparator + s.NextPath
}

// ParseState splits on the first separator only, so next paths may contain '$'
func ParseState(raw string) (State, error) {
	csrf, next, found := strings.Cut(raw, StateSeparator)
	if !found || csrf == "" {
		return State{}, fmt.Errorf("%w: malformed state", apperrors.ErrBadState)
	}
	return State{CSRFToken: csrf, NextPath: next}, nil
}

// NewCSRFToken returns a 256-bit token as 64 hex characters
func NewCSRFToken() (string, error) {
	b := make([]byte, csrfEntropyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// SanitizeNextPath keeps only local absolute paths; everything else becomes "/"
func SanitizeNextPath(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") {
		return "/"
	}
	// "//host" and "/\host" are treated as network paths by browsers
	if strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}
