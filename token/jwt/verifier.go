package jwt

import (
	"context"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/go-visit-sessions/internal/errors"
	"github.com/jrsteele09/go-visit-sessions/token/keys"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// ValidMethods are the asymmetric algorithms accepted on ID tokens
var ValidMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

// Claims are the ID token claims the service reads
type Claims struct {
	jwtlib.RegisteredClaims
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	Nonce         string `json:"nonce,omitempty"`
}

// IDToken is a verified token and its decoded claims
type IDToken struct {
	Raw    string
	Claims Claims
}

// KeyProvider supplies the provider's current signing keys
type KeyProvider interface {
	Get(ctx context.Context) (*keys.KeySet, error)
}

var _ KeyProvider = (*keys.Cache)(nil)

// Verifier checks ID token signatures and the iss, aud and exp claims
type Verifier struct {
	keys     KeyProvider
	issuer   string
	clientID string
	parser   *jwtlib.Parser
	logger   zerolog.Logger
}

type VerifierOption func(*Verifier)

// WithVerifierLogger overrides the global logger
func WithVerifierLogger(logger zerolog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = logger }
}

// NewVerifier creates a verifier for tokens issued by issuer to clientID
func NewVerifier(keyProvider KeyProvider, issuer, clientID string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		keys:     keyProvider,
		issuer:   issuer,
		clientID: clientID,
		// Claims are checked explicitly below so that no leeway applies
		parser: jwtlib.NewParser(
			jwtlib.WithValidMethods(ValidMethods),
			jwtlib.WithoutClaimsValidation(),
		),
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify returns the decoded token when the signature and claims are valid.
// A failure to load signing keys is wrapped in ErrKeyFetch, every other
// rejection in ErrInvalidToken.
func (v *Verifier) Verify(ctx context.Context, raw string) (*IDToken, error) {
	ks, err := v.keys.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrKeyFetch, err)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, v.reject("empty token")
	}

	claims, err := v.parse(raw, ks)
	if err != nil {
		v.logger.Warn().Err(err).Msg("id token failed signature verification")
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidToken, err)
	}

	if claims.Issuer != v.issuer {
		return nil, v.reject("issuer %q does not match %q", claims.Issuer, v.issuer)
	}
	// aud must be exactly our client id; a token shared with other audiences is refused
	if len(claims.Audience) != 1 || claims.Audience[0] != v.clientID {
		return nil, v.reject("audience %v is not the client id", []string(claims.Audience))
	}
	if claims.ExpiresAt == nil {
		return nil, v.reject("token has no expiry")
	}
	if now := NowTimeFunc().UTC(); !claims.ExpiresAt.Time.After(now) {
		return nil, v.reject("token expired at %s", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
	}

	return &IDToken{Raw: raw, Claims: *claims}, nil
}

func (v *Verifier) parse(raw string, ks *keys.KeySet) (*Claims, error) {
	unverified, _, err := v.parser.ParseUnverified(raw, &Claims{})
	if err != nil {
		return nil, err
	}

	if kid, ok := unverified.Header["kid"].(string); ok && kid != "" {
		key, found := ks.Lookup(kid)
		if !found {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return v.parseWithKey(raw, key)
	}

	// No kid: any key in the set may have signed it
	var lastErr error = fmt.Errorf("no signing keys")
	for _, key := range ks.All() {
		claims, err := v.parseWithKey(raw, key)
		if err == nil {
			return claims, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (v *Verifier) parseWithKey(raw string, key any) (*Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(*jwtlib.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token signature is invalid")
	}
	return claims, nil
}

func (v *Verifier) reject(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	v.logger.Warn().Str("reason", msg).Msg("id token rejected")
	return fmt.Errorf("%w: %s", apperrors.ErrInvalidToken, msg)
}
