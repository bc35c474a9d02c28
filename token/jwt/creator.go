package jwt

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Signer signs a set of claims into a compact JWT
type Signer interface {
	Sign(claims jwtlib.Claims) (string, error)
}

// Creator mints ID tokens for the test OpenID providers. Production code only
// verifies tokens.
type Creator struct {
	issuer string
	expiry time.Duration
	signer Signer
}

// NewCreator creates a new ID token creator
func NewCreator(issuer string, expiry time.Duration, signer Signer) *Creator {
	return &Creator{
		issuer: issuer,
		expiry: expiry,
		signer: signer,
	}
}

// CreateIDToken creates an OpenID Connect ID token for the audience clientID
func (c *Creator) CreateIDToken(subject, email, clientID, nonce string) (string, error) {
	now := NowTimeFunc()
	claims := Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			Audience:  jwtlib.ClaimStrings{clientID},
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(c.expiry)),
			ID:        uuid.New().String(),
		},
		Email:         email,
		EmailVerified: email != "",
		Nonce:         nonce,
	}
	return c.Sign(claims)
}

// Sign signs arbitrary claims, for tokens that need unusual contents
func (c *Creator) Sign(claims jwtlib.Claims) (string, error) {
	signedToken, err := c.signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT token: %w", err)
	}
	return signedToken, nil
}
