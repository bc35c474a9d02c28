package keys

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// KeyPairSigner signs ID tokens with a key pair and publishes the matching JWKS.
// It is a test fixture: the httptest OpenID providers in the auth and jwt
// tests sign with it. The service itself never issues tokens.
type KeyPairSigner struct {
	keyPair *KeyPair
}

// NewKeyPairSigner creates a new key pair signer with the given key pair
func NewKeyPairSigner(keyPair *KeyPair) *KeyPairSigner {
	return &KeyPairSigner{
		keyPair: keyPair,
	}
}

// Sign creates a signed JWT with the key id in its header
func (a *KeyPairSigner) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(a.keyPair.GetSigningMethod(), claims)
	token.Header["kid"] = a.keyPair.KeyID

	signedToken, err := token.SignedString(a.keyPair.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token with asymmetric key: %w", err)
	}
	return signedToken, nil
}

// GetJWKS returns the JSON Web Key Set containing this signer's public key
func (a *KeyPairSigner) GetJWKS() (*JWKS, error) {
	jwk, err := a.keyPair.ToJWK()
	if err != nil {
		return nil, fmt.Errorf("failed to convert key to JWK: %w", err)
	}

	return &JWKS{
		Keys: []JWK{*jwk},
	}, nil
}

// KeyID returns the kid placed in signed token headers
func (a *KeyPairSigner) KeyID() string {
	return a.keyPair.KeyID
}
