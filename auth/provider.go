package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Endpoints are the provider URLs the login flow talks to
type Endpoints struct {
	Issuer   string
	AuthURL  string
	TokenURL string
	JWKSURL  string
}

// Discover loads the provider's discovery document from
// <issuerURL>/.well-known/openid-configuration
func Discover(ctx context.Context, issuerURL string, client *http.Client) (Endpoints, error) {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return Endpoints{}, fmt.Errorf("[auth Discover] failed to create OIDC provider: %w", err)
	}

	var doc struct {
		Issuer  string `json:"issuer"`
		JWKSURL string `json:"jwks_uri"`
	}
	if err := provider.Claims(&doc); err != nil {
		return Endpoints{}, fmt.Errorf("[auth Discover] failed to read discovery document: %w", err)
	}
	if doc.JWKSURL == "" {
		return Endpoints{}, fmt.Errorf("[auth Discover] discovery document has no jwks_uri")
	}

	endpoint := provider.Endpoint()
	return Endpoints{
		Issuer:   doc.Issuer,
		AuthURL:  endpoint.AuthURL,
		TokenURL: endpoint.TokenURL,
		JWKSURL:  doc.JWKSURL,
	}, nil
}
