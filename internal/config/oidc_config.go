package config

import "time"

type OIDCConfig interface {
	GetIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetRedirectPath() string
	GetRedirectURL() string
	GetScopes() []string
	GetProviderTimeout() time.Duration
}

type OIDC struct {
	IssuerURL       string        `env:"OIDC_ISSUER_URL" envDefault:"https://accounts.google.com"`
	ClientID        string        `env:"OIDC_CLIENT_ID"`
	ClientSecret    string        `env:"OIDC_CLIENT_SECRET"`
	RedirectPath    string        `env:"OIDC_REDIRECT_PATH" envDefault:"/auth/redirect"`
	Scopes          []string      `env:"OIDC_SCOPES" envSeparator:"," envDefault:"openid,email,profile"`
	ProviderTimeout time.Duration `env:"OIDC_PROVIDER_TIMEOUT" envDefault:"10s"`
}

func (o OIDC) GetIssuerURL() string {
	return o.IssuerURL
}

func (o OIDC) GetClientID() string {
	return o.ClientID
}

func (o OIDC) GetClientSecret() string {
	return o.ClientSecret
}

func (o OIDC) GetRedirectPath() string {
	return o.RedirectPath
}

func (o OIDC) GetScopes() []string {
	return o.Scopes
}

func (o OIDC) GetProviderTimeout() time.Duration {
	return o.ProviderTimeout
}
