package config

import "time"

type SecurityConfig interface {
	GetFakeAuth() bool
	GetFakeAuthUser() string
	GetTrustedCallerHeader() string
	GetTrustedCallers() []string
	GetAllowedEmails() []string
	GetIDCookieName() string
	GetLoginStateTTL() time.Duration
	GetIngestRateLimit() float64
	GetIngestBurst() int
}

type Security struct {
	// FakeAuth bypasses authentication entirely. Local development only.
	FakeAuth     bool   `env:"FAKE_AUTH" envDefault:"false"`
	FakeAuthUser string `env:"FAKE_AUTH_USER" envDefault:"test@example.com"`
	// TrustedCallerHeader is off unless set. Only set it behind a proxy that
	// strips the header from outside traffic, e.g. X-Appengine-Inbound-Appid.
	TrustedCallerHeader string        `env:"TRUSTED_CALLER_HEADER"`
	TrustedCallers      []string      `env:"TRUSTED_CALLERS" envSeparator:","`
	AllowedEmails       []string      `env:"ALLOWED_EMAILS" envSeparator:","`
	IDCookieName        string        `env:"ID_COOKIE_NAME" envDefault:"CID"`
	LoginStateTTL       time.Duration `env:"LOGIN_STATE_TTL" envDefault:"10m"`
	IngestRateLimit     float64       `env:"INGEST_RATE_LIMIT" envDefault:"50"`
	IngestBurst         int           `env:"INGEST_BURST" envDefault:"100"`
}

var _ SecurityConfig = Security{}

func (s Security) GetFakeAuth() bool {
	return s.FakeAuth
}

func (s Security) GetFakeAuthUser() string {
	return s.FakeAuthUser
}

func (s Security) GetTrustedCallerHeader() string {
	return s.TrustedCallerHeader
}

func (s Security) GetTrustedCallers() []string {
	return s.TrustedCallers
}

func (s Security) GetAllowedEmails() []string {
	return s.AllowedEmails
}

func (s Security) GetIDCookieName() string {
	return s.IDCookieName
}

func (s Security) GetLoginStateTTL() time.Duration {
	return s.LoginStateTTL
}

func (s Security) GetIngestRateLimit() float64 {
	return s.IngestRateLimit
}

func (s Security) GetIngestBurst() int {
	return s.IngestBurst
}
