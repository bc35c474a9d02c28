package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const prodEnv = "PROD"

type Config interface {
	EnvConfig
	CorsConfig
	OIDCConfig
	SecurityConfig
	WarehouseConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
	GetLogLevel() string
	IsProduction() bool
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	OIDC
	Security
	Warehouse
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	// The .env file is optional
	_ = godotenv.Load()
	return parse(env.Options{})
}

// LoadFromMap builds a Config from an explicit variable map, ignoring the process environment
func LoadFromMap(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	c := mainConfig{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return nil, fmt.Errorf("[config Load] parsing environment: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c mainConfig) validate() error {
	var errs []error
	if c.FakeAuth && c.IsProduction() {
		errs = append(errs, errors.New("FAKE_AUTH cannot be enabled when ENV=PROD"))
	}
	if !c.FakeAuth {
		if c.ClientID == "" {
			errs = append(errs, errors.New("OIDC_CLIENT_ID is required"))
		}
		if c.ClientSecret == "" {
			errs = append(errs, errors.New("OIDC_CLIENT_SECRET is required"))
		}
	}
	if _, err := c.GetLocation(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("[config Load] invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// GetRedirectURL is the absolute callback URL registered with the identity provider
func (c mainConfig) GetRedirectURL() string {
	return c.GetBaseURL() + c.GetRedirectPath()
}

func (e EnvVars) IsProduction() bool {
	return strings.EqualFold(e.GetEnv(), prodEnv)
}
