// Package config loads pacefeed settings from the environment and an optional
// .env file. Command-line flags override them in the CLI.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/go-authgate/pacefeed/session"
	"github.com/go-authgate/pacefeed/tokenstore"
)

// Token store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config holds every setting the CLI needs.
type Config struct {
	ClientID     int    `env:"STRAVA_CLIENT_ID"`
	ClientSecret string `env:"STRAVA_CLIENT_SECRET"`

	RedirectScheme string `env:"STRAVA_REDIRECT_SCHEME" envDefault:"http"`
	RedirectHost   string `env:"STRAVA_REDIRECT_HOST"   envDefault:"127.0.0.1:8765"`
	RedirectPath   string `env:"STRAVA_REDIRECT_PATH"   envDefault:"/callback"`
	Scope          string `env:"STRAVA_SCOPE"           envDefault:"activity:read_all,profile:read_all"`

	OAuthURL        string `env:"STRAVA_OAUTH_URL"         envDefault:"https://www.strava.com"`
	APIURL          string `env:"STRAVA_API_URL"           envDefault:"https://www.strava.com/api/v3"`
	AppAuthorizeURL string `env:"STRAVA_APP_AUTHORIZE_URL" envDefault:"strava://oauth/mobile/authorize"`

	TokenStore   string `env:"TOKEN_STORE"   envDefault:"file"`
	TokenFile    string `env:"TOKEN_FILE"    envDefault:".pacefeed-tokens.json"`
	TokenDB      string `env:"TOKEN_DB"      envDefault:"pacefeed.db"`
	TokenService string `env:"TOKEN_SERVICE" envDefault:"com.pacepal.strava"`
}

// Overrides are command-line values; zero values leave the loaded setting alone.
type Overrides struct {
	ClientID     int
	ClientSecret string
	TokenStore   string
	TokenFile    string
}

// Load reads .env if present and then the process environment.
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Apply overrides settings with non-empty flag values (priority: flag > env > default).
func (c *Config) Apply(o Overrides) {
	if o.ClientID != 0 {
		c.ClientID = o.ClientID
	}
	c.ClientSecret = pick(o.ClientSecret, c.ClientSecret)
	c.TokenStore = pick(o.TokenStore, c.TokenStore)
	c.TokenFile = pick(o.TokenFile, c.TokenFile)
}

func pick(flagValue, current string) string {
	if flagValue != "" {
		return flagValue
	}
	return current
}

// IsConfigured reports whether the client id and secret are set.
func (c *Config) IsConfigured() bool {
	return c.ClientID != 0 && c.ClientSecret != ""
}

// RedirectURI is scheme://host+path.
func (c *Config) RedirectURI() string {
	return c.RedirectScheme + "://" + c.RedirectHost + c.RedirectPath
}

// AuthorizeURL is the browser authorization endpoint.
func (c *Config) AuthorizeURL() string {
	return strings.TrimRight(c.OAuthURL, "/") + "/oauth/mobile/authorize"
}

// Validate checks the base URLs and the store selection.
func (c *Config) Validate() error {
	if err := validateBaseURL(c.OAuthURL); err != nil {
		return fmt.Errorf("invalid STRAVA_OAUTH_URL: %w", err)
	}
	if err := validateBaseURL(c.APIURL); err != nil {
		return fmt.Errorf("invalid STRAVA_API_URL: %w", err)
	}
	if c.RedirectScheme == "" || c.RedirectHost == "" {
		return errors.New("redirect scheme and host must be set")
	}
	switch c.TokenStore {
	case StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("unknown token store %q (want %s or %s)", c.TokenStore, StoreFile, StoreSQLite)
	}
	return nil
}

// Warnings lists settings that work but are unsafe outside local development.
func (c *Config) Warnings() []string {
	var out []string
	for _, u := range []string{c.OAuthURL, c.APIURL} {
		if strings.HasPrefix(strings.ToLower(u), "http://") {
			out = append(out, fmt.Sprintf(
				"%s uses HTTP instead of HTTPS. Tokens will be transmitted in plaintext!", u,
			))
		}
	}
	return out
}

// SessionConfig converts the settings the session needs.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		ClientID:        c.ClientID,
		ClientSecret:    c.ClientSecret,
		RedirectURI:     c.RedirectURI(),
		CallbackScheme:  c.RedirectScheme,
		Scope:           c.Scope,
		AuthorizeURL:    c.AuthorizeURL(),
		AppAuthorizeURL: c.AppAuthorizeURL,
	}
}

// Service returns the token namespace, falling back to the default.
func (c *Config) Service() string {
	if c.TokenService == "" {
		return tokenstore.DefaultService
	}
	return c.TokenService
}

// validateBaseURL validates that a base URL is properly formatted
func validateBaseURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}
