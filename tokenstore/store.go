// Package tokenstore persists the Strava OAuth credential between runs.
//
// A credential is stored as three named entries (access token, refresh token,
// expiry) under one service namespace. Saves replace all three together and a
// read that finds any entry missing or malformed reports ErrNoCredential.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// Entry names inside a service namespace.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
	ExpiresAtKey    = "expires_at"
)

// DefaultService is the namespace used when none is configured.
const DefaultService = "com.pacepal.strava"

// ErrNoCredential is returned by Load when no complete credential is stored.
var ErrNoCredential = errors.New("no stored credential")

// Credential is the unit persisted for re-authentication.
type Credential struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is the access token expiry in epoch seconds.
	ExpiresAt int64
}

// Expiry returns ExpiresAt as a time.Time.
func (c Credential) Expiry() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// ValidFor reports whether the access token stays valid for at least margin after now.
func (c Credential) ValidFor(now time.Time, margin time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	return c.ExpiresAt > now.Add(margin).Unix()
}

// Token converts the credential to an oauth2 bearer token.
func (c Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       c.Expiry(),
	}
}

// Store is a durable key-value home for a single credential.
type Store interface {
	// Save overwrites the stored credential.
	Save(ctx context.Context, cred Credential) error
	// Load returns ErrNoCredential (possibly wrapped) when nothing usable is stored.
	Load(ctx context.Context) (*Credential, error)
	// Clear removes the credential. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// entries flattens a credential into its named entries.
func entries(cred Credential) map[string]string {
	return map[string]string{
		AccessTokenKey:  cred.AccessToken,
		RefreshTokenKey: cred.RefreshToken,
		ExpiresAtKey:    strconv.FormatInt(cred.ExpiresAt, 10),
	}
}

// fromEntries rebuilds a credential, failing if any entry is absent or corrupt.
func fromEntries(values map[string]string) (*Credential, error) {
	access, ok := values[AccessTokenKey]
	if !ok || access == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrNoCredential, AccessTokenKey)
	}
	refresh, ok := values[RefreshTokenKey]
	if !ok || refresh == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrNoCredential, RefreshTokenKey)
	}
	raw, ok := values[ExpiresAtKey]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrNoCredential, ExpiresAtKey)
	}
	expiresAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt %s: %v", ErrNoCredential, ExpiresAtKey, err)
	}
	return &Credential{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}, nil
}
