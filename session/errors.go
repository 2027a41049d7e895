package session

import "errors"

var (
	// ErrNotConfigured means the client id or secret is missing.
	ErrNotConfigured = errors.New(
		"strava is not configured: set STRAVA_CLIENT_ID and STRAVA_CLIENT_SECRET",
	)
	ErrInvalidAuthURL           = errors.New("invalid auth URL")
	ErrAccessDenied             = errors.New("access denied")
	ErrMissingAuthorizationCode = errors.New("missing authorization code")
	// ErrStateMismatch means the callback carried a state we did not issue.
	ErrStateMismatch = errors.New("authorization state mismatch")
	// ErrNotLoggedIn is returned by ValidAccessToken when no usable token exists.
	ErrNotLoggedIn = errors.New("not logged in")
)
