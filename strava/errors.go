package strava

import "fmt"

// ExchangeError is a non-2xx response to an authorization code exchange.
type ExchangeError struct {
	StatusCode int
	Message    string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: %d: %s", e.StatusCode, e.Message)
}

// RefreshError is a non-2xx response to a refresh_token grant.
type RefreshError struct {
	StatusCode int
	Message    string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %d: %s", e.StatusCode, e.Message)
}

// APIError is a non-2xx response from the resource API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}
