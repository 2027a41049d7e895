// Package strava talks to the Strava OAuth endpoints and the v3 resource API.
//
// Clients here are stateless: they never read or write stored credentials.
// Deciding when to refresh or forget a token is the session's job.
package strava

import (
	"strings"
	"time"

	"github.com/go-authgate/pacefeed/tokenstore"
)

// DefaultPerPage is the activities page size used when none is given.
const DefaultPerPage = 30

// Athlete is the athlete object returned by /athlete and embedded in token responses.
type Athlete struct {
	ID            int64  `json:"id"`
	FirstName     string `json:"firstname"`
	LastName      string `json:"lastname"`
	ProfileMedium string `json:"profile_medium"`
	Profile       string `json:"profile"`
	City          string `json:"city"`
	State         string `json:"state"`
	Country       string `json:"country"`
	Premium       bool   `json:"premium"`
}

// DisplayName joins first and last name.
func (a Athlete) DisplayName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// AvatarURL prefers the medium profile picture.
func (a Athlete) AvatarURL() string {
	if a.ProfileMedium != "" {
		return a.ProfileMedium
	}
	return a.Profile
}

// TokenResponse is the body of a successful POST /oauth/token.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresAt is epoch seconds.
	ExpiresAt int64    `json:"expires_at"`
	Athlete   *Athlete `json:"athlete,omitempty"`
}

// Credential extracts the persistable part of the response.
func (r *TokenResponse) Credential() tokenstore.Credential {
	return tokenstore.Credential{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    r.ExpiresAt,
	}
}

// MapSummary carries the encoded route polyline.
type MapSummary struct {
	SummaryPolyline string `json:"summary_polyline"`
}

// ActivitySummary is one element of GET /athlete/activities.
type ActivitySummary struct {
	ID int64 `json:"id"`
	// Distance in meters.
	Distance float64 `json:"distance"`
	// MovingTime in seconds.
	MovingTime      int         `json:"moving_time"`
	Type            string      `json:"type"`
	StartDateLocal  time.Time   `json:"start_date_local"`
	LocationCity    string      `json:"location_city"`
	LocationState   string      `json:"location_state"`
	LocationCountry string      `json:"location_country"`
	Map             *MapSummary `json:"map"`
}

// IsRun reports whether the activity type is "run", ignoring case.
func (a ActivitySummary) IsRun() bool {
	return strings.EqualFold(a.Type, "run")
}
