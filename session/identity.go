package session

import "github.com/go-authgate/pacefeed/strava"

// Identity is the signed-in athlete as the UI needs it.
type Identity struct {
	ID          int64
	DisplayName string
	AvatarURL   string
	Premium     bool
	City        string
	State       string
	Country     string
}

func identityFrom(a *strava.Athlete) *Identity {
	return &Identity{
		ID:          a.ID,
		DisplayName: a.DisplayName(),
		AvatarURL:   a.AvatarURL(),
		Premium:     a.Premium,
		City:        a.City,
		State:       a.State,
		Country:     a.Country,
	}
}
