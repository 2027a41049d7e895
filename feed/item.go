package feed

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-authgate/pacefeed/strava"
)

// DateLayout renders activity dates, e.g. "Jan 15, 2024".
const DateLayout = "Jan 2, 2006"

// Item is a display-ready run. It is built once per fetched activity and never mutated.
type Item struct {
	ID int64
	// DistanceKm is rounded to two decimals.
	DistanceKm float64
	// Pace is "M:SS" per km, empty when it cannot be computed.
	Pace              string
	MovingTimeSeconds int
	StartDate         time.Time
	DateDisplay       string
	// Location is "city, state, country" without the blank parts. May be empty.
	Location      string
	RoutePolyline string
}

// HasPace reports whether a pace could be computed.
func (i Item) HasPace() bool { return i.Pace != "" }

// Project converts an activity summary into an Item.
func Project(a strava.ActivitySummary) Item {
	item := Item{
		ID:                a.ID,
		DistanceKm:        round(a.Distance/1000, 2),
		Pace:              FormatPace(a.MovingTime, a.Distance),
		MovingTimeSeconds: a.MovingTime,
		StartDate:         a.StartDateLocal,
		DateDisplay:       FormatDate(a.StartDateLocal),
		Location:          JoinLocation(a.LocationCity, a.LocationState, a.LocationCountry),
	}
	if a.Map != nil {
		item.RoutePolyline = a.Map.SummaryPolyline
	}
	return item
}

// FormatPace returns the pace per kilometer as "M:SS", or "" when either input is zero.
func FormatPace(movingTimeSeconds int, distanceMeters float64) string {
	if movingTimeSeconds <= 0 || distanceMeters <= 0 {
		return ""
	}
	secondsPerKm := float64(movingTimeSeconds) / (distanceMeters / 1000)
	total := int(math.Round(secondsPerKm))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// FormatDate renders t with DateLayout. The zero time renders as "".
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// JoinLocation joins the non-blank parts with ", ".
func JoinLocation(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
