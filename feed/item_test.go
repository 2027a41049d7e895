package feed

import (
	"testing"
	"time"

	"github.com/go-authgate/pacefeed/strava"
)

func TestFormatPace(t *testing.T) {
	tests := []struct {
		name     string
		seconds  int
		meters   float64
		expected string
	}{
		{"five minute km", 1500, 5000, "5:00"},
		{"rounds to nearest second", 1000, 3159, "5:17"},
		{"slow pace", 3600, 5000, "12:00"},
		{"zero distance", 1500, 0, ""},
		{"zero time", 0, 5000, ""},
		{"both zero", 0, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatPace(tt.seconds, tt.meters); got != tt.expected {
				t.Errorf("FormatPace(%d, %v) = %q, want %q", tt.seconds, tt.meters, got, tt.expected)
			}
		})
	}
}

func TestJoinLocation(t *testing.T) {
	tests := []struct {
		parts    []string
		expected string
	}{
		{[]string{"Oslo", "Oslo", "Norway"}, "Oslo, Oslo, Norway"},
		{[]string{"Oslo", "", "Norway"}, "Oslo, Norway"},
		{[]string{"  ", "\t", ""}, ""},
		{[]string{" Bergen ", "", ""}, "Bergen"},
	}

	for _, tt := range tests {
		if got := JoinLocation(tt.parts...); got != tt.expected {
			t.Errorf("JoinLocation(%q) = %q, want %q", tt.parts, got, tt.expected)
		}
	}
}

func TestProject(t *testing.T) {
	a := strava.ActivitySummary{
		ID:             77,
		Distance:       10234.567,
		MovingTime:     3000,
		Type:           "Run",
		StartDateLocal: time.Date(2024, 1, 15, 7, 30, 0, 0, time.UTC),
		LocationCity:   "Oslo",
		Map:            &strava.MapSummary{SummaryPolyline: "_p~iF~ps|U"},
	}

	item := Project(a)
	if item.ID != 77 {
		t.Errorf("ID = %d", item.ID)
	}
	if item.DistanceKm != 10.23 {
		t.Errorf("DistanceKm = %v, want 10.23", item.DistanceKm)
	}
	if item.Pace != "4:53" {
		t.Errorf("Pace = %q, want 4:53", item.Pace)
	}
	if item.DateDisplay != "Jan 15, 2024" {
		t.Errorf("DateDisplay = %q", item.DateDisplay)
	}
	if item.Location != "Oslo" {
		t.Errorf("Location = %q", item.Location)
	}
	if item.RoutePolyline != "_p~iF~ps|U" {
		t.Errorf("RoutePolyline = %q", item.RoutePolyline)
	}

	bare := Project(strava.ActivitySummary{ID: 1, Type: "Run"})
	if bare.HasPace() || bare.Location != "" || bare.RoutePolyline != "" || bare.DateDisplay != "" {
		t.Errorf("Project(bare) = %+v, want empty optional fields", bare)
	}
}
