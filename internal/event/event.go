package event

import (
	"regexp"
	"strings"
	"time"
)

// Event represents one Smoothcomp event occurrence.
type Event struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	URL              string     `json:"url"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	Location         string     `json:"location,omitempty"`
	City             string     `json:"city,omitempty"`
	Country          string     `json:"country,omitempty"`
	Sport            string     `json:"sport,omitempty"`
	Organizer        string     `json:"organizer,omitempty"`
	Participants     int        `json:"participants,omitempty"`
	RegistrationOpen bool       `json:"registration_open"`
	UpdatedAt        time.Time  `json:"updated_at,omitempty"`
}

var eventIDPattern = regexp.MustCompile(`/event/(\d+)`)

// IDFromURL extracts the numeric source-assigned event ID from an event page
// URL. The second return value is false when the URL carries no recognizable
// ID; callers then fall back to the URL itself as the identity, which keeps
// IDs deterministic across scrapes either way.
func IDFromURL(url string) (string, bool) {
	if m := eventIDPattern.FindStringSubmatch(url); m != nil {
		return m[1], true
	}
	return "", false
}

// HasPassed reports whether the event's start date is before now.
// Events without a start date never count as passed.
func (e *Event) HasPassed(now time.Time) bool {
	if e.StartDate == nil {
		return false
	}
	return e.StartDate.Before(now)
}

// LocationText joins venue, city and country into a single display string.
func (e *Event) LocationText() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{e.Location, e.City, e.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
