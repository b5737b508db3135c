package event

import (
	"testing"
	"time"
)

func TestIDFromURL(t *testing.T) {
	tests := []struct {
		url    string
		wantID string
		wantOK bool
	}{
		{"https://smoothcomp.com/en/event/12345", "12345", true},
		{"https://smoothcomp.com/en/event/12345/register", "12345", true},
		{"https://smoothcomp.com/en/events/upcoming", "", false},
		{"https://example.com/something-else", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			id, ok := IDFromURL(tt.url)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("IDFromURL(%q) = (%q, %v), expected (%q, %v)",
					tt.url, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestHasPassed(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name  string
		start *time.Time
		want  bool
	}{
		{"past start", &past, true},
		{"future start", &future, false},
		{"no start date", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Event{ID: "1", Name: "Test", StartDate: tt.start}
			if got := e.HasPassed(now); got != tt.want {
				t.Errorf("HasPassed() = %v, expected %v", got, tt.want)
			}
		})
	}
}

func TestLocationText(t *testing.T) {
	tests := []struct {
		name string
		evt  Event
		want string
	}{
		{"all parts", Event{Location: "Arena Hall", City: "Oslo", Country: "Norway"}, "Arena Hall, Oslo, Norway"},
		{"city and country", Event{City: "Sydney", Country: "Australia"}, "Sydney, Australia"},
		{"country only", Event{Country: "Sweden"}, "Sweden"},
		{"empty", Event{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.evt.LocationText(); got != tt.want {
				t.Errorf("LocationText() = %q, expected %q", got, tt.want)
			}
		})
	}
}
