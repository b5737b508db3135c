// Package calendar renders cached Smoothcomp events as an iCalendar feed
// suitable for webcal subscriptions.
package calendar

import (
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"smoothcal/internal/event"
)

const (
	prodID = "-//Smoothcomp Calendar//smoothcomp.com//"

	// defaultDuration is assumed for events without an explicit end time.
	defaultDuration = 8 * time.Hour
)

// Generate renders events as an iCalendar document. Events without a start
// date are excluded entirely; events without an end date get start plus
// eight hours. ttlMinutes is emitted as the suggested client refresh
// interval.
func Generate(events []event.Event, calendarName string, ttlMinutes int) []byte {
	cal := ics.NewCalendar()
	cal.SetProductId(prodID)
	cal.SetVersion("2.0")
	cal.SetCalscale("GREGORIAN")
	cal.SetMethod(ics.MethodPublish)
	cal.SetXWRCalName(calendarName)
	cal.SetXWRTimezone("UTC")

	ttl := fmt.Sprintf("PT%dM", ttlMinutes)
	cal.SetRefreshInterval(ttl)
	cal.SetXPublishedTTL(ttl)

	now := time.Now().UTC()
	for i := range events {
		addEvent(cal, &events[i], now)
	}

	// RFC 5545 requires CRLF; the serializer defaults to bare LF.
	return []byte(cal.Serialize(ics.WithNewLineWindows))
}

// addEvent appends one VEVENT, or nothing when the event cannot produce a
// valid calendar entry.
func addEvent(cal *ics.Calendar, evt *event.Event, now time.Time) {
	if evt.StartDate == nil {
		return
	}

	e := cal.AddEvent(fmt.Sprintf("%s@smoothcomp.com", evt.ID))
	e.SetDtStampTime(now)
	e.SetStartAt(*evt.StartDate)

	if evt.EndDate != nil {
		e.SetEndAt(*evt.EndDate)
	} else {
		e.SetEndAt(evt.StartDate.Add(defaultDuration))
	}

	e.SetSummary(evt.Name)

	if loc := evt.LocationText(); loc != "" {
		e.SetLocation(loc)
	}

	e.SetDescription(description(evt))
	e.SetURL(evt.URL)

	if evt.Sport != "" {
		e.SetProperty(ics.ComponentPropertyCategories, evt.Sport)
	}
}

func description(evt *event.Event) string {
	var lines []string
	if evt.Sport != "" {
		lines = append(lines, "Sport: "+evt.Sport)
	}
	if evt.Organizer != "" {
		lines = append(lines, "Organizer: "+evt.Organizer)
	}
	if evt.Participants > 0 {
		lines = append(lines, fmt.Sprintf("Participants: %d", evt.Participants))
	}
	lines = append(lines, "Details: "+evt.URL)
	return strings.Join(lines, "\n")
}

// FeedName builds the calendar display name from the active filters,
// e.g. "Smoothcomp Australia Grappling Events".
func FeedName(country, sport string) string {
	parts := []string{"Smoothcomp"}
	if country != "" {
		parts = append(parts, country)
	}
	if sport != "" {
		parts = append(parts, sport)
	}
	parts = append(parts, "Events")
	return strings.Join(parts, " ")
}
