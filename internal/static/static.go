// Package static renders the event corpus to flat files suitable for
// dumb hosting: a metadata.json index plus one iCalendar feed per country.
package static

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"smoothcal/internal/calendar"
	"smoothcal/internal/event"
	"smoothcal/internal/logger"
)

// Source fetches events from the upstream site.
type Source interface {
	ListEventURLs(ctx context.Context) ([]string, error)
	EventDetail(ctx context.Context, url string) (*event.Event, error)
}

// CountryMeta describes one country entry in metadata.json.
type CountryMeta struct {
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Count int    `json:"count"`
}

// Metadata is the top-level index written alongside the calendar files.
type Metadata struct {
	GeneratedAt string        `json:"generated_at"`
	TotalEvents int           `json:"total_events"`
	Countries   []CountryMeta `json:"countries"`
}

// Generator scrapes all upcoming events and writes the static site files.
type Generator struct {
	source     Source
	delay      time.Duration
	ttlMinutes int

	// Limit caps the number of event pages fetched; zero means all.
	Limit int

	now func() time.Time
}

// New constructs a Generator fetching through source with the given
// inter-request delay and feed TTL.
func New(source Source, delay time.Duration, ttlMinutes int) *Generator {
	return &Generator{
		source:     source,
		delay:      delay,
		ttlMinutes: ttlMinutes,
		now:        time.Now,
	}
}

// Generate scrapes every upcoming event and writes metadata.json plus
// calendars/<slug>.ics under outDir. Pages that fail to parse are skipped.
func (g *Generator) Generate(ctx context.Context, outDir string) error {
	if err := os.MkdirAll(filepath.Join(outDir, "calendars"), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	urls, err := g.source.ListEventURLs(ctx)
	if err != nil {
		return fmt.Errorf("listing events: %w", err)
	}
	if g.Limit > 0 && len(urls) > g.Limit {
		urls = urls[:g.Limit]
	}

	logger.Info("Scraping events for static output", logger.Fields{
		"total": len(urls),
	})

	var events []event.Event
	skipped := 0
	for i, url := range urls {
		evt, err := g.source.EventDetail(ctx, url)
		if err != nil {
			logger.Warn("Skipping event page", logger.Fields{"url": url, "reason": err.Error()})
			skipped++
		} else if evt.HasPassed(g.now()) {
			skipped++
		} else {
			events = append(events, *evt)
		}

		if err := g.pause(ctx); err != nil {
			return err
		}
		if done := i + 1; done%50 == 0 || done == len(urls) {
			logger.Info("Scrape progress", logger.Fields{
				"scraped": done,
				"total":   len(urls),
				"kept":    len(events),
				"skipped": skipped,
			})
		}
	}

	byCountry := groupByCountry(events)
	countries := sortedCountries(byCountry)

	meta := Metadata{
		GeneratedAt: g.now().UTC().Format(time.RFC3339),
		TotalEvents: len(events),
		Countries:   make([]CountryMeta, 0, len(countries)),
	}
	for _, country := range countries {
		meta.Countries = append(meta.Countries, CountryMeta{
			Name:  country,
			Slug:  Slugify(country),
			Count: len(byCountry[country]),
		})
	}

	if err := writeMetadata(filepath.Join(outDir, "metadata.json"), &meta); err != nil {
		return err
	}

	for _, country := range countries {
		data := calendar.Generate(byCountry[country],
			calendar.FeedName(country, ""), g.ttlMinutes)
		path := filepath.Join(outDir, "calendars", Slugify(country)+".ics")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}

	logger.Info("Static output written", logger.Fields{
		"dir":       outDir,
		"events":    len(events),
		"countries": len(countries),
	})
	return nil
}

func (g *Generator) pause(ctx context.Context) error {
	if g.delay <= 0 {
		return nil
	}
	t := time.NewTimer(g.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// groupByCountry buckets events by country, using "Unknown" when unset.
func groupByCountry(events []event.Event) map[string][]event.Event {
	byCountry := make(map[string][]event.Event)
	for _, evt := range events {
		country := evt.Country
		if country == "" {
			country = "Unknown"
		}
		byCountry[country] = append(byCountry[country], evt)
	}
	return byCountry
}

// sortedCountries orders countries by event count descending, then name,
// and drops the Unknown bucket from the published index.
func sortedCountries(byCountry map[string][]event.Event) []string {
	countries := make([]string, 0, len(byCountry))
	for country := range byCountry {
		if country != "Unknown" {
			countries = append(countries, country)
		}
	}
	sort.Slice(countries, func(i, j int) bool {
		ci, cj := len(byCountry[countries[i]]), len(byCountry[countries[j]])
		if ci != cj {
			return ci > cj
		}
		return countries[i] < countries[j]
	})
	return countries
}

func writeMetadata(path string, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

var (
	slugStrip    = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	slugCollapse = regexp.MustCompile(`[-\s]+`)
)

// Slugify converts a country name to a URL-safe file name.
func Slugify(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = slugStrip.ReplaceAllString(text, "")
	return slugCollapse.ReplaceAllString(text, "-")
}
