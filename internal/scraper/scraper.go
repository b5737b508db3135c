package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"

	"smoothcal/internal/event"
	"smoothcal/internal/logger"
)

const (
	BaseURL           = "https://smoothcomp.com"
	UpcomingEventsURL = "https://smoothcomp.com/en/events/upcoming"
	UserAgent         = "SmoothcompCalendar/1.0"
	Timeout           = 30 * time.Second

	// listRetries is the number of additional attempts for the listing
	// page before the failure is surfaced as cycle-aborting.
	listRetries = 2
)

// Scraper fetches and parses Smoothcomp event pages.
type Scraper struct {
	client  *http.Client
	listURL string
}

// New creates a new Scraper instance
func New() *Scraper {
	return &Scraper{
		client: &http.Client{
			Timeout: Timeout,
		},
		listURL: UpcomingEventsURL,
	}
}

// ListEventURLs fetches the upcoming-events page and extracts the ordered
// list of event page URLs from its JSON-LD ItemList. Transient fetch errors
// are retried with exponential backoff before the error is returned.
func (s *Scraper) ListEventURLs(ctx context.Context) ([]string, error) {
	start := time.Now()

	var body []byte
	op := func() error {
		b, err := s.get(ctx, s.listURL)
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), listRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("fetching event list: %w", err)
	}

	urls, err := parseEventList(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parsing event list: %w", err)
	}

	logger.RecordTiming("scrape.list", time.Since(start))
	return urls, nil
}

// EventDetail fetches a single event page and extracts an Event. Any
// per-page failure (network, non-200, unparsable content) is returned as an
// error; callers treat it as "skip this URL", never as cycle-aborting.
func (s *Scraper) EventDetail(ctx context.Context, url string) (*event.Event, error) {
	start := time.Now()

	body, err := s.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}

	evt, err := parseEventDetail(strings.NewReader(string(body)), url)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", url, err)
	}

	logger.RecordTiming("scrape.detail", time.Since(start))
	return evt, nil
}

// get performs a single GET request and returns the response body.
func (s *Scraper) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// jsonldList mirrors the schema.org ItemList embedded in the listing page.
type jsonldList struct {
	Type            string `json:"@type"`
	ItemListElement []struct {
		URL string `json:"url"`
	} `json:"itemListElement"`
}

// jsonldEvent mirrors the schema.org SportsEvent embedded in detail pages.
type jsonldEvent struct {
	Type      string `json:"@type"`
	Name      string `json:"name"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Sport     string `json:"sport"`
	Location  struct {
		Name    string `json:"name"`
		Address struct {
			AddressLocality string          `json:"addressLocality"`
			AddressCountry  json.RawMessage `json:"addressCountry"`
		} `json:"address"`
	} `json:"location"`
	Organizer struct {
		Name string `json:"name"`
	} `json:"organizer"`
}

// parseEventList extracts event URLs from the listing page's JSON-LD.
func parseEventList(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	var urls []string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		var list jsonldList
		if err := json.Unmarshal([]byte(sel.Text()), &list); err != nil {
			return true
		}
		if list.Type != "ItemList" {
			return true
		}
		for _, item := range list.ItemListElement {
			if item.URL == "" {
				continue
			}
			urls = append(urls, absoluteURL(item.URL))
		}
		return false
	})

	return urls, nil
}

// parseEventDetail extracts an Event from a detail page. It prefers the
// embedded JSON-LD SportsEvent and degrades to a minimal record built from
// the page title when structured data is unavailable.
func parseEventDetail(r io.Reader, url string) (*event.Event, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	id, ok := event.IDFromURL(url)
	if !ok {
		id = url
	}

	if evt := parseJSONLD(doc, url, id); evt != nil {
		return evt, nil
	}

	return parseTitleFallback(doc, url, id), nil
}

func parseJSONLD(doc *goquery.Document, url, id string) *event.Event {
	var evt *event.Event
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		var data jsonldEvent
		if err := json.Unmarshal([]byte(sel.Text()), &data); err != nil {
			return true
		}
		if data.Type != "SportsEvent" {
			return true
		}

		name := data.Name
		if name == "" {
			name = "Unknown Event"
		}
		sport := data.Sport
		if sport == "" {
			sport = "Grappling"
		}

		evt = &event.Event{
			ID:               id,
			Name:             name,
			URL:              url,
			StartDate:        parseISODate(data.StartDate),
			EndDate:          parseISODate(data.EndDate),
			Location:         data.Location.Name,
			City:             data.Location.Address.AddressLocality,
			Country:          countryName(data.Location.Address.AddressCountry),
			Sport:            sport,
			Organizer:        data.Organizer.Name,
			RegistrationOpen: true,
		}
		return false
	})
	return evt
}

var titleSuffixPattern = regexp.MustCompile(`\s*\|\s*Smoothcomp.*$`)

// parseTitleFallback builds a minimal record from the page title. Only ID,
// name and URL are populated.
func parseTitleFallback(doc *goquery.Document, url, id string) *event.Event {
	name := strings.TrimSpace(doc.Find("title").First().Text())
	name = titleSuffixPattern.ReplaceAllString(name, "")
	if name == "" {
		name = "Unknown Event"
	}

	return &event.Event{
		ID:   id,
		Name: name,
		URL:  url,
	}
}

// countryName decodes the JSON-LD addressCountry field, which the source
// emits either as a plain string or as an object with a "name" key.
func countryName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Name
	}
	return ""
}

// parseISODate parses the ISO timestamps found in Smoothcomp JSON-LD.
// Returns nil when the value is empty or unparsable.
func parseISODate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func absoluteURL(u string) string {
	if strings.HasPrefix(u, "/") {
		return BaseURL + u
	}
	return u
}
