package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"smoothcal/internal/event"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"), ttl)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

func futureEvent(id, name string, start time.Time) *event.Event {
	return &event.Event{
		ID:               id,
		Name:             name,
		URL:              "https://smoothcomp.com/en/event/" + id,
		StartDate:        &start,
		RegistrationOpen: true,
	}
}

func TestUpsertAndQuery(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()
	now := time.Now().UTC()

	start := now.Add(48 * time.Hour).Truncate(time.Second)
	evt := futureEvent("101", "Oslo Open", start)
	evt.Country = "Norway"
	evt.Sport = "Brazilian Jiu-Jitsu"
	evt.City = "Oslo"
	evt.Location = "Oslofjord Arena"
	evt.Organizer = "NGF"

	if err := s.Upsert(ctx, evt, now); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	events, err := s.Events(ctx, Query{})
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	got := events[0]
	if got.ID != "101" || got.Name != "Oslo Open" || got.Country != "Norway" {
		t.Errorf("unexpected event: %+v", got)
	}
	if got.StartDate == nil || !got.StartDate.Equal(start) {
		t.Errorf("StartDate = %v, expected %v", got.StartDate, start)
	}
	if got.EndDate != nil {
		t.Errorf("EndDate = %v, expected nil", got.EndDate)
	}
	if !got.RegistrationOpen {
		t.Error("RegistrationOpen should survive the roundtrip")
	}
}

func TestUpsertIdempotent(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()
	now := time.Now().UTC()

	evt := futureEvent("7", "Repeat Cup", now.Add(24*time.Hour))
	if err := s.Upsert(ctx, evt, now); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, evt, now); err != nil {
		t.Fatal(err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, expected 1 after double upsert", n)
	}
}

func TestUpsertReplacesExisting(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()
	now := time.Now().UTC()

	evt := futureEvent("9", "Old Name", now.Add(24*time.Hour))
	if err := s.Upsert(ctx, evt, now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}

	evt.Name = "New Name"
	evt.Country = "Sweden"
	if err := s.Upsert(ctx, evt, now); err != nil {
		t.Fatal(err)
	}

	events, err := s.Events(ctx, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Name != "New Name" || events[0].Country != "Sweden" {
		t.Errorf("expected fully replaced event, got %+v", events)
	}
}

func TestUpsertSkipsPastEvents(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()
	now := time.Now().UTC()

	past := futureEvent("1", "Yesterday Cup", now.Add(-24*time.Hour))
	if err := s.Upsert(ctx, past, now); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Count() = %d, expected past event to be dropped", n)
	}
}

func TestRetireStale(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	// Upserted in an earlier cycle, not re-observed since.
	stale := futureEvent("1", "Gone From Source", base.Add(72*time.Hour))
	if err := s.Upsert(ctx, stale, base.Add(-2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	// Re-observed this cycle.
	fresh := futureEvent("2", "Still Listed", base.Add(72*time.Hour))
	if err := s.Upsert(ctx, fresh, base); err != nil {
		t.Fatal(err)
	}

	byAge, byDate, err := s.RetireStale(ctx, base)
	if err != nil {
		t.Fatalf("RetireStale() error = %v", err)
	}
	if byAge != 1 {
		t.Errorf("retiredByAge = %d, expected 1", byAge)
	}
	if byDate != 0 {
		t.Errorf("retiredByDate = %d, expected 0", byDate)
	}

	ids, err := s.ExistingIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ids["1"]; ok {
		t.Error("event 1 should have been retired")
	}
	if _, ok := ids["2"]; !ok {
		t.Error("event 2 should have survived retirement")
	}
}

func TestRetireStale_PastEventSweep(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	soon := futureEvent("1", "Crosses Into Past", base.Add(time.Hour))
	if err := s.Upsert(ctx, soon, base); err != nil {
		t.Fatal(err)
	}
	later := futureEvent("2", "Far Future", base.Add(100*time.Hour))
	if err := s.Upsert(ctx, later, base); err != nil {
		t.Fatal(err)
	}

	// Two hours later the first event's start has passed. Retirement with
	// the original cycle time must sweep it by date, not by age.
	s.now = func() time.Time { return base.Add(2 * time.Hour) }

	byAge, byDate, err := s.RetireStale(ctx, base)
	if err != nil {
		t.Fatal(err)
	}
	if byAge != 0 {
		t.Errorf("retiredByAge = %d, expected 0", byAge)
	}
	if byDate != 1 {
		t.Errorf("retiredByDate = %d, expected 1", byDate)
	}

	ids, err := s.ExistingIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ids["2"]; !ok || len(ids) != 1 {
		t.Errorf("expected only event 2 to remain, got %v", ids)
	}
}

func TestStaleness(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()
	base := time.Now().UTC()
	s.now = func() time.Time { return base }

	stale, err := s.IsStale(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !stale {
		t.Error("IsStale() = false with no completion marker, expected true")
	}

	if err := s.MarkRefreshComplete(ctx); err != nil {
		t.Fatal(err)
	}

	stale, err = s.IsStale(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stale {
		t.Error("IsStale() = true immediately after MarkRefreshComplete, expected false")
	}

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	stale, err = s.IsStale(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !stale {
		t.Error("IsStale() = false after TTL elapsed, expected true")
	}

	last, ok, err := s.LastUpdate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("LastUpdate() reported no marker after MarkRefreshComplete")
	}
	if d := last.Sub(base.Truncate(time.Second)); d < 0 || d > time.Second {
		t.Errorf("LastUpdate() = %v, expected ~%v", last, base)
	}
}

func TestEventsFilters(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []struct {
		id, country, sport string
		startOffset        time.Duration
	}{
		{"1", "Australia", "Brazilian Jiu-Jitsu", 72 * time.Hour},
		{"2", "Austria", "Judo", 24 * time.Hour},
		{"3", "Norway", "Brazilian Jiu-Jitsu", 48 * time.Hour},
	}
	for _, sd := range seed {
		evt := futureEvent(sd.id, "Event "+sd.id, now.Add(sd.startOffset))
		evt.Country = sd.country
		evt.Sport = sd.sport
		if err := s.Upsert(ctx, evt, now); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		query   Query
		wantIDs []string
	}{
		{"no filter, start order", Query{}, []string{"2", "3", "1"}},
		{"country substring case-insensitive", Query{Country: "stral"}, []string{"1"}},
		{"country prefix matches two", Query{Country: "aus"}, []string{"2", "1"}},
		{"sport substring", Query{Sport: "jiu"}, []string{"3", "1"}},
		{"combined", Query{Country: "nor", Sport: "JIU"}, []string{"3"}},
		{"limit", Query{Limit: 1}, []string{"2"}},
		{"no match", Query{Country: "zz"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := s.Events(ctx, tt.query)
			if err != nil {
				t.Fatalf("Events() error = %v", err)
			}
			if len(events) != len(tt.wantIDs) {
				t.Fatalf("got %d events, expected %d", len(events), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if events[i].ID != id {
					t.Errorf("events[%d].ID = %s, expected %s", i, events[i].ID, id)
				}
			}
		})
	}
}

func TestFacetCounts(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []struct {
		id, country, sport string
	}{
		{"1", "Norway", "Grappling"},
		{"2", "Norway", "Judo"},
		{"3", "Sweden", "Grappling"},
		{"4", "Denmark", "Grappling"},
		{"5", "Sweden", "Grappling"},
	}
	for _, sd := range seed {
		evt := futureEvent(sd.id, "Event "+sd.id, now.Add(24*time.Hour))
		evt.Country = sd.country
		evt.Sport = sd.sport
		if err := s.Upsert(ctx, evt, now); err != nil {
			t.Fatal(err)
		}
	}

	countries, err := s.Countries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// Count desc, then name asc: Norway(2)/Sweden(2) tie broken
	// alphabetically, Denmark(1) last.
	want := []CountryCount{{"Norway", 2}, {"Sweden", 2}, {"Denmark", 1}}
	if len(countries) != len(want) {
		t.Fatalf("got %d countries, expected %d", len(countries), len(want))
	}
	for i, w := range want {
		if countries[i] != w {
			t.Errorf("countries[%d] = %+v, expected %+v", i, countries[i], w)
		}
	}

	sports, err := s.Sports(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sports) != 2 || sports[0].Sport != "Grappling" || sports[0].Count != 4 {
		t.Errorf("unexpected sports facet: %+v", sports)
	}
}

func TestFilterOptions(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []struct {
		id, country, sport string
	}{
		{"1", "Norway", "Grappling"},
		{"2", "Norway", "Judo"},
		{"3", "Sweden", "Grappling"},
	}
	for _, sd := range seed {
		evt := futureEvent(sd.id, "Event "+sd.id, now.Add(24*time.Hour))
		evt.Country = sd.country
		evt.Sport = sd.sport
		if err := s.Upsert(ctx, evt, now); err != nil {
			t.Fatal(err)
		}
	}

	opts, err := s.FilterOptions(ctx, "norway", "")
	if err != nil {
		t.Fatal(err)
	}
	if opts.EventCount != 2 {
		t.Errorf("EventCount = %d, expected 2", opts.EventCount)
	}
	if len(opts.Sports) != 2 {
		t.Errorf("expected 2 sports for Norway, got %+v", opts.Sports)
	}
	if opts.Countries != nil {
		t.Error("Countries should be empty without a sport filter")
	}

	opts, err = s.FilterOptions(ctx, "", "grappling")
	if err != nil {
		t.Fatal(err)
	}
	if opts.EventCount != 2 {
		t.Errorf("EventCount = %d, expected 2", opts.EventCount)
	}
	if len(opts.Countries) != 2 {
		t.Errorf("expected 2 countries for Grappling, got %+v", opts.Countries)
	}
}

func TestMigrateLegacyCachedAtColumn(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")

	legacy, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	_, err = legacy.Exec(`
		CREATE TABLE events (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			url               TEXT NOT NULL,
			start_date        TEXT,
			end_date          TEXT,
			location          TEXT,
			city              TEXT,
			country           TEXT,
			sport             TEXT,
			organizer         TEXT,
			participants      INTEGER,
			registration_open INTEGER NOT NULL DEFAULT 1,
			cached_at         TEXT NOT NULL
		);
		INSERT INTO events (id, name, url, start_date, cached_at)
		VALUES ('42', 'Legacy Event', 'https://smoothcomp.com/en/event/42',
		        '2099-01-01T00:00:00Z', '2026-01-01T00:00:00Z');
	`)
	if err != nil {
		t.Fatal(err)
	}
	if err := legacy.Close(); err != nil {
		t.Fatal(err)
	}

	s, err := Open(dbPath, time.Hour)
	if err != nil {
		t.Fatalf("Open() on legacy store error = %v", err)
	}
	defer s.Close() //nolint:errcheck

	events, err := s.Events(context.Background(), Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].ID != "42" {
		t.Fatalf("legacy row lost during migration: %+v", events)
	}
	wantUpdated := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !events[0].UpdatedAt.Equal(wantUpdated) {
		t.Errorf("UpdatedAt = %v, expected freshness value preserved from cached_at", events[0].UpdatedAt)
	}
}
