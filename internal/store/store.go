// Package store persists scraped Smoothcomp events in a SQLite cache.
//
// The store owns all durable state: the events table keyed by source ID and
// a single-row-per-key metadata table holding the last successful refresh
// timestamp. Timestamps are stored as fixed-width RFC3339 UTC strings so SQL
// string comparison equals chronological comparison.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"smoothcal/internal/event"
)

const timeLayout = "2006-01-02T15:04:05Z"

const lastUpdateKey = "last_update"

// Store is a SQLite-backed event cache.
type Store struct {
	readDB  *sql.DB
	writeDB *sql.DB
	ttl     time.Duration

	now func() time.Time // overridable in tests
}

// Query holds the optional filters for Events.
type Query struct {
	Country string
	Sport   string
	Limit   int
}

// CountryCount is one country facet with its event count.
type CountryCount struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

// SportCount is one sport facet with its event count.
type SportCount struct {
	Sport string `json:"sport"`
	Count int    `json:"count"`
}

// FilterOptions carries filtered dropdown data for the current selection.
type FilterOptions struct {
	EventCount int            `json:"event_count"`
	Sports     []SportCount   `json:"sports,omitempty"`
	Countries  []CountryCount `json:"countries,omitempty"`
}

// Open opens (and if needed creates) the event cache at dbPath. ttl is the
// staleness threshold used by IsStale.
func Open(dbPath string, ttl time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	writeDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening write db: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		writeDB.Close() //nolint:errcheck
		return nil, fmt.Errorf("opening read db: %w", err)
	}

	s := &Store{
		readDB:  readDB,
		writeDB: writeDB,
		ttl:     ttl,
		now:     time.Now,
	}
	if err := s.init(); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// init creates the schema, migrating pre-existing stores additively.
func (s *Store) init() error {
	if err := s.migrate(); err != nil {
		return err
	}

	_, err := s.writeDB.Exec(`
		CREATE TABLE IF NOT EXISTS events (
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
			updated_at        TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_country ON events(country);
		CREATE INDEX IF NOT EXISTS idx_events_start_date ON events(start_date);
		CREATE INDEX IF NOT EXISTS idx_events_updated_at ON events(updated_at);

		CREATE TABLE IF NOT EXISTS cache_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

// migrate renames the legacy cached_at freshness column to updated_at on
// stores created by earlier versions, preserving their rows.
func (s *Store) migrate() error {
	cols, err := s.tableColumns("events")
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil // fresh store
	}
	if cols["cached_at"] && !cols["updated_at"] {
		if _, err := s.writeDB.Exec(`ALTER TABLE events RENAME COLUMN cached_at TO updated_at`); err != nil {
			return fmt.Errorf("migrating cached_at column: %w", err)
		}
	}
	return nil
}

func (s *Store) tableColumns(table string) (map[string]bool, error) {
	rows, err := s.writeDB.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("inspecting schema: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// Close closes both database handles.
func (s *Store) Close() error {
	var firstErr error
	for _, db := range []*sql.DB{s.readDB, s.writeDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ExistingIDs returns the set of all event IDs currently cached.
func (s *Store) ExistingIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.readDB.QueryContext(ctx, `SELECT id FROM events`)
	if err != nil {
		return nil, fmt.Errorf("querying event ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// Upsert inserts or fully replaces an event by ID, stamping it with the
// refresh cycle time. Events whose start date has already passed are
// silently dropped; retirement sweeps previously stored ones.
func (s *Store) Upsert(ctx context.Context, evt *event.Event, refreshTime time.Time) error {
	if evt.HasPassed(s.now()) {
		return nil
	}

	_, err := s.writeDB.ExecContext(ctx, `
		INSERT INTO events
			(id, name, url, start_date, end_date, location, city,
			 country, sport, organizer, participants, registration_open, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			location = excluded.location,
			city = excluded.city,
			country = excluded.country,
			sport = excluded.sport,
			organizer = excluded.organizer,
			participants = excluded.participants,
			registration_open = excluded.registration_open,
			updated_at = excluded.updated_at
	`,
		evt.ID,
		evt.Name,
		evt.URL,
		fmtTimePtr(evt.StartDate),
		fmtTimePtr(evt.EndDate),
		evt.Location,
		evt.City,
		evt.Country,
		evt.Sport,
		evt.Organizer,
		nullableInt(evt.Participants),
		boolToInt(evt.RegistrationOpen),
		fmtTime(refreshTime),
	)
	if err != nil {
		return fmt.Errorf("upserting event %s: %w", evt.ID, err)
	}
	return nil
}

// RetireStale removes events not re-observed by the refresh cycle that just
// completed (updated_at older than refreshTime) and events whose start date
// has passed. Returns the two removal counts.
func (s *Store) RetireStale(ctx context.Context, refreshTime time.Time) (retiredByAge, retiredByDate int64, err error) {
	res, err := s.writeDB.ExecContext(ctx,
		`DELETE FROM events WHERE updated_at < ?`, fmtTime(refreshTime))
	if err != nil {
		return 0, 0, fmt.Errorf("retiring unobserved events: %w", err)
	}
	retiredByAge, _ = res.RowsAffected()

	res, err = s.writeDB.ExecContext(ctx,
		`DELETE FROM events WHERE start_date IS NOT NULL AND start_date < ?`, fmtTime(s.now()))
	if err != nil {
		return retiredByAge, 0, fmt.Errorf("retiring past events: %w", err)
	}
	retiredByDate, _ = res.RowsAffected()

	return retiredByAge, retiredByDate, nil
}

// MarkRefreshComplete records now as the last successful refresh completion.
func (s *Store) MarkRefreshComplete(ctx context.Context) error {
	_, err := s.writeDB.ExecContext(ctx, `
		INSERT INTO cache_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, lastUpdateKey, fmtTime(s.now()))
	if err != nil {
		return fmt.Errorf("marking refresh complete: %w", err)
	}
	return nil
}

// LastUpdate returns the completion timestamp of the most recent successful
// refresh cycle. ok is false when no cycle has ever completed.
func (s *Store) LastUpdate(ctx context.Context) (t time.Time, ok bool, err error) {
	var value string
	err = s.readDB.QueryRowContext(ctx,
		`SELECT value FROM cache_meta WHERE key = ?`, lastUpdateKey).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading last update: %w", err)
	}

	t, err = time.Parse(timeLayout, value)
	if err != nil {
		// Unreadable marker: treat as never refreshed.
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// IsStale reports whether the cache needs a refresh: no completed cycle yet,
// or the last one is older than the TTL.
func (s *Store) IsStale(ctx context.Context) (bool, error) {
	last, ok, err := s.LastUpdate(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return s.now().Sub(last) > s.ttl, nil
}

// Events returns cached events matching the query, ordered by start date
// ascending with undated events last. Country and sport filters are
// case-insensitive substring matches.
func (s *Store) Events(ctx context.Context, q Query) ([]event.Event, error) {
	var (
		where []string
		args  []interface{}
	)

	if q.Country != "" {
		where = append(where, `LOWER(country) LIKE ?`)
		args = append(args, "%"+strings.ToLower(q.Country)+"%")
	}
	if q.Sport != "" {
		where = append(where, `LOWER(sport) LIKE ?`)
		args = append(args, "%"+strings.ToLower(q.Sport)+"%")
	}

	query := `
		SELECT id, name, url, start_date, end_date,
		       COALESCE(location, ''), COALESCE(city, ''), COALESCE(country, ''),
		       COALESCE(sport, ''), COALESCE(organizer, ''),
		       COALESCE(participants, 0), registration_open, updated_at
		FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date IS NULL, start_date ASC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var (
			e          event.Event
			start, end sql.NullString
			regOpen    int
			updatedAt  string
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.URL, &start, &end,
			&e.Location, &e.City, &e.Country, &e.Sport, &e.Organizer,
			&e.Participants, &regOpen, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.StartDate = parseTimePtr(start)
		e.EndDate = parseTimePtr(end)
		e.RegistrationOpen = regOpen != 0
		if t, err := time.Parse(timeLayout, updatedAt); err == nil {
			e.UpdatedAt = t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Countries returns countries with event counts, most events first,
// ties broken alphabetically.
func (s *Store) Countries(ctx context.Context) ([]CountryCount, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT country, COUNT(*) AS count
		FROM events
		WHERE country IS NOT NULL AND country != ''
		GROUP BY country
		ORDER BY count DESC, country
	`)
	if err != nil {
		return nil, fmt.Errorf("querying countries: %w", err)
	}
	defer rows.Close()

	var out []CountryCount
	for rows.Next() {
		var c CountryCount
		if err := rows.Scan(&c.Country, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Sports returns sports with event counts, most events first,
// ties broken alphabetically.
func (s *Store) Sports(ctx context.Context) ([]SportCount, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT sport, COUNT(*) AS count
		FROM events
		WHERE sport IS NOT NULL AND sport != ''
		GROUP BY sport
		ORDER BY count DESC, sport
	`)
	if err != nil {
		return nil, fmt.Errorf("querying sports: %w", err)
	}
	defer rows.Close()

	var out []SportCount
	for rows.Next() {
		var c SportCount
		if err := rows.Scan(&c.Sport, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FilterOptions returns the event count for the current selection plus the
// complementary facet lists: sports narrowed by the active country filter
// and countries narrowed by the active sport filter.
func (s *Store) FilterOptions(ctx context.Context, country, sport string) (*FilterOptions, error) {
	var (
		where []string
		args  []interface{}
	)
	if country != "" {
		where = append(where, `LOWER(country) LIKE ?`)
		args = append(args, "%"+strings.ToLower(country)+"%")
	}
	if sport != "" {
		where = append(where, `LOWER(sport) LIKE ?`)
		args = append(args, "%"+strings.ToLower(sport)+"%")
	}

	countQuery := `SELECT COUNT(*) FROM events`
	if len(where) > 0 {
		countQuery += " WHERE " + strings.Join(where, " AND ")
	}

	opts := &FilterOptions{}
	if err := s.readDB.QueryRowContext(ctx, countQuery, args...).Scan(&opts.EventCount); err != nil {
		return nil, fmt.Errorf("counting filtered events: %w", err)
	}

	if country != "" {
		rows, err := s.readDB.QueryContext(ctx, `
			SELECT sport, COUNT(*) AS count
			FROM events
			WHERE LOWER(country) LIKE ? AND sport IS NOT NULL AND sport != ''
			GROUP BY sport
			ORDER BY count DESC, sport
		`, "%"+strings.ToLower(country)+"%")
		if err != nil {
			return nil, fmt.Errorf("querying filtered sports: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var c SportCount
			if err := rows.Scan(&c.Sport, &c.Count); err != nil {
				return nil, err
			}
			opts.Sports = append(opts.Sports, c)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	if sport != "" {
		rows, err := s.readDB.QueryContext(ctx, `
			SELECT country, COUNT(*) AS count
			FROM events
			WHERE LOWER(sport) LIKE ? AND country IS NOT NULL AND country != ''
			GROUP BY country
			ORDER BY count DESC, country
		`, "%"+strings.ToLower(sport)+"%")
		if err != nil {
			return nil, fmt.Errorf("querying filtered countries: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var c CountryCount
			if err := rows.Scan(&c.Country, &c.Count); err != nil {
				return nil, err
			}
			opts.Countries = append(opts.Countries, c)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	return opts, nil
}

// Count returns the total number of cached events.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

func fmtTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableInt(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
