// Package server exposes the cached events over HTTP: JSON query endpoints,
// the iCalendar feed, and cache status. Reads never block on an in-progress
// refresh; stale caches trigger a background refresh transparently.
package server

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"smoothcal/internal/calendar"
	"smoothcal/internal/config"
	"smoothcal/internal/event"
	"smoothcal/internal/logger"
	"smoothcal/internal/refresh"
	"smoothcal/internal/store"
)

//go:embed index.html
var indexHTML []byte

// Server provides the HTTP API over the event cache.
type Server struct {
	cfg   *config.Config
	store *store.Store
	orch  *refresh.Orchestrator
	mux   *http.ServeMux
}

// New constructs a Server wired to the given cache and orchestrator.
func New(cfg *config.Config, st *store.Store, orch *refresh.Orchestrator) *Server {
	s := &Server{
		cfg:   cfg,
		store: st,
		orch:  orch,
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("GET /countries", s.handleCountries)
	s.mux.HandleFunc("GET /sports", s.handleSports)
	s.mux.HandleFunc("GET /filter-options", s.handleFilterOptions)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML) //nolint:errcheck
}

// queryFromRequest extracts the shared country/sport/limit filters.
func queryFromRequest(r *http.Request) store.Query {
	q := store.Query{
		Country: r.URL.Query().Get("country"),
		Sport:   r.URL.Query().Get("sport"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			q.Limit = n
		}
	}
	return q
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	s.orch.MaybeRefresh(r.Context())

	q := queryFromRequest(r)
	events, err := s.store.Events(r.Context(), q)
	if err != nil {
		s.serverError(w, "querying events", err)
		return
	}

	data := calendar.Generate(events, calendar.FeedName(q.Country, q.Sport), s.cfg.FeedTTLMinutes)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename=smoothcomp.ics`)
	w.Write(data) //nolint:errcheck
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.orch.MaybeRefresh(r.Context())

	q := queryFromRequest(r)
	events, err := s.store.Events(r.Context(), q)
	if err != nil {
		s.serverError(w, "querying events", err)
		return
	}
	if events == nil {
		events = []event.Event{}
	}

	writeJSON(w, map[string]interface{}{
		"count": len(events),
		"filters": map[string]string{
			"country": q.Country,
			"sport":   q.Sport,
		},
		"events": events,
	})
}

func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := s.store.Countries(r.Context())
	if err != nil {
		s.serverError(w, "querying countries", err)
		return
	}
	if countries == nil {
		countries = []store.CountryCount{}
	}
	writeJSON(w, map[string]interface{}{
		"total":     len(countries),
		"countries": countries,
	})
}

func (s *Server) handleSports(w http.ResponseWriter, r *http.Request) {
	sports, err := s.store.Sports(r.Context())
	if err != nil {
		s.serverError(w, "querying sports", err)
		return
	}
	if sports == nil {
		sports = []store.SportCount{}
	}
	writeJSON(w, map[string]interface{}{
		"total":  len(sports),
		"sports": sports,
	})
}

func (s *Server) handleFilterOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := s.store.FilterOptions(r.Context(),
		r.URL.Query().Get("country"), r.URL.Query().Get("sport"))
	if err != nil {
		s.serverError(w, "querying filter options", err)
		return
	}
	writeJSON(w, opts)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context())
	if err != nil {
		s.serverError(w, "counting events", err)
		return
	}

	last, ok, err := s.store.LastUpdate(r.Context())
	if err != nil {
		s.serverError(w, "reading last update", err)
		return
	}

	status := map[string]interface{}{
		"healthy":                        true,
		"event_count":                    count,
		"last_update":                    nil,
		"cache_age_minutes":              nil,
		"auto_refresh_threshold_minutes": int(s.cfg.TTL().Minutes()),
		"scraping_in_progress":           s.orch.InProgress(),
	}
	if ok {
		status["last_update"] = last.Format(time.RFC3339)
		status["cache_age_minutes"] = int(time.Since(last).Minutes())
	}

	writeJSON(w, status)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, logger.GetMetricsSnapshot())
}

func (s *Server) serverError(w http.ResponseWriter, msg string, err error) {
	logger.Error("Request failed", logger.Fields{"during": msg}, err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Error("Encoding response failed", nil, err)
	}
}
