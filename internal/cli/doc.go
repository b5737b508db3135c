// Package cli implements the command-line interface for smoothcal.
//
// The cli package provides the Cobra-based CLI with commands to run the HTTP
// server, refresh the event cache, generate static calendar files, and query
// cached events with text or JSON output. It wires together the scraper,
// store, refresh, calendar, and server packages.
package cli
