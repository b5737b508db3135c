// Package event provides the Smoothcomp event model shared across the
// scraper, store, renderer and API layers.
//
// Every event carries a stable source-assigned ID extracted from its page
// URL, so the same event keeps the same identity across refresh cycles.
package event
