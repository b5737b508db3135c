// Package scraper provides HTTP fetching and content extraction for
// Smoothcomp events.
//
// The scraper fetches the public upcoming-events page and individual event
// pages from smoothcomp.com. Both page kinds embed schema.org JSON-LD
// (an ItemList of event URLs on the listing page, a SportsEvent on detail
// pages), which is the preferred extraction path; detail pages without
// structured data degrade to a minimal record built from the page title.
package scraper
