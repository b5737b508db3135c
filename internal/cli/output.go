package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"smoothcal/internal/event"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// OutputResult contains data to be output
type OutputResult struct {
	Country string        `json:"country,omitempty"`
	Sport   string        `json:"sport,omitempty"`
	Count   int           `json:"count"`
	Events  []event.Event `json:"events"`
}

// WriteOutput writes the result in the specified format
func WriteOutput(w io.Writer, result *OutputResult, format OutputFormat, verbose bool) error {
	switch format {
	case FormatJSON:
		return writeResultJSON(w, result)
	case FormatText:
		return writeResultText(w, result, verbose)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func writeResultJSON(w io.Writer, result *OutputResult) error {
	if result.Events == nil {
		result.Events = []event.Event{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// writeResultText outputs results as human-readable text
func writeResultText(w io.Writer, result *OutputResult, verbose bool) error {
	if result.Count == 0 {
		fmt.Fprintln(w, "No events found.")
		return nil
	}

	for _, evt := range result.Events {
		fmt.Fprintf(w, "%s  %s", formatDate(evt.StartDate), evt.Name)
		if loc := evt.LocationText(); loc != "" {
			fmt.Fprintf(w, " (%s)", loc)
		}
		fmt.Fprintln(w)
		if verbose {
			fmt.Fprintf(w, "            ID: %s\n", evt.ID)
			fmt.Fprintf(w, "            URL: %s\n", evt.URL)
			if evt.Sport != "" {
				fmt.Fprintf(w, "            Sport: %s\n", evt.Sport)
			}
			if evt.Participants > 0 {
				fmt.Fprintf(w, "            Participants: %d\n", evt.Participants)
			}
		}
	}

	fmt.Fprintf(w, "\nTotal: %d events\n", result.Count)
	return nil
}

// formatDate renders a start date in a fixed-width column, with a
// placeholder for events that have no date yet.
func formatDate(t *time.Time) string {
	if t == nil {
		return "----------"
	}
	return t.Format("2006-01-02")
}
