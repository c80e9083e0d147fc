package recommendations

import "strings"

// NoMatch is returned alone when no catalog entry survives filtering.
const NoMatch = "No matching recommendations found. Try selecting more preferences."

// ShortVisit is the time bucket that keeps only tours and museum visits.
const ShortVisit = "<2h"

var catalog = map[string][]string{
	"Cultural":   {"Visit the local art museum", "Attend a history tour"},
	"Outdoor":    {"Explore a nature park", "Go hiking in nearby hills"},
	"Relaxation": {"Try a spa experience", "Relax in a botanical garden"},
	"Gastronomy": {"Take a food tour", "Join a local cooking class"},
}

// FromCatalog returns the canned suggestions for the selected activities in
// selection order. Unknown activities are ignored and duplicates repeat.
func FromCatalog(activities []string, timeBucket string) []string {
	var out []string
	for _, a := range activities {
		out = append(out, catalog[a]...)
	}
	if timeBucket == ShortVisit {
		kept := out[:0]
		for _, rec := range out {
			if strings.Contains(rec, "tour") || strings.Contains(rec, "museum") {
				kept = append(kept, rec)
			}
		}
		out = kept
	}
	if len(out) == 0 {
		return []string{NoMatch}
	}
	return out
}
