package types

import "time"

// SearchContextTTL is how long a submitted search keeps biasing recommendations.
const SearchContextTTL = 10 * time.Minute

// SearchContext is the most recent search of a session.
type SearchContext struct {
	City            string    `json:"city"`
	ActivityFilters []string  `json:"activity_filters"`
	DurationBucket  string    `json:"duration_bucket"`
	CreatedAt       time.Time `json:"created_at"`
}

// ValidAt reports whether the context is still live at now for the given ttl.
func (s SearchContext) ValidAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) < ttl
}
