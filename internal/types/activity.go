package types

import (
	"strings"
	"time"
)

// EventType enumerates the tracked interactions.
type EventType string

const (
	EventSearch         EventType = "search"
	EventView           EventType = "view"
	EventFavorite       EventType = "favorite"
	EventAddToItinerary EventType = "add_to_itinerary"
)

func (t EventType) Valid() bool {
	switch t {
	case EventSearch, EventView, EventFavorite, EventAddToItinerary:
		return true
	}
	return false
}

// Metadata keys understood by the ledger.
const (
	MetaActivities = "activities"
	MetaTime       = "time"
)

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// InteractionEvent is an immutable record of one user interaction.
type InteractionEvent struct {
	ID              string            `json:"id"`
	Type            EventType         `json:"type"`
	PlaceName       string            `json:"place_name,omitempty"`
	PlaceID         string            `json:"place_id,omitempty"`
	City            string            `json:"city,omitempty"`
	Category        string            `json:"category,omitempty"`
	Coordinates     *Coordinates      `json:"coordinates,omitempty"`
	Identity        Identity          `json:"identity"`
	SessionID       string            `json:"session_id"`
	Timestamp       time.Time         `json:"timestamp"`
	DurationSeconds int64             `json:"duration_seconds,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Categories returns the distinct categories this event counts towards: its
// own Category plus, for searches, every selected activity filter.
func (e InteractionEvent) Categories() []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	add(e.Category)
	if e.Type == EventSearch {
		for _, a := range strings.Split(e.Metadata[MetaActivities], ",") {
			add(a)
		}
	}
	return out
}

// TimeOfDay buckets.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
	Night     TimeOfDay = "night"
)

// TimeOfDayOf classifies t: morning 05-11, afternoon 12-16, evening 17-20, night otherwise.
func TimeOfDayOf(t time.Time) TimeOfDay {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return Morning
	case h >= 12 && h < 17:
		return Afternoon
	case h >= 17 && h < 21:
		return Evening
	default:
		return Night
	}
}

// ActivityAggregate is the incrementally maintained summary of a ledger. It
// can always be rebuilt from the event log.
type ActivityAggregate struct {
	TotalSearches      int                 `json:"total_searches"`
	TotalViews         int                 `json:"total_views"`
	TotalFavorites     int                 `json:"total_favorites"`
	TotalItineraryAdds int                 `json:"total_itinerary_adds"`
	CityCounts         map[string]int      `json:"city_counts"`
	CategoryCounts     map[string]int      `json:"category_counts"`
	WeeklyActivity     [7]int              `json:"weekly_activity"`
	TimeOfDaySeconds   map[TimeOfDay]int64 `json:"time_of_day_seconds"`
	TotalTimeSeconds   int64               `json:"total_time_seconds"`
	LastActivity       time.Time           `json:"last_activity"`
	EventCount         int                 `json:"event_count"`
}

func NewActivityAggregate() ActivityAggregate {
	return ActivityAggregate{
		CityCounts:       make(map[string]int),
		CategoryCounts:   make(map[string]int),
		TimeOfDaySeconds: make(map[TimeOfDay]int64),
	}
}

// Normalize replaces nil maps, e.g. after decoding a stored aggregate.
func (a *ActivityAggregate) Normalize() {
	if a.CityCounts == nil {
		a.CityCounts = make(map[string]int)
	}
	if a.CategoryCounts == nil {
		a.CategoryCounts = make(map[string]int)
	}
	if a.TimeOfDaySeconds == nil {
		a.TimeOfDaySeconds = make(map[TimeOfDay]int64)
	}
}

func (a ActivityAggregate) Clone() ActivityAggregate {
	c := a
	c.CityCounts = make(map[string]int, len(a.CityCounts))
	for k, v := range a.CityCounts {
		c.CityCounts[k] = v
	}
	c.CategoryCounts = make(map[string]int, len(a.CategoryCounts))
	for k, v := range a.CategoryCounts {
		c.CategoryCounts[k] = v
	}
	c.TimeOfDaySeconds = make(map[TimeOfDay]int64, len(a.TimeOfDaySeconds))
	for k, v := range a.TimeOfDaySeconds {
		c.TimeOfDaySeconds[k] = v
	}
	return c
}

// TotalEvents counts every recorded interaction.
func (a ActivityAggregate) TotalEvents() int {
	return a.TotalSearches + a.TotalViews + a.TotalFavorites + a.TotalItineraryAdds
}
