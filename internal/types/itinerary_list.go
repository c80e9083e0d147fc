package types

import "time"

// ItineraryItem is a place saved to an itinerary or to favorites. Items are
// deduplicated by exact Name, never by ID: different sources mint different
// synthetic ids for the same place.
type ItineraryItem struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
	Rating        *float64 `json:"rating,omitempty"`
	DurationLabel string   `json:"duration_label,omitempty"`
	PictureURL    string   `json:"picture_url,omitempty"`
	City          string   `json:"city"`
}

// RemoteItinerary is an itinerary stored on the account tier.
type RemoteItinerary struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner,omitempty"`
	Name      string    `json:"name"`
	City      string    `json:"city"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateItineraryRequest struct {
	Name string `json:"name"`
	City string `json:"city"`
}
