package types

import "time"

// Wire types of the recommendation backend contract.

type TrackSearchRequest struct {
	City       string    `json:"city"`
	Activities []string  `json:"activities"`
	Time       string    `json:"time"`
	Identity   string    `json:"identity"`
	SessionID  string    `json:"sessionId"`
	Timestamp  time.Time `json:"timestamp"`
}

type TrackSearchResponse struct {
	ContextStored bool `json:"contextStored"`
}

type TrackInteractionRequest struct {
	ID        string            `json:"id,omitempty"`
	Type      EventType         `json:"type"`
	PlaceName string            `json:"placeName"`
	PlaceID   string            `json:"placeId,omitempty"`
	City      string            `json:"city"`
	Category  string            `json:"category,omitempty"`
	Lat       *float64          `json:"lat,omitempty"`
	Lon       *float64          `json:"lon,omitempty"`
	Identity  string            `json:"identity"`
	SessionID string            `json:"sessionId"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type HomeRecommendationsQuery struct {
	Identity         string
	SessionID        string
	UseSearchContext bool
	Limit            int
	// City and Activities are hints taken from a live search context.
	City       string
	Activities []string
}

type Recommendation struct {
	Name        string  `json:"name"`
	City        string  `json:"city,omitempty"`
	Category    string  `json:"category,omitempty"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

type RecommendationMetadata struct {
	Personalized      bool      `json:"personalized"`
	UsedSearchContext bool      `json:"usedSearchContext"`
	City              string    `json:"city,omitempty"`
	Categories        []string  `json:"categories,omitempty"`
	Source            string    `json:"source,omitempty"`
	GeneratedAt       time.Time `json:"generatedAt"`
}

type HomeRecommendationsResponse struct {
	MainRecommendations []Recommendation       `json:"mainRecommendations"`
	Metadata            RecommendationMetadata `json:"metadata"`
}

type MigrateRequest struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

type MigrateResponse struct {
	MigratedActivities int `json:"migratedActivities"`
}

// MigrationResult reports the local outcome of an identity migration.
type MigrationResult struct {
	Skipped             bool `json:"skipped"`
	RemoteMigrated      int  `json:"remote_migrated"`
	EventsImported      int  `json:"events_imported"`
	FavoritesMerged     int  `json:"favorites_merged"`
	ItineraryMerged     int  `json:"itinerary_merged"`
	BaselineTransferred bool `json:"baseline_transferred"`
}

// PreferencesRequest is the payload of POST /submit-preferences.
type PreferencesRequest struct {
	Activities []string `json:"activities"`
	Time       string   `json:"time"`
}

type PreferencesResponse struct {
	Recommendations []string `json:"recommendations"`
}
