package types

import (
	"time"

	"github.com/google/uuid"
)

// Server-side records of the reference backend.

// StoredEvent is one tracked interaction as persisted by the backend. UserID
// is nil while the session is anonymous.
type StoredEvent struct {
	ID         uuid.UUID
	UserID     *string
	SessionID  string
	Type       EventType
	PlaceName  string
	PlaceID    string
	City       string
	Category   string
	Activities []string
	Time       string
	Lat        *float64
	Lon        *float64
	CreatedAt  time.Time
}

// StoredSearchContext is the backend copy of a session's last search.
type StoredSearchContext struct {
	SessionID  string
	Identity   string
	City       string
	Activities []string
	Time       string
	CreatedAt  time.Time
}

// PlaceQuery selects places ranked by weighted interaction count.
type PlaceQuery struct {
	City       string
	Categories []string
	Since      time.Time
	Limit      int
}

type TrendingResponse struct {
	City   string           `json:"city,omitempty"`
	Places []Recommendation `json:"places"`
}

// Preference is one /submit-preferences submission.
type Preference struct {
	ID         uuid.UUID
	Activities string
	Time       string
	CreatedAt  time.Time
}
