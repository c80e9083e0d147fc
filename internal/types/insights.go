package types

// BehaviorPattern is a labelled classification of how someone uses the app.
type BehaviorPattern struct {
	Label       string `json:"label"`
	Confidence  int    `json:"confidence"`
	Description string `json:"description"`
}

// Milestone is the next engagement goal.
type Milestone struct {
	Label   string `json:"label"`
	Current int    `json:"current"`
	Target  int    `json:"target"`
}

type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// DerivedMetrics is a read-only view computed from an ActivityAggregate.
type DerivedMetrics struct {
	EngagementScore     int               `json:"engagement_score"`
	ProfileStrength     int               `json:"profile_strength"`
	CategoryPreferences map[string]int    `json:"category_preferences"`
	CityPreferences     map[string]int    `json:"city_preferences"`
	TimeOfDayAffinity   map[TimeOfDay]int `json:"time_of_day_affinity"`
	BehaviorPatterns    []BehaviorPattern `json:"behavior_patterns"`
	ConfidenceLevel     ConfidenceLevel   `json:"confidence_level"`
	NextMilestone       *Milestone        `json:"next_milestone,omitempty"`
}
