// Package insights derives engagement metrics from an activity aggregate.
// Every function is pure: the same aggregate and reference time always give
// the same result.
package insights

import (
	"sort"
	"time"

	"github.com/FACorreiaa/go-citytailor/internal/types"
)

// Weights are the heuristic constants of the engagement and profile scores.
type Weights struct {
	Search           int
	View             int
	Favorite         int
	ItineraryAdd     int
	DistinctCity     int
	DistinctCategory int
	TimeBonuses      []TimeBonus
	RecentDay        int
	RecentWeek       int
	ProfileSearch    Capped
	ProfileCity      Capped
	ProfileCategory  Capped
	ProfileFavorite  Capped
}

// TimeBonus is awarded once cumulative engagement reaches After.
type TimeBonus struct {
	After time.Duration
	Bonus int
}

// Capped is a per-unit weight with a ceiling on its total contribution.
type Capped struct {
	Per int
	Max int
}

func DefaultWeights() Weights {
	return Weights{
		Search:           10,
		View:             2,
		Favorite:         15,
		ItineraryAdd:     12,
		DistinctCity:     5,
		DistinctCategory: 3,
		TimeBonuses: []TimeBonus{
			{After: 5 * time.Minute, Bonus: 5},
			{After: 10 * time.Minute, Bonus: 10},
			{After: 20 * time.Minute, Bonus: 15},
		},
		RecentDay:       10,
		RecentWeek:      5,
		ProfileSearch:   Capped{Per: 5, Max: 40},
		ProfileCity:     Capped{Per: 10, Max: 30},
		ProfileCategory: Capped{Per: 5, Max: 20},
		ProfileFavorite: Capped{Per: 2, Max: 10},
	}
}

// EngagementScore is a weighted activity sum clamped to [0,100].
func EngagementScore(agg types.ActivityAggregate, now time.Time, w Weights) int {
	score := agg.TotalSearches*w.Search +
		agg.TotalViews*w.View +
		agg.TotalFavorites*w.Favorite +
		agg.TotalItineraryAdds*w.ItineraryAdd +
		nonZero(agg.CityCounts)*w.DistinctCity +
		nonZero(agg.CategoryCounts)*w.DistinctCategory

	engaged := time.Duration(agg.TotalTimeSeconds) * time.Second
	for _, b := range w.TimeBonuses {
		if engaged >= b.After {
			score += b.Bonus
		}
	}

	if !agg.LastActivity.IsZero() {
		switch since := now.Sub(agg.LastActivity); {
		case since <= 24*time.Hour:
			score += w.RecentDay
		case since <= 7*24*time.Hour:
			score += w.RecentWeek
		}
	}
	return clamp(score)
}

// ProfileStrength measures how much the profile knows, per-component capped.
func ProfileStrength(agg types.ActivityAggregate, w Weights) int {
	return clamp(
		w.ProfileSearch.of(agg.TotalSearches) +
			w.ProfileCity.of(nonZero(agg.CityCounts)) +
			w.ProfileCategory.of(nonZero(agg.CategoryCounts)) +
			w.ProfileFavorite.of(agg.TotalFavorites),
	)
}

func (c Capped) of(n int) int {
	return min(n*c.Per, c.Max)
}

// CategoryPreferences converts category counts to whole percentages.
func CategoryPreferences(agg types.ActivityAggregate) map[string]int {
	return percentages(agg.CategoryCounts)
}

// CityPreferences converts city counts to whole percentages.
func CityPreferences(agg types.ActivityAggregate) map[string]int {
	return percentages(agg.CityCounts)
}

// TimeOfDayAffinity is the share of engaged time spent in each bucket.
func TimeOfDayAffinity(agg types.ActivityAggregate) map[types.TimeOfDay]int {
	return percentages(agg.TimeOfDaySeconds)
}

// percentages floors each share, so the values sum to at most 100.
func percentages[K comparable, V int | int64](counts map[K]V) map[K]int {
	out := make(map[K]int)
	var total V
	for _, v := range counts {
		if v > 0 {
			total += v
		}
	}
	if total == 0 {
		return out
	}
	for k, v := range counts {
		if v > 0 {
			out[k] = int(v * 100 / total)
		}
	}
	return out
}

var primaryPatterns = map[string]types.BehaviorPattern{
	"Cultural":   {Label: "Culture Enthusiast", Description: "Drawn to museums, history and the arts"},
	"Gastronomy": {Label: "Food Explorer", Description: "Plans trips around local food"},
	"Outdoor":    {Label: "Adventure Seeker", Description: "Prefers parks, hikes and open air"},
	"Relaxation": {Label: "Wellness Traveler", Description: "Looks for calm, spas and gardens"},
}

// BehaviorPatterns classifies usage with fixed rules.
func BehaviorPatterns(agg types.ActivityAggregate) []types.BehaviorPattern {
	total := agg.TotalEvents()
	if total == 0 {
		return []types.BehaviorPattern{{
			Label:       "New Explorer",
			Confidence:  100,
			Description: "No activity recorded yet",
		}}
	}

	ranked := rankCategories(agg.CategoryCounts)
	primary := types.BehaviorPattern{Label: "Curious Traveler", Description: "Explores a bit of everything"}
	if len(ranked) > 0 {
		if p, ok := primaryPatterns[ranked[0]]; ok {
			primary = p
		}
	}
	primary.Confidence = min(50+total*5, 95)
	patterns := []types.BehaviorPattern{primary}

	if agg.TotalItineraryAdds >= 3 {
		patterns = append(patterns, types.BehaviorPattern{
			Label:       "Trip Planner",
			Confidence:  min(40+agg.TotalItineraryAdds*10, 90),
			Description: "Builds itineraries ahead of travelling",
		})
	}
	if agg.TotalFavorites >= 5 {
		patterns = append(patterns, types.BehaviorPattern{
			Label:       "Curator",
			Confidence:  min(40+agg.TotalFavorites*8, 90),
			Description: "Collects favourite places",
		})
	}
	return patterns
}

// rankCategories orders categories by count, ties broken by name.
func rankCategories(counts map[string]int) []string {
	var names []string
	for k, v := range counts {
		if v > 0 {
			names = append(names, k)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

// TopCategories returns at most n categories by usage.
func TopCategories(agg types.ActivityAggregate, n int) []string {
	ranked := rankCategories(agg.CategoryCounts)
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func Confidence(agg types.ActivityAggregate) types.ConfidenceLevel {
	switch total := agg.TotalEvents(); {
	case total < 5:
		return types.ConfidenceLow
	case total < 20:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceHigh
	}
}

// NextMilestone returns the first goal not reached yet, or nil.
func NextMilestone(agg types.ActivityAggregate) *types.Milestone {
	goals := []types.Milestone{
		{Label: "First search", Current: agg.TotalSearches, Target: 1},
		{Label: "Five searches", Current: agg.TotalSearches, Target: 5},
		{Label: "Three cities explored", Current: nonZero(agg.CityCounts), Target: 3},
		{Label: "Five favorites", Current: agg.TotalFavorites, Target: 5},
		{Label: "Three itinerary stops", Current: agg.TotalItineraryAdds, Target: 3},
		{Label: "Twenty searches", Current: agg.TotalSearches, Target: 20},
	}
	for _, g := range goals {
		if g.Current < g.Target {
			return &g
		}
	}
	return nil
}

// Derive bundles every metric.
func Derive(agg types.ActivityAggregate, now time.Time, w Weights) types.DerivedMetrics {
	return types.DerivedMetrics{
		EngagementScore:     EngagementScore(agg, now, w),
		ProfileStrength:     ProfileStrength(agg, w),
		CategoryPreferences: CategoryPreferences(agg),
		CityPreferences:     CityPreferences(agg),
		TimeOfDayAffinity:   TimeOfDayAffinity(agg),
		BehaviorPatterns:    BehaviorPatterns(agg),
		ConfidenceLevel:     Confidence(agg),
		NextMilestone:       NextMilestone(agg),
	}
}

func nonZero[K comparable](m map[K]int) int {
	n := 0
	for _, v := range m {
		if v > 0 {
			n++
		}
	}
	return n
}

func clamp(v int) int {
	return max(0, min(v, 100))
}
