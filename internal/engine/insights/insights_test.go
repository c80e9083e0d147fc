package insights

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-citytailor/internal/types"
)

var now = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func aggregate(mut func(a *types.ActivityAggregate)) types.ActivityAggregate {
	a := types.NewActivityAggregate()
	mut(&a)
	return a
}

func TestEngagementScore(t *testing.T) {
	w := DefaultWeights()

	t.Run("empty aggregate", func(t *testing.T) {
		assert.Zero(t, EngagementScore(types.NewActivityAggregate(), now, w))
	})

	t.Run("clamped to 100", func(t *testing.T) {
		a := aggregate(func(a *types.ActivityAggregate) { a.TotalSearches = 50 })
		assert.Equal(t, 100, EngagementScore(a, now, w))
	})

	t.Run("recency bonus decays", func(t *testing.T) {
		a := aggregate(func(a *types.ActivityAggregate) {
			a.TotalViews = 1
			a.LastActivity = now.Add(-2 * time.Hour)
		})
		fresh := EngagementScore(a, now, w)
		week := EngagementScore(a, now.Add(3*24*time.Hour), w)
		stale := EngagementScore(a, now.Add(30*24*time.Hour), w)
		assert.Greater(t, fresh, week)
		assert.Greater(t, week, stale)
	})

	t.Run("time bonuses accumulate", func(t *testing.T) {
		short := aggregate(func(a *types.ActivityAggregate) { a.TotalTimeSeconds = 4 * 60 })
		long := aggregate(func(a *types.ActivityAggregate) { a.TotalTimeSeconds = 25 * 60 })
		assert.Less(t, EngagementScore(short, now, w), EngagementScore(long, now, w))
	})
}

func TestScoresAreMonotonicInPositiveSignals(t *testing.T) {
	w := DefaultWeights()
	a := types.NewActivityAggregate()
	a.TotalSearches = 1
	a.CityCounts["Paris"] = 1
	a.LastActivity = now.Add(-time.Hour)

	prevEngagement := EngagementScore(a, now, w)
	prevStrength := ProfileStrength(a, w)
	for i := 0; i < 30; i++ {
		if i%2 == 0 {
			a.TotalFavorites++
		} else {
			a.TotalItineraryAdds++
		}
		a.CityCounts["Rome"]++

		engagement := EngagementScore(a, now, w)
		strength := ProfileStrength(a, w)
		require.GreaterOrEqual(t, engagement, prevEngagement, "step %d", i)
		require.GreaterOrEqual(t, strength, prevStrength, "step %d", i)
		prevEngagement, prevStrength = engagement, strength
	}
	assert.LessOrEqual(t, prevEngagement, 100)
	assert.LessOrEqual(t, prevStrength, 100)
}

func TestProfileStrength_CapsEachComponent(t *testing.T) {
	a := aggregate(func(a *types.ActivityAggregate) {
		a.TotalSearches = 100
		a.TotalFavorites = 100
		for _, c := range []string{"A", "B", "C", "D", "E"} {
			a.CityCounts[c] = 1
			a.CategoryCounts[c] = 1
		}
	})
	assert.Equal(t, 100, ProfileStrength(a, DefaultWeights()))

	onlySearches := aggregate(func(a *types.ActivityAggregate) { a.TotalSearches = 100 })
	assert.Equal(t, 40, ProfileStrength(onlySearches, DefaultWeights()))
}

func TestPreferences(t *testing.T) {
	t.Run("single category is 100 percent", func(t *testing.T) {
		a := aggregate(func(a *types.ActivityAggregate) { a.CategoryCounts["Cultural"] = 3 })
		assert.Equal(t, map[string]int{"Cultural": 100}, CategoryPreferences(a))
	})

	t.Run("shares floor and never exceed 100", func(t *testing.T) {
		a := aggregate(func(a *types.ActivityAggregate) {
			a.CityCounts["Paris"] = 1
			a.CityCounts["Rome"] = 1
			a.CityCounts["Lisbon"] = 1
		})
		prefs := CityPreferences(a)
		assert.Equal(t, map[string]int{"Paris": 33, "Rome": 33, "Lisbon": 33}, prefs)
	})

	t.Run("zero denominator gives empty map", func(t *testing.T) {
		a := types.NewActivityAggregate()
		assert.Empty(t, CategoryPreferences(a))
		assert.Empty(t, CityPreferences(a))
		assert.Empty(t, TimeOfDayAffinity(a))
	})

	t.Run("time of day affinity", func(t *testing.T) {
		a := aggregate(func(a *types.ActivityAggregate) {
			a.TimeOfDaySeconds[types.Morning] = 300
			a.TimeOfDaySeconds[types.Night] = 100
		})
		assert.Equal(t, map[types.TimeOfDay]int{types.Morning: 75, types.Night: 25}, TimeOfDayAffinity(a))
	})
}

func TestBehaviorPatterns(t *testing.T) {
	t.Run("new user", func(t *testing.T) {
		patterns := BehaviorPatterns(types.NewActivityAggregate())
		require.Len(t, patterns, 1)
		assert.Equal(t, "New Explorer", patterns[0].Label)
		assert.Equal(t, 100, patterns[0].Confidence)
	})

	t.Run("primary from top category with capped confidence", func(t *testing.T) {
		a := aggregate(func(a *types.ActivityAggregate) {
			a.TotalSearches = 40
			a.CategoryCounts["Gastronomy"] = 30
			a.CategoryCounts["Cultural"] = 10
		})
		patterns := BehaviorPatterns(a)
		require.Len(t, patterns, 1)
		assert.Equal(t, "Food Explorer", patterns[0].Label)
		assert.Equal(t, 95, patterns[0].Confidence)
	})

	t.Run("secondary patterns at thresholds", func(t *testing.T) {
		a := aggregate(func(a *types.ActivityAggregate) {
			a.TotalItineraryAdds = 3
			a.TotalFavorites = 5
		})
		patterns := BehaviorPatterns(a)
		require.Len(t, patterns, 3)
		assert.Equal(t, "Curious Traveler", patterns[0].Label)
		assert.Equal(t, "Trip Planner", patterns[1].Label)
		assert.Equal(t, 70, patterns[1].Confidence)
		assert.Equal(t, "Curator", patterns[2].Label)
		assert.Equal(t, 80, patterns[2].Confidence)
	})
}

func TestNextMilestoneAndConfidence(t *testing.T) {
	empty := types.NewActivityAggregate()
	m := NextMilestone(empty)
	require.NotNil(t, m)
	assert.Equal(t, "First search", m.Label)
	assert.Equal(t, types.ConfidenceLow, Confidence(empty))

	a := aggregate(func(a *types.ActivityAggregate) {
		a.TotalSearches = 6
		a.CityCounts["Paris"] = 6
	})
	m = NextMilestone(a)
	require.NotNil(t, m)
	assert.Equal(t, "Three cities explored", m.Label)
	assert.Equal(t, 1, m.Current)
	assert.Equal(t, types.ConfidenceMedium, Confidence(a))

	done := aggregate(func(a *types.ActivityAggregate) {
		a.TotalSearches = 20
		a.TotalFavorites = 5
		a.TotalItineraryAdds = 3
		a.CityCounts["A"], a.CityCounts["B"], a.CityCounts["C"] = 1, 1, 1
	})
	assert.Nil(t, NextMilestone(done))
	assert.Equal(t, types.ConfidenceHigh, Confidence(done))
}

func TestDeriveIsDeterministic(t *testing.T) {
	a := aggregate(func(a *types.ActivityAggregate) {
		a.TotalSearches = 3
		a.CategoryCounts["Cultural"] = 3
		a.CityCounts["Paris"] = 3
		a.LastActivity = now
	})
	assert.Equal(t, Derive(a, now, DefaultWeights()), Derive(a, now, DefaultWeights()))
	assert.Equal(t, []string{"Cultural"}, TopCategories(a, 2))
}
