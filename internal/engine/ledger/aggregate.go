package ledger

import (
	"fmt"

	"github.com/FACorreiaa/go-citytailor/internal/types"
)

// apply folds one event into agg in O(1) (amortized over the event's categories).
func apply(agg *types.ActivityAggregate, e types.InteractionEvent) {
	agg.Normalize()
	switch e.Type {
	case types.EventSearch:
		agg.TotalSearches++
	case types.EventView:
		agg.TotalViews++
	case types.EventFavorite:
		agg.TotalFavorites++
	case types.EventAddToItinerary:
		agg.TotalItineraryAdds++
	}
	if e.City != "" {
		agg.CityCounts[e.City]++
	}
	for _, c := range e.Categories() {
		agg.CategoryCounts[c]++
	}
	agg.WeeklyActivity[int(e.Timestamp.Weekday())]++

	if d := e.DurationSeconds; d > 0 {
		agg.TotalTimeSeconds += d
		agg.TimeOfDaySeconds[types.TimeOfDayOf(e.Timestamp)] += d
	}
	if e.Timestamp.After(agg.LastActivity) {
		agg.LastActivity = e.Timestamp
	}
	agg.EventCount++
}

// add merges src into dst.
func add(dst *types.ActivityAggregate, src types.ActivityAggregate) {
	dst.Normalize()
	dst.TotalSearches += src.TotalSearches
	dst.TotalViews += src.TotalViews
	dst.TotalFavorites += src.TotalFavorites
	dst.TotalItineraryAdds += src.TotalItineraryAdds
	for k, v := range src.CityCounts {
		dst.CityCounts[k] += v
	}
	for k, v := range src.CategoryCounts {
		dst.CategoryCounts[k] += v
	}
	for i := range dst.WeeklyActivity {
		dst.WeeklyActivity[i] += src.WeeklyActivity[i]
	}
	for k, v := range src.TimeOfDaySeconds {
		dst.TimeOfDaySeconds[k] += v
	}
	dst.TotalTimeSeconds += src.TotalTimeSeconds
	if src.LastActivity.After(dst.LastActivity) {
		dst.LastActivity = src.LastActivity
	}
	dst.EventCount += src.EventCount
}

// Equal compares two aggregates, treating missing map keys as zero.
func Equal(a, b types.ActivityAggregate) bool {
	if a.TotalSearches != b.TotalSearches ||
		a.TotalViews != b.TotalViews ||
		a.TotalFavorites != b.TotalFavorites ||
		a.TotalItineraryAdds != b.TotalItineraryAdds ||
		a.WeeklyActivity != b.WeeklyActivity ||
		a.TotalTimeSeconds != b.TotalTimeSeconds ||
		a.EventCount != b.EventCount ||
		!a.LastActivity.Equal(b.LastActivity) {
		return false
	}
	return sameCounts(a.CityCounts, b.CityCounts) &&
		sameCounts(a.CategoryCounts, b.CategoryCounts) &&
		sameCounts(a.TimeOfDaySeconds, b.TimeOfDaySeconds)
}

func sameCounts[K comparable, V int | int64](a, b map[K]V) bool {
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	for k, v := range b {
		if a[k] != v {
			return false
		}
	}
	return true
}

// validate reports negative counters, which can only come from a bug or a
// corrupted store.
func validate(agg types.ActivityAggregate) error {
	if agg.TotalSearches < 0 || agg.TotalViews < 0 || agg.TotalFavorites < 0 ||
		agg.TotalItineraryAdds < 0 || agg.TotalTimeSeconds < 0 || agg.EventCount < 0 {
		return fmt.Errorf("%w: negative aggregate counter", types.ErrInvariantViolation)
	}
	for k, v := range agg.CityCounts {
		if v < 0 {
			return fmt.Errorf("%w: negative count for city %q", types.ErrInvariantViolation, k)
		}
	}
	for k, v := range agg.CategoryCounts {
		if v < 0 {
			return fmt.Errorf("%w: negative count for category %q", types.ErrInvariantViolation, k)
		}
	}
	for _, v := range agg.WeeklyActivity {
		if v < 0 {
			return fmt.Errorf("%w: negative weekly activity", types.ErrInvariantViolation)
		}
	}
	return nil
}
