package itinerary

import (
	"errors"
	"fmt"

	"github.com/FACorreiaa/go-citytailor/internal/store"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

// Merge returns base followed by the items of incoming whose name is not
// already present. Names compare exactly; base order is kept and duplicates
// inside incoming collapse to their first occurrence.
func Merge(base, incoming []types.ItineraryItem) []types.ItineraryItem {
	out := make([]types.ItineraryItem, 0, len(base)+len(incoming))
	seen := make(map[string]struct{}, len(base)+len(incoming))
	for _, list := range [][]types.ItineraryItem{base, incoming} {
		for _, item := range list {
			if _, ok := seen[item.Name]; ok {
				continue
			}
			seen[item.Name] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

// load reads the list at key; a missing key is an empty list.
func load(s store.Store, key string) ([]types.ItineraryItem, error) {
	var items []types.ItineraryItem
	err := store.GetJSON(s, key, &items)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	return items, err
}

// MergeKey unions the list stored at from into the list at to and reports
// how many items were added. from is left untouched.
func MergeKey(s store.Store, from, to string) (int, error) {
	src, err := load(s, from)
	if err != nil {
		return 0, fmt.Errorf("failed to read %q: %w", from, err)
	}
	if len(src) == 0 {
		return 0, nil
	}
	dst, err := load(s, to)
	if err != nil {
		return 0, fmt.Errorf("failed to read %q: %w", to, err)
	}
	merged := Merge(dst, src)
	if len(merged) == len(dst) {
		return 0, nil
	}
	if err := store.SetJSON(s, to, merged); err != nil {
		return 0, fmt.Errorf("failed to write %q: %w", to, err)
	}
	return len(merged) - len(dst), nil
}
