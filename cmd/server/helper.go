package main

import (
	"github.com/barton333/Investment-Assistant/internal/model"
)

// filterByID returns the assets whose ids appear in the keep list, in the
// collection's original order.
func filterByID(assets []model.Asset, keep []string) []model.Asset {
	wanted := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		wanted[id] = struct{}{}
	}

	out := make([]model.Asset, 0, len(keep))
	for _, a := range assets {
		if _, ok := wanted[a.ID]; ok {
			out = append(out, a)
		}
	}
	return out
}

// mergeByID overlays the refreshed assets onto the full collection. Assets
// outside the refresh target set keep their prior state; order follows the
// full collection.
func mergeByID(full, updated []model.Asset) []model.Asset {
	byID := make(map[string]model.Asset, len(updated))
	for _, a := range updated {
		byID[a.ID] = a
	}

	out := make([]model.Asset, 0, len(full))
	for _, a := range full {
		if fresh, ok := byID[a.ID]; ok {
			out = append(out, fresh)
		} else {
			out = append(out, a)
		}
	}
	return out
}
