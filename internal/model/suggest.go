package model

import (
	"strings"

	"github.com/arbovm/levenshtein"
)

// SuggestLayer returns the layer name closest to name by edit distance,
// or "" when nothing is within half the requested name's length
func SuggestLayer(layers []LayerInfo, name string) string {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return ""
	}
	best, bestDist := "", len(want)/2+1
	for _, candidate := range LayerNames(layers) {
		d := levenshtein.Distance(want, strings.ToLower(candidate))
		if d < bestDist {
			best, bestDist = candidate, d
		}
	}
	return best
}
